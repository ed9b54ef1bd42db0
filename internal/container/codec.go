package container

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Compression selects how dataset blobs are encoded on disk.
type Compression string

const (
	CompressionLZ4  Compression = "lz4"
	CompressionNone Compression = "none"
)

// Stored codec names. A blob that lz4 cannot shrink is stored raw.
const (
	codecLZ4 = "lz4"
	codecRaw = "raw"
)

// ParseCompression validates a compression name.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case CompressionLZ4, CompressionNone:
		return Compression(s), nil
	case "":
		return CompressionLZ4, nil
	}
	return "", fmt.Errorf("unknown compression %q (want lz4 or none)", s)
}

// encodeBlob compresses data according to c and reports the codec used.
func encodeBlob(data []byte, c Compression) (string, []byte, error) {
	if c != CompressionLZ4 || len(data) == 0 {
		return codecRaw, data, nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return "", nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return codecRaw, data, nil
	}
	return codecLZ4, compressed[:written], nil
}

// decodeBlob reverses encodeBlob. rawSize is the uncompressed length.
func decodeBlob(codec string, blob []byte, rawSize int) ([]byte, error) {
	switch codec {
	case codecRaw:
		if len(blob) != rawSize {
			return nil, fmt.Errorf("raw blob is %d bytes, want %d", len(blob), rawSize)
		}
		return blob, nil
	case codecLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(blob, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 uncompress: %w", err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("lz4 blob decoded to %d bytes, want %d", n, rawSize)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown codec %q", codec)
}
