package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType names the element type of an Array.
type DType string

const (
	Uint8   DType = "uint8"
	Int64   DType = "int64"
	Float16 DType = "float16"
	Float32 DType = "float32"
	Float64 DType = "float64"
	String  DType = "string"
)

// ErrShapeMismatch is returned when an array's data does not fit its shape,
// or when arrays of different shapes are stacked.
var ErrShapeMismatch = errors.New("array shape mismatch")

// Size returns the number of bytes per element, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Uint8, String:
		return 1
	case Float16:
		return 2
	case Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

// Array is an n-dimensional array stored as little-endian bytes in row-major
// order. A String array holds UTF-8 bytes and has an empty shape.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// Elements returns the number of elements implied by the shape.
func (a Array) Elements() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Len returns the size of the leading dimension, or 1 for a scalar.
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return 1
	}
	return a.Shape[0]
}

// Validate checks that the dtype is known and the data length matches the shape.
func (a Array) Validate() error {
	size := a.DType.Size()
	if size == 0 {
		return fmt.Errorf("unknown dtype %q", a.DType)
	}
	if a.DType == String {
		if len(a.Shape) != 0 {
			return fmt.Errorf("%w: string arrays must be scalar, got shape %v", ErrShapeMismatch, a.Shape)
		}
		return nil
	}
	for _, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension in %v", ErrShapeMismatch, a.Shape)
		}
	}
	if want := a.Elements() * size; len(a.Data) != want {
		return fmt.Errorf("%w: shape %v %s needs %d bytes, have %d", ErrShapeMismatch, a.Shape, a.DType, want, len(a.Data))
	}
	return nil
}

// shapeOr returns shape when given, otherwise a one-dimensional shape of n.
func shapeOr(shape []int, n int) []int {
	if len(shape) == 0 {
		return []int{n}
	}
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}

// FromFloat64 builds a float64 array. With no shape the array is 1-D.
func FromFloat64(v []float64, shape ...int) Array {
	data := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(x))
	}
	return Array{DType: Float64, Shape: shapeOr(shape, len(v)), Data: data}
}

// FromFloat32 builds a float32 array. With no shape the array is 1-D.
func FromFloat32(v []float32, shape ...int) Array {
	data := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(x))
	}
	return Array{DType: Float32, Shape: shapeOr(shape, len(v)), Data: data}
}

// FromFloat16 halves the precision of v and builds a float16 array.
func FromFloat16(v []float32, shape ...int) Array {
	data := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(data[2*i:], float16.Fromfloat32(x).Bits())
	}
	return Array{DType: Float16, Shape: shapeOr(shape, len(v)), Data: data}
}

// FromInt64 builds an int64 array. With no shape the array is 1-D.
func FromInt64(v []int64, shape ...int) Array {
	data := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(x))
	}
	return Array{DType: Int64, Shape: shapeOr(shape, len(v)), Data: data}
}

// FromUint8 builds a uint8 array. The slice is copied.
func FromUint8(v []uint8, shape ...int) Array {
	data := make([]byte, len(v))
	copy(data, v)
	return Array{DType: Uint8, Shape: shapeOr(shape, len(v)), Data: data}
}

// Scalar builds a zero-dimensional float64 array.
func Scalar(v float64) Array {
	a := FromFloat64([]float64{v})
	a.Shape = []int{}
	return a
}

// Text builds a string array.
func Text(s string) Array {
	return Array{DType: String, Shape: []int{}, Data: []byte(s)}
}

// Stack joins same-shaped arrays along a new leading axis.
func Stack(items []Array) (Array, error) {
	if len(items) == 0 {
		return Array{}, errors.New("stack: no arrays")
	}
	first := items[0]
	if first.DType == String {
		return Array{}, errors.New("stack: string arrays cannot be stacked")
	}
	size := 0
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return Array{}, fmt.Errorf("stack: item %d: %w", i, err)
		}
		if it.DType != first.DType || !sameShape(it.Shape, first.Shape) {
			return Array{}, fmt.Errorf("%w: item %d is %s%v, want %s%v",
				ErrShapeMismatch, i, it.DType, it.Shape, first.DType, first.Shape)
		}
		size += len(it.Data)
	}

	data := make([]byte, 0, size)
	for _, it := range items {
		data = append(data, it.Data...)
	}
	shape := append([]int{len(items)}, first.Shape...)
	return Array{DType: first.DType, Shape: shape, Data: data}, nil
}

// Concat joins arrays along their existing leading axis. Trailing dimensions
// must agree.
func Concat(items []Array) (Array, error) {
	if len(items) == 0 {
		return Array{}, errors.New("concat: no arrays")
	}
	first := items[0]
	if len(first.Shape) == 0 {
		return Array{}, errors.New("concat: scalar arrays have no leading axis")
	}
	rows := 0
	size := 0
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return Array{}, fmt.Errorf("concat: item %d: %w", i, err)
		}
		if it.DType != first.DType || len(it.Shape) == 0 || !sameShape(it.Shape[1:], first.Shape[1:]) {
			return Array{}, fmt.Errorf("%w: item %d is %s%v, want %s[*%v]",
				ErrShapeMismatch, i, it.DType, it.Shape, first.DType, first.Shape[1:])
		}
		rows += it.Shape[0]
		size += len(it.Data)
	}

	data := make([]byte, 0, size)
	for _, it := range items {
		data = append(data, it.Data...)
	}
	shape := append([]int{rows}, first.Shape[1:]...)
	return Array{DType: first.DType, Shape: shape, Data: data}, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Float64s decodes any numeric array into float64 values.
func (a Array) Float64s() ([]float64, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	n := a.Elements()
	out := make([]float64, n)
	switch a.DType {
	case Float64:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.Data[8*i:]))
		}
	case Float32:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(a.Data[4*i:])))
		}
	case Float16:
		for i := range out {
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(a.Data[2*i:])).Float32())
		}
	case Int64:
		for i := range out {
			out[i] = float64(int64(binary.LittleEndian.Uint64(a.Data[8*i:])))
		}
	case Uint8:
		for i := range out {
			out[i] = float64(a.Data[i])
		}
	default:
		return nil, fmt.Errorf("cannot decode %s as numbers", a.DType)
	}
	return out, nil
}

// Text returns the contents of a String array.
func (a Array) Text() (string, error) {
	if a.DType != String {
		return "", fmt.Errorf("array is %s, not string", a.DType)
	}
	return string(a.Data), nil
}
