// Command inspect prints the layout of recorded container files and can plot
// the drill force feedback they hold.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/banshee-data/simrecord/internal/container"
)

var (
	plotFile = flag.String("plot", "", "Write a PNG of force feedback magnitude over time to this path")
	showAttr = flag.Bool("attrs", true, "Print file and dataset attributes")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file.sqlite...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	for _, path := range flag.Args() {
		if err := describe(os.Stdout, path, *showAttr); err != nil {
			log.Fatalf("failed to inspect %s: %v", path, err)
		}
	}

	if *plotFile != "" {
		n, err := plotForceFeedback(flag.Args(), *plotFile)
		if err != nil {
			log.Fatalf("failed to plot force feedback: %v", err)
		}
		log.Printf("plotted %d force samples to %s", n, *plotFile)
	}
}

// describe prints every group and dataset in the file at path.
func describe(w io.Writer, path string, attrs bool) error {
	f, err := container.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	version, err := f.SchemaVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s (schema v%d)\n", path, version)

	if attrs {
		fileAttrs, err := f.Attributes("", "")
		if err != nil {
			return err
		}
		printAttrs(w, "  ", fileAttrs)
	}

	groups, err := f.Groups()
	if err != nil {
		return err
	}
	for _, g := range groups {
		fmt.Fprintf(w, "  %s/\n", g)
		datasets, err := f.Datasets(g)
		if err != nil {
			return err
		}
		for _, d := range datasets {
			fmt.Fprintf(w, "    %-28s %-8s %-16s %-4s %10d -> %d bytes\n",
				d.Name, d.DType, formatShape(d.Shape), d.Codec, d.RawBytes, d.StoredBytes)
			if !attrs {
				continue
			}
			dsAttrs, err := f.Attributes(g, d.Name)
			if err != nil {
				return err
			}
			printAttrs(w, "      ", dsAttrs)
		}
	}
	return nil
}

func printAttrs(w io.Writer, indent string, attrs map[string]string) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s@%s = %s\n", indent, k, attrs[k])
	}
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
