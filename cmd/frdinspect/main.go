// Command frdinspect prints the header of FRD v2 raw files and checks that it
// agrees with the records in the file.
//
//	frdinspect [-records] <file>...
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/unijord/l1scouting/pkg/frd"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("frdinspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	records := fs.Bool("records", false, "list every orbit record")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: frdinspect [-records] <file>...")
		return 1
	}

	status := 0
	for _, path := range fs.Args() {
		if err := inspect(path, *records, stdout); err != nil {
			fmt.Fprintf(stderr, "frdinspect: %s: %v\n", path, err)
			status = 1
		}
	}
	return status
}

func inspect(path string, records bool, out io.Writer) error {
	f, err := frd.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := f.Header()
	fmt.Fprintf(out, "%s: run=%d ls=%d events=%d size=%d header_size=%d data_type=%d\n",
		path, h.RunNumber, h.Lumisection, h.EventCount, h.FileSize, h.HeaderSize, h.DataType)

	if records {
		r := f.NewReader()
		for {
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  offset=%d orbit=%d bytes=%d source=%d\n",
				ev.Offset, ev.Header.EventID, len(ev.Data), ev.Header.SourceID)
		}
	}

	return f.Verify()
}
