// patchtool builds and inspects biorand.dat patch files.
//
//	patchtool pack [-o biorand.dat] patches.txt
//	patchtool dump [-disasm] biorand.dat
//
// pack reads lines of the form "address: hex bytes", e.g.
//
//	0x00446b12: 90 90
//
// Blank lines and lines starting with # are ignored.
package main

import (
	// Standard
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	// 3rd Party
	"github.com/fatih/color"

	// Internal
	"github.com/biorand/livepatch"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "pack":
		err = packCmd(os.Args[2:])
	case "dump":
		err = dumpCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		color.Red(err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: patchtool pack [-o file] input")
	fmt.Fprintln(os.Stderr, "       patchtool dump [-disasm] file")
}

func packCmd(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	out := fs.String("o", "biorand.dat", "output patch file")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("pack: expected one input file")
	}

	in, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	records, err := parseRecords(in)
	if err != nil {
		return err
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := pack(livepatch.NewWriter(bw), records); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	color.Green("wrote %d records to %s", len(records), *out)
	return nil
}

func pack(w *livepatch.Writer, records []livepatch.Record) error {
	for _, r := range records {
		if err := w.WriteRecord(r); err != nil {
			return err
		}
	}
	return nil
}

// parseRecords reads "address: hex bytes" lines.
func parseRecords(r io.Reader) ([]livepatch.Record, error) {
	var records []livepatch.Record

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		addrText, dataText, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: missing ':'", line)
		}

		addr, err := strconv.ParseUint(strings.TrimSpace(addrText), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		payload, err := hex.DecodeString(strings.Join(strings.Fields(dataText), ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		records = append(records, livepatch.Record{Addr: uint32(addr), Payload: payload})
	}
	return records, scanner.Err()
}

func dumpCmd(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	disasm := fs.Bool("disasm", false, "disassemble payloads as 32-bit x86")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("dump: expected one patch file")
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	return dump(os.Stdout, bufio.NewReader(f), *disasm)
}

func dump(w io.Writer, r io.Reader, disasm bool) error {
	d := livepatch.NewDecoder(r)

	n := 0
	for rec := range d.Records() {
		n++
		fmt.Fprintf(w, "0x%08x  %d bytes\n", rec.Addr, len(rec.Payload))
		if !disasm {
			fmt.Fprint(w, hex.Dump(rec.Payload))
			continue
		}

		text, err := livepatch.Disassemble(rec.Payload, uintptr(rec.Addr))
		fmt.Fprint(w, text)
		if err != nil {
			fmt.Fprintf(w, "  (%v)\n", err)
		}
	}

	if d.Truncated() {
		color.New(color.FgYellow).Fprintf(w, "stream truncated after %d records\n", n)
	}
	return nil
}
