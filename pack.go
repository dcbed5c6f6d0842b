// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"github.com/opencl-tools/clelf/kernelmeta"
)

type packCmd struct {
	// User-specified command line arguments.
	output string
}

func newPackCmd() *ffcli.Command {
	cmd := packCmd{}
	set := flag.NewFlagSet("pack", flag.ContinueOnError)
	set.StringVar(&cmd.output, "o", "", "Output file for the encoded section contents")
	return &ffcli.Command{
		Name:       "pack",
		ShortUsage: "pack -o <output> [<table.json>]",
		ShortHelp:  "Encode a JSON kernel metadata table into " + kernelmeta.SectionName + " contents",
		LongHelp: "Reads a kernel metadata table in the JSON form printed by " +
			"`kernels -json` (one object entry) from the given file or stdin and " +
			"writes the binary section contents, ready to be added with objcopy.",
		FlagSet: set,
		Exec:    cmd.exec,
	}
}

func (cmd *packCmd) exec(_ context.Context, args []string) error {
	if cmd.output == "" {
		return errors.New("missing output file (-o)")
	}
	var in io.Reader = os.Stdin
	switch len(args) {
	case 0:
	case 1:
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	default:
		return errors.New("at most one input file may be given")
	}

	b, err := encodeTable(in)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cmd.output, b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", cmd.output, err)
	}
	log.Infof("Wrote %d bytes to %s", len(b), cmd.output)
	return nil
}

// encodeTable reads one objectKernels entry as JSON and returns the encoded
// metadata table.
func encodeTable(in io.Reader) ([]byte, error) {
	var entry objectKernels
	dec := json.NewDecoder(in)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to parse kernel table: %w", err)
	}
	return kernelmeta.Encode(&kernelmeta.Table{
		Version: kernelmeta.Version,
		Kernels: entry.Kernels,
	})
}
