// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/peterbourgon/ff/v3/ffcli"
	"golang.org/x/sync/errgroup"

	"github.com/opencl-tools/clelf/libelf"
)

type inspectCmd struct {
	root *rootArgs

	// User-specified command line arguments.
	sections bool
	progs    bool
}

func newInspectCmd(root *rootArgs) *ffcli.Command {
	cmd := inspectCmd{root: root}
	set := flag.NewFlagSet("inspect", flag.ContinueOnError)
	set.BoolVar(&cmd.sections, "sections", true, "List the section headers")
	set.BoolVar(&cmd.progs, "progs", false, "List the program headers")
	return &ffcli.Command{
		Name:       "inspect",
		ShortUsage: "inspect [flags] <file>...",
		ShortHelp:  "Describe ELF objects and archives",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *inspectCmd) exec(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no input files given")
	}
	cfg, err := cmd.root.libelfConfig()
	if err != nil {
		return err
	}

	// Files are described concurrently, output keeps the argument order.
	out := make([]bytes.Buffer, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cmd.root.jobs, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return withFile(cfg, path, func(obj object) error {
				return cmd.describe(&out[i], obj)
			})
		})
	}
	err = g.Wait()
	for i := range out {
		_, _ = out[i].WriteTo(os.Stdout)
	}
	return err
}

func (cmd *inspectCmd) describe(w io.Writer, obj object) error {
	e := obj.elf
	if e.Kind() != libelf.KindElf {
		fmt.Fprintf(w, "%s: %v\n", obj.name, e.Kind())
		return nil
	}
	hdr, err := e.Header()
	if err != nil {
		return fmt.Errorf("%s: %w", obj.name, err)
	}
	shstrndx, err := e.SectionStringIndex()
	if err != nil {
		return fmt.Errorf("%s: %w", obj.name, err)
	}
	fmt.Fprintf(w, "%s: %v %v %v %v %v, entry %#x, shstrndx %d\n", obj.name,
		e.Kind(), hdr.Class, hdr.Data, hdr.Type, hdr.Machine, hdr.Entry, shstrndx)

	if cmd.sections {
		scns, err := e.Sections()
		if err != nil {
			return fmt.Errorf("%s: %w", obj.name, err)
		}
		tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
		fmt.Fprintln(tw, "  [Nr]\tName\tType\tKind\tAddr\tOffset\tSize\tFlags")
		for _, s := range scns {
			sh := s.Header()
			fmt.Fprintf(tw, "  [%d]\t%s\t%v\t%v\t%#x\t%#x\t%#x\t%v\n", s.Index(),
				sh.Name, sh.Type, s.Type(), sh.Addr, sh.Offset, sh.Size, sh.Flags)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if cmd.progs {
		progs, err := e.Progs()
		if err != nil {
			return fmt.Errorf("%s: %w", obj.name, err)
		}
		tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
		fmt.Fprintln(tw, "  Type\tOffset\tVaddr\tFilesz\tMemsz\tFlags")
		for _, p := range progs {
			fmt.Fprintf(tw, "  %v\t%#x\t%#x\t%#x\t%#x\t%v\n",
				p.Type, p.Off, p.Vaddr, p.Filesz, p.Memsz, p.Flags)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
