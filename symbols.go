// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ianlancetaylor/demangle"
	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"github.com/opencl-tools/clelf/libelf"
)

type symbolsCmd struct {
	root *rootArgs

	// User-specified command line arguments.
	demangle    bool
	definedOnly bool
}

func newSymbolsCmd(root *rootArgs) *ffcli.Command {
	cmd := symbolsCmd{root: root}
	set := flag.NewFlagSet("symbols", flag.ContinueOnError)
	set.BoolVar(&cmd.demangle, "demangle", true, "Demangle C++ symbol names")
	set.BoolVar(&cmd.definedOnly, "defined-only", false, "Only list defined symbols")
	return &ffcli.Command{
		Name:       "symbols",
		ShortUsage: "symbols [flags] <file>...",
		ShortHelp:  "List the symbol tables of objects and archive members",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *symbolsCmd) exec(_ context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no input files given")
	}
	cfg, err := cmd.root.libelfConfig()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := withFile(cfg, path, func(obj object) error {
			return cmd.list(os.Stdout, obj)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *symbolsCmd) list(w io.Writer, obj object) error {
	if obj.elf.Kind() != libelf.KindElf {
		log.Debugf("Skipping %s: %v", obj.name, obj.elf.Kind())
		return nil
	}
	syms, err := obj.elf.Symbols()
	if errors.Is(err, libelf.ErrNoSymbols) {
		log.Debugf("%s has no symbol table", obj.name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", obj.name, err)
	}

	fmt.Fprintf(w, "%s:\n", obj.name)
	for _, sym := range syms {
		if cmd.definedOnly && sym.Section == elf.SHN_UNDEF {
			continue
		}
		fmt.Fprintf(w, "%016x %6d %-12v %-12v %s\n", sym.Value, sym.Size,
			elf.ST_TYPE(sym.Info), elf.ST_BIND(sym.Info), cmd.symbolName(sym.Name))
	}
	return nil
}

func (cmd *symbolsCmd) symbolName(name string) string {
	if !cmd.demangle {
		return name
	}
	return demangle.Filter(name)
}
