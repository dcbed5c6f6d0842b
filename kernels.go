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
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"github.com/opencl-tools/clelf/kernelmeta"
	"github.com/opencl-tools/clelf/libelf"
)

type kernelsCmd struct {
	root *rootArgs

	// User-specified command line arguments.
	json   bool
	kernel string
}

// objectKernels is the JSON output for one object.
type objectKernels struct {
	Object  string              `json:"object"`
	Kernels []kernelmeta.Kernel `json:"kernels"`
}

func newKernelsCmd(root *rootArgs) *ffcli.Command {
	cmd := kernelsCmd{root: root}
	set := flag.NewFlagSet("kernels", flag.ContinueOnError)
	set.BoolVar(&cmd.json, "json", false, "Print the kernel metadata as JSON")
	set.StringVar(&cmd.kernel, "kernel", "", "Only print the kernel with this name")
	return &ffcli.Command{
		Name:       "kernels",
		ShortUsage: "kernels [flags] <file>...",
		ShortHelp:  "Print the kernel metadata of objects and archive members",
		FlagSet:    set,
		Exec:       cmd.exec,
	}
}

func (cmd *kernelsCmd) exec(_ context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no input files given")
	}
	cfg, err := cmd.root.libelfConfig()
	if err != nil {
		return err
	}
	reader, err := kernelmeta.NewReader(defaultMetaCacheSize)
	if err != nil {
		return err
	}

	var found []objectKernels
	for _, path := range paths {
		err := withFile(cfg, path, func(obj object) error {
			kernels, err := cmd.collect(reader, obj)
			if err != nil || kernels == nil {
				return err
			}
			found = append(found, *kernels)
			return nil
		})
		if err != nil {
			return err
		}
	}
	stats := reader.Statistics()
	log.Debugf("Metadata cache: %d hits, %d misses", stats.Hit, stats.Miss)

	if cmd.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(found)
	}
	for _, k := range found {
		printKernels(os.Stdout, k)
	}
	return nil
}

// collect returns the kernels of obj matching the filter, or nil if obj
// carries no kernel metadata.
func (cmd *kernelsCmd) collect(reader *kernelmeta.Reader, obj object) (*objectKernels, error) {
	if obj.elf.Kind() != libelf.KindElf {
		return nil, nil
	}
	table, err := reader.Read(obj.elf)
	if errors.Is(err, kernelmeta.ErrNoMetadata) {
		log.Debugf("%s has no kernel metadata", obj.name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", obj.name, err)
	}

	out := &objectKernels{Object: obj.name, Kernels: table.Kernels}
	if cmd.kernel != "" {
		k := table.Kernel(cmd.kernel)
		if k == nil {
			return nil, nil
		}
		out.Kernels = []kernelmeta.Kernel{*k}
	}
	return out, nil
}

func printKernels(w io.Writer, k objectKernels) {
	fmt.Fprintf(w, "%s:\n", k.Object)
	for _, kernel := range k.Kernels {
		args := make([]string, 0, len(kernel.Args))
		for _, arg := range kernel.Args {
			args = append(args, fmt.Sprintf("%v %s", arg.Data.ArgType(), arg.Name))
		}
		fmt.Fprintf(w, "  %s(%s) device=%s flags=%#x printf=%d\n", kernel.Name,
			strings.Join(args, ", "), kernel.Device, uint32(kernel.Flags), len(kernel.Printf))
	}
}
