// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// clelf inspects compiled OpenCL kernel objects and archives, dumps their
// kernel metadata and manages a content addressed store of kernel binaries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opencl-tools/clelf/metrics"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	log.SetReportCaller(false)
	log.SetFormatter(&log.TextFormatter{})

	args := &rootArgs{}
	root := newRootCmd(args)

	if err := root.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if args.verbose {
		log.SetLevel(log.DebugLevel)
		args.dump()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	err := root.Run(ctx)
	if args.stats {
		printStats()
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitParseError
		}
		return failure("%v", err)
	}
	return exitSuccess
}

func newRootCmd(args *rootArgs) *ffcli.Command {
	return &ffcli.Command{
		Name:       "clelf",
		ShortUsage: "clelf [flags] <subcommand> [flags] [args...]",
		ShortHelp:  "Tool for inspecting and storing compiled OpenCL kernel binaries",
		FlagSet:    args.flagSet(),
		Options:    args.ffOptions(),
		Subcommands: []*ffcli.Command{
			newInspectCmd(args),
			newSymbolsCmd(args),
			newKernelsCmd(args),
			newPackCmd(),
			newStoreCmd(args),
			newVersionCmd(),
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

// printStats writes the non-zero metrics recorded during the run to stderr.
func printStats() {
	snapshot := metrics.Snapshot()
	defs := metrics.GetDefinitions()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Field < defs[j].Field })
	for _, md := range defs {
		if v, ok := snapshot[md.ID]; ok {
			fmt.Fprintf(os.Stderr, "%-40s %d\n", md.Field, v)
		}
	}
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitFailure
}
