// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	log "github.com/sirupsen/logrus"

	"github.com/opencl-tools/clelf/kernelstore"
)

type storeCmd struct {
	root *rootArgs

	// User-specified command line arguments.
	output string
	all    bool
	remote bool
}

func newStoreCmd(root *rootArgs) *ffcli.Command {
	cmd := &storeCmd{root: root}

	getSet := flag.NewFlagSet("get", flag.ContinueOnError)
	getSet.StringVar(&cmd.output, "o", "", "Output path (default: stdout)")
	uploadSet := flag.NewFlagSet("upload", flag.ContinueOnError)
	uploadSet.BoolVar(&cmd.all, "all", false, "Upload all binaries of the local store")
	listSet := flag.NewFlagSet("list", flag.ContinueOnError)
	listSet.BoolVar(&cmd.remote, "remote", false, "List the remote storage")
	removeSet := flag.NewFlagSet("remove", flag.ContinueOnError)
	removeSet.BoolVar(&cmd.remote, "remote", false, "Also remove from the remote storage")

	return &ffcli.Command{
		Name:       "store",
		ShortUsage: "store <subcommand> [flags] [args...]",
		ShortHelp:  "Manage the kernel binary store",
		Subcommands: []*ffcli.Command{
			{
				Name:       "add",
				ShortUsage: "store add <file>...",
				ShortHelp:  "Insert kernel objects or archives into the local store",
				Exec:       cmd.withStore(cmd.add),
			},
			{
				Name:       "get",
				ShortUsage: "store get [-o <path>] <id>",
				ShortHelp:  "Extract a binary, downloading it if needed",
				FlagSet:    getSet,
				Exec:       cmd.withStore(cmd.get),
			},
			{
				Name:       "upload",
				ShortUsage: "store upload [-all] [<id>...]",
				ShortHelp:  "Upload binaries to the remote storage",
				FlagSet:    uploadSet,
				Exec:       cmd.withStore(cmd.upload),
			},
			{
				Name:       "list",
				ShortUsage: "store list [-remote]",
				ShortHelp:  "List the binaries in the store",
				FlagSet:    listSet,
				Exec:       cmd.withStore(cmd.list),
			},
			{
				Name:       "remove",
				ShortUsage: "store remove [-remote] <id>...",
				ShortHelp:  "Remove binaries from the store",
				FlagSet:    removeSet,
				Exec:       cmd.withStore(cmd.remove),
			},
			{
				Name:       "clean",
				ShortUsage: "store clean",
				ShortHelp:  "Delete lingering temporary files in the local store",
				Exec: cmd.withStore(func(_ context.Context, s *kernelstore.Store,
					_ []string) error {
					return s.RemoveLocalTempFiles()
				}),
			},
		},
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
	}
}

type storeExec func(ctx context.Context, store *kernelstore.Store, args []string) error

func (cmd *storeCmd) withStore(fn storeExec) func(context.Context, []string) error {
	return func(ctx context.Context, args []string) error {
		store, err := cmd.root.openStore()
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		return fn(ctx, store, args)
	}
}

func parseIDs(args []string) ([]kernelstore.ID, error) {
	ids := make([]kernelstore.ID, 0, len(args))
	for _, arg := range args {
		id, err := kernelstore.IDFromString(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid binary ID `%s`: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (cmd *storeCmd) add(_ context.Context, store *kernelstore.Store, paths []string) error {
	if len(paths) == 0 {
		return errors.New("no input files given")
	}
	for _, path := range paths {
		id, isNew, err := store.InsertLocally(path)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", path, err)
		}
		if !isNew {
			log.Infof("%s was already present", path)
		}
		fmt.Printf("%s %s\n", id, path)
	}
	return nil
}

func (cmd *storeCmd) get(_ context.Context, store *kernelstore.Store, args []string) error {
	if len(args) != 1 {
		return errors.New("expected exactly one binary ID")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if cmd.output == "" {
		return store.Unpack(ids[0], os.Stdout)
	}
	return store.UnpackToPath(ids[0], cmd.output)
}

func (cmd *storeCmd) upload(ctx context.Context, store *kernelstore.Store, args []string) error {
	if cmd.all == (len(args) != 0) {
		return errors.New("please pass either `-all` or binary IDs (but not both)")
	}

	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	if cmd.all {
		local, err := store.ListLocal()
		if err != nil {
			return err
		}
		for id := range local {
			ids = append(ids, id)
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Infof("Uploading binary `%s`", id)
		if err := store.Upload(ctx, id); err != nil {
			return fmt.Errorf("failed to upload binary: %w", err)
		}
	}
	log.Info("All binaries are present remotely")
	return nil
}

func (cmd *storeCmd) list(ctx context.Context, store *kernelstore.Store, _ []string) error {
	if !cmd.remote {
		local, err := store.ListLocal()
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(local))
		for id := range local {
			ids = append(ids, id.String())
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	remote, err := store.ListRemote(ctx)
	if err != nil {
		return err
	}
	ids := make([]kernelstore.ID, 0, len(remote))
	for id := range remote {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return remote[ids[i]].Before(remote[ids[j]])
	})
	for _, id := range ids {
		fmt.Printf("%s %s\n", id, remote[id].Format(time.RFC3339))
	}
	return nil
}

func (cmd *storeCmd) remove(ctx context.Context, store *kernelstore.Store, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := store.RemoveLocal(id); err != nil {
			return err
		}
		if cmd.remote {
			if err := store.RemoveRemote(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}
