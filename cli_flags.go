// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"runtime"

	"github.com/peterbourgon/ff/v3"
	log "github.com/sirupsen/logrus"

	"github.com/opencl-tools/clelf/kernelstore"
	"github.com/opencl-tools/clelf/libelf"
)

const (
	// Default values for CLI flags
	defaultStoreDir      = "kernelcache"
	defaultMetaCacheSize = 256
	defaultCacheChunks   = 64
)

// Help strings for command line arguments
var (
	verboseHelp   = "Enable verbose logging and debugging capabilities."
	statsHelp     = "Print the internal counters of the run to stderr on exit."
	storeDirHelp  = "Directory of the local kernel binary store."
	bucketHelp    = "S3 bucket backing the kernel binary store. Empty disables the remote."
	regionHelp    = "Region of the S3 bucket. Defaults to the AWS configuration."
	endpointHelp  = "Endpoint of an S3 compatible object store."
	pathStyleHelp = "Use path-style addressing for the S3 bucket."
	keyPrefixHelp = "Prefix of the object keys in the S3 bucket."
	jobsHelp      = "Number of files processed concurrently."
	readLimitHelp = "Maximum number of bytes read from pipes and sockets. Zero means no limit."
	configHelp    = "Path to a configuration file with one `flag value` pair per line."
)

// rootArgs holds the flags shared by all subcommands.
type rootArgs struct {
	verbose   bool
	stats     bool
	storeDir  string
	bucket    string
	region    string
	endpoint  string
	pathStyle bool
	keyPrefix string
	jobs      int
	readLimit int

	fs *flag.FlagSet
}

func (args *rootArgs) flagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("clelf", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&args.bucket, "bucket", "", bucketHelp)
	fs.String("config", "", configHelp)
	fs.StringVar(&args.endpoint, "endpoint", "", endpointHelp)
	fs.IntVar(&args.jobs, "jobs", runtime.NumCPU(), jobsHelp)
	fs.StringVar(&args.keyPrefix, "key-prefix", "", keyPrefixHelp)
	fs.BoolVar(&args.pathStyle, "path-style", false, pathStyleHelp)
	fs.IntVar(&args.readLimit, "read-limit", 0, readLimitHelp)
	fs.StringVar(&args.region, "region", "", regionHelp)
	fs.BoolVar(&args.stats, "stats", false, statsHelp)
	fs.StringVar(&args.storeDir, "store-dir", defaultStoreDir, storeDirHelp)
	fs.BoolVar(&args.verbose, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.verbose, "verbose", false, verboseHelp)

	args.fs = fs
	return fs
}

func (args *rootArgs) ffOptions() []ff.Option {
	return []ff.Option{
		ff.WithEnvVarPrefix("CLELF"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	}
}

// dump logs the effective value of every flag.
func (args *rootArgs) dump() {
	log.Debug("Config:")
	args.fs.VisitAll(func(f *flag.Flag) {
		log.Debugf("%s: %v", f.Name, f.Value)
	})
}

// libelfConfig returns the library configuration for the run.
func (args *rootArgs) libelfConfig() (*libelf.Config, error) {
	if args.readLimit < 0 {
		return nil, fmt.Errorf("invalid read limit %d", args.readLimit)
	}
	cfg := libelf.NewConfig()
	if _, err := cfg.SetVersion(elf.EV_CURRENT); err != nil {
		return nil, err
	}
	cfg.SetReadLimit(args.readLimit)
	return cfg, nil
}

// openStore opens the kernel binary store selected by the flags.
func (args *rootArgs) openStore() (*kernelstore.Store, error) {
	if args.storeDir == "" {
		return nil, errors.New("no store directory given")
	}
	cfg, err := args.libelfConfig()
	if err != nil {
		return nil, err
	}
	opts := kernelstore.Options{Config: cfg, CacheChunks: defaultCacheChunks}
	if args.bucket != "" {
		opts.Remote = &kernelstore.RemoteOptions{
			Bucket:    args.bucket,
			Region:    args.region,
			Endpoint:  args.endpoint,
			PathStyle: args.pathStyle,
			KeyPrefix: args.keyPrefix,
		}
	}
	return kernelstore.New(args.storeDir, opts)
}
