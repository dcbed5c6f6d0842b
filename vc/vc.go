// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "github.com/opencl-tools/clelf/vc"

import "fmt"

var (
	// The following variables are set at link time using ldflags, e.g.
	// -X github.com/opencl-tools/clelf/vc.version=v0.3.0

	// revision is the commit the binary was built from
	revision = ""
	// buildTimestamp, timestamp of the build
	buildTimestamp = ""
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = ""
)

// Revision of the build.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format, or "dev" for builds without
// link-time information.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// Summary returns a single line describing the build.
func Summary() string {
	s := Version()
	if revision != "" {
		s += fmt.Sprintf(" (revision %s", revision)
		if buildTimestamp != "" {
			s += ", built " + buildTimestamp
		}
		s += ")"
	}
	return s
}
