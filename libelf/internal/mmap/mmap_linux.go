// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package mmap // import "github.com/opencl-tools/clelf/libelf/internal/mmap"

import "golang.org/x/sys/unix"

func setRandom(data []byte) error {
	return unix.Madvise(data, unix.MADV_RANDOM)
}
