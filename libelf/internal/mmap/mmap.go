// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package mmap maps object files privately and read-only into memory.
package mmap // import "github.com/opencl-tools/clelf/libelf/internal/mmap"

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalLength indicates a negative or oversized mapping length.
	ErrInvalLength = errors.New("invalid mapping length")
)

// Map maps the first length bytes of the file referred to by fd with
// PROT_READ and MAP_PRIVATE.
func Map(fd, length int) ([]byte, error) {
	if length == 0 {
		// Treat (length == 0) as a special case, avoiding the syscall, since
		// "man 2 mmap" says "the length... must be greater than 0".
		return []byte{}, nil
	}
	if length < 0 {
		return nil, fmt.Errorf("mmap: length %d: %w", length, ErrInvalLength)
	}
	data, err := unix.Mmap(fd, 0, length, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	// Section and member lookups jump around the image.
	_ = setRandom(data)
	return data, nil
}

// Unmap releases a mapping returned by Map.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
