// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"debug/elf"
	"fmt"

	"golang.org/x/sys/cpu"
	"golang.org/x/sys/unix"

	"github.com/opencl-tools/clelf/libelf/internal/mmap"
)

// sysOps bundles the system calls used by Open. Tests replace individual
// entries to inject failures.
type sysOps struct {
	fstat    func(fd int, st *unix.Stat_t) error
	mmap     func(fd int, length int) ([]byte, error)
	munmap   func(b []byte) error
	read     func(fd int, p []byte) (int, error)
	identify func(cfg *Config, image []byte, alloc Allocator) (*Elf, error)
}

var defaultOps = sysOps{
	fstat:    unix.Fstat,
	mmap:     mmap.Map,
	munmap:   mmap.Unmap,
	read:     unix.Read,
	identify: identify,
}

// Config carries the settings every top-level Open depends on: the negotiated
// format version, the byte order used for new objects and the default
// allocator. A Config must have its version set before the first Open.
type Config struct {
	version   elf.Version
	byteOrder elf.Data
	alloc     Allocator

	// readLimit bounds the number of bytes read from special files. Zero
	// means unbounded.
	readLimit int

	ops sysOps
}

// NewConfig returns a Config with no format version negotiated, the host
// byte order and the heap allocator.
func NewConfig() *Config {
	return &Config{
		version:   elf.EV_NONE,
		byteOrder: HostByteOrder(),
		alloc:     HeapAllocator{},
		ops:       defaultOps,
	}
}

// HostByteOrder returns the ELF data encoding matching the running machine.
func HostByteOrder() elf.Data {
	if cpu.IsBigEndian {
		return elf.ELFDATA2MSB
	}
	return elf.ELFDATA2LSB
}

// SetVersion negotiates the working format version and returns the version
// that was previously set. Passing EV_NONE only queries the version supported
// by this package.
func (c *Config) SetVersion(v elf.Version) (elf.Version, error) {
	if v == elf.EV_NONE {
		return elf.EV_CURRENT, nil
	}
	if v != elf.EV_CURRENT {
		return elf.EV_NONE, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	prev := c.version
	c.version = v
	return prev, nil
}

// Version returns the negotiated format version, or EV_NONE.
func (c *Config) Version() elf.Version {
	return c.version
}

// SetByteOrder sets the data encoding assigned to descriptors created for
// writing.
func (c *Config) SetByteOrder(order elf.Data) error {
	if order != elf.ELFDATA2LSB && order != elf.ELFDATA2MSB {
		return fmt.Errorf("%w: byte order %v", ErrInvalidArgument, order)
	}
	c.byteOrder = order
	return nil
}

// ByteOrder returns the data encoding used for new objects.
func (c *Config) ByteOrder() elf.Data {
	return c.byteOrder
}

// SetAllocator replaces the default allocator. A nil allocator restores the
// heap allocator.
func (c *Config) SetAllocator(a Allocator) {
	if a == nil {
		a = HeapAllocator{}
	}
	c.alloc = a
}

// SetReadLimit bounds how many bytes Open reads from pipes, sockets and
// character devices. Zero removes the bound.
func (c *Config) SetReadLimit(n int) {
	c.readLimit = max(n, 0)
}
