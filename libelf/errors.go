// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import "errors"

var (
	// ErrNoMemory is returned when the allocator could not provide memory.
	ErrNoMemory = errors.New("allocation failed")

	// ErrArgument is returned when a descriptor, file descriptor and command
	// supplied together are inconsistent.
	ErrArgument = errors.New("argument mismatch")

	// ErrInvalidArgument is returned for out-of-range commands, unsupported
	// file types and malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIO wraps failures of the underlying stat, mmap and read calls.
	ErrIO = errors.New("I/O error")

	// ErrSequence is returned when a descriptor is requested before the
	// format version has been set on the Config.
	ErrSequence = errors.New("format version not initialized")

	// ErrVersion is returned for any format version other than EV_CURRENT.
	ErrVersion = errors.New("unsupported format version")

	// ErrRange is returned for element types or address classes outside the
	// supported range.
	ErrRange = errors.New("value out of range")

	// ErrUnsupportedType is returned by the size table for element types that
	// have no representation in the requested address class.
	ErrUnsupportedType = errors.New("element type unsupported for class")

	// ErrHeader is returned when an ELF header or section table is malformed.
	ErrHeader = errors.New("malformed ELF header")

	// ErrArchive is returned when an ar archive is malformed.
	ErrArchive = errors.New("malformed archive")

	// ErrNotArchive is returned by archive operations on other descriptors.
	ErrNotArchive = errors.New("descriptor is not an archive")

	// ErrNotObject is returned by section operations on non-object descriptors.
	ErrNotObject = errors.New("descriptor is not an ELF object")

	// ErrNoSymbols is returned when an object has neither a symbol table
	// nor a dynamic symbol table.
	ErrNoSymbols = errors.New("no symbol table")
)
