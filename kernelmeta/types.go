// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernelmeta interprets the kernel metadata section of compiled
// device-kernel objects: the kernels an object provides, their arguments,
// their printf format strings and the device capabilities they rely on.
//
// The metadata is stored in the .clkernels section as a little-endian table:
//
//	table:   magic "CLKM" | version u16 | count u16 | kernel*count
//	kernel:  name str | device str | flags u32 | nargs u16 | nprintf u16
//	         | arg*nargs | printf*nprintf
//	str:     len u16 | bytes
//	arg:     name str | type u8 | payload
//	printf:  id u32 | format str | nsizes u8 | size u32*nsizes
package kernelmeta // import "github.com/opencl-tools/clelf/kernelmeta"

import (
	"errors"
	"fmt"
)

const (
	// SectionName is the name of the section holding the metadata table.
	SectionName = ".clkernels"

	// Version is the table format version produced by Encode.
	Version = 1

	magic = "CLKM"
)

var (
	// ErrFormat is returned for truncated or inconsistent tables.
	ErrFormat = errors.New("malformed kernel metadata")

	// ErrVersion is returned for tables with an unsupported format version.
	ErrVersion = errors.New("unsupported kernel metadata version")

	// ErrNoMetadata is returned for objects without a metadata section.
	ErrNoMetadata = errors.New("no kernel metadata section")
)

// ArgType discriminates the payload of a kernel argument.
type ArgType uint8

const (
	ArgTypeSampler ArgType = iota + 1
	ArgTypeImage
	ArgTypeCounter
	ArgTypeValue
	ArgTypePointer
	ArgTypeQueue
)

var argTypeNames = map[ArgType]string{
	ArgTypeSampler: "sampler",
	ArgTypeImage:   "image",
	ArgTypeCounter: "counter",
	ArgTypeValue:   "value",
	ArgTypePointer: "pointer",
	ArgTypeQueue:   "queue",
}

func (t ArgType) String() string {
	if name, ok := argTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("argtype(%d)", uint8(t))
}

// ParseArgType is the inverse of ArgType.String.
func ParseArgType(s string) (ArgType, error) {
	for t, name := range argTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown argument type %q", s)
}

// DataType is the element type of value and pointer arguments.
type DataType uint8

const (
	DataStruct DataType = iota
	DataI8
	DataI16
	DataI32
	DataI64
	DataU8
	DataU16
	DataU32
	DataU64
	DataF16
	DataF32
	DataF64
	DataOpaque
)

// AddressSpace is the memory region a pointer or queue argument refers to.
type AddressSpace uint8

const (
	SpacePrivate AddressSpace = iota
	SpaceGlobal
	SpaceConstant
	SpaceLocal
	SpaceGeneric
)

// Access is the access qualifier of an image argument.
type Access uint8

const (
	AccessReadOnly Access = iota
	AccessWriteOnly
	AccessReadWrite
)

// ImageDim is the dimensionality of an image argument.
type ImageDim uint8

const (
	Image1D ImageDim = iota
	Image2D
	Image3D
	Image1DArray
	Image2DArray
	Image1DBuffer
)

// Flags are the device capabilities a kernel relies on.
type Flags uint32

const (
	FlagPrintf Flags = 1 << iota
	FlagDeviceEnqueue
	FlagImages
	FlagDoubles
	FlagPipes
	FlagSVM
)

// ArgData is the type specific payload of a kernel argument. It is
// implemented by SamplerArg, ImageArg, CounterArg, ValueArg, PointerArg and
// QueueArg.
type ArgData interface {
	ArgType() ArgType
	encode(enc *encoder)
}

// SamplerArg is a sampler argument with a constant initializer.
type SamplerArg struct {
	Value uint32 `json:"value"`
}

// ImageArg is an image argument.
type ImageArg struct {
	Dim        ImageDim `json:"dim"`
	Access     Access   `json:"access"`
	ResourceID uint32   `json:"resource_id"`
}

// CounterArg is an atomic counter argument.
type CounterArg struct {
	Bits       uint8  `json:"bits"`
	ResourceID uint32 `json:"resource_id"`
}

// ValueArg is an argument passed by value.
type ValueArg struct {
	Data        DataType `json:"data"`
	NumElements uint16   `json:"num_elements"`
}

// PointerArg is a pointer argument.
type PointerArg struct {
	Data     DataType     `json:"data"`
	Space    AddressSpace `json:"space"`
	Align    uint32       `json:"align"`
	Volatile bool         `json:"volatile,omitempty"`
	Restrict bool         `json:"restrict,omitempty"`
	Const    bool         `json:"const,omitempty"`
}

// QueueArg is a device queue argument.
type QueueArg struct {
	Space AddressSpace `json:"space"`
}

func (SamplerArg) ArgType() ArgType { return ArgTypeSampler }
func (ImageArg) ArgType() ArgType   { return ArgTypeImage }
func (CounterArg) ArgType() ArgType { return ArgTypeCounter }
func (ValueArg) ArgType() ArgType   { return ArgTypeValue }
func (PointerArg) ArgType() ArgType { return ArgTypePointer }
func (QueueArg) ArgType() ArgType   { return ArgTypeQueue }

// Arg is one kernel argument.
type Arg struct {
	Name string
	Data ArgData
}

// Printf describes one printf call site of a kernel.
type Printf struct {
	ID     uint32   `json:"id"`
	Format string   `json:"format"`
	Sizes  []uint32 `json:"sizes,omitempty"`
}

// Kernel is the metadata of a single kernel.
type Kernel struct {
	Name   string   `json:"name"`
	Device string   `json:"device"`
	Flags  Flags    `json:"flags"`
	Args   []Arg    `json:"args,omitempty"`
	Printf []Printf `json:"printf,omitempty"`
}

// Table is the decoded contents of a metadata section.
type Table struct {
	Version uint16   `json:"version"`
	Kernels []Kernel `json:"kernels"`
}

// Kernel returns the kernel called name, or nil.
func (t *Table) Kernel(name string) *Kernel {
	for i := range t.Kernels {
		if t.Kernels[i].Name == name {
			return &t.Kernels[i]
		}
	}
	return nil
}
