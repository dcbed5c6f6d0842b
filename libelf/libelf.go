// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package libelf implements the descriptor layer used to read and build
// relocatable objects, shared objects and ar archives holding compiled device
// kernels. The model follows the classic libelf API: an Elf descriptor is
// obtained with Open, its sections and data buffers hang off it, and End
// releases it once every activation has been dropped.
//
// The ELF specification is available at:
//
//	https://refspecs.linuxfoundation.org/elf/elf.pdf
package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"debug/elf"
	"fmt"
)

// Kind identifies what an Elf descriptor represents.
type Kind uint8

const (
	// KindNone is a descriptor whose content has not been identified.
	KindNone Kind = iota
	// KindAr is an ar(1) archive.
	KindAr
	// KindElf is an ELF object (relocatable, shared or executable).
	KindElf
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAr:
		return "archive"
	case KindElf:
		return "object"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Cmd is the access command a descriptor was opened with.
type Cmd uint8

const (
	CmdNull Cmd = iota
	CmdRead
	CmdWrite
	CmdReadWrite
	// cmdNum bounds the valid commands.
	cmdNum
)

func (c Cmd) String() string {
	switch c {
	case CmdNull:
		return "null"
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdReadWrite:
		return "read-write"
	}
	return fmt.Sprintf("cmd(%d)", uint8(c))
}

// Flags records how the image of a descriptor is backed.
type Flags uint32

const (
	// FlagMapped is set when the image is a private read-only memory map.
	FlagMapped Flags = 1 << iota
	// FlagMalloced is set when the image was read into an allocator buffer.
	FlagMalloced
	// FlagSpecialFile is set when the file descriptor is not a regular file.
	FlagSpecialFile
	// FlagDirty marks descriptors modified through NewSection/NewData.
	FlagDirty
)

// Type is the abstract element type of the records stored in a data buffer.
type Type int

const (
	TypeAddr Type = iota
	TypeByte
	TypeCap
	TypeChdr
	TypeDyn
	TypeEhdr
	TypeGNUHash
	TypeHalf
	TypeLword
	TypeMove
	TypeNote
	TypeOff
	TypePhdr
	TypeRel
	TypeRela
	TypeShdr
	TypeSword
	TypeSxword
	TypeSyminfo
	TypeSym
	TypeVdef
	TypeVneed
	TypeWord
	TypeXword
	// TypeNum is the number of known element types.
	TypeNum

	// TypeUnknown is returned by ClassifySection for section types that have
	// no structured interpretation. Such sections are read as opaque bytes.
	TypeUnknown Type = -1
)

var typeNames = [...]string{
	TypeAddr:    "addr",
	TypeByte:    "byte",
	TypeCap:     "cap",
	TypeChdr:    "chdr",
	TypeDyn:     "dyn",
	TypeEhdr:    "ehdr",
	TypeGNUHash: "gnuhash",
	TypeHalf:    "half",
	TypeLword:   "lword",
	TypeMove:    "move",
	TypeNote:    "note",
	TypeOff:     "off",
	TypePhdr:    "phdr",
	TypeRel:     "rel",
	TypeRela:    "rela",
	TypeShdr:    "shdr",
	TypeSword:   "sword",
	TypeSxword:  "sxword",
	TypeSyminfo: "syminfo",
	TypeSym:     "sym",
	TypeVdef:    "vdef",
	TypeVneed:   "vneed",
	TypeWord:    "word",
	TypeXword:   "xword",
}

func (t Type) String() string {
	if t >= 0 && t < TypeNum {
		return typeNames[t]
	}
	if t == TypeUnknown {
		return "unknown"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// validClass reports whether c is one of the two supported address classes.
func validClass(c elf.Class) bool {
	return c == elf.ELFCLASS32 || c == elf.ELFCLASS64
}
