// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import "debug/elf"

// Section types missing from debug/elf.
const (
	shtSUNWDof     elf.SectionType = 0x6ffffff4
	shtSUNWMove    elf.SectionType = 0x6ffffffa
	shtSUNWSyminfo elf.SectionType = 0x6ffffffc
	shtAMD64Unwind elf.SectionType = 0x70000001
)

// sectionTypes maps section header types to the element type of their
// contents. Several section types deliberately share an element type.
var sectionTypes = map[elf.SectionType]Type{
	elf.SHT_PROGBITS:      TypeByte,
	elf.SHT_SYMTAB:        TypeSym,
	elf.SHT_STRTAB:        TypeByte,
	elf.SHT_RELA:          TypeRela,
	elf.SHT_HASH:          TypeWord,
	elf.SHT_DYNAMIC:       TypeDyn,
	elf.SHT_NOTE:          TypeNote,
	elf.SHT_NOBITS:        TypeByte,
	elf.SHT_REL:           TypeRel,
	elf.SHT_DYNSYM:        TypeSym,
	elf.SHT_INIT_ARRAY:    TypeAddr,
	elf.SHT_FINI_ARRAY:    TypeAddr,
	elf.SHT_PREINIT_ARRAY: TypeAddr,
	elf.SHT_GROUP:         TypeWord,
	elf.SHT_SYMTAB_SHNDX:  TypeWord,
	elf.SHT_GNU_HASH:      TypeGNUHash,
	elf.SHT_GNU_LIBLIST:   TypeWord,
	elf.SHT_GNU_VERDEF:    TypeVdef,
	elf.SHT_GNU_VERNEED:   TypeVneed,
	elf.SHT_GNU_VERSYM:    TypeHalf,
	shtSUNWDof:            TypeByte,
	shtSUNWMove:           TypeMove,
	shtSUNWSyminfo:        TypeSyminfo,
	shtAMD64Unwind:        TypeByte,
}

// ClassifySection returns the element type used to interpret the contents
// of a section of type sht. Unknown and vendor specific types yield
// TypeUnknown, which should be read as opaque bytes.
func ClassifySection(sht elf.SectionType) Type {
	if t, ok := sectionTypes[sht]; ok {
		return t
	}
	return TypeUnknown
}
