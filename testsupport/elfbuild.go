// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testsupport // import "github.com/opencl-tools/clelf/testsupport"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const sectionHeaderStrTable = ".shstrtab"

// Section describes one section of a synthetic object. Index 0 (the null
// section) and the section name string table are added by BuildELF.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Data  []byte

	// Size is used for SHT_NOBITS sections, which have no file contents.
	Size uint64

	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// Object describes a synthetic ELF object.
type Object struct {
	Class    elf.Class
	Order    binary.ByteOrder
	Type     elf.Type
	Machine  elf.Machine
	Sections []Section
	Progs    []elf.ProgHeader
	// ExtendedNumbering stores the section count and the string table index
	// in section 0, as objects with more than SHN_LORESERVE sections do.
	ExtendedNumbering bool
}

// builder accumulates an image, keeping the first error.
type builder struct {
	buf   bytes.Buffer
	order binary.ByteOrder
	err   error
}

func (b *builder) here() uint64 {
	return uint64(b.buf.Len())
}

// align writes as many padding bytes as needed to make the current offset a
// multiple of align.
func (b *builder) align(align uint64) {
	if align <= 1 {
		return
	}
	off := b.here()
	if pad := (off+align-1)&^(align-1) - off; pad > 0 {
		b.buf.Write(make([]byte, pad))
	}
}

func (b *builder) put(v any) {
	if err := binary.Write(&b.buf, b.order, v); err != nil && b.err == nil {
		b.err = err
	}
}

// strtab returns a string table holding names, and the offset of each name.
func strtab(names []string) ([]byte, []uint32) {
	tab := []byte{0}
	offs := make([]uint32, len(names))
	for i, n := range names {
		if n == "" {
			continue
		}
		offs[i] = uint32(len(tab))
		tab = append(tab, n...)
		tab = append(tab, 0)
	}
	return tab, offs
}

// BuildELF encodes obj into an ELF image: the file header, the program
// headers, the contents of every section, and the section header table.
func BuildELF(obj Object) ([]byte, error) {
	if obj.Order == nil {
		obj.Order = binary.LittleEndian
	}
	data := elf.ELFDATA2LSB
	if obj.Order == binary.BigEndian {
		data = elf.ELFDATA2MSB
	}
	is64 := obj.Class == elf.ELFCLASS64
	if !is64 && obj.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("unknown ELF class: %v", obj.Class)
	}
	ehsize, phentsize, shentsize := uint64(52), uint64(32), uint64(40)
	if is64 {
		ehsize, phentsize, shentsize = 64, 56, 64
	}

	scns := append([]Section{{}}, obj.Sections...)
	scns = append(scns, Section{Name: sectionHeaderStrTable, Type: elf.SHT_STRTAB, Addralign: 1})
	names := make([]string, len(scns))
	for i, s := range scns {
		names[i] = s.Name
	}
	shstr, nameOffs := strtab(names)
	scns[len(scns)-1].Data = shstr
	shstrndx := len(scns) - 1

	b := &builder{order: obj.Order}
	b.buf.Write(make([]byte, ehsize))

	var phoff uint64
	if len(obj.Progs) > 0 {
		b.align(8)
		phoff = b.here()
		for _, p := range obj.Progs {
			if is64 {
				b.put(elf.Prog64{
					Type: uint32(p.Type), Flags: uint32(p.Flags), Off: p.Off,
					Vaddr: p.Vaddr, Paddr: p.Paddr, Filesz: p.Filesz, Memsz: p.Memsz,
					Align: p.Align,
				})
			} else {
				b.put(elf.Prog32{
					Type: uint32(p.Type), Flags: uint32(p.Flags), Off: uint32(p.Off),
					Vaddr: uint32(p.Vaddr), Paddr: uint32(p.Paddr), Filesz: uint32(p.Filesz),
					Memsz: uint32(p.Memsz), Align: uint32(p.Align),
				})
			}
		}
	}

	offsets := make([]uint64, len(scns))
	for i, s := range scns {
		if i == 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		b.align(max(s.Addralign, 1))
		offsets[i] = b.here()
		b.buf.Write(s.Data)
	}

	b.align(8)
	shoff := b.here()
	for i, s := range scns {
		size := uint64(len(s.Data))
		if s.Type == elf.SHT_NOBITS {
			size = s.Size
		}
		link := s.Link
		if i == 0 && obj.ExtendedNumbering {
			size = uint64(len(scns))
			link = uint32(shstrndx)
		}
		if is64 {
			b.put(elf.Section64{
				Name: nameOffs[i], Type: uint32(s.Type), Flags: uint64(s.Flags),
				Off: offsets[i], Size: size, Link: link, Info: s.Info,
				Addralign: s.Addralign, Entsize: s.Entsize,
			})
		} else {
			b.put(elf.Section32{
				Name: nameOffs[i], Type: uint32(s.Type), Flags: uint32(s.Flags),
				Off: uint32(offsets[i]), Size: uint32(size), Link: link, Info: s.Info,
				Addralign: uint32(s.Addralign), Entsize: uint32(s.Entsize),
			})
		}
	}
	if b.err != nil {
		return nil, b.err
	}

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(obj.Class)
	ident[elf.EI_DATA] = byte(data)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	shnum, strndx := uint16(len(scns)), uint16(shstrndx)
	if obj.ExtendedNumbering {
		shnum, strndx = 0, uint16(elf.SHN_XINDEX)
	}
	hdr := &builder{order: obj.Order}
	if is64 {
		hdr.put(elf.Header64{
			Ident: ident, Type: uint16(obj.Type), Machine: uint16(obj.Machine),
			Version: uint32(elf.EV_CURRENT), Phoff: phoff, Shoff: shoff,
			Ehsize: uint16(ehsize), Phentsize: uint16(phentsize), Phnum: uint16(len(obj.Progs)),
			Shentsize: uint16(shentsize), Shnum: shnum, Shstrndx: strndx,
		})
	} else {
		hdr.put(elf.Header32{
			Ident: ident, Type: uint16(obj.Type), Machine: uint16(obj.Machine),
			Version: uint32(elf.EV_CURRENT), Phoff: uint32(phoff), Shoff: uint32(shoff),
			Ehsize: uint16(ehsize), Phentsize: uint16(phentsize), Phnum: uint16(len(obj.Progs)),
			Shentsize: uint16(shentsize), Shnum: shnum, Shstrndx: strndx,
		})
	}
	if hdr.err != nil {
		return nil, hdr.err
	}
	image := b.buf.Bytes()
	copy(image, hdr.buf.Bytes())
	return image, nil
}

// Symtab encodes syms as the contents of a symbol table and its linked
// string table. The null symbol is prepended.
func Symtab(class elf.Class, order binary.ByteOrder, syms []elf.Symbol) (symtab, strs []byte) {
	names := make([]string, len(syms))
	for i, s := range syms {
		names[i] = s.Name
	}
	strs, offs := strtab(names)

	b := &builder{order: order}
	if class == elf.ELFCLASS64 {
		b.put(elf.Sym64{})
		for i, s := range syms {
			b.put(elf.Sym64{
				Name: offs[i], Info: s.Info, Other: s.Other,
				Shndx: uint16(s.Section), Value: s.Value, Size: s.Size,
			})
		}
	} else {
		b.put(elf.Sym32{})
		for i, s := range syms {
			b.put(elf.Sym32{
				Name: offs[i], Value: uint32(s.Value), Size: uint32(s.Size),
				Info: s.Info, Other: s.Other, Shndx: uint16(s.Section),
			})
		}
	}
	return b.buf.Bytes(), strs
}
