// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// getString extracts a null terminated string from an ELF string table
func getString(section []byte, start int) (string, bool) {
	if start < 0 || start >= len(section) {
		return "", false
	}
	slen := bytes.IndexByte(section[start:], 0)
	if slen < 0 {
		return "", false
	}
	return string(section[start : start+slen]), true
}

// decodeSectionHeader decodes one section header from b.
func (e *Elf) decodeSectionHeader(b []byte) (hdr elf.SectionHeader, nameOff uint32, err error) {
	r := bytes.NewReader(b)
	if e.class == elf.ELFCLASS64 {
		var sh elf.Section64
		if err = binary.Read(r, e.byteOrder(), &sh); err != nil {
			return hdr, 0, fmt.Errorf("%w: %w", ErrHeader, err)
		}
		hdr = elf.SectionHeader{
			Type:      elf.SectionType(sh.Type),
			Flags:     elf.SectionFlag(sh.Flags),
			Addr:      sh.Addr,
			Offset:    sh.Off,
			Size:      sh.Size,
			Link:      sh.Link,
			Info:      sh.Info,
			Addralign: sh.Addralign,
			Entsize:   sh.Entsize,
		}
		nameOff = sh.Name
	} else {
		var sh elf.Section32
		if err = binary.Read(r, e.byteOrder(), &sh); err != nil {
			return hdr, 0, fmt.Errorf("%w: %w", ErrHeader, err)
		}
		hdr = elf.SectionHeader{
			Type:      elf.SectionType(sh.Type),
			Flags:     elf.SectionFlag(sh.Flags),
			Addr:      uint64(sh.Addr),
			Offset:    uint64(sh.Off),
			Size:      uint64(sh.Size),
			Link:      sh.Link,
			Info:      sh.Info,
			Addralign: uint64(sh.Addralign),
			Entsize:   uint64(sh.Entsize),
		}
		nameOff = sh.Name
	}
	if hdr.Type != elf.SHT_NOBITS {
		hdr.FileSize = hdr.Size
	}
	return hdr, nameOff, nil
}

// firstSectionHeader reads section 0, which holds the real section count,
// string table index and program header count when they overflow the ELF
// header fields.
func (e *Elf) firstSectionHeader(hf headerFields) (elf.SectionHeader, error) {
	b, err := e.imageRange(hf.shoff, uint64(hf.shentsize))
	if err != nil {
		return elf.SectionHeader{}, err
	}
	hdr, _, err := e.decodeSectionHeader(b)
	return hdr, err
}

// loadSections populates the section queue from the section header table.
func (e *Elf) loadSections() error {
	obj := e.obj
	if obj.scnsLoaded {
		return nil
	}
	if obj.ehdr32 == nil && obj.ehdr64 == nil {
		// Object being built from scratch.
		obj.scnsLoaded = true
		return nil
	}

	hf := e.headerFields()
	if hf.shoff == 0 {
		obj.scnsLoaded = true
		return nil
	}
	fsz, err := Fsize(TypeShdr, e.class, e.version, 1)
	if err != nil {
		return err
	}
	if hf.shentsize != fsz {
		return fmt.Errorf("%w: section header entry size %d, expected %d",
			ErrHeader, hf.shentsize, fsz)
	}

	shnum, shstrndx := hf.shnum, hf.shstrndx
	if shnum == 0 || shstrndx == int(elf.SHN_XINDEX) {
		first, err := e.firstSectionHeader(hf)
		if err != nil {
			return err
		}
		if shnum == 0 {
			shnum = int(first.Size)
			obj.extendedNums = true
		}
		if shstrndx == int(elf.SHN_XINDEX) {
			shstrndx = int(first.Link)
		}
	}
	table, err := e.imageRange(hf.shoff, uint64(shnum)*uint64(fsz))
	if err != nil {
		return err
	}

	for i := range shnum {
		hdr, nameOff, err := e.decodeSectionHeader(table[i*fsz:])
		if err == nil {
			var s *Section
			if s, err = allocSection(e, i); err == nil {
				s.hdr = hdr
				s.name = nameOff
			}
		}
		if err != nil {
			e.releaseSections()
			return err
		}
	}

	if shstrndx != int(elf.SHN_UNDEF) && shstrndx < len(obj.scns) {
		strsh := obj.scns[shstrndx].hdr
		strtab, err := e.imageRange(strsh.Offset, strsh.FileSize)
		if err != nil {
			e.releaseSections()
			return err
		}
		for _, s := range obj.scns {
			var ok bool
			if s.hdr.Name, ok = getString(strtab, int(s.name)); !ok && s.index != 0 {
				e.releaseSections()
				return fmt.Errorf("%w: bad section name index (section %d, index %d/%d)",
					ErrHeader, s.index, s.name, len(strtab))
			}
		}
	}
	obj.shstrndx = shstrndx
	obj.scnsLoaded = true
	return nil
}

// releaseSections releases the whole section queue, last section first.
func (e *Elf) releaseSections() {
	for len(e.obj.scns) > 0 {
		releaseSection(e.obj.scns[len(e.obj.scns)-1])
	}
}

// Sections returns the sections of the object, ordered by index.
func (e *Elf) Sections() ([]*Section, error) {
	if e.kind != KindElf {
		return nil, ErrNotObject
	}
	if err := e.loadSections(); err != nil {
		return nil, err
	}
	return e.obj.scns, nil
}

// Section returns the section with the given index.
func (e *Elf) Section(index int) (*Section, error) {
	scns, err := e.Sections()
	if err != nil {
		return nil, err
	}
	for _, s := range scns {
		if s.index == index {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no section %d", ErrRange, index)
}

// SectionByName returns the first section called name, or nil.
func (e *Elf) SectionByName(name string) (*Section, error) {
	scns, err := e.Sections()
	if err != nil {
		return nil, err
	}
	for _, s := range scns {
		if s.hdr.Name == name {
			return s, nil
		}
	}
	return nil, nil
}

// SectionStringIndex returns the index of the section name string table.
func (e *Elf) SectionStringIndex() (int, error) {
	if _, err := e.Sections(); err != nil {
		return 0, err
	}
	return e.obj.shstrndx, nil
}

// fileBytes returns the bytes of the section in the image.
func (s *Section) fileBytes() ([]byte, error) {
	if s.hdr.Type == elf.SHT_NOBITS || s.hdr.Type == elf.SHT_NULL || s.elf.image == nil {
		return nil, nil
	}
	return s.elf.imageRange(s.hdr.Offset, s.hdr.Size)
}

// GetData iterates the cooked data buffers of the section. With prev nil it
// returns the first buffer, translating the section contents into host
// byte order on first use; otherwise it returns the buffer following prev,
// or nil at the end of the queue.
func (s *Section) GetData(prev *Data) (*Data, error) {
	if prev != nil {
		for i, d := range s.data {
			if d == prev {
				if i+1 < len(s.data) {
					return s.data[i+1], nil
				}
				return nil, nil
			}
		}
		return nil, fmt.Errorf("%w: data buffer belongs to another section", ErrArgument)
	}
	if len(s.data) > 0 {
		return s.data[0], nil
	}
	if s.hdr.Type == elf.SHT_NULL || s.elf.image == nil {
		return nil, nil
	}
	return s.cook()
}

func (s *Section) cook() (*Data, error) {
	e := s.elf
	t := ClassifySection(s.hdr.Type)
	if t == TypeUnknown {
		t = TypeByte
	}
	fsz, err := Fsize(t, e.class, e.version, 1)
	if err != nil {
		return nil, err
	}
	msz, err := Msize(t, e.class, e.version)
	if err != nil {
		return nil, err
	}
	src, err := s.fileBytes()
	if err != nil {
		return nil, err
	}
	if len(src)%fsz != 0 {
		return nil, fmt.Errorf("%w: section %d size %d is not a multiple of %d",
			ErrHeader, s.index, len(src), fsz)
	}

	d, err := allocData(s)
	if err != nil {
		return nil, err
	}
	d.Type = t
	d.Size = s.hdr.Size
	d.Align = s.hdr.Addralign
	d.Version = e.version

	if count := len(src) / fsz; count > 0 {
		buf := e.alloc.Alloc(count * msz)
		if buf == nil {
			releaseData(d)
			return nil, ErrNoMemory
		}
		xlateToMemory(buf, src, t, e.class, e.order, count)
		d.Buf = buf
		d.bytesMem = buf
		d.owned = true
		d.Size = uint64(len(buf))
	}
	s.data = append(s.data, d)
	return d, nil
}

// RawData returns the untranslated contents of the section. The buffer
// aliases the image and never owns its bytes.
func (s *Section) RawData() (*Data, error) {
	if len(s.raw) > 0 {
		return s.raw[0], nil
	}
	buf, err := s.fileBytes()
	if err != nil {
		return nil, err
	}
	d, err := allocData(s)
	if err != nil {
		return nil, err
	}
	d.Type = TypeByte
	d.Buf = buf
	d.Size = s.hdr.Size
	d.Align = 1
	d.Version = s.elf.version
	s.raw = append(s.raw, d)
	return d, nil
}

// NewData appends an empty data buffer to the section. The caller fills in
// Type, Buf and Size; the buffer does not own the bytes assigned to Buf.
func (s *Section) NewData() (*Data, error) {
	d, err := allocData(s)
	if err != nil {
		return nil, err
	}
	d.Type = TypeByte
	d.Align = 1
	d.Version = s.elf.version
	s.data = append(s.data, d)
	s.elf.flags |= FlagDirty
	return d, nil
}

// NewHeader creates the file header of an object being built and fixes its
// address class.
func (e *Elf) NewHeader(class elf.Class) error {
	if e.kind != KindElf {
		return ErrNotObject
	}
	if !validClass(class) {
		return fmt.Errorf("%w: class %v", ErrRange, class)
	}
	if e.obj.ehdr32 != nil || e.obj.ehdr64 != nil {
		return nil
	}
	if e.cmd == CmdRead {
		return fmt.Errorf("%w: descriptor is read-only", ErrArgument)
	}
	msz, err := Msize(TypeEhdr, class, e.version)
	if err != nil {
		return err
	}
	mem := e.alloc.Alloc(msz)
	if mem == nil {
		return ErrNoMemory
	}

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elfMagic)
	ident[elf.EI_CLASS] = byte(class)
	ident[elf.EI_DATA] = byte(e.order)
	ident[elf.EI_VERSION] = byte(e.version)
	if class == elf.ELFCLASS64 {
		e.obj.ehdr64 = &elf.Header64{Ident: ident, Version: uint32(e.version)}
	} else {
		e.obj.ehdr32 = &elf.Header32{Ident: ident, Version: uint32(e.version)}
	}
	e.obj.ehdrMem = mem
	e.class = class
	e.flags |= FlagDirty
	return nil
}

// NewSection appends a section to an object being built. The null section
// with index 0 is created first if the object has no sections yet.
func (e *Elf) NewSection() (*Section, error) {
	if e.kind != KindElf {
		return nil, ErrNotObject
	}
	if e.cmd == CmdRead {
		return nil, fmt.Errorf("%w: descriptor is read-only", ErrArgument)
	}
	if !validClass(e.class) {
		return nil, fmt.Errorf("%w: file header not created", ErrSequence)
	}
	if err := e.loadSections(); err != nil {
		return nil, err
	}
	if len(e.obj.scns) == 0 {
		if _, err := allocSection(e, 0); err != nil {
			return nil, err
		}
	}
	s, err := allocSection(e, e.obj.scns[len(e.obj.scns)-1].index+1)
	if err != nil {
		return nil, err
	}
	e.flags |= FlagDirty
	return s, nil
}

// RemoveSection releases a section and all of its data buffers.
func (e *Elf) RemoveSection(s *Section) error {
	if s == nil || s.elf != e || s.mem == nil {
		return fmt.Errorf("%w: section does not belong to descriptor", ErrArgument)
	}
	releaseSection(s)
	e.flags |= FlagDirty
	return nil
}

// Progs returns the program headers of the object.
func (e *Elf) Progs() ([]elf.ProgHeader, error) {
	if e.kind != KindElf {
		return nil, ErrNotObject
	}
	obj := e.obj
	if obj.progs != nil || (obj.ehdr32 == nil && obj.ehdr64 == nil) {
		return obj.progs, nil
	}
	hf := e.headerFields()
	phnum := hf.phnum
	if phnum == 0xffff && hf.shoff != 0 {
		// PN_XNUM: the real count is kept in section 0.
		first, err := e.firstSectionHeader(hf)
		if err != nil {
			return nil, err
		}
		phnum = int(first.Info)
	}
	if phnum == 0 || hf.phoff == 0 {
		return nil, nil
	}
	fsz, err := Fsize(TypePhdr, e.class, e.version, 1)
	if err != nil {
		return nil, err
	}
	if hf.phentsize != fsz {
		return nil, fmt.Errorf("%w: program header entry size %d, expected %d",
			ErrHeader, hf.phentsize, fsz)
	}
	table, err := e.imageRange(hf.phoff, uint64(phnum)*uint64(fsz))
	if err != nil {
		return nil, err
	}
	msz, err := Msize(TypePhdr, e.class, e.version)
	if err != nil {
		return nil, err
	}
	mem := e.alloc.Alloc(phnum * msz)
	if mem == nil {
		return nil, ErrNoMemory
	}

	progs := make([]elf.ProgHeader, phnum)
	r := bytes.NewReader(table)
	for i := range progs {
		if e.class == elf.ELFCLASS64 {
			var ph elf.Prog64
			err = binary.Read(r, e.byteOrder(), &ph)
			progs[i] = elf.ProgHeader{
				Type: elf.ProgType(ph.Type), Flags: elf.ProgFlag(ph.Flags),
				Off: ph.Off, Vaddr: ph.Vaddr, Paddr: ph.Paddr,
				Filesz: ph.Filesz, Memsz: ph.Memsz, Align: ph.Align,
			}
		} else {
			var ph elf.Prog32
			err = binary.Read(r, e.byteOrder(), &ph)
			progs[i] = elf.ProgHeader{
				Type: elf.ProgType(ph.Type), Flags: elf.ProgFlag(ph.Flags),
				Off: uint64(ph.Off), Vaddr: uint64(ph.Vaddr), Paddr: uint64(ph.Paddr),
				Filesz: uint64(ph.Filesz), Memsz: uint64(ph.Memsz), Align: uint64(ph.Align),
			}
		}
		if err != nil {
			e.alloc.Free(mem)
			return nil, fmt.Errorf("%w: %w", ErrHeader, err)
		}
	}
	obj.progs = progs
	obj.phdrMem = mem
	return progs, nil
}

// Symbols returns the entries of the symbol table, or of the dynamic symbol
// table if the object has no SHT_SYMTAB section. The null symbol at index 0
// is skipped.
func (e *Elf) Symbols() ([]elf.Symbol, error) {
	scns, err := e.Sections()
	if err != nil {
		return nil, err
	}
	var symtab *Section
	for _, s := range scns {
		if s.hdr.Type == elf.SHT_SYMTAB {
			symtab = s
			break
		}
		if s.hdr.Type == elf.SHT_DYNSYM && symtab == nil {
			symtab = s
		}
	}
	if symtab == nil {
		return nil, ErrNoSymbols
	}

	d, err := symtab.GetData(nil)
	if err != nil {
		return nil, err
	}
	strsec, err := e.Section(int(symtab.hdr.Link))
	if err != nil {
		return nil, err
	}
	strtab, err := strsec.RawData()
	if err != nil {
		return nil, err
	}
	msz, err := Msize(TypeSym, e.class, e.version)
	if err != nil {
		return nil, err
	}
	if d == nil || len(d.Buf) < msz {
		return nil, nil
	}

	ne := binary.NativeEndian
	syms := make([]elf.Symbol, 0, len(d.Buf)/msz-1)
	for off := msz; off+msz <= len(d.Buf); off += msz {
		rec := d.Buf[off : off+msz]
		var sym elf.Symbol
		var nameOff uint32
		if e.class == elf.ELFCLASS64 {
			nameOff = ne.Uint32(rec[0:])
			sym.Info = rec[4]
			sym.Other = rec[5]
			sym.Section = elf.SectionIndex(ne.Uint16(rec[6:]))
			sym.Value = ne.Uint64(rec[8:])
			sym.Size = ne.Uint64(rec[16:])
		} else {
			nameOff = ne.Uint32(rec[0:])
			sym.Value = uint64(ne.Uint32(rec[4:]))
			sym.Size = uint64(ne.Uint32(rec[8:]))
			sym.Info = rec[12]
			sym.Other = rec[13]
			sym.Section = elf.SectionIndex(ne.Uint16(rec[14:]))
		}
		sym.Name, _ = getString(strtab.Buf, int(nameOff))
		syms = append(syms, sym)
	}
	return syms, nil
}
