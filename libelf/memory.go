// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// identify builds a descriptor over image, classifying it as an ELF object,
// an ar archive or unknown data. The descriptor aliases image; ownership of
// the bytes stays with the caller until flags are stamped on the result.
func identify(cfg *Config, image []byte, alloc Allocator) (*Elf, error) {
	e, err := allocObject(cfg, alloc)
	if err != nil {
		return nil, err
	}
	e.image = image

	switch {
	case bytes.HasPrefix(image, []byte(arMagic)):
		initKind(e, KindAr)
		err = e.loadArchive()
	case bytes.HasPrefix(image, elfMagic):
		initKind(e, KindElf)
		err = e.loadHeader()
	}
	if err != nil {
		releaseObject(e)
		return nil, err
	}
	return e, nil
}

// OpenMemory returns a read descriptor over an in-memory image, such as a
// freshly built kernel binary. The image must stay unmodified while the
// descriptor is in use.
func OpenMemory(cfg *Config, image []byte) (*Elf, error) {
	if cfg == nil || cfg.version == elf.EV_NONE {
		return nil, ErrSequence
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidArgument)
	}
	e, err := cfg.ops.identify(cfg, image, nil)
	if err != nil {
		return nil, err
	}
	e.cmd = CmdRead
	return e, nil
}

// loadHeader decodes the ELF file header at the start of the image.
func (e *Elf) loadHeader() error {
	if len(e.image) < elf.EI_NIDENT {
		return fmt.Errorf("%w: truncated identification", ErrHeader)
	}
	ident := e.image[:elf.EI_NIDENT]

	class := elf.Class(ident[elf.EI_CLASS])
	if !validClass(class) {
		return fmt.Errorf("%w: class %v", ErrHeader, class)
	}
	order := elf.Data(ident[elf.EI_DATA])
	if order != elf.ELFDATA2LSB && order != elf.ELFDATA2MSB {
		return fmt.Errorf("%w: data encoding %v", ErrHeader, order)
	}
	if v := elf.Version(ident[elf.EI_VERSION]); v != elf.EV_CURRENT {
		return fmt.Errorf("%w: %d", ErrVersion, v)
	}
	e.class = class
	e.order = order
	e.version = elf.EV_CURRENT

	ehsize, err := Fsize(TypeEhdr, class, e.version, 1)
	if err != nil {
		return err
	}
	if len(e.image) < ehsize {
		return fmt.Errorf("%w: truncated header (%d < %d bytes)", ErrHeader,
			len(e.image), ehsize)
	}
	msize, err := Msize(TypeEhdr, class, e.version)
	if err != nil {
		return err
	}
	mem := e.alloc.Alloc(msize)
	if mem == nil {
		return ErrNoMemory
	}

	r := bytes.NewReader(e.image[:ehsize])
	if class == elf.ELFCLASS64 {
		hdr := new(elf.Header64)
		err = binary.Read(r, e.byteOrder(), hdr)
		e.obj.ehdr64 = hdr
	} else {
		hdr := new(elf.Header32)
		err = binary.Read(r, e.byteOrder(), hdr)
		e.obj.ehdr32 = hdr
	}
	if err != nil {
		e.alloc.Free(mem)
		return fmt.Errorf("%w: %w", ErrHeader, err)
	}
	e.obj.ehdrMem = mem
	return nil
}

// headerFields are the class independent header fields needed to locate
// the program and section header tables.
type headerFields struct {
	phoff, shoff               uint64
	phentsize, phnum           int
	shentsize, shnum, shstrndx int
}

func (e *Elf) headerFields() headerFields {
	if h := e.obj.ehdr64; h != nil {
		return headerFields{
			phoff: h.Phoff, shoff: h.Shoff,
			phentsize: int(h.Phentsize), phnum: int(h.Phnum),
			shentsize: int(h.Shentsize), shnum: int(h.Shnum), shstrndx: int(h.Shstrndx),
		}
	}
	h := e.obj.ehdr32
	return headerFields{
		phoff: uint64(h.Phoff), shoff: uint64(h.Shoff),
		phentsize: int(h.Phentsize), phnum: int(h.Phnum),
		shentsize: int(h.Shentsize), shnum: int(h.Shnum), shstrndx: int(h.Shstrndx),
	}
}

// imageRange returns image[off:off+size] after checking the bounds.
func (e *Elf) imageRange(off, size uint64) ([]byte, error) {
	end := off + size
	if end < off || end > uint64(len(e.image)) {
		return nil, fmt.Errorf("%w: range 0x%x+0x%x exceeds image of %d bytes",
			ErrHeader, off, size, len(e.image))
	}
	return e.image[off:end], nil
}
