// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"debug/elf"
	"encoding/binary"
	"io"
	"sync/atomic"

	"github.com/zeebo/xxh3"
)

// Elf is a descriptor for one opened object file or archive.
//
// A descriptor is not safe for concurrent use. Only its activation count is
// updated atomically; sharing a descriptor between goroutines requires
// external synchronization, or going through a Registry.
type Elf struct {
	activations atomic.Int32

	class   elf.Class
	order   elf.Data
	version elf.Version
	cmd     Cmd
	fd      int
	flags   Flags
	kind    Kind

	// parent is the archive this descriptor is a member of.
	parent *Elf

	// image is the raw content: a memory map, an allocator buffer, a
	// caller supplied buffer or a slice of the parent archive's image.
	image []byte

	alloc Allocator
	mem   []byte
	cfg   *Config

	// closer is called when the last activation of a descriptor opened by
	// OpenPath is dropped.
	closer io.Closer

	obj   *object
	ar    *archive
	arhdr *ArHeader
}

// object holds the state of KindElf descriptors.
type object struct {
	ehdr32  *elf.Header32
	ehdr64  *elf.Header64
	ehdrMem []byte

	progs   []elf.ProgHeader
	phdrMem []byte

	// scns is the section queue, ordered by section index.
	scns         []*Section
	scnsLoaded   bool
	shstrndx     int
	extendedNums bool
}

// Kind returns what the descriptor represents.
func (e *Elf) Kind() Kind { return e.kind }

// Class returns the address class, ELFCLASSNONE until known.
func (e *Elf) Class() elf.Class { return e.class }

// ByteOrder returns the data encoding of the object.
func (e *Elf) ByteOrder() elf.Data { return e.order }

// Version returns the format version of the descriptor.
func (e *Elf) Version() elf.Version { return e.version }

// Cmd returns the command the descriptor was opened with.
func (e *Elf) Cmd() Cmd { return e.cmd }

// Fd returns the file descriptor, or -1 for memory images.
func (e *Elf) Fd() int { return e.fd }

// Flags returns the descriptor flags.
func (e *Elf) Flags() Flags { return e.flags }

// Parent returns the archive containing this member, if any.
func (e *Elf) Parent() *Elf { return e.parent }

// Activations returns the number of activations held on the descriptor.
func (e *Elf) Activations() int { return int(e.activations.Load()) }

// Image returns the raw bytes of the descriptor. The slice must not be
// modified; it may be backed by a read-only memory map.
func (e *Elf) Image() []byte { return e.image }

// Ident returns the identification bytes at the start of the image: the
// archive magic for archives, EI_NIDENT bytes for objects and nil for
// unknown data.
func (e *Elf) Ident() []byte {
	switch e.kind {
	case KindAr:
		return e.image[:len(arMagic)]
	case KindElf:
		if len(e.image) >= elf.EI_NIDENT {
			return e.image[:elf.EI_NIDENT]
		}
	}
	return nil
}

// Fingerprint returns a 128-bit hash of the image.
func (e *Elf) Fingerprint() xxh3.Uint128 {
	return xxh3.Hash128(e.image)
}

// byteOrder returns the encoding/binary order of the object.
func (e *Elf) byteOrder() binary.ByteOrder {
	return fileByteOrder(e.order)
}

// Header returns the ELF file header in class independent form.
func (e *Elf) Header() (elf.FileHeader, error) {
	if e.kind != KindElf {
		return elf.FileHeader{}, ErrNotObject
	}
	hdr := elf.FileHeader{
		Class:   e.class,
		Data:    e.order,
		Version: e.version,
	}
	if e.order == elf.ELFDATA2MSB {
		hdr.ByteOrder = binary.BigEndian
	} else {
		hdr.ByteOrder = binary.LittleEndian
	}
	switch {
	case e.obj.ehdr64 != nil:
		h := e.obj.ehdr64
		hdr.OSABI = elf.OSABI(h.Ident[elf.EI_OSABI])
		hdr.ABIVersion = h.Ident[elf.EI_ABIVERSION]
		hdr.Type = elf.Type(h.Type)
		hdr.Machine = elf.Machine(h.Machine)
		hdr.Entry = h.Entry
	case e.obj.ehdr32 != nil:
		h := e.obj.ehdr32
		hdr.OSABI = elf.OSABI(h.Ident[elf.EI_OSABI])
		hdr.ABIVersion = h.Ident[elf.EI_ABIVERSION]
		hdr.Type = elf.Type(h.Type)
		hdr.Machine = elf.Machine(h.Machine)
		hdr.Entry = uint64(h.Entry)
	}
	return hdr, nil
}

// Section is one section of an ELF object. It belongs to exactly one
// descriptor and is released together with it.
type Section struct {
	// elf is the owning descriptor; it does not keep the descriptor alive.
	elf   *Elf
	index int
	hdr   elf.SectionHeader
	name  uint32

	// data is the queue of cooked buffers, raw the queue of buffers
	// aliasing the image.
	data []*Data
	raw  []*Data

	mem []byte
}

// Index returns the section index.
func (s *Section) Index() int { return s.index }

// Header returns the section header, including the resolved name.
func (s *Section) Header() elf.SectionHeader { return s.hdr }

// Name returns the section name.
func (s *Section) Name() string { return s.hdr.Name }

// Type returns the element type of the section contents.
func (s *Section) Type() Type { return ClassifySection(s.hdr.Type) }

// Handle returns a non-owning reference to the section.
func (s *Section) Handle() SectionHandle {
	return SectionHandle{elf: s.elf, index: s.index}
}

// SectionHandle refers to a section by descriptor and index. It does not
// keep the section alive.
type SectionHandle struct {
	elf   *Elf
	index int
}

// Index returns the index of the referenced section.
func (h SectionHandle) Index() int { return h.index }

// Resolve returns the referenced section, or nil if it has been released.
func (h SectionHandle) Resolve() *Section {
	if h.elf == nil || h.elf.obj == nil {
		return nil
	}
	for _, s := range h.elf.obj.scns {
		if s.index == h.index {
			return s
		}
	}
	return nil
}

// Data is a typed view over a contiguous byte range of a section.
type Data struct {
	// Type is the element type of the records in Buf.
	Type Type
	// Buf holds the bytes. For SHT_NOBITS sections Buf is nil while Size
	// reports the size of the section.
	Buf []byte
	// Size is the number of bytes described by the buffer.
	Size uint64
	// Off is the offset of the buffer within the section.
	Off uint64
	// Align is the required alignment of the buffer.
	Align uint64
	// Version is the format version of the records.
	Version elf.Version

	owner SectionHandle

	// owned is set when bytesMem was obtained from the allocator and has to
	// be freed together with the buffer.
	owned    bool
	bytesMem []byte

	mem []byte
}

// Section returns the section the buffer belongs to.
func (d *Data) Section() *Section { return d.owner.Resolve() }

// Owned reports whether the buffer owns its bytes.
func (d *Data) Owned() bool { return d.owned }
