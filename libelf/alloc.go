// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"debug/elf"
	"unsafe"
)

// Allocator provides the memory charged for descriptors and the byte spans
// they own. Alloc returns a zeroed buffer of the requested size, or nil when
// no memory is available. Free receives every buffer handed out by Alloc
// exactly once.
type Allocator interface {
	Alloc(size int) []byte
	Free(buf []byte)
}

// HeapAllocator is the default Allocator backed by the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(size int) []byte { return make([]byte, size) }

func (HeapAllocator) Free([]byte) {}

// Sizes charged against the allocator for each descriptor kind.
var (
	elfDescSize     = int(unsafe.Sizeof(Elf{}))
	sectionDescSize = int(unsafe.Sizeof(Section{}))
	dataDescSize    = int(unsafe.Sizeof(Data{}))
)

// allocObject returns a fresh descriptor with a single activation. The
// allocator is kept for the whole lifetime of the descriptor; nil selects the
// Config default.
func allocObject(cfg *Config, alloc Allocator) (*Elf, error) {
	if alloc == nil {
		alloc = cfg.alloc
	}
	mem := alloc.Alloc(elfDescSize)
	if mem == nil {
		return nil, ErrNoMemory
	}
	e := &Elf{
		class:   elf.ELFCLASSNONE,
		order:   elf.ELFDATANONE,
		version: cfg.version,
		cmd:     CmdNull,
		fd:      -1,
		kind:    KindNone,
		alloc:   alloc,
		mem:     mem,
		cfg:     cfg,
	}
	e.activations.Store(1)
	return e, nil
}

// initKind assigns the kind of a descriptor. The kind can be set only once.
func initKind(e *Elf, kind Kind) {
	if e.kind != KindNone {
		panic("libelf: descriptor kind already set")
	}
	e.kind = kind
	switch kind {
	case KindElf:
		e.obj = &object{}
	case KindAr:
		e.ar = &archive{}
	}
}

// releaseObject frees the descriptor and the format specific state it owns.
// Sections must have been released before.
func releaseObject(e *Elf) *Elf {
	switch e.kind {
	case KindElf:
		if obj := e.obj; obj != nil {
			if validClass(e.class) {
				if obj.ehdrMem != nil {
					e.alloc.Free(obj.ehdrMem)
					obj.ehdrMem = nil
				}
				if obj.phdrMem != nil {
					e.alloc.Free(obj.phdrMem)
					obj.phdrMem = nil
				}
			}
			if len(obj.scns) != 0 {
				panic("libelf: releasing descriptor with live sections")
			}
		}
	case KindAr:
		if ar := e.ar; ar != nil && ar.arsymMem != nil {
			e.alloc.Free(ar.arsymMem)
			ar.arsymMem = nil
		}
	}

	if h := e.arhdr; h != nil {
		if h.nameMem != nil {
			e.alloc.Free(h.nameMem)
		}
		if h.rawNameMem != nil {
			e.alloc.Free(h.rawNameMem)
		}
		e.alloc.Free(h.mem)
		e.arhdr = nil
	}

	e.alloc.Free(e.mem)
	e.mem = nil
	return nil
}

// allocData returns an empty data buffer owned by s.
func allocData(s *Section) (*Data, error) {
	e := s.elf
	mem := e.alloc.Alloc(dataDescSize)
	if mem == nil {
		return nil, ErrNoMemory
	}
	return &Data{
		owner: SectionHandle{elf: e, index: s.index},
		mem:   mem,
	}, nil
}

// releaseData frees a data buffer, and its bytes if it owns them.
func releaseData(d *Data) *Data {
	alloc := d.owner.elf.alloc
	if d.owned {
		alloc.Free(d.bytesMem)
		d.bytesMem = nil
		d.Buf = nil
		d.owned = false
	}
	alloc.Free(d.mem)
	d.mem = nil
	return nil
}

// allocSection creates a section with the given index and appends it to the
// section queue of e. Keeping the queue ordered by index is left to callers.
func allocSection(e *Elf, index int) (*Section, error) {
	mem := e.alloc.Alloc(sectionDescSize)
	if mem == nil {
		return nil, ErrNoMemory
	}
	s := &Section{
		elf:   e,
		index: index,
		mem:   mem,
	}
	e.obj.scns = append(e.obj.scns, s)
	return s, nil
}

// releaseSection releases every data buffer of s, unlinks s from its
// descriptor and frees it.
func releaseSection(s *Section) *Section {
	for _, d := range s.data {
		releaseData(d)
	}
	s.data = nil
	for _, d := range s.raw {
		if d.owned {
			panic("libelf: raw data buffer owns its bytes")
		}
		releaseData(d)
	}
	s.raw = nil

	e := s.elf
	scns := e.obj.scns
	for i, other := range scns {
		if other == s {
			copy(scns[i:], scns[i+1:])
			scns[len(scns)-1] = nil
			e.obj.scns = scns[:len(scns)-1]
			break
		}
	}
	e.alloc.Free(s.mem)
	s.mem = nil
	return nil
}
