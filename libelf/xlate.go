// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"debug/elf"
	"encoding/binary"
)

// memLayoutSize returns the size of one element laid out in memory with
// every field naturally aligned.
func memLayoutSize(layout []uint8) int {
	off, maxAlign := 0, 1
	for _, w := range layout {
		off = alignUp(off, int(w)) + int(w)
		maxAlign = max(maxAlign, int(w))
	}
	return alignUp(off, maxAlign)
}

func alignUp(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

// xlateToMemory converts count elements of type t from their file
// representation in src, encoded with order, into the memory representation
// in host byte order in dst.
func xlateToMemory(dst, src []byte, t Type, class elf.Class, order elf.Data, count int) {
	layout := fieldLayouts[t][classIndex(class)]
	fsz := layoutSize(layout)
	msz := memLayoutSize(layout)
	swap := order != HostByteOrder()

	if fix := recordXlators[t]; fix != nil {
		copy(dst, src[:count])
		if swap {
			fix(dst[:count], class, fileByteOrder(order))
		}
		return
	}
	if !swap && fsz == msz {
		copy(dst, src[:fsz*count])
		return
	}
	for i := range count {
		s := src[i*fsz : (i+1)*fsz]
		d := dst[i*msz : (i+1)*msz]
		so, do := 0, 0
		for _, w := range layout {
			width := int(w)
			do = alignUp(do, width)
			copyField(d[do:do+width], s[so:so+width], swap)
			so += width
			do += width
		}
	}
}

func copyField(dst, src []byte, swap bool) {
	if !swap || len(src) == 1 {
		copy(dst, src)
		return
	}
	n := len(src)
	for i := range n {
		dst[i] = src[n-1-i]
	}
}

func fileByteOrder(order elf.Data) binary.ByteOrder {
	if order == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// recordXlators swap the words of byte sized types whose contents are
// variable length records. Each one works in place on a copy of the file
// bytes, reading the record links in file order before swapping them.
// Translation stops at the first record that does not fit.
var recordXlators = [TypeNum]func(b []byte, class elf.Class, order binary.ByteOrder){
	TypeNote:    xlateNotes,
	TypeVdef:    xlateVerdefs,
	TypeVneed:   xlateVerneeds,
	TypeGNUHash: xlateGNUHash,
}

func swapInPlace(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// swapFields swaps consecutive fields of the given widths starting at off.
func swapFields(b []byte, off int, widths ...int) {
	for _, w := range widths {
		swapInPlace(b[off : off+w])
		off += w
	}
}

// fits reports whether size bytes at off lie within b.
func fits(b []byte, off, size uint64) bool {
	return off <= uint64(len(b)) && size <= uint64(len(b))-off
}

// xlateNotes translates note headers (namesz, descsz, type). Name and
// descriptor bytes are left alone and padded to four bytes in both classes.
func xlateNotes(b []byte, _ elf.Class, order binary.ByteOrder) {
	const hdrSize = 12
	off := uint64(0)
	for fits(b, off, hdrSize) {
		namesz := uint64(order.Uint32(b[off:]))
		descsz := uint64(order.Uint32(b[off+4:]))
		swapFields(b, int(off), 4, 4, 4)
		off += hdrSize + (namesz+3)&^3 + (descsz+3)&^3
	}
}

// xlateVerdefs translates a chain of version definitions and their
// auxiliary name entries.
func xlateVerdefs(b []byte, _ elf.Class, order binary.ByteOrder) {
	const defSize, auxSize = 20, 8
	off := uint64(0)
	for fits(b, off, defSize) {
		cnt := order.Uint16(b[off+6:])
		aux := uint64(order.Uint32(b[off+12:]))
		next := uint64(order.Uint32(b[off+16:]))
		swapFields(b, int(off), 2, 2, 2, 2, 4, 4, 4)

		a := off + aux
		for range cnt {
			if aux == 0 || !fits(b, a, auxSize) {
				break
			}
			anext := uint64(order.Uint32(b[a+4:]))
			swapFields(b, int(a), 4, 4)
			if anext == 0 {
				break
			}
			a += anext
		}
		if next == 0 {
			return
		}
		off += next
	}
}

// xlateVerneeds translates a chain of version requirements and their
// auxiliary entries.
func xlateVerneeds(b []byte, _ elf.Class, order binary.ByteOrder) {
	const needSize, auxSize = 16, 16
	off := uint64(0)
	for fits(b, off, needSize) {
		cnt := order.Uint16(b[off+2:])
		aux := uint64(order.Uint32(b[off+8:]))
		next := uint64(order.Uint32(b[off+12:]))
		swapFields(b, int(off), 2, 2, 4, 4, 4)

		a := off + aux
		for range cnt {
			if aux == 0 || !fits(b, a, auxSize) {
				break
			}
			anext := uint64(order.Uint32(b[a+12:]))
			swapFields(b, int(a), 4, 2, 2, 4, 4)
			if anext == 0 {
				break
			}
			a += anext
		}
		if next == 0 {
			return
		}
		off += next
	}
}

// xlateGNUHash translates a GNU hash table: four header words, the bloom
// filter of address sized words, then 32-bit buckets and chains up to the
// end of the section.
func xlateGNUHash(b []byte, class elf.Class, order binary.ByteOrder) {
	const hdrSize = 16
	if len(b) < hdrSize {
		return
	}
	bloomSize := uint64(order.Uint32(b[8:]))
	swapFields(b, 0, 4, 4, 4, 4)

	word := uint64(4)
	if class == elf.ELFCLASS64 {
		word = 8
	}
	off := uint64(hdrSize)
	if bloomSize > (uint64(len(b))-off)/word {
		return
	}
	for range bloomSize {
		swapInPlace(b[off : off+word])
		off += word
	}
	for ; fits(b, off, 4); off += 4 {
		swapInPlace(b[off : off+4])
	}
}
