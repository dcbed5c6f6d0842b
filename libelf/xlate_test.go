// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf

import (
	"debug/elf"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXlateSym(t *testing.T) {
	want := elf.Sym64{
		Name:  0x01020304,
		Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
		Other: 2,
		Shndx: 0x0506,
		Value: 0x1122334455667788,
		Size:  0x99,
	}
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		data := elf.ELFDATA2LSB
		if order == binary.BigEndian {
			data = elf.ELFDATA2MSB
		}
		src, err := binary.Append(nil, order, []elf.Sym64{want, want})
		require.NoError(t, err)

		dst := make([]byte, 2*unsafe.Sizeof(want))
		xlateToMemory(dst, src, TypeSym, elf.ELFCLASS64, data, 2)

		got := (*[2]elf.Sym64)(unsafe.Pointer(&dst[0]))
		assert.Equal(t, want, got[0], "%v", data)
		assert.Equal(t, want, got[1], "%v", data)
	}
}

func TestXlatePadding(t *testing.T) {
	// Move records are packed in files and padded in memory.
	src := make([]byte, 20)
	binary.BigEndian.PutUint64(src[0:], 0xaabbccddeeff0011)
	binary.BigEndian.PutUint32(src[8:], 7)
	binary.BigEndian.PutUint32(src[12:], 9)
	binary.BigEndian.PutUint16(src[16:], 3)
	binary.BigEndian.PutUint16(src[18:], 4)

	dst := make([]byte, 24)
	xlateToMemory(dst, src, TypeMove, elf.ELFCLASS32, elf.ELFDATA2MSB, 1)

	ne := binary.NativeEndian
	assert.Equal(t, uint64(0xaabbccddeeff0011), ne.Uint64(dst[0:]))
	assert.Equal(t, uint32(7), ne.Uint32(dst[8:]))
	assert.Equal(t, uint32(9), ne.Uint32(dst[12:]))
	assert.Equal(t, uint16(3), ne.Uint16(dst[16:]))
	assert.Equal(t, uint16(4), ne.Uint16(dst[18:]))
	assert.Equal(t, []byte{0, 0, 0, 0}, dst[20:])
}

func elfData(order binary.AppendByteOrder) elf.Data {
	if order == binary.BigEndian {
		return elf.ELFDATA2MSB
	}
	return elf.ELFDATA2LSB
}

func TestXlateVersionRecords(t *testing.T) {
	ne := binary.NativeEndian
	for _, order := range []binary.AppendByteOrder{binary.LittleEndian, binary.BigEndian} {
		// Two definitions, the second with two auxiliary entries.
		var vd []byte
		vd = order.AppendUint16(vd, 1)      // version
		vd = order.AppendUint16(vd, 1)      // flags
		vd = order.AppendUint16(vd, 1)      // ndx
		vd = order.AppendUint16(vd, 1)      // cnt
		vd = order.AppendUint32(vd, 0xabcd) // hash
		vd = order.AppendUint32(vd, 20)     // aux
		vd = order.AppendUint32(vd, 28)     // next
		vd = order.AppendUint32(vd, 0x11)   // name
		vd = order.AppendUint32(vd, 0)      // next aux
		vd = order.AppendUint16(vd, 1)
		vd = order.AppendUint16(vd, 0)
		vd = order.AppendUint16(vd, 2)
		vd = order.AppendUint16(vd, 2)
		vd = order.AppendUint32(vd, 0x1234)
		vd = order.AppendUint32(vd, 20)
		vd = order.AppendUint32(vd, 0)
		vd = order.AppendUint32(vd, 0x22)
		vd = order.AppendUint32(vd, 8)
		vd = order.AppendUint32(vd, 0x33)
		vd = order.AppendUint32(vd, 0)

		dst := make([]byte, len(vd))
		xlateToMemory(dst, vd, TypeVdef, elf.ELFCLASS64, elfData(order), len(vd))
		assert.Equal(t, uint16(1), ne.Uint16(dst[6:]), "%v", order)
		assert.Equal(t, uint32(0xabcd), ne.Uint32(dst[8:]))
		assert.Equal(t, uint32(28), ne.Uint32(dst[16:]))
		assert.Equal(t, uint32(0x11), ne.Uint32(dst[20:]))
		assert.Equal(t, uint16(2), ne.Uint16(dst[28+4:]))
		assert.Equal(t, uint32(0x1234), ne.Uint32(dst[28+8:]))
		assert.Equal(t, uint32(0x22), ne.Uint32(dst[48:]))
		assert.Equal(t, uint32(8), ne.Uint32(dst[52:]))
		assert.Equal(t, uint32(0x33), ne.Uint32(dst[56:]))

		// One requirement with one auxiliary entry.
		var vn []byte
		vn = order.AppendUint16(vn, 1)          // version
		vn = order.AppendUint16(vn, 1)          // cnt
		vn = order.AppendUint32(vn, 0x44)       // file
		vn = order.AppendUint32(vn, 16)         // aux
		vn = order.AppendUint32(vn, 0)          // next
		vn = order.AppendUint32(vn, 0x0d696910) // hash
		vn = order.AppendUint16(vn, 0x2)        // flags
		vn = order.AppendUint16(vn, 3)          // other
		vn = order.AppendUint32(vn, 0x55)       // name
		vn = order.AppendUint32(vn, 0)          // next aux

		dst = make([]byte, len(vn))
		xlateToMemory(dst, vn, TypeVneed, elf.ELFCLASS32, elfData(order), len(vn))
		assert.Equal(t, uint16(1), ne.Uint16(dst[2:]), "%v", order)
		assert.Equal(t, uint32(0x44), ne.Uint32(dst[4:]))
		assert.Equal(t, uint32(16), ne.Uint32(dst[8:]))
		assert.Equal(t, uint32(0x0d696910), ne.Uint32(dst[16:]))
		assert.Equal(t, uint16(2), ne.Uint16(dst[20:]))
		assert.Equal(t, uint16(3), ne.Uint16(dst[22:]))
		assert.Equal(t, uint32(0x55), ne.Uint32(dst[24:]))
	}
}

func TestXlateGNUHash(t *testing.T) {
	ne := binary.NativeEndian
	for _, class := range []elf.Class{elf.ELFCLASS32, elf.ELFCLASS64} {
		for _, order := range []binary.AppendByteOrder{binary.LittleEndian, binary.BigEndian} {
			word := 4
			if class == elf.ELFCLASS64 {
				word = 8
			}
			var src []byte
			for _, v := range []uint32{2, 1, 2, 6} {
				src = order.AppendUint32(src, v)
			}
			for _, v := range []uint64{0x0102030405060708, 0x1112131415161718} {
				if word == 8 {
					src = order.AppendUint64(src, v)
				} else {
					src = order.AppendUint32(src, uint32(v))
				}
			}
			// Two buckets and three chain entries.
			for _, v := range []uint32{1, 3, 0xaaaa0000, 0xbbbb0001, 0xcccc0001} {
				src = order.AppendUint32(src, v)
			}

			dst := make([]byte, len(src))
			xlateToMemory(dst, src, TypeGNUHash, class, elfData(order), len(src))
			assert.Equal(t, uint32(2), ne.Uint32(dst[0:]), "%v/%v", class, order)
			assert.Equal(t, uint32(6), ne.Uint32(dst[12:]))
			if word == 8 {
				assert.Equal(t, uint64(0x0102030405060708), ne.Uint64(dst[16:]))
				assert.Equal(t, uint64(0x1112131415161718), ne.Uint64(dst[24:]))
			} else {
				assert.Equal(t, uint32(0x05060708), ne.Uint32(dst[16:]))
				assert.Equal(t, uint32(0x15161718), ne.Uint32(dst[20:]))
			}
			tail := 16 + 2*word
			assert.Equal(t, uint32(3), ne.Uint32(dst[tail+4:]))
			assert.Equal(t, uint32(0xcccc0001), ne.Uint32(dst[tail+16:]))
		}
	}
}

func TestXlateRecordsStopAtTruncation(t *testing.T) {
	// A note whose sizes run past the end and a definition whose links
	// point outside the buffer keep only the headers that fit.
	note := binary.BigEndian.AppendUint32(nil, 0xffffff00)
	note = binary.BigEndian.AppendUint32(note, 0xffffff00)
	note = binary.BigEndian.AppendUint32(note, 1)
	note = append(note, 'x', 'y')
	dst := make([]byte, len(note))
	require.NotPanics(t, func() {
		xlateToMemory(dst, note, TypeNote, elf.ELFCLASS64, elf.ELFDATA2MSB, len(note))
	})
	assert.Equal(t, uint32(1), binary.NativeEndian.Uint32(dst[8:]))
	assert.Equal(t, []byte{'x', 'y'}, dst[12:])

	vd := make([]byte, 20)
	binary.BigEndian.PutUint16(vd[6:], 3)
	binary.BigEndian.PutUint32(vd[12:], 0xfffffff0)
	binary.BigEndian.PutUint32(vd[16:], 0xfffffff0)
	dst = make([]byte, len(vd))
	require.NotPanics(t, func() {
		xlateToMemory(dst, vd, TypeVdef, elf.ELFCLASS32, elf.ELFDATA2MSB, len(vd))
	})
	assert.Equal(t, uint16(3), binary.NativeEndian.Uint16(dst[6:]))

	hash := binary.BigEndian.AppendUint32(nil, 1)
	hash = binary.BigEndian.AppendUint32(hash, 0)
	hash = binary.BigEndian.AppendUint32(hash, 0x40000000)
	hash = binary.BigEndian.AppendUint32(hash, 0)
	dst = make([]byte, len(hash))
	require.NotPanics(t, func() {
		xlateToMemory(dst, hash, TypeGNUHash, elf.ELFCLASS64, elf.ELFDATA2MSB, len(hash))
	})
	assert.Equal(t, uint32(0x40000000), binary.NativeEndian.Uint32(dst[8:]))
}
