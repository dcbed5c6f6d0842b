// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf

import (
	"debug/elf"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsizeMatchesRecordTypes(t *testing.T) {
	tests := map[string]struct {
		typ   Type
		class elf.Class
		size  uintptr
	}{
		"ehdr32": {TypeEhdr, elf.ELFCLASS32, unsafe.Sizeof(elf.Header32{})},
		"ehdr64": {TypeEhdr, elf.ELFCLASS64, unsafe.Sizeof(elf.Header64{})},
		"phdr32": {TypePhdr, elf.ELFCLASS32, unsafe.Sizeof(elf.Prog32{})},
		"phdr64": {TypePhdr, elf.ELFCLASS64, unsafe.Sizeof(elf.Prog64{})},
		"shdr32": {TypeShdr, elf.ELFCLASS32, unsafe.Sizeof(elf.Section32{})},
		"shdr64": {TypeShdr, elf.ELFCLASS64, unsafe.Sizeof(elf.Section64{})},
		"sym32":  {TypeSym, elf.ELFCLASS32, unsafe.Sizeof(elf.Sym32{})},
		"sym64":  {TypeSym, elf.ELFCLASS64, unsafe.Sizeof(elf.Sym64{})},
		"rel32":  {TypeRel, elf.ELFCLASS32, unsafe.Sizeof(elf.Rel32{})},
		"rel64":  {TypeRel, elf.ELFCLASS64, unsafe.Sizeof(elf.Rel64{})},
		"rela32": {TypeRela, elf.ELFCLASS32, unsafe.Sizeof(elf.Rela32{})},
		"rela64": {TypeRela, elf.ELFCLASS64, unsafe.Sizeof(elf.Rela64{})},
		"dyn32":  {TypeDyn, elf.ELFCLASS32, unsafe.Sizeof(elf.Dyn32{})},
		"dyn64":  {TypeDyn, elf.ELFCLASS64, unsafe.Sizeof(elf.Dyn64{})},
		"chdr32": {TypeChdr, elf.ELFCLASS32, unsafe.Sizeof(elf.Chdr32{})},
		"chdr64": {TypeChdr, elf.ELFCLASS64, unsafe.Sizeof(elf.Chdr64{})},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			sz, err := Msize(tc.typ, tc.class, elf.EV_CURRENT)
			require.NoError(t, err)
			assert.Equal(t, int(tc.size), sz)
		})
	}
}

func TestSizeTablesConsistent(t *testing.T) {
	for typ := range TypeNum {
		for _, class := range []elf.Class{elf.ELFCLASS32, elf.ELFCLASS64} {
			layout := fieldLayouts[typ][classIndex(class)]
			want := memSizes[typ].size32
			if class == elf.ELFCLASS64 {
				want = memSizes[typ].size64
			}
			assert.Equal(t, want, memLayoutSize(layout), "%v %v", typ, class)
			assert.Equal(t, want == 0, layout == nil, "%v %v", typ, class)
		}
	}
}

func TestMsizeVersion(t *testing.T) {
	for typ := range TypeNum {
		for _, class := range []elf.Class{elf.ELFCLASS32, elf.ELFCLASS64} {
			for _, v := range []elf.Version{elf.EV_NONE, elf.EV_CURRENT + 1, 0xff} {
				_, err := Msize(typ, class, v)
				require.ErrorIs(t, err, ErrVersion, "%v %v %v", typ, class, v)
				_, err = Fsize(typ, class, v, 1)
				require.ErrorIs(t, err, ErrVersion, "%v %v %v", typ, class, v)
			}
		}
	}
}

func TestMsizeErrors(t *testing.T) {
	_, err := Msize(TypeSym, elf.ELFCLASSNONE, elf.EV_CURRENT)
	require.ErrorIs(t, err, ErrRange)
	_, err = Msize(TypeNum, elf.ELFCLASS64, elf.EV_CURRENT)
	require.ErrorIs(t, err, ErrRange)
	_, err = Msize(TypeUnknown, elf.ELFCLASS64, elf.EV_CURRENT)
	require.ErrorIs(t, err, ErrRange)

	for _, typ := range []Type{TypeXword, TypeSxword} {
		_, err = Msize(typ, elf.ELFCLASS32, elf.EV_CURRENT)
		require.ErrorIs(t, err, ErrUnsupportedType)
		_, err = Fsize(typ, elf.ELFCLASS32, elf.EV_CURRENT, 1)
		require.ErrorIs(t, err, ErrUnsupportedType)

		sz, err := Msize(typ, elf.ELFCLASS64, elf.EV_CURRENT)
		require.NoError(t, err)
		assert.Equal(t, 8, sz)
	}
}

func TestFsize(t *testing.T) {
	sz, err := Fsize(TypeShdr, elf.ELFCLASS64, elf.EV_CURRENT, 3)
	require.NoError(t, err)
	assert.Equal(t, 192, sz)

	sz, err = Fsize(TypeMove, elf.ELFCLASS32, elf.EV_CURRENT, 1)
	require.NoError(t, err)
	// The file record is packed, the memory record is padded.
	assert.Equal(t, 20, sz)
	msz, err := Msize(TypeMove, elf.ELFCLASS32, elf.EV_CURRENT)
	require.NoError(t, err)
	assert.Equal(t, 24, msz)
}
