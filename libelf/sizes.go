// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"debug/elf"
	"fmt"
)

// typeSize holds the size of one element for ELFCLASS32 and ELFCLASS64. A
// zero size marks a type without representation in that class.
type typeSize struct {
	size32 int
	size64 int
}

// memSizes are the in-memory sizes of one element, including the padding the
// native record types carry.
var memSizes = [TypeNum]typeSize{
	TypeAddr:    {4, 8},
	TypeByte:    {1, 1},
	TypeCap:     {8, 16},
	TypeChdr:    {12, 24},
	TypeDyn:     {8, 16},
	TypeEhdr:    {52, 64},
	TypeGNUHash: {1, 1},
	TypeHalf:    {2, 2},
	TypeLword:   {8, 8},
	TypeMove:    {24, 32},
	TypeNote:    {1, 1},
	TypeOff:     {4, 8},
	TypePhdr:    {32, 56},
	TypeRel:     {8, 16},
	TypeRela:    {12, 24},
	TypeShdr:    {40, 64},
	TypeSword:   {4, 4},
	TypeSxword:  {0, 8},
	TypeSyminfo: {4, 4},
	TypeSym:     {16, 24},
	TypeVdef:    {1, 1},
	TypeVneed:   {1, 1},
	TypeWord:    {4, 4},
	TypeXword:   {0, 8},
}

// fieldLayouts lists the width of every field of one element as stored in
// a file. Byte oriented types have a single one byte field.
var fieldLayouts = [TypeNum][2][]uint8{
	TypeAddr:    {{4}, {8}},
	TypeByte:    {{1}, {1}},
	TypeCap:     {{4, 4}, {8, 8}},
	TypeChdr:    {{4, 4, 4}, {4, 4, 8, 8}},
	TypeDyn:     {{4, 4}, {8, 8}},
	TypeEhdr:    {ehdrLayout(4), ehdrLayout(8)},
	TypeGNUHash: {{1}, {1}},
	TypeHalf:    {{2}, {2}},
	TypeLword:   {{8}, {8}},
	TypeMove:    {{8, 4, 4, 2, 2}, {8, 8, 8, 2, 2}},
	TypeNote:    {{1}, {1}},
	TypeOff:     {{4}, {8}},
	TypePhdr:    {{4, 4, 4, 4, 4, 4, 4, 4}, {4, 4, 8, 8, 8, 8, 8, 8}},
	TypeRel:     {{4, 4}, {8, 8}},
	TypeRela:    {{4, 4, 4}, {8, 8, 8}},
	TypeShdr:    {{4, 4, 4, 4, 4, 4, 4, 4, 4, 4}, {4, 4, 8, 8, 8, 8, 4, 4, 8, 8}},
	TypeSword:   {{4}, {4}},
	TypeSxword:  {nil, {8}},
	TypeSyminfo: {{2, 2}, {2, 2}},
	TypeSym:     {{4, 4, 4, 1, 1, 2}, {4, 1, 1, 2, 8, 8}},
	TypeVdef:    {{1}, {1}},
	TypeVneed:   {{1}, {1}},
	TypeWord:    {{4}, {4}},
	TypeXword:   {nil, {8}},
}

// ehdrLayout returns the field widths of an ELF header whose address sized
// fields (entry, phoff, shoff) are addrSize bytes wide.
func ehdrLayout(addrSize uint8) []uint8 {
	layout := make([]uint8, 0, elf.EI_NIDENT+13)
	for range elf.EI_NIDENT {
		layout = append(layout, 1)
	}
	return append(layout, 2, 2, 4, addrSize, addrSize, addrSize, 4, 2, 2, 2, 2, 2, 2)
}

func classIndex(class elf.Class) int {
	if class == elf.ELFCLASS64 {
		return 1
	}
	return 0
}

func checkSizeArgs(t Type, class elf.Class, version elf.Version) error {
	if version != elf.EV_CURRENT {
		return fmt.Errorf("%w: %d", ErrVersion, version)
	}
	if !validClass(class) {
		return fmt.Errorf("%w: class %v", ErrRange, class)
	}
	if t < 0 || t >= TypeNum {
		return fmt.Errorf("%w: type %v", ErrRange, t)
	}
	return nil
}

// Msize returns the in-memory size of one element of type t for the given
// address class. Only EV_CURRENT is supported. Types without a
// representation in class yield ErrUnsupportedType.
func Msize(t Type, class elf.Class, version elf.Version) (int, error) {
	if err := checkSizeArgs(t, class, version); err != nil {
		return 0, err
	}
	sz := memSizes[t].size32
	if class == elf.ELFCLASS64 {
		sz = memSizes[t].size64
	}
	if sz == 0 {
		return 0, fmt.Errorf("%w: %v in %v", ErrUnsupportedType, t, class)
	}
	return sz, nil
}

// Fsize returns the size in the file of count elements of type t.
func Fsize(t Type, class elf.Class, version elf.Version, count int) (int, error) {
	if err := checkSizeArgs(t, class, version); err != nil {
		return 0, err
	}
	layout := fieldLayouts[t][classIndex(class)]
	if layout == nil {
		return 0, fmt.Errorf("%w: %v in %v", ErrUnsupportedType, t, class)
	}
	return layoutSize(layout) * count, nil
}

func layoutSize(layout []uint8) int {
	n := 0
	for _, w := range layout {
		n += int(w)
	}
	return n
}
