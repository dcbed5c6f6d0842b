// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf

import (
	"debug/elf"
	"encoding/binary"
	"os"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/opencl-tools/clelf/testsupport"
)

// countingAllocator tracks every live buffer and the order of frees. It can
// be told to fail the n-th allocation.
type countingAllocator struct {
	t *testing.T

	mu     sync.Mutex
	live   map[*byte]int
	freed  []*byte
	allocs int
	failAt int
}

func newCountingAllocator(t *testing.T) *countingAllocator {
	return &countingAllocator{t: t, live: map[*byte]int{}}
}

func (a *countingAllocator) Alloc(size int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allocs++
	if a.failAt > 0 && a.allocs == a.failAt {
		return nil
	}
	buf := make([]byte, size, max(size, 1))
	a.live[unsafe.SliceData(buf)] = size
	return buf
}

func (a *countingAllocator) Free(buf []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := unsafe.SliceData(buf)
	if _, ok := a.live[p]; !ok {
		a.t.Errorf("free of unknown or already freed buffer of %d bytes", len(buf))
		return
	}
	delete(a.live, p)
	a.freed = append(a.freed, p)
}

func (a *countingAllocator) liveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// freeIndex returns the position of buf in the free order, or -1.
func (a *countingAllocator) freeIndex(buf []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := unsafe.SliceData(buf)
	for i, f := range a.freed {
		if f == p {
			return i
		}
	}
	return -1
}

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg := NewConfig()
	_, err := cfg.SetVersion(elf.EV_CURRENT)
	require.NoError(t, err)
	return cfg
}

// writeTempFile writes data to a temporary file and returns it opened for
// reading and writing.
func writeTempFile(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "object")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	_, err = f.Write(data)
	require.NoError(t, err)
	return f
}

var testSymbols = []elf.Symbol{
	{
		Name:    "vector_add",
		Info:    elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
		Section: 1,
		Value:   0x10,
		Size:    0x40,
	},
	{
		Name:    "__OpenCL_vector_add_kernel",
		Info:    elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT),
		Section: 2,
		Value:   0,
		Size:    8,
	},
	{
		Name:    "scratch",
		Info:    elf.ST_INFO(elf.STB_LOCAL, elf.STT_OBJECT),
		Section: 3,
		Size:    0x100,
	},
}

// sampleObject builds a relocatable object with code, data, bss, a symbol
// table and a relocation section.
func sampleObject(t *testing.T, class elf.Class, order binary.ByteOrder, extended bool) []byte {
	t.Helper()
	symtab, strtab := testsupport.Symtab(class, order, testSymbols)

	var rela []byte
	var err error
	if class == elf.ELFCLASS64 {
		rela, err = binary.Append(nil, order, []elf.Rela64{
			{Off: 0x18, Info: elf.R_INFO(1, uint32(elf.R_X86_64_64)), Addend: -4},
			{Off: 0x28, Info: elf.R_INFO(2, uint32(elf.R_X86_64_PC32)), Addend: 8},
		})
	} else {
		rela, err = binary.Append(nil, order, []elf.Rela32{
			{Off: 0x18, Info: elf.R_INFO32(1, uint32(elf.R_386_32)), Addend: -4},
			{Off: 0x28, Info: elf.R_INFO32(2, uint32(elf.R_386_PC32)), Addend: 8},
		})
	}
	require.NoError(t, err)
	symEnt := uint64(24)
	relaEnt := uint64(24)
	if class == elf.ELFCLASS32 {
		symEnt, relaEnt = 16, 12
	}

	image, err := testsupport.BuildELF(testsupport.Object{
		Class:   class,
		Order:   order,
		Type:    elf.ET_REL,
		Machine: elf.EM_AMDGPU,
		Sections: []testsupport.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR,
				Data: testsupport.GenerateTestInputFile(251, 0x60), Addralign: 16},
			{Name: ".data", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE,
				Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Addralign: 8},
			{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE,
				Size: 0x100, Addralign: 16},
			{Name: ".symtab", Type: elf.SHT_SYMTAB, Data: symtab, Link: 5, Info: 3,
				Addralign: 8, Entsize: symEnt},
			{Name: ".strtab", Type: elf.SHT_STRTAB, Data: strtab, Addralign: 1},
			{Name: ".rela.text", Type: elf.SHT_RELA, Data: rela, Link: 4, Info: 1,
				Addralign: 8, Entsize: relaEnt},
		},
		ExtendedNumbering: extended,
	})
	require.NoError(t, err)
	return image
}
