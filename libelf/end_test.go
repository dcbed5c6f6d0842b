// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencl-tools/clelf/testsupport"
)

// TestEndReleasesDataBeforeSections builds an object with several sections
// holding several buffers each and checks the order in which End hands the
// memory back.
func TestEndReleasesDataBeforeSections(t *testing.T) {
	const numSections, numData = 3, 2

	cfg := newTestConfig(t)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)
	out := writeTempFile(t, nil)

	e, err := Open(cfg, int(out.Fd()), CmdWrite, nil)
	require.NoError(t, err)
	require.NoError(t, e.NewHeader(elf.ELFCLASS64))
	descMem := e.mem

	type built struct {
		mem  []byte
		data [][]byte
	}
	var scns []built
	for range numSections {
		s, err := e.NewSection()
		require.NoError(t, err)
		b := built{mem: s.mem}
		for range numData {
			d, err := s.NewData()
			require.NoError(t, err)
			d.Buf = []byte("caller owned")
			b.data = append(b.data, d.mem)
		}
		scns = append(scns, b)
	}

	assert.Equal(t, 0, e.End())
	assert.Zero(t, a.liveCount())

	descIdx := a.freeIndex(descMem)
	require.GreaterOrEqual(t, descIdx, 0)
	for i, s := range scns {
		sIdx := a.freeIndex(s.mem)
		require.GreaterOrEqual(t, sIdx, 0, "section %d not freed", i)
		assert.Less(t, sIdx, descIdx, "section %d freed after descriptor", i)
		for j, d := range s.data {
			dIdx := a.freeIndex(d)
			require.GreaterOrEqual(t, dIdx, 0, "data %d/%d not freed", i, j)
			assert.Less(t, dIdx, sIdx, "data %d/%d freed after its section", i, j)
		}
	}

	// Sections are released starting with the last one.
	for i := 1; i < len(scns); i++ {
		assert.Greater(t, a.freeIndex(scns[i-1].mem), a.freeIndex(scns[i].mem))
	}
}

func TestEndFreesCookedBuffers(t *testing.T) {
	cfg := newTestConfig(t)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)
	image := sampleObject(t, elf.ELFCLASS32, binary.BigEndian, false)

	e, err := OpenMemory(cfg, image)
	require.NoError(t, err)
	scns, err := e.Sections()
	require.NoError(t, err)

	var owned [][]byte
	for _, s := range scns {
		d, err := s.GetData(nil)
		require.NoError(t, err)
		if d != nil && d.Owned() {
			owned = append(owned, d.bytesMem)
		}
		raw, err := s.RawData()
		require.NoError(t, err)
		assert.False(t, raw.Owned())
	}
	require.NotEmpty(t, owned)

	e.End()
	assert.Zero(t, a.liveCount())
	for _, b := range owned {
		assert.GreaterOrEqual(t, a.freeIndex(b), 0)
	}
	// The caller supplied image is left alone.
	assert.Equal(t, sampleObject(t, elf.ELFCLASS32, binary.BigEndian, false), image)
}

func TestEndDefersArchiveWithOpenMembers(t *testing.T) {
	member := sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)
	image := testsupport.BuildArchive(testsupport.ArchiveSysV, []testsupport.Member{
		{Name: "vector_add.o", Data: member},
		{Name: "reduce.o", Data: member},
	})
	f := writeTempFile(t, image)
	fd := int(f.Fd())

	cfg := newTestConfig(t)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)
	var unmaps int
	cfg.ops.munmap = func(b []byte) error {
		unmaps++
		return defaultOps.munmap(b)
	}

	ar, err := Open(cfg, fd, CmdRead, nil)
	require.NoError(t, err)
	require.Equal(t, KindAr, ar.Kind())

	m, err := Open(cfg, fd, CmdRead, ar)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Same(t, ar, m.Parent())
	_, err = m.Sections()
	require.NoError(t, err)

	// The archive survives its own End while a member is open.
	assert.Equal(t, 0, ar.End())
	assert.NotNil(t, ar.mem)
	assert.Zero(t, unmaps)
	assert.Equal(t, member, m.Image())

	assert.Equal(t, 0, m.End())
	assert.Nil(t, ar.mem)
	assert.Equal(t, 1, unmaps)
	assert.Zero(t, a.liveCount())
}

func TestEndMemberKeepsActiveArchive(t *testing.T) {
	image := testsupport.BuildArchive(testsupport.ArchiveSysV, []testsupport.Member{
		{Name: "a.o", Data: sampleObject(t, elf.ELFCLASS32, binary.LittleEndian, false)},
	})
	cfg := newTestConfig(t)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)

	ar, err := OpenMemory(cfg, image)
	require.NoError(t, err)
	m, err := Open(cfg, -1, CmdRead, ar)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, ar.ar.children)

	assert.Equal(t, 0, m.End())
	assert.Equal(t, 0, ar.ar.children)
	assert.NotNil(t, ar.mem)
	assert.Equal(t, 1, ar.Activations())

	assert.Equal(t, 0, ar.End())
	assert.Zero(t, a.liveCount())
}

func TestEndNil(t *testing.T) {
	var e *Elf
	assert.Equal(t, 0, e.End())
}
