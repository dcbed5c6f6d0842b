// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemoryErrors(t *testing.T) {
	valid := sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)
	patch := func(off int, v byte) []byte {
		b := append([]byte(nil), valid...)
		b[off] = v
		return b
	}

	tests := map[string]struct {
		image []byte
		err   error
	}{
		"empty":            {image: nil, err: ErrInvalidArgument},
		"truncated ident":  {image: valid[:8], err: ErrHeader},
		"truncated header": {image: valid[:elf.EI_NIDENT+4], err: ErrHeader},
		"bad class":        {image: patch(elf.EI_CLASS, 7), err: ErrHeader},
		"bad encoding":     {image: patch(elf.EI_DATA, 0), err: ErrHeader},
		"bad version":      {image: patch(elf.EI_VERSION, 2), err: ErrVersion},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := newTestConfig(t)
			a := newCountingAllocator(t)
			cfg.SetAllocator(a)
			_, err := OpenMemory(cfg, test.image)
			require.ErrorIs(t, err, test.err)
			assert.Zero(t, a.liveCount())
		})
	}
}

func TestOpenMemorySequence(t *testing.T) {
	image := sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)
	_, err := OpenMemory(nil, image)
	require.ErrorIs(t, err, ErrSequence)
	_, err = OpenMemory(NewConfig(), image)
	require.ErrorIs(t, err, ErrSequence)
}

func TestOpenMemoryNoMemory(t *testing.T) {
	image := sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)
	for failAt := 1; failAt <= 2; failAt++ {
		cfg := newTestConfig(t)
		a := newCountingAllocator(t)
		a.failAt = failAt
		cfg.SetAllocator(a)
		_, err := OpenMemory(cfg, image)
		require.ErrorIs(t, err, ErrNoMemory, "allocation %d", failAt)
		assert.Zero(t, a.liveCount())
	}
}

func TestOpenMemoryKeepsImage(t *testing.T) {
	image := sampleObject(t, elf.ELFCLASS64, binary.BigEndian, false)
	e, err := OpenMemory(newTestConfig(t), image)
	require.NoError(t, err)
	assert.Equal(t, CmdRead, e.Cmd())
	assert.Equal(t, -1, e.Fd())
	assert.Zero(t, e.Flags())
	assert.Equal(t, elf.ELFDATA2MSB, e.ByteOrder())
	assert.Equal(t, 0, e.End())
	assert.Equal(t, sampleObject(t, elf.ELFCLASS64, binary.BigEndian, false), image)
}
