// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/opencl-tools/clelf/testsupport"
)

func TestOpenNull(t *testing.T) {
	e, err := Open(newTestConfig(t), 0, CmdNull, nil)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestOpenInvalidCommand(t *testing.T) {
	_, err := Open(newTestConfig(t), 0, cmdNum, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOpenSequence(t *testing.T) {
	f := writeTempFile(t, sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false))
	_, err := Open(NewConfig(), int(f.Fd()), CmdRead, nil)
	require.ErrorIs(t, err, ErrSequence)
}

func TestOpenRegularFile(t *testing.T) {
	image := sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)
	f := writeTempFile(t, image)
	cfg := newTestConfig(t)

	e, err := Open(cfg, int(f.Fd()), CmdRead, nil)
	require.NoError(t, err)
	assert.Equal(t, KindElf, e.Kind())
	assert.Equal(t, FlagMapped, e.Flags())
	assert.Equal(t, int(f.Fd()), e.Fd())
	assert.Equal(t, CmdRead, e.Cmd())
	assert.Equal(t, elf.ELFCLASS64, e.Class())
	assert.Equal(t, elf.ELFDATA2LSB, e.ByteOrder())
	assert.Equal(t, image, e.Image())
	assert.Equal(t, 0, e.End())
}

func TestActivationSharing(t *testing.T) {
	f := writeTempFile(t, sampleObject(t, elf.ELFCLASS32, binary.BigEndian, false))
	fd := int(f.Fd())
	cfg := newTestConfig(t)

	var unmaps int
	cfg.ops.munmap = func(b []byte) error {
		unmaps++
		return defaultOps.munmap(b)
	}

	d1, err := Open(cfg, fd, CmdRead, nil)
	require.NoError(t, err)
	require.Equal(t, 1, d1.Activations())

	d2, err := Open(cfg, fd, CmdRead, d1)
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	assert.Equal(t, 2, d1.Activations())

	assert.Equal(t, 1, d2.End())
	assert.Zero(t, unmaps)
	assert.Equal(t, 0, d1.End())
	assert.Equal(t, 1, unmaps)

	// Ending a released descriptor is a no-op.
	assert.Equal(t, 0, d1.End())
	assert.Equal(t, 1, unmaps)
}

func TestOpenArgumentMismatch(t *testing.T) {
	f := writeTempFile(t, sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false))
	fd := int(f.Fd())
	cfg := newTestConfig(t)

	parent, err := Open(cfg, fd, CmdRead, nil)
	require.NoError(t, err)
	defer parent.End()

	_, err = Open(cfg, fd+100, CmdRead, parent)
	require.ErrorIs(t, err, ErrArgument)
	_, err = Open(cfg, fd, CmdReadWrite, parent)
	require.ErrorIs(t, err, ErrArgument)
	assert.Equal(t, 1, parent.Activations())
}

func TestWriteIgnoresParent(t *testing.T) {
	cfg := newTestConfig(t)
	require.NoError(t, cfg.SetByteOrder(elf.ELFDATA2MSB))

	parent, err := OpenMemory(cfg, sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false))
	require.NoError(t, err)
	defer parent.End()

	out := writeTempFile(t, nil)
	fd := int(out.Fd())

	withParent, err := Open(cfg, fd, CmdWrite, parent)
	require.NoError(t, err)
	defer withParent.End()
	without, err := Open(cfg, fd, CmdWrite, nil)
	require.NoError(t, err)
	defer without.End()

	assert.NotSame(t, parent, withParent)
	assert.Equal(t, 1, parent.Activations())
	for _, e := range []*Elf{withParent, without} {
		assert.Equal(t, KindElf, e.Kind())
		assert.Equal(t, CmdWrite, e.Cmd())
		assert.Equal(t, fd, e.Fd())
		assert.Equal(t, elf.ELFDATA2MSB, e.ByteOrder())
		assert.Equal(t, Flags(0), e.Flags())
		assert.Nil(t, e.Image())
		assert.Nil(t, e.Parent())
	}
}

func TestOpenEmptyRegularFile(t *testing.T) {
	f := writeTempFile(t, nil)
	cfg := newTestConfig(t)

	e, err := Open(cfg, int(f.Fd()), CmdReadWrite, nil)
	require.NoError(t, err)
	assert.Equal(t, KindElf, e.Kind())
	assert.Nil(t, e.Image())
	assert.Equal(t, Flags(0), e.Flags())
	scns, err := e.Sections()
	require.NoError(t, err)
	assert.Empty(t, scns)
	assert.Equal(t, 0, e.End())

	e, err = Open(cfg, int(f.Fd()), CmdRead, nil)
	require.NoError(t, err)
	assert.Equal(t, KindNone, e.Kind())
	assert.Equal(t, 0, e.End())
}

func TestOpenEmptyPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, w.Close())

	cfg := newTestConfig(t)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)

	_, err = Open(cfg, int(r.Fd()), CmdRead, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Zero(t, a.liveCount())
}

// pipeWith returns the read end of a pipe that yields data.
func pipeWith(t *testing.T, data []byte) *os.File {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	go func() {
		defer w.Close()
		_, _ = w.Write(data)
	}()
	return r
}

func TestOpenPipe(t *testing.T) {
	// Larger than the initial read buffer to exercise growing it.
	image, err := testsupport.BuildELF(testsupport.Object{
		Class: elf.ELFCLASS64,
		Sections: []testsupport.Section{{
			Name: ".text", Type: elf.SHT_PROGBITS,
			Data: testsupport.GenerateTestInputFile(199, 3*initialReadSize+17),
		}},
	})
	require.NoError(t, err)

	cfg := newTestConfig(t)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)

	r := pipeWith(t, image)
	e, err := Open(cfg, int(r.Fd()), CmdRead, nil)
	require.NoError(t, err)
	assert.Equal(t, FlagMalloced|FlagSpecialFile, e.Flags())
	assert.Equal(t, KindElf, e.Kind())
	assert.Equal(t, image, e.Image())
	assert.Len(t, e.Image(), cap(e.Image()))

	text, err := e.SectionByName(".text")
	require.NoError(t, err)
	require.NotNil(t, text)
	raw, err := text.RawData()
	require.NoError(t, err)
	assert.Equal(t, testsupport.GenerateTestInputFile(199, 3*initialReadSize+17), raw.Buf)

	assert.Equal(t, 0, e.End())
	assert.Zero(t, a.liveCount())
}

func TestOpenPipeReadLimit(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.SetReadLimit(1024)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)

	r := pipeWith(t, make([]byte, 4096))
	_, err := Open(cfg, int(r.Fd()), CmdRead, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Zero(t, a.liveCount())

	image := sampleObject(t, elf.ELFCLASS32, binary.LittleEndian, false)
	cfg.SetReadLimit(len(image))
	r = pipeWith(t, image)
	e, err := Open(cfg, int(r.Fd()), CmdRead, nil)
	require.NoError(t, err)
	assert.Equal(t, image, e.Image())
	e.End()
	assert.Zero(t, a.liveCount())
}

func TestOpenPipeReadErrors(t *testing.T) {
	cfg := newTestConfig(t)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)
	image := sampleObject(t, elf.ELFCLASS64, binary.BigEndian, false)

	cfg.ops.fstat = func(_ int, st *unix.Stat_t) error {
		st.Mode = unix.S_IFIFO | 0o600
		return nil
	}

	// EINTR is retried.
	remaining := image
	interrupted := false
	cfg.ops.read = func(_ int, p []byte) (int, error) {
		if !interrupted {
			interrupted = true
			return 0, unix.EINTR
		}
		n := copy(p, remaining)
		remaining = remaining[n:]
		return n, nil
	}
	e, err := Open(cfg, 42, CmdRead, nil)
	require.NoError(t, err)
	assert.Equal(t, image, e.Image())
	assert.Equal(t, 42, e.Fd())
	e.End()

	// Other read errors fail the open on the first attempt.
	reads := 0
	cfg.ops.read = func(int, []byte) (int, error) {
		reads++
		return 0, unix.EIO
	}
	_, err = Open(cfg, 42, CmdRead, nil)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, unix.EIO)
	assert.Equal(t, 1, reads)
	assert.Zero(t, a.liveCount())
}

func TestOpenStatErrors(t *testing.T) {
	cfg := newTestConfig(t)

	cfg.ops.fstat = func(int, *unix.Stat_t) error { return unix.EBADF }
	_, err := Open(cfg, 3, CmdRead, nil)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, unix.EBADF)

	cfg.ops.fstat = defaultOps.fstat
	dir, err := os.Open(t.TempDir())
	require.NoError(t, err)
	defer dir.Close()
	_, err = Open(cfg, int(dir.Fd()), CmdRead, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOpenMmapFailure(t *testing.T) {
	f := writeTempFile(t, sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false))
	cfg := newTestConfig(t)
	cfg.ops.mmap = func(int, int) ([]byte, error) { return nil, unix.ENOMEM }

	_, err := Open(cfg, int(f.Fd()), CmdRead, nil)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, unix.ENOMEM)
}

func TestLateFailureUnmapsOnce(t *testing.T) {
	image := sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)
	f := writeTempFile(t, image)
	cfg := newTestConfig(t)

	errIdentify := errors.New("identify failed")
	cfg.ops.identify = func(*Config, []byte, Allocator) (*Elf, error) {
		return nil, errIdentify
	}
	var unmapped [][]byte
	cfg.ops.munmap = func(b []byte) error {
		unmapped = append(unmapped, b)
		return defaultOps.munmap(b)
	}

	e, err := Open(cfg, int(f.Fd()), CmdRead, nil)
	require.ErrorIs(t, err, errIdentify)
	assert.Nil(t, e)
	require.Len(t, unmapped, 1)
	assert.Len(t, unmapped[0], len(image))
}

func TestLateFailureFreesBuffer(t *testing.T) {
	cfg := newTestConfig(t)
	a := newCountingAllocator(t)
	cfg.SetAllocator(a)
	cfg.ops.identify = func(*Config, []byte, Allocator) (*Elf, error) {
		return nil, ErrHeader
	}

	r := pipeWith(t, sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false))
	_, err := Open(cfg, int(r.Fd()), CmdRead, nil)
	require.ErrorIs(t, err, ErrHeader)
	assert.Zero(t, a.liveCount())
}

func TestOpenMalformedObject(t *testing.T) {
	image := sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)
	image[elf.EI_VERSION] = 7
	f := writeTempFile(t, image)
	cfg := newTestConfig(t)

	var unmaps int
	cfg.ops.munmap = func(b []byte) error {
		unmaps++
		return defaultOps.munmap(b)
	}
	_, err := Open(cfg, int(f.Fd()), CmdRead, nil)
	require.ErrorIs(t, err, ErrVersion)
	assert.Equal(t, 1, unmaps)
}

func TestArchiveReadWriteRejected(t *testing.T) {
	ar := testsupport.BuildArchive(testsupport.ArchiveSysV, []testsupport.Member{
		{Name: "kernel.o", Data: sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)},
	})
	cfg := newTestConfig(t)

	parent, err := OpenMemory(cfg, ar)
	require.NoError(t, err)
	defer parent.End()
	for _, fd := range []int{-1, 0, 17, 1 << 20} {
		_, err = Open(cfg, fd, CmdReadWrite, parent)
		require.ErrorIs(t, err, ErrArgument, "fd %d", fd)
	}
	assert.Equal(t, 1, parent.Activations())

	f := writeTempFile(t, ar)
	var unmaps int
	cfg.ops.munmap = func(b []byte) error {
		unmaps++
		return defaultOps.munmap(b)
	}
	_, err = Open(cfg, int(f.Fd()), CmdReadWrite, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 1, unmaps)
}

func TestOpenNoMemory(t *testing.T) {
	f := writeTempFile(t, sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false))
	cfg := newTestConfig(t)

	// Fail every allocation in turn: each open either succeeds completely or
	// leaves nothing behind.
	for n := 1; ; n++ {
		a := newCountingAllocator(t)
		a.failAt = n
		cfg.SetAllocator(a)

		e, err := Open(cfg, int(f.Fd()), CmdRead, nil)
		if err == nil {
			e.End()
			assert.Zero(t, a.liveCount())
			break
		}
		require.ErrorIs(t, err, ErrNoMemory)
		assert.Zero(t, a.liveCount(), "allocation %d", n)
	}
}

func TestOpenPath(t *testing.T) {
	image := sampleObject(t, elf.ELFCLASS64, binary.LittleEndian, false)
	f := writeTempFile(t, image)
	cfg := newTestConfig(t)

	e, err := OpenPath(cfg, f.Name(), CmdRead)
	require.NoError(t, err)
	assert.Equal(t, image, e.Image())
	assert.NotNil(t, e.closer)
	assert.Equal(t, 0, e.End())
	assert.Nil(t, e.closer)

	_, err = OpenPath(cfg, f.Name()+".missing", CmdRead)
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenPath(cfg, f.Name(), CmdNull)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
