// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernelstore

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencl-tools/clelf/freelru"
	"github.com/opencl-tools/clelf/testsupport"
)

func packOf(t *testing.T, data []byte, chunkSize uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, CompressInto(bytes.NewReader(data), &buf, chunkSize))
	return buf.Bytes()
}

func TestPackReaderTransparency(t *testing.T) {
	tests := map[string]struct {
		seqLen    uint8
		fileSize  uint
		chunkSize uint64
	}{
		"small chunks":       {seqLen: 128, fileSize: 1024, chunkSize: 64},
		"uneven chunks":      {seqLen: 43, fileSize: 1424, chunkSize: 444},
		"many uneven chunks": {seqLen: 13, fileSize: 1049454, chunkSize: 8543},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			file := testsupport.GenerateTestInputFile(tc.seqLen, tc.fileSize)
			packed := packOf(t, file, tc.chunkSize)

			reader, err := NewPackReader(bytes.NewReader(packed), int64(len(packed)))
			require.NoError(t, err)
			assert.Equal(t, uint64(tc.fileSize), reader.UncompressedSize())
			assert.Equal(t, tc.chunkSize, reader.ChunkSize())

			testsupport.ValidateReadAtWrapperTransparency(t, 10000, file, reader)
		})
	}
}

func TestPackReaderSharedCache(t *testing.T) {
	file := testsupport.GenerateTestInputFile(31, 4096)
	packed := packOf(t, file, 512)

	cache, err := freelru.New[chunkKey, []byte](16, hashChunkKey)
	require.NoError(t, err)

	newReader := func() *PackReader {
		r, err := NewPackReader(bytes.NewReader(packed), int64(len(packed)))
		require.NoError(t, err)
		r.id = IDFromBytes(file)
		r.cache = cache
		return r
	}

	buf := make([]byte, len(file))
	n, err := newReader().ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, file, buf[:n])

	// A second reader of the same pack is served from the cache.
	n, err = newReader().ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, file, buf[:n])

	stats := cache.GetAndResetStatistics()
	assert.Equal(t, uint64(8), stats.Miss)
	assert.Equal(t, uint64(8), stats.Hit)
}

func TestPackEmpty(t *testing.T) {
	packed := packOf(t, nil, 64)
	reader, err := NewPackReader(bytes.NewReader(packed), int64(len(packed)))
	require.NoError(t, err)
	assert.Zero(t, reader.UncompressedSize())

	n, err := reader.ReadAt(make([]byte, 8), 0)
	assert.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestPackReadAtErrors(t *testing.T) {
	file := testsupport.GenerateTestInputFile(7, 100)
	packed := packOf(t, file, 32)
	reader, err := NewPackReader(bytes.NewReader(packed), int64(len(packed)))
	require.NoError(t, err)

	_, err = reader.ReadAt(make([]byte, 1), -1)
	require.Error(t, err)

	_, err = reader.ReadAt(make([]byte, 1), 100)
	require.ErrorIs(t, err, io.EOF)
	_, err = reader.ReadAt(make([]byte, 1), 110)
	require.ErrorIs(t, err, io.EOF)
}

func TestPackMalformedFooter(t *testing.T) {
	good := packOf(t, testsupport.GenerateTestInputFile(9, 300), 100)

	corrupt := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}
	end := len(good)

	tests := map[string][]byte{
		"too small": good[:footerSize-1],
		"bad magic": corrupt(func(b []byte) []byte {
			b[end-1] = 'X'
			return b
		}),
		"zero chunk size": corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[end-16:], 0)
			return b
		}),
		"huge chunk count": corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[end-32:], 1<<40)
			return b
		}),
		"no chunks": corrupt(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[end-32:], 0)
			return b
		}),
		"decreasing index": corrupt(func(b []byte) []byte {
			// Four index entries precede the footer; make the second
			// smaller than the first.
			idx := end - footerSize - 4*8
			binary.LittleEndian.PutUint64(b[idx:], 50)
			binary.LittleEndian.PutUint64(b[idx+8:], 10)
			return b
		}),
	}

	for name, packed := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewPackReader(bytes.NewReader(packed), int64(len(packed)))
			require.ErrorIs(t, err, ErrPack)
		})
	}
}

func TestCompressIntoZeroChunk(t *testing.T) {
	require.Error(t, CompressInto(bytes.NewReader(nil), io.Discard, 0))
}
