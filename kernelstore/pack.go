// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernelstore // import "github.com/opencl-tools/clelf/kernelstore"

// Binaries are stored in an efficiently seekable compressed format. The data
// is compressed in small chunks and an index of the chunks is kept in a
// footer, which tells in which chunk the data for any offset is located.
//
// >>> <compressed data>
// >>> for chunk in number_of_chunks:
// >>>   compressed_data_offset: u64 LE   # offset in compressed data
// >>> number_of_chunks: u64 LE
// >>> decompressed_size: u64 LE
// >>> chunk_size: u64 LE
// >>> magic: [8]char

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/opencl-tools/clelf/freelru"
	"github.com/opencl-tools/clelf/metrics"
)

// footerSize is the size of the static portion of the footer (without the index data).
const footerSize = 32

// packMagic identifies pack files.
const packMagic = "CLPAK001"

var (
	// ErrPack is returned for files that are not valid packs.
	ErrPack = errors.New("malformed pack file")

	// decoder is shared by all readers; DecodeAll is safe for concurrent use.
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// footer contains the meta-information stored at the end of pack files.
type footer struct {
	chunkSize        uint64
	uncompressedSize uint64
	index            []uint64
}

func readFooter(input io.ReaderAt, fileSize uint64) (*footer, error) {
	var buf [footerSize]byte

	if fileSize < footerSize {
		return nil, fmt.Errorf("%w: file is too small", ErrPack)
	}
	if _, err := input.ReadAt(buf[:], int64(fileSize-footerSize)); err != nil {
		return nil, fmt.Errorf("failed to read footer: %w", err)
	}
	if !bytes.Equal(buf[24:], []byte(packMagic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrPack)
	}

	chunkSize := binary.LittleEndian.Uint64(buf[16:])
	uncompressedSize := binary.LittleEndian.Uint64(buf[8:])
	numberOfChunks := binary.LittleEndian.Uint64(buf[0:])

	if chunkSize == 0 {
		return nil, fmt.Errorf("%w: zero chunk size", ErrPack)
	}
	if numberOfChunks == 0 || (fileSize-footerSize)/8 < numberOfChunks {
		return nil, fmt.Errorf("%w: file too small to hold index table", ErrPack)
	}
	rawIndex := make([]byte, numberOfChunks*8)
	indexOffset := fileSize - footerSize - numberOfChunks*8
	if _, err := input.ReadAt(rawIndex, int64(indexOffset)); err != nil {
		return nil, fmt.Errorf("failed to read index from file: %w", err)
	}

	index := make([]uint64, 0, numberOfChunks)
	for i := range numberOfChunks {
		entry := binary.LittleEndian.Uint64(rawIndex[i*8:])
		if i > 0 && entry < index[i-1] {
			return nil, fmt.Errorf("%w: index entries aren't monotonically increasing", ErrPack)
		}
		if entry > indexOffset {
			return nil, fmt.Errorf("%w: index entry %d beyond compressed data", ErrPack, i)
		}
		index = append(index, entry)
	}

	return &footer{
		chunkSize:        chunkSize,
		uncompressedSize: uncompressedSize,
		index:            index,
	}, nil
}

func (ftr *footer) write(out io.Writer) error {
	b := make([]byte, 0, len(ftr.index)*8+footerSize)
	for _, offset := range ftr.index {
		b = binary.LittleEndian.AppendUint64(b, offset)
	}
	b = binary.LittleEndian.AppendUint64(b, uint64(len(ftr.index)))
	b = binary.LittleEndian.AppendUint64(b, ftr.uncompressedSize)
	b = binary.LittleEndian.AppendUint64(b, ftr.chunkSize)
	b = append(b, packMagic...)
	if _, err := out.Write(b); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}
	return nil
}

// CompressInto reads data from an input reader, writing it out in compressed form. The chunk size
// determines how often to create new chunks. Higher numbers increase compression rates, but come
// at the cost of making random access less efficient.
func CompressInto(in io.Reader, out io.Writer, chunkSize uint64) error {
	if chunkSize == 0 {
		return errors.New("chunk size cannot be zero")
	}
	readBuf := make([]byte, chunkSize)
	compressBuf := make([]byte, chunkSize)

	// Compress chunks, memorizing their start offsets.
	index := []uint64{0}
	writeOffset := uint64(0)
	uncompressedSize := uint64(0)

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}
	defer enc.Close()
	for {
		n, err := io.ReadFull(in, readBuf)
		if err != nil {
			if err == io.EOF {
				break
			}
			if err != io.ErrUnexpectedEOF {
				return err
			}
		}

		compressed := enc.EncodeAll(readBuf[:n], compressBuf[:0])

		uncompressedSize += uint64(n)
		writeOffset += uint64(len(compressed))
		index = append(index, writeOffset)

		if _, err = out.Write(compressed); err != nil {
			return fmt.Errorf("failed to write compressed data: %w", err)
		}
		if n < len(readBuf) {
			break
		}
	}

	ftr := footer{
		uncompressedSize: uncompressedSize,
		chunkSize:        chunkSize,
		index:            index,
	}
	return ftr.write(out)
}

// chunkKey identifies a decompressed chunk in a cache shared between readers.
type chunkKey struct {
	pack  ID
	chunk uint64
}

func hashChunkKey(k chunkKey) uint32 {
	return freelru.HashUint64(binary.LittleEndian.Uint64(k.pack.hash[:]) ^ k.chunk)
}

// PackReader allows random access reads within pack files.
type PackReader struct {
	input  io.ReaderAt
	footer *footer

	// id and cache are optional; without a cache every read decompresses.
	id    ID
	cache *freelru.LRU[chunkKey, []byte]
}

// NewPackReader opens the pack of the given size read through input.
func NewPackReader(input io.ReaderAt, size int64) (*PackReader, error) {
	ftr, err := readFooter(input, uint64(size))
	if err != nil {
		return nil, err
	}
	return &PackReader{input: input, footer: ftr}, nil
}

// UncompressedSize returns the size of the packed file if it was fully decompressed.
func (reader *PackReader) UncompressedSize() uint64 {
	return reader.footer.uncompressedSize
}

// ChunkSize returns the size of the compressed chunks in this file.
func (reader *PackReader) ChunkSize() uint64 {
	return reader.footer.chunkSize
}

// ReadAt implements the `ReaderAt` interface.
func (reader *PackReader) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset value %d given", off)
	}
	if len(p) > 0 && uint64(off) >= reader.footer.uncompressedSize {
		return 0, io.EOF
	}
	writeOffset := 0
	remaining := len(p)
	chunkIdx := uint64(off) / reader.footer.chunkSize
	skipOffset := int(uint64(off) % reader.footer.chunkSize)

	for remaining > 0 {
		if chunkIdx+1 >= uint64(len(reader.footer.index)) {
			return writeOffset, io.EOF
		}

		decompressed, err := reader.chunk(chunkIdx)
		if err != nil {
			return writeOffset, err
		}

		if skipOffset > len(decompressed) {
			return writeOffset, fmt.Errorf("%w: corrupted chunk data", ErrPack)
		}
		copyLen := min(remaining, len(decompressed)-skipOffset)
		copy(p[writeOffset:][:copyLen], decompressed[skipOffset:][:copyLen])

		// Only apply skipping in first iteration.
		skipOffset = 0

		writeOffset += copyLen
		remaining -= copyLen
		chunkIdx++
	}

	return writeOffset, nil
}

// chunk returns the decompressed contents of a chunk.
func (reader *PackReader) chunk(idx uint64) ([]byte, error) {
	key := chunkKey{pack: reader.id, chunk: idx}
	if reader.cache != nil {
		if data, ok := reader.cache.Get(key); ok {
			metrics.Add(metrics.IDStoreChunkCacheHit, 1)
			return data, nil
		}
	}
	metrics.Add(metrics.IDStoreChunkCacheMiss, 1)

	start := reader.footer.index[idx]
	compressedChunk := make([]byte, reader.footer.index[idx+1]-start)
	if _, err := reader.input.ReadAt(compressedChunk, int64(start)); err != nil {
		return nil, fmt.Errorf("failed to read chunk data: %w", err)
	}

	decompressed, err := decoder.DecodeAll(compressedChunk, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress chunk: %w", err)
	}

	if reader.cache != nil {
		reader.cache.Add(key, decompressed)
	}
	return decompressed, nil
}
