// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernelstore implements `Store`, a content addressed storage for
// compiled kernel binaries. For more information, please refer to the
// documentation on the `Store` type.
package kernelstore // import "github.com/opencl-tools/clelf/kernelstore"

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opencl-tools/clelf/freelru"
	"github.com/opencl-tools/clelf/libelf"
	"github.com/opencl-tools/clelf/xsync"
)

const (
	// localTempPrefix specifies the prefix of files in the local storage while they are
	// still being written to.
	localTempPrefix = "tmp."
	// packChunkSize determines the chunk size to use when compressing files.
	packChunkSize = 64 * 1024
	// defaultCacheChunks is the number of decompressed chunks kept in memory.
	defaultCacheChunks = 64
)

// ErrNotKernelBinary is returned when inserting data that is neither an ELF
// object nor an ar archive.
var ErrNotKernelBinary = errors.New("not an ELF object or archive")

// Options configure a Store.
type Options struct {
	// Config is used to validate inserted binaries and to open stored ones.
	Config *libelf.Config
	// CacheChunks is the number of decompressed chunks to cache, shared by
	// all readers of the store. Zero selects a default.
	CacheChunks uint32
	// Remote optionally configures an S3 bucket backing the local store.
	Remote *RemoteOptions
}

// Store is a compressed storage for kernel binaries. Upon inserting a new binary, the
// caller receives a unique ID to identify it by. This ID can then later be used to retrieve
// the binary again. Binaries are transparently compressed upon insertion and lazily
// decompressed during reading. Binaries can be pushed to a remote backing storage in the
// form of an S3 bucket. Binaries present remotely but not locally are automatically
// downloaded when needed.
//
// It is safe to create multiple `Store` instances for the same local directory and remote
// bucket at the same time, also when created within multiple different applications.
type Store struct {
	cfg            *libelf.Config
	localCachePath string
	chunks         *freelru.LRU[chunkKey, []byte]

	remote *RemoteOptions
	client xsync.Once[s3API]
}

// New creates a store backed by the local directory localCachePath.
func New(localCachePath string, opts Options) (*Store, error) {
	if opts.Config == nil {
		return nil, errors.New("missing libelf configuration")
	}
	if err := os.MkdirAll(localCachePath, 0o750); err != nil {
		return nil, err
	}
	if opts.CacheChunks == 0 {
		opts.CacheChunks = defaultCacheChunks
	}
	chunks, err := freelru.New[chunkKey, []byte](opts.CacheChunks, hashChunkKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk cache: %w", err)
	}
	return &Store{
		cfg:            opts.Config,
		localCachePath: localCachePath,
		chunks:         chunks,
		remote:         opts.Remote,
	}, nil
}

// InsertLocally places a binary file into the local cache, returning an ID to refer it by
// in the future. The binary is **not** uploaded to the remote storage automatically. If the
// binary was already present in the local store, the function returns the ID of the
// existing one.
func (store *Store) InsertLocally(localPath string) (id ID, isNew bool, err error) {
	e, err := libelf.OpenPath(store.cfg, localPath, libelf.CmdRead)
	if err != nil {
		return ID{}, false, err
	}
	defer e.End()
	return store.insert(e)
}

// InsertBytes places an in-memory binary into the local cache.
func (store *Store) InsertBytes(b []byte) (id ID, isNew bool, err error) {
	e, err := libelf.OpenMemory(store.cfg, b)
	if err != nil {
		return ID{}, false, err
	}
	defer e.End()
	return store.insert(e)
}

func (store *Store) insert(e *libelf.Elf) (ID, bool, error) {
	if k := e.Kind(); k != libelf.KindElf && k != libelf.KindAr {
		return ID{}, false, ErrNotKernelBinary
	}
	id, err := calculateID(bytes.NewReader(e.Image()))
	if err != nil {
		return ID{}, false, err
	}

	present, err := store.IsPresentLocally(id)
	if err != nil {
		return ID{}, false, fmt.Errorf("failed to check whether the binary exists locally: %w", err)
	}
	if present {
		return id, false, nil
	}

	// We first write the file with a prefix marking it as temporary, to prevent half-written
	// files to persist in the local cache on crashes.
	out, err := os.CreateTemp(store.localCachePath, localTempPrefix)
	if err != nil {
		return ID{}, false, fmt.Errorf("failed to create file in local cache: %w", err)
	}
	defer out.Close()

	if err = CompressInto(bytes.NewReader(e.Image()), out, packChunkSize); err != nil {
		_ = os.Remove(out.Name())
		return ID{}, false, fmt.Errorf("failed to compress file: %w", err)
	}

	if err = commitTempFile(out, store.makeLocalPath(id)); err != nil {
		_ = os.Remove(out.Name())
		return ID{}, false, err
	}
	log.Debugf("Stored %v binary %v (%d bytes)", e.Kind(), id, len(e.Image()))

	return id, true, nil
}

// BinaryReader allows reading a binary from the store.
type BinaryReader struct {
	*PackReader
	io.Closer
}

// Size returns the uncompressed size of the binary.
func (r *BinaryReader) Size() int64 {
	return int64(r.UncompressedSize())
}

// OpenReadAt opens a binary in the store for random-access reading. Decompressed chunks are
// cached by the store.
func (store *Store) OpenReadAt(id ID) (*BinaryReader, error) {
	localPath, err := store.ensurePresentLocally(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat local file %s: %w", localPath, err)
	}
	pack, err := NewPackReader(file, info.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open pack %s: %w", localPath, err)
	}
	pack.id = id
	pack.cache = store.chunks

	return &BinaryReader{PackReader: pack, Closer: file}, nil
}

// Unpack extracts a binary from the store, writing it to the given writer.
func (store *Store) Unpack(id ID, out io.Writer) error {
	reader, err := store.OpenReadAt(id)
	if err != nil {
		return fmt.Errorf("failed to open binary: %w", err)
	}
	defer reader.Close()

	if _, err = io.Copy(out, io.NewSectionReader(reader, 0, reader.Size())); err != nil {
		return fmt.Errorf("failed to unpack binary: %w", err)
	}
	return nil
}

// UnpackToPath extracts a binary from the store to the given local path.
func (store *Store) UnpackToPath(id ID, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	return store.Unpack(id, out)
}

// OpenELF returns a libelf read descriptor over the uncompressed binary. The
// caller ends the descriptor.
func (store *Store) OpenELF(id ID) (*libelf.Elf, error) {
	var buf bytes.Buffer
	if err := store.Unpack(id, &buf); err != nil {
		return nil, err
	}
	if got := IDFromBytes(buf.Bytes()); got != id {
		return nil, fmt.Errorf("binary %v is corrupted: content hashes to %v", id, got)
	}
	return libelf.OpenMemory(store.cfg, buf.Bytes())
}

// RemoveLocal removes a binary from the local cache. No-op if not present.
func (store *Store) RemoveLocal(id ID) error {
	err := os.Remove(store.makeLocalPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete local file: %w", err)
	}
	return nil
}

// IsPresentLocally checks whether a binary is present in the local cache.
func (store *Store) IsPresentLocally(id ID) (bool, error) {
	_, err := os.Stat(store.makeLocalPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat local file: %w", err)
	}
	return true, nil
}

// ListLocal returns the IDs of all binaries present in the local cache.
func (store *Store) ListLocal() (map[ID]struct{}, error) {
	binaries := map[ID]struct{}{}
	err := store.visitLocal(func(id ID) error {
		binaries[id] = struct{}{}
		return nil
	}, func(string) error {
		return nil
	})
	if err != nil {
		return nil, err
	}
	return binaries, nil
}

// RemoveLocalTempFiles removes all lingering temporary files that were never fully committed.
//
// If multiple instances of `Store` exist for the same cache directory, this may interfere
// with uncommitted writes of the other instance.
func (store *Store) RemoveLocalTempFiles() error {
	return store.visitLocal(func(ID) error {
		return nil
	}, func(unkPath string) error {
		if !strings.HasPrefix(filepath.Base(unkPath), localTempPrefix) {
			log.Warnf("`%s` file in local cache is neither a temp file nor a binary", unkPath)
			return nil
		}
		if err := os.Remove(unkPath); err != nil {
			return fmt.Errorf("failed to remove file: %w", err)
		}
		return nil
	})
}

// makeLocalPath creates the local cache path for the given ID.
func (store *Store) makeLocalPath(id ID) string {
	return filepath.Join(store.localCachePath, id.String())
}

// visitLocal visits all files in the local cache path. `binaryVisitor` is called for each
// file recognized as a valid ID, `unkVisitor` is called with the full path of all other
// files in the path.
func (store *Store) visitLocal(binaryVisitor func(ID) error,
	unkVisitor func(string) error) error {
	files, err := os.ReadDir(store.localCachePath)
	if err != nil {
		return fmt.Errorf("failed to read files in local cache: %w", err)
	}

	for _, file := range files {
		id, err := IDFromString(file.Name())
		if err == nil {
			err = binaryVisitor(id)
		} else {
			err = unkVisitor(filepath.Join(store.localCachePath, file.Name()))
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// commitTempFile makes sure that the given file is flushed to disk, then moves it to its final
// destination.
func commitTempFile(temp *os.File, finalPath string) error {
	if err := unix.Fsync(int(temp.Fd())); err != nil {
		return fmt.Errorf("failed to flush file to disk: %w", err)
	}
	if err := os.Rename(temp.Name(), finalPath); err != nil {
		return fmt.Errorf("failed to move file to final location: %w", err)
	}

	return nil
}
