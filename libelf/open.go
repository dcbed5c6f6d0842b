// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opencl-tools/clelf/metrics"
)

// initialReadSize is the capacity of the first buffer used to read special
// files. It doubles until the stream is exhausted.
const initialReadSize = 64 * 1024

// Open returns a descriptor for the object or archive referred to by fd.
//
// With cmd CmdNull Open does nothing and returns (nil, nil). With CmdWrite
// the parent is ignored and a fresh descriptor is always created. With
// CmdRead or CmdReadWrite and a non-nil parent, the parent must have been
// opened from fd with the same command: an archive parent yields its next
// member, any other parent gains an activation and is returned as is.
func Open(cfg *Config, fd int, cmd Cmd, parent *Elf) (*Elf, error) {
	e, err := open(cfg, fd, cmd, parent)
	if err != nil {
		metrics.Add(metrics.IDOpenFailed, 1)
		return nil, err
	}
	return e, nil
}

func open(cfg *Config, fd int, cmd Cmd, parent *Elf) (*Elf, error) {
	switch cmd {
	case CmdNull:
		return nil, nil
	case CmdWrite:
		parent = nil
	case CmdRead, CmdReadWrite:
		if parent == nil {
			break
		}
		if cmd == CmdReadWrite && parent.kind == KindAr {
			return nil, fmt.Errorf("%w: archives cannot be opened read-write", ErrArgument)
		}
		if (parent.fd >= 0 && parent.fd != fd) || parent.cmd != cmd {
			return nil, fmt.Errorf("%w: descriptor opened as (%d, %v), requested (%d, %v)",
				ErrArgument, parent.fd, parent.cmd, fd, cmd)
		}
	default:
		return nil, fmt.Errorf("%w: command %v", ErrInvalidArgument, cmd)
	}

	switch {
	case parent == nil:
		return openFresh(cfg, fd, cmd)
	case parent.kind == KindAr:
		e, err := parent.openMember(parent.fd, cmd)
		if e != nil {
			metrics.Add(metrics.IDOpenMember, 1)
		}
		return e, err
	default:
		parent.activations.Add(1)
		metrics.Add(metrics.IDOpenShared, 1)
		return parent, nil
	}
}

// fileType reports whether mode is a regular file and whether it is one of
// the file types Open accepts at all.
func fileType(mode uint32) (regular, ok bool) {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return true, true
	case unix.S_IFCHR, unix.S_IFIFO, unix.S_IFSOCK:
		return false, true
	}
	return false, false
}

func openFresh(cfg *Config, fd int, cmd Cmd) (*Elf, error) {
	if cfg == nil || cfg.version == elf.EV_NONE {
		return nil, ErrSequence
	}

	var st unix.Stat_t
	if err := cfg.ops.fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("%w: fstat: %w", ErrIO, err)
	}
	regular, ok := fileType(uint32(st.Mode))
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type 0%o", ErrInvalidArgument,
			uint32(st.Mode)&unix.S_IFMT)
	}

	var flags Flags
	if !regular {
		flags |= FlagSpecialFile
	}

	if cmd == CmdWrite || (cmd == CmdReadWrite && st.Size == 0) {
		e, err := allocObject(cfg, nil)
		if err != nil {
			return nil, err
		}
		initKind(e, KindElf)
		e.order = cfg.byteOrder
		e.fd = fd
		e.cmd = cmd
		e.flags = flags
		return e, nil
	}

	var image []byte
	switch {
	case regular && st.Size == 0:
		// Nothing to map: an empty regular file identifies as unknown data.
	case regular:
		if int64(int(st.Size)) != st.Size {
			return nil, fmt.Errorf("%w: file of %d bytes too large to map", ErrIO, st.Size)
		}
		data, err := cfg.ops.mmap(fd, int(st.Size))
		if err != nil {
			return nil, fmt.Errorf("%w: mmap: %w", ErrIO, err)
		}
		image = data
		flags |= FlagMapped
		log.Debugf("Mapped %d bytes of fd %d", len(data), fd)
	default:
		data, err := readSpecial(cfg, fd)
		if err != nil {
			return nil, err
		}
		image = data
		flags |= FlagMalloced
		metrics.Add(metrics.IDBytesBuffered, metrics.MetricValue(len(data)))
		log.Debugf("Buffered %d bytes from special fd %d", len(data), fd)
	}

	e, err := cfg.ops.identify(cfg, image, nil)
	if err != nil {
		releaseImage(cfg, image, flags)
		return nil, err
	}
	if cmd == CmdReadWrite && e.kind == KindAr {
		e.End()
		releaseImage(cfg, image, flags)
		return nil, fmt.Errorf("%w: archives cannot be opened read-write", ErrInvalidArgument)
	}

	e.flags |= flags
	e.fd = fd
	e.cmd = cmd
	if flags&FlagMapped != 0 {
		metrics.Add(metrics.IDOpenMapped, 1)
	} else if flags&FlagMalloced != 0 {
		metrics.Add(metrics.IDOpenBuffered, 1)
	}
	return e, nil
}

// releaseImage undoes the mapping or buffering of an image.
func releaseImage(cfg *Config, image []byte, flags Flags) {
	switch {
	case flags&FlagMapped != 0:
		if err := cfg.ops.munmap(image); err != nil {
			log.Warnf("Failed to unmap image of %d bytes: %v", len(image), err)
		}
	case flags&FlagMalloced != 0:
		cfg.alloc.Free(image)
	}
}

// readSpecial reads a pipe, socket or character device until end of stream
// into a buffer obtained from the Config allocator.
func readSpecial(cfg *Config, fd int) ([]byte, error) {
	alloc := cfg.alloc
	size := initialReadSize
	if cfg.readLimit > 0 {
		size = min(size, cfg.readLimit+1)
	}
	buf := alloc.Alloc(size)
	if buf == nil {
		return nil, ErrNoMemory
	}

	n := 0
	for {
		if n == len(buf) {
			if cfg.readLimit > 0 && n > cfg.readLimit {
				alloc.Free(buf)
				return nil, fmt.Errorf("%w: stream exceeds read limit of %d bytes",
					ErrInvalidArgument, cfg.readLimit)
			}
			grown := alloc.Alloc(2 * len(buf))
			if grown == nil {
				alloc.Free(buf)
				return nil, ErrNoMemory
			}
			copy(grown, buf)
			alloc.Free(buf)
			buf = grown
		}
		r, err := cfg.ops.read(fd, buf[n:])
		if err != nil {
			// EINTR is not a failed read, so it is not subject to the
			// no-retry rule for I/O errors.
			if errors.Is(err, unix.EINTR) {
				continue
			}
			alloc.Free(buf)
			return nil, fmt.Errorf("%w: read: %w", ErrIO, err)
		}
		if r == 0 {
			break
		}
		n += r
	}
	if cfg.readLimit > 0 && n > cfg.readLimit {
		alloc.Free(buf)
		return nil, fmt.Errorf("%w: stream exceeds read limit of %d bytes",
			ErrInvalidArgument, cfg.readLimit)
	}
	if n == 0 {
		alloc.Free(buf)
		return nil, fmt.Errorf("%w: empty stream", ErrInvalidArgument)
	}
	if n == len(buf) {
		return buf, nil
	}

	exact := alloc.Alloc(n)
	if exact == nil {
		alloc.Free(buf)
		return nil, ErrNoMemory
	}
	copy(exact, buf[:n])
	alloc.Free(buf)
	return exact, nil
}

// OpenPath opens the named file and returns a descriptor for it. The file
// is closed when the last activation of the descriptor is dropped.
func OpenPath(cfg *Config, name string, cmd Cmd) (*Elf, error) {
	var f *os.File
	var err error
	switch cmd {
	case CmdRead:
		f, err = os.Open(name)
	case CmdWrite:
		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	case CmdReadWrite:
		f, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	default:
		return nil, fmt.Errorf("%w: command %v", ErrInvalidArgument, cmd)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	e, err := Open(cfg, int(f.Fd()), cmd, nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	e.closer = f
	return e, nil
}
