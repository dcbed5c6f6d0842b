// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"github.com/opencl-tools/clelf/metrics"
	"github.com/opencl-tools/clelf/xsync"
)

type registryKey struct {
	fd  int
	cmd Cmd
}

// Registry shares descriptors between goroutines that open the same file
// descriptor with the same command. The decision whether to create a new
// descriptor or to add an activation to an existing one is made under a
// single lock.
//
// Descriptors opened for writing are never shared and never registered.
type Registry struct {
	cfg     *Config
	entries xsync.RWMutex[map[registryKey]*Elf]
}

// NewRegistry returns an empty registry opening descriptors with cfg.
func NewRegistry(cfg *Config) *Registry {
	return &Registry{
		cfg:     cfg,
		entries: xsync.NewRWMutex(map[registryKey]*Elf{}),
	}
}

// Acquire returns the descriptor registered for (fd, cmd) with one more
// activation, or opens and registers a fresh one.
func (r *Registry) Acquire(fd int, cmd Cmd) (*Elf, error) {
	if cmd != CmdRead && cmd != CmdReadWrite {
		return Open(r.cfg, fd, cmd, nil)
	}
	key := registryKey{fd: fd, cmd: cmd}

	entries := r.entries.WLock()
	defer r.entries.WUnlock(&entries)

	if e, ok := (*entries)[key]; ok {
		if e.kind == KindAr {
			// Open with an archive parent yields a member, not the archive.
			e.activations.Add(1)
			metrics.Add(metrics.IDOpenShared, 1)
			return e, nil
		}
		return Open(r.cfg, fd, cmd, e)
	}

	e, err := Open(r.cfg, fd, cmd, nil)
	if err != nil || e == nil {
		return e, err
	}
	(*entries)[key] = e
	metrics.Add(metrics.IDRegistryEntries, metrics.MetricValue(len(*entries)))
	return e, nil
}

// Release drops one activation of e and returns the number left. The entry
// is removed from the registry together with the last activation.
func (r *Registry) Release(e *Elf) int {
	if e == nil {
		return 0
	}
	entries := r.entries.WLock()
	defer r.entries.WUnlock(&entries)

	key := registryKey{fd: e.fd, cmd: e.cmd}
	n := e.End()
	if n == 0 && (*entries)[key] == e {
		delete(*entries, key)
		metrics.Add(metrics.IDRegistryEntries, metrics.MetricValue(len(*entries)))
	}
	return n
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	entries := r.entries.RLock()
	defer r.entries.RUnlock(&entries)
	return len(*entries)
}
