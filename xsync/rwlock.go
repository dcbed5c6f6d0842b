// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "github.com/opencl-tools/clelf/xsync"

import "sync"

// RWMutex is a sync.RWMutex owning the value it protects. The value is only
// reachable through the pointer handed out by RLock or WLock, and the unlock
// methods clear that pointer:
//
//	type Cache struct {
//		entries xsync.RWMutex[map[string]*Entry]
//	}
//
//	func (c *Cache) Get(name string) *Entry {
//		entries := c.entries.RLock()
//		defer c.entries.RUnlock(&entries)
//		return (*entries)[name]
//	}
//
// Forgetting to lock does not compile, and using the pointer after unlocking
// panics with a nil dereference instead of racing silently.
type RWMutex[T any] struct {
	guarded T
	mutex   sync.RWMutex
}

// NewRWMutex creates a new read-write mutex guarding the given value.
func NewRWMutex[T any](guarded T) RWMutex[T] {
	return RWMutex[T]{
		guarded: guarded,
	}
}

// RLock locks the mutex for reading. The caller must not write through the
// returned pointer or keep it beyond the matching RUnlock.
func (mtx *RWMutex[T]) RLock() *T {
	mtx.mutex.RLock()
	return &mtx.guarded
}

// RUnlock invalidates the pointer obtained from RLock and unlocks the mutex.
func (mtx *RWMutex[T]) RUnlock(ref **T) {
	*ref = nil
	mtx.mutex.RUnlock()
}

// WLock locks the mutex for writing. The caller must not keep the returned
// pointer beyond the matching WUnlock.
func (mtx *RWMutex[T]) WLock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// WUnlock invalidates the pointer obtained from WLock and unlocks the mutex.
func (mtx *RWMutex[T]) WUnlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}
