// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernelmeta // import "github.com/opencl-tools/clelf/kernelmeta"

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"

	"github.com/opencl-tools/clelf/freelru"
	"github.com/opencl-tools/clelf/libelf"
	"github.com/opencl-tools/clelf/metrics"
)

// Reader extracts metadata tables from object descriptors. Decoded tables
// are cached by the fingerprint of the object image, so identical kernel
// binaries opened through different descriptors are decoded once.
//
// Tables returned by a Reader are shared and must not be modified.
type Reader struct {
	cache *freelru.LRU[xxh3.Uint128, *Table]
}

// NewReader returns a Reader caching up to size tables.
func NewReader(size uint32) (*Reader, error) {
	cache, err := freelru.New[xxh3.Uint128, *Table](size, freelru.HashUint128)
	if err != nil {
		return nil, fmt.Errorf("failed to create table cache: %w", err)
	}
	return &Reader{cache: cache}, nil
}

// Read returns the metadata table of the object e.
func (r *Reader) Read(e *libelf.Elf) (*Table, error) {
	if e.Kind() != libelf.KindElf {
		return nil, libelf.ErrNotObject
	}
	fp := e.Fingerprint()
	if t, ok := r.cache.Get(fp); ok {
		metrics.Add(metrics.IDKernelMetaCacheHit, 1)
		return t, nil
	}
	metrics.Add(metrics.IDKernelMetaCacheMiss, 1)

	scn, err := e.SectionByName(SectionName)
	if err != nil {
		return nil, err
	}
	if scn == nil {
		return nil, ErrNoMetadata
	}
	d, err := scn.RawData()
	if err != nil {
		return nil, err
	}
	t, err := Decode(d.Buf)
	if err != nil {
		return nil, fmt.Errorf("section %s: %w", SectionName, err)
	}
	log.Debugf("Decoded %d kernels from %x", len(t.Kernels), fp.Bytes())
	r.cache.Add(fp, t)
	return t, nil
}

// Statistics returns and resets the cache statistics.
func (r *Reader) Statistics() freelru.Statistics {
	return r.cache.GetAndResetStatistics()
}
