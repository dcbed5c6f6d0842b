// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	log "github.com/sirupsen/logrus"
)

// End drops one activation of the descriptor and returns the number of
// activations left. When none are left, the sections and data buffers of
// the descriptor are released, then its image, then the descriptor itself.
//
// An archive whose members are still open is kept until the last member is
// ended. Ending that member then releases the archive as well.
func (e *Elf) End() int {
	if e == nil || e.mem == nil {
		return 0
	}
	if n := e.activations.Add(-1); n > 0 {
		return int(n)
	}

	for e != nil && e.activations.Load() <= 0 {
		switch e.kind {
		case KindAr:
			if e.ar.children > 0 {
				return 0
			}
		case KindElf:
			e.releaseSections()
		}

		if e.parent == nil {
			e.releaseImage()
		}
		if e.closer != nil {
			if err := e.closer.Close(); err != nil {
				log.Warnf("Failed to close file of descriptor: %v", err)
			}
			e.closer = nil
		}

		released := e
		if e = e.parent; e != nil {
			e.ar.children--
		}
		releaseObject(released)
	}
	return 0
}

// releaseImage unmaps or frees the image of a top-level descriptor. Images
// supplied by the caller are left alone.
func (e *Elf) releaseImage() {
	if e.image == nil {
		return
	}
	switch {
	case e.flags&FlagMapped != 0:
		if err := e.cfg.ops.munmap(e.image); err != nil {
			log.Warnf("Failed to unmap image of %d bytes: %v", len(e.image), err)
		}
	case e.flags&FlagMalloced != 0:
		e.alloc.Free(e.image)
	}
	e.flags &^= FlagMapped | FlagMalloced
	e.image = nil
}
