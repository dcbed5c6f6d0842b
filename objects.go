// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/opencl-tools/clelf/libelf"
)

// object is an ELF object found in an input file: the file itself or one of
// its archive members.
type object struct {
	// name is the file path, with the member name appended in parentheses
	// for archive members.
	name string
	elf  *libelf.Elf
}

// visitObjects calls fn for e and, if e is an archive, for each of its
// members. Member descriptors are ended once fn returns.
func visitObjects(cfg *libelf.Config, name string, e *libelf.Elf, fn func(object) error) error {
	if e.Kind() != libelf.KindAr {
		return fn(object{name: name, elf: e})
	}

	cmd := e.Cmd()
	for {
		m, err := libelf.Open(cfg, e.Fd(), cmd, e)
		if err != nil {
			return fmt.Errorf("%s: failed to open member: %w", name, err)
		}
		if m == nil {
			return nil
		}
		hdr, err := m.ArHeader()
		if err != nil {
			m.End()
			return fmt.Errorf("%s: %w", name, err)
		}
		err = visitObjects(cfg, fmt.Sprintf("%s(%s)", name, hdr.Name), m, fn)
		cmd = m.Next()
		m.End()
		if err != nil {
			return err
		}
	}
}

// withFile opens path, passes every object in it to fn and releases the
// descriptors afterwards.
func withFile(cfg *libelf.Config, path string, fn func(object) error) error {
	e, err := libelf.OpenPath(cfg, path, libelf.CmdRead)
	if err != nil {
		return err
	}
	defer e.End()
	return visitObjects(cfg, path, e, fn)
}
