// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testsupport // import "github.com/opencl-tools/clelf/testsupport"

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Member is one member of a synthetic archive.
type Member struct {
	Name string
	Data []byte
	// Symbols are listed in the archive symbol table as defined by this
	// member.
	Symbols []string
}

// ArchiveFormat selects the member naming and symbol table conventions.
type ArchiveFormat int

const (
	// ArchiveSysV uses a "/" symbol table and a "//" long name table.
	ArchiveSysV ArchiveFormat = iota
	// ArchiveBSD uses "#1/" names and a __.SYMDEF symbol table.
	ArchiveBSD
)

func arHeader(name string, size int) []byte {
	return fmt.Appendf(nil, "%-16s%-12d%-6d%-6d%-8o%-10d`\n", name, 0, 0, 0, 0o644, size)
}

func appendMember(buf *bytes.Buffer, rawName string, prefix, data []byte) {
	buf.Write(arHeader(rawName, len(prefix)+len(data)))
	buf.Write(prefix)
	buf.Write(data)
	if buf.Len()&1 != 0 {
		buf.WriteByte('\n')
	}
}

func memberSize(n int) int {
	return 60 + n + n&1
}

// BuildArchive encodes members into an ar archive. A symbol table is
// written if any member defines symbols.
func BuildArchive(format ArchiveFormat, members []Member) []byte {
	type symref struct {
		name   string
		member int
	}
	var syms []symref
	for i, m := range members {
		for _, s := range m.Symbols {
			syms = append(syms, symref{s, i})
		}
	}

	// Member names and the long name table.
	rawNames := make([]string, len(members))
	prefixes := make([][]byte, len(members))
	var longNames []byte
	for i, m := range members {
		switch {
		case format == ArchiveBSD:
			rawNames[i] = fmt.Sprintf("#1/%d", len(m.Name))
			prefixes[i] = []byte(m.Name)
		case len(m.Name) < 16:
			rawNames[i] = m.Name + "/"
		default:
			rawNames[i] = fmt.Sprintf("/%d", len(longNames))
			longNames = append(longNames, m.Name+"/\n"...)
		}
	}

	// The symbol table size is known up front, which fixes member offsets.
	var symtabSize int
	var strs []byte
	if len(syms) > 0 {
		for _, s := range syms {
			strs = append(strs, s.name...)
			strs = append(strs, 0)
		}
		if format == ArchiveBSD {
			symtabSize = len("__.SYMDEF") + 4 + 8*len(syms) + 4 + len(strs)
		} else {
			symtabSize = 4 + 4*len(syms) + len(strs)
		}
	}

	off := 8
	if symtabSize > 0 {
		off += memberSize(symtabSize)
	}
	if len(longNames) > 0 {
		off += memberSize(len(longNames))
	}
	offsets := make([]int, len(members))
	for i, m := range members {
		offsets[i] = off
		off += memberSize(len(prefixes[i]) + len(m.Data))
	}

	var buf bytes.Buffer
	buf.WriteString("!<arch>\n")
	if symtabSize > 0 {
		var tab bytes.Buffer
		if format == ArchiveBSD {
			ne := binary.NativeEndian
			tab.Write(ne.AppendUint32(nil, uint32(8*len(syms))))
			strx := 0
			for _, s := range syms {
				tab.Write(ne.AppendUint32(nil, uint32(strx)))
				tab.Write(ne.AppendUint32(nil, uint32(offsets[s.member])))
				strx += len(s.name) + 1
			}
			tab.Write(ne.AppendUint32(nil, uint32(len(strs))))
			tab.Write(strs)
			appendMember(&buf, "#1/9", []byte("__.SYMDEF"), tab.Bytes())
		} else {
			be := binary.BigEndian
			tab.Write(be.AppendUint32(nil, uint32(len(syms))))
			for _, s := range syms {
				tab.Write(be.AppendUint32(nil, uint32(offsets[s.member])))
			}
			tab.Write(strs)
			appendMember(&buf, "/", nil, tab.Bytes())
		}
	}
	if len(longNames) > 0 {
		appendMember(&buf, "//", nil, longNames)
	}
	for i, m := range members {
		appendMember(&buf, rawNames[i], prefixes[i], m.Data)
	}
	return buf.Bytes()
}
