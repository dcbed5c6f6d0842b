// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libelf // import "github.com/opencl-tools/clelf/libelf"

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unsafe"
)

const (
	arMagic   = "!<arch>\n"
	arFmag    = "`\n"
	arHdrSize = 60

	// Special member names.
	arSymtabName   = "/"
	arSymtab64Name = "/SYM64/"
	arStrtabName   = "//"
	bsdSymdefName  = "__.SYMDEF"
	bsdNamePrefix  = "#1/"
)

// archive holds the state of KindAr descriptors.
type archive struct {
	// next is the offset of the header of the member returned by the next
	// Open, or 0 once the members are exhausted.
	next uint64

	// strtab holds the SysV long member names.
	strtab []byte

	// symtab is the raw archive symbol table; symtabKind tells how to read it.
	symtab     []byte
	symtabKind symtabKind

	arsym    []Arsym
	arsymMem []byte

	// children is the number of members opened and not yet released.
	children int
}

type symtabKind uint8

const (
	symtabNone symtabKind = iota
	symtabSysV
	symtabSysV64
	symtabBSD
)

// ArHeader describes an archive member.
type ArHeader struct {
	// Name is the member name with long name indirections resolved and the
	// SysV terminator stripped.
	Name string
	// RawName is the name field as stored in the member header.
	RawName string
	Date    int64
	UID     int
	GID     int
	Mode    uint32
	// Size is the size of the member contents.
	Size int64

	// offset of the member header within the archive image.
	offset uint64

	nameMem    []byte
	rawNameMem []byte
	mem        []byte
}

// Arsym is one entry of the archive symbol table.
type Arsym struct {
	Name string
	// Offset is the offset of the header of the member defining the symbol.
	Offset uint64
	// Hash is the SysV ELF hash of Name.
	Hash uint64
}

var (
	arHeaderDescSize = int(unsafe.Sizeof(ArHeader{}))
	arsymDescSize    = int(unsafe.Sizeof(Arsym{}))
)

// rawMember is a decoded member header before names are resolved.
type rawMember struct {
	rawName  string
	date     int64
	uid, gid int
	mode     uint32
	size     int64

	// data is the offset of the member contents, after any BSD long name.
	data uint64
	// end is the offset of the next member header.
	end uint64
}

func parseDecimal(field []byte) (int64, error) {
	s := strings.TrimRight(string(field), " ")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// readMemberHeader decodes the member header at off.
func (e *Elf) readMemberHeader(off uint64) (rawMember, error) {
	var m rawMember
	hdr, err := e.imageRange(off, arHdrSize)
	if err != nil {
		return m, fmt.Errorf("%w: truncated member header at 0x%x", ErrArchive, off)
	}
	if string(hdr[58:60]) != arFmag {
		return m, fmt.Errorf("%w: bad member header magic at 0x%x", ErrArchive, off)
	}
	m.rawName = strings.TrimRight(string(hdr[0:16]), " ")

	fields := []struct {
		b   []byte
		dst *int64
	}{
		{hdr[16:28], &m.date},
		{hdr[48:58], &m.size},
	}
	for _, f := range fields {
		if *f.dst, err = parseDecimal(f.b); err != nil {
			return m, fmt.Errorf("%w: member header at 0x%x: %w", ErrArchive, off, err)
		}
	}
	uid, err := parseDecimal(hdr[28:34])
	if err != nil {
		return m, fmt.Errorf("%w: member header at 0x%x: %w", ErrArchive, off, err)
	}
	gid, err := parseDecimal(hdr[34:40])
	if err != nil {
		return m, fmt.Errorf("%w: member header at 0x%x: %w", ErrArchive, off, err)
	}
	m.uid, m.gid = int(uid), int(gid)
	if s := strings.TrimRight(string(hdr[40:48]), " "); s != "" {
		mode, err := strconv.ParseUint(s, 8, 32)
		if err != nil {
			return m, fmt.Errorf("%w: member header at 0x%x: %w", ErrArchive, off, err)
		}
		m.mode = uint32(mode)
	}
	if m.size < 0 {
		return m, fmt.Errorf("%w: negative member size at 0x%x", ErrArchive, off)
	}

	m.data = off + arHdrSize
	end := m.data + uint64(m.size)
	if end > uint64(len(e.image)) {
		return m, fmt.Errorf("%w: member at 0x%x exceeds archive", ErrArchive, off)
	}
	m.end = end + end&1

	if strings.HasPrefix(m.rawName, bsdNamePrefix) {
		n, err := strconv.ParseUint(m.rawName[len(bsdNamePrefix):], 10, 32)
		if err != nil || int64(n) > m.size {
			return m, fmt.Errorf("%w: bad BSD name length at 0x%x", ErrArchive, off)
		}
		m.data += n
		m.size -= int64(n)
	}
	return m, nil
}

// memberName resolves the name of a member.
func (e *Elf) memberName(m rawMember, off uint64) (string, error) {
	raw := m.rawName
	switch {
	case raw == arSymtabName || raw == arStrtabName || raw == arSymtab64Name:
		return raw, nil
	case strings.HasPrefix(raw, bsdNamePrefix):
		// The name precedes the contents and may be NUL padded.
		b := e.image[off+arHdrSize : m.data]
		return string(bytes.TrimRight(b, "\x00")), nil
	case len(raw) > 1 && raw[0] == '/':
		idx, err := strconv.ParseUint(raw[1:], 10, 32)
		if err != nil || idx >= uint64(len(e.ar.strtab)) {
			return "", fmt.Errorf("%w: bad long name reference %q", ErrArchive, raw)
		}
		name := e.ar.strtab[idx:]
		if end := bytes.IndexByte(name, '\n'); end >= 0 {
			name = name[:end]
		}
		return strings.TrimSuffix(string(name), "/"), nil
	}
	return strings.TrimSuffix(raw, "/"), nil
}

func isSpecialMember(rawName, name string) bool {
	switch rawName {
	case arSymtabName, arSymtab64Name, arStrtabName:
		return true
	}
	return name == bsdSymdefName || name == bsdSymdefName+" SORTED"
}

// loadArchive reads the leading symbol and string tables of an archive and
// positions the member cursor on the first regular member.
func (e *Elf) loadArchive() error {
	ar := e.ar
	off := uint64(len(arMagic))
	for off < uint64(len(e.image)) {
		m, err := e.readMemberHeader(off)
		if err != nil {
			return err
		}
		contents := e.image[m.data : m.data+uint64(m.size)]
		switch m.rawName {
		case arSymtabName:
			ar.symtab, ar.symtabKind = contents, symtabSysV
		case arSymtab64Name:
			ar.symtab, ar.symtabKind = contents, symtabSysV64
		case arStrtabName:
			ar.strtab = contents
		default:
			name, err := e.memberName(m, off)
			if err != nil {
				return err
			}
			if !isSpecialMember(m.rawName, name) {
				ar.next = off
				return nil
			}
			ar.symtab, ar.symtabKind = contents, symtabBSD
		}
		off = m.end
	}
	ar.next = 0
	return nil
}

// openMember opens the member under the archive cursor. It returns
// (nil, nil) once all members have been visited.
func (e *Elf) openMember(fd int, cmd Cmd) (*Elf, error) {
	ar := e.ar
	for ar.next != 0 && ar.next < uint64(len(e.image)) {
		off := ar.next
		m, err := e.readMemberHeader(off)
		if err != nil {
			return nil, err
		}
		name, err := e.memberName(m, off)
		if err != nil {
			return nil, err
		}
		if isSpecialMember(m.rawName, name) {
			ar.next = m.end
			continue
		}

		hdr, err := e.newArHeader(m, name, off)
		if err != nil {
			return nil, err
		}
		member, err := e.cfg.ops.identify(e.cfg, e.image[m.data:m.data+uint64(m.size)], e.alloc)
		if err != nil {
			e.freeArHeader(hdr)
			return nil, err
		}
		member.arhdr = hdr
		member.parent = e
		member.fd = fd
		member.cmd = cmd
		ar.children++
		return member, nil
	}
	return nil, nil
}

// newArHeader builds the header of a member. The header and both names are
// charged against the archive allocator, which members inherit.
func (e *Elf) newArHeader(m rawMember, name string, off uint64) (*ArHeader, error) {
	mem := e.alloc.Alloc(arHeaderDescSize)
	if mem == nil {
		return nil, ErrNoMemory
	}
	h := &ArHeader{
		Name:    name,
		RawName: m.rawName,
		Date:    m.date,
		UID:     m.uid,
		GID:     m.gid,
		Mode:    m.mode,
		Size:    m.size,
		offset:  off,
		mem:     mem,
	}
	if h.nameMem = e.alloc.Alloc(len(name) + 1); h.nameMem == nil {
		e.freeArHeader(h)
		return nil, ErrNoMemory
	}
	if h.rawNameMem = e.alloc.Alloc(len(m.rawName) + 1); h.rawNameMem == nil {
		e.freeArHeader(h)
		return nil, ErrNoMemory
	}
	return h, nil
}

func (e *Elf) freeArHeader(h *ArHeader) {
	if h.nameMem != nil {
		e.alloc.Free(h.nameMem)
	}
	if h.rawNameMem != nil {
		e.alloc.Free(h.rawNameMem)
	}
	e.alloc.Free(h.mem)
}

// ArHeader returns the archive header of a member descriptor.
func (e *Elf) ArHeader() (*ArHeader, error) {
	if e.arhdr == nil {
		return nil, fmt.Errorf("%w: descriptor is not an archive member", ErrArgument)
	}
	return e.arhdr, nil
}

// Next advances the cursor of the parent archive past this member. It
// returns the command to pass to the next Open, or CmdNull when there are
// no more members or e is not an archive member.
func (e *Elf) Next() Cmd {
	p := e.parent
	if p == nil || p.kind != KindAr || e.arhdr == nil {
		return CmdNull
	}
	m, err := p.readMemberHeader(e.arhdr.offset)
	if err != nil || m.end >= uint64(len(p.image)) {
		p.ar.next = 0
		return CmdNull
	}
	p.ar.next = m.end
	return p.cmd
}

// Rand positions the archive cursor on the member header at off, as found
// in the archive symbol table, and returns off.
func (e *Elf) Rand(off uint64) (uint64, error) {
	if e.kind != KindAr {
		return 0, ErrNotArchive
	}
	if off < uint64(len(arMagic)) || off&1 != 0 {
		return 0, fmt.Errorf("%w: offset 0x%x", ErrArgument, off)
	}
	if _, err := e.readMemberHeader(off); err != nil {
		return 0, fmt.Errorf("%w: offset 0x%x: %w", ErrArgument, off, err)
	}
	e.ar.next = off
	return off, nil
}

// elfHash is the SysV ELF symbol hash.
func elfHash(name string) uint64 {
	var h uint32
	for i := range len(name) {
		h = h<<4 + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= 0xf0000000
	}
	return uint64(h)
}

// Arsym returns the archive symbol table, or nil if the archive has none.
func (e *Elf) Arsym() ([]Arsym, error) {
	if e.kind != KindAr {
		return nil, ErrNotArchive
	}
	ar := e.ar
	if ar.arsym != nil || ar.symtabKind == symtabNone {
		return ar.arsym, nil
	}

	var syms []Arsym
	var err error
	switch ar.symtabKind {
	case symtabSysV:
		syms, err = parseSysVSymtab(ar.symtab, 4)
	case symtabSysV64:
		syms, err = parseSysVSymtab(ar.symtab, 8)
	case symtabBSD:
		syms, err = parseBSDSymtab(ar.symtab)
	}
	if err != nil {
		return nil, err
	}
	mem := e.alloc.Alloc(max(len(syms), 1) * arsymDescSize)
	if mem == nil {
		return nil, ErrNoMemory
	}
	for i := range syms {
		syms[i].Hash = elfHash(syms[i].Name)
	}
	ar.arsym = syms
	ar.arsymMem = mem
	return syms, nil
}

// parseSysVSymtab reads a big endian SysV symbol table with word sized
// counts and offsets.
func parseSysVSymtab(b []byte, word int) ([]Arsym, error) {
	readWord := func(p []byte) uint64 {
		if word == 8 {
			return binary.BigEndian.Uint64(p)
		}
		return uint64(binary.BigEndian.Uint32(p))
	}
	if len(b) < word {
		return nil, fmt.Errorf("%w: truncated symbol table", ErrArchive)
	}
	count := readWord(b)
	// The offsets follow the count word and must fit in the member.
	if count > uint64((len(b)-word)/word) {
		return nil, fmt.Errorf("%w: symbol table count %d too large", ErrArchive, count)
	}
	names := b[word+int(count)*word:]
	syms := make([]Arsym, 0, count)
	for i := range int(count) {
		off := readWord(b[word+i*word:])
		end := bytes.IndexByte(names, 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated symbol name", ErrArchive)
		}
		syms = append(syms, Arsym{Name: string(names[:end]), Offset: off})
		names = names[end+1:]
	}
	return syms, nil
}

// parseBSDSymtab reads a __.SYMDEF table of ranlib entries in host order.
func parseBSDSymtab(b []byte) ([]Arsym, error) {
	ne := binary.NativeEndian
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: truncated symbol table", ErrArchive)
	}
	ranlibSize := uint64(ne.Uint32(b))
	if ranlibSize%8 != 0 || 4+ranlibSize+4 > uint64(len(b)) {
		return nil, fmt.Errorf("%w: bad ranlib table size %d", ErrArchive, ranlibSize)
	}
	ranlib := b[4 : 4+ranlibSize]
	strSize := uint64(ne.Uint32(b[4+ranlibSize:]))
	strtab := b[8+ranlibSize:]
	if strSize > uint64(len(strtab)) {
		return nil, fmt.Errorf("%w: bad ranlib string table size %d", ErrArchive, strSize)
	}
	strtab = strtab[:strSize]

	syms := make([]Arsym, 0, len(ranlib)/8)
	for i := 0; i < len(ranlib); i += 8 {
		name, ok := getString(strtab, int(ne.Uint32(ranlib[i:])))
		if !ok {
			return nil, fmt.Errorf("%w: bad ranlib name index", ErrArchive)
		}
		syms = append(syms, Arsym{Name: name, Offset: uint64(ne.Uint32(ranlib[i+4:]))})
	}
	return syms, nil
}
