// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernelmeta // import "github.com/opencl-tools/clelf/kernelmeta"

import (
	"encoding/binary"
	"fmt"
	"math"
)

// decoder reads little-endian fields from a table. The first failed read is
// recorded and every later read returns zero values.
type decoder struct {
	b   []byte
	off int
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
	}
}

func (d *decoder) next(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if n > len(d.b)-d.off {
		d.fail("truncated %s at offset %d", what, d.off)
		return nil
	}
	b := d.b[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8(what string) uint8 {
	if b := d.next(1, what); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16(what string) uint16 {
	if b := d.next(2, what); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32(what string) uint32 {
	if b := d.next(4, what); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) boolean(what string) bool {
	return d.u8(what) != 0
}

func (d *decoder) str(what string) string {
	n := d.u16(what + " length")
	return string(d.next(int(n), what))
}

// Decode parses a metadata table.
func Decode(b []byte) (*Table, error) {
	d := &decoder{b: b}
	if m := d.next(len(magic), "magic"); d.err != nil || string(m) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	t := &Table{Version: d.u16("version")}
	if d.err == nil && t.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, t.Version)
	}
	count := d.u16("kernel count")
	for i := 0; i < int(count) && d.err == nil; i++ {
		t.Kernels = append(t.Kernels, d.kernel())
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrFormat, len(b)-d.off)
	}
	return t, nil
}

func (d *decoder) kernel() Kernel {
	k := Kernel{
		Name:   d.str("kernel name"),
		Device: d.str("device name"),
		Flags:  Flags(d.u32("flags")),
	}
	nargs := d.u16("argument count")
	nprintf := d.u16("printf count")
	for i := 0; i < int(nargs) && d.err == nil; i++ {
		k.Args = append(k.Args, d.arg())
	}
	for i := 0; i < int(nprintf) && d.err == nil; i++ {
		p := Printf{
			ID:     d.u32("printf id"),
			Format: d.str("printf format"),
		}
		nsizes := d.u8("printf size count")
		for j := 0; j < int(nsizes) && d.err == nil; j++ {
			p.Sizes = append(p.Sizes, d.u32("printf argument size"))
		}
		k.Printf = append(k.Printf, p)
	}
	return k
}

func (d *decoder) arg() Arg {
	a := Arg{Name: d.str("argument name")}
	switch t := ArgType(d.u8("argument type")); t {
	case ArgTypeSampler:
		a.Data = SamplerArg{Value: d.u32("sampler value")}
	case ArgTypeImage:
		a.Data = ImageArg{
			Dim:        ImageDim(d.u8("image dimension")),
			Access:     Access(d.u8("image access")),
			ResourceID: d.u32("image resource"),
		}
	case ArgTypeCounter:
		a.Data = CounterArg{
			Bits:       d.u8("counter bits"),
			ResourceID: d.u32("counter resource"),
		}
	case ArgTypeValue:
		a.Data = ValueArg{
			Data:        DataType(d.u8("value data type")),
			NumElements: d.u16("value elements"),
		}
	case ArgTypePointer:
		a.Data = PointerArg{
			Data:     DataType(d.u8("pointer data type")),
			Space:    AddressSpace(d.u8("pointer address space")),
			Align:    d.u32("pointer alignment"),
			Volatile: d.boolean("pointer volatile"),
			Restrict: d.boolean("pointer restrict"),
			Const:    d.boolean("pointer const"),
		}
	case ArgTypeQueue:
		a.Data = QueueArg{Space: AddressSpace(d.u8("queue address space"))}
	default:
		d.fail("argument %q has unknown type %v", a.Name, t)
	}
	return a
}

// encoder appends little-endian fields, keeping the first error.
type encoder struct {
	b   []byte
	err error
}

func (e *encoder) u8(v uint8)   { e.b = append(e.b, v) }
func (e *encoder) u16(v uint16) { e.b = binary.LittleEndian.AppendUint16(e.b, v) }
func (e *encoder) u32(v uint32) { e.b = binary.LittleEndian.AppendUint32(e.b, v) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

// count encodes a u16 element count.
func (e *encoder) count(n int, what string) {
	if n > math.MaxUint16 {
		if e.err == nil {
			e.err = fmt.Errorf("%w: too many %s (%d)", ErrFormat, what, n)
		}
		return
	}
	e.u16(uint16(n))
}

func (e *encoder) str(s, what string) {
	e.count(len(s), what+" bytes")
	e.b = append(e.b, s...)
}

func (a SamplerArg) encode(e *encoder) { e.u32(a.Value) }

func (a ImageArg) encode(e *encoder) {
	e.u8(uint8(a.Dim))
	e.u8(uint8(a.Access))
	e.u32(a.ResourceID)
}

func (a CounterArg) encode(e *encoder) {
	e.u8(a.Bits)
	e.u32(a.ResourceID)
}

func (a ValueArg) encode(e *encoder) {
	e.u8(uint8(a.Data))
	e.u16(a.NumElements)
}

func (a PointerArg) encode(e *encoder) {
	e.u8(uint8(a.Data))
	e.u8(uint8(a.Space))
	e.u32(a.Align)
	e.boolean(a.Volatile)
	e.boolean(a.Restrict)
	e.boolean(a.Const)
}

func (a QueueArg) encode(e *encoder) { e.u8(uint8(a.Space)) }

// Encode serializes t in the format read by Decode. The table version is
// always written as Version.
func Encode(t *Table) ([]byte, error) {
	e := &encoder{b: []byte(magic)}
	e.u16(Version)
	e.count(len(t.Kernels), "kernels")
	for _, k := range t.Kernels {
		e.str(k.Name, "kernel name")
		e.str(k.Device, "device name")
		e.u32(uint32(k.Flags))
		e.count(len(k.Args), "arguments")
		e.count(len(k.Printf), "printf entries")
		for _, a := range k.Args {
			if a.Data == nil {
				return nil, fmt.Errorf("%w: argument %q of %s has no data",
					ErrFormat, a.Name, k.Name)
			}
			e.str(a.Name, "argument name")
			e.u8(uint8(a.Data.ArgType()))
			a.Data.encode(e)
		}
		for _, p := range k.Printf {
			e.u32(p.ID)
			e.str(p.Format, "printf format")
			if len(p.Sizes) > math.MaxUint8 {
				return nil, fmt.Errorf("%w: printf %d has %d arguments",
					ErrFormat, p.ID, len(p.Sizes))
			}
			e.u8(uint8(len(p.Sizes)))
			for _, s := range p.Sizes {
				e.u32(s)
			}
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.b, nil
}
