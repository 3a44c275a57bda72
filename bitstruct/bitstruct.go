// Package bitstruct implements bit-packed struct schemas: a list of named
// fields with fixed widths summing to a declared total width, per spec.md
// §3's "bit-packed struct" data model. Per spec.md §9, schemas are static
// (declared once, at package init) rather than built through runtime
// reflection — each call site describes its own Schema literal.
package bitstruct

import (
	"fmt"

	"github.com/fpgaprobe/hostrt/bits"
)

// Field names one packed field and its bit width. Field order defines
// packing order (field 0 occupies the low bits).
type Field struct {
	Name  string
	Width int
}

// Schema is a static, ordered list of Fields. Construct once per wire
// format (e.g. the ARM7 Transaction opcode header, the MEC16xx Command
// register) and reuse it for every encode/decode.
type Schema struct {
	fields []Field
	total  int
	offset map[string]int
	width  map[string]int
}

// NewSchema validates and builds a Schema from an ordered field list.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{
		fields: fields,
		offset: make(map[string]int, len(fields)),
		width:  make(map[string]int, len(fields)),
	}
	off := 0
	for _, f := range fields {
		if f.Width <= 0 {
			panic(fmt.Sprintf("bitstruct: field %q has non-positive width %d", f.Name, f.Width))
		}
		s.offset[f.Name] = off
		s.width[f.Name] = f.Width
		off += f.Width
	}
	s.total = off
	return s
}

// Width returns the schema's total packed width in bits.
func (s *Schema) Width() int { return s.total }

// Value is a decoded instance of a Schema: a map from field name to the
// unsigned integer value of that field.
type Value struct {
	schema *Schema
	values map[string]uint64
}

// New constructs a zero Value for the schema.
func (s *Schema) New() *Value {
	return &Value{schema: s, values: make(map[string]uint64, len(s.fields))}
}

// FromFields constructs a Value from a map of field name to integer value,
// validating each against its declared width.
func (s *Schema) FromFields(fields map[string]uint64) (*Value, error) {
	v := s.New()
	for name, val := range fields {
		if err := v.Set(name, val); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// FromUint unpacks an integer, LSB-first, into the schema's fields.
func (s *Schema) FromUint(raw uint64) *Value {
	v := s.New()
	for _, f := range s.fields {
		off := s.offset[f.Name]
		mask := uint64(1)<<uint(f.Width) - 1
		v.values[f.Name] = (raw >> uint(off)) & mask
	}
	return v
}

// FromBytes unpacks a little-endian byte string into the schema's fields.
func (s *Schema) FromBytes(data []byte) (*Value, error) {
	if len(data)*8 < s.total {
		return nil, fmt.Errorf("bitstruct: need %d bits, got %d bytes", s.total, len(data))
	}
	var raw uint64
	if s.total > 64 {
		return nil, fmt.Errorf("bitstruct: FromBytes only supports schemas <= 64 bits, got %d", s.total)
	}
	for i := 0; i < (s.total+7)/8; i++ {
		raw |= uint64(data[i]) << uint(8*i)
	}
	return s.FromUint(raw), nil
}

// FromBits unpacks a bits.Vector into the schema's fields, LSB-first.
func (s *Schema) FromBits(v bits.Vector) (*Value, error) {
	if v.Len() < s.total {
		return nil, fmt.Errorf("bitstruct: need %d bits, got %d", s.total, v.Len())
	}
	out := s.New()
	for _, f := range s.fields {
		off := s.offset[f.Name]
		out.values[f.Name] = v.Slice(off, off+f.Width).Uint()
	}
	return out, nil
}

// Get returns the unsigned value of a field.
func (v *Value) Get(name string) uint64 {
	w, ok := v.schema.width[name]
	if !ok {
		panic(fmt.Sprintf("bitstruct: unknown field %q", name))
	}
	_ = w
	return v.values[name]
}

// Set assigns a field, raising an error if the value does not fit in
// [0, 2^width) per spec.md §3's invariant.
func (v *Value) Set(name string, value uint64) error {
	w, ok := v.schema.width[name]
	if !ok {
		return fmt.Errorf("bitstruct: unknown field %q", name)
	}
	if w < 64 {
		limit := uint64(1) << uint(w)
		if value >= limit {
			return fmt.Errorf("bitstruct: field %q width %d cannot hold value %d", name, w, value)
		}
	}
	v.values[name] = value
	return nil
}

// Uint packs the Value back into a single unsigned integer, LSB-first.
// Panics if the schema's total width exceeds 64 bits.
func (v *Value) Uint() uint64 {
	if v.schema.total > 64 {
		panic("bitstruct: Uint() on schema wider than 64 bits")
	}
	var raw uint64
	for _, f := range v.schema.fields {
		off := v.schema.offset[f.Name]
		raw |= v.values[f.Name] << uint(off)
	}
	return raw
}

// Bits packs the Value into a bits.Vector of the schema's total width.
func (v *Value) Bits() bits.Vector {
	out := bits.New(v.schema.total)
	for _, f := range v.schema.fields {
		off := v.schema.offset[f.Name]
		fv := bits.FromUint(v.values[f.Name], f.Width)
		for i := 0; i < f.Width; i++ {
			out = out.SetBit(off+i, fv.Bit(i))
		}
	}
	return out
}

// Bytes packs the Value into little-endian bytes, zero-padding the final
// byte to a whole number of bytes.
func (v *Value) Bytes() []byte {
	return v.Bits().Bytes()
}
