// Package encoding provides the wire helpers used by every replicated payload.
// Payloads use the protobuf wire format through protowire, so any protobuf
// runtime on the server side can decode them without generated code here.
package encoding

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrOutOfRange is returned when a varint does not fit the field's declared
// width.
var ErrOutOfRange = errors.New("value out of range")

// Serializable provides a clean, simple interface for serializing and deserializing values.
type Serializable interface {
	Serialize() ([]byte, error)
	Deserialize([]byte) error
}

// Encoder appends protobuf fields to an internal buffer. Zero scalars are
// omitted, matching proto3 defaults.
type Encoder struct {
	buf []byte
}

func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

// Reset empties the buffer and keeps its capacity.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Encoded returns the bytes written so far. The slice aliases the encoder's
// buffer until the next Reset.
func (e *Encoder) Encoded() []byte { return e.buf }

func (e *Encoder) Uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *Encoder) Sint(num protowire.Number, v int64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, protowire.EncodeZigZag(v))
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if v {
		e.Uint(num, 1)
	}
}

func (e *Encoder) Double(num protowire.Number, v float64) {
	if v == 0 && !math.Signbit(v) {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed64Type)
	e.buf = protowire.AppendFixed64(e.buf, math.Float64bits(v))
}

// Fixed writes a double even when it is zero.
func (e *Encoder) Fixed(num protowire.Number, v float64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed64Type)
	e.buf = protowire.AppendFixed64(e.buf, math.Float64bits(v))
}

func (e *Encoder) Bytes(num protowire.Number, b []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, b)
}

// Message writes m as an embedded message, even when it encodes to nothing.
func (e *Encoder) Message(num protowire.Number, m Serializable) error {
	b, err := m.Serialize()
	if err != nil {
		return err
	}
	e.Bytes(num, b)
	return nil
}

// PackedUint writes a packed repeated varint field.
func (e *Encoder) PackedUint(num protowire.Number, vs []uint64) {
	if len(vs) == 0 {
		return
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	e.Bytes(num, packed)
}

// Field is one decoded protobuf field.
type Field struct {
	Num  protowire.Number
	Type protowire.Type

	varint uint64
	fixed  uint64
	bytes  []byte
}

func (f Field) Uint() uint64 { return f.varint }

func (f Field) Sint() int64 { return protowire.DecodeZigZag(f.varint) }

// Uint32 is Uint narrowed to 32 bits.
func (f Field) Uint32() (uint32, error) {
	if f.varint > math.MaxUint32 {
		return 0, fmt.Errorf("field %d: %w: %d", f.Num, ErrOutOfRange, f.varint)
	}
	return uint32(f.varint), nil
}

// Uint16 is Uint narrowed to 16 bits.
func (f Field) Uint16() (uint16, error) {
	if f.varint > math.MaxUint16 {
		return 0, fmt.Errorf("field %d: %w: %d", f.Num, ErrOutOfRange, f.varint)
	}
	return uint16(f.varint), nil
}

// Sint32 is Sint narrowed to 32 bits.
func (f Field) Sint32() (int32, error) {
	v := f.Sint()
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("field %d: %w: %d", f.Num, ErrOutOfRange, v)
	}
	return int32(v), nil
}

func (f Field) Bool() bool { return f.varint != 0 }

func (f Field) Double() float64 { return math.Float64frombits(f.fixed) }

// Bytes aliases the decoded input buffer.
func (f Field) Bytes() []byte { return f.bytes }

// PackedUint decodes a packed repeated varint field.
func (f Field) PackedUint() ([]uint64, error) {
	if f.Type == protowire.VarintType {
		return []uint64{f.varint}, nil
	}
	data := f.bytes
	var out []uint64
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		data = data[n:]
	}
	return out, nil
}

// Walk decodes data field by field. Unknown wire types are skipped.
func Walk(data []byte, fn func(f Field) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
