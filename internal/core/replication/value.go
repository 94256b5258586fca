package replication

import (
	"fmt"
	"math"

	"github.com/zeusync/entitysync/pkg/encoding"
)

// ValueKind tags the scalar held by a Value.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindBool
	KindInt
	KindFloat
)

// Value is a typed replicated scalar.
type Value struct {
	kind ValueKind
	i    int64
	f    float64
}

func BoolValue(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.i = 1
	}
	return v
}

func IntValue(i int32) Value { return Value{kind: KindInt, i: int64(i)} }

func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsZero() bool { return v.kind == KindNone }

// Bool converts any kind to a boolean: non-zero is true.
func (v Value) Bool() bool {
	switch v.kind {
	case KindFloat:
		return v.f != 0
	default:
		return v.i != 0
	}
}

func (v Value) Int() int32 {
	if v.kind == KindFloat {
		return int32(v.f)
	}
	return int32(v.i)
}

func (v Value) Float() float64 {
	if v.kind == KindFloat {
		return v.f
	}
	return float64(v.i)
}

// Equal compares kind and payload; floats compare bitwise so NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindFloat {
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	}
	return v.i == o.i
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return fmt.Sprint(v.Bool())
	case KindInt:
		return fmt.Sprint(v.i)
	case KindFloat:
		return fmt.Sprint(v.f)
	default:
		return "<none>"
	}
}

var _ encoding.Serializable = (*Value)(nil)

func (v *Value) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(12)
	e.Uint(1, uint64(v.kind))
	e.Sint(2, v.i)
	e.Double(3, v.f)
	return e.Encoded(), nil
}

func (v *Value) Deserialize(data []byte) error {
	*v = Value{}
	err := encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			if f.Uint() > uint64(KindFloat) {
				return fmt.Errorf("value kind %d: %w", f.Uint(), encoding.ErrOutOfRange)
			}
			v.kind = ValueKind(f.Uint())
		case 2:
			v.i = f.Sint()
		case 3:
			v.f = f.Double()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if v.i < math.MinInt32 || v.i > math.MaxInt32 {
		return fmt.Errorf("int value %d: %w", v.i, encoding.ErrOutOfRange)
	}
	return nil
}
