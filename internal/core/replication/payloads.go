package replication

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zeusync/entitysync/pkg/encoding"
	"github.com/zeusync/entitysync/pkg/mathx"
)

var (
	_ encoding.Serializable = (*TriggerPayload)(nil)
	_ encoding.Serializable = (*StatePayload)(nil)
	_ encoding.Serializable = (*ParamPayload)(nil)
	_ encoding.Serializable = (*TransformResponse)(nil)
	_ encoding.Serializable = (*TransformUpdate)(nil)
	_ encoding.Serializable = (*Sample)(nil)
	_ encoding.Serializable = (*PropertySet)(nil)
	_ encoding.Serializable = (*PlayerPayload)(nil)
)

// TriggerPayload is ANIMATION_TRIGGER: fire parameter Param once.
type TriggerPayload struct {
	Owner uint32
	Param int32
}

func (p *TriggerPayload) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(12)
	e.Uint(1, uint64(p.Owner))
	e.Sint(2, int64(p.Param))
	return e.Encoded(), nil
}

func (p *TriggerPayload) Deserialize(data []byte) error {
	*p = TriggerPayload{}
	return encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			v, err := f.Uint32()
			p.Owner = v
			return err
		case 2:
			v, err := f.Sint32()
			p.Param = v
			return err
		}
		return nil
	})
}

// StatePayload is ANIMATION_STATE: layer Layer is now in state StateHash.
type StatePayload struct {
	Owner     uint32
	Layer     int32
	StateHash int32
}

func (p *StatePayload) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(18)
	e.Uint(1, uint64(p.Owner))
	e.Sint(2, int64(p.Layer))
	e.Sint(3, int64(p.StateHash))
	return e.Encoded(), nil
}

func (p *StatePayload) Deserialize(data []byte) error {
	*p = StatePayload{}
	return encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			v, err := f.Uint32()
			p.Owner = v
			return err
		case 2:
			v, err := f.Sint32()
			p.Layer = v
			return err
		case 3:
			v, err := f.Sint32()
			p.StateHash = v
			return err
		}
		return nil
	})
}

// ParamPayload is ANIMATION_PARAM: the full parameter vector, index-aligned
// with the entity's parameter list. Mask mirrors the sender's dirty bits;
// receivers may ignore it and apply every value positionally.
type ParamPayload struct {
	Mask   []uint64
	Values []Value
}

func (p *ParamPayload) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(16 + 12*len(p.Values))
	e.PackedUint(1, p.Mask)
	for i := range p.Values {
		if err := e.Message(2, &p.Values[i]); err != nil {
			return nil, err
		}
	}
	return e.Encoded(), nil
}

func (p *ParamPayload) Deserialize(data []byte) error {
	*p = ParamPayload{}
	return encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			mask, err := f.PackedUint()
			if err != nil {
				return err
			}
			p.Mask = append(p.Mask, mask...)
		case 2:
			var v Value
			if err := v.Deserialize(f.Bytes()); err != nil {
				return err
			}
			p.Values = append(p.Values, v)
		}
		return nil
	})
}

// TransformResponse is the server's informational acknowledgement of an
// owner's transform.
type TransformResponse struct {
	Owner      uint32
	Position   mathx.Vec3
	Rotation   mathx.Quat
	ServerTime float64
}

func (p *TransformResponse) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(80)
	e.Uint(1, uint64(p.Owner))
	e.Bytes(2, encodeTransform(mathx.Transform{Position: p.Position, Rotation: p.Rotation}))
	e.Double(3, p.ServerTime)
	return e.Encoded(), nil
}

func (p *TransformResponse) Deserialize(data []byte) error {
	*p = TransformResponse{}
	return encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			v, err := f.Uint32()
			p.Owner = v
			return err
		case 2:
			t, err := decodeTransform(f.Bytes())
			if err != nil {
				return err
			}
			p.Position, p.Rotation = t.Position, t.Rotation
		case 3:
			p.ServerTime = f.Double()
		}
		return nil
	})
}

// TransformUpdate is what an authoritative client pushes each scheduler tick.
type TransformUpdate struct {
	Owner     uint32
	Transform mathx.Transform
	Teleport  bool
}

func (p *TransformUpdate) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(96)
	e.Uint(1, uint64(p.Owner))
	e.Bytes(2, encodeTransform(p.Transform))
	e.Bool(3, p.Teleport)
	return e.Encoded(), nil
}

func (p *TransformUpdate) Deserialize(data []byte) error {
	*p = TransformUpdate{}
	return encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			v, err := f.Uint32()
			p.Owner = v
			return err
		case 2:
			t, err := decodeTransform(f.Bytes())
			if err != nil {
				return err
			}
			p.Transform = t
		case 3:
			p.Teleport = f.Bool()
		}
		return nil
	})
}

// Sample is a server snapshot of a non-owned entity. Transform is nil when the
// server did not send one; Properties is nil when no predicted property
// changed.
type Sample struct {
	Transform  *mathx.Transform
	Properties map[PropertyID]float64
	Teleport   bool
	Idle       bool
}

func (p *Sample) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(128)
	if p.Transform != nil {
		e.Bytes(1, encodeTransform(*p.Transform))
	}
	for id, v := range p.Properties {
		entry := encoding.NewEncoder(16)
		entry.Uint(1, uint64(id))
		entry.Double(2, v)
		e.Bytes(2, entry.Encoded())
	}
	e.Bool(3, p.Teleport)
	e.Bool(4, p.Idle)
	return e.Encoded(), nil
}

func (p *Sample) Deserialize(data []byte) error {
	*p = Sample{}
	return encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			t, err := decodeTransform(f.Bytes())
			if err != nil {
				return err
			}
			p.Transform = &t
		case 2:
			var id PropertyID
			var v float64
			err := encoding.Walk(f.Bytes(), func(ef encoding.Field) error {
				switch ef.Num {
				case 1:
					v, err := ef.Uint32()
					id = PropertyID(v)
					return err
				case 2:
					v = ef.Double()
				}
				return nil
			})
			if err != nil {
				return err
			}
			if p.Properties == nil {
				p.Properties = make(map[PropertyID]float64)
			}
			p.Properties[id] = v
		case 3:
			p.Teleport = f.Bool()
		case 4:
			p.Idle = f.Bool()
		}
		return nil
	})
}

// PropertySet is a single replicated property write.
type PropertySet struct {
	ID    PropertyID
	Value Value
}

func (p *PropertySet) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(24)
	e.Uint(1, uint64(p.ID))
	if err := e.Message(2, &p.Value); err != nil {
		return nil, err
	}
	return e.Encoded(), nil
}

func (p *PropertySet) Deserialize(data []byte) error {
	*p = PropertySet{}
	return encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			v, err := f.Uint32()
			p.ID = PropertyID(v)
			return err
		case 2:
			return p.Value.Deserialize(f.Bytes())
		}
		return nil
	})
}

// Transform fields: 1-3 position, 4-7 rotation, 8-10 scale. Every component
// is written so the decoded value is bit-exact.
func encodeTransform(t mathx.Transform) []byte {
	e := encoding.NewEncoder(100)
	for i, v := range [...]float64{
		t.Position.X, t.Position.Y, t.Position.Z,
		t.Rotation.X, t.Rotation.Y, t.Rotation.Z, t.Rotation.W,
		t.Scale.X, t.Scale.Y, t.Scale.Z,
	} {
		e.Fixed(protowire.Number(i+1), v)
	}
	return e.Encoded()
}

func decodeTransform(data []byte) (mathx.Transform, error) {
	t := mathx.NewTransform()
	err := encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case 1:
			t.Position.X = f.Double()
		case 2:
			t.Position.Y = f.Double()
		case 3:
			t.Position.Z = f.Double()
		case 4:
			t.Rotation.X = f.Double()
		case 5:
			t.Rotation.Y = f.Double()
		case 6:
			t.Rotation.Z = f.Double()
		case 7:
			t.Rotation.W = f.Double()
		case 8:
			t.Scale.X = f.Double()
		case 9:
			t.Scale.Y = f.Double()
		case 10:
			t.Scale.Z = f.Double()
		}
		return nil
	})
	return t, err
}

// PlayerPayload is PLAYER_JOINED or PLAYER_LEFT.
type PlayerPayload struct {
	Player uint32
}

func (p *PlayerPayload) Serialize() ([]byte, error) {
	e := encoding.NewEncoder(6)
	e.Uint(1, uint64(p.Player))
	return e.Encoded(), nil
}

func (p *PlayerPayload) Deserialize(data []byte) error {
	*p = PlayerPayload{}
	return encoding.Walk(data, func(f encoding.Field) error {
		if f.Num == 1 {
			v, err := f.Uint32()
			p.Player = v
			return err
		}
		return nil
	})
}
