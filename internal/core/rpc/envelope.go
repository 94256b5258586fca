package rpc

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/pkg/encoding"
)

const (
	fieldCall   protowire.Number = 1
	fieldEntity protowire.Number = 2
	fieldBody   protowire.Number = 3
)

// Envelope is one remote call on the wire: which call, addressed to which
// entity, and the call's own encoded payload.
type Envelope struct {
	Call   replication.CallID
	Entity replication.EntityID
	Body   []byte
}

var _ encoding.Serializable = (*Envelope)(nil)

func (e *Envelope) Serialize() ([]byte, error) {
	enc := encoding.NewEncoder(len(e.Body) + 16)
	e.encode(enc)
	return enc.Encoded(), nil
}

func (e *Envelope) encode(enc *encoding.Encoder) {
	enc.Uint(fieldCall, uint64(e.Call))
	enc.Uint(fieldEntity, uint64(e.Entity))
	if len(e.Body) > 0 {
		enc.Bytes(fieldBody, e.Body)
	}
}

// Deserialize decodes data into e. Body aliases data.
func (e *Envelope) Deserialize(data []byte) error {
	*e = Envelope{}
	return encoding.Walk(data, func(f encoding.Field) error {
		switch f.Num {
		case fieldCall:
			v, err := f.Uint16()
			e.Call = replication.CallID(v)
			return err
		case fieldEntity:
			v, err := f.Uint32()
			e.Entity = replication.EntityID(v)
			return err
		case fieldBody:
			e.Body = f.Bytes()
		}
		return nil
	})
}
