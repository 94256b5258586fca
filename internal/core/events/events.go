// Package events is the in-process bus that announces session and entity
// lifecycle changes to whoever embeds the client.
package events

import "time"

type Type string

const (
	StatusChanged  Type = "session.status_changed"
	PlayerJoined   Type = "session.player_joined"
	PlayerLeft     Type = "session.player_left"
	EntityAttached Type = "replicator.entity_attached"
	EntityDetached Type = "replicator.entity_detached"
)

// Event is delivered to handlers by value. Data holds one of the payload
// types below.
type Event struct {
	Type      Type
	Source    string
	Timestamp time.Time
	Data      any
}

func New(typ Type, source string, data any) Event {
	return Event{Type: typ, Source: source, Timestamp: time.Now(), Data: data}
}

type StatusChange struct {
	From    string
	To      string
	Failure bool
}

type Player struct {
	ID uint32
}

type Entity struct {
	ID             uint32
	Owner          uint32
	Kind           string
	Classification string
}
