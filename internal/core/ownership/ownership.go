// Package ownership decides which session is authoritative for a networked
// entity. Every client runs the same rules on the same room data, so at most
// one of them ever pushes updates for a given entity.
package ownership

import (
	"fmt"
	"strings"
)

// PlayerID identifies a session in the room. Zero means "not assigned".
type PlayerID uint32

// Kind is the closed set of entity kinds the resolver distinguishes.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPlayer
	KindNPC
	KindBullet
	KindFollowPlayer
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindNPC:
		return "npc"
	case KindBullet:
		return "bullet"
	case KindFollowPlayer:
		return "follow_player"
	default:
		return "unknown"
	}
}

// ParseKind maps configuration names onto kinds.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "player":
		return KindPlayer, nil
	case "npc":
		return KindNPC, nil
	case "bullet":
		return KindBullet, nil
	case "follow_player", "followplayer":
		return KindFollowPlayer, nil
	default:
		return KindUnknown, fmt.Errorf("unknown entity kind %q", s)
	}
}

// directApply reports whether remote updates for this kind are applied
// verbatim instead of being smoothed by the prediction engine.
func (k Kind) directApply() bool {
	switch k {
	case KindNPC, KindBullet, KindFollowPlayer:
		return true
	default:
		return false
	}
}

type Classification uint8

const (
	// RemoteOwner entities are driven by another session; this client only
	// consumes their updates.
	RemoteOwner Classification = iota
	// LocalOwner entities are driven by this session.
	LocalOwner
	// ProxyOwner entities are NPCs this session simulates on the server's behalf.
	ProxyOwner
)

func (c Classification) String() string {
	switch c {
	case LocalOwner:
		return "local"
	case ProxyOwner:
		return "proxy"
	default:
		return "remote"
	}
}

// Authoritative reports whether this session pushes updates for the entity.
func (c Classification) Authoritative() bool {
	return c == LocalOwner || c == ProxyOwner
}

// Classify applies the ownership rules in order; the first match wins.
func Classify(ownerID, localPlayerID PlayerID, kind Kind, delegateOwnerID PlayerID) Classification {
	if localPlayerID == 0 {
		return RemoteOwner
	}
	if ownerID == localPlayerID {
		return LocalOwner
	}
	if kind == KindNPC && delegateOwnerID == localPlayerID {
		return ProxyOwner
	}
	return RemoteOwner
}

// Decision is everything attach needs to know about an entity.
type Decision struct {
	Classification Classification
	// ApplyTransform enables the generic path that copies replicated
	// transforms straight onto the entity.
	ApplyTransform bool
	// Predict attaches a prediction engine that owns the visual transform.
	Predict bool
	// Schedule registers the entity with the update scheduler.
	Schedule bool
}

// Resolve classifies an entity and derives the components it gets.
func Resolve(ownerID, localPlayerID PlayerID, kind Kind, delegateOwnerID PlayerID) Decision {
	c := Classify(ownerID, localPlayerID, kind, delegateOwnerID)
	if c.Authoritative() {
		return Decision{Classification: c, Schedule: true}
	}
	if kind.directApply() {
		return Decision{Classification: c, ApplyTransform: true}
	}
	return Decision{Classification: c, Predict: true}
}
