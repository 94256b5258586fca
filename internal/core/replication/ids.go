// Package replication is the wire contract between an entity's owner and the
// rest of the room: which remote call ids carry which payloads, and which
// replicated property ids hold animation state.
package replication

import "fmt"

// EntityID is the stable numeric identity of a networked entity.
type EntityID uint32

// CallID identifies a remote procedure call on the wire.
type CallID uint16

const (
	// CallTransformUpdate carries an owned entity's transform to the server.
	CallTransformUpdate CallID = 1
	// CallTransformResponse is the server's informational echo to the owner.
	CallTransformResponse CallID = 2
	// CallServerSample is a server snapshot for a non-owned entity.
	CallServerSample CallID = 3
	// CallPropertySet is a replicated property write.
	CallPropertySet CallID = 4

	CallAnimationState   CallID = 10
	CallAnimationParam   CallID = 11
	CallAnimationTrigger CallID = 12

	// Roster calls are room-wide; their entity id is ignored.
	CallPlayerJoined CallID = 20
	CallPlayerLeft   CallID = 21
)

func (c CallID) String() string {
	switch c {
	case CallTransformUpdate:
		return "TRANSFORM_UPDATE"
	case CallTransformResponse:
		return "TRANSFORM_RESPONSE"
	case CallServerSample:
		return "SERVER_SAMPLE"
	case CallPropertySet:
		return "PROPERTY_SET"
	case CallAnimationState:
		return "ANIMATION_STATE"
	case CallAnimationParam:
		return "ANIMATION_PARAM"
	case CallAnimationTrigger:
		return "ANIMATION_TRIGGER"
	case CallPlayerJoined:
		return "PLAYER_JOINED"
	case CallPlayerLeft:
		return "PLAYER_LEFT"
	default:
		return fmt.Sprintf("CALL_%d", uint16(c))
	}
}

// Known reports whether c is part of the contract.
func (c CallID) Known() bool {
	switch c {
	case CallTransformUpdate, CallTransformResponse, CallServerSample, CallPropertySet,
		CallAnimationState, CallAnimationParam, CallAnimationTrigger,
		CallPlayerJoined, CallPlayerLeft:
		return true
	}
	return false
}

// Roster reports whether c announces a player entering or leaving the room
// rather than addressing an entity.
func (c CallID) Roster() bool {
	return c == CallPlayerJoined || c == CallPlayerLeft
}

// PropertyID keys a replicated property on an entity.
type PropertyID uint32

// Property id layout. Gameplay properties live below GameplayPropertyLimit;
// the animation ranges above it never overlap them or each other.
const (
	GameplayPropertyLimit PropertyID = 1000
	RangeSize             PropertyID = 1000

	AnimationStatesBase PropertyID = GameplayPropertyLimit
	AnimationParamsBase PropertyID = AnimationStatesBase + RangeSize
	propertyIDEnd       PropertyID = AnimationParamsBase + RangeSize
)

// StateProperty is the property slot holding a layer's state hash.
func StateProperty(layer int) (PropertyID, error) {
	if layer < 0 || PropertyID(layer) >= RangeSize {
		return 0, newError(ErrorCodePropertyOutOfRange, "layer index", ErrPropertyOutOfRange).
			WithContext("layer", layer)
	}
	return AnimationStatesBase + PropertyID(layer), nil
}

// ParamProperty is the property slot holding a parameter's value.
func ParamProperty(param int) (PropertyID, error) {
	if param < 0 || PropertyID(param) >= RangeSize {
		return 0, newError(ErrorCodePropertyOutOfRange, "parameter index", ErrPropertyOutOfRange).
			WithContext("param", param)
	}
	return AnimationParamsBase + PropertyID(param), nil
}

// LayerIndex maps a property id back into the layer range.
func LayerIndex(id PropertyID) (int, bool) {
	if id < AnimationStatesBase || id >= AnimationParamsBase {
		return 0, false
	}
	return int(id - AnimationStatesBase), true
}

// ParamIndex maps a property id back into the parameter range.
func ParamIndex(id PropertyID) (int, bool) {
	if id < AnimationParamsBase || id >= propertyIDEnd {
		return 0, false
	}
	return int(id - AnimationParamsBase), true
}

// CheckGameplayID rejects gameplay property ids that would collide with the
// animation ranges.
func CheckGameplayID(id PropertyID) error {
	if id >= GameplayPropertyLimit {
		return newError(ErrorCodePropertyOutOfRange, "gameplay property collides with animation range", ErrPropertyOutOfRange).
			WithContext("property", uint32(id))
	}
	return nil
}
