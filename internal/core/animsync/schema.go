// Package animsync replicates animation parameters and layer states from an
// entity's owner to everyone else in the room.
package animsync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/entitysync/internal/core/replication"
)

type ParamType uint8

const (
	ParamBool ParamType = iota
	ParamInt
	ParamFloat
	// ParamTrigger pulses for a single tick and is replicated as a one-shot
	// call, never through the value vector.
	ParamTrigger
)

func (t ParamType) String() string {
	switch t {
	case ParamBool:
		return "bool"
	case ParamInt:
		return "int"
	case ParamFloat:
		return "float"
	case ParamTrigger:
		return "trigger"
	default:
		return "unknown"
	}
}

// ParseParamType maps configuration names onto parameter types.
func ParseParamType(s string) (ParamType, error) {
	switch strings.ToLower(s) {
	case "bool":
		return ParamBool, nil
	case "int":
		return ParamInt, nil
	case "float":
		return ParamFloat, nil
	case "trigger":
		return ParamTrigger, nil
	default:
		return 0, fmt.Errorf("unknown parameter type %q", s)
	}
}

type ParamSpec struct {
	Name string
	Type ParamType
}

var (
	ErrEmptyParamName     = errors.New("parameter name is empty")
	ErrDuplicateParam     = errors.New("duplicate parameter name")
	ErrTooManyParams      = errors.New("too many parameters")
	ErrTooManyLayers      = errors.New("too many layers")
	ErrHashCollision      = errors.New("parameter hash collision")
	ErrNilAnimator        = errors.New("animator is nil")
	ErrSchemaAnimatorSize = errors.New("animator has fewer layers than the schema")
)

// HashName is the wire hash of a parameter name.
func HashName(name string) uint32 {
	return uint32(xxhash.Sum64String(name))
}

// Schema is the fixed parameter and layer layout of an entity type. Parameter
// i is always replicated through property AnimationParamsBase+i.
type Schema struct {
	params []ParamSpec
	hashes []uint32
	byName map[string]int
	layers int
}

func NewSchema(params []ParamSpec, layers int) (*Schema, error) {
	if len(params) > int(replication.RangeSize) {
		return nil, fmt.Errorf("%w: %d", ErrTooManyParams, len(params))
	}
	if layers < 0 || layers > int(replication.RangeSize) {
		return nil, fmt.Errorf("%w: %d", ErrTooManyLayers, layers)
	}

	s := &Schema{
		params: make([]ParamSpec, len(params)),
		hashes: make([]uint32, len(params)),
		byName: make(map[string]int, len(params)),
		layers: layers,
	}
	seenHash := make(map[uint32]string, len(params))
	for i, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: index %d", ErrEmptyParamName, i)
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParam, p.Name)
		}
		h := HashName(p.Name)
		if other, clash := seenHash[h]; clash {
			return nil, fmt.Errorf("%w: %s and %s", ErrHashCollision, other, p.Name)
		}
		seenHash[h] = p.Name
		s.params[i] = p
		s.hashes[i] = h
		s.byName[p.Name] = i
	}
	return s, nil
}

func (s *Schema) Len() int { return len(s.params) }

func (s *Schema) Layers() int { return s.layers }

func (s *Schema) Param(i int) ParamSpec { return s.params[i] }

func (s *Schema) Hash(i int) uint32 { return s.hashes[i] }

// Valid reports whether i addresses a parameter.
func (s *Schema) Valid(i int) bool { return i >= 0 && i < len(s.params) }

// Index finds a parameter by name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.byName[name]
	return i, ok
}

// Triggers returns the indexes of trigger parameters in order.
func (s *Schema) Triggers() []int {
	var out []int
	for i, p := range s.params {
		if p.Type == ParamTrigger {
			out = append(out, i)
		}
	}
	return out
}
