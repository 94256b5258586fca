package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zeusync/entitysync/internal/core/ownership"
)

var ErrNoPlayerID = errors.New("auth detail carries no player id")

// DefaultPlayerClaim is the JWT claim holding the local player id.
const DefaultPlayerClaim = "player_id"

// ParsePlayerID extracts the local player id from the server's auth detail.
// The detail is either a session JWT, whose signature the server has already
// checked, or a bare decimal id.
func ParsePlayerID(authDetail, claim string) (ownership.PlayerID, error) {
	authDetail = strings.TrimSpace(authDetail)
	if authDetail == "" {
		return 0, ErrNoPlayerID
	}
	if n, err := strconv.ParseUint(authDetail, 10, 32); err == nil {
		return nonZero(n)
	}

	if claim == "" {
		claim = DefaultPlayerClaim
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(authDetail, claims); err != nil {
		return 0, fmt.Errorf("parse session token: %w", err)
	}

	raw, ok := claims[claim]
	if !ok {
		raw, ok = claims["sub"]
	}
	if !ok {
		return 0, ErrNoPlayerID
	}
	switch v := raw.(type) {
	case float64:
		if v < 0 || v > float64(^uint32(0)) || v != float64(uint64(v)) {
			return 0, fmt.Errorf("%w: claim %v", ErrNoPlayerID, v)
		}
		return nonZero(uint64(v))
	case string:
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: claim %q", ErrNoPlayerID, v)
		}
		return nonZero(n)
	}
	return 0, fmt.Errorf("%w: claim of type %T", ErrNoPlayerID, raw)
}

func nonZero(n uint64) (ownership.PlayerID, error) {
	if n == 0 {
		return 0, ErrNoPlayerID
	}
	return ownership.PlayerID(n), nil
}
