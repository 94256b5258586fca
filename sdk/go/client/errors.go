package client

import (
	"errors"

	"github.com/zeusync/entitysync/internal/core/replication"
)

var (
	ErrClientClosed     = errors.New("client is closed")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrInvalidConfig    = errors.New("invalid client configuration")
	// ErrNotConnected is returned by sends while no connection is up.
	ErrNotConnected = replication.ErrNotConnected
)
