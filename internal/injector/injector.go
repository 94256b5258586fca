//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/entitysync/internal/config"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/sdk/go/client"
)

func ProvideLogger(cfg *config.Config) (*log.Logger, error) {
	wire.Build(NewLogger)
	return nil, nil
}

func ProvideClient(cfg *config.Config, logger *log.Logger) (*client.Client, error) {
	wire.Build(NewClient, wire.Bind(new(log.Log), new(*log.Logger)))
	return nil, nil
}
