package injector

import (
	"github.com/zeusync/entitysync/internal/config"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/sdk/go/client"
)

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.Config) (*log.Logger, error) {
	return log.NewWithConfig(cfg.Log)
}

func NewClient(cfg *config.Config, logger log.Log) (*client.Client, error) {
	return client.New(cfg, logger)
}
