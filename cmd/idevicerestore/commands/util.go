package commands

import (
	"fmt"

	"github.com/stek29/idevicerestore/internal/logger"
	"github.com/stek29/idevicerestore/pkg/restoreconfig"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *restoreconfig.Options) error {
	if err := logger.Init(cfg.ToLoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
