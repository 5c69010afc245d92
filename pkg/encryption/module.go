package encryption

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/engagic/engagic/internal/config"
)

// Module provides the encryption fx.Module
var Module = fx.Module("encryption",
	fx.Provide(func(cfg *config.Config, log *slog.Logger) (*Service, error) {
		return NewService(cfg.EncryptionKey, log)
	}),
)
