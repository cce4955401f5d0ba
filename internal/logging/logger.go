package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reactive_kv_store/internal/config"
)

// New builds the process logger. Production config writes JSON to stderr,
// development config writes colored console lines.
func New(cfg config.Logging) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = level

	return zcfg.Build()
}

// WithVerbose forces debug level, as the --verbose flag does.
func WithVerbose(cfg config.Logging, verbose bool) config.Logging {
	if verbose {
		cfg.Level = zapcore.DebugLevel.String()
	}
	return cfg
}
