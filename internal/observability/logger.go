package observability

import (
	"log/slog"
	"os"
)

// LoggerConfig is the minimal set of fields SetupLogger needs, satisfied by
// both config.ExecutorConfig and config.AuditProjectorConfig.
type LoggerConfig struct {
	AppEnv  string
	Service string
}

// SetupLogger configures a JSON slog logger tagged with service/env fields.
func SetupLogger(cfg LoggerConfig) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.AppEnv == "dev" {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", cfg.Service),
		slog.String("env", cfg.AppEnv),
	)
}
