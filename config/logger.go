package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// InitLogger installs a tint handler as the process-wide slog default.
func InitLogger(level slog.Level) *slog.Logger {
	l := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		AddSource:  level <= slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(l)
	return l
}
