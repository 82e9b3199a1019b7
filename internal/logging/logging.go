// Package logging configures the global zerolog logger: a console writer on
// stderr, tee'd into a size-rotated debug log file.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/llmselect/llmselect-chat/internal/config"
)

// Setup installs the global logger and returns a closer for the log file.
func Setup(cfg config.LogConfig) io.Closer {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	if cfg.File == "" {
		log.Logger = log.Output(console)
		return nopCloser{}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		log.Logger = log.Output(console)
		log.Warn().Err(err).Str("file", cfg.File).Msg("Cannot create log dir, file logging disabled")
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, rotator)).
		With().Timestamp().Caller().Logger()
	return rotator
}

// ParseLevel maps LOG_LEVEL values to zerolog levels. Unknown values mean debug.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "critical", "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.DebugLevel
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
