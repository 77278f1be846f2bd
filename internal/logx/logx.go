// Package logx configures the process-wide zerolog logger.
package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls log level and the optional rotating file sink
type Options struct {
	Level      string
	File       string // empty disables file output
	MaxSizeMB  int
	MaxAgeDays int
	Console    bool
}

// Setup installs the global logger and returns it.
// Console output is human readable; the file sink is JSON, rotated by lumberjack.
func Setup(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var writers []io.Writer
	if opts.Console || opts.File == "" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	}
	if opts.File != "" {
		_ = os.MkdirAll(filepath.Dir(opts.File), 0755)
		writers = append(writers, &lumberjack.Logger{
			Filename: opts.File,
			MaxSize:  positive(opts.MaxSizeMB, 50),
			MaxAge:   positive(opts.MaxAgeDays, 7),
			Compress: true,
		})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()

	log.Logger = logger
	return logger
}

// ParseLevel maps a config string to a zerolog level, defaulting to info
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component returns a child logger tagged with a component name
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
