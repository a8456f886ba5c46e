// Package logging sets up the global zerolog logger from command line flags.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Config struct {
	Level      string
	Format     string
	File       string
	WithCaller bool
}

func DefaultConfig() Config {
	return Config{Level: "info", Format: FormatText}
}

func (c Config) Sanitized() Config {
	out := c
	out.Level = strings.ToLower(strings.TrimSpace(out.Level))
	if out.Level == "" {
		out.Level = DefaultConfig().Level
	}
	out.Format = strings.ToLower(strings.TrimSpace(out.Format))
	if out.Format == "" {
		out.Format = DefaultConfig().Format
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger writing to stderr, or to cfg.File when set. The
// returned closer releases the log file.
func New(cfg Config, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	cfg = cfg.Sanitized()
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	color := false
	if f, ok := stderr.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, errors.Wrap(err, "open log file")
		}
		out, closer, color = f, f, false
	}

	switch cfg.Format {
	case FormatJSON:
	case FormatText:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: !color}
	default:
		_ = closer.Close()
		return zerolog.Logger{}, nil, errors.Errorf("invalid log format %q", cfg.Format)
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.WithCaller {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), closer, nil
}

// Init replaces the global logger.
func Init(cfg Config) (io.Closer, error) {
	logger, closer, err := New(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(logger.GetLevel())
	log.Logger = logger
	return closer, nil
}
