// Package logging builds the zerolog logger shared by the wallet and by
// gnark's own compile/setup/prove output.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Options selects where and how much to log.
type Options struct {
	Level string
	File  string
	JSON  bool
}

// New returns a logger per opts and the file it writes to (nil for stderr).
// The logger is also installed as gnark's logger.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer
	)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: opts.File != ""}
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if level == zerolog.Disabled {
		gnarklogger.Disable()
	} else {
		gnarklogger.Set(log)
	}
	return log, closer, nil
}

// ParseLevel maps a config level name to a zerolog level. The empty string
// means info.
func ParseLevel(name string) (zerolog.Level, error) {
	switch name {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
}
