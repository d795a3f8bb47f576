package logger

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Options controls logger construction
type Options struct {
	Name   string
	Level  string
	Format string
	Output io.Writer
}

// New builds the root application logger. Components derive their own
// loggers from it with Named.
func New(opts Options) hclog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	name := opts.Name
	if name == "" {
		name = "dicomingest"
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      ParseLevel(opts.Level),
		Output:     output,
		JSONFormat: strings.EqualFold(opts.Format, "json"),
	})
}

// ParseLevel maps a config level string to an hclog level, defaulting to info
func ParseLevel(level string) hclog.Level {
	l := hclog.LevelFromString(strings.TrimSpace(level))
	if l == hclog.NoLevel {
		return hclog.Info
	}
	return l
}

// Err returns err's message, or nil, for use as a log value
func Err(err error) interface{} {
	if err == nil {
		return nil
	}
	return err.Error()
}
