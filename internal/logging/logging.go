// Package logging configures the process-wide go-logging backend.
//
// Packages declare their own logger with logging.MustGetLogger from
// github.com/op/go-logging; Setup only decides where records go and which
// level is enabled.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gologging "github.com/op/go-logging"
)

const format = `%{time:2006-01-02 15:04:05.000} %{level:.4s} [%{module}] %{message}`

// Setup installs a leveled backend writing to file, or to stderr when file
// is empty. stdout is left alone since stdio transports own it. The
// returned function closes the log file, if any.
func Setup(level, file string) (func() error, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stderr
	closer := func() error { return nil }
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closer = f.Close
	}

	SetOutput(out, lvl)
	return closer, nil
}

// SetOutput routes every logger to w at the given level.
func SetOutput(w io.Writer, level gologging.Level) {
	backend := gologging.NewLogBackend(w, "", 0)
	formatted := gologging.NewBackendFormatter(backend, gologging.MustStringFormatter(format))
	leveled := gologging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")
	gologging.SetBackend(leveled)
}

// ParseLevel accepts go-logging level names case-insensitively, plus "warn".
func ParseLevel(level string) (gologging.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return gologging.INFO, nil
	case "warn":
		return gologging.WARNING, nil
	}
	lvl, err := gologging.LogLevel(strings.ToUpper(level))
	if err != nil {
		return gologging.INFO, fmt.Errorf("invalid log level %q", level)
	}
	return lvl, nil
}
