package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/scalesync/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "scalesync"

// Logger is a slog.Logger carrying the service and version attributes.
// Its Debug/Info/Warn/Error methods satisfy the small Logger interfaces
// declared by the plu, pos, scale and history packages. Safe for
// concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of the config file.
// Output "stderr" writes to standard error; anything else to standard
// output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New with an explicit destination. The Output field of
// cfg is ignored.
//
// Format "text" selects slog's key=value handler for interactive runs;
// anything else logs JSON lines.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog.New(h).With("service", ServiceName, "version", version)}
}

// parseLevel maps debug, info, warn (or warning) and error onto slog
// levels, case-insensitively. Anything unrecognised logs at info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child logger that adds args to every entry.
//
//	posLog := logger.With("component", "pos")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Default is the logger used before the config file is read: text on
// stderr at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, "dev")
}
