// Package logger is the structured logging facade shared by lowmem's
// packages and commands.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is what every lowmem component logs through. Components take a
// Logger at construction and never reach for a global.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
	Enabled(level slog.Level) bool
}

// Format selects the record encoding.
type Format string

const (
	FormatPretty Format = "pretty"
	FormatText   Format = "text"
	FormatJSON   Format = "json"
)

// Options configures New.
type Options struct {
	Format Format
	Level  slog.Level
	// Source adds the calling file and line to every record.
	Source bool
	// NoColor disables ANSI colours in the pretty format.
	NoColor bool
}

type slogLogger struct {
	l *slog.Logger
}

// New builds a Logger writing to w.
func New(w io.Writer, opts Options) Logger {
	ho := &slog.HandlerOptions{AddSource: opts.Source, Level: opts.Level}
	var h slog.Handler
	switch opts.Format {
	case FormatJSON:
		h = slog.NewJSONHandler(w, ho)
	case FormatText:
		h = slog.NewTextHandler(w, ho)
	default:
		h = NewPrettyHandler(w, ho, !opts.NoColor)
	}
	return FromHandler(h)
}

// FromHandler wraps an arbitrary slog.Handler.
func FromHandler(h slog.Handler) Logger {
	return &slogLogger{l: slog.New(h)}
}

// Default logs pretty records at info level to stderr.
func Default() Logger {
	return New(os.Stderr, Options{Format: FormatPretty, Level: slog.LevelInfo})
}

// Discard drops everything. Library constructors fall back to it when
// handed a nil Logger.
func Discard() Logger {
	return FromHandler(slog.DiscardHandler)
}

// OrDiscard returns l, or Discard when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}

type ctxKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the Logger stored in ctx, or Default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok {
		return l
	}
	return Default()
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}

func (s *slogLogger) WithGroup(name string) Logger {
	return &slogLogger{l: s.l.WithGroup(name)}
}

func (s *slogLogger) Enabled(level slog.Level) bool {
	return s.l.Enabled(context.Background(), level)
}

// ParseLevel accepts debug, info, warn, warning and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logger: unknown level %q", s)
	}
	return lvl, nil
}

// ParseFormat accepts pretty, text and json.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPretty, FormatText, FormatJSON:
		return f, nil
	case "":
		return FormatPretty, nil
	}
	return "", fmt.Errorf("logger: unknown format %q", s)
}
