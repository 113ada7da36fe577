package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
)

// Component identifiers for color-coded logging
type Component string

const (
	ComponentVerifier Component = "VERIFIER"
	ComponentKeyStore Component = "KEYSTORE"
	ComponentPolicy   Component = "POLICY"
	ComponentGateway  Component = "GATEWAY"
	ComponentBatch    Component = "BATCH"
	ComponentMTLS     Component = "mTLS"
)

// ANSI color codes
const (
	colorReset   = "\033[0m"
	colorGreen   = "\033[32m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorYellow  = "\033[33m"
	colorCyan    = "\033[36m"
	colorOrange  = "\033[38;5;208m"
)

// componentColors maps components to their display colors
var componentColors = map[Component]string{
	ComponentVerifier: colorCyan,
	ComponentKeyStore: colorYellow,
	ComponentPolicy:   colorOrange,
	ComponentGateway:  colorMagenta,
	ComponentBatch:    colorBlue,
	ComponentMTLS:     colorGreen,
}

// Direction indicates the flow of a request
type Direction string

const (
	DirectionOutgoing Direction = "->"
	DirectionIncoming Direction = "<-"
	DirectionNone     Direction = ""
)

// ColorHandler writes one line per record: emoji [COMPONENT] message attrs
type ColorHandler struct {
	out       io.Writer
	mu        *sync.Mutex
	component Component
	useColors bool
	attrs     []slog.Attr
	group     string
}

var (
	// level is shared by all handlers so that --log-level applies process-wide
	level = new(slog.LevelVar)
	// jsonOutput switches New to machine-readable output
	jsonOutput bool
)

// SetLevel sets the minimum level from a name such as "debug" or "warn"
func SetLevel(name string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.Set(l)
	return nil
}

// SetFormat selects "text" (colored, the default) or "json" output for
// loggers created afterwards
func SetFormat(format string) error {
	switch format {
	case "", "text":
		jsonOutput = false
	case "json":
		jsonOutput = true
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

// NewColorHandler creates a new color-coded handler
func NewColorHandler(out io.Writer, component Component, useColors bool) *ColorHandler {
	return &ColorHandler{
		out:       out,
		mu:        &sync.Mutex{},
		component: component,
		useColors: useColors,
	}
}

// Enabled reports whether the shared level admits l
func (h *ColorHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= level.Level()
}

// Handle processes a log record with color-coded output
func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	color, reset := componentColors[h.component], colorReset
	if !h.useColors {
		color, reset = "", ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s [%s]%s %s", color, getLevelEmoji(r.Level), h.component, reset, r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", h.group+a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

// WithAttrs returns a new handler that prints attrs on every record
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clip(h.attrs), attrs...)
	for i := len(h.attrs); i < len(clone.attrs); i++ {
		clone.attrs[i].Key = h.group + clone.attrs[i].Key
	}
	return &clone
}

// WithGroup returns a new handler that prefixes later keys with name
func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = h.group + name + "."
	return &clone
}

func getLevelEmoji(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\U0001F534" // Red circle
	case level >= slog.LevelWarn:
		return "\U0001F7E1" // Yellow circle
	case level >= slog.LevelInfo:
		return "\U0001F535" // Blue circle
	default:
		return "\U0001F7E3" // Purple circle
	}
}

// Logger wraps slog.Logger with component-specific functionality
type Logger struct {
	*slog.Logger
	component Component
}

// New creates a new component-specific logger on stdout
func New(component Component) *Logger {
	useColors := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	return NewWithWriter(component, os.Stdout, useColors)
}

// NewWithWriter creates a logger with a custom writer
func NewWithWriter(component Component, w io.Writer, useColors bool) *Logger {
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}).
			WithAttrs([]slog.Attr{slog.String("component", string(component))})
	} else {
		handler = NewColorHandler(w, component, useColors)
	}
	return &Logger{
		Logger:    slog.New(handler),
		component: component,
	}
}

// Flow logs a directional message (incoming or outgoing)
func (l *Logger) Flow(dir Direction, msg string, args ...any) {
	prefix := ""
	if dir != DirectionNone {
		prefix = string(dir) + " "
	}
	l.Info(prefix+msg, args...)
}

// Success logs a success message with green color
func (l *Logger) Success(msg string, args ...any) {
	l.Info("\u2705 "+msg, args...)
}

// Deny logs a denial message with red color
func (l *Logger) Deny(msg string, args ...any) {
	l.Error("\u274C "+msg, args...)
}

// Allow logs an allow decision
func (l *Logger) Allow(msg string, args ...any) {
	l.Info("\u2705 ALLOW: "+msg, args...)
}

// Section logs a section header
func (l *Logger) Section(title string) {
	l.Info("")
	l.Info("\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550")
	l.Info(" " + title)
	l.Info("\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550\u2550")
	l.Info("")
}

// Token logs token-related info keyed by kid
func (l *Logger) Token(kid string, msg string, args ...any) {
	l.Info("\U0001F511 ["+kid+"] "+msg, args...)
}

// SVID logs SVID-related info
func (l *Logger) SVID(spiffeID string, msg string) {
	l.Info("\U0001F4DC [SVID] "+msg, "spiffe_id", spiffeID)
}

// Policy logs policy evaluation info
func (l *Logger) Policy(msg string, args ...any) {
	l.Info("\U0001F4CB "+msg, args...)
}
