// Package klog is the kernel log front end. It renders slog records as
// "[LEVEL] message key=value" lines and fans them out to every attached
// sink, typically the console capability picked from /chosen.
package klog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// BacklogSize is how many recent records are kept for replay into sinks
// attached later.
const BacklogSize = 64

type state struct {
	mu      sync.Mutex
	sinks   []io.Writer
	backlog [][]byte // most recent records, oldest first
	logged  int      // records handled so far
	errors  uint64
}

// Handler is a slog.Handler writing to console sinks. Handlers derived with
// WithAttrs or WithGroup share sinks and backlog with their parent.
type Handler struct {
	level  slog.Leveler
	st     *state
	prefix string // pre-rendered attributes
	group  string // dotted group prefix for keys
}

// New returns a handler emitting records at or above level. A nil level
// means slog.LevelInfo.
func New(level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{level: level, st: &state{}}
}

// AddSink attaches w and replays the last BacklogSize records into it,
// preceded by a warning when older records are no longer retained.
func (h *Handler) AddSink(w io.Writer) {
	st := h.st
	st.mu.Lock()
	defer st.mu.Unlock()

	st.sinks = append(st.sinks, w)
	if dropped := st.logged - len(st.backlog); dropped > 0 {
		st.write(w, []byte(fmt.Sprintf("[WARN] %d early log records dropped\n", dropped)))
	}
	for _, line := range st.backlog {
		st.write(w, line)
	}
}

// Errors returns how many sink writes failed.
func (h *Handler) Errors() uint64 {
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	return h.st.errors
}

// write sends line to w. st.mu must be held.
func (st *state) write(w io.Writer, line []byte) {
	if _, err := w.Write(line); err != nil {
		st.errors++
	}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(levelName(r.Level))
	b.WriteString("] ")
	b.WriteString(r.Message)
	b.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')
	line := []byte(b.String())

	st := h.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.backlog) == BacklogSize {
		st.backlog = st.backlog[1:]
	}
	st.backlog = append(st.backlog, line)
	st.logged++
	for _, w := range st.sinks {
		st.write(w, line)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, a := range attrs {
		appendAttr(&b, h.group, a)
	}
	h2 := *h
	h2.prefix = b.String()
	return &h2
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.group = h.group + name + "."
	return &h2
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func appendAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		g := group
		if a.Key != "" {
			g += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, g, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(group)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(a.Value.String()))
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r == '"' || r == '=' || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return strconv.Quote(s)
		}
	}
	return s
}

// ParseLevel maps a level setting to a slog level. A leading digit selects
// 0=error, 1=warn, 2=info, 3=debug; otherwise a level name is expected. The
// empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return slog.LevelInfo, nil
	}
	if c := s[0]; c >= '0' && c <= '9' {
		switch c {
		case '0':
			return slog.LevelError, nil
		case '1':
			return slog.LevelWarn, nil
		case '2':
			return slog.LevelInfo, nil
		default:
			return slog.LevelDebug, nil
		}
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("klog: unknown level %q", s)
	}
	return l, nil
}

var _ slog.Handler = (*Handler)(nil)
