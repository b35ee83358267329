package tags

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"sync"

	"github.com/CTAG07/Inserter/pkg/rewrite"
)

// invalidNameRe matches characters that can never be part of a tag name.
var invalidNameRe = regexp.MustCompile(`[<>&/\[\]\x00-\x20=]`)

// Handler renders one tag occurrence. attrs holds the parsed attributes (positional
// values are keyed "0", "1", ...) and content is the raw text between the opening and
// closing tag, empty for self-closing tags.
type Handler interface {
	Render(attrs map[string]string, content string) string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(attrs map[string]string, content string) string

// Render calls f(attrs, content).
func (f HandlerFunc) Render(attrs map[string]string, content string) string {
	return f(attrs, content)
}

// Snapshot is a point-in-time copy of a table's handlers.
type Snapshot map[string]Handler

// Names returns the snapshot's tag names as a set.
func (s Snapshot) Names() map[string]struct{} {
	set := make(map[string]struct{}, len(s))
	for name := range s {
		set[name] = struct{}{}
	}
	return set
}

// Table maps tag names to handlers. All methods are concurrent-safe.
type Table struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// Default is the process-wide table.
var Default = NewTable()

// NewTable returns an empty table. Logs are discarded until SetLogger is called.
func NewTable() *Table {
	return &Table{
		handlers: make(map[string]Handler),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger used to report failing handlers.
func (t *Table) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = logger
}

// ValidName reports whether name can be used as a tag name.
func ValidName(name string) bool {
	return name != "" && !invalidNameRe.MatchString(name)
}

// Register adds or replaces the handler for name.
func (t *Table) Register(name string, h Handler) error {
	if !ValidName(name) {
		return fmt.Errorf("invalid tag name %q", name)
	}
	if h == nil {
		return fmt.Errorf("nil handler for tag %q", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = h
	return nil
}

// Remove deletes the handler for name, if any.
func (t *Table) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, name)
}

// Reset removes every handler.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = make(map[string]Handler)
}

// Snapshot returns a copy of the current handlers.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.handlers)
}

// Restore replaces the table's handlers with the ones in s.
func (t *Table) Restore(s Snapshot) {
	handlers := maps.Clone(map[string]Handler(s))
	if handlers == nil {
		handlers = make(map[string]Handler)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = handlers
}

// Has reports whether a handler is registered for name.
func (t *Table) Has(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handlers[name]
	return ok
}

// Names returns the registered tag names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.handlers))
}

// StripUnregistered removes every tag whose name has no handler in the table.
func (t *Table) StripUnregistered(content string) string {
	return rewrite.StripDisallowed(content, t.Names())
}

func (t *Table) currentLogger() *slog.Logger {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.logger
}
