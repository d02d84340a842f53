// Package stale tracks AI replies that look cut off so the next turn can ask
// the generation backend to continue them.
package stale

import (
	"strings"
	"sync"
	"time"
)

// DefaultMinCompleteLength is the shortest reply considered complete
// regardless of its ending.
const DefaultMinCompleteLength = 50

// DefaultMaxAge bounds how long an incomplete entry survives without a
// follow-up turn.
const DefaultMaxAge = 10 * time.Minute

// Words that suggest a sentence was about to continue.
var connectives = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "so": {}, "because": {}, "however": {},
	"therefore": {}, "also": {}, "then": {}, "with": {}, "to": {}, "of": {},
	"for": {}, "the": {}, "a": {}, "an": {}, "that": {}, "which": {},
	"while": {}, "when": {}, "if": {}, "as": {}, "at": {}, "by": {},
	"in": {}, "on": {},
}

type entry struct {
	text string
	at   time.Time
}

type Tracker struct {
	mu        sync.Mutex
	entries   map[string]entry
	minLength int
	now       func() time.Time
}

type Option func(*Tracker)

func WithMinCompleteLength(n int) Option {
	return func(t *Tracker) { t.minLength = n }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries:   make(map[string]entry),
		minLength: DefaultMinCompleteLength,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Incomplete reports whether text looks truncated: too short, or missing
// terminal punctuation while ending on a connective word.
func (t *Tracker) Incomplete(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if len(trimmed) < t.minLength {
		return true
	}
	if hasTerminalPunctuation(trimmed) {
		return false
	}
	words := strings.Fields(strings.ToLower(trimmed))
	if len(words) == 0 {
		return false
	}
	last := strings.Trim(words[len(words)-1], `"')],;:`)
	_, connective := connectives[last]
	return connective
}

func hasTerminalPunctuation(s string) bool {
	s = strings.TrimRight(s, `"')]`)
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// RecordIfIncomplete stores text under key when it looks truncated, and
// clears any stored entry when a complete reply arrives. It reports whether
// the reply was judged incomplete.
func (t *Tracker) RecordIfIncomplete(key, text string) bool {
	incomplete := t.Incomplete(text)
	t.mu.Lock()
	defer t.mu.Unlock()
	if incomplete {
		t.entries[key] = entry{text: text, at: t.now()}
	} else {
		delete(t.entries, key)
	}
	return incomplete
}

// ContinuationHint returns the stored partial reply for key, if any.
func (t *Tracker) ContinuationHint(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return "", false
	}
	return e.text, true
}

// Forget drops the entry for key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Sweep deletes entries older than maxAge and reports how many were removed.
func (t *Tracker) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	cutoff := t.now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, e := range t.entries {
		if e.at.Before(cutoff) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports how many entries are currently tracked.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
