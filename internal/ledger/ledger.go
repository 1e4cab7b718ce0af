package ledger

import (
	"strings"
	"sync"
)

// Ledger remembers which message texts a surface has already submitted.
// Entries are never removed; a ledger lives as long as its page.
type Ledger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// ShouldProcess reports whether key is new and marks it as seen. Blank keys
// are never stored and always report false.
func (l *Ledger) ShouldProcess(key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[key]; ok {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}

// Len returns the number of distinct keys seen
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
