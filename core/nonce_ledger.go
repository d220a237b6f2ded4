package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryNonceLedger keeps every claimed nonce until PurgeBefore trims it.
// Unlike a TTL cache, a claimed nonce never becomes claimable again on its
// own; replayed signatures stay dead for as long as the entry is retained.
type MemoryNonceLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	Now     func() time.Time
}

func NewMemoryNonceLedger() *MemoryNonceLedger {
	return &MemoryNonceLedger{
		entries: map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryNonceLedger) Claim(_ context.Context, nonce string) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: nonce ledger is not configured")
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, fmt.Errorf("core: nonce is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[nonce]; ok {
		return false, nil
	}
	l.entries[nonce] = l.now()
	return true, nil
}

func (l *MemoryNonceLedger) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("core: nonce ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	pruned := 0
	for nonce, claimedAt := range l.entries {
		if claimedAt.Before(cutoff) {
			delete(l.entries, nonce)
			pruned++
		}
	}
	return pruned, nil
}

func (l *MemoryNonceLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ NonceLedger = (*MemoryNonceLedger)(nil)
