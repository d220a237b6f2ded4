package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryNonceLedger_FirstClaimAccepted(t *testing.T) {
	ledger := NewMemoryNonceLedger()
	claimed, err := ledger.Claim(context.Background(), "app-key\x00n1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed {
		t.Fatalf("expected first claim to succeed")
	}
}

func TestMemoryNonceLedger_DuplicateRejectedForever(t *testing.T) {
	ledger := NewMemoryNonceLedger()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	if claimed, _ := ledger.Claim(context.Background(), "app-key\x00n2"); !claimed {
		t.Fatalf("expected first claim to succeed")
	}

	// No amount of elapsed time revives a claimed nonce.
	now = now.Add(48 * time.Hour)
	if claimed, err := ledger.Claim(context.Background(), "app-key\x00n2"); err != nil {
		t.Fatalf("claim duplicate: %v", err)
	} else if claimed {
		t.Fatalf("expected duplicate claim to be rejected")
	}
}

func TestMemoryNonceLedger_ScopedByConsumer(t *testing.T) {
	ledger := NewMemoryNonceLedger()
	if claimed, _ := ledger.Claim(context.Background(), "app-a\x00shared"); !claimed {
		t.Fatalf("expected app-a claim to succeed")
	}
	if claimed, _ := ledger.Claim(context.Background(), "app-b\x00shared"); !claimed {
		t.Fatalf("expected app-b claim of the same nonce value to succeed")
	}
}

func TestMemoryNonceLedger_ConcurrentClaimsSingleWinner(t *testing.T) {
	ledger := NewMemoryNonceLedger()
	const n = 64
	var winners atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			claimed, err := ledger.Claim(context.Background(), "app-key\x00contended")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if claimed {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if got := winners.Load(); got != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", got)
	}
}

func TestMemoryNonceLedger_PurgeBefore(t *testing.T) {
	ledger := NewMemoryNonceLedger()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	if claimed, _ := ledger.Claim(context.Background(), "app-key\x00old"); !claimed {
		t.Fatalf("expected old claim to succeed")
	}
	now = now.Add(time.Hour)
	if claimed, _ := ledger.Claim(context.Background(), "app-key\x00new"); !claimed {
		t.Fatalf("expected new claim to succeed")
	}

	purged, err := ledger.PurgeBefore(context.Background(), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected one purged entry, got %d", purged)
	}

	// The purged nonce is claimable again; the retained one is not.
	if claimed, _ := ledger.Claim(context.Background(), "app-key\x00old"); !claimed {
		t.Fatalf("expected purged nonce to be claimable")
	}
	if claimed, _ := ledger.Claim(context.Background(), "app-key\x00new"); claimed {
		t.Fatalf("expected retained nonce to stay claimed")
	}
}
