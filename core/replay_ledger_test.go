package core

import (
	"context"
	"testing"
	"time"
)

func TestMemoryReplayLedger_ClaimOnce(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger := NewMemoryReplayLedger(time.Minute)
	ledger.Now = func() time.Time { return now }

	ok, err := ledger.Claim(context.Background(), "abc", 0)
	if err != nil || !ok {
		t.Fatalf("expected first claim to win, ok=%v err=%v", ok, err)
	}
	ok, err = ledger.Claim(context.Background(), "abc", 0)
	if err != nil || ok {
		t.Fatalf("expected replay to lose, ok=%v err=%v", ok, err)
	}

	now = now.Add(2 * time.Minute)
	ok, err = ledger.Claim(context.Background(), "abc", 0)
	if err != nil || !ok {
		t.Fatalf("expected claim after expiry to win, ok=%v err=%v", ok, err)
	}
}

func TestMemoryReplayLedger_RequiresKeyAndBoundsSize(t *testing.T) {
	ledger := NewMemoryReplayLedgerWithLimits(time.Hour, 2)
	if _, err := ledger.Claim(context.Background(), " ", 0); err == nil {
		t.Fatalf("expected empty key error")
	}
	for _, key := range []string{"a", "b", "c"} {
		if ok, err := ledger.Claim(context.Background(), key, 0); err != nil || !ok {
			t.Fatalf("claim %s: ok=%v err=%v", key, ok, err)
		}
	}
	if ledger.Len() != 2 {
		t.Fatalf("expected ledger to stay bounded at 2, got %d", ledger.Len())
	}
}
