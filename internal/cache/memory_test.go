package cache

import (
	"context"
	"testing"
	"time"

	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/shopspring/decimal"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	if _, ok, _ := m.GetObservation(ctx, source.TRC20, "abc"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	obs := &source.Observation{Network: source.TRC20, Status: source.StatusSuccessful, Token: source.USDT,
		Amount: decimal.NewNullDecimal(decimal.NewFromInt(5))}
	if err := m.PutObservation(ctx, source.TRC20, "abc", obs); err != nil {
		t.Fatalf("put: %v", err)
	}
	obs.Token = source.USDC

	got, ok, err := m.GetObservation(ctx, source.TRC20, "abc")
	if err != nil || !ok {
		t.Fatalf("get failed ok=%v err=%v", ok, err)
	}
	if got.Token != source.USDT {
		t.Fatalf("cache must hold a copy, got token %q", got.Token)
	}
	if _, ok, _ := m.GetObservation(ctx, source.ERC20, "abc"); ok {
		t.Fatalf("entries must be scoped to their network")
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", m.Len())
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory(20 * time.Millisecond)
	ctx := context.Background()
	_ = m.PutObservation(ctx, source.ERC20, "k", &source.Observation{Network: source.ERC20})

	time.Sleep(40 * time.Millisecond)
	if _, ok, _ := m.GetObservation(ctx, source.ERC20, "k"); ok {
		t.Fatalf("expected entry to expire")
	}
}
