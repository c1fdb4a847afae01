package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devblac/otc-reconciler/internal/engine"
	"github.com/devblac/otc-reconciler/internal/source"
	"github.com/shopspring/decimal"
)

const hashKey = "4a5c8e2f0b1d3c5e7f9a0b2c4d6e8f0a1b3c5d7e9f0a2b4c6d8e0f1a3b5c7d9e"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestObservationPutAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.GetObservation(ctx, source.TRC20, hashKey); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	obs := &source.Observation{
		Network: source.TRC20,
		Status:  source.StatusSuccessful,
		Amount:  decimal.NewNullDecimal(decimal.RequireFromString("1250.000001")),
		Token:   source.USDT,
		From:    "TFrom",
		To:      "TTo",
	}
	if err := store.PutObservation(ctx, source.TRC20, hashKey, obs); err != nil {
		t.Fatalf("put observation: %v", err)
	}
	got, ok, err := store.GetObservation(ctx, source.TRC20, hashKey)
	if err != nil || !ok {
		t.Fatalf("get observation failed err=%v ok=%v", err, ok)
	}
	if !got.Amount.Valid || !got.Amount.Decimal.Equal(obs.Amount.Decimal) {
		t.Fatalf("amount lost: %+v", got.Amount)
	}
	if got.Token != source.USDT || got.To != "TTo" || got.Status != source.StatusSuccessful {
		t.Fatalf("unexpected observation: %+v", got)
	}

	if _, ok, _ := store.GetObservation(ctx, source.ERC20, hashKey); ok {
		t.Fatalf("observation must be scoped to its network")
	}

	n, err := store.ClearObservations(ctx)
	if err != nil || n != 1 {
		t.Fatalf("clear observations: n=%d err=%v", n, err)
	}
}

func TestObservationWithoutAmount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	obs := &source.Observation{Network: source.ERC20, Status: source.StatusFailed}
	if err := store.PutObservation(ctx, source.ERC20, hashKey, obs); err != nil {
		t.Fatalf("put observation: %v", err)
	}
	got, ok, err := store.GetObservation(ctx, source.ERC20, hashKey)
	if err != nil || !ok {
		t.Fatalf("get observation failed err=%v ok=%v", err, ok)
	}
	if got.HasAmount() {
		t.Fatalf("expected unknown amount, got %v", got.Amount)
	}
}

func TestRunHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

	if err := store.StartRun(ctx, Run{ID: "run-1", Ledger: "ledger.csv", Total: 2, StartedAt: start}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := store.StartRun(ctx, Run{ID: "run-1", Ledger: "ledger.csv"}); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}

	outcomes := []engine.Outcome{
		{RunID: "run-1", Key: "aa", Hash: "0xaa", Clients: []string{"ACME"}, Expected: decimal.NewFromInt(10), Classification: engine.TagOK, Status: engine.TagOK, CheckedAt: start.Add(time.Second)},
		{RunID: "run-1", Key: "bb", Hash: "bb", Clients: []string{"Beta", "Gamma"}, Expected: decimal.RequireFromString("7.5"), Classification: engine.TagDuplicate, Status: engine.TagNotFound, Reason: "x", CheckedAt: start.Add(2 * time.Second)},
	}
	for _, o := range outcomes {
		if err := store.SaveOutcome(ctx, o); err != nil {
			t.Fatalf("save outcome: %v", err)
		}
	}
	if err := store.SaveOutcome(ctx, engine.Outcome{Key: "cc"}); err == nil {
		t.Fatalf("expected outcome without run id to fail")
	}

	if err := store.FinishRun(ctx, "run-1", RunCompleted, start.Add(time.Minute)); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if err := store.FinishRun(ctx, "missing", RunCompleted, start); err == nil {
		t.Fatalf("expected unknown run to fail")
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.Status != RunCompleted || r.OK != 1 || r.Attention != 1 || r.Total != 2 {
		t.Fatalf("unexpected run summary: %+v", r)
	}
	if !r.FinishedAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("unexpected finished_at: %v", r.FinishedAt)
	}

	got, err := store.Outcomes(ctx, "run-1")
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	if len(got) != 2 || got[0].Key != "aa" || got[1].Key != "bb" {
		t.Fatalf("unexpected outcomes: %+v", got)
	}
	if !got[1].Expected.Equal(decimal.RequireFromString("7.5")) || got[1].Classification != engine.TagDuplicate {
		t.Fatalf("outcome not preserved: %+v", got[1])
	}

	id, ok, err := store.LatestRunID(ctx)
	if err != nil || !ok || id != "run-1" {
		t.Fatalf("latest run: id=%q ok=%v err=%v", id, ok, err)
	}
}

func TestObservationTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	store.SetObservationTTL(time.Hour)

	obs := &source.Observation{Network: source.TRC20, Status: source.StatusSuccessful, Token: source.USDT}
	if err := store.PutObservation(ctx, source.TRC20, hashKey, obs); err != nil {
		t.Fatalf("put observation: %v", err)
	}

	store.now = func() time.Time { return base.Add(59 * time.Minute) }
	if _, ok, err := store.GetObservation(ctx, source.TRC20, hashKey); err != nil || !ok {
		t.Fatalf("expected hit within ttl, ok=%v err=%v", ok, err)
	}

	store.now = func() time.Time { return base.Add(61 * time.Minute) }
	if _, ok, err := store.GetObservation(ctx, source.TRC20, hashKey); err != nil || ok {
		t.Fatalf("expected miss after ttl, ok=%v err=%v", ok, err)
	}

	store.SetObservationTTL(0)
	if _, ok, err := store.GetObservation(ctx, source.TRC20, hashKey); err != nil || !ok {
		t.Fatalf("zero ttl should keep observations, ok=%v err=%v", ok, err)
	}
}

func TestDedupeTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.MarkDedupe(ctx, "k1", now.Add(1*time.Second)); err != nil {
		t.Fatalf("mark dedupe: %v", err)
	}
	dup, err := store.IsDuplicate(ctx, "k1", now)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate before expiry")
	}

	later := now.Add(2 * time.Second)
	dup, err = store.IsDuplicate(ctx, "k1", later)
	if err != nil {
		t.Fatalf("is duplicate later: %v", err)
	}
	if dup {
		t.Fatalf("expected non-duplicate after expiry")
	}
}

func TestPing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	store.Close()
	if err := store.Ping(ctx); err == nil {
		t.Fatalf("expected ping to fail after close")
	}
}
