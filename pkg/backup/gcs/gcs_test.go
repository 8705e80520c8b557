package gcs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

type fakeObject struct {
	mu     sync.Mutex
	data   []byte
	writes int
	err    error
}

func (o *fakeObject) Read(context.Context) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	return o.data, nil
}

func (o *fakeObject) Write(_ context.Context, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes++
	o.data = append([]byte(nil), data...)
	return nil
}

func (o *fakeObject) Close() error { return nil }

func TestSinkReadMergeWrite(t *testing.T) {
	obj := &fakeObject{}
	sink := newSink(obj, "gs://test/backup.json", nil)
	ctx := context.Background()

	if err := sink.WriteTransactions(ctx, []api.Transaction{{ID: 1, Amount: decimal.NewFromInt(10), Fingerprint: "a"}}); err != nil {
		t.Fatalf("WriteTransactions: %v", err)
	}
	if err := sink.WriteTransactions(ctx, []api.Transaction{{ID: 2, Amount: decimal.NewFromInt(20), Fingerprint: "b"}}); err != nil {
		t.Fatalf("WriteTransactions: %v", err)
	}
	june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := sink.WriteAllocations(ctx, june, []api.BudgetAllocation{{Category: api.Food, Amount: decimal.NewFromInt(500), PeriodStart: june}}); err != nil {
		t.Fatalf("WriteAllocations: %v", err)
	}

	if obj.writes != 3 {
		t.Errorf("writes: got %d, want 3", obj.writes)
	}

	txs, err := sink.RestoreTransactions(ctx)
	if err != nil {
		t.Fatalf("RestoreTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("transactions: got %d, want 2", len(txs))
	}
	allocs, err := sink.RestoreAllocations(ctx)
	if err != nil {
		t.Fatalf("RestoreAllocations: %v", err)
	}
	if len(allocs) != 1 || allocs[0].Category != api.Food {
		t.Errorf("allocations: got %+v", allocs)
	}
}

func TestSinkReadError(t *testing.T) {
	obj := &fakeObject{err: errors.New("permission denied")}
	sink := newSink(obj, "gs://test/backup.json", nil)

	if err := sink.WriteTransactions(context.Background(), []api.Transaction{{ID: 1}}); err == nil {
		t.Error("expected error")
	}
	if obj.writes != 0 {
		t.Errorf("writes: got %d, want 0", obj.writes)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Error("expected error for empty bucket")
	}
}
