package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestNew_ConnectionFailure tests that New returns an error when the
// database is unreachable.
func TestNew_ConnectionFailure(t *testing.T) {
	cfg := Config{
		Host:     "nonexistent-host",
		Port:     5432,
		Database: "spendnudge",
		User:     "spendnudge",
		Password: "password",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := New(ctx, cfg, quietLogger()); err == nil {
		t.Error("expected error when connecting to nonexistent host, got nil")
	}
}

func TestConfigConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "discrete fields",
			cfg:  Config{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "require"},
			want: "host=db port=5433 user=u password=p dbname=d sslmode=require",
		},
		{
			name: "dsn wins",
			cfg:  Config{DSN: "postgres://u:p@db/d", Host: "ignored"},
			want: "postgres://u:p@db/d",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.connString(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

// startStore runs a throwaway PostgreSQL container and returns a migrated
// store connected to it.
func startStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("spendnudge"),
		tcpostgres.WithUsername("spendnudge"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := New(ctx, Config{DSN: dsn}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	day := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	t.Run("migrations are idempotent", func(t *testing.T) {
		if err := s.migrate(ctx); err != nil {
			t.Errorf("second migration: %v", err)
		}
	})

	t.Run("duplicate fingerprint", func(t *testing.T) {
		tx := api.Transaction{
			Amount: decimal.RequireFromString("250.50"), Direction: api.Debit, Merchant: "Swiggy",
			OccurredAt: day, Source: api.Imported, Status: api.Pending, Fingerprint: "dup",
		}
		id, inserted, err := s.InsertTransaction(ctx, tx)
		if err != nil || !inserted {
			t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
		}
		again, inserted, err := s.InsertTransaction(ctx, tx)
		if err != nil {
			t.Fatalf("second insert: %v", err)
		}
		if inserted || again != id {
			t.Errorf("second insert: got id=%d inserted=%v, want id=%d inserted=false", again, inserted, id)
		}

		got, err := s.Transaction(ctx, id)
		if err != nil {
			t.Fatalf("Transaction: %v", err)
		}
		if !got.Amount.Equal(tx.Amount) || got.Category != nil || got.Merchant != "Swiggy" {
			t.Errorf("stored transaction: got %+v", got)
		}
	})

	t.Run("concurrent duplicates", func(t *testing.T) {
		tx := api.Transaction{
			Amount: decimal.NewFromInt(5), Direction: api.Debit, OccurredAt: day,
			Source: api.Imported, Status: api.Pending, Fingerprint: "race",
		}
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			inserts int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, err := s.InsertTransaction(ctx, tx); err == nil && ok {
					mu.Lock()
					inserts++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if inserts != 1 {
			t.Errorf("inserts: got %d, want 1", inserts)
		}
	})

	t.Run("confirm", func(t *testing.T) {
		id, _, err := s.InsertTransaction(ctx, api.Transaction{
			Amount: decimal.NewFromInt(900), Direction: api.Debit, OccurredAt: day,
			Source: api.Imported, Status: api.Pending, Fingerprint: "confirm-me",
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}

		tx, changed, err := s.ConfirmTransaction(ctx, id, api.Food)
		if err != nil || !changed {
			t.Fatalf("confirm: changed=%v err=%v", changed, err)
		}
		if tx.Status != api.Confirmed || tx.CategoryName() != "FOOD" {
			t.Errorf("confirmed: got %+v", tx)
		}
		if _, changed, _ := s.ConfirmTransaction(ctx, id, api.Bills); changed {
			t.Error("second confirm reported a change")
		}
		if _, _, err := s.ConfirmTransaction(ctx, 999999, api.Food); !errors.Is(err, api.ErrNotFound) {
			t.Errorf("missing id: got %v, want ErrNotFound", err)
		}

		start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
		sum, err := s.SumDebits(ctx, api.Food, start, end)
		if err != nil {
			t.Fatalf("SumDebits: %v", err)
		}
		if !sum.Equal(decimal.NewFromInt(900)) {
			t.Errorf("food debits: got %s, want 900", sum)
		}
		income, expense, err := s.SumByDirection(ctx, start, end)
		if err != nil {
			t.Fatalf("SumByDirection: %v", err)
		}
		if !income.IsZero() || !expense.Equal(decimal.NewFromInt(900)) {
			t.Errorf("sums: got income=%s expense=%s", income, expense)
		}
	})

	t.Run("allocations upsert", func(t *testing.T) {
		june := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		for _, amount := range []int64{500, 700} {
			if err := s.UpsertAllocation(ctx, api.BudgetAllocation{
				Category: api.Food, Amount: decimal.NewFromInt(amount), PeriodStart: june, AlertsEnabled: true,
			}); err != nil {
				t.Fatalf("UpsertAllocation: %v", err)
			}
		}
		allocs, err := s.Allocations(ctx, june)
		if err != nil {
			t.Fatalf("Allocations: %v", err)
		}
		if len(allocs) != 1 || !allocs[0].Amount.Equal(decimal.NewFromInt(700)) {
			t.Errorf("allocations: got %+v", allocs)
		}
		if err := s.DeleteAllocation(ctx, api.Food, june); err != nil {
			t.Fatalf("DeleteAllocation: %v", err)
		}
		if all, _ := s.AllAllocations(ctx); len(all) != 0 {
			t.Errorf("after delete: got %d allocations", len(all))
		}
	})

	t.Run("points idempotency", func(t *testing.T) {
		e := api.PointsEvent{SourceEventID: "nudge-1", Delta: 5, Reason: api.ImpulseSkipped, OccurredAt: day}
		if ok, err := s.InsertPoints(ctx, e); err != nil || !ok {
			t.Fatalf("first insert: ok=%v err=%v", ok, err)
		}
		if ok, _ := s.InsertPoints(ctx, e); ok {
			t.Error("duplicate source event inserted")
		}
		if _, err := s.InsertPoints(ctx, api.PointsEvent{Delta: -5, Reason: api.BudgetExceeded, OccurredAt: day}); err != nil {
			t.Fatalf("insert without source: %v", err)
		}
		if bal, _ := s.PointsBalance(ctx); bal != 0 {
			t.Errorf("balance: got %d, want 0", bal)
		}
		if n, _ := s.CountPointsByReason(ctx, api.ImpulseSkipped); n != 1 {
			t.Errorf("impulse count: got %d, want 1", n)
		}
		recent, err := s.RecentPoints(ctx, 1)
		if err != nil || len(recent) != 1 {
			t.Errorf("recent: got %d events, err %v", len(recent), err)
		}
	})

	t.Run("nudges and preferences", func(t *testing.T) {
		e := api.NudgeEvent{ID: "n1", Type: "BUDGET_80_FOOD", Category: "FOOD", OccurredAt: day}
		if err := s.AppendNudge(ctx, e); err != nil {
			t.Fatalf("AppendNudge: %v", err)
		}
		got, err := s.NudgesSince(ctx, day.Add(-time.Hour))
		if err != nil || len(got) != 1 || got[0].Type != e.Type {
			t.Fatalf("nudges: got %+v err %v", got, err)
		}

		late := api.NudgeEvent{ID: "n2", Type: "MERCHANT_3X", Category: "Swiggy", Action: "dismiss", OccurredAt: day.Add(-48 * time.Hour)}
		if err := s.AppendNudge(ctx, late); err != nil {
			t.Fatalf("AppendNudge: %v", err)
		}
		after, err := s.NudgesAfter(ctx, got[0].Seq)
		if err != nil || len(after) != 1 || after[0].ID != "n2" {
			t.Errorf("nudges after %d: got %+v err %v", got[0].Seq, after, err)
		}

		if _, ok, _ := s.Marker(ctx, "missing"); ok {
			t.Error("missing marker reported present")
		}
		if err := s.SetMarker(ctx, "k", "v1"); err != nil {
			t.Fatal(err)
		}
		if err := s.SetMarker(ctx, "k", "v2"); err != nil {
			t.Fatal(err)
		}
		if v, _, _ := s.Marker(ctx, "k"); v != "v2" {
			t.Errorf("marker: got %q, want v2", v)
		}
		for _, m := range []string{"b", "a", "b"} {
			if err := s.AddMember(ctx, "set", m); err != nil {
				t.Fatal(err)
			}
		}
		members, _ := s.Members(ctx, "set")
		if len(members) != 2 || members[0] != "a" {
			t.Errorf("members: got %v, want [a b]", members)
		}
	})

	t.Run("bulk import", func(t *testing.T) {
		food := api.Food
		txs := []api.Transaction{
			{Amount: decimal.NewFromInt(10), Direction: api.Debit, Category: &food, OccurredAt: day, Source: api.Manual, Status: api.Confirmed, Fingerprint: "imp-1"},
			{Amount: decimal.NewFromInt(20), Direction: api.Credit, OccurredAt: day, Source: api.Imported, Status: api.Confirmed, Fingerprint: "imp-2"},
		}
		n, err := s.ImportTransactions(ctx, txs)
		if err != nil || n != 2 {
			t.Fatalf("first import: n=%d err=%v", n, err)
		}
		if n, _ := s.ImportTransactions(ctx, txs); n != 0 {
			t.Errorf("second import: got %d, want 0", n)
		}
	})
}
