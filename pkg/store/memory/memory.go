// Package memory provides an in-process implementation of api.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

type allocationKey struct {
	category api.Category
	period   int64
}

// Store keeps every table in memory. Each method holds the store lock for
// its whole read-modify-write, which gives the same atomicity the
// relational store gets from unique indexes and row locks.
type Store struct {
	mu sync.RWMutex

	nextTxID      int64
	transactions  map[int64]api.Transaction
	byFingerprint map[string]int64

	allocations map[allocationKey]api.BudgetAllocation
	nudges      []api.NudgeEvent

	nextPointsID   int64
	points         []api.PointsEvent
	pointsBySource map[string]struct{}
	achievements   []api.Achievement

	markers map[string]string
	sets    map[string]map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		transactions:   make(map[int64]api.Transaction),
		byFingerprint:  make(map[string]int64),
		allocations:    make(map[allocationKey]api.BudgetAllocation),
		pointsBySource: make(map[string]struct{}),
		markers:        make(map[string]string),
		sets:           make(map[string]map[string]struct{}),
	}
}

// Close is a no-op.
func (s *Store) Close() {}

func cloneTx(tx api.Transaction) api.Transaction {
	if tx.Category != nil {
		c := *tx.Category
		tx.Category = &c
	}
	return tx
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// InsertTransaction implements api.TransactionStore.
func (s *Store) InsertTransaction(_ context.Context, tx api.Transaction) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Fingerprint != "" {
		if id, exists := s.byFingerprint[tx.Fingerprint]; exists {
			return id, false, nil
		}
	}

	s.nextTxID++
	tx.ID = s.nextTxID
	s.transactions[tx.ID] = cloneTx(tx)
	if tx.Fingerprint != "" {
		s.byFingerprint[tx.Fingerprint] = tx.ID
	}
	return tx.ID, true, nil
}

// ConfirmTransaction implements api.TransactionStore.
func (s *Store) ConfirmTransaction(_ context.Context, id int64, category api.Category) (api.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok {
		return api.Transaction{}, false, api.ErrNotFound
	}
	if tx.Status == api.Confirmed {
		return cloneTx(tx), false, nil
	}

	tx.Category = &category
	tx.Status = api.Confirmed
	s.transactions[id] = tx
	return cloneTx(tx), true, nil
}

// Transaction implements api.TransactionStore.
func (s *Store) Transaction(_ context.Context, id int64) (api.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return api.Transaction{}, api.ErrNotFound
	}
	return cloneTx(tx), nil
}

// SumDebits implements api.TransactionStore.
func (s *Store) SumDebits(_ context.Context, category api.Category, start, end time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, tx := range s.transactions {
		if tx.Status != api.Confirmed || tx.Direction != api.Debit {
			continue
		}
		if tx.Category == nil || *tx.Category != category || !within(tx.OccurredAt, start, end) {
			continue
		}
		sum = sum.Add(tx.Amount)
	}
	return sum, nil
}

// SumByDirection implements api.TransactionStore.
func (s *Store) SumByDirection(_ context.Context, start, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	income, expense := decimal.Zero, decimal.Zero
	for _, tx := range s.transactions {
		if tx.Status != api.Confirmed || !within(tx.OccurredAt, start, end) {
			continue
		}
		switch tx.Direction {
		case api.Credit:
			income = income.Add(tx.Amount)
		case api.Debit:
			expense = expense.Add(tx.Amount)
		}
	}
	return income, expense, nil
}

// ConfirmedBetween implements api.TransactionStore.
func (s *Store) ConfirmedBetween(_ context.Context, start, end time.Time) ([]api.Transaction, error) {
	return s.filter(func(tx api.Transaction) bool {
		return tx.Status == api.Confirmed && within(tx.OccurredAt, start, end)
	}), nil
}

// PendingTransactions implements api.TransactionStore.
func (s *Store) PendingTransactions(_ context.Context) ([]api.Transaction, error) {
	return s.filter(func(tx api.Transaction) bool {
		return tx.Status == api.Pending
	}), nil
}

// filter returns matching transactions, newest first.
func (s *Store) filter(keep func(api.Transaction) bool) []api.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Transaction
	for _, tx := range s.transactions {
		if keep(tx) {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Fingerprints implements api.TransactionStore.
func (s *Store) Fingerprints(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byFingerprint))
	for fp := range s.byFingerprint {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out, nil
}

// UpsertAllocation implements api.BudgetStore.
func (s *Store) UpsertAllocation(_ context.Context, a api.BudgetAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allocations[allocationKey{a.Category, a.PeriodStart.UnixMilli()}] = a
	return nil
}

// DeleteAllocation implements api.BudgetStore.
func (s *Store) DeleteAllocation(_ context.Context, category api.Category, periodStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.allocations, allocationKey{category, periodStart.UnixMilli()})
	return nil
}

// Allocations implements api.BudgetStore.
func (s *Store) Allocations(_ context.Context, periodStart time.Time) ([]api.BudgetAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.BudgetAllocation
	for k, a := range s.allocations {
		if k.period == periodStart.UnixMilli() {
			out = append(out, a)
		}
	}
	sortAllocations(out)
	return out, nil
}

// AllAllocations implements api.BudgetStore.
func (s *Store) AllAllocations(_ context.Context) ([]api.BudgetAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.BudgetAllocation, 0, len(s.allocations))
	for _, a := range s.allocations {
		out = append(out, a)
	}
	sortAllocations(out)
	return out, nil
}

func sortAllocations(out []api.BudgetAllocation) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}
		return out[i].Category < out[j].Category
	})
}

// AppendNudge implements api.NudgeStore.
func (s *Store) AppendNudge(_ context.Context, e api.NudgeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.Seq = int64(len(s.nudges)) + 1
	s.nudges = append(s.nudges, e)
	return nil
}

// NudgesAfter implements api.NudgeStore.
func (s *Store) NudgesAfter(_ context.Context, seq int64) ([]api.NudgeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(s.nudges)) {
		return nil, nil
	}
	return append([]api.NudgeEvent(nil), s.nudges[seq:]...), nil
}

// NudgesSince implements api.NudgeStore.
func (s *Store) NudgesSince(_ context.Context, since time.Time) ([]api.NudgeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.NudgeEvent
	for _, e := range s.nudges {
		if !e.OccurredAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out, nil
}

// InsertPoints implements api.PointsStore.
func (s *Store) InsertPoints(_ context.Context, e api.PointsEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.SourceEventID != "" {
		if _, exists := s.pointsBySource[e.SourceEventID]; exists {
			return false, nil
		}
		s.pointsBySource[e.SourceEventID] = struct{}{}
	}
	s.nextPointsID++
	e.ID = s.nextPointsID
	s.points = append(s.points, e)
	return true, nil
}

// PointsBalance implements api.PointsStore.
func (s *Store) PointsBalance(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, e := range s.points {
		total += e.Delta
	}
	return total, nil
}

// RecentPoints implements api.PointsStore.
func (s *Store) RecentPoints(_ context.Context, limit int) ([]api.PointsEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.PointsEvent, len(s.points))
	copy(out, s.points)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPoints implements api.PointsStore.
func (s *Store) CountPoints(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points), nil
}

// CountPointsByReason implements api.PointsStore.
func (s *Store) CountPointsByReason(_ context.Context, reason api.PointsReason) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.points {
		if e.Reason == reason {
			n++
		}
	}
	return n, nil
}

// UnlockAchievement implements api.PointsStore.
func (s *Store) UnlockAchievement(_ context.Context, a api.Achievement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.achievements {
		if existing.Key == a.Key {
			return false, nil
		}
	}
	s.achievements = append(s.achievements, a)
	return true, nil
}

// Achievements implements api.PointsStore.
func (s *Store) Achievements(_ context.Context) ([]api.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.Achievement, len(s.achievements))
	copy(out, s.achievements)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UnlockedAt.After(out[j].UnlockedAt)
	})
	return out, nil
}

// Marker implements api.PreferenceStore.
func (s *Store) Marker(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.markers[key]
	return v, ok, nil
}

// SetMarker implements api.PreferenceStore.
func (s *Store) SetMarker(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers[key] = value
	return nil
}

// AddMember implements api.PreferenceStore.
func (s *Store) AddMember(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

// Members implements api.PreferenceStore.
func (s *Store) Members(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}
