package backup

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

const periodKeyLayout = "2006-01"

// Snapshot is the whole-document backup format shared by the file and object
// storage sinks.
type Snapshot struct {
	UpdatedAt    time.Time                         `json:"updated_at"`
	Transactions []api.Transaction                 `json:"transactions"`
	Allocations  map[string][]api.BudgetAllocation `json:"allocations"`
}

// DecodeSnapshot parses a snapshot. Empty input yields an empty snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("decoding backup snapshot: %w", err)
		}
	}
	if s.Allocations == nil {
		s.Allocations = make(map[string][]api.BudgetAllocation)
	}
	return s, nil
}

// Encode renders the snapshot as indented JSON.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding backup snapshot: %w", err)
	}
	return data, nil
}

// AddTransactions merges txs into the snapshot. A transaction with the same
// id or fingerprint as an existing one replaces it.
func (s *Snapshot) AddTransactions(txs []api.Transaction) {
	byID := make(map[int64]int, len(s.Transactions))
	byFingerprint := make(map[string]int, len(s.Transactions))
	for i, tx := range s.Transactions {
		if tx.ID > 0 {
			byID[tx.ID] = i
		}
		if tx.Fingerprint != "" {
			byFingerprint[tx.Fingerprint] = i
		}
	}

	for _, tx := range txs {
		i, ok := byID[tx.ID]
		if !ok || tx.ID == 0 {
			i, ok = byFingerprint[tx.Fingerprint]
			ok = ok && tx.Fingerprint != ""
		}
		if ok {
			s.Transactions[i] = tx
			continue
		}
		s.Transactions = append(s.Transactions, tx)
		if tx.ID > 0 {
			byID[tx.ID] = len(s.Transactions) - 1
		}
		if tx.Fingerprint != "" {
			byFingerprint[tx.Fingerprint] = len(s.Transactions) - 1
		}
	}
}

// SetAllocations replaces the allocation set of a period.
func (s *Snapshot) SetAllocations(periodStart time.Time, allocations []api.BudgetAllocation) {
	key := periodStart.Format(periodKeyLayout)
	if len(allocations) == 0 {
		delete(s.Allocations, key)
		return
	}
	s.Allocations[key] = append([]api.BudgetAllocation(nil), allocations...)
}

// AllAllocations flattens every period's allocations ordered by period and
// category.
func (s *Snapshot) AllAllocations() []api.BudgetAllocation {
	keys := make([]string, 0, len(s.Allocations))
	for k := range s.Allocations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []api.BudgetAllocation
	for _, k := range keys {
		allocs := append([]api.BudgetAllocation(nil), s.Allocations[k]...)
		sort.Slice(allocs, func(i, j int) bool { return allocs[i].Category < allocs[j].Category })
		out = append(out, allocs...)
	}
	return out
}
