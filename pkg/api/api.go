// Package api defines the core interfaces and data structures for spendnudge.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Direction is the money flow of a transaction relative to the account holder.
type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	Pending   Status = "PENDING"
	Confirmed Status = "CONFIRMED"
)

// Source records how a transaction entered the ledger.
type Source string

const (
	// Imported transactions were detected from a notification message.
	Imported Source = "IMPORTED"
	// Manual transactions were entered by the user.
	Manual Source = "MANUAL"
)

// Category is the closed set of expense categories.
type Category string

const (
	Bills         Category = "BILLS"
	Education     Category = "EDUCATION"
	Entertainment Category = "ENTERTAINMENT"
	Food          Category = "FOOD"
	Groceries     Category = "GROCERIES"
	Health        Category = "HEALTH"
	Other         Category = "OTHER"
	Shopping      Category = "SHOPPING"
	Transport     Category = "TRANSPORT"
)

// Categories returns every category in natural (name) order.
func Categories() []Category {
	return []Category{Bills, Education, Entertainment, Food, Groceries, Health, Other, Shopping, Transport}
}

// ParseCategory converts a case-insensitive name into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Transaction is a single money movement owned by the ledger.
type Transaction struct {
	ID        int64           `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Direction Direction       `json:"direction"`
	// Category is nil until a debit is confirmed. Credits never get one.
	Category   *Category `json:"category,omitempty"`
	Merchant   string    `json:"merchant,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     Source    `json:"source"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	// Fingerprint is the dedup key of imported transactions.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// CategoryName returns the category as a string, or "" when unset.
func (t Transaction) CategoryName() string {
	if t.Category == nil {
		return ""
	}
	return string(*t.Category)
}

// Message is a raw notification as delivered by a message source.
type Message struct {
	// ID is the source specific identifier, if any.
	ID string `json:"id,omitempty"`
	// Sender is the originating sender code. Empty means unknown.
	Sender string `json:"sender,omitempty"`
	Body   string `json:"body"`
	// Timestamp is the delivery time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// BudgetAllocation is the monthly budget for one category.
type BudgetAllocation struct {
	Category Category        `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	// PeriodStart is the first instant of the calendar month in the
	// configured zone.
	PeriodStart   time.Time `json:"period_start"`
	AlertsEnabled bool      `json:"alerts_enabled"`
}

// NudgeEvent is an append-only record of an alert or a user reaction to one.
type NudgeEvent struct {
	// Seq is the store-assigned insertion order, starting at 1.
	Seq        int64     `json:"seq,omitempty"`
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Category   string    `json:"category"`
	Action     string    `json:"action,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PointsReason explains a points award or deduction.
type PointsReason string

const (
	UnderBudgetDay PointsReason = "UNDER_BUDGET_DAY"
	ImpulseSkipped PointsReason = "IMPULSE_SKIPPED"
	BudgetExceeded PointsReason = "BUDGET_EXCEEDED"
)

// PointsEvent is a signed points delta in the gamification ledger.
type PointsEvent struct {
	ID int64 `json:"id"`
	// SourceEventID is the NudgeEvent this award derives from. It is the
	// idempotency key and is unique when set.
	SourceEventID string       `json:"source_event_id,omitempty"`
	Delta         int          `json:"delta"`
	Reason        PointsReason `json:"reason"`
	Details       string       `json:"details,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// Achievement is an unlocked milestone.
type Achievement struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	UnlockedAt  time.Time `json:"unlocked_at"`
}

// MessageSource yields raw notification messages, newest first.
type MessageSource interface {
	Messages(ctx context.Context, limit int) ([]Message, error)
}

// Listener is implemented by sources that can push messages as they arrive.
// Listen blocks until ctx is canceled or the source fails.
type Listener interface {
	Listen(ctx context.Context, out chan<- Message) error
}

// TransactionStore persists transactions. InsertTransaction must enforce
// fingerprint uniqueness atomically and ConfirmTransaction must read and
// write in a single atomic step.
type TransactionStore interface {
	// InsertTransaction stores tx and returns its id. inserted is false when a
	// transaction with the same fingerprint already exists.
	InsertTransaction(ctx context.Context, tx Transaction) (id int64, inserted bool, err error)
	// ConfirmTransaction sets the category and marks a pending transaction
	// confirmed. changed is false if it was already confirmed. It returns
	// ErrNotFound when no transaction has the id.
	ConfirmTransaction(ctx context.Context, id int64, category Category) (tx Transaction, changed bool, err error)
	Transaction(ctx context.Context, id int64) (Transaction, error)
	// SumDebits sums confirmed debits of a category within [start, end].
	SumDebits(ctx context.Context, category Category, start, end time.Time) (decimal.Decimal, error)
	// SumByDirection sums confirmed transactions within [start, end].
	SumByDirection(ctx context.Context, start, end time.Time) (income, expense decimal.Decimal, err error)
	// ConfirmedBetween lists confirmed transactions within [start, end],
	// newest first.
	ConfirmedBetween(ctx context.Context, start, end time.Time) ([]Transaction, error)
	// PendingTransactions lists pending transactions, newest first.
	PendingTransactions(ctx context.Context) ([]Transaction, error)
	Fingerprints(ctx context.Context) ([]string, error)
}

// BudgetStore persists budget allocations, unique per category and period.
type BudgetStore interface {
	UpsertAllocation(ctx context.Context, a BudgetAllocation) error
	DeleteAllocation(ctx context.Context, category Category, periodStart time.Time) error
	// Allocations lists a period's allocations ordered by category.
	Allocations(ctx context.Context, periodStart time.Time) ([]BudgetAllocation, error)
	AllAllocations(ctx context.Context) ([]BudgetAllocation, error)
}

// NudgeStore is the append-only nudge event log.
type NudgeStore interface {
	AppendNudge(ctx context.Context, e NudgeEvent) error
	// NudgesSince lists events at or after since, oldest first.
	NudgesSince(ctx context.Context, since time.Time) ([]NudgeEvent, error)
	// NudgesAfter lists events appended after the event with sequence seq,
	// in insertion order.
	NudgesAfter(ctx context.Context, seq int64) ([]NudgeEvent, error)
}

// PointsStore persists points events and achievements.
type PointsStore interface {
	// InsertPoints is a no-op returning false when SourceEventID is already
	// present.
	InsertPoints(ctx context.Context, e PointsEvent) (inserted bool, err error)
	PointsBalance(ctx context.Context) (int, error)
	RecentPoints(ctx context.Context, limit int) ([]PointsEvent, error)
	CountPoints(ctx context.Context) (int, error)
	CountPointsByReason(ctx context.Context, reason PointsReason) (int, error)
	// UnlockAchievement is a no-op returning false when the key exists.
	UnlockAchievement(ctx context.Context, a Achievement) (inserted bool, err error)
	Achievements(ctx context.Context) ([]Achievement, error)
}

// PreferenceStore keeps small persisted markers and per-key string sets.
type PreferenceStore interface {
	Marker(ctx context.Context, key string) (value string, ok bool, err error)
	SetMarker(ctx context.Context, key, value string) error
	AddMember(ctx context.Context, key, member string) error
	Members(ctx context.Context, key string) ([]string, error)
}

// Store is the full persistent store the core runs against.
type Store interface {
	TransactionStore
	BudgetStore
	NudgeStore
	PointsStore
	PreferenceStore
	Close()
}

// Backup is the fire-and-forget remote backup the core hands records to.
// Implementations must not block the caller.
type Backup interface {
	PushTransaction(tx Transaction)
	PushAllocations(periodStart time.Time, allocations []BudgetAllocation)
}

// BackupSink writes batches of records to a remote destination.
type BackupSink interface {
	WriteTransactions(ctx context.Context, txs []Transaction) error
	WriteAllocations(ctx context.Context, periodStart time.Time, allocations []BudgetAllocation) error
}

// Restorer pulls previously backed up records.
type Restorer interface {
	RestoreTransactions(ctx context.Context) ([]Transaction, error)
	RestoreAllocations(ctx context.Context) ([]BudgetAllocation, error)
}
