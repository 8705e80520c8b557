// Package postgres provides a PostgreSQL implementation of api.Store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/spendnudge/pkg/api"
)

//go:embed migrations/001_init.sql
var migrationSQL string

// Config holds the PostgreSQL connection settings.
type Config struct {
	// DSN, when set, is used as is and the discrete fields are ignored.
	DSN string

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// MaxPoolSize is the maximum number of connections in the pool.
	MaxPoolSize int
}

func (c Config) connString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store is a PostgreSQL backed api.Store.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to PostgreSQL, applies the schema and returns the store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "postgres")

	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxPoolSize)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"port", poolConfig.ConnConfig.Port,
		"database", poolConfig.ConnConfig.Database,
	)

	s := &Store{pool: pool, logger: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	s.logger.Info("running database migrations")
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	s.logger.Info("migrations completed successfully")
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
		s.logger.Info("closed PostgreSQL connection pool")
	}
}

const txColumns = `id, amount::text, direction, category, merchant, occurred_at, source, status, created_at, fingerprint`

func scanTransaction(row pgx.Row) (api.Transaction, error) {
	var (
		tx          api.Transaction
		amount      string
		category    *string
		fingerprint *string
	)
	if err := row.Scan(&tx.ID, &amount, &tx.Direction, &category, &tx.Merchant,
		&tx.OccurredAt, &tx.Source, &tx.Status, &tx.CreatedAt, &fingerprint); err != nil {
		return api.Transaction{}, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return api.Transaction{}, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	tx.Amount = d
	if category != nil {
		c := api.Category(*category)
		tx.Category = &c
	}
	if fingerprint != nil {
		tx.Fingerprint = *fingerprint
	}
	return tx, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]api.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []api.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// InsertTransaction implements api.TransactionStore. The unique index on
// fingerprint makes concurrent duplicate inserts collapse to one row.
func (s *Store) InsertTransaction(ctx context.Context, tx api.Transaction) (int64, bool, error) {
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transactions (
			amount, direction, category, merchant, occurred_at, source, status, created_at, fingerprint
		) VALUES ($1::text::numeric, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id
	`,
		tx.Amount.String(),
		string(tx.Direction),
		nullableCategory(tx.Category),
		tx.Merchant,
		tx.OccurredAt,
		string(tx.Source),
		string(tx.Status),
		createdAt,
		tx.Fingerprint,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("inserting transaction: %w", err)
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT id FROM transactions WHERE fingerprint = $1`, tx.Fingerprint,
	).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("looking up duplicate fingerprint: %w", err)
	}
	return id, false, nil
}

func nullableCategory(c *api.Category) *string {
	if c == nil {
		return nil
	}
	v := string(*c)
	return &v
}

// ConfirmTransaction implements api.TransactionStore.
func (s *Store) ConfirmTransaction(ctx context.Context, id int64, category api.Category) (api.Transaction, bool, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return api.Transaction{}, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	tx, err := scanTransaction(dbTx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Transaction{}, false, api.ErrNotFound
	}
	if err != nil {
		return api.Transaction{}, false, fmt.Errorf("loading transaction %d: %w", id, err)
	}
	if tx.Status == api.Confirmed {
		return tx, false, nil
	}

	if _, err := dbTx.Exec(ctx,
		`UPDATE transactions SET category = $2, status = $3 WHERE id = $1`,
		id, string(category), string(api.Confirmed),
	); err != nil {
		return api.Transaction{}, false, fmt.Errorf("confirming transaction %d: %w", id, err)
	}
	if err := dbTx.Commit(ctx); err != nil {
		return api.Transaction{}, false, fmt.Errorf("committing transaction: %w", err)
	}

	tx.Category = &category
	tx.Status = api.Confirmed
	return tx, true, nil
}

// Transaction implements api.TransactionStore.
func (s *Store) Transaction(ctx context.Context, id int64) (api.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Transaction{}, api.ErrNotFound
	}
	if err != nil {
		return api.Transaction{}, fmt.Errorf("loading transaction %d: %w", id, err)
	}
	return tx, nil
}

// SumDebits implements api.TransactionStore.
func (s *Store) SumDebits(ctx context.Context, category api.Category, start, end time.Time) (decimal.Decimal, error) {
	var sum string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text FROM transactions
		WHERE status = 'CONFIRMED' AND direction = 'DEBIT'
		  AND category = $1 AND occurred_at BETWEEN $2 AND $3
	`, string(category), start, end).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing %s debits: %w", category, err)
	}
	return decimal.NewFromString(sum)
}

// SumByDirection implements api.TransactionStore.
func (s *Store) SumByDirection(ctx context.Context, start, end time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var income, expense string
	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE direction = 'CREDIT'), 0)::text,
			COALESCE(SUM(amount) FILTER (WHERE direction = 'DEBIT'), 0)::text
		FROM transactions
		WHERE status = 'CONFIRMED' AND occurred_at BETWEEN $1 AND $2
	`, start, end).Scan(&income, &expense)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("summing by direction: %w", err)
	}

	in, err := decimal.NewFromString(income)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	out, err := decimal.NewFromString(expense)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return in, out, nil
}

// ConfirmedBetween implements api.TransactionStore.
func (s *Store) ConfirmedBetween(ctx context.Context, start, end time.Time) ([]api.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = 'CONFIRMED' AND occurred_at BETWEEN $1 AND $2
		ORDER BY occurred_at DESC, id DESC
	`, start, end)
}

// PendingTransactions implements api.TransactionStore.
func (s *Store) PendingTransactions(ctx context.Context) ([]api.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE status = 'PENDING'
		ORDER BY occurred_at DESC, id DESC
	`)
}

// Fingerprints implements api.TransactionStore.
func (s *Store) Fingerprints(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint FROM transactions WHERE fingerprint IS NOT NULL ORDER BY fingerprint`)
	if err != nil {
		return nil, fmt.Errorf("querying fingerprints: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpsertAllocation implements api.BudgetStore.
func (s *Store) UpsertAllocation(ctx context.Context, a api.BudgetAllocation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO budget_allocations (category, period_start, amount, alerts_enabled)
		VALUES ($1, $2, $3::text::numeric, $4)
		ON CONFLICT (category, period_start) DO UPDATE SET
			amount = EXCLUDED.amount,
			alerts_enabled = EXCLUDED.alerts_enabled
	`, string(a.Category), a.PeriodStart, a.Amount.String(), a.AlertsEnabled)
	if err != nil {
		return fmt.Errorf("upserting %s allocation: %w", a.Category, err)
	}
	return nil
}

// DeleteAllocation implements api.BudgetStore.
func (s *Store) DeleteAllocation(ctx context.Context, category api.Category, periodStart time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM budget_allocations WHERE category = $1 AND period_start = $2`,
		string(category), periodStart)
	if err != nil {
		return fmt.Errorf("deleting %s allocation: %w", category, err)
	}
	return nil
}

// Allocations implements api.BudgetStore.
func (s *Store) Allocations(ctx context.Context, periodStart time.Time) ([]api.BudgetAllocation, error) {
	return s.queryAllocations(ctx, `
		SELECT category, period_start, amount::text, alerts_enabled FROM budget_allocations
		WHERE period_start = $1
		ORDER BY category
	`, periodStart)
}

// AllAllocations implements api.BudgetStore.
func (s *Store) AllAllocations(ctx context.Context) ([]api.BudgetAllocation, error) {
	return s.queryAllocations(ctx, `
		SELECT category, period_start, amount::text, alerts_enabled FROM budget_allocations
		ORDER BY period_start, category
	`)
}

func (s *Store) queryAllocations(ctx context.Context, query string, args ...any) ([]api.BudgetAllocation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying allocations: %w", err)
	}
	defer rows.Close()

	var out []api.BudgetAllocation
	for rows.Next() {
		var (
			a      api.BudgetAllocation
			amount string
		)
		if err := rows.Scan(&a.Category, &a.PeriodStart, &amount, &a.AlertsEnabled); err != nil {
			return nil, fmt.Errorf("scanning allocation: %w", err)
		}
		if a.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendNudge implements api.NudgeStore.
func (s *Store) AppendNudge(ctx context.Context, e api.NudgeEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nudge_events (id, type, category, action, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Type, e.Category, e.Action, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("appending nudge %s: %w", e.Type, err)
	}
	return nil
}

// NudgesSince implements api.NudgeStore.
func (s *Store) NudgesSince(ctx context.Context, since time.Time) ([]api.NudgeEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, type, category, action, occurred_at FROM nudge_events
		WHERE occurred_at >= $1
		ORDER BY occurred_at, seq
	`, since)
	if err != nil {
		return nil, fmt.Errorf("querying nudges: %w", err)
	}
	return pgx.CollectRows(rows, scanNudge)
}

// NudgesAfter implements api.NudgeStore.
func (s *Store) NudgesAfter(ctx context.Context, seq int64) ([]api.NudgeEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id, type, category, action, occurred_at FROM nudge_events
		WHERE seq > $1
		ORDER BY seq
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("querying nudges: %w", err)
	}
	return pgx.CollectRows(rows, scanNudge)
}

func scanNudge(row pgx.CollectableRow) (api.NudgeEvent, error) {
	var e api.NudgeEvent
	err := row.Scan(&e.Seq, &e.ID, &e.Type, &e.Category, &e.Action, &e.OccurredAt)
	return e, err
}

// InsertPoints implements api.PointsStore.
func (s *Store) InsertPoints(ctx context.Context, e api.PointsEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO points_events (source_event_id, delta, reason, details, occurred_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5)
		ON CONFLICT (source_event_id) DO NOTHING
	`, e.SourceEventID, e.Delta, string(e.Reason), e.Details, e.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("inserting points event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PointsBalance implements api.PointsStore.
func (s *Store) PointsBalance(ctx context.Context) (int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0)::int FROM points_events`).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing points: %w", err)
	}
	return total, nil
}

// RecentPoints implements api.PointsStore. A limit of zero or less returns
// every event.
func (s *Store) RecentPoints(ctx context.Context, limit int) ([]api.PointsEvent, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(source_event_id, ''), delta, reason, details, occurred_at
		FROM points_events
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`, lim)
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.PointsEvent, error) {
		var e api.PointsEvent
		err := row.Scan(&e.ID, &e.SourceEventID, &e.Delta, &e.Reason, &e.Details, &e.OccurredAt)
		return e, err
	})
}

// CountPoints implements api.PointsStore.
func (s *Store) CountPoints(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM points_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return n, nil
}

// CountPointsByReason implements api.PointsStore.
func (s *Store) CountPointsByReason(ctx context.Context, reason api.PointsReason) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM points_events WHERE reason = $1`, string(reason)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s points: %w", reason, err)
	}
	return n, nil
}

// UnlockAchievement implements api.PointsStore.
func (s *Store) UnlockAchievement(ctx context.Context, a api.Achievement) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO achievements (key, title, description, unlocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`, a.Key, a.Title, a.Description, a.UnlockedAt)
	if err != nil {
		return false, fmt.Errorf("unlocking achievement %s: %w", a.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Achievements implements api.PointsStore.
func (s *Store) Achievements(ctx context.Context) ([]api.Achievement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, title, description, unlocked_at FROM achievements ORDER BY unlocked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying achievements: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (api.Achievement, error) {
		var a api.Achievement
		err := row.Scan(&a.Key, &a.Title, &a.Description, &a.UnlockedAt)
		return a, err
	})
}

// Marker implements api.PreferenceStore.
func (s *Store) Marker(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM markers WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading marker %s: %w", key, err)
	}
	return v, true, nil
}

// SetMarker implements api.PreferenceStore.
func (s *Store) SetMarker(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO markers (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("writing marker %s: %w", key, err)
	}
	return nil
}

// AddMember implements api.PreferenceStore.
func (s *Store) AddMember(ctx context.Context, key, member string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO set_members (key, member) VALUES ($1, $2)
		ON CONFLICT (key, member) DO NOTHING
	`, key, member)
	if err != nil {
		return fmt.Errorf("adding %s to %s: %w", member, key, err)
	}
	return nil
}

// Members implements api.PreferenceStore.
func (s *Store) Members(ctx context.Context, key string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT member FROM set_members WHERE key = $1 ORDER BY member`, key)
	if err != nil {
		return nil, fmt.Errorf("querying members of %s: %w", key, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ImportTransactions inserts restored transactions in one batch, skipping
// fingerprints that already exist. It returns the number of new rows.
func (s *Store) ImportTransactions(ctx context.Context, txs []api.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, tx := range txs {
		createdAt := tx.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		batch.Queue(`
			INSERT INTO transactions (
				amount, direction, category, merchant, occurred_at, source, status, created_at, fingerprint
			) VALUES ($1::text::numeric, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
			ON CONFLICT (fingerprint) DO NOTHING
		`,
			tx.Amount.String(),
			string(tx.Direction),
			nullableCategory(tx.Category),
			tx.Merchant,
			tx.OccurredAt,
			string(tx.Source),
			string(tx.Status),
			createdAt,
			tx.Fingerprint,
		)
	}

	results := dbTx.SendBatch(ctx, batch)
	inserted := 0
	for i := range txs {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("importing transaction %d: %w", i, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return inserted, nil
}
