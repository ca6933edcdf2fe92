// Package journal records the outcome of every relayed push message in SQLite.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fcmrelay/internal/platform/sqlite"
	"fcmrelay/internal/shared"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Status is the final outcome of a delivery.
type Status string

const (
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusRateLimited Status = "rate_limited"
)

// Kind describes how a message was addressed.
type Kind string

const (
	KindToken     Kind = "token"
	KindMulticast Kind = "multicast"
	KindTopic     Kind = "topic"
	KindCondition Kind = "condition"
)

// Delivery is one journal entry.
type Delivery struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	MessageID string    `json:"message_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter narrows List results.
type Filter struct {
	Status Status
	Limit  int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Store is a SQLite backed delivery journal.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the journal at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.NewDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := sqlite.ApplyMigrations(path, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Record stores d, assigning an ID and timestamp when missing.
func (s *Store) Record(ctx context.Context, d Delivery) (Delivery, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	d.CreatedAt = d.CreatedAt.UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, target, kind, status, attempts, message_id, last_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Target, string(d.Kind), string(d.Status), d.Attempts, d.MessageID, d.LastError, d.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Delivery{}, fmt.Errorf("journal: record: %w", err)
	}
	return d, nil
}

const selectColumns = `SELECT id, target, kind, status, attempts, message_id, last_error, created_at FROM deliveries`

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row scanner) (Delivery, error) {
	var d Delivery
	var kind, status string
	var created int64
	if err := row.Scan(&d.ID, &d.Target, &kind, &status, &d.Attempts, &d.MessageID, &d.LastError, &created); err != nil {
		return Delivery{}, err
	}
	d.Kind = Kind(kind)
	d.Status = Status(status)
	d.CreatedAt = time.Unix(0, created).UTC()
	return d, nil
}

// Get returns the delivery with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Delivery, error) {
	d, err := scanDelivery(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Delivery{}, shared.Wrapf(shared.ErrNotFound, "delivery %s", id)
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("journal: get: %w", err)
	}
	return d, nil
}

// List returns deliveries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Delivery, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := selectColumns
	args := []any{}
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: list: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Prune deletes deliveries created before the cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return res.RowsAffected()
}

// Stats counts deliveries per status.
func (s *Store) Stats(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("journal: stats: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("journal: stats: %w", err)
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}
