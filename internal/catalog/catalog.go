// Package catalog is the durable relational record of every credential and
// its administrative status, backed by Postgres via database/sql and
// github.com/lib/pq, grounded on the teacher's internal/storage/postgres
// connection-pool setup and query style.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"credpool-gateway/internal/migrations"
)

// Record is one row of the credentials table.
type Record struct {
	Key       string
	Service   string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	StatusActive     = "active"
	StatusLimited    = "limited"
	StatusBanned     = "banned"
	defaultPGTimeout = 5 * time.Second
)

// Store is the Postgres-backed catalog implementation satisfying
// scheduler.Catalog.
type Store struct {
	db *sql.DB
}

// Open connects to dsn, verifies reachability, and tunes the connection
// pool the way the teacher's storage backends do.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPGTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect to catalog database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info("connected to catalog database")
	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	return migrations.PostgresUp(s.db)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies catalog database reachability, used by the gateway's
// readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultPGTimeout)
}

// ListCredentials returns every active credential for service, used at
// startup to seed the coordination store's HAS_TOKENS set.
func (s *Store) ListCredentials(ctx context.Context, service string) ([]Record, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, service, status, created_at, updated_at FROM credentials WHERE service = $1 AND status = $2 ORDER BY key`,
		service, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Service, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials rows: %w", err)
	}
	return records, nil
}

// MarkLimited sets key's status to limited, called when the scheduler
// quarantines a credential.
func (s *Store) MarkLimited(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusLimited)
}

// MarkBanned sets key's status to banned, called on an upstream ban signal.
func (s *Store) MarkBanned(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusBanned)
}

// ResetActive sets key's status back to active, called by the operator
// reset path.
func (s *Store) ResetActive(ctx context.Context, key string) error {
	return s.setStatus(ctx, key, StatusActive)
}

func (s *Store) setStatus(ctx context.Context, key, status string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE key = $2`,
		status, key)
	if err != nil {
		return fmt.Errorf("set credential status: %w", err)
	}
	return nil
}

// Upsert inserts or updates a credential row with status active, used by
// the POST /admin/credentials provisioning route.
func (s *Store) Upsert(ctx context.Context, key, service string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (key, service, status, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET service = EXCLUDED.service, status = EXCLUDED.status, updated_at = CURRENT_TIMESTAMP
	`, key, service, StatusActive)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}
