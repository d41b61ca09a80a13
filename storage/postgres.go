package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"seatwatch/pkg/watch"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PG is a Postgres-backed throttle-state store. It persists the same
// last-notified record the web deployment keeps on its subscription rows,
// keyed by class id.
type PG struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPG connects to Postgres and applies pending schema migrations.
func NewPG(ctx context.Context, dsn string, logger *slog.Logger) (*PG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("Postgres state store ready")
	return &PG{pool: pool, logger: logger}, nil
}

// migrate applies the embedded goose migrations. Goose works with
// database/sql, so a throwaway *sql.DB is opened from the pool's config.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(migrationsFS)

	db := stdlib.OpenDBFromPool(pool)
	defer func() { _ = db.Close() }()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PG) Close() {
	p.pool.Close()
}

// Get loads the alert state for a class.
func (p *PG) Get(ctx context.Context, classID string) (watch.AlertState, bool, error) {
	query := `
		SELECT last_open_count, last_notified_at
		FROM seat_alert_state
		WHERE class_id = $1
	`

	var state watch.AlertState
	var notifiedAt *time.Time
	err := p.pool.QueryRow(ctx, query, classID).Scan(&state.LastOpenCount, &notifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return watch.AlertState{}, false, nil
		}
		return watch.AlertState{}, false, fmt.Errorf("get alert state: %w", err)
	}
	if notifiedAt != nil {
		state.LastNotifiedAt = *notifiedAt
	}
	return state, true, nil
}

// Put upserts the alert state for a class.
func (p *PG) Put(ctx context.Context, classID string, state watch.AlertState) error {
	query := `
		INSERT INTO seat_alert_state (class_id, last_open_count, last_notified_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (class_id) DO UPDATE
		SET last_open_count = EXCLUDED.last_open_count,
		    last_notified_at = EXCLUDED.last_notified_at
	`

	var notifiedAt *time.Time
	if !state.LastNotifiedAt.IsZero() {
		notifiedAt = &state.LastNotifiedAt
	}
	if _, err := p.pool.Exec(ctx, query, classID, state.LastOpenCount, notifiedAt); err != nil {
		return fmt.Errorf("put alert state: %w", err)
	}
	return nil
}

// Delete removes the state for a class. Idempotent.
func (p *PG) Delete(ctx context.Context, classID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM seat_alert_state WHERE class_id = $1`, classID); err != nil {
		return fmt.Errorf("delete alert state: %w", err)
	}
	return nil
}

// ClassIDs lists every class with recorded state.
func (p *PG) ClassIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT class_id FROM seat_alert_state ORDER BY class_id`)
	if err != nil {
		return nil, fmt.Errorf("list alert state: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan class id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert state: %w", err)
	}
	return ids, nil
}
