package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS projects (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    base_csv    BYTEA NOT NULL,
    head        INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS history_entries (
    project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    id          TEXT NOT NULL,
    kind        TEXT NOT NULL,
    description TEXT NOT NULL,
    payload     JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (project_id, seq)
);
`

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PostgresStore keeps projects and history in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, verifies the connection and ensures
// the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string, pc PoolConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if pc.MaxConns > 0 {
		poolConfig.MaxConns = int32(pc.MaxConns)
	}
	if pc.MinConns > 0 {
		poolConfig.MinConns = int32(pc.MinConns)
	}
	if pc.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = pc.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool. The caller owns the schema.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p Project) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	base := p.BaseCSV
	if base == nil {
		base = []byte{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, base_csv, head, created_at) VALUES ($1, $2, $3, 0, $4)`,
		p.ID, p.Name, base, createdAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrProjectExists, p.ID)
	}
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) Projects(ctx context.Context) ([]Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, head, created_at FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Head, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Project(ctx context.Context, id string) (Project, error) {
	var p Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, base_csv, head, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.BaseCSV, &p.Head, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	head, err := lockHead(ctx, tx, rec.ProjectID)
	if err != nil {
		return err
	}
	if rec.Seq != head+1 {
		return fmt.Errorf("%w: record %d after head %d", ErrSequence, rec.Seq, head)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM history_entries WHERE project_id = $1 AND seq >= $2`,
		rec.ProjectID, rec.Seq); err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO history_entries (project_id, seq, id, kind, description, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ProjectID, rec.Seq, rec.ID, rec.Kind, rec.Description, string(rec.Payload), rec.CreatedAt); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE projects SET head = $2 WHERE id = $1`, rec.ProjectID, rec.Seq); err != nil {
		return fmt.Errorf("update head: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetHead(ctx context.Context, projectID string, head int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockHead(ctx, tx, projectID); err != nil {
		return err
	}
	var n int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM history_entries WHERE project_id = $1`, projectID,
	).Scan(&n); err != nil {
		return fmt.Errorf("count history: %w", err)
	}
	if head < 0 || head > n {
		return fmt.Errorf("%w: head %d with %d records", ErrSequence, head, n)
	}
	if _, err := tx.Exec(ctx, `UPDATE projects SET head = $2 WHERE id = $1`, projectID, head); err != nil {
		return fmt.Errorf("update head: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Entries(ctx context.Context, projectID string) ([]Record, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, projectID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, kind, description, payload::text, created_at
		 FROM history_entries WHERE project_id = $1 ORDER BY seq`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{ProjectID: projectID}
		var payload string
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Kind, &rec.Description, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func lockHead(ctx context.Context, tx pgx.Tx, projectID string) (int, error) {
	var head int
	err := tx.QueryRow(ctx, `SELECT head FROM projects WHERE id = $1 FOR UPDATE`, projectID).Scan(&head)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return 0, fmt.Errorf("lock project: %w", err)
	}
	return head, nil
}
