package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresBackend struct {
	db *sql.DB

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	b.schemaOnce.Do(func() {
		_, b.schemaErr = b.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS history_kv (
  key TEXT PRIMARY KEY,
  value JSONB NOT NULL,
  updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`)
	})
	return b.schemaErr
}

func (b *PostgresBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := b.ensureSchema(ctx); err != nil {
		return nil, false, err
	}
	var raw []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM history_kv WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (b *PostgresBackend) Save(ctx context.Context, key string, value []byte) error {
	if err := b.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, `
INSERT INTO history_kv (key, value, updated_at)
VALUES ($1, $2::jsonb, $3)
ON CONFLICT (key)
DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
		key, string(value), time.Now())
	return err
}

func (b *PostgresBackend) Close() error { return b.db.Close() }
