package artifact

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore keeps artifacts as BYTEA rows. It cannot serve links.
type PostgresStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS artifact_objects (
    key TEXT PRIMARY KEY,
    content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
    content BYTEA NOT NULL DEFAULT ''::bytea,
    size BIGINT NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Put(ctx context.Context, obj Object) error {
	obj, err := validate(obj)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO artifact_objects (key, content_type, content, size, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key)
DO UPDATE SET content_type=EXCLUDED.content_type, content=EXCLUDED.content, size=EXCLUDED.size, updated_at=EXCLUDED.updated_at
`, obj.Key, obj.ContentType, obj.Data, int64(len(obj.Data)), time.Now())
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Object, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return Object{}, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return Object{}, err
	}
	obj := Object{Key: key}
	err = s.db.QueryRowContext(ctx, `SELECT content_type, content FROM artifact_objects WHERE key=$1`, key).
		Scan(&obj.ContentType, &obj.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Object{}, ErrNotFound
	}
	return obj, err
}

func (s *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM artifact_objects WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) URL(context.Context, string) (string, error) {
	return "", nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
