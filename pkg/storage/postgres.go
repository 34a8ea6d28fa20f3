package storage

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/matst80/woof/pkg/types"
)

// PostgresSampleStore keeps samples in a single table keyed by series.
type PostgresSampleStore struct {
	db      *sql.DB
	timeout time.Duration

	schemaOnce sync.Once
	schemaErr  error
}

func NewPostgresSampleStore(dsn string) (*PostgresSampleStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &PostgresSampleStore{db: db, timeout: 10 * time.Second}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSampleStore) ensureSchema() error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS woof_samples (
  source_id TEXT NOT NULL,
  field INTEGER NOT NULL,
  value DOUBLE PRECISION NOT NULL,
  ts BIGINT NOT NULL,
  PRIMARY KEY (source_id, field, ts)
);
CREATE INDEX IF NOT EXISTS idx_woof_samples_ts ON woof_samples (ts);
`)
	})
	return s.schemaErr
}

func (s *PostgresSampleStore) AppendSamples(samples []types.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO woof_samples (source_id, field, value, ts) VALUES ($1, $2, $3, $4)
ON CONFLICT (source_id, field, ts) DO UPDATE SET value = EXCLUDED.value`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx, sample.SourceId, sample.Field, sample.Value, sample.Timestamp); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresSampleStore) LoadSamples(from, to int64, handle func(types.Sample)) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT source_id, field, value, ts FROM woof_samples
WHERE ts >= $1 AND ts < $2 ORDER BY ts`, from, to)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var sample types.Sample
		if err := rows.Scan(&sample.SourceId, &sample.Field, &sample.Value, &sample.Timestamp); err != nil {
			return err
		}
		handle(sample)
	}
	return rows.Err()
}

func (s *PostgresSampleStore) PruneSamples(before int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `DELETE FROM woof_samples WHERE ts < $1`, before)
	return err
}

func (s *PostgresSampleStore) Close() error {
	return s.db.Close()
}
