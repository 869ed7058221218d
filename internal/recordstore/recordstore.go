// Package recordstore persists verified records against the "records"
// table: the ingestion pipeline's RecordStore dependency.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/berserksystems/instrumentality/internal/dbutil"
	"github.com/berserksystems/instrumentality/internal/recordmodel"
)

// Postgres implements ingest.RecordStore against a "records" table keyed
// by (platform_id, platform), with a nullable username column populated
// only for Meta records so the job queue's UsernameHint query can select
// it directly.
type Postgres struct {
	db *dbutil.DB
}

// New wraps an existing connection pool.
func New(db *dbutil.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the records table if it does not already exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			id              BIGSERIAL PRIMARY KEY,
			platform_id     TEXT NOT NULL,
			platform        TEXT NOT NULL,
			kind            TEXT NOT NULL,
			username        TEXT,
			data            JSONB NOT NULL,
			added_by        TEXT NOT NULL,
			added_at        TIMESTAMPTZ NOT NULL,
			retrieved_at    TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure records schema: %w", err)
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_records_identity ON records(platform_id, platform)
	`)
	if err != nil {
		return fmt.Errorf("ensure records identity index: %w", err)
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_records_meta_username
			ON records(platform, platform_id, kind, retrieved_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("ensure records username index: %w", err)
	}
	return nil
}

// AppendAll persists every record in a single round trip per record,
// within whatever transaction ctx carries (the ingestion pipeline always
// calls this inside its WithTx).
func (s *Postgres) AppendAll(ctx context.Context, records []recordmodel.Record) error {
	for _, r := range records {
		if err := s.appendOne(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) appendOne(ctx context.Context, r recordmodel.Record) error {
	base := r.Base()
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	var username *string
	if m, ok := r.(*recordmodel.Meta); ok {
		u := m.Username
		username = &u
	}

	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO records
			(platform_id, platform, kind, username, data, added_by, added_at, retrieved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, base.ID, base.Platform, string(r.Kind()), username, payload, base.AddedBy, base.AddedAt, base.RetrievedAt)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}
