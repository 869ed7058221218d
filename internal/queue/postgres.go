package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/berserksystems/instrumentality/internal/dbutil"
)

// PostgresStore implements Store against a "queue_entries" table, with the
// atomic claim-on-lease step expressed as a single UPDATE ... RETURNING
// statement whose subquery locks its candidate row with
// FOR UPDATE SKIP LOCKED, so two concurrent leasers can never be handed
// the same entry.
type PostgresStore struct {
	db *dbutil.DB
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *dbutil.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS queue_entries (
			queue_id          UUID PRIMARY KEY,
			platform_id       TEXT NOT NULL,
			platform          TEXT NOT NULL,
			last_processed    TIMESTAMPTZ NOT NULL,
			lease_holder      UUID,
			lease_acquired_at TIMESTAMPTZ,
			"references"      INTEGER NOT NULL,
			confirmed_id      BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (platform, platform_id)
		);
		CREATE INDEX IF NOT EXISTS queue_entries_lease_idx ON queue_entries (platform, lease_holder, last_processed);
	`)
	if err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, platformID, platform string, confirmedID bool) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO queue_entries (queue_id, platform_id, platform, last_processed, "references", confirmed_id)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (platform, platform_id) DO UPDATE SET
			"references" = queue_entries."references" + 1,
			confirmed_id = queue_entries.confirmed_id OR EXCLUDED.confirmed_id
	`, uuid.NewString(), platformID, platform, EpochZero, confirmedID)
	if err != nil {
		return fmt.Errorf("queue add: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, platformID, platform string) error {
	result, err := s.db.Querier(ctx).ExecContext(ctx, `
		DELETE FROM queue_entries WHERE platform = $1 AND platform_id = $2 AND "references" = 1
	`, platform, platformID)
	if err != nil {
		return fmt.Errorf("queue remove (delete): %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE queue_entries SET "references" = "references" - 1
		WHERE platform = $1 AND platform_id = $2 AND "references" > 1
	`, platform, platformID)
	if err != nil {
		return fmt.Errorf("queue remove (decrement): %w", err)
	}
	return nil
}

func (s *PostgresStore) Lease(ctx context.Context, operatorID string, platforms []string) (Entry, bool, error) {
	now := time.Now().UTC()
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		UPDATE queue_entries SET lease_holder = $1, lease_acquired_at = $2
		WHERE queue_id = (
			SELECT queue_id FROM queue_entries
			WHERE lease_holder IS NULL AND platform = ANY($3)
			ORDER BY last_processed ASC, queue_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING queue_id, platform_id, platform, last_processed, lease_holder, lease_acquired_at, "references", confirmed_id
	`, operatorID, now, pq.Array(platforms))

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("queue lease: %w", err)
	}
	return entry, true, nil
}

func (s *PostgresStore) FindLeasedUnconfirmed(ctx context.Context, queueID, platform, username, operatorID string) (bool, error) {
	var exists bool
	err := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM queue_entries
			WHERE queue_id = $1 AND platform = $2 AND platform_id = $3
				AND lease_holder = $4 AND confirmed_id = FALSE
		)
	`, queueID, platform, username, operatorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("queue find leased unconfirmed: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ReleaseNormal(ctx context.Context, queueID, operatorID string, now time.Time) (bool, error) {
	result, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE queue_entries SET lease_holder = NULL, lease_acquired_at = NULL, last_processed = $3
		WHERE queue_id = $1 AND lease_holder = $2
	`, queueID, operatorID, now)
	if err != nil {
		return false, fmt.Errorf("queue release: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue release: %w", err)
	}
	return rows == 1, nil
}

func (s *PostgresStore) ReclaimExpired(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE queue_entries SET lease_holder = NULL, lease_acquired_at = NULL
		WHERE lease_holder IS NOT NULL AND lease_acquired_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("queue reclaim expired: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue reclaim expired: %w", err)
	}
	return int(rows), nil
}

// UsernameHint looks up the most recent Meta record for (platform,
// platformID) in the "records" table created by internal/recordstore's
// schema. If none exists, platformID itself is returned.
func (s *PostgresStore) UsernameHint(ctx context.Context, platform, platformID string) (string, error) {
	var username sql.NullString
	err := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT username FROM records
		WHERE platform = $1 AND platform_id = $2 AND kind = 'meta'
		ORDER BY retrieved_at DESC
		LIMIT 1
	`, platform, platformID).Scan(&username)
	if err == sql.ErrNoRows {
		return platformID, nil
	}
	if err != nil {
		return "", fmt.Errorf("username hint: %w", err)
	}
	if !username.Valid {
		return platformID, nil
	}
	return username.String, nil
}

func (s *PostgresStore) Get(ctx context.Context, queueID string) (Entry, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT queue_id, platform_id, platform, last_processed, lease_holder, lease_acquired_at, "references", confirmed_id
		FROM queue_entries WHERE queue_id = $1
	`, queueID)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("queue get: %w", err)
	}
	return entry, nil
}

func scanEntry(row *sql.Row) (Entry, error) {
	var (
		entry           Entry
		leaseHolder     sql.NullString
		leaseAcquiredAt sql.NullTime
	)
	if err := row.Scan(&entry.QueueID, &entry.PlatformID, &entry.Platform, &entry.LastProcessed,
		&leaseHolder, &leaseAcquiredAt, &entry.References, &entry.ConfirmedID); err != nil {
		return Entry{}, err
	}
	if leaseHolder.Valid {
		entry.LeaseHolder = &leaseHolder.String
	}
	if leaseAcquiredAt.Valid {
		entry.LeaseAcquiredAt = &leaseAcquiredAt.Time
	}
	return entry, nil
}
