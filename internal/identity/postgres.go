package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/berserksystems/instrumentality/internal/dbutil"
)

// PostgresOperators implements OperatorStore against a Postgres "operators"
// table, keyed by a unique index on the credential digest.
type PostgresOperators struct {
	db *dbutil.DB
}

// NewPostgresOperators wraps an existing connection pool.
func NewPostgresOperators(db *dbutil.DB) *PostgresOperators {
	return &PostgresOperators{db: db}
}

// EnsureSchema creates the operators table if it does not already exist.
func (s *PostgresOperators) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS operators (
			id              UUID PRIMARY KEY,
			name            TEXT NOT NULL,
			credential_hash TEXT NOT NULL UNIQUE,
			admin           BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure operators schema: %w", err)
	}
	return nil
}

func (s *PostgresOperators) Create(ctx context.Context, op Operator) (Operator, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO operators (id, name, credential_hash, admin, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, op.ID, op.Name, op.CredentialHash, op.Admin, op.CreatedAt)
	if isUniqueViolation(err) {
		return Operator{}, ErrConflict
	}
	if err != nil {
		return Operator{}, fmt.Errorf("create operator: %w", err)
	}
	return op, nil
}

func (s *PostgresOperators) FindByCredentialDigest(ctx context.Context, digest string) (Operator, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, name, credential_hash, admin, created_at
		FROM operators
		WHERE credential_hash = $1
	`, digest)
	return scanOperator(row)
}

func (s *PostgresOperators) FindByID(ctx context.Context, id string) (Operator, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, name, credential_hash, admin, created_at
		FROM operators
		WHERE id = $1
	`, id)
	return scanOperator(row)
}

func (s *PostgresOperators) UpdateCredentialDigest(ctx context.Context, id, digest string) error {
	result, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE operators SET credential_hash = $2 WHERE id = $1
	`, id, digest)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update operator credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update operator credential: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOperator(row *sql.Row) (Operator, error) {
	var op Operator
	if err := row.Scan(&op.ID, &op.Name, &op.CredentialHash, &op.Admin, &op.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Operator{}, ErrNotFound
		}
		return Operator{}, fmt.Errorf("scan operator: %w", err)
	}
	return op, nil
}

// PostgresReferrals implements ReferralStore against a Postgres
// "referrals" table.
type PostgresReferrals struct {
	db *dbutil.DB
}

// NewPostgresReferrals wraps an existing connection pool.
func NewPostgresReferrals(db *dbutil.DB) *PostgresReferrals {
	return &PostgresReferrals{db: db}
}

// EnsureSchema creates the referrals table if it does not already exist.
func (s *PostgresReferrals) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS referrals (
			id         UUID PRIMARY KEY,
			issuer_id  UUID NOT NULL REFERENCES operators(id),
			code_hash  TEXT NOT NULL UNIQUE,
			used       BOOLEAN NOT NULL DEFAULT FALSE,
			used_by    UUID,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure referrals schema: %w", err)
	}
	return nil
}

func (s *PostgresReferrals) Create(ctx context.Context, r Referral) (Referral, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO referrals (id, issuer_id, code_hash, used, used_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.IssuerID, r.CodeHash, r.Used, dbutil.ToNullString(derefStr(r.UsedBy)), r.CreatedAt)
	if isUniqueViolation(err) {
		return Referral{}, ErrConflict
	}
	if err != nil {
		return Referral{}, fmt.Errorf("create referral: %w", err)
	}
	return r, nil
}

func (s *PostgresReferrals) FindByCodeDigest(ctx context.Context, digest string) (Referral, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, issuer_id, code_hash, used, used_by, created_at
		FROM referrals
		WHERE code_hash = $1
	`, digest)

	var (
		r      Referral
		usedBy sql.NullString
	)
	if err := row.Scan(&r.ID, &r.IssuerID, &r.CodeHash, &r.Used, &usedBy, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Referral{}, ErrNotFound
		}
		return Referral{}, fmt.Errorf("scan referral: %w", err)
	}
	if usedBy.Valid {
		r.UsedBy = &usedBy.String
	}
	return r, nil
}

// MarkUsed marks a referral consumed by usedByOperatorID. Callers that
// must consume a referral atomically with creating the invited operator
// should run this inside the same transaction (via dbutil.DB.WithTx) as
// the operator insert.
func (s *PostgresReferrals) MarkUsed(ctx context.Context, id, usedByOperatorID string) error {
	result, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE referrals SET used = TRUE, used_by = $2 WHERE id = $1 AND used = FALSE
	`, id, usedByOperatorID)
	if err != nil {
		return fmt.Errorf("mark referral used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark referral used: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// unique_violation per the Postgres errcodes appendix.
const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
