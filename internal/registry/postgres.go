package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/berserksystems/instrumentality/internal/dbutil"
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// PostgresSubjects implements SubjectStore against a "subjects" table with
// a unique composite index on (owner, name) and a JSONB profiles column.
type PostgresSubjects struct {
	db *dbutil.DB
}

// NewPostgresSubjects wraps an existing connection pool.
func NewPostgresSubjects(db *dbutil.DB) *PostgresSubjects {
	return &PostgresSubjects{db: db}
}

func (s *PostgresSubjects) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subjects (
			id          UUID PRIMARY KEY,
			owner       UUID NOT NULL REFERENCES operators(id),
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			profiles    JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			UNIQUE (owner, name)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure subjects schema: %w", err)
	}
	return nil
}

func (s *PostgresSubjects) Create(ctx context.Context, subject Subject) (Subject, error) {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	profiles, err := json.Marshal(subject.Profiles)
	if err != nil {
		return Subject{}, fmt.Errorf("marshal profiles: %w", err)
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO subjects (id, owner, name, description, profiles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, subject.ID, subject.Owner, subject.Name, subject.Description, profiles, subject.CreatedAt, subject.UpdatedAt)
	if isUniqueViolation(err) {
		return Subject{}, ErrConflict
	}
	if err != nil {
		return Subject{}, fmt.Errorf("create subject: %w", err)
	}
	return subject, nil
}

func (s *PostgresSubjects) Update(ctx context.Context, subject Subject) (Subject, error) {
	profiles, err := json.Marshal(subject.Profiles)
	if err != nil {
		return Subject{}, fmt.Errorf("marshal profiles: %w", err)
	}
	result, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE subjects SET name = $3, description = $4, profiles = $5, updated_at = $6
		WHERE id = $1 AND owner = $2
	`, subject.ID, subject.Owner, subject.Name, subject.Description, profiles, subject.UpdatedAt)
	if isUniqueViolation(err) {
		return Subject{}, ErrConflict
	}
	if err != nil {
		return Subject{}, fmt.Errorf("update subject: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return Subject{}, ErrNotFound
	}
	return subject, nil
}

func (s *PostgresSubjects) Delete(ctx context.Context, owner, id string) (Subject, error) {
	subject, err := s.Get(ctx, owner, id)
	if err != nil {
		return Subject{}, err
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		DELETE FROM subjects WHERE id = $1 AND owner = $2
	`, id, owner)
	if err != nil {
		return Subject{}, fmt.Errorf("delete subject: %w", err)
	}
	return subject, nil
}

func (s *PostgresSubjects) Get(ctx context.Context, owner, id string) (Subject, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, owner, name, description, profiles, created_at, updated_at
		FROM subjects WHERE id = $1 AND owner = $2
	`, id, owner)
	return scanSubject(row)
}

func (s *PostgresSubjects) List(ctx context.Context, owner string) ([]Subject, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT id, owner, name, description, profiles, created_at, updated_at
		FROM subjects WHERE owner = $1 ORDER BY created_at
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()
	return scanSubjects(rows)
}

func (s *PostgresSubjects) ListByIDs(ctx context.Context, ids []string) ([]Subject, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT id, owner, name, description, profiles, created_at, updated_at
		FROM subjects WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list subjects by id: %w", err)
	}
	defer rows.Close()
	return scanSubjects(rows)
}

// RebindProfile rewrites the first occurrence of oldID in profiles[platform]
// to newID, across every subject that references it. Subject rows are
// fetched, edited in Go, and written back individually: the candidate set
// is expected to be small (a handful of subjects tracking the same
// provisional username), so this favors clarity over a single jsonb_set
// expression.
func (s *PostgresSubjects) RebindProfile(ctx context.Context, platform, oldID, newID string) error {
	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT id, owner, name, description, profiles, created_at, updated_at
		FROM subjects
		WHERE profiles -> $1 ? $2
	`, platform, oldID)
	if err != nil {
		return fmt.Errorf("rebind profile: find candidates: %w", err)
	}
	subjects, err := scanSubjects(rows)
	rows.Close()
	if err != nil {
		return fmt.Errorf("rebind profile: %w", err)
	}

	for _, subject := range subjects {
		ids := subject.Profiles[platform]
		for i, id := range ids {
			if id == oldID {
				ids[i] = newID
				break
			}
		}
		subject.Profiles[platform] = ids
		subject.UpdatedAt = time.Now().UTC()
		if _, err := s.Update(ctx, subject); err != nil {
			return fmt.Errorf("rebind profile: update subject %s: %w", subject.ID, err)
		}
	}
	return nil
}

func scanSubject(row *sql.Row) (Subject, error) {
	var (
		subject  Subject
		profiles []byte
	)
	if err := row.Scan(&subject.ID, &subject.Owner, &subject.Name, &subject.Description, &profiles, &subject.CreatedAt, &subject.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Subject{}, ErrNotFound
		}
		return Subject{}, fmt.Errorf("scan subject: %w", err)
	}
	if err := json.Unmarshal(profiles, &subject.Profiles); err != nil {
		return Subject{}, fmt.Errorf("unmarshal profiles: %w", err)
	}
	return subject, nil
}

func scanSubjects(rows *sql.Rows) ([]Subject, error) {
	var result []Subject
	for rows.Next() {
		var (
			subject  Subject
			profiles []byte
		)
		if err := rows.Scan(&subject.ID, &subject.Owner, &subject.Name, &subject.Description, &profiles, &subject.CreatedAt, &subject.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		if err := json.Unmarshal(profiles, &subject.Profiles); err != nil {
			return nil, fmt.Errorf("unmarshal profiles: %w", err)
		}
		result = append(result, subject)
	}
	return result, rows.Err()
}

// PostgresGroups implements GroupStore against a "groups" table with a
// unique composite index on (owner, name) and a JSONB subjects column.
type PostgresGroups struct {
	db *dbutil.DB
}

// NewPostgresGroups wraps an existing connection pool.
func NewPostgresGroups(db *dbutil.DB) *PostgresGroups {
	return &PostgresGroups{db: db}
}

func (s *PostgresGroups) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Querier(ctx).ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS groups (
			id          UUID PRIMARY KEY,
			owner       UUID NOT NULL REFERENCES operators(id),
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			subjects    JSONB NOT NULL DEFAULT '[]',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			UNIQUE (owner, name)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure groups schema: %w", err)
	}
	return nil
}

func (s *PostgresGroups) Create(ctx context.Context, group Group) (Group, error) {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	subjects, err := json.Marshal(group.Subjects)
	if err != nil {
		return Group{}, fmt.Errorf("marshal subjects: %w", err)
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		INSERT INTO groups (id, owner, name, description, subjects, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, group.ID, group.Owner, group.Name, group.Description, subjects, group.CreatedAt, group.UpdatedAt)
	if isUniqueViolation(err) {
		return Group{}, ErrConflict
	}
	if err != nil {
		return Group{}, fmt.Errorf("create group: %w", err)
	}
	return group, nil
}

func (s *PostgresGroups) Update(ctx context.Context, group Group) (Group, error) {
	subjects, err := json.Marshal(group.Subjects)
	if err != nil {
		return Group{}, fmt.Errorf("marshal subjects: %w", err)
	}
	result, err := s.db.Querier(ctx).ExecContext(ctx, `
		UPDATE groups SET name = $3, description = $4, subjects = $5, updated_at = $6
		WHERE id = $1 AND owner = $2
	`, group.ID, group.Owner, group.Name, group.Description, subjects, group.UpdatedAt)
	if isUniqueViolation(err) {
		return Group{}, ErrConflict
	}
	if err != nil {
		return Group{}, fmt.Errorf("update group: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return Group{}, ErrNotFound
	}
	return group, nil
}

func (s *PostgresGroups) Delete(ctx context.Context, owner, id string) (Group, error) {
	group, err := s.Get(ctx, owner, id)
	if err != nil {
		return Group{}, err
	}
	_, err = s.db.Querier(ctx).ExecContext(ctx, `
		DELETE FROM groups WHERE id = $1 AND owner = $2
	`, id, owner)
	if err != nil {
		return Group{}, fmt.Errorf("delete group: %w", err)
	}
	return group, nil
}

func (s *PostgresGroups) Get(ctx context.Context, owner, id string) (Group, error) {
	row := s.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, owner, name, description, subjects, created_at, updated_at
		FROM groups WHERE id = $1 AND owner = $2
	`, id, owner)
	return scanGroup(row)
}

func (s *PostgresGroups) List(ctx context.Context, owner string) ([]Group, error) {
	rows, err := s.db.Querier(ctx).QueryContext(ctx, `
		SELECT id, owner, name, description, subjects, created_at, updated_at
		FROM groups WHERE owner = $1 ORDER BY created_at
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var result []Group
	for rows.Next() {
		g, err := scanGroupRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// RemoveSubjectEverywhere pulls subjectID from every group owned by owner
// that contains it.
func (s *PostgresGroups) RemoveSubjectEverywhere(ctx context.Context, owner, subjectID string) error {
	groups, err := s.List(ctx, owner)
	if err != nil {
		return err
	}
	for _, g := range groups {
		filtered := make([]string, 0, len(g.Subjects))
		changed := false
		for _, id := range g.Subjects {
			if id == subjectID {
				changed = true
				continue
			}
			filtered = append(filtered, id)
		}
		if !changed {
			continue
		}
		g.Subjects = filtered
		g.UpdatedAt = time.Now().UTC()
		if _, err := s.Update(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func scanGroup(row *sql.Row) (Group, error) {
	var (
		group    Group
		subjects []byte
	)
	if err := row.Scan(&group.ID, &group.Owner, &group.Name, &group.Description, &subjects, &group.CreatedAt, &group.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Group{}, ErrNotFound
		}
		return Group{}, fmt.Errorf("scan group: %w", err)
	}
	if err := json.Unmarshal(subjects, &group.Subjects); err != nil {
		return Group{}, fmt.Errorf("unmarshal subjects: %w", err)
	}
	return group, nil
}

func scanGroupRow(rows *sql.Rows) (Group, error) {
	var (
		group    Group
		subjects []byte
	)
	if err := rows.Scan(&group.ID, &group.Owner, &group.Name, &group.Description, &subjects, &group.CreatedAt, &group.UpdatedAt); err != nil {
		return Group{}, fmt.Errorf("scan group: %w", err)
	}
	if err := json.Unmarshal(subjects, &group.Subjects); err != nil {
		return Group{}, fmt.Errorf("unmarshal subjects: %w", err)
	}
	return group, nil
}
