package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "revguard/pkg/errors"
)

// PackVersion is one persisted revision of the active policy pack.
type PackVersion struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Pack      *Pack     `json:"pack"`
	Diff      string    `json:"diff,omitempty"`
	Action    string    `json:"action"`
	ChangedBy string    `json:"changed_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type VersionRepository interface {
	// Latest returns the newest version or a NOT_FOUND error.
	Latest(ctx context.Context) (*PackVersion, error)
	// Save assigns the next version number and stores v.
	Save(ctx context.Context, v *PackVersion) error
	List(ctx context.Context, limit int) ([]PackVersion, error)
}

type PostgresVersionRepository struct {
	db *sql.DB
}

func NewPostgresVersionRepository(db *sql.DB) *PostgresVersionRepository {
	return &PostgresVersionRepository{db: db}
}

func (r *PostgresVersionRepository) Latest(ctx context.Context) (*PackVersion, error) {
	query := `
		SELECT id, version, pack_document, diff, action, changed_by, created_at
		FROM policy_pack_versions
		ORDER BY version DESC
		LIMIT 1
	`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithMessage("no policy pack version stored")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest policy pack: %w", err)
	}
	return v, nil
}

func (r *PostgresVersionRepository) Save(ctx context.Context, v *PackVersion) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	doc, err := json.Marshal(v.Pack)
	if err != nil {
		return fmt.Errorf("failed to marshal policy pack: %w", err)
	}

	query := `
		INSERT INTO policy_pack_versions (id, version, pack_id, pack_version, pack_document, diff, action, changed_by, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6, $7, $8
		FROM policy_pack_versions
		RETURNING version
	`

	err = r.db.QueryRowContext(ctx, query,
		v.ID, v.Pack.ID, v.Pack.Version, doc, v.Diff, v.Action, v.ChangedBy, v.CreatedAt,
	).Scan(&v.Version)
	if err != nil {
		return fmt.Errorf("failed to save policy pack version: %w", err)
	}
	return nil
}

func (r *PostgresVersionRepository) List(ctx context.Context, limit int) ([]PackVersion, error) {
	query := `
		SELECT id, version, pack_document, diff, action, changed_by, created_at
		FROM policy_pack_versions
		ORDER BY version DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy pack versions: %w", err)
	}
	defer rows.Close()

	var versions []PackVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy pack version: %w", err)
		}
		versions = append(versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return versions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*PackVersion, error) {
	var (
		v   PackVersion
		doc []byte
	)
	if err := row.Scan(&v.ID, &v.Version, &doc, &v.Diff, &v.Action, &v.ChangedBy, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.Pack = &Pack{}
	if err := json.Unmarshal(doc, v.Pack); err != nil {
		return nil, fmt.Errorf("failed to decode policy pack document: %w", err)
	}
	return &v, nil
}

// MemoryVersionRepository keeps versions in process. It backs the
// service when no database is configured and in tests.
type MemoryVersionRepository struct {
	mu       sync.RWMutex
	versions []PackVersion
}

func NewMemoryVersionRepository() *MemoryVersionRepository {
	return &MemoryVersionRepository{}
}

func (r *MemoryVersionRepository) Latest(_ context.Context) (*PackVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.versions) == 0 {
		return nil, apperrors.ErrNotFound.WithMessage("no policy pack version stored")
	}
	v := r.versions[len(r.versions)-1]
	v.Pack = v.Pack.Clone()
	return &v, nil
}

func (r *MemoryVersionRepository) Save(_ context.Context, v *PackVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	v.Version = len(r.versions) + 1

	stored := *v
	stored.Pack = v.Pack.Clone()
	r.versions = append(r.versions, stored)
	return nil
}

func (r *MemoryVersionRepository) List(_ context.Context, limit int) ([]PackVersion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PackVersion, 0, limit)
	for i := len(r.versions) - 1; i >= 0 && len(out) < limit; i-- {
		v := r.versions[i]
		v.Pack = v.Pack.Clone()
		out = append(out, v)
	}
	return out, nil
}
