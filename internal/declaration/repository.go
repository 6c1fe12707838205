package declaration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "revguard/pkg/errors"
	"revguard/pkg/metrics"
)

const (
	StatusLodged   = "LODGED"
	StatusCleared  = "CLEARED"
	StatusHeld     = "HELD"
	StatusStopped  = "STOPPED"
	StatusReleased = "RELEASED"
)

// Declaration is the stored copy of a screened customs declaration.
type Declaration struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	LodgementTS *time.Time             `json:"lodgement_ts,omitempty"`
	Document    map[string]interface{} `json:"document,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// PostgresRepository keeps declarations and their customs status.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// UpdateStatus sets the status of a declaration, creating the row when
// the declaration was never recorded.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, declarationID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO declarations (id, status, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		declarationID, status, r.now().UTC(),
	)
	if err != nil {
		metrics.IncDatabaseQuery("declaration_postgres", "update_status", "error")
		return fmt.Errorf("failed to update declaration %s: %w", declarationID, err)
	}
	metrics.IncDatabaseQuery("declaration_postgres", "update_status", "ok")
	return nil
}

// Record upserts the declaration document together with its status.
func (r *PostgresRepository) Record(ctx context.Context, d Declaration) error {
	doc, err := json.Marshal(d.Document)
	if err != nil {
		return fmt.Errorf("failed to marshal declaration document: %w", err)
	}
	if d.Document == nil {
		doc = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO declarations (id, status, lodgement_ts, document, updated_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, lodgement_ts = EXCLUDED.lodgement_ts,
			document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		d.ID, d.Status, d.LodgementTS, doc, r.now().UTC(),
	)
	if err != nil {
		metrics.IncDatabaseQuery("declaration_postgres", "record", "error")
		return fmt.Errorf("failed to record declaration %s: %w", d.ID, err)
	}
	metrics.IncDatabaseQuery("declaration_postgres", "record", "ok")
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, declarationID string) (*Declaration, error) {
	var (
		d   Declaration
		doc []byte
		ts  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, status, lodgement_ts, document, updated_at FROM declarations WHERE id = $1`, declarationID,
	).Scan(&d.ID, &d.Status, &ts, &doc, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound.WithMessage("declaration %s not found", declarationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration %s: %w", declarationID, err)
	}
	if ts.Valid {
		d.LodgementTS = &ts.Time
	}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &d.Document); err != nil {
			return nil, fmt.Errorf("failed to decode declaration document: %w", err)
		}
	}
	return &d, nil
}

// NopUpdater accepts every status update without recording it.
type NopUpdater struct{}

func (NopUpdater) UpdateStatus(context.Context, string, string) error { return nil }
