package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"revguard/pkg/metrics"
)

const workflowColumns = `id, declaration_id, action_type, status, created_at, updated_at, expires_at,
	created_by, assigned_to, priority, reason, policy_version, rule_ids, sla_minutes,
	escalation_level, review_required, reviewed_by, reviewed_at, review_outcome, review_notes,
	released_by, released_at, release_notes, metadata, version`

const actionColumns = `id, workflow_id, declaration_id, action, performed_by, timestamp, notes, metadata`

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, wf *Workflow, entry ActionEntry) (err error) {
	defer func() { metrics.IncDatabaseQuery("workflow_postgres", "create", queryStatus(err)) }()

	metadata, err := marshalMetadata(wf.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO hold_stop_workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`
	_, err = tx.ExecContext(ctx, query,
		wf.ID, wf.DeclarationID, string(wf.ActionType), string(wf.Status), wf.CreatedAt, wf.UpdatedAt, wf.ExpiresAt,
		wf.CreatedBy, wf.AssignedTo, string(wf.Priority), wf.Reason, wf.PolicyVersion, pq.Array(wf.RuleIDs), wf.SLAMinutes,
		wf.EscalationLevel, wf.ReviewRequired, wf.ReviewedBy, wf.ReviewedAt, string(wf.ReviewOutcome), wf.ReviewNotes,
		wf.ReleasedBy, wf.ReleasedAt, wf.ReleaseNotes, metadata, wf.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("workflow %s already exists: %w", wf.ID, err)
		}
		return fmt.Errorf("failed to insert workflow: %w", err)
	}

	if err = insertAction(ctx, tx, entry); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, wf *Workflow, expectedVersion int, entry ActionEntry) (err error) {
	defer func() { metrics.IncDatabaseQuery("workflow_postgres", "update", queryStatus(err)) }()

	metadata, err := marshalMetadata(wf.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		UPDATE hold_stop_workflows
		SET status = $2, updated_at = $3, assigned_to = $4, escalation_level = $5,
			reviewed_by = $6, reviewed_at = $7, review_outcome = $8, review_notes = $9,
			released_by = $10, released_at = $11, release_notes = $12, metadata = $13,
			version = version + 1
		WHERE id = $1 AND version = $14
	`
	res, err := tx.ExecContext(ctx, query,
		wf.ID, string(wf.Status), wf.UpdatedAt, wf.AssignedTo, wf.EscalationLevel,
		wf.ReviewedBy, wf.ReviewedAt, string(wf.ReviewOutcome), wf.ReviewNotes,
		wf.ReleasedBy, wf.ReleasedAt, wf.ReleaseNotes, metadata,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists int
		scanErr := tx.QueryRowContext(ctx, `SELECT 1 FROM hold_stop_workflows WHERE id = $1`, wf.ID).Scan(&exists)
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = notFound(wf.ID)
			return err
		}
		err = versionConflict(wf.ID, expectedVersion)
		return err
	}

	if err = insertAction(ctx, tx, entry); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow: %w", err)
	}
	wf.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM hold_stop_workflows WHERE id = $1`

	wf, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Workflow, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.DeclarationID != "" {
		args = append(args, filter.DeclarationID)
		where = append(where, fmt.Sprintf("declaration_id = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + workflowColumns + ` FROM hold_stop_workflows`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []Workflow
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, *wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return workflows, nil
}

func (r *PostgresRepository) Actions(ctx context.Context, workflowID string) ([]ActionEntry, error) {
	query := `SELECT ` + actionColumns + ` FROM workflow_actions WHERE workflow_id = $1 ORDER BY timestamp ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow actions: %w", err)
	}
	defer rows.Close()

	var entries []ActionEntry
	for rows.Next() {
		entry, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow action: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	if len(entries) == 0 {
		if _, err := r.Get(ctx, workflowID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *PostgresRepository) LatestAction(ctx context.Context, workflowID string) (*ActionEntry, error) {
	query := `SELECT ` + actionColumns + ` FROM workflow_actions WHERE workflow_id = $1 ORDER BY timestamp DESC, id DESC LIMIT 1`

	entry, err := scanAction(r.db.QueryRowContext(ctx, query, workflowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundAction(workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest workflow action: %w", err)
	}
	return entry, nil
}

func insertAction(ctx context.Context, tx *sql.Tx, entry ActionEntry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO workflow_actions (` + actionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = tx.ExecContext(ctx, query,
		entry.ID, entry.WorkflowID, entry.DeclarationID, string(entry.Action),
		entry.PerformedBy, entry.Timestamp, entry.Notes, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to append workflow action: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	var (
		wf       Workflow
		metadata []byte
	)
	err := row.Scan(
		&wf.ID, &wf.DeclarationID, &wf.ActionType, &wf.Status, &wf.CreatedAt, &wf.UpdatedAt, &wf.ExpiresAt,
		&wf.CreatedBy, &wf.AssignedTo, &wf.Priority, &wf.Reason, &wf.PolicyVersion, pq.Array(&wf.RuleIDs), &wf.SLAMinutes,
		&wf.EscalationLevel, &wf.ReviewRequired, &wf.ReviewedBy, &wf.ReviewedAt, &wf.ReviewOutcome, &wf.ReviewNotes,
		&wf.ReleasedBy, &wf.ReleasedAt, &wf.ReleaseNotes, &metadata, &wf.Version,
	)
	if err != nil {
		return nil, err
	}
	if wf.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return &wf, nil
}

func scanAction(row rowScanner) (*ActionEntry, error) {
	var (
		entry    ActionEntry
		metadata []byte
	)
	err := row.Scan(
		&entry.ID, &entry.WorkflowID, &entry.DeclarationID, &entry.Action,
		&entry.PerformedBy, &entry.Timestamp, &entry.Notes, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if entry.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return &entry, nil
}

func marshalMetadata(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 || string(data) == "{}" || string(data) == "null" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

func queryStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
