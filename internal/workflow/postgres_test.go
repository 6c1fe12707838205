package workflow

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revguard/internal/policy"
	apperrors "revguard/pkg/errors"
)

type anyArg struct{}

func (anyArg) Match(driver.Value) bool { return true }

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = anyArg{}
	}
	return args
}

var workflowColumnNames = []string{
	"id", "declaration_id", "action_type", "status", "created_at", "updated_at", "expires_at",
	"created_by", "assigned_to", "priority", "reason", "policy_version", "rule_ids", "sla_minutes",
	"escalation_level", "review_required", "reviewed_by", "reviewed_at", "review_outcome", "review_notes",
	"released_by", "released_at", "release_notes", "metadata", "version",
}

func sampleWorkflow() *Workflow {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	return &Workflow{
		ID:            "wf-1",
		DeclarationID: "DEC-1",
		ActionType:    policy.ActionHold,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(240 * time.Minute),
		CreatedBy:     "officer-1",
		Priority:      PriorityLow,
		RuleIDs:       []string{"undervaluation"},
		SLAMinutes:    240,
		Version:       1,
	}
}

func TestPostgresCreateWritesSnapshotAndAction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	wf := sampleWorkflow()
	entry := newEntry(wf, TagCreated, "officer-1", "", wf.CreatedAt, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO hold_stop_workflows").WithArgs(anyArgs(25)...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workflow_actions").WithArgs(anyArgs(8)...).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresRepository(db).Create(context.Background(), wf, entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateRollsBackOnActionFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	wf := sampleWorkflow()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO hold_stop_workflows").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workflow_actions").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = NewPostgresRepository(db).Create(context.Background(), wf, newEntry(wf, TagCreated, "x", "", wf.CreatedAt, nil))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateChecksVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	wf := sampleWorkflow()
	wf.Status = StatusReleased
	entry := newEntry(wf, TagReleased, "x", "", wf.CreatedAt, nil)
	update := regexp.QuoteMeta("UPDATE hold_stop_workflows")

	mock.ExpectBegin()
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workflow_actions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Update(context.Background(), wf, 1, entry))
	assert.Equal(t, 2, wf.Version)

	mock.ExpectBegin()
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM hold_stop_workflows").WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	err = repo.Update(context.Background(), wf, 1, entry)
	assert.True(t, apperrors.IsConflict(err))

	mock.ExpectBegin()
	mock.ExpectExec(update).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM hold_stop_workflows").WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	err = repo.Update(context.Background(), wf, 5, entry)
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	wf := sampleWorkflow()
	reviewedAt := wf.CreatedAt.Add(time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM hold_stop_workflows WHERE id = \\$1").WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows(workflowColumnNames).AddRow(
			wf.ID, wf.DeclarationID, "HOLD", "ESCALATED", wf.CreatedAt, wf.UpdatedAt, wf.ExpiresAt,
			wf.CreatedBy, "supervisor", "LOW", "", "1.0.0", "{undervaluation,composite-risk}", 240,
			1, false, "reviewer", reviewedAt, "NEEDS_MORE_INFO", "",
			"", nil, "", []byte(`{"source":"screening"}`), 3,
		))

	got, err := repo.Get(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, got.Status)
	assert.Equal(t, policy.ActionHold, got.ActionType)
	assert.Equal(t, []string{"undervaluation", "composite-risk"}, got.RuleIDs)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, reviewedAt.Equal(*got.ReviewedAt))
	assert.Nil(t, got.ReleasedAt)
	assert.Equal(t, "screening", got.Metadata["source"])
	assert.Equal(t, 3, got.Version)

	mock.ExpectQuery("SELECT (.+) FROM hold_stop_workflows WHERE id = \\$1").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(workflowColumnNames))

	_, err = repo.Get(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListBuildsFilter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE declaration_id = $1 AND status = ANY($2) ORDER BY created_at ASC, id ASC LIMIT $3")).
		WithArgs("DEC-1", anyArg{}, 10).
		WillReturnRows(sqlmock.NewRows(workflowColumnNames))

	workflows, err := NewPostgresRepository(db).List(context.Background(), ListFilter{
		DeclarationID: "DEC-1",
		Statuses:      []Status{StatusActive, StatusEscalated},
		Limit:         10,
	})
	require.NoError(t, err)
	assert.Empty(t, workflows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLatestAction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	columns := []string{"id", "workflow_id", "declaration_id", "action", "performed_by", "timestamp", "notes", "metadata"}

	mock.ExpectQuery("SELECT (.+) FROM workflow_actions WHERE workflow_id = \\$1 ORDER BY timestamp DESC").
		WithArgs("wf-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("a-2", "wf-1", "DEC-1", "ESCALATED", "officer-1", ts, "", []byte(`{"level":1}`)))

	entry, err := NewPostgresRepository(db).LatestAction(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, TagEscalated, entry.Action)
	assert.Equal(t, float64(1), entry.Metadata["level"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
