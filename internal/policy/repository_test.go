package policy

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "revguard/pkg/errors"
)

type anyValue struct{}

func (anyValue) Match(driver.Value) bool { return true }

func TestPostgresVersionRepositorySave(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresVersionRepository(db)
	v := &PackVersion{Pack: DefaultPack(), Diff: "+x", Action: "replace", ChangedBy: "officer-7"}

	mock.ExpectQuery("INSERT INTO policy_pack_versions").
		WithArgs(anyValue{}, DefaultPackID, DefaultPackVersion, anyValue{}, "+x", "replace", "officer-7", anyValue{}).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))

	require.NoError(t, repo.Save(context.Background(), v))
	assert.Equal(t, 5, v.Version)
	assert.NotEmpty(t, v.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVersionRepositoryLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresVersionRepository(db)
	doc, err := json.Marshal(DefaultPack())
	require.NoError(t, err)
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{"id", "version", "pack_document", "diff", "action", "changed_by", "created_at"}
	mock.ExpectQuery("SELECT (.+) FROM policy_pack_versions").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("v-1", 3, doc, "", "toggle", "officer-7", created))

	v, err := repo.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)
	assert.Equal(t, DefaultPackID, v.Pack.ID)
	assert.Len(t, v.Pack.Rules, 6)

	mock.ExpectQuery("SELECT (.+) FROM policy_pack_versions").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err = repo.Latest(context.Background())
	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresVersionRepositoryList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	doc, err := json.Marshal(&Pack{ID: "p", Version: "1"})
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM policy_pack_versions").
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "pack_document", "diff", "action", "changed_by", "created_at"}).
			AddRow("b", 2, doc, "d2", "toggle", "x", now).
			AddRow("a", 1, doc, "d1", "bootstrap", "system", now))

	versions, err := NewPostgresVersionRepository(db).List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, "bootstrap", versions[1].Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}
