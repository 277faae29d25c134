package sqlbase_test

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/congrega/flows/pkg/persistence/sqlbase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var migrations = map[int]string{
	1: "CREATE TABLE templates (id TEXT PRIMARY KEY)",
	2: "ALTER TABLE templates ADD COLUMN name TEXT",
	3: "CREATE INDEX idx_templates_name ON templates (name)",
}

func newManager(t *testing.T) (*sqlbase.MigrationManager, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return sqlbase.NewMigrationManager(slog.New(slog.DiscardHandler), db, "flows_schema_migrations", migrations), mock
}

func TestMigrationManager_AppliesPendingInOrder(t *testing.T) {
	manager, mock := newManager(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS flows_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM flows_schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

	for _, version := range []int{2, 3} {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(migrations[version])).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO flows_schema_migrations \(version\) VALUES \(\$1\)`).
			WithArgs(version).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	require.NoError(t, manager.RunMigrations(context.Background()))
	assert.Equal(t, 3, manager.LatestVersion())
}

func TestMigrationManager_UpToDate(t *testing.T) {
	manager, mock := newManager(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS flows_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE`).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	assert.NoError(t, manager.RunMigrations(context.Background()))
}

func TestMigrationManager_RollsBackFailedMigration(t *testing.T) {
	manager, mock := newManager(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS flows_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE`).WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE INDEX idx_templates_name`).WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	err := manager.RunMigrations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 3")
}
