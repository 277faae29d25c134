package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/records"
	"github.com/congrega/flows/pkg/records/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupStore(t *testing.T) (*postgresql.Store, *sql.DB, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("records_test"),
		postgres.WithUsername("flows"),
		postgres.WithPassword("flows"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	databaseURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewStore(ctx, logger, databaseURL)
	require.NoError(t, err)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
		require.NoError(t, store.Close())
	})

	seed := []string{
		`INSERT INTO organisations (id, name) VALUES ('t1', 'St. Brigid''s')`,
		`INSERT INTO records (id, tenant_id, first_name, last_name, email, status, membership_expires_at, attributes)
			VALUES ('r1', 't1', 'Ada', 'Lovelace', 'ada@example.org', 'ACTIVE', '2026-04-09T12:00:00Z', '{"category": "gold"}')`,
		`INSERT INTO records (id, tenant_id, sub_tenant_id, first_name, status)
			VALUES ('r2', 't1', 'north', 'Ben', 'INACTIVE')`,
		`INSERT INTO records (id, tenant_id, first_name, status) VALUES ('r3', 't2', 'Cy', 'ACTIVE')`,
		`INSERT INTO record_groups (group_id, record_id) VALUES ('choir', 'r1'), ('choir', 'r2')`,
		`INSERT INTO events (id, tenant_id, title, start_date) VALUES ('e1', 't1', 'Supper', '2026-03-11T18:00:00Z')`,
	}

	for _, statement := range seed {
		_, err := db.ExecContext(ctx, statement)
		require.NoError(t, err)
	}

	return store, db, ctx
}

func TestStore(t *testing.T) {
	store, db, ctx := setupStore(t)
	scope := models.Scope{TenantID: "t1"}

	record, err := store.Record(ctx, scope, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", record.FullName())
	assert.Equal(t, "gold", record.Attributes["category"])
	assert.Equal(t, []string{"choir"}, record.GroupIDs)

	_, err = store.Record(ctx, models.Scope{TenantID: "t2"}, "r1")
	assert.ErrorIs(t, err, records.ErrRecordNotFound)

	_, err = store.Record(ctx, models.Scope{TenantID: "t1", SubTenantID: "south"}, "r2")
	assert.ErrorIs(t, err, records.ErrRecordNotFound)

	event, err := store.Event(ctx, scope, "e1")
	require.NoError(t, err)
	assert.Equal(t, "Supper", event.Title)

	organisation, err := store.Organisation(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "St. Brigid's", organisation.Name)

	_, err = store.Organisation(ctx, "t9")
	assert.ErrorIs(t, err, records.ErrOrganisationNotFound)

	members, err := store.GroupMembers(ctx, scope, "choir")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	active, err := store.ActiveRecords(ctx, scope)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "r1", active[0].ID)

	count, err := store.CountRecords(ctx, scope, "inactive")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expiring, err := store.ExpiringMemberships(ctx,
		time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, expiring, 1)

	events, err := store.EventsStartingBetween(ctx,
		time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, events, 1)

	previous, err := store.UpdateRecordStatus(ctx, scope, records.StatusChange{
		RecordID: "r1", Value: "LAPSED", Reason: "membership lapsed", ExecutionID: "exec-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", previous)

	record, err = store.Record(ctx, scope, "r1")
	require.NoError(t, err)
	assert.Equal(t, "LAPSED", record.Status)

	var audits int

	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM record_status_changes WHERE record_id = 'r1' AND execution_id = 'exec-1'`).Scan(&audits))
	assert.Equal(t, 1, audits)

	_, err = store.UpdateRecordStatus(ctx, scope, records.StatusChange{RecordID: "r1", Field: "email", Value: "x"})
	assert.ErrorIs(t, err, records.ErrUnknownStatusField)
}
