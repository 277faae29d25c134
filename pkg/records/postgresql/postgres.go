// Package postgresql reads records, events and organisations from the organisation
// database and applies status updates with an audit row.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/persistence/sqlbase"
	"github.com/congrega/flows/pkg/records"
	"github.com/lib/pq"
)

// Store implements records.Store on PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore connects to databaseURL and ensures the record tables exist.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, "records_schema_migrations", migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewStoreWithDB(logger, database), nil
}

// NewStoreWithDB wraps an open database whose record tables already exist.
func NewStoreWithDB(logger *slog.Logger, database *sql.DB) *Store {
	return &Store{db: database, logger: logger.With("module", "records_postgresql")}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}

const recordColumns = `
	r.id
  , r.tenant_id
  , r.sub_tenant_id
  , r.first_name
  , r.last_name
  , r.email
  , r.phone
  , r.date_of_birth
  , r.status
  , r.membership_status
  , r.membership_expires_at
  , r.attributes
  , ARRAY(SELECT g.group_id FROM record_groups g WHERE g.record_id = r.id ORDER BY g.group_id)
`

const eventColumns = `
	id
  , tenant_id
  , sub_tenant_id
  , title
  , description
  , location
  , start_date
  , status
  , attributes
`

func (s *Store) Record(ctx context.Context, scope models.Scope, id string) (*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records r WHERE r.id = $1 AND r.tenant_id = $2
		AND ($3 = '' OR r.sub_tenant_id = $3)`

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id, scope.TenantID, scope.SubTenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, records.ErrRecordNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

func (s *Store) Event(ctx context.Context, scope models.Scope, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 AND tenant_id = $2
		AND ($3 = '' OR sub_tenant_id = $3)`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id, scope.TenantID, scope.SubTenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, records.ErrEventNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	return event, nil
}

func (s *Store) Organisation(ctx context.Context, tenantID string) (*models.Organisation, error) {
	var organisation models.Organisation

	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM organisations WHERE id = $1`, tenantID).
		Scan(&organisation.ID, &organisation.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, records.ErrOrganisationNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get organisation: %w", err)
	}

	return &organisation, nil
}

// UpdateRecordStatus updates the field and writes an audit row in one transaction.
func (s *Store) UpdateRecordStatus(ctx context.Context, scope models.Scope, change records.StatusChange) (string, error) {
	field, err := records.NormalizeStatusField(change.Field)
	if err != nil {
		return "", err
	}

	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.ErrorContext(ctx, "failed to rollback transaction", "error", err)
		}
	}()

	// field is one of records.StatusFields, never caller text.
	var previous string

	err = tx.QueryRowContext(ctx,
		`SELECT `+field+` FROM records WHERE id = $1 AND tenant_id = $2 AND ($3 = '' OR sub_tenant_id = $3) FOR UPDATE`,
		change.RecordID, scope.TenantID, scope.SubTenantID,
	).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return "", records.ErrRecordNotFound
	}

	if err != nil {
		return "", fmt.Errorf("failed to lock record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE records SET `+field+` = $1, updated_at = $2 WHERE id = $3`,
		change.Value, change.ChangedAt, change.RecordID); err != nil {
		return "", fmt.Errorf("failed to update record status: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO record_status_changes (record_id, field, previous_value, value, reason, execution_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		change.RecordID, field, previous, change.Value, change.Reason, change.ExecutionID, change.ChangedAt,
	); err != nil {
		return "", fmt.Errorf("failed to insert status audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	return previous, nil
}

func (s *Store) GroupMembers(ctx context.Context, scope models.Scope, groupID string) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records r
		JOIN record_groups rg ON rg.record_id = r.id AND rg.group_id = $3
		WHERE r.tenant_id = $1 AND ($2 = '' OR r.sub_tenant_id = $2)
		ORDER BY r.id`

	return s.queryRecords(ctx, query, scope.TenantID, scope.SubTenantID, groupID)
}

func (s *Store) ActiveRecords(ctx context.Context, scope models.Scope) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records r
		WHERE r.tenant_id = $1 AND ($2 = '' OR r.sub_tenant_id = $2) AND UPPER(r.status) = $3
		ORDER BY r.id`

	return s.queryRecords(ctx, query, scope.TenantID, scope.SubTenantID, records.StatusActive)
}

func (s *Store) CountRecords(ctx context.Context, scope models.Scope, status string) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records
		WHERE tenant_id = $1 AND ($2 = '' OR sub_tenant_id = $2) AND ($3 = '' OR UPPER(status) = UPPER($3))`,
		scope.TenantID, scope.SubTenantID, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}

func (s *Store) ExpiringMemberships(ctx context.Context, from, to time.Time) ([]*models.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records r
		WHERE r.membership_expires_at >= $1 AND r.membership_expires_at < $2
		ORDER BY r.tenant_id, r.id`

	return s.queryRecords(ctx, query, from, to)
}

func (s *Store) EventsStartingBetween(ctx context.Context, from, to time.Time) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE start_date >= $1 AND start_date < $2
		ORDER BY tenant_id, id`

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var events []*models.Event

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var result []*models.Record

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		result = append(result, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		record           models.Record
		dateOfBirth      sql.NullTime
		expiresAt        sql.NullTime
		membershipStatus string
		attributes       []byte
		groups           pq.StringArray
	)

	err := row.Scan(&record.ID, &record.TenantID, &record.SubTenantID, &record.FirstName, &record.LastName,
		&record.Email, &record.Phone, &dateOfBirth, &record.Status, &membershipStatus, &expiresAt,
		&attributes, &groups)
	if err != nil {
		return nil, err
	}

	if dateOfBirth.Valid {
		record.DateOfBirth = &dateOfBirth.Time
	}

	if expiresAt.Valid {
		record.MembershipExpiresAt = &expiresAt.Time
	}

	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &record.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode record attributes: %w", err)
		}
	}

	if membershipStatus != "" {
		if record.Attributes == nil {
			record.Attributes = map[string]any{}
		}

		record.Attributes["membership_status"] = membershipStatus
	}

	record.GroupIDs = groups

	return &record, nil
}

func scanEvent(row scanner) (*models.Event, error) {
	var (
		event      models.Event
		attributes []byte
	)

	err := row.Scan(&event.ID, &event.TenantID, &event.SubTenantID, &event.Title, &event.Description,
		&event.Location, &event.StartDate, &event.Status, &attributes)
	if err != nil {
		return nil, err
	}

	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &event.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode event attributes: %w", err)
		}
	}

	return &event, nil
}
