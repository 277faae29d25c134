// Package memory provides an in-process record store for development and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/congrega/flows/pkg/records"
)

// Seed is the on-disk layout accepted by Load.
type Seed struct {
	Organisations []*models.Organisation `json:"organisations"`
	Records       []*models.Record       `json:"records"`
	Events        []*models.Event        `json:"events"`
}

// Store keeps records, events and organisations in maps. Returned values are copies.
type Store struct {
	mu            sync.RWMutex
	records       map[string]*models.Record
	events        map[string]*models.Event
	organisations map[string]*models.Organisation
	changes       []records.StatusChange
}

func NewStore() *Store {
	return &Store{
		records:       map[string]*models.Record{},
		events:        map[string]*models.Event{},
		organisations: map[string]*models.Organisation{},
	}
}

// Load creates a store seeded from a JSON file.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record seed: %w", err)
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to decode record seed: %w", err)
	}

	store := NewStore()
	for _, o := range seed.Organisations {
		store.PutOrganisation(o)
	}

	for _, r := range seed.Records {
		store.PutRecord(r)
	}

	for _, e := range seed.Events {
		store.PutEvent(e)
	}

	return store, nil
}

func (s *Store) PutRecord(record *models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[record.ID] = copyRecord(record)
}

func (s *Store) PutEvent(event *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *event
	e.Attributes = maps.Clone(event.Attributes)
	s.events[event.ID] = &e
}

func (s *Store) PutOrganisation(organisation *models.Organisation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := *organisation
	s.organisations[organisation.ID] = &o
}

// Changes returns the recorded status changes in order.
func (s *Store) Changes() []records.StatusChange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.changes)
}

func (s *Store) Record(_ context.Context, scope models.Scope, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok || !scope.Owns(record.TenantID, record.SubTenantID) {
		return nil, records.ErrRecordNotFound
	}

	return copyRecord(record), nil
}

func (s *Store) Event(_ context.Context, scope models.Scope, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok || !scope.Owns(event.TenantID, event.SubTenantID) {
		return nil, records.ErrEventNotFound
	}

	e := *event

	return &e, nil
}

func (s *Store) Organisation(_ context.Context, tenantID string) (*models.Organisation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	organisation, ok := s.organisations[tenantID]
	if !ok {
		return nil, records.ErrOrganisationNotFound
	}

	o := *organisation

	return &o, nil
}

func (s *Store) UpdateRecordStatus(_ context.Context, scope models.Scope, change records.StatusChange) (string, error) {
	field, err := records.NormalizeStatusField(change.Field)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[change.RecordID]
	if !ok || !scope.Owns(record.TenantID, record.SubTenantID) {
		return "", records.ErrRecordNotFound
	}

	var previous string

	if field == "status" {
		previous = record.Status
		record.Status = change.Value
	} else {
		if record.Attributes == nil {
			record.Attributes = map[string]any{}
		}

		previous, _ = record.Attributes[field].(string)
		record.Attributes[field] = change.Value
	}

	change.Field = field
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now().UTC()
	}

	s.changes = append(s.changes, change)

	return previous, nil
}

func (s *Store) GroupMembers(_ context.Context, scope models.Scope, groupID string) ([]*models.Record, error) {
	return s.filter(scope, func(r *models.Record) bool {
		return slices.Contains(r.GroupIDs, groupID)
	}), nil
}

func (s *Store) ActiveRecords(_ context.Context, scope models.Scope) ([]*models.Record, error) {
	return s.filter(scope, func(r *models.Record) bool {
		return strings.EqualFold(r.Status, records.StatusActive)
	}), nil
}

func (s *Store) CountRecords(_ context.Context, scope models.Scope, status string) (int, error) {
	return len(s.filter(scope, func(r *models.Record) bool {
		return status == "" || strings.EqualFold(r.Status, status)
	})), nil
}

func (s *Store) ExpiringMemberships(_ context.Context, from, to time.Time) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Record

	for _, r := range s.records {
		if r.MembershipExpiresAt == nil {
			continue
		}

		if !r.MembershipExpiresAt.Before(from) && r.MembershipExpiresAt.Before(to) {
			result = append(result, copyRecord(r))
		}
	}

	sortRecords(result)

	return result, nil
}

func (s *Store) EventsStartingBetween(_ context.Context, from, to time.Time) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Event

	for _, e := range s.events {
		if !e.StartDate.Before(from) && e.StartDate.Before(to) {
			event := *e
			result = append(result, &event)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (s *Store) filter(scope models.Scope, match func(*models.Record) bool) []*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Record

	for _, r := range s.records {
		if scope.Owns(r.TenantID, r.SubTenantID) && match(r) {
			result = append(result, copyRecord(r))
		}
	}

	sortRecords(result)

	return result
}

func sortRecords(list []*models.Record) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

func copyRecord(record *models.Record) *models.Record {
	r := *record
	r.GroupIDs = slices.Clone(record.GroupIDs)
	r.Attributes = maps.Clone(record.Attributes)

	return &r
}
