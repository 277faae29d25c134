package models

import (
	"maps"
	"strings"
	"time"
)

// Record is a person-like entity (a member) owned by a tenant.
type Record struct {
	ID                  string         `json:"id"`
	TenantID            string         `json:"tenant_id"`
	SubTenantID         string         `json:"sub_tenant_id,omitempty"`
	FirstName           string         `json:"first_name"`
	LastName            string         `json:"last_name"`
	Email               string         `json:"email,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	DateOfBirth         *time.Time     `json:"date_of_birth,omitempty"`
	Status              string         `json:"status"`
	MembershipExpiresAt *time.Time     `json:"membership_expires_at,omitempty"`
	GroupIDs            []string       `json:"group_ids,omitempty"`
	Attributes          map[string]any `json:"attributes,omitempty"`
}

// FullName joins the non-empty name parts.
func (r *Record) FullName() string {
	return strings.TrimSpace(strings.Join([]string{r.FirstName, r.LastName}, " "))
}

// Event is a scheduled gathering owned by a tenant.
type Event struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	SubTenantID string         `json:"sub_tenant_id,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location,omitempty"`
	StartDate   time.Time      `json:"start_date"`
	Status      string         `json:"status,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Organisation is the tenant itself.
type Organisation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Target is the snapshot an execution's actions act upon, loaded fresh at each step.
type Target struct {
	Record       *Record
	Event        *Event
	Organisation *Organisation
	Payload      map[string]any
}

// Attributes flattens the target into a field map for condition evaluation.
// Payload keys win over record fields, which win over custom record attributes.
// The nested record, event, organisation and payload maps are also present.
func (t *Target) Attributes(now time.Time) map[string]any {
	attrs := map[string]any{}

	if t.Record != nil {
		record := recordAttributes(t.Record, now)
		maps.Copy(attrs, t.Record.Attributes)
		maps.Copy(attrs, record)
		attrs["record"] = record
	}

	if t.Event != nil {
		attrs["event"] = eventAttributes(t.Event)
	}

	if t.Organisation != nil {
		attrs["organisation"] = map[string]any{"id": t.Organisation.ID, "name": t.Organisation.Name}
	}

	maps.Copy(attrs, t.Payload)

	payload := map[string]any{}
	maps.Copy(payload, t.Payload)
	attrs["payload"] = payload

	return attrs
}

func recordAttributes(r *Record, now time.Time) map[string]any {
	attrs := map[string]any{}
	maps.Copy(attrs, r.Attributes)

	attrs["id"] = r.ID
	attrs["first_name"] = r.FirstName
	attrs["last_name"] = r.LastName
	attrs["full_name"] = r.FullName()
	attrs["email"] = r.Email
	attrs["phone"] = r.Phone
	attrs["status"] = r.Status

	if r.DateOfBirth != nil {
		attrs["date_of_birth"] = r.DateOfBirth.Format(time.DateOnly)
		attrs["age"] = float64(ageAt(*r.DateOfBirth, now))
	}

	if r.MembershipExpiresAt != nil {
		attrs["membership_expires_at"] = r.MembershipExpiresAt.Format(time.RFC3339)
		attrs["days_until_expiry"] = float64(int(r.MembershipExpiresAt.Sub(now).Hours() / 24))
	}

	return attrs
}

func eventAttributes(e *Event) map[string]any {
	attrs := map[string]any{}
	maps.Copy(attrs, e.Attributes)

	attrs["id"] = e.ID
	attrs["title"] = e.Title
	attrs["description"] = e.Description
	attrs["location"] = e.Location
	attrs["start_date"] = e.StartDate.Format(time.RFC3339)
	attrs["status"] = e.Status

	return attrs
}

func ageAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}

	return age
}

// Recipient is a resolved contact a message can be delivered to.
type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// RecipientFromRecord converts a record to a recipient.
func RecipientFromRecord(r *Record) Recipient {
	return Recipient{ID: r.ID, Name: r.FullName(), Email: r.Email, Phone: r.Phone}
}
