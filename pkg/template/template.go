// Package template personalises message content by substituting {{namespace.field}}
// placeholders with values from the execution's target.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/congrega/flows/pkg/models"
)

const (
	DateOfBirthLayout = "January 2, 2006"
	EventStartLayout  = "Monday, January 2, 2006 3:04 PM"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z0-9_.\-]+)\s*\}\}`)

// Context holds the values placeholders resolve against. Every part is optional.
type Context struct {
	Record       *models.Record
	Event        *models.Event
	Organisation *models.Organisation
	WorkflowName string
	Payload      map[string]any
}

// NewContext builds a rendering context from a target snapshot.
func NewContext(target *models.Target, workflowName string) Context {
	if target == nil {
		return Context{WorkflowName: workflowName}
	}

	return Context{
		Record:       target.Record,
		Event:        target.Event,
		Organisation: target.Organisation,
		WorkflowName: workflowName,
		Payload:      target.Payload,
	}
}

// Render replaces every placeholder in content. Unresolved placeholders become "".
func Render(content string, ctx Context) string {
	if !strings.Contains(content, "{{") {
		return content
	}

	return placeholder.ReplaceAllStringFunc(content, func(token string) string {
		match := placeholder.FindStringSubmatch(token)

		return ctx.resolve(strings.ToLower(match[1]), match[2])
	})
}

func (c Context) resolve(namespace, field string) string {
	switch namespace {
	case "member", "record":
		return c.recordField(normalize(field))
	case "event":
		return c.eventField(normalize(field))
	case "organisation", "organization", "org":
		if c.Organisation != nil && normalize(field) == "name" {
			return c.Organisation.Name
		}
	case "workflow":
		if normalize(field) == "name" {
			return c.WorkflowName
		}
	case "payload":
		return payloadField(c.Payload, field)
	}

	return ""
}

func (c Context) recordField(field string) string {
	r := c.Record
	if r == nil {
		return ""
	}

	switch field {
	case "firstname":
		return r.FirstName
	case "lastname":
		return r.LastName
	case "fullname", "name":
		return r.FullName()
	case "email":
		return r.Email
	case "phone":
		return r.Phone
	case "status":
		return r.Status
	case "dateofbirth", "dob":
		if r.DateOfBirth != nil {
			return r.DateOfBirth.Format(DateOfBirthLayout)
		}
	case "membershipexpiresat", "expirydate":
		if r.MembershipExpiresAt != nil {
			return r.MembershipExpiresAt.Format(DateOfBirthLayout)
		}
	}

	return ""
}

func (c Context) eventField(field string) string {
	e := c.Event
	if e == nil {
		return ""
	}

	switch field {
	case "title", "name":
		return e.Title
	case "description":
		return e.Description
	case "location":
		return e.Location
	case "startdate", "date":
		if !e.StartDate.IsZero() {
			return e.StartDate.Format(EventStartLayout)
		}
	}

	return ""
}

func payloadField(payload map[string]any, path string) string {
	var current any = payload

	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}

		current = m[part]
	}

	return scalar(current)
}

func scalar(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case int, int64, int32:
		return fmt.Sprintf("%d", v)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func normalize(field string) string {
	return strings.ToLower(strings.ReplaceAll(field, "_", ""))
}
