package template

import (
	"testing"
	"time"

	"github.com/congrega/flows/pkg/models"
	"github.com/stretchr/testify/assert"
)

func testContext() Context {
	dob := time.Date(1990, 7, 4, 0, 0, 0, 0, time.UTC)

	return Context{
		Record: &models.Record{
			ID: "r1", FirstName: "Maria", LastName: "Okafor", Email: "maria@example.org",
			Phone: "+15550100", DateOfBirth: &dob,
		},
		Event: &models.Event{
			Title: "Harvest Supper", Location: "Parish Hall",
			StartDate: time.Date(2026, 10, 3, 18, 30, 0, 0, time.UTC),
		},
		Organisation: &models.Organisation{ID: "t1", Name: "St. Brigid's"},
		WorkflowName: "Welcome series",
		Payload:      map[string]any{"amount": 25.5, "method": "card", "meta": map[string]any{"ref": "X1"}},
	}
}

func TestRender_Namespaces(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		input string
		want  string
	}{
		{"Hello {{member.firstName}}!", "Hello Maria!"},
		{"Hello {{ record.fullName }}", "Hello Maria Okafor"},
		{"{{member.first_name}} {{member.last_name}}", "Maria Okafor"},
		{"Born {{member.dateOfBirth}}", "Born July 4, 1990"},
		{"{{member.email}} / {{member.phone}}", "maria@example.org / +15550100"},
		{"{{event.title}} at {{event.location}}", "Harvest Supper at Parish Hall"},
		{"Starts {{event.startDate}}", "Starts Saturday, October 3, 2026 6:30 PM"},
		{"From {{organisation.name}} and {{organization.name}}", "From St. Brigid's and St. Brigid's"},
		{"[{{workflow.name}}]", "[Welcome series]"},
		{"Thanks for {{payload.amount}} by {{payload.method}} ({{payload.meta.ref}})", "Thanks for 25.5 by card (X1)"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.input, ctx))
		})
	}
}

func TestRender_UnresolvedPlaceholdersBecomeEmpty(t *testing.T) {
	ctx := Context{WorkflowName: "Reminder"}

	assert.Equal(t, "Dear , see you at !", Render("Dear {{member.firstName}}, see you at {{event.title}}!", ctx))
	assert.Equal(t, "x  y", Render("x {{unknown.field}} y", ctx))
	assert.Equal(t, "x  y", Render("x {{payload.missing}} y", ctx))
	assert.Equal(t, "x  y", Render("x {{payload.meta}} y", testContext()))
}

func TestRender_LeavesOtherTextIntact(t *testing.T) {
	ctx := testContext()

	assert.Equal(t, "No placeholders here", Render("No placeholders here", ctx))
	assert.Equal(t, "{{ not a token }} Maria", Render("{{ not a token }} {{member.firstName}}", ctx))
	assert.Equal(t, "", Render("", ctx))
	assert.Equal(t, "{{ . }} and {{member}}", Render("{{ . }} and {{member}}", ctx))
}

func TestNewContext(t *testing.T) {
	target := &models.Target{Record: &models.Record{FirstName: "Ada"}, Payload: map[string]any{"k": "v"}}

	ctx := NewContext(target, "wf")
	assert.Equal(t, "Ada wf v", Render("{{member.firstName}} {{workflow.name}} {{payload.k}}", ctx))

	assert.Equal(t, "wf", Render("{{workflow.name}}", NewContext(nil, "wf")))
}
