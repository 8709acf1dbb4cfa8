package actions

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/asis/internal/shared"
)

const (
	idType    = `{"type": ["integer", "string", "null"], "pattern": "^[0-9]+$", "minimum": 1}`
	numType   = `{"type": ["number", "string", "null"]}`
	strType   = `{"type": ["string", "null"]}`
	boolType  = `{"type": ["boolean", "string", "null"]}`
	emailType = `{"type": ["string", "null"], "maxLength": 254}`
)

func object(props map[string]string) string {
	var b strings.Builder
	b.WriteString(`{"type": "object", "properties": {`)
	first := true
	for _, k := range slices.Sorted(maps.Keys(props)) {
		if !first {
			b.WriteString(",")
		}
		first = false
		fmt.Fprintf(&b, "%q: %s", k, props[k])
	}
	b.WriteString(`}}`)
	return b.String()
}

var meetingTimeProps = map[string]string{
	"title":            strType,
	"description":      strType,
	"start_time":       strType,
	"end_time":         strType,
	"date":             strType,
	"time":             strType,
	"duration_minutes": numType,
}

// payloadSchemas holds the JSON Schema each payload object must satisfy.
// Required fields are checked by the handlers so their errors stay localized.
var payloadSchemas = map[Intent]string{
	AddTask: object(map[string]string{
		"title":       strType,
		"description": strType,
		"due_date":    strType,
		"priority":    `{"type": ["integer", "string", "null"]}`,
		"category":    strType,
	}),
	ListTasks: object(map[string]string{
		"category": strType,
		"today":    boolType,
	}),
	CompleteTask: object(map[string]string{"task_id": idType, "task_title": strType}),
	DeleteTask:   object(map[string]string{"task_id": idType, "task_title": strType}),
	AddShoppingItem: object(map[string]string{
		"name":     strType,
		"quantity": numType,
		"category": strType,
		"notes":    strType,
		"price":    numType,
	}),
	ListShopping: object(map[string]string{"category": strType}),
	RemoveShoppingItem: object(map[string]string{
		"item_id":   idType,
		"item_name": strType,
		"purchased": boolType,
	}),
	SendEmail: object(map[string]string{
		"to":      emailType,
		"subject": strType,
		"body":    strType,
	}),
	ReadEmails:     object(map[string]string{"count": `{"type": ["integer", "string"], "minimum": 1, "maximum": 50}`}),
	ReadLastEmail:  object(nil),
	SearchEmails:   object(map[string]string{"query": strType}),
	SummarizeEmail: object(map[string]string{"index": `{"type": ["integer", "string"], "minimum": 1}`}),
	SearchInternet: object(map[string]string{"query": strType}),
	ScheduleMeeting: object(merge(meetingTimeProps, map[string]string{
		"attendee_email":   emailType,
		"attendee_name":    strType,
		"reminder_hours":   numType,
		"reminder_minutes": numType,
	})),
	AddCalendarEvent:   object(meetingTimeProps),
	ListCalendarEvents: object(nil),
	CancelCalendarEvent: object(map[string]string{
		"event_id":          idType,
		"google_event_id":   strType,
		"external_event_id": strType,
		"title":             strType,
	}),
}

func merge(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Validator checks payload objects against the per-intent schemas.
type Validator struct {
	schemas map[Intent]*jsonschema.Schema
}

// NewValidator compiles every intent schema. It fails when an intent has no
// schema, so the registry and the schema set cannot drift apart.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	v := &Validator{schemas: make(map[Intent]*jsonschema.Schema, len(allIntents))}
	for _, in := range allIntents {
		src, ok := payloadSchemas[in]
		if !ok {
			return nil, fmt.Errorf("no payload schema for intent %q", in)
		}
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", in, err)
		}
		url := "asis://payload/" + string(in) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", in, err)
		}
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", in, err)
		}
		v.schemas[in] = s
	}
	return v, nil
}

// Validate checks each payload object. Failures are ValidationErrors.
func (v *Validator) Validate(in Intent, p Payload) error {
	s, ok := v.schemas[in]
	if !ok {
		return shared.UnknownIntent(string(in))
	}
	for i, a := range p.Items() {
		if err := s.Validate(map[string]any(a)); err != nil {
			where := ""
			if p.Mode() == Batch {
				where = fmt.Sprintf(" (elementul %d)", i+1)
			}
			return shared.Validation("Date invalide pentru %s%s: %s", in, where, schemaMessage(err))
		}
	}
	return nil
}

// schemaMessage flattens a multi-line validation error into one line,
// dropping the schema URL header.
func schemaMessage(err error) string {
	lines := strings.Split(err.Error(), "\n")
	if len(lines) == 1 {
		return lines[0]
	}
	var parts []string
	for _, l := range lines[1:] {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "- ")
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "; ")
}
