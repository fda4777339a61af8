package outbox

import (
	"fmt"

	"example.com/worktrack/internal/platform/events"
)

// Route describes where an event type is published and which schema it carries.
type Route struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var catalog = map[string]Route{
	events.TypeActivityIngested: {
		Topic:         "activity_events",
		SchemaSubject: "activity_events-value",
		Schema:        activityIngestedSchema,
	},
	events.TypeTimeEntryStarted: {
		Topic:         "time_entry_events",
		SchemaSubject: "time_entry_events-value",
		Schema:        timeEntryChangedSchema,
	},
	events.TypeTimeEntryStopped: {
		Topic:         "time_entry_events",
		SchemaSubject: "time_entry_events-value",
		Schema:        timeEntryChangedSchema,
	},
	events.TypeScreenshotUploaded: {
		Topic:         "screenshot_events",
		SchemaSubject: "screenshot_events-value",
		Schema:        screenshotUploadedSchema,
	},
	events.TypePolicyUpdated: {
		Topic:         "policy_events",
		SchemaSubject: "policy_events-value",
		Schema:        policyUpdatedSchema,
	},
	events.TypeMembershipUpdated: {
		Topic:         "membership_events",
		SchemaSubject: "membership_events-value",
		Schema:        membershipUpdatedSchema,
	},
}

// Lookup returns the route for eventType.
func Lookup(eventType string) (Route, error) {
	route, ok := catalog[eventType]
	if !ok {
		return Route{}, fmt.Errorf("unknown event type: %s", eventType)
	}
	return route, nil
}

// Topics lists every distinct topic in the catalog.
func Topics() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, route := range catalog {
		if _, ok := seen[route.Topic]; ok {
			continue
		}
		seen[route.Topic] = struct{}{}
		topics = append(topics, route.Topic)
	}
	return topics
}

const activityIngestedSchema = `{
  "type": "object",
  "title": "ActivityIngested",
  "properties": {
    "batch_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "event_count": {"type": "integer", "minimum": 1},
    "first_start": {"type": "string", "format": "date-time"},
    "last_end": {"type": "string", "format": "date-time"}
  },
  "required": ["batch_id", "tenant_id", "user_id", "event_count", "first_start", "last_end"],
  "additionalProperties": false
}`

const timeEntryChangedSchema = `{
  "type": "object",
  "title": "TimeEntryChanged",
  "properties": {
    "entry_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "device_id": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "ended_at": {"type": "string", "format": "date-time"},
    "source": {"type": "string"}
  },
  "required": ["entry_id", "tenant_id", "user_id", "started_at", "source"],
  "additionalProperties": false
}`

const screenshotUploadedSchema = `{
  "type": "object",
  "title": "ScreenshotUploaded",
  "properties": {
    "screenshot_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "user_id": {"type": "string"},
    "storage_key": {"type": "string"},
    "size_bytes": {"type": "integer", "minimum": 0},
    "taken_at": {"type": "string", "format": "date-time"}
  },
  "required": ["screenshot_id", "tenant_id", "user_id", "storage_key", "taken_at"],
  "additionalProperties": false
}`

const policyUpdatedSchema = `{
  "type": "object",
  "title": "PolicyUpdated",
  "properties": {
    "tenant_id": {"type": "string"},
    "actor_user_id": {"type": "string"},
    "policy": {"type": "string", "enum": ["retention", "capture"]},
    "subject_id": {"type": "string"},
    "values": {"type": "object"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "actor_user_id", "policy", "subject_id", "values", "occurred_at"],
  "additionalProperties": false
}`

const membershipUpdatedSchema = `{
  "type": "object",
  "title": "MembershipUpdated",
  "properties": {
    "tenant_id": {"type": "string"},
    "actor_user_id": {"type": "string"},
    "user_id": {"type": "string"},
    "role": {"type": "string", "enum": ["owner", "admin", "manager", "auditor", "employee"]},
    "can_view_own_history": {"type": "boolean"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "actor_user_id", "user_id", "role", "can_view_own_history", "occurred_at"],
  "additionalProperties": false
}`
