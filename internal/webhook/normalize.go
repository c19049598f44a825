// Package webhook verifies, logs, normalizes and applies provider webhooks.
package webhook

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"flint/internal/models"
)

// EventType is a canonical connection event.
type EventType string

// Canonical event types. NoOp covers every raw type without a mirror effect.
const (
	ConnectionAttempted EventType = "connection.attempted"
	ConnectionAdded     EventType = "connection.added"
	ConnectionUpdated   EventType = "connection.updated"
	ConnectionBroken    EventType = "connection.broken"
	ConnectionFixed     EventType = "connection.fixed"
	ConnectionDeleted   EventType = "connection.deleted"
	NoOp                EventType = "noop"
)

// rawTypes maps folded raw type spellings to canonical types. Keys are
// lowercase with separators removed, so "CONNECTION_BROKEN",
// "connection.broken" and "connectionBroken" share one entry.
var rawTypes = map[string]EventType{
	"connectionattempted":                ConnectionAttempted,
	"connectionadded":                    ConnectionAdded,
	"connectioncreated":                  ConnectionAdded,
	"brokerageauthorizationcreated":      ConnectionAdded,
	"connectionupdated":                  ConnectionUpdated,
	"connectionrefreshed":                ConnectionUpdated,
	"accountholdingsupdated":             ConnectionUpdated,
	"transactionsprocessed":              ConnectionUpdated,
	"connectionbroken":                   ConnectionBroken,
	"connectionfailed":                   ConnectionBroken,
	"brokerageauthorizationdisabled":     ConnectionBroken,
	"enrollmentdisconnected":             ConnectionBroken,
	"connectionfixed":                    ConnectionFixed,
	"connectionrepaired":                 ConnectionFixed,
	"brokerageauthorizationenabled":      ConnectionFixed,
	"connectiondeleted":                  ConnectionDeleted,
	"connectionremoved":                  ConnectionDeleted,
	"brokerageauthorizationdeleted":      ConnectionDeleted,
	"enrollmentdeleted":                  ConnectionDeleted,
	"webhooktest":                        NoOp,
	"accountnumberverificationprocessed": NoOp,
}

// Normalize maps a raw provider type to its canonical type. Unknown types
// map to NoOp and report false.
func Normalize(raw string) (EventType, bool) {
	t, ok := rawTypes[fold(raw)]
	if !ok {
		return NoOp, false
	}
	return t, true
}

func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Event is the provider-independent view of a delivery.
type Event struct {
	Provider        models.Provider
	ID              string
	RawType         string
	Type            EventType
	RemoteUserID    string
	AuthorizationID string
	BrokerName      string
}

// envelope covers the field spellings both providers and their API
// versions use. Teller nests the enrollment under "payload".
type envelope struct {
	ID        string `json:"id"`
	WebhookID string `json:"webhookId"`
	EventID   string `json:"event_id"`

	Type           string `json:"type"`
	EventType      string `json:"eventType"`
	EventTypeSnake string `json:"event_type"`

	UserID      string `json:"userId"`
	UserIDSnake string `json:"user_id"`

	AuthorizationID      string `json:"brokerageAuthorizationId"`
	AuthorizationIDSnake string `json:"brokerage_authorization_id"`
	AuthorizationIDShort string `json:"authorizationId"`
	ConnectionID         string `json:"connection_id"`
	EnrollmentID         string `json:"enrollment_id"`

	BrokerageName string `json:"brokerageName"`

	Payload *envelope `json:"payload"`
	Data    *envelope `json:"data"`
}

// Parse extracts the event fields from a webhook body. Type is left for
// the caller to normalize once the delivery is verified. Fields of an
// unexpected JSON type stay empty; only malformed JSON fails.
func Parse(p models.Provider, body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return Event{Provider: p}, err
		}
	}
	ev := Event{
		Provider:        p,
		ID:              first(env.ID, env.WebhookID, env.EventID),
		RawType:         first(env.Type, env.EventType, env.EventTypeSnake),
		RemoteUserID:    first(env.UserID, env.UserIDSnake),
		AuthorizationID: env.authorization(),
		BrokerName:      env.BrokerageName,
	}
	for _, nested := range []*envelope{env.Payload, env.Data} {
		if nested == nil {
			continue
		}
		ev.RemoteUserID = first(ev.RemoteUserID, nested.UserID, nested.UserIDSnake)
		ev.AuthorizationID = first(ev.AuthorizationID, nested.authorization())
		ev.BrokerName = first(ev.BrokerName, nested.BrokerageName)
	}
	return ev, nil
}

func (e *envelope) authorization() string {
	return first(e.AuthorizationID, e.AuthorizationIDSnake, e.AuthorizationIDShort, e.ConnectionID, e.EnrollmentID)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
