package event

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Type is the closed category of realtime events this core emits.
type Type string

const (
	TypeDocumentUpdate       Type = "document_update"
	TypeSignatureStatus      Type = "signature_status"
	TypeNotification         Type = "notification"
	TypeUserPresence         Type = "user_presence"
	TypeOrganizationActivity Type = "organization_activity"
	TypeTeamUpdate           Type = "team_update"
	TypeSystemAnnouncement   Type = "system_announcement"
	TypeConflictDetected     Type = "conflict_detected"
	TypeConflictResolved     Type = "conflict_resolved"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeDocumentUpdate, TypeSignatureStatus, TypeNotification,
		TypeUserPresence, TypeOrganizationActivity, TypeTeamUpdate,
		TypeSystemAnnouncement, TypeConflictDetected, TypeConflictResolved:
		return true
	}
	return false
}

// SubscriptionType returns the subscription category that carries events of
// this type. Conflict events ride the document_updates category because they
// always concern a specific document.
func (t Type) SubscriptionType() SubscriptionType {
	switch t {
	case TypeDocumentUpdate, TypeConflictDetected, TypeConflictResolved:
		return SubDocumentUpdates
	case TypeSignatureStatus:
		return SubSigningUpdates
	case TypeNotification:
		return SubNotifications
	case TypeUserPresence:
		return SubUserPresence
	case TypeOrganizationActivity:
		return SubOrganizationActivity
	case TypeTeamUpdate:
		return SubTeamUpdates
	case TypeSystemAnnouncement:
		return SubSystemAnnouncements
	}
	return ""
}

// Event is a single realtime notification. Events are transient: they exist
// only for the duration of a broadcast and are never persisted.
type Event struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	Payload        map[string]any `json:"payload"`
	UserID         string         `json:"userId,omitempty"`
	OrganizationID string         `json:"organizationId"`
	Timestamp      time.Time      `json:"timestamp"`
}

// New builds an event with a fresh ULID id and a UTC timestamp.
func New(t Type, organizationID, userID string, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{
		ID:             ulid.Make().String(),
		Type:           t,
		Payload:        payload,
		UserID:         userID,
		OrganizationID: organizationID,
		Timestamp:      time.Now().UTC(),
	}
}

// attr looks up a string attribute of the event: the identity fields first,
// then the payload.
func (e *Event) attr(key string) string {
	switch key {
	case "userId":
		if e.UserID != "" {
			return e.UserID
		}
	case "organizationId":
		return e.OrganizationID
	}
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
