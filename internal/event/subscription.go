package event

import (
	"slices"
	"time"
)

// SubscriptionType is the closed set of categories a connection may subscribe to.
type SubscriptionType string

const (
	SubDocumentUpdates      SubscriptionType = "document_updates"
	SubSigningUpdates       SubscriptionType = "signing_updates"
	SubNotifications        SubscriptionType = "notifications"
	SubOrganizationActivity SubscriptionType = "organization_activity"
	SubTeamUpdates          SubscriptionType = "team_updates"
	SubUserPresence         SubscriptionType = "user_presence"
	SubSystemAnnouncements  SubscriptionType = "system_announcements"
)

// Valid reports whether t is a known subscription type.
func (t SubscriptionType) Valid() bool {
	switch t {
	case SubDocumentUpdates, SubSigningUpdates, SubNotifications,
		SubOrganizationActivity, SubTeamUpdates, SubUserPresence,
		SubSystemAnnouncements:
		return true
	}
	return false
}

// Filter narrows a subscription to specific entities. Absent fields impose no
// constraint.
type Filter struct {
	DocumentID       string `json:"documentId,omitempty"`
	SigningRequestID string `json:"signingRequestId,omitempty"`
	TeamID           string `json:"teamId,omitempty"`
	UserID           string `json:"userId,omitempty"`
	EventTypes       []Type `json:"eventTypes,omitempty"`
}

// Subscription is owned by exactly one connection and dies with it.
type Subscription struct {
	ID             string           `json:"id"`
	Type           SubscriptionType `json:"type"`
	Filter         Filter           `json:"filter"`
	UserID         string           `json:"userId"`
	OrganizationID string           `json:"organizationId"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// Matches reports whether the event falls under this subscription: the
// subscription type must match the event's category and every filter field
// present must equal the corresponding attribute on the event.
func (s *Subscription) Matches(e *Event) bool {
	if s.Type != e.Type.SubscriptionType() {
		return false
	}
	f := s.Filter
	if f.DocumentID != "" && e.attr("documentId") != f.DocumentID {
		return false
	}
	if f.SigningRequestID != "" && e.attr("signingRequestId") != f.SigningRequestID {
		return false
	}
	if f.TeamID != "" && e.attr("teamId") != f.TeamID {
		return false
	}
	if f.UserID != "" && e.attr("userId") != f.UserID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.Type) {
		return false
	}
	return true
}
