package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/docusign-alternative/platform/realtime-service/internal/conflict"
	"github.com/docusign-alternative/platform/realtime-service/internal/event"
	"github.com/docusign-alternative/platform/realtime-service/internal/pubsub"
	"github.com/docusign-alternative/platform/realtime-service/internal/registry"
	"github.com/docusign-alternative/platform/realtime-service/pkg/logger"
	"github.com/docusign-alternative/platform/realtime-service/pkg/metrics"
)

var (
	ErrMissingOrganization = errors.New("organizationId is required")
	ErrMissingDocument     = errors.New("documentId is required")
	ErrMissingUser         = errors.New("userId is required")
)

// Metrics is the snapshot returned by the getMetrics surface.
type Metrics struct {
	Connections         int                        `json:"connections"`
	ConnectionsByKind   map[registry.Transport]int `json:"connectionsByTransport"`
	Subscriptions       int                        `json:"subscriptions"`
	EventsEmitted       int64                      `json:"eventsEmitted"`
	PropagationEnabled  bool                       `json:"propagationEnabled"`
	InstanceID          string                     `json:"instanceId,omitempty"`
	UptimeSeconds       int64                      `json:"uptimeSeconds"`
}

// Service is the event emission orchestrator: it builds typed events from
// domain calls, routes document updates through the conflict path, fans the
// result out through the registry on both transports and republishes on the
// shared channel when propagation is enabled.
type Service struct {
	reg    *registry.Registry
	res    *conflict.Resolver
	bridge *pubsub.Bridge // nil when cross-instance propagation is disabled

	started time.Time
	emitted atomic.Int64
}

// NewService wires the orchestrator. bridge may be nil for single-instance
// operation.
func NewService(reg *registry.Registry, res *conflict.Resolver, bridge *pubsub.Bridge) *Service {
	return &Service{reg: reg, res: res, bridge: bridge, started: time.Now().UTC()}
}

// StartBridge launches the background subscriber that re-delivers
// foreign-origin events to local connections only. No-op without a bridge.
func (s *Service) StartBridge(ctx context.Context) {
	if s.bridge == nil {
		return
	}
	go s.bridge.Listen(ctx, s.HandleRemote)
}

// HandleRemote delivers an externally-originated event to local connections.
// It never re-publishes.
func (s *Service) HandleRemote(ev *event.Event) {
	if ev == nil || !ev.Type.Valid() {
		return
	}
	s.deliverLocal(ev, predicateFor(ev))
}

// predicateFor returns the category-specific delivery predicate: notifications
// reach only their target user's connections, everything else falls back to
// the default organization predicate. Applied identically to local emits and
// to events arriving over the bridge.
func predicateFor(ev *event.Event) func(*registry.Connection) bool {
	if ev.Type == event.TypeNotification {
		return func(c *registry.Connection) bool {
			return c.OrganizationID == ev.OrganizationID && c.UserID == ev.UserID
		}
	}
	return nil
}

// EmitDocumentUpdate routes a document change set through conflict detection
// and broadcasts the update to the document's organization. When the change
// collided with a recent edit by another user, a conflict_detected event
// follows on the same targets.
func (s *Service) EmitDocumentUpdate(ctx context.Context, organizationID, userID, documentID string, changes map[string]any) error {
	if organizationID == "" {
		return ErrMissingOrganization
	}
	if documentID == "" {
		return ErrMissingDocument
	}
	if userID == "" {
		return ErrMissingUser
	}

	conflicts := s.res.DetectConflicts(documentID, changes, userID, time.Now().UTC())
	payload := map[string]any{
		"documentId": documentID,
		"changes":    changes,
		"version":    s.res.Version(documentID),
	}
	if len(conflicts) > 0 {
		payload["conflicts"] = conflicts
		metrics.ConflictsDetected.Add(float64(len(conflicts)))
	}
	s.emit(ctx, event.New(event.TypeDocumentUpdate, organizationID, userID, payload))

	if len(conflicts) > 0 {
		s.emit(ctx, event.New(event.TypeConflictDetected, organizationID, userID, map[string]any{
			"documentId": documentID,
			"conflicts":  conflicts,
		}))
	}
	return nil
}

// EmitSignatureStatusUpdate broadcasts a signing-request status change to the
// organization.
func (s *Service) EmitSignatureStatusUpdate(ctx context.Context, organizationID, userID, signingRequestID, documentID, status string) error {
	if organizationID == "" {
		return ErrMissingOrganization
	}
	if signingRequestID == "" {
		return errors.New("signingRequestId is required")
	}
	payload := map[string]any{
		"signingRequestId": signingRequestID,
		"status":           status,
	}
	if documentID != "" {
		payload["documentId"] = documentID
	}
	s.emit(ctx, event.New(event.TypeSignatureStatus, organizationID, userID, payload))
	return nil
}

// EmitNotification delivers a notification to the target user's connections
// only.
func (s *Service) EmitNotification(ctx context.Context, organizationID, targetUserID string, payload map[string]any) error {
	if organizationID == "" {
		return ErrMissingOrganization
	}
	if targetUserID == "" {
		return ErrMissingUser
	}
	s.emit(ctx, event.New(event.TypeNotification, organizationID, targetUserID, payload))
	return nil
}

// EmitUserPresence broadcasts a user's presence status (online, away, busy,
// offline) to all connections in the organization.
func (s *Service) EmitUserPresence(ctx context.Context, organizationID, userID, status string) error {
	if organizationID == "" {
		return ErrMissingOrganization
	}
	if userID == "" {
		return ErrMissingUser
	}
	s.emit(ctx, event.New(event.TypeUserPresence, organizationID, userID, map[string]any{
		"userId": userID,
		"status": status,
	}))
	return nil
}

// EmitOrganizationActivity broadcasts an activity record to the organization.
// Activities scoped to a team go out as team_update so team subscriptions can
// filter on them.
func (s *Service) EmitOrganizationActivity(ctx context.Context, organizationID, userID, teamID string, activity map[string]any) error {
	if organizationID == "" {
		return ErrMissingOrganization
	}
	payload := map[string]any{"activity": activity}
	typ := event.TypeOrganizationActivity
	if teamID != "" {
		typ = event.TypeTeamUpdate
		payload["teamId"] = teamID
	}
	s.emit(ctx, event.New(typ, organizationID, userID, payload))
	return nil
}

// ResolveConflicts applies a resolution strategy to a document's conflicts and
// announces the outcome to the organization.
func (s *Service) ResolveConflicts(ctx context.Context, organizationID, documentID string, conflicts []conflict.FieldConflict, strategy conflict.Strategy, resolvedBy string) (*conflict.Resolution, error) {
	if organizationID == "" {
		return nil, ErrMissingOrganization
	}
	res, err := s.res.ResolveConflicts(documentID, conflicts, strategy, resolvedBy)
	if err != nil {
		return nil, err
	}
	metrics.ResolutionsApplied.WithLabelValues(string(strategy)).Inc()
	s.emit(ctx, event.New(event.TypeConflictResolved, organizationID, resolvedBy, map[string]any{
		"documentId":   documentID,
		"conflictType": res.ConflictType,
		"resolution":   res.Strategy,
		"resolvedBy":   res.ResolvedBy,
	}))
	return res, nil
}

// ActiveConflicts returns the document's unresolved conflicts.
func (s *Service) ActiveConflicts(documentID string) []conflict.FieldConflict {
	return s.res.ActiveConflicts(documentID)
}

// ActiveResolution returns the document's current resolution, if any.
func (s *Service) ActiveResolution(documentID string) (*conflict.Resolution, bool) {
	return s.res.ActiveResolution(documentID)
}

// ClearConflicts drops a document's resolution and pending-change history.
func (s *Service) ClearConflicts(documentID string) {
	s.res.ClearResolved(documentID)
}

// ConflictStatistics snapshots the resolver's counters.
func (s *Service) ConflictStatistics() conflict.Statistics {
	return s.res.Statistics()
}

// GetMetrics snapshots the orchestrator's view of the process.
func (s *Service) GetMetrics() Metrics {
	m := Metrics{
		Connections:        s.reg.Count(),
		ConnectionsByKind:  s.reg.CountByTransport(),
		Subscriptions:      s.reg.SubscriptionCount(),
		EventsEmitted:      s.emitted.Load(),
		PropagationEnabled: s.bridge != nil,
		UptimeSeconds:      int64(time.Since(s.started).Seconds()),
	}
	if s.bridge != nil {
		m.InstanceID = s.bridge.InstanceID()
	}
	return m
}

// emit broadcasts with the event's category predicate and republishes.
func (s *Service) emit(ctx context.Context, ev *event.Event) {
	s.emitted.Add(1)
	predicate := predicateFor(ev)
	metrics.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	s.deliverLocal(ev, predicate)
	if s.bridge == nil {
		return
	}
	if err := s.bridge.Publish(ctx, ev); err != nil {
		// Cross-instance propagation is best-effort: log and move on.
		metrics.PublishFailures.Inc()
		logger.Warnf("publish of event %s failed: %v", ev.ID, err)
	}
}

func (s *Service) deliverLocal(ev *event.Event, predicate func(*registry.Connection) bool) {
	delivered := s.reg.Broadcast(ev, predicate)
	if delivered > 0 {
		metrics.EventsDelivered.Add(float64(delivered))
	}
}
