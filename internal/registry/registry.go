package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/docusign-alternative/platform/realtime-service/internal/event"
	"github.com/docusign-alternative/platform/realtime-service/pkg/logger"
)

var (
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrInvalidSubscription = errors.New("invalid subscription type")
	ErrMissingIdentity     = errors.New("userId and organizationId are required")
	ErrMissingLink         = errors.New("transport link is required")
)

// Connection is one live client on either transport. The registry owns the
// struct; callers outside this package only see snapshots.
type Connection struct {
	ID             string
	UserID         string
	OrganizationID string
	Metadata       map[string]string
	CreatedAt      time.Time
	LastActivity   time.Time

	link Link
	subs map[string]*event.Subscription
}

// Transport returns the transport of the underlying link.
func (c *Connection) Transport() Transport { return c.link.Transport() }

// Subscriptions returns the connection's current subscriptions.
func (c *Connection) Subscriptions() []*event.Subscription {
	out := make([]*event.Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s)
	}
	return out
}

// wants implements the filtering rule: with no subscriptions every event that
// passed the broadcast predicate is delivered; with subscriptions at least one
// must match.
func (c *Connection) wants(ev *event.Event) bool {
	if len(c.subs) == 0 {
		return true
	}
	for _, s := range c.subs {
		if s.Matches(ev) {
			return true
		}
	}
	return false
}

// Observer receives connection lifecycle notifications. It replaces the
// callback-style notifications of earlier revisions and is part of the
// registry's public contract: ConnectionAdded fires after registration,
// ConnectionRemoved after the cascade completed.
type Observer interface {
	ConnectionAdded(c *Connection)
	ConnectionRemoved(c *Connection)
}

// NopObserver is the default Observer.
type NopObserver struct{}

func (NopObserver) ConnectionAdded(*Connection)   {}
func (NopObserver) ConnectionRemoved(*Connection) {}

// Options tunes the registry sweeps. Zero values fall back to the defaults
// below.
type Options struct {
	HeartbeatInterval time.Duration // cadence of the WebSocket liveness sweep
	SweepInterval     time.Duration // cadence of the staleness sweep
	StaleThreshold    time.Duration // inactivity after which a connection is dropped
	Observer          Observer
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultSweepInterval     = 30 * time.Second
	defaultStaleThreshold    = 5 * time.Minute
)

// Registry owns every live connection of this process, across both transports.
// All state is guarded by one mutex; there is no ambient access.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	heartbeatInterval time.Duration
	sweepInterval     time.Duration
	staleThreshold    time.Duration
	observer          Observer
}

func New(opts Options) *Registry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = defaultStaleThreshold
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	return &Registry{
		conns:             make(map[string]*Connection),
		heartbeatInterval: opts.HeartbeatInterval,
		sweepInterval:     opts.SweepInterval,
		staleThreshold:    opts.StaleThreshold,
		observer:          opts.Observer,
	}
}

// Add registers a new connection and returns its id (conn_<millis>_<random>).
func (r *Registry) Add(link Link, userID, organizationID string, metadata map[string]string) (string, error) {
	if link == nil {
		return "", ErrMissingLink
	}
	if userID == "" || organizationID == "" {
		return "", ErrMissingIdentity
	}
	now := time.Now().UTC()
	c := &Connection{
		ID:             newID("conn"),
		UserID:         userID,
		OrganizationID: organizationID,
		Metadata:       metadata,
		CreatedAt:      now,
		LastActivity:   now,
		link:           link,
		subs:           make(map[string]*event.Subscription),
	}
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
	logger.Debugf("connection %s added (user=%s org=%s transport=%s)", c.ID, userID, organizationID, link.Transport())
	r.observer.ConnectionAdded(c)
	return c.ID, nil
}

// Remove closes the connection's transport and drops all of its subscriptions.
// Idempotent: removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if !c.link.Closed() {
		_ = c.link.Close()
	}
	logger.Debugf("connection %s removed (user=%s, %d subscriptions dropped)", id, c.UserID, len(c.subs))
	r.observer.ConnectionRemoved(c)
}

// Subscribe attaches a subscription to a live connection and returns its id
// (sub_<millis>_<random>). The owning user/organization are taken from the
// connection, not from the caller.
func (r *Registry) Subscribe(connectionID string, typ event.SubscriptionType, filter event.Filter) (string, error) {
	if !typ.Valid() {
		return "", ErrInvalidSubscription
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connectionID]
	if !ok {
		return "", ErrConnectionNotFound
	}
	sub := &event.Subscription{
		ID:             newID("sub"),
		Type:           typ,
		Filter:         filter,
		UserID:         c.UserID,
		OrganizationID: c.OrganizationID,
		CreatedAt:      time.Now().UTC(),
	}
	c.subs[sub.ID] = sub
	c.LastActivity = time.Now().UTC()
	return sub.ID, nil
}

// Unsubscribe removes one subscription. No-op on unknown connection or
// subscription ids.
func (r *Registry) Unsubscribe(connectionID, subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connectionID]; ok {
		delete(c.subs, subscriptionID)
	}
}

// Touch records client activity (ping frames, pong responses).
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connectionID]; ok {
		c.LastActivity = time.Now().UTC()
	}
}

// Broadcast delivers the event to every connection for which the predicate
// holds and whose subscriptions accept it. The default predicate matches the
// event's organization. A write failure on one connection removes that
// connection and never aborts delivery to the rest. Returns the number of
// connections the event was handed to.
func (r *Registry) Broadcast(ev *event.Event, predicate func(*Connection) bool) int {
	if predicate == nil {
		predicate = func(c *Connection) bool { return c.OrganizationID == ev.OrganizationID }
	}
	// Snapshot under the read lock so a Remove racing with the fan-out simply
	// results in a failed (and ignored) write to an already-closed link.
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if predicate(c) && c.wants(ev) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.link.Send(ev); err != nil {
			logger.Warnf("send to connection %s failed, removing: %v", c.ID, err)
			r.Remove(c.ID)
			continue
		}
		delivered++
		r.Touch(c.ID)
	}
	return delivered
}

// ConnectionsForUser returns snapshots of the user's live connections.
// Linear scan; fine at current scale, index by user if fan-in grows.
func (r *Registry) ConnectionsForUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, c := range r.conns {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

// ConnectionsForOrganization returns snapshots of an organization's live connections.
func (r *Registry) ConnectionsForOrganization(organizationID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, c := range r.conns {
		if c.OrganizationID == organizationID {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByTransport returns live connection counts per transport.
func (r *Registry) CountByTransport() map[Transport]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[Transport]int{TransportWebSocket: 0, TransportSSE: 0}
	for _, c := range r.conns {
		out[c.link.Transport()]++
	}
	return out
}

// SubscriptionCount returns the number of live subscriptions across all connections.
func (r *Registry) SubscriptionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.conns {
		n += len(c.subs)
	}
	return n
}

// Start launches the periodic sweeps and blocks until ctx is cancelled:
// a liveness sweep that pings WebSocket links, and a staleness sweep that
// removes closed or inactive connections and keep-alives the SSE survivors.
// Run it on its own goroutine.
func (r *Registry) Start(ctx context.Context) {
	heartbeat := time.NewTicker(r.heartbeatInterval)
	sweep := time.NewTicker(r.sweepInterval)
	defer heartbeat.Stop()
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			r.pingWebSockets()
		case <-sweep.C:
			r.sweepStale()
		}
	}
}

func (r *Registry) pingWebSockets() {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.link.Transport() == TransportWebSocket {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()
	for _, c := range targets {
		if err := c.link.Ping(); err != nil {
			logger.Debugf("liveness ping to %s failed, removing: %v", c.ID, err)
			r.Remove(c.ID)
		} else {
			r.Touch(c.ID)
		}
	}
}

func (r *Registry) sweepStale() {
	cutoff := time.Now().UTC().Add(-r.staleThreshold)
	r.mu.RLock()
	var stale []*Connection
	var alive []*Connection
	for _, c := range r.conns {
		if c.link.Closed() || c.LastActivity.Before(cutoff) {
			stale = append(stale, c)
		} else {
			alive = append(alive, c)
		}
	}
	r.mu.RUnlock()
	for _, c := range stale {
		logger.Infof("sweeping stale connection %s (last activity %s)", c.ID, c.LastActivity.Format(time.RFC3339))
		r.Remove(c.ID)
	}
	// Keep-alive for the streaming transport; WebSocket links are covered by
	// the liveness ping.
	for _, c := range alive {
		if c.link.Transport() != TransportSSE {
			continue
		}
		if err := c.link.Ping(); err != nil {
			logger.Debugf("keep-alive to %s failed, removing: %v", c.ID, err)
			r.Remove(c.ID)
		} else {
			r.Touch(c.ID)
		}
	}
}
