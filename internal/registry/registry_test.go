package registry

import (
	"fmt"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docusign-alternative/platform/realtime-service/internal/event"
)

// fakeLink records deliveries instead of writing to a socket.
type fakeLink struct {
	transport Transport
	mu        sync.Mutex
	events    []*event.Event
	pings     int
	closed    bool
	failSend  bool
	failPing  bool
}

func newFakeLink(t Transport) *fakeLink { return &fakeLink{transport: t} }

func (l *fakeLink) Transport() Transport { return l.transport }

func (l *fakeLink) Send(ev *event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failSend || l.closed {
		return fmt.Errorf("write failed")
	}
	l.events = append(l.events, ev)
	return nil
}

func (l *fakeLink) Ping() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failPing || l.closed {
		return fmt.Errorf("ping failed")
	}
	l.pings++
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) received() []*event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*event.Event, len(l.events))
	copy(out, l.events)
	return out
}

func TestAdd_UniqueIDsMatchingGrammar(t *testing.T) {
	r := New(Options{})
	idPattern := regexp.MustCompile(`^conn_\d+_[0-9a-f]+$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := r.Add(newFakeLink(TransportWebSocket), "user-1", "org-1", nil)
		require.NoError(t, err)
		require.Regexp(t, idPattern, id)
		require.False(t, seen[id], "duplicate connection id %s", id)
		seen[id] = true
	}
	require.Equal(t, 100, r.Count())
}

func TestAdd_RequiresIdentityAndLink(t *testing.T) {
	r := New(Options{})
	_, err := r.Add(nil, "user-1", "org-1", nil)
	require.ErrorIs(t, err, ErrMissingLink)
	_, err = r.Add(newFakeLink(TransportSSE), "", "org-1", nil)
	require.ErrorIs(t, err, ErrMissingIdentity)
	_, err = r.Add(newFakeLink(TransportSSE), "user-1", "", nil)
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestRemove_CascadesAndIsIdempotent(t *testing.T) {
	r := New(Options{})
	link := newFakeLink(TransportWebSocket)
	id, err := r.Add(link, "user-1", "org-1", nil)
	require.NoError(t, err)

	subID, err := r.Subscribe(id, event.SubDocumentUpdates, event.Filter{DocumentID: "doc-1"})
	require.NoError(t, err)
	require.Regexp(t, `^sub_\d+_[0-9a-f]+$`, subID)
	require.Equal(t, 1, r.SubscriptionCount())

	r.Remove(id)
	require.True(t, link.Closed())
	require.Empty(t, r.ConnectionsForUser("user-1"))
	require.Empty(t, r.ConnectionsForOrganization("org-1"))
	require.Equal(t, 0, r.SubscriptionCount())

	// issued subscription id is inert afterwards
	r.Unsubscribe(id, subID)
	_, err = r.Subscribe(id, event.SubDocumentUpdates, event.Filter{})
	require.ErrorIs(t, err, ErrConnectionNotFound)

	// removing twice is a no-op
	r.Remove(id)
}

func TestSubscribe_UnknownConnectionAndBadType(t *testing.T) {
	r := New(Options{})
	_, err := r.Subscribe("conn_1_missing", event.SubDocumentUpdates, event.Filter{})
	require.ErrorIs(t, err, ErrConnectionNotFound)

	id, err := r.Add(newFakeLink(TransportWebSocket), "user-1", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Subscribe(id, event.SubscriptionType("bogus"), event.Filter{})
	require.ErrorIs(t, err, ErrInvalidSubscription)
}

func TestBroadcast_FilteredByOrganization(t *testing.T) {
	r := New(Options{})
	rnd := rand.New(rand.NewSource(42))

	type entry struct {
		org  string
		link *fakeLink
	}
	var entries []entry
	for i := 0; i < 60; i++ {
		org := "org-a"
		if rnd.Intn(2) == 1 {
			org = "org-b"
		}
		transport := TransportWebSocket
		if rnd.Intn(2) == 1 {
			transport = TransportSSE
		}
		link := newFakeLink(transport)
		_, err := r.Add(link, fmt.Sprintf("user-%d", i), org, nil)
		require.NoError(t, err)
		entries = append(entries, entry{org: org, link: link})
	}

	ev := event.New(event.TypeDocumentUpdate, "org-a", "user-0", map[string]any{"documentId": "doc-1"})
	r.Broadcast(ev, nil)

	for _, e := range entries {
		got := e.link.received()
		if e.org == "org-a" {
			require.Len(t, got, 1, "org-a connection should receive the event")
			require.Equal(t, ev.ID, got[0].ID)
		} else {
			require.Empty(t, got, "org-b connection must not receive org-a events")
		}
	}
}

func TestBroadcast_SubscriptionFiltering(t *testing.T) {
	r := New(Options{})

	noSubs := newFakeLink(TransportWebSocket)
	_, err := r.Add(noSubs, "user-1", "org-1", nil)
	require.NoError(t, err)

	matching := newFakeLink(TransportWebSocket)
	matchingID, err := r.Add(matching, "user-2", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Subscribe(matchingID, event.SubDocumentUpdates, event.Filter{DocumentID: "doc-1"})
	require.NoError(t, err)

	otherDoc := newFakeLink(TransportSSE)
	otherDocID, err := r.Add(otherDoc, "user-3", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Subscribe(otherDocID, event.SubDocumentUpdates, event.Filter{DocumentID: "doc-2"})
	require.NoError(t, err)

	otherType := newFakeLink(TransportWebSocket)
	otherTypeID, err := r.Add(otherType, "user-4", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Subscribe(otherTypeID, event.SubNotifications, event.Filter{})
	require.NoError(t, err)

	ev := event.New(event.TypeDocumentUpdate, "org-1", "user-9", map[string]any{"documentId": "doc-1"})
	delivered := r.Broadcast(ev, nil)

	require.Equal(t, 2, delivered)
	require.Len(t, noSubs.received(), 1, "connection without subscriptions gets all org events")
	require.Len(t, matching.received(), 1)
	require.Empty(t, otherDoc.received())
	require.Empty(t, otherType.received())
}

func TestBroadcast_WriteFailureRemovesConnectionOnly(t *testing.T) {
	r := New(Options{})
	bad := newFakeLink(TransportWebSocket)
	bad.failSend = true
	good := newFakeLink(TransportWebSocket)

	badID, err := r.Add(bad, "user-1", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Add(good, "user-2", "org-1", nil)
	require.NoError(t, err)

	ev := event.New(event.TypeUserPresence, "org-1", "user-1", map[string]any{"status": "online"})
	delivered := r.Broadcast(ev, nil)

	require.Equal(t, 1, delivered)
	require.Len(t, good.received(), 1, "failure on one connection must not abort delivery to the rest")
	require.Equal(t, 1, r.Count())
	require.Empty(t, r.ConnectionsForUser("user-1"))
	_ = badID
}

func TestUnsubscribe_UnknownIsNoOp(t *testing.T) {
	r := New(Options{})
	id, err := r.Add(newFakeLink(TransportWebSocket), "user-1", "org-1", nil)
	require.NoError(t, err)
	r.Unsubscribe(id, "sub_1_missing")
	r.Unsubscribe("conn_1_missing", "sub_1_missing")
}

func TestLivenessSweep_PingsAndRemovesDeadWebSockets(t *testing.T) {
	r := New(Options{})
	healthy := newFakeLink(TransportWebSocket)
	dead := newFakeLink(TransportWebSocket)
	dead.failPing = true
	sse := newFakeLink(TransportSSE)

	_, err := r.Add(healthy, "user-1", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Add(dead, "user-2", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Add(sse, "user-3", "org-1", nil)
	require.NoError(t, err)

	r.pingWebSockets()

	require.Equal(t, 2, r.Count())
	require.Equal(t, 1, healthy.pings)
	require.Equal(t, 0, sse.pings, "liveness sweep covers the bidirectional transport only")
}

func TestStalenessSweep_RemovesClosedAndInactive(t *testing.T) {
	r := New(Options{StaleThreshold: time.Minute})

	closed := newFakeLink(TransportWebSocket)
	closedID, err := r.Add(closed, "user-1", "org-1", nil)
	require.NoError(t, err)
	_ = closed.Close()

	idle := newFakeLink(TransportWebSocket)
	idleID, err := r.Add(idle, "user-2", "org-1", nil)
	require.NoError(t, err)

	fresh := newFakeLink(TransportSSE)
	freshID, err := r.Add(fresh, "user-3", "org-1", nil)
	require.NoError(t, err)

	// backdate the idle connection past the threshold
	r.mu.Lock()
	r.conns[idleID].LastActivity = time.Now().UTC().Add(-2 * time.Minute)
	r.mu.Unlock()

	r.sweepStale()

	require.Equal(t, 1, r.Count())
	require.Empty(t, r.ConnectionsForUser("user-1"))
	require.Empty(t, r.ConnectionsForUser("user-2"))
	require.Len(t, r.ConnectionsForUser("user-3"), 1)
	// survivors on the streaming transport got a keep-alive
	require.Equal(t, 1, fresh.pings)
	_ = closedID
	_ = freshID
}

func TestCountByTransport(t *testing.T) {
	r := New(Options{})
	_, err := r.Add(newFakeLink(TransportWebSocket), "u1", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Add(newFakeLink(TransportWebSocket), "u2", "org-1", nil)
	require.NoError(t, err)
	_, err = r.Add(newFakeLink(TransportSSE), "u3", "org-1", nil)
	require.NoError(t, err)

	counts := r.CountByTransport()
	require.Equal(t, 2, counts[TransportWebSocket])
	require.Equal(t, 1, counts[TransportSSE])
}
