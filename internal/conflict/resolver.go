package conflict

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docusign-alternative/platform/realtime-service/pkg/logger"
)

var (
	ErrInvalidStrategy   = errors.New("invalid resolution strategy")
	ErrNoActiveConflicts = errors.New("no active conflicts for document")
)

// Strategy is the closed set of resolution strategies.
type Strategy string

const (
	StrategyMerge     Strategy = "merge"
	StrategyOverwrite Strategy = "overwrite"
	StrategyReject    Strategy = "reject"
	StrategyManual    Strategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyMerge, StrategyOverwrite, StrategyReject, StrategyManual:
		return true
	}
	return false
}

// Type classifies what kind of collision a resolution covers.
type Type string

const (
	TypeConcurrentEdit  Type = "concurrent_edit"
	TypeVersionMismatch Type = "version_mismatch"
	TypeFieldCollision  Type = "field_collision"
)

// Change is one recorded field edit, retained inside the sliding window.
type Change struct {
	DocumentID string    `json:"documentId"`
	Field      string    `json:"field"`
	Value      any       `json:"value"`
	UserID     string    `json:"userId"`
	Timestamp  time.Time `json:"timestamp"`
	Version    int64     `json:"version"`
}

// FieldConflict pairs an earlier pending change against an incoming one on
// the same field. UserID and Timestamp identify the earlier author.
type FieldConflict struct {
	Field         string    `json:"field"`
	CurrentValue  any       `json:"currentValue"`
	IncomingValue any       `json:"incomingValue"`
	UserID        string    `json:"userId"`
	Timestamp     time.Time `json:"timestamp"`
}

// Resolution is the outcome of resolving a document's conflicts. At most one
// resolution is active per document; a new one replaces the prior.
type Resolution struct {
	DocumentID     string          `json:"documentId"`
	ConflictType   Type            `json:"conflictType"`
	Conflicts      []FieldConflict `json:"conflicts"`
	Strategy       Strategy        `json:"resolution"`
	ResolvedValues map[string]any  `json:"resolvedValues,omitempty"`
	ResolvedBy     string          `json:"resolvedBy"`
	ResolvedAt     time.Time       `json:"resolvedAt"`
}

// Statistics is a point-in-time snapshot of the resolver's counters.
type Statistics struct {
	TrackedDocuments      int                `json:"trackedDocuments"`
	PendingChanges        int                `json:"pendingChanges"`
	ActiveConflicts       int                `json:"activeConflicts"`
	ActiveResolutions     int                `json:"activeResolutions"`
	ConflictsDetected     int64              `json:"conflictsDetected"`
	ResolutionsApplied    int64              `json:"resolutionsApplied"`
	ResolutionsByStrategy map[Strategy]int64 `json:"resolutionsByStrategy"`
}

// Options tunes the resolver windows. Zero values fall back to the defaults.
type Options struct {
	// Window is the span within which two changes to the same field by
	// different users count as concurrent.
	Window time.Duration
	// Retention bounds how long pending changes are kept before pruning.
	Retention time.Duration
}

const (
	defaultWindow    = 30 * time.Second
	defaultRetention = 5 * time.Minute
)

// Resolver tracks per-document pending changes inside a sliding window,
// detects concurrent edits and applies resolution strategies. Detection is
// strictly process-local; see DESIGN.md for the scale-out caveat.
type Resolver struct {
	mu          sync.Mutex
	window      time.Duration
	retention   time.Duration
	pending     map[string][]Change
	versions    map[string]int64
	active      map[string][]FieldConflict
	resolutions map[string]*Resolution

	detected   int64
	resolved   int64
	byStrategy map[Strategy]int64

	now func() time.Time
}

func New(opts Options) *Resolver {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	return &Resolver{
		window:      opts.Window,
		retention:   opts.Retention,
		pending:     make(map[string][]Change),
		versions:    make(map[string]int64),
		active:      make(map[string][]FieldConflict),
		resolutions: make(map[string]*Resolution),
		byStrategy:  make(map[Strategy]int64),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// DetectConflicts checks each incoming field change against the document's
// pending changes, then records every incoming change with a freshly
// incremented document version regardless of the outcome. Only the change
// arriving second inside the window reports a conflict; the first writer is
// never retroactively flagged.
func (r *Resolver) DetectConflicts(documentID string, changes map[string]any, userID string, ts time.Time) []FieldConflict {
	if len(changes) == 0 {
		return nil
	}
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.pending[documentID]
	var conflicts []FieldConflict
	for _, field := range fields {
		var latest *Change
		for i := range list {
			ch := &list[i]
			if ch.Field != field || ch.UserID == userID {
				continue
			}
			if delta := ts.Sub(ch.Timestamp); delta < -r.window || delta > r.window {
				continue
			}
			if latest == nil || ch.Timestamp.After(latest.Timestamp) {
				latest = ch
			}
		}
		if latest != nil {
			conflicts = append(conflicts, FieldConflict{
				Field:         field,
				CurrentValue:  latest.Value,
				IncomingValue: changes[field],
				UserID:        latest.UserID,
				Timestamp:     latest.Timestamp,
			})
		}
	}

	for _, field := range fields {
		r.versions[documentID]++
		list = append(list, Change{
			DocumentID: documentID,
			Field:      field,
			Value:      changes[field],
			UserID:     userID,
			Timestamp:  ts,
			Version:    r.versions[documentID],
		})
	}
	r.pending[documentID] = pruneBefore(list, r.now().Add(-r.retention))

	if len(conflicts) > 0 {
		r.active[documentID] = conflicts
		r.detected += int64(len(conflicts))
		logger.Infof("detected %d conflict(s) on document %s (user=%s)", len(conflicts), documentID, userID)
	}
	return conflicts
}

func pruneBefore(list []Change, cutoff time.Time) []Change {
	kept := list[:0]
	for _, ch := range list {
		if !ch.Timestamp.Before(cutoff) {
			kept = append(kept, ch)
		}
	}
	return kept
}

// ResolveConflicts applies a strategy to the given conflicts and stores the
// result as the document's single active resolution. When conflicts is empty
// the document's active conflicts are used; if there are none either, the
// call fails with ErrNoActiveConflicts. The per-field outcome depends only on
// the strategy and the two values, so the result is independent of list order.
func (r *Resolver) ResolveConflicts(documentID string, conflicts []FieldConflict, strategy Strategy, resolvedBy string) (*Resolution, error) {
	if !strategy.Valid() {
		return nil, ErrInvalidStrategy
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(conflicts) == 0 {
		conflicts = r.active[documentID]
		if len(conflicts) == 0 {
			return nil, ErrNoActiveConflicts
		}
	}

	var resolvedValues map[string]any
	if strategy != StrategyManual {
		resolvedValues = make(map[string]any, len(conflicts))
		for _, c := range conflicts {
			switch strategy {
			case StrategyOverwrite:
				resolvedValues[c.Field] = c.IncomingValue
			case StrategyReject:
				resolvedValues[c.Field] = c.CurrentValue
			case StrategyMerge:
				resolvedValues[c.Field] = mergeValues(c.CurrentValue, c.IncomingValue)
			}
		}
	}

	res := &Resolution{
		DocumentID:     documentID,
		ConflictType:   classify(conflicts),
		Conflicts:      conflicts,
		Strategy:       strategy,
		ResolvedValues: resolvedValues,
		ResolvedBy:     resolvedBy,
		ResolvedAt:     r.now(),
	}
	r.resolutions[documentID] = res
	r.resolved++
	r.byStrategy[strategy]++
	logger.Infof("resolved %d conflict(s) on document %s via %s", len(conflicts), documentID, strategy)
	return res, nil
}

// classify picks the conflict type from the conflicting field names: a field
// literally named "version" means a version mismatch, dotted names mean a
// collision on structured sub-fields, anything else is a concurrent edit.
func classify(conflicts []FieldConflict) Type {
	for _, c := range conflicts {
		if c.Field == "version" {
			return TypeVersionMismatch
		}
	}
	for _, c := range conflicts {
		if strings.Contains(c.Field, ".") {
			return TypeFieldCollision
		}
	}
	return TypeConcurrentEdit
}

// mergeValues reconciles two values without a common ancestor: composite
// values are merged key-wise with the incoming side winning on differing
// keys, scalars default to the incoming side. No base revision is tracked,
// so this stays a two-way, incoming-biased merge.
func mergeValues(current, incoming any) any {
	cm, cok := current.(map[string]any)
	im, iok := incoming.(map[string]any)
	if !cok || !iok {
		return incoming
	}
	out := make(map[string]any, len(cm)+len(im))
	for k, v := range cm {
		out[k] = v
	}
	for k, v := range im {
		out[k] = v
	}
	return out
}

// ActiveConflicts returns the document's unresolved conflicts recorded by the
// last detection.
func (r *Resolver) ActiveConflicts(documentID string) []FieldConflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[documentID]
}

// ActiveResolution returns the document's current resolution, if any.
func (r *Resolver) ActiveResolution(documentID string) (*Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resolutions[documentID]
	return res, ok
}

// ClearResolved drops the active resolution, active conflicts and all
// pending-change history for the document. Called once a client confirmed the
// merged state was applied. Idempotent. Version counters survive so versions
// stay monotonic across clears.
func (r *Resolver) ClearResolved(documentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resolutions, documentID)
	delete(r.active, documentID)
	delete(r.pending, documentID)
}

// Version returns the document's current version counter.
func (r *Resolver) Version(documentID string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.versions[documentID]
}

// Statistics snapshots the resolver's counters.
func (r *Resolver) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	pendingTotal := 0
	for _, list := range r.pending {
		pendingTotal += len(list)
	}
	activeTotal := 0
	for _, list := range r.active {
		activeTotal += len(list)
	}
	byStrategy := make(map[Strategy]int64, len(r.byStrategy))
	for k, v := range r.byStrategy {
		byStrategy[k] = v
	}
	return Statistics{
		TrackedDocuments:      len(r.versions),
		PendingChanges:        pendingTotal,
		ActiveConflicts:       activeTotal,
		ActiveResolutions:     len(r.resolutions),
		ConflictsDetected:     r.detected,
		ResolutionsApplied:    r.resolved,
		ResolutionsByStrategy: byStrategy,
	}
}
