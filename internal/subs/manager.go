package subs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/oddslab/bookmon/internal/aggregate"
	"github.com/oddslab/bookmon/internal/catalog"
)

// ErrNotSubscribed is returned when unsubscribing an unknown event.
var ErrNotSubscribed = errors.New("event not subscribed")

// Resolver maps event references to member tokens. Implemented by the
// catalog client.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (catalog.Resolution, error)
}

// Sender issues subscribe/unsubscribe control frames. Implemented by the
// feed transport. ErrNotConnected from either call is non-fatal: the
// transport replays the full desired set on reconnect.
type Sender interface {
	Subscribe(assetIDs []string) error
	Unsubscribe(assetIDs []string) error
}

// Registrar receives event definitions. Implemented by the aggregator.
type Registrar interface {
	AddEvent(def aggregate.EventDef) error
	RemoveEvent(eventID string)
}

// Labeler attaches outcome labels to instruments. Implemented by the ledger.
type Labeler interface {
	SetOutcome(assetID, outcome string)
}

type subscription struct {
	res catalog.Resolution
}

// Manager owns the desired subscription set.
type Manager struct {
	resolver  Resolver
	sender    Sender
	registrar Registrar
	labeler   Labeler
	logger    *slog.Logger

	mu     sync.Mutex
	events map[string]*subscription // event id → subscription
	bySlug map[string]string        // slug → event id
	refs   map[string]int           // instrument id → referencing event count
}

// NewManager creates a subscription Manager.
func NewManager(resolver Resolver, sender Sender, registrar Registrar, labeler Labeler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		resolver:  resolver,
		sender:    sender,
		registrar: registrar,
		labeler:   labeler,
		logger:    logger,
		events:    make(map[string]*subscription),
		bySlug:    make(map[string]string),
		refs:      make(map[string]int),
	}
}

// Subscribe resolves an event reference and subscribes its instruments.
// Re-subscribing an already-subscribed event is a no-op: no frames are sent
// and reference counts are untouched. Resolution failure surfaces to the
// caller without mutating any state.
func (m *Manager) Subscribe(ctx context.Context, ref string) (catalog.Resolution, error) {
	m.mu.Lock()
	if sub, ok := m.lookupLocked(ref); ok {
		m.mu.Unlock()
		m.logger.Debug("already subscribed", "ref", ref, "event_id", sub.res.EventID)
		return sub.res, nil
	}
	m.mu.Unlock()

	// Resolution happens outside the lock; it can take seconds.
	res, err := m.resolver.Resolve(ctx, ref)
	if err != nil {
		return catalog.Resolution{}, fmt.Errorf("resolve %q: %w", ref, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the lock: a concurrent caller may have won the race.
	if sub, ok := m.lookupLocked(res.EventID); ok {
		return sub.res, nil
	}

	members := make([]aggregate.Member, len(res.Tokens))
	var newIDs []string
	for i, tok := range res.Tokens {
		members[i] = aggregate.Member{InstrumentID: tok.ID, Outcome: tok.Outcome}
		if m.refs[tok.ID] == 0 {
			newIDs = append(newIDs, tok.ID)
		}
	}

	def := aggregate.EventDef{
		ID:      res.EventID,
		Title:   res.Title,
		Slug:    res.Slug,
		Members: members,
	}
	if err := m.registrar.AddEvent(def); err != nil {
		return catalog.Resolution{}, fmt.Errorf("track event %q: %w", res.EventID, err)
	}

	for _, tok := range res.Tokens {
		m.refs[tok.ID]++
		m.labeler.SetOutcome(tok.ID, res.Title+" - "+tok.Outcome)
	}
	m.events[res.EventID] = &subscription{res: res}
	if res.Slug != "" {
		m.bySlug[res.Slug] = res.EventID
	}

	// Only instruments not already covered by another event get a frame.
	if len(newIDs) > 0 {
		if err := m.sender.Subscribe(newIDs); err != nil {
			// Not rolled back: the desired set is updated and the
			// transport replays it on reconnect.
			m.logger.Warn("subscribe frame not sent", "error", err, "count", len(newIDs))
		}
	}

	m.logger.Info("subscribed",
		"event_id", res.EventID,
		"title", res.Title,
		"instruments", len(res.Tokens),
		"new_instruments", len(newIDs),
	)
	return res, nil
}

// Unsubscribe removes an event and unsubscribes instruments no longer
// referenced by any other subscribed event.
func (m *Manager) Unsubscribe(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.lookupLocked(ref)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, ref)
	}

	var dropIDs []string
	for _, tok := range sub.res.Tokens {
		m.refs[tok.ID]--
		if m.refs[tok.ID] <= 0 {
			delete(m.refs, tok.ID)
			dropIDs = append(dropIDs, tok.ID)
		}
	}

	delete(m.events, sub.res.EventID)
	if sub.res.Slug != "" {
		delete(m.bySlug, sub.res.Slug)
	}
	m.registrar.RemoveEvent(sub.res.EventID)

	if len(dropIDs) > 0 {
		if err := m.sender.Unsubscribe(dropIDs); err != nil {
			m.logger.Warn("unsubscribe frame not sent", "error", err, "count", len(dropIDs))
		}
	}

	m.logger.Info("unsubscribed",
		"event_id", sub.res.EventID,
		"dropped_instruments", len(dropIDs),
	)
	return nil
}

// DesiredAssets returns the full current desired instrument set, sorted.
// The transport calls this to replay subscriptions after a reconnect.
func (m *Manager) DesiredAssets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.refs))
	for id := range m.refs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribed reports whether an event reference is currently subscribed.
func (m *Manager) Subscribed(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookupLocked(ref)
	return ok
}

// lookupLocked finds a subscription by event id or slug.
func (m *Manager) lookupLocked(ref string) (*subscription, bool) {
	if sub, ok := m.events[ref]; ok {
		return sub, true
	}
	if id, ok := m.bySlug[ref]; ok {
		return m.events[id], true
	}
	return nil, false
}
