package aggregate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddslab/bookmon/internal/model"
)

// NotifyBufferSize is the capacity of the record notification channel.
const NotifyBufferSize = 1000

// Errors
var (
	ErrMemberCount    = errors.New("event must have 2 or 3 members")
	ErrAlreadyTracked = errors.New("event already tracked")
)

// AskSource provides current best asks. Implemented by the ledger.
type AskSource interface {
	BestAsk(assetID string) (decimal.Decimal, bool)
}

// Member is one constituent instrument of an event.
type Member struct {
	InstrumentID string
	Outcome      string
}

// EventDef defines an event at creation time. Membership is fixed for the
// event's lifetime.
type EventDef struct {
	ID      string
	Title   string
	Slug    string
	Members []Member
}

type eventState struct {
	def EventDef

	currentTotal decimal.Decimal
	hasTotal     bool
	atlTotal     *model.TotalRecord
	lastUpdated  time.Time
}

// Aggregator tracks per-event combined prices and ATL-total records.
type Aggregator struct {
	asks   AskSource
	logger *slog.Logger

	mu           sync.RWMutex
	events       map[string]*eventState
	byInstrument map[string][]string // instrument id → event ids

	notify chan model.RecordUpdate
}

// New creates an Aggregator reading asks from the given source.
func New(asks AskSource, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Aggregator{
		asks:         asks,
		logger:       logger,
		events:       make(map[string]*eventState),
		byInstrument: make(map[string][]string),
		notify:       make(chan model.RecordUpdate, NotifyBufferSize),
	}
}

// Notifications returns the channel of new ATL-total records.
func (a *Aggregator) Notifications() <-chan model.RecordUpdate {
	return a.notify
}

// AddEvent starts tracking an event. Membership must be 2 or 3 instruments.
func (a *Aggregator) AddEvent(def EventDef) error {
	if len(def.Members) != 2 && len(def.Members) != 3 {
		return fmt.Errorf("%w: got %d", ErrMemberCount, len(def.Members))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.events[def.ID]; ok {
		return ErrAlreadyTracked
	}

	a.events[def.ID] = &eventState{def: def}
	for _, m := range def.Members {
		a.byInstrument[m.InstrumentID] = append(a.byInstrument[m.InstrumentID], def.ID)
	}

	a.logger.Info("event tracked",
		"event_id", def.ID,
		"title", def.Title,
		"members", len(def.Members),
	)
	return nil
}

// RemoveEvent stops tracking an event and drops its aggregate state.
func (a *Aggregator) RemoveEvent(eventID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.events[eventID]
	if !ok {
		return
	}
	delete(a.events, eventID)

	for _, m := range st.def.Members {
		ids := a.byInstrument[m.InstrumentID]
		filtered := ids[:0]
		for _, id := range ids {
			if id != eventID {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) == 0 {
			delete(a.byInstrument, m.InstrumentID)
		} else {
			a.byInstrument[m.InstrumentID] = filtered
		}
	}

	a.logger.Info("event untracked", "event_id", eventID)
}

// OnInstrumentChanged re-evaluates every event containing the instrument.
// Called on the processing path after a best-ask change.
func (a *Aggregator) OnInstrumentChanged(assetID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, eventID := range a.byInstrument[assetID] {
		st, ok := a.events[eventID]
		if !ok {
			continue
		}
		a.recomputeLocked(st, at)
	}
}

// recomputeLocked recalculates the event total. Exact decimal addition keeps
// the ATL comparison reproducible.
func (a *Aggregator) recomputeLocked(st *eventState, at time.Time) {
	legs := make([]model.Leg, 0, len(st.def.Members))
	total := decimal.Zero

	for _, m := range st.def.Members {
		ask, ok := a.asks.BestAsk(m.InstrumentID)
		if !ok {
			// A leg is unknown; the total is undefined until every
			// member has a simultaneous best ask.
			st.hasTotal = false
			return
		}
		legs = append(legs, model.Leg{
			InstrumentID: m.InstrumentID,
			Outcome:      m.Outcome,
			Ask:          ask,
		})
		total = total.Add(ask)
	}

	st.currentTotal = total
	st.hasTotal = true
	st.lastUpdated = at

	// Strict improvement only: an equal total never replaces the record.
	if st.atlTotal == nil || total.LessThan(st.atlTotal.Value) {
		st.atlTotal = &model.TotalRecord{
			EventID: st.def.ID,
			Title:   st.def.Title,
			Value:   total,
			Legs:    legs,
			At:      at,
		}
		a.emitLocked(st)
	}
}

func (a *Aggregator) emitLocked(st *eventState) {
	rec := st.atlTotal
	update := model.RecordUpdate{
		ID:      uuid.New(),
		Kind:    model.RecordATLTotal,
		At:      rec.At,
		EventID: rec.EventID,
		Title:   rec.Title,
		Total:   rec.Value,
		Legs:    append([]model.Leg(nil), rec.Legs...),
	}

	select {
	case a.notify <- update:
	default:
		a.logger.Warn("record notification buffer full, dropping",
			"event_id", rec.EventID,
		)
	}
}

// Event returns a consistent copy of one event aggregate.
func (a *Aggregator) Event(eventID string) (model.EventAggregate, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.events[eventID]
	if !ok {
		return model.EventAggregate{}, false
	}
	return st.snapshot(), true
}

// Events returns copies of every tracked event, ordered by id.
func (a *Aggregator) Events() []model.EventAggregate {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.EventAggregate, 0, len(a.events))
	for _, st := range a.events {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ATLTotals returns every event's ATL-total record, ordered by event id.
func (a *Aggregator) ATLTotals() []model.TotalRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []model.TotalRecord
	for _, st := range a.events {
		if st.atlTotal != nil {
			rec := *st.atlTotal
			rec.Legs = append([]model.Leg(nil), st.atlTotal.Legs...)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

func (st *eventState) snapshot() model.EventAggregate {
	memberIDs := make([]string, len(st.def.Members))
	for i, m := range st.def.Members {
		memberIDs[i] = m.InstrumentID
	}

	agg := model.EventAggregate{
		ID:              st.def.ID,
		Title:           st.def.Title,
		Slug:            st.def.Slug,
		ExpectedMembers: len(st.def.Members),
		MemberIDs:       memberIDs,
		CurrentTotal:    st.currentTotal,
		HasTotal:        st.hasTotal,
		LastUpdated:     st.lastUpdated,
	}
	if st.atlTotal != nil {
		rec := *st.atlTotal
		rec.Legs = append([]model.Leg(nil), st.atlTotal.Legs...)
		agg.ATLTotal = &rec
	}
	return agg
}
