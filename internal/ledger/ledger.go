package ledger

import (
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

// Config holds ledger settings.
type Config struct {
	// HistoryDepth is the max book snapshots retained per instrument.
	// Oldest entries are evicted first. Diagnostic only.
	HistoryDepth int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{HistoryDepth: 1000}
}

// instrumentState is the mutable store entry behind the lock.
type instrumentState struct {
	id      string
	outcome string

	bestBid decimal.Decimal
	bestAsk decimal.Decimal
	hasBid  bool
	hasAsk  bool
	bidSize decimal.Decimal
	askSize decimal.Decimal

	athBid *model.SideRecord
	athAsk *model.SideRecord
	atlAsk *model.SideRecord

	lastUpdated time.Time
	updates     int64

	history *historyRing
}

// Ledger is the thread-safe store of current book state and extrema.
type Ledger struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.RWMutex
	instruments map[string]*instrumentState

	notify chan model.RecordUpdate
}

// New creates a Ledger.
func New(cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryDepth < 1 {
		cfg.HistoryDepth = DefaultConfig().HistoryDepth
	}

	return &Ledger{
		cfg:         cfg,
		logger:      logger,
		instruments: make(map[string]*instrumentState),
		notify:      make(chan model.RecordUpdate, NotifyBufferSize),
	}
}

// Notifications returns the channel of new-record events, consumed for push
// updates. Sends never block the write path; overflow is dropped with a
// warning.
func (l *Ledger) Notifications() <-chan model.RecordUpdate {
	return l.notify
}

// Ensure creates instruments for the given ids if absent. Called on
// subscription acks so instruments exist before their first book message.
func (l *Ledger) Ensure(assetIDs []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range assetIDs {
		if id == "" {
			continue
		}
		l.getOrCreateLocked(id)
	}
}

// SetOutcome attaches a display label to an instrument, creating it if
// needed. Called by the subscription manager after catalog resolution.
func (l *Ledger) SetOutcome(assetID, outcome string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.getOrCreateLocked(assetID)
	st.outcome = outcome
}

// Apply is the single write path. It updates the given side of the
// instrument (last-value-wins), checks extrema, appends to the rolling
// history, and reports whether the best ask changed so the caller can
// re-evaluate only affected events.
func (l *Ledger) Apply(assetID string, side model.Side, price, size decimal.Decimal, observedAt time.Time) (askChanged bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.getOrCreateLocked(assetID)

	switch side {
	case model.SideBid:
		st.bestBid = price
		st.bidSize = size
		st.hasBid = true
	case model.SideAsk:
		askChanged = !st.hasAsk || !st.bestAsk.Equal(price)
		st.bestAsk = price
		st.askSize = size
		st.hasAsk = true
	default:
		l.logger.Warn("unknown book side, dropping update", "asset_id", assetID, "side", side)
		return false
	}

	if st.hasBid && st.hasAsk && st.bestBid.GreaterThan(st.bestAsk) {
		// Venue inconsistency. The ledger is a mirror, not a validator.
		l.logger.Warn("invariant violation: bid above ask",
			"asset_id", assetID,
			"bid", st.bestBid,
			"ask", st.bestAsk,
		)
	}

	l.checkRecordsLocked(st, side, price, size, observedAt)

	st.lastUpdated = observedAt
	st.updates++
	st.history.push(model.BookSnapshot{
		At:      observedAt,
		BestBid: st.bestBid,
		BestAsk: st.bestAsk,
		HasBid:  st.hasBid,
		HasAsk:  st.hasAsk,
		BidSize: st.bidSize,
		AskSize: st.askSize,
	})

	return askChanged
}

// BestAsk returns the current best ask for an instrument, if known. Used by
// the event aggregator on the processing path.
func (l *Ledger) BestAsk(assetID string) (decimal.Decimal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.instruments[assetID]
	if !ok || !st.hasAsk {
		return decimal.Decimal{}, false
	}
	return st.bestAsk, true
}

// Snapshot returns a consistent copy of one instrument.
func (l *Ledger) Snapshot(assetID string) (model.Instrument, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.instruments[assetID]
	if !ok {
		return model.Instrument{}, false
	}
	return st.snapshot(), true
}

// SnapshotAll returns consistent copies of every instrument, ordered by id.
func (l *Ledger) SnapshotAll() []model.Instrument {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Instrument, 0, len(l.instruments))
	for _, st := range l.instruments {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// History returns the retained book snapshots for an instrument, oldest
// first.
func (l *Ledger) History(assetID string) []model.BookSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.instruments[assetID]
	if !ok {
		return nil
	}
	return st.history.items()
}

// ATHRecords returns every all-time-high record (bid and ask sides).
func (l *Ledger) ATHRecords() []model.InstrumentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.InstrumentRecord
	for _, st := range l.instruments {
		if st.athBid != nil {
			out = append(out, flatten(st, model.SideBid, st.athBid))
		}
		if st.athAsk != nil {
			out = append(out, flatten(st, model.SideAsk, st.athAsk))
		}
	}
	sortRecords(out)
	return out
}

// ATLRecords returns every all-time-low record (ask side only).
func (l *Ledger) ATLRecords() []model.InstrumentRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []model.InstrumentRecord
	for _, st := range l.instruments {
		if st.atlAsk != nil {
			out = append(out, flatten(st, model.SideAsk, st.atlAsk))
		}
	}
	sortRecords(out)
	return out
}

func (l *Ledger) getOrCreateLocked(assetID string) *instrumentState {
	st, ok := l.instruments[assetID]
	if !ok {
		st = &instrumentState{
			id:      assetID,
			history: newHistoryRing(l.cfg.HistoryDepth),
		}
		l.instruments[assetID] = st
	}
	return st
}

// checkRecordsLocked overwrites extrema on strict improvement only, so ties
// keep the original record and its timestamp.
func (l *Ledger) checkRecordsLocked(st *instrumentState, side model.Side, price, size decimal.Decimal, at time.Time) {
	rec := &model.SideRecord{Price: price, Size: size, At: at}

	switch side {
	case model.SideBid:
		if st.athBid == nil || price.GreaterThan(st.athBid.Price) {
			st.athBid = rec
			l.emit(st, model.RecordATHBid, rec)
		}
	case model.SideAsk:
		if st.athAsk == nil || price.GreaterThan(st.athAsk.Price) {
			st.athAsk = rec
			l.emit(st, model.RecordATHAsk, rec)
		}
		if st.atlAsk == nil || price.LessThan(st.atlAsk.Price) {
			st.atlAsk = rec
			l.emit(st, model.RecordATLAsk, rec)
		}
	}
}

func (l *Ledger) emit(st *instrumentState, kind model.RecordKind, rec *model.SideRecord) {
	update := model.RecordUpdate{
		ID:           uuid.New(),
		Kind:         kind,
		At:           rec.At,
		InstrumentID: st.id,
		Outcome:      st.outcome,
		Price:        rec.Price,
		Size:         rec.Size,
	}

	select {
	case l.notify <- update:
	default:
		l.logger.Warn("record notification buffer full, dropping",
			"kind", kind,
			"asset_id", st.id,
		)
	}
}

func (st *instrumentState) snapshot() model.Instrument {
	return model.Instrument{
		ID:          st.id,
		Outcome:     st.outcome,
		BestBid:     st.bestBid,
		BestAsk:     st.bestAsk,
		HasBid:      st.hasBid,
		HasAsk:      st.hasAsk,
		BidSize:     st.bidSize,
		AskSize:     st.askSize,
		ATHBid:      copyRecord(st.athBid),
		ATHAsk:      copyRecord(st.athAsk),
		ATLAsk:      copyRecord(st.atlAsk),
		LastUpdated: st.lastUpdated,
		UpdateCount: st.updates,
	}
}

func copyRecord(r *model.SideRecord) *model.SideRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func flatten(st *instrumentState, side model.Side, rec *model.SideRecord) model.InstrumentRecord {
	return model.InstrumentRecord{
		InstrumentID: st.id,
		Outcome:      st.outcome,
		Side:         side,
		Price:        rec.Price,
		Size:         rec.Size,
		At:           rec.At,
	}
}

func sortRecords(recs []model.InstrumentRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].InstrumentID != recs[j].InstrumentID {
			return recs[i].InstrumentID < recs[j].InstrumentID
		}
		return recs[i].Side < recs[j].Side
	})
}
