package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oddslab/bookmon/internal/aggregate"
	"github.com/oddslab/bookmon/internal/decode"
	"github.com/oddslab/bookmon/internal/feed"
	"github.com/oddslab/bookmon/internal/ledger"
	"github.com/oddslab/bookmon/internal/metrics"
	"github.com/oddslab/bookmon/internal/model"
	"github.com/oddslab/bookmon/internal/subs"
)

// latencyWindow is how many recent per-message latencies are kept for the
// average exposed in Stats.
const latencyWindow = 100

// Transport is the subset of the feed transport the engine drives.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Messages() <-chan feed.RawMessage
	Stats() feed.Stats
	State() feed.State
}

// RecordListener receives record-update notifications. Listeners must not
// block; slow consumers should buffer on their side.
type RecordListener func(model.RecordUpdate)

// Stats is the engine's operational state for health checks.
type Stats struct {
	TransportState      feed.State
	ConsecutiveFailures int64
	Reconnects          int64
	Processed           int64
	DecodeErrors        int64
	LastProcessedAt     time.Time
	Staleness           time.Duration
	AvgLatency          time.Duration
}

// Engine owns the processing goroutine and exposes the query/command surface
// consumed by the API layer.
type Engine struct {
	logger *slog.Logger

	transport Transport
	ledger    *ledger.Ledger
	agg       *aggregate.Aggregator
	subs      *subs.Manager

	listenerMu sync.RWMutex
	listeners  []RecordListener

	processed     atomic.Int64
	decodeErrors  atomic.Int64
	lastProcessed atomic.Int64 // unix nanos, 0 if never

	latMu      sync.Mutex
	latencies  [latencyWindow]time.Duration
	latCount   int
	latNext    int
	latencySum time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine over the given components.
func New(transport Transport, led *ledger.Ledger, agg *aggregate.Aggregator, sm *subs.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		logger:    logger,
		transport: transport,
		ledger:    led,
		agg:       agg,
		subs:      sm,
	}
}

// Start connects the transport and begins processing.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.transport.Start(e.ctx); err != nil {
		return err
	}

	e.wg.Add(3)
	go e.processLoop()
	go e.notifyLoop()
	go e.gaugeLoop()

	e.logger.Info("engine started")
	return nil
}

// Stop shuts down the transport and waits for the processing goroutine.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("stopping engine")

	if err := e.transport.Stop(ctx); err != nil {
		e.logger.Warn("transport stop", "error", err)
	}
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("engine stop timed out")
		return ctx.Err()
	}
}

// AddRecordListener registers a push consumer for ATH/ATL/ATL-total updates.
func (e *Engine) AddRecordListener(fn RecordListener) {
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenerMu.Unlock()
}

// Subscribe resolves and subscribes an event by slug or id.
func (e *Engine) Subscribe(ctx context.Context, ref string) error {
	_, err := e.subs.Subscribe(ctx, ref)
	return err
}

// Unsubscribe removes an event subscription.
func (e *Engine) Unsubscribe(ref string) error {
	return e.subs.Unsubscribe(ref)
}

// Instrument returns one instrument snapshot.
func (e *Engine) Instrument(id string) (model.Instrument, bool) {
	return e.ledger.Snapshot(id)
}

// Instruments returns all instrument snapshots.
func (e *Engine) Instruments() []model.Instrument {
	return e.ledger.SnapshotAll()
}

// Event returns one event aggregate.
func (e *Engine) Event(id string) (model.EventAggregate, bool) {
	return e.agg.Event(id)
}

// Events returns all event aggregates.
func (e *Engine) Events() []model.EventAggregate {
	return e.agg.Events()
}

// ATHRecords returns every per-instrument all-time-high record.
func (e *Engine) ATHRecords() []model.InstrumentRecord {
	return e.ledger.ATHRecords()
}

// ATLRecords returns every per-instrument all-time-low record.
func (e *Engine) ATLRecords() []model.InstrumentRecord {
	return e.ledger.ATLRecords()
}

// ATLTotals returns every event's all-time-low total record.
func (e *Engine) ATLTotals() []model.TotalRecord {
	return e.agg.ATLTotals()
}

// Stats returns the engine's operational state.
func (e *Engine) Stats() Stats {
	ts := e.transport.Stats()

	var last time.Time
	var staleness time.Duration
	if ns := e.lastProcessed.Load(); ns != 0 {
		last = time.Unix(0, ns)
		staleness = time.Since(last)
	}

	e.latMu.Lock()
	var avg time.Duration
	if e.latCount > 0 {
		avg = e.latencySum / time.Duration(e.latCount)
	}
	e.latMu.Unlock()

	return Stats{
		TransportState:      ts.State,
		ConsecutiveFailures: ts.ConsecutiveFailures,
		Reconnects:          ts.Reconnects,
		Processed:           e.processed.Load(),
		DecodeErrors:        e.decodeErrors.Load(),
		LastProcessedAt:     last,
		Staleness:           staleness,
		AvgLatency:          avg,
	}
}

// processLoop is the single feed-processing path. Every per-message failure
// is isolated to that message; the loop only exits on shutdown.
func (e *Engine) processLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-e.transport.Messages():
			if !ok {
				e.logger.Info("frame channel closed")
				return
			}
			e.process(msg)
		}
	}
}

func (e *Engine) process(msg feed.RawMessage) {
	start := time.Now()

	events, err := decode.Decode(msg.Data)
	if err != nil {
		e.decodeErrors.Add(1)
		metrics.DecodeErrors.Inc()
		e.logger.Warn("dropping frame", "error", err)
		return
	}

	for _, ev := range events {
		e.apply(ev, msg.ReceivedAt)
	}

	e.processed.Add(1)
	e.lastProcessed.Store(time.Now().UnixNano())
	metrics.MessagesProcessed.Inc()

	e.recordLatency(time.Since(start))
}

func (e *Engine) apply(ev decode.DomainEvent, observedAt time.Time) {
	switch v := ev.(type) {
	case decode.BookSnapshot:
		askChanged := false
		if bid, ok := v.BestBid(); ok {
			e.ledger.Apply(v.AssetID, model.SideBid, bid.Price, bid.Size, observedAt)
		}
		if ask, ok := v.BestAsk(); ok {
			askChanged = e.ledger.Apply(v.AssetID, model.SideAsk, ask.Price, ask.Size, observedAt)
		}
		if askChanged {
			e.agg.OnInstrumentChanged(v.AssetID, observedAt)
		}

	case decode.BookDelta:
		askChanged := e.ledger.Apply(v.AssetID, v.Side, v.Price, v.Size, observedAt)
		if askChanged {
			e.agg.OnInstrumentChanged(v.AssetID, observedAt)
		}

	case decode.SubscriptionAck:
		e.ledger.Ensure(v.AssetIDs)
		e.logger.Debug("subscription acknowledged", "instruments", len(v.AssetIDs))

	case decode.Pong:
		// Liveness is handled at the transport layer.
	}
}

func (e *Engine) recordLatency(d time.Duration) {
	metrics.ProcessingLatency.Observe(d.Seconds())

	e.latMu.Lock()
	if e.latCount == latencyWindow {
		e.latencySum -= e.latencies[e.latNext]
	} else {
		e.latCount++
	}
	e.latencies[e.latNext] = d
	e.latencySum += d
	e.latNext = (e.latNext + 1) % latencyWindow
	e.latMu.Unlock()
}

// notifyLoop fans record notifications from the ledger and aggregator out to
// registered listeners and metrics.
func (e *Engine) notifyLoop() {
	defer e.wg.Done()

	ledgerCh := e.ledger.Notifications()
	aggCh := e.agg.Notifications()

	for {
		select {
		case <-e.ctx.Done():
			return
		case update, ok := <-ledgerCh:
			if !ok {
				return
			}
			e.dispatch(update)
		case update, ok := <-aggCh:
			if !ok {
				return
			}
			e.dispatch(update)
		}
	}
}

// gaugeLoop refreshes the slow-moving transport gauges.
func (e *Engine) gaugeLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastReconnects int64
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			ts := e.transport.Stats()

			if ts.State == feed.StateConnected {
				metrics.Connected.Set(1)
			} else {
				metrics.Connected.Set(0)
			}
			if d := ts.Reconnects - lastReconnects; d > 0 {
				metrics.Reconnects.Add(float64(d))
				lastReconnects = ts.Reconnects
			}
			if ns := e.lastProcessed.Load(); ns != 0 {
				metrics.Staleness.Set(time.Since(time.Unix(0, ns)).Seconds())
			}
		}
	}
}

func (e *Engine) dispatch(update model.RecordUpdate) {
	metrics.NewRecords.WithLabelValues(string(update.Kind)).Inc()

	e.listenerMu.RLock()
	listeners := e.listeners
	e.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(update)
	}
}
