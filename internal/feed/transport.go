package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Source provides the current desired subscription set. The transport replays
// the full set after every (re)connect because the venue has no notion of
// resuming a prior session.
type Source interface {
	DesiredAssets() []string
}

// Transport manages the single persistent connection to the venue.
type Transport struct {
	cfg    Config
	source Source
	logger *slog.Logger

	// newClient is swappable for tests.
	newClient func(ClientConfig, *slog.Logger) Client

	mu     sync.RWMutex
	state  State
	client Client

	frames chan RawMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	failures      atomic.Int64
	reconnects    atomic.Int64
	lastConnected atomic.Int64 // unix nanos, 0 if never
}

// NewTransport creates a Transport. The source must be non-nil; an empty
// desired set is valid (nothing is subscribed until events are added).
func NewTransport(cfg Config, source Source, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	return &Transport{
		cfg:       cfg,
		source:    source,
		logger:    logger,
		newClient: NewClient,
		state:     StateDisconnected,
		frames:    make(chan RawMessage, cfg.BufferSize),
	}
}

// Start connects and begins delivering frames. It returns once the supervising
// goroutine is running; the first connection attempt happens asynchronously so
// a down venue does not block startup.
func (t *Transport) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.setState(StateConnecting)

	t.wg.Add(1)
	go t.run()

	t.logger.Info("feed transport started", "url", t.cfg.URL)
	return nil
}

// Stop is terminal: it closes the connection and suppresses further
// reconnects.
func (t *Transport) Stop(ctx context.Context) error {
	t.logger.Info("stopping feed transport")

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.logger.Warn("transport shutdown timeout")
	}

	t.mu.Lock()
	if t.client != nil {
		t.client.Close()
	}
	t.state = StateDisconnected
	t.mu.Unlock()

	close(t.frames)

	t.logger.Info("feed transport stopped")
	return nil
}

// Messages returns the inbound frame channel consumed by the processing path.
func (t *Transport) Messages() <-chan RawMessage {
	return t.frames
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Stats returns a snapshot of transport health.
func (t *Transport) Stats() Stats {
	var last time.Time
	if ns := t.lastConnected.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		State:               t.State(),
		ConsecutiveFailures: t.failures.Load(),
		Reconnects:          t.reconnects.Load(),
		LastConnectedAt:     last,
	}
}

// Subscribe sends a subscribe control frame for the given asset ids.
// ErrNotConnected is not fatal to callers: the full desired set is replayed
// on the next reconnect.
func (t *Transport) Subscribe(assetIDs []string) error {
	return t.sendControl("subscribe", assetIDs)
}

// Unsubscribe sends an unsubscribe control frame for the given asset ids.
func (t *Transport) Unsubscribe(assetIDs []string) error {
	return t.sendControl("unsubscribe", assetIDs)
}

func (t *Transport) sendControl(typ string, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}

	t.mu.RLock()
	c := t.client
	t.mu.RUnlock()

	if c == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(controlFrame{Type: typ, AssetsIDs: assetIDs})
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// run supervises the connection: connect, replay subscriptions, pump frames,
// back off, repeat. Reconnect attempts are unbounded; only Stop ends the loop.
func (t *Transport) run() {
	defer t.wg.Done()

	backoff := Backoff{Base: t.cfg.ReconnectBaseDelay, Max: t.cfg.ReconnectMaxDelay}
	first := true

	for {
		if t.ctx.Err() != nil {
			return
		}

		isReconnect := !first
		if isReconnect {
			t.setState(StateReconnecting)
			wait := backoff.Next()
			t.logger.Info("reconnecting",
				"wait", wait,
				"consecutive_failures", t.failures.Load(),
			)
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(wait):
			}
		}
		first = false

		c := t.newClient(ClientConfig{
			URL:          t.cfg.URL,
			PingInterval: t.cfg.PingInterval,
			PingTimeout:  t.cfg.PingTimeout,
			WriteTimeout: t.cfg.WriteTimeout,
			BufferSize:   t.cfg.BufferSize,
		}, t.logger)

		if err := c.Connect(t.ctx); err != nil {
			t.failures.Add(1)
			t.logger.Warn("connection failed", "error", err)
			continue
		}

		t.mu.Lock()
		t.client = c
		t.state = StateConnected
		t.mu.Unlock()

		t.failures.Store(0)
		backoff.Reset()
		t.lastConnected.Store(time.Now().UnixNano())
		if isReconnect {
			t.reconnects.Add(1)
		}

		t.replaySubscriptions(c)

		// Pump frames until the connection drops or we are stopped.
		t.pump(c)

		c.Close()

		if t.ctx.Err() != nil {
			return
		}
		t.failures.Add(1)
	}
}

// replaySubscriptions sends the entire current desired set in one frame.
func (t *Transport) replaySubscriptions(c Client) {
	desired := t.source.DesiredAssets()
	if len(desired) == 0 {
		t.logger.Debug("no desired subscriptions to replay")
		return
	}

	data, err := json.Marshal(controlFrame{Type: "subscribe", AssetsIDs: desired})
	if err != nil {
		t.logger.Error("marshal subscribe frame", "error", err)
		return
	}
	if err := c.Send(data); err != nil {
		t.logger.Warn("failed to replay subscriptions", "error", err, "count", len(desired))
		return
	}

	t.logger.Info("subscriptions replayed", "count", len(desired))
}

func (t *Transport) pump(c Client) {
	for {
		select {
		case <-t.ctx.Done():
			return

		case err := <-c.Errors():
			t.logger.Warn("connection lost", "error", err)
			return

		case msg, ok := <-c.Messages():
			if !ok {
				return
			}
			select {
			case t.frames <- msg:
			case <-t.ctx.Done():
				return
			default:
				t.logger.Warn("frame channel full, dropping frame")
			}
		}
	}
}
