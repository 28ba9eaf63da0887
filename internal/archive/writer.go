package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddslab/bookmon/internal/config"
	"github.com/oddslab/bookmon/internal/model"
)

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Inserts int64
	Errors  int64
	Dropped int64
	Flushes int64
}

// recordRow is the flattened form written to the record_updates table.
type recordRow struct {
	ID           string
	Kind         string
	At           int64 // unix micros
	InstrumentID string
	Outcome      string
	Price        string
	Size         string
	EventID      string
	Title        string
	Total        string
	LegsJSON     []byte
}

// Writer batches record updates and inserts them into PostgreSQL.
//
// Add never blocks the caller: when the input buffer is full the update is
// dropped and counted, keeping the notification path independent of database
// health.
type Writer struct {
	cfg    config.ArchiveConfig
	logger *slog.Logger

	input chan model.RecordUpdate
	db    *pgxpool.Pool

	batch       []recordRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewWriter creates a record archive writer over an existing pool.
func NewWriter(cfg config.ArchiveConfig, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		input:  make(chan model.RecordUpdate, cfg.BufferSize),
		db:     db,
		batch:  make([]recordRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming updates and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("archive writer stopped")
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	// Final flush
	w.flush()

	return nil
}

// Add enqueues a record update for persistence. Safe from any goroutine.
func (w *Writer) Add(update model.RecordUpdate) {
	select {
	case w.input <- update:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input channel and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case update := <-w.input:
			row := transform(update)

			w.batchMu.Lock()
			w.batch = append(w.batch, row)
			shouldFlush := len(w.batch) >= w.cfg.BatchSize
			w.batchMu.Unlock()

			if shouldFlush {
				w.flush()
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// transform flattens a record update into an insertable row.
func transform(update model.RecordUpdate) recordRow {
	row := recordRow{
		ID:           update.ID.String(),
		Kind:         string(update.Kind),
		At:           update.At.UnixMicro(),
		InstrumentID: update.InstrumentID,
		Outcome:      update.Outcome,
		EventID:      update.EventID,
		Title:        update.Title,
	}

	if update.Kind == model.RecordATLTotal {
		row.Total = update.Total.String()
		if legs, err := json.Marshal(update.Legs); err == nil {
			row.LegsJSON = legs
		}
	} else {
		row.Price = update.Price.String()
		row.Size = update.Size.String()
	}

	return row
}

func (w *Writer) flush() {
	w.batchMu.Lock()
	batch := w.batch
	w.batch = make([]recordRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	if len(batch) == 0 {
		return
	}

	start := time.Now()

	if err := w.batchInsert(batch); err != nil {
		w.logger.Error("record batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed records",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts record rows with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(rows []recordRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO record_updates (id, kind, observed_at, instrument_id, outcome, price, size, event_id, title, total, legs)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.Kind, r.At, r.InstrumentID, r.Outcome, r.Price, r.Size, r.EventID, r.Title, r.Total, r.LegsJSON)
	}

	results := w.db.SendBatch(w.ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}

	return nil
}
