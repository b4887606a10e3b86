package runlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/metrics"
	"github.com/JakeFAU/edge-cache-warmer/internal/warmer"
)

// ErrNoSink is returned by Flush when no sink is configured.
var ErrNoSink = errors.New("runlog: no sink configured")

// Sink persists a flushed batch. A nil error means the batch was acknowledged.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch Batch) error
}

// IDGenerator produces the run ID.
type IDGenerator interface {
	NewID() (string, error)
}

// Default label zone.
const (
	DefaultZoneName   = "WITA"
	DefaultZoneOffset = 8 * time.Hour
)

// Config controls run labelling.
type Config struct {
	ZoneName   string
	ZoneOffset time.Duration
}

// Logger buffers rows for one run. Log is safe for concurrent use; Close runs
// finalize and flush exactly once no matter how many callers race to it.
type Logger struct {
	sink   Sink
	clock  warmer.Clock
	logger *zap.Logger

	runID     string
	label     string
	startedAt time.Time

	mu         sync.Mutex
	rows       []Row
	finishedAt time.Time

	flushMu  sync.Mutex
	once     sync.Once
	closeErr error
}

// New starts a run: it draws the run ID and fixes the start time and label.
func New(sink Sink, clock warmer.Clock, ids IDGenerator, cfg Config, logger *zap.Logger) (*Logger, error) {
	if clock == nil {
		return nil, errors.New("runlog: clock is required")
	}
	if ids == nil {
		return nil, errors.New("runlog: id generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ZoneName == "" {
		cfg.ZoneName = DefaultZoneName
		cfg.ZoneOffset = DefaultZoneOffset
	}
	runID, err := ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	started := clock.Now()
	return &Logger{
		sink:      sink,
		clock:     clock,
		logger:    logger.Named("runlog"),
		runID:     runID,
		label:     Label(started, cfg.ZoneName, cfg.ZoneOffset),
		startedAt: started,
	}, nil
}

// Label renders t as YYYY-MM-DD_HH-mm-ss_<zone> in a fixed offset zone.
func Label(t time.Time, zoneName string, offset time.Duration) string {
	loc := time.FixedZone(zoneName, int(offset/time.Second))
	return t.In(loc).Format("2006-01-02_15-04-05") + "_" + zoneName
}

// RunID returns the run identifier.
func (l *Logger) RunID() string { return l.runID }

// Label returns the run label.
func (l *Logger) Label() string { return l.label }

// StartedAt returns the run start time.
func (l *Logger) StartedAt() time.Time { return l.startedAt }

// Log appends row to the buffer, stamping the run columns.
func (l *Logger) Log(row Row) {
	row.RunID = l.runID
	row.StartedAt = l.startedAt
	if row.Mode == "" {
		row.Mode = DefaultMode
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.finishedAt.IsZero() {
		row.FinishedAt = l.finishedAt
	}
	l.rows = append(l.rows, row)
}

// Record implements warmer.Recorder.
func (l *Logger) Record(result warmer.WarmResult) {
	l.Log(RowFromResult(result))
}

// Message logs a free-form row for country.
func (l *Logger) Message(country, message string) {
	l.Log(Row{Country: country, Message: message})
}

// Len returns the number of buffered rows.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// Finalize stamps one shared finish time into every buffered row.
func (l *Logger) Finalize() {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishedAt = now
	for i := range l.rows {
		l.rows[i].FinishedAt = now
	}
}

// Flush hands the buffered rows to the sink in one call. Rows are dropped
// from the buffer only after the sink acknowledges them; on failure they stay
// buffered and the error is returned.
func (l *Logger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	if l.sink == nil {
		l.logger.Warn("run log sink disabled; rows not delivered", zap.Int("rows", l.Len()))
		metrics.ObserveLogFlush("skipped")
		return ErrNoSink
	}

	l.mu.Lock()
	rows := append([]Row(nil), l.rows...)
	batch := Batch{
		RunID:      l.runID,
		Label:      l.label,
		StartedAt:  l.startedAt,
		FinishedAt: l.finishedAt,
		Rows:       rows,
	}
	l.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}

	if err := l.sink.Write(ctx, batch); err != nil {
		metrics.ObserveLogFlush("failed")
		l.logger.Warn("run log flush failed",
			zap.String("sink", l.sink.Name()),
			zap.Int("rows", len(rows)),
			zap.Error(err),
		)
		return fmt.Errorf("flush to %s: %w", l.sink.Name(), err)
	}

	l.mu.Lock()
	l.rows = l.rows[len(rows):]
	l.mu.Unlock()
	metrics.ObserveLogFlush("ok")
	l.logger.Info("run log flushed",
		zap.String("sink", l.sink.Name()),
		zap.String("label", l.label),
		zap.Int("rows", len(rows)),
	)
	return nil
}

// Close finalizes and flushes exactly once. Later calls return the first
// result without touching the sink.
func (l *Logger) Close(ctx context.Context) error {
	l.once.Do(func() {
		l.Finalize()
		l.closeErr = l.Flush(ctx)
	})
	return l.closeErr
}
