// Package telemetry keeps per-query performance bookkeeping: a bounded
// in-memory buffer flushed to the graph store on rotation, a slow-query
// channel with an archive consumer, and Prometheus counters. The request
// path never blocks on any of it.
package telemetry

import (
	"context"
	"sync"
	"time"

	"kipgate/internal/graph"
	"kipgate/internal/logging"
)

// Entry is one recorded query execution.
type Entry struct {
	QueryHash       string
	ExecutionTimeMs int64
	RecordsReturned int
	Timestamp       int64
}

// Options configures a Buffer. Store, Archive, and Metrics may each be nil;
// the corresponding sink is skipped.
type Options struct {
	Capacity      int
	SlowThreshold time.Duration
	FlushInterval time.Duration
	Store         graph.Store
	Archive       *Archive
	Metrics       *Metrics
}

// Buffer is the bounded telemetry buffer. Producers are request handlers;
// the single consumer is the Run loop.
type Buffer struct {
	opts Options

	mu      sync.Mutex
	entries []Entry
	dropped uint64

	slowCh chan Entry
}

// New builds a Buffer with sane fallbacks for zero options.
func New(opts Options) *Buffer {
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = time.Second
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Minute
	}
	return &Buffer{
		opts:   opts,
		slowCh: make(chan Entry, 64),
	}
}

// Record appends an entry, discarding the oldest when the buffer is full.
// It never blocks: a full slow-query channel drops the event.
func (b *Buffer) Record(queryHash string, executionTimeMs int64, recordsReturned int) {
	e := Entry{
		QueryHash:       queryHash,
		ExecutionTimeMs: executionTimeMs,
		RecordsReturned: recordsReturned,
		Timestamp:       time.Now().UnixMilli(),
	}

	b.mu.Lock()
	if len(b.entries) >= b.opts.Capacity {
		b.entries = b.entries[1:]
		b.dropped++
		if b.opts.Metrics != nil {
			b.opts.Metrics.DroppedEntries.Inc()
		}
	}
	b.entries = append(b.entries, e)
	b.mu.Unlock()

	if b.opts.Metrics != nil {
		b.opts.Metrics.QueriesTotal.Inc()
		b.opts.Metrics.QueryDuration.Observe(float64(executionTimeMs) / 1000)
	}

	if time.Duration(executionTimeMs)*time.Millisecond >= b.opts.SlowThreshold {
		if b.opts.Metrics != nil {
			b.opts.Metrics.SlowQueries.Inc()
		}
		select {
		case b.slowCh <- e:
		default:
			logging.TelemetryDebug("Slow-query channel full, dropping event for %s", queryHash)
		}
	}
}

// Dropped reports how many entries were discarded to overflow.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Len reports the current buffer size.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Run is the single consumer: it rotates the buffer into the graph store on
// every interval and archives slow-query events. It returns when ctx is
// canceled, after a final flush.
func (b *Buffer) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	logging.Telemetry("Telemetry flusher started (interval=%s, capacity=%d)",
		b.opts.FlushInterval, b.opts.Capacity)
	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			logging.Telemetry("Telemetry flusher stopped")
			return nil
		case <-ticker.C:
			b.Flush(ctx)
		case e := <-b.slowCh:
			if b.opts.Archive != nil {
				if err := b.opts.Archive.RecordSlowQuery(e); err != nil {
					logging.Get(logging.CategoryTelemetry).Warn("Slow-query archive write failed: %v", err)
				}
			}
		}
	}
}

// Flush rotates the buffer out and persists it. The buffer is already empty
// for new producers while the write is in flight; on failure the batch is
// dropped rather than retried.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	if len(batch) == 0 || b.opts.Store == nil {
		return
	}

	rows := make([]map[string]interface{}, len(batch))
	for i, e := range batch {
		rows[i] = map[string]interface{}{
			"queryHash":       e.QueryHash,
			"executionTimeMs": e.ExecutionTimeMs,
			"recordsReturned": e.RecordsReturned,
			"timestamp":       e.Timestamp,
		}
	}

	sess, err := b.opts.Store.Session(ctx, true)
	if err != nil {
		logging.Get(logging.CategoryTelemetry).Warn("Telemetry flush failed to open session: %v", err)
		return
	}
	defer sess.Close(ctx)

	err = sess.RunAll(ctx, []graph.Statement{{
		Query: "UNWIND $entries AS e\n" +
			"CREATE (:QueryTelemetry {queryHash: e.queryHash, executionTimeMs: e.executionTimeMs, " +
			"recordsReturned: e.recordsReturned, timestamp: e.timestamp})",
		Params: map[string]interface{}{"entries": rows},
	}})
	if err != nil {
		logging.Get(logging.CategoryTelemetry).Warn("Telemetry flush failed: %v", err)
		return
	}
	logging.TelemetryDebug("Flushed %d telemetry entries", len(batch))
}
