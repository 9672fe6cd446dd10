// Package persist accumulates finalized utterances and writes them to the
// message store in periodic batches.
//
// Batching amortizes store round-trips during a live call: utterances queue
// in memory and a single flush drains everything queued so far. A failed
// flush puts the batch back at the front of the queue and retries with
// exponential backoff, so ordering is preserved and nothing is lost while
// the store is down. The store's idempotent writes make retried batches
// safe.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verbatim-labs/verbatim/internal/observe"
	"github.com/verbatim-labs/verbatim/pkg/store"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

const (
	// defaultFlushInterval is the quiet window between a first enqueue and
	// the flush that drains it.
	defaultFlushInterval = 2 * time.Second

	// defaultMaxAttempts bounds how often a failing batch is retried before
	// it is dropped.
	defaultMaxAttempts = 10

	// defaultMaxBackoff caps the delay between retries of a failing batch.
	defaultMaxBackoff = 30 * time.Second
)

// Batcher queues finalized utterances and flushes them to a message store.
//
// At most one save is in flight at any time. Utterances enqueued while a
// save runs are picked up by the next flush. All methods are safe for
// concurrent use.
type Batcher struct {
	store     store.MessageStore
	sessionID string
	interval  time.Duration
	maxTries  int
	maxDelay  time.Duration
	logger    *slog.Logger
	metrics   *observe.Metrics

	mu       sync.Mutex
	queue    []types.Utterance
	timer    *time.Timer
	inflight bool
	attempts int
	stopped  bool
	idle     *sync.Cond
}

// Config configures a [Batcher].
type Config struct {
	// Store receives the flushed batches.
	Store store.MessageStore

	// SessionID is the session all queued utterances belong to.
	SessionID string

	// FlushInterval is the delay between the first enqueue and the flush.
	// Defaults to 2 seconds if zero.
	FlushInterval time.Duration

	// MaxAttempts bounds retries of a failing batch before it is dropped.
	// Defaults to 10 if zero.
	MaxAttempts int

	// MaxBackoff caps the retry delay. Defaults to 30 seconds if zero.
	MaxBackoff time.Duration

	// Logger receives flush failure warnings. Defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics records flush latency and retry counters when non-nil.
	Metrics *observe.Metrics
}

// NewBatcher creates a new [Batcher] with the given configuration.
func NewBatcher(cfg Config) *Batcher {
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	maxTries := cfg.MaxAttempts
	if maxTries <= 0 {
		maxTries = defaultMaxAttempts
	}
	maxDelay := cfg.MaxBackoff
	if maxDelay <= 0 {
		maxDelay = defaultMaxBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Batcher{
		store:     cfg.Store,
		sessionID: cfg.SessionID,
		interval:  interval,
		maxTries:  maxTries,
		maxDelay:  maxDelay,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// Enqueue adds a finalized utterance to the pending batch. The first
// utterance after an empty queue arms the flush timer; later ones ride along
// without restarting it, so steady chatter still flushes every interval.
func (b *Batcher) Enqueue(u types.Utterance) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.queue = append(b.queue, u)
	if b.timer == nil && !b.inflight {
		b.armTimer(b.interval)
	}
}

// Pending returns the number of utterances waiting to be saved.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Flush drains the queue synchronously, waiting for any in-flight save to
// finish first. Returns the error of the final save attempt, if any.
// Intended for call teardown, where the transcript must be durable before
// the session is marked ended.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	for b.inflight {
		b.idle.Wait()
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := b.store.SaveMessageBatch(ctx, b.sessionID, batch); err != nil {
		return fmt.Errorf("persist: final flush: %w", err)
	}
	return nil
}

// Stop halts background flushing. Queued utterances are not saved; call
// [Batcher.Flush] first when they must be. Safe to call multiple times.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// armTimer schedules a flush after delay. Must be called with b.mu held.
func (b *Batcher) armTimer(delay time.Duration) {
	b.timer = time.AfterFunc(delay, b.flushNow)
}

// flushNow drains the whole queue and saves it. On failure the batch is
// requeued at the front and the timer is rearmed with exponential backoff.
func (b *Batcher) flushNow() {
	b.mu.Lock()
	b.timer = nil
	if b.stopped || b.inflight || len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.queue
	b.queue = nil
	b.inflight = true
	b.mu.Unlock()

	ctx := context.Background()
	start := time.Now()
	err := b.store.SaveMessageBatch(ctx, b.sessionID, batch)
	if b.metrics != nil {
		b.metrics.BatchFlushDuration.Record(ctx, time.Since(start).Seconds())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.inflight = false
	b.idle.Broadcast()

	if err != nil {
		b.attempts++
		if b.attempts >= b.maxTries {
			if b.metrics != nil {
				b.metrics.BatchDrops.Add(ctx, 1)
			}
			b.logger.Error("dropping message batch after repeated save failures",
				"session_id", b.sessionID,
				"batch_size", len(batch),
				"attempts", b.attempts,
				"error", err,
			)
			b.attempts = 0
		} else {
			if b.metrics != nil {
				b.metrics.BatchRetries.Add(ctx, 1)
			}
			// Requeue at the front so conversational order survives the retry.
			b.queue = append(batch, b.queue...)
			delay := b.backoff()
			b.logger.Warn("message batch save failed, will retry",
				"session_id", b.sessionID,
				"batch_size", len(batch),
				"attempt", b.attempts,
				"retry_in", delay,
				"error", err,
			)
			if !b.stopped {
				b.armTimer(delay)
			}
			return
		}
	} else {
		b.attempts = 0
	}

	// Anything enqueued during the save gets its own timer.
	if len(b.queue) > 0 && !b.stopped {
		b.armTimer(b.interval)
	}
}

// backoff returns the retry delay for the current attempt count: the flush
// interval doubled per consecutive failure, capped at maxDelay.
func (b *Batcher) backoff() time.Duration {
	delay := b.interval
	for i := 1; i < b.attempts; i++ {
		delay *= 2
		if delay >= b.maxDelay {
			return b.maxDelay
		}
	}
	if delay > b.maxDelay {
		return b.maxDelay
	}
	return delay
}
