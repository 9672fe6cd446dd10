package reconcile

import (
	"sync"
	"time"

	"github.com/verbatim-labs/verbatim/internal/classify"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// defaultQuietPeriod is how long a speaker must stay quiet (no newer interim
// result) before their buffered interim is promoted to the accumulator.
const defaultQuietPeriod = 500 * time.Millisecond

// InterimBuffer coalesces rapid interim transcript updates so that each
// refinement burst mutates the visible transcript at most once.
//
// At most one interim is pending per speaker key at any time; a newer interim
// for the same key silently supersedes the buffered one. Timers are keyed per
// speaker, so two speakers producing interim speech simultaneously cannot
// delay each other's flush. Final events bypass the buffer entirely and
// discard any pending interim for their speaker.
//
// All methods are safe for concurrent use.
type InterimBuffer struct {
	mu      sync.Mutex
	pending map[string]*pendingInterim // speaker key → buffered interim
	quiet   time.Duration
	flush   func(classify.Classified)
	stopped bool
}

// pendingInterim pairs a buffered classified event with its quiet-period
// timer and a generation counter that invalidates stale timer fires.
type pendingInterim struct {
	c     classify.Classified
	timer *time.Timer
	gen   uint64
}

// BufferOption configures an [InterimBuffer] during construction.
type BufferOption func(*InterimBuffer)

// WithQuietPeriod overrides the default 500ms quiet period. Useful in tests
// to keep suite execution fast. Non-positive values keep the default.
func WithQuietPeriod(d time.Duration) BufferOption {
	return func(b *InterimBuffer) {
		if d > 0 {
			b.quiet = d
		}
	}
}

// NewInterimBuffer creates a buffer that promotes settled interims to flush.
// flush is invoked from a timer goroutine and must be safe for concurrent
// use (the [Accumulator] is).
func NewInterimBuffer(flush func(classify.Classified), opts ...BufferOption) *InterimBuffer {
	b := &InterimBuffer{
		pending: make(map[string]*pendingInterim),
		quiet:   defaultQuietPeriod,
		flush:   flush,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Observe routes one classified event. Interims are buffered behind the
// quiet-period timer; finals cancel the speaker's pending interim and are
// passed to flush synchronously, before Observe returns.
func (b *InterimBuffer) Observe(c classify.Classified) {
	if c.Stage == types.StageFinal {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return
		}
		// The buffered interim is an earlier draft of this final: discard it
		// without flushing.
		interimKey := string(c.Speaker) + "-" + string(types.StageInterim)
		if p, ok := b.pending[interimKey]; ok {
			p.timer.Stop()
			delete(b.pending, interimKey)
		}
		b.mu.Unlock()

		b.flush(c)
		return
	}

	key := c.SpeakerKey()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	p, ok := b.pending[key]
	if ok {
		// Newer interim supersedes the buffered one; restart the quiet period.
		p.timer.Stop()
		p.c = c
		p.gen++
	} else {
		p = &pendingInterim{c: c}
		b.pending[key] = p
	}

	// Capture the generation at arm time so a fire scheduled for a superseded
	// entry is recognisably stale.
	gen := p.gen
	p.timer = time.AfterFunc(b.quiet, func() {
		b.fire(key, gen)
	})
}

// fire promotes the buffered interim for key unless a newer interim arrived
// after the timer was armed (generation mismatch) or the entry was discarded.
func (b *InterimBuffer) fire(key string, gen uint64) {
	b.mu.Lock()
	p, ok := b.pending[key]
	if !ok || p.gen != gen || b.stopped {
		b.mu.Unlock()
		return
	}
	c := p.c
	delete(b.pending, key)
	b.mu.Unlock()

	b.flush(c)
}

// Pending returns the number of buffered interim entries. Intended for
// tests and diagnostics.
func (b *InterimBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stop cancels all pending timers and discards buffered interims. Unflushed
// interim text is provisional by definition, so dropping it is safe. The
// buffer accepts no further events after Stop.
func (b *InterimBuffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for key, p := range b.pending {
		p.timer.Stop()
		delete(b.pending, key)
	}
}
