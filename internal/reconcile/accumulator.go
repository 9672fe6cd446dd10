// Package reconcile turns the classified transcript event stream into a
// stable, ordered transcript of speaker turns.
//
// Two cooperating pieces live here. The [InterimBuffer] debounces the flood
// of near-duplicate interim results each speaker produces, promoting only the
// latest one after a quiet period. The [Accumulator] is the turn state
// machine: it decides whether an incoming utterance replaces the current
// speaker's in-flight entry or opens a new turn, suppresses duplicate finals,
// and hands finalized utterances to a registered sink (the persistence
// batcher).
//
// All exported methods are safe for concurrent use; provider callbacks and
// debounce timers may fire from different goroutines.
package reconcile

import (
	"sync"
	"time"

	"github.com/verbatim-labs/verbatim/internal/classify"
	"github.com/verbatim-labs/verbatim/pkg/ids"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// FinalSink receives each utterance that reaches final stage, exactly once.
// Implementations must not block; the accumulator calls the sink inline on
// the event path.
type FinalSink func(types.Utterance)

// Outcome describes what [Accumulator.Apply] did with an utterance.
type Outcome int

const (
	// OutcomeAppended means the utterance opened a new turn.
	OutcomeAppended Outcome = iota

	// OutcomeReplaced means the utterance replaced the live interim entry.
	OutcomeReplaced

	// OutcomeDuplicate means a duplicate final was suppressed.
	OutcomeDuplicate
)

// Accumulator maintains the ordered transcript and the speaker cursor for
// one active call. Construct one per call with [NewAccumulator] and discard
// it when the call ends.
type Accumulator struct {
	mu sync.Mutex

	entries []types.Utterance

	// currentSpeaker and liveIdx form the speaker cursor: the speaker who
	// produced the most recent entry and that entry's transcript position.
	// liveIdx is -1 when no live utterance exists (fresh call or after Reset).
	currentSpeaker types.Speaker
	liveIdx        int

	// seen holds dedup keys of placed finals for duplicate suppression.
	seen map[string]struct{}

	onFinal  FinalSink
	observer func(Outcome)
	newID    func() string
}

// AccumulatorOption configures an [Accumulator] during construction.
type AccumulatorOption func(*Accumulator)

// WithIDGenerator overrides the fallback id generator used for utterances
// whose provider event carried no message id. Useful in tests for
// deterministic ids. The default generates ULIDs.
func WithIDGenerator(fn func() string) AccumulatorOption {
	return func(a *Accumulator) {
		a.newID = fn
	}
}

// WithObserver registers a callback invoked with the [Outcome] of every
// Apply. Used for metrics; must not block.
func WithObserver(fn func(Outcome)) AccumulatorOption {
	return func(a *Accumulator) {
		a.observer = fn
	}
}

// NewAccumulator creates an empty Accumulator. onFinal may be nil when no
// downstream persistence is wired (tests, dry runs).
func NewAccumulator(onFinal FinalSink, opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		liveIdx: -1,
		seen:    make(map[string]struct{}),
		onFinal: onFinal,
		newID:   ids.New,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply feeds one classified utterance through the turn state machine.
//
// If the utterance belongs to the current speaker and that speaker's live
// entry is still interim, the live entry is replaced in place. This covers
// both an interim refining itself and the final that closes the utterance
// out. Otherwise the utterance is appended as a new turn and the speaker
// cursor moves to it. Duplicate finals (same dedup key) are dropped without
// touching the transcript.
func (a *Accumulator) Apply(c classify.Classified) {
	u := types.Utterance{
		ID:                c.ProviderMessageID,
		Text:              c.Text,
		Speaker:           c.Speaker,
		Stage:             c.Stage,
		CreatedAt:         c.Timestamp,
		ProviderMessageID: c.ProviderMessageID,
	}
	if u.ID == "" {
		u.ID = a.newID()
	}

	a.mu.Lock()

	if u.Stage == types.StageFinal {
		key := DedupKey(u)
		if _, dup := a.seen[key]; dup {
			observer := a.observer
			a.mu.Unlock()
			if observer != nil {
				observer(OutcomeDuplicate)
			}
			return
		}
		a.seen[key] = struct{}{}
	}

	outcome := OutcomeAppended
	if a.liveIdx >= 0 &&
		a.currentSpeaker == u.Speaker &&
		a.entries[a.liveIdx].Stage == types.StageInterim {
		// Same speaker refining their in-flight utterance: replace in place,
		// keeping the transcript position.
		a.entries[a.liveIdx] = u
		outcome = OutcomeReplaced
	} else {
		a.entries = append(a.entries, u)
		a.currentSpeaker = u.Speaker
		a.liveIdx = len(a.entries) - 1
	}

	final := u.Stage == types.StageFinal
	sink := a.onFinal
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(outcome)
	}

	// Hand finals off outside the lock so a slow sink cannot stall the
	// event path's view of the transcript.
	if final && sink != nil {
		sink(u)
	}
}

// AppendLocal appends a locally authored utterance directly, bypassing the
// reconciliation state machine. Used for the optimistic echo of messages the
// respondent typed themselves: the text is trusted and already final.
func (a *Accumulator) AppendLocal(speaker types.Speaker, text string, now time.Time) types.Utterance {
	u := types.Utterance{
		ID:        a.newID(),
		Text:      text,
		Speaker:   speaker,
		Stage:     types.StageFinal,
		CreatedAt: now,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.seen[DedupKey(u)] = struct{}{}
	a.entries = append(a.entries, u)
	a.currentSpeaker = speaker
	a.liveIdx = len(a.entries) - 1
	return u
}

// Transcript returns a copy of the current transcript in conversational
// order. Interim entries are included so the UI shows them live.
func (a *Accumulator) Transcript() []types.Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]types.Utterance, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of transcript entries.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Reset clears the transcript, the speaker cursor, and the dedup set.
// Called at call start and call end.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = nil
	a.currentSpeaker = ""
	a.liveIdx = -1
	a.seen = make(map[string]struct{})
}
