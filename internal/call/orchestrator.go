// Package call orchestrates one live interview at a time: it owns the
// provider connection, feeds the provider's raw event stream through
// classification and reconciliation, and drives session lifecycle and
// persistence around the call.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/verbatim-labs/verbatim/internal/classify"
	"github.com/verbatim-labs/verbatim/internal/events"
	"github.com/verbatim-labs/verbatim/internal/guide"
	"github.com/verbatim-labs/verbatim/internal/observe"
	"github.com/verbatim-labs/verbatim/internal/persist"
	"github.com/verbatim-labs/verbatim/internal/reconcile"
	"github.com/verbatim-labs/verbatim/internal/session"
	"github.com/verbatim-labs/verbatim/internal/summary"
	"github.com/verbatim-labs/verbatim/pkg/provider/voice"
	"github.com/verbatim-labs/verbatim/pkg/store"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// teardownTimeout bounds the final batch flush and status writes when a call
// ends.
const teardownTimeout = 15 * time.Second

// StartParams describes the interview to start.
type StartParams struct {
	// ProjectID is the research project this interview belongs to.
	ProjectID string

	// RespondentID identifies the respondent being interviewed.
	RespondentID string

	// AgentID selects the provider-side voice agent. Falls back to the
	// orchestrator's configured default when empty.
	AgentID string

	// Guide is the ordered discussion guide rendered into the agent's
	// instructions. Optional.
	Guide []guide.Item

	// Metadata is attached to both the provider call and the session record.
	Metadata map[string]any
}

// Snapshot is a point-in-time view of the orchestrator's state.
type Snapshot struct {
	// Active reports whether a call is live.
	Active bool

	// Loading reports whether a call is being established.
	Loading bool

	// SessionID is the durable session record id, or "" when none exists.
	SessionID string

	// Transcript is the reconciled transcript so far, interims included.
	Transcript []types.Utterance

	// Err is the terminal error of the last call, nil after a clean end.
	Err error
}

// Config configures an [Orchestrator].
type Config struct {
	// Provider establishes voice calls.
	Provider voice.Provider

	// Store persists sessions and messages.
	Store store.Store

	// Publisher publishes finalized utterances. Optional.
	Publisher *events.Publisher

	// Summariser writes the post-call summary. Optional.
	Summariser *summary.Summariser

	// DefaultAgentID is used when StartParams carries no agent id.
	DefaultAgentID string

	// DebouncePeriod is the interim quiet period. Zero selects the
	// reconcile package default.
	DebouncePeriod time.Duration

	// FlushInterval is the persistence batching interval. Zero selects the
	// persist package default.
	FlushInterval time.Duration

	// MaxBatchAttempts and MaxBackoff tune batch retry behaviour. Zero
	// selects the persist package defaults.
	MaxBatchAttempts int
	MaxBackoff       time.Duration

	// Metrics records pipeline instruments. Optional.
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default] when nil.
	Logger *slog.Logger
}

// Orchestrator manages at most one live interview call. All methods are safe
// for concurrent use.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	sessions *session.Manager

	mu        sync.Mutex
	active    bool
	loading   bool
	lastErr   error
	handle    voice.CallHandle
	acc       *reconcile.Accumulator
	buf       *reconcile.InterimBuffer
	batcher   *persist.Batcher
	endOnce   *sync.Once
	onCallEnd func()
	onEvent   func(types.Event)
}

// New creates an [Orchestrator].
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		sessions: session.NewManager(cfg.Store, logger),
	}
}

// OnCallEnd registers a callback invoked once per call after teardown
// completes. Used by the HTTP layer to notify waiting clients.
func (o *Orchestrator) OnCallEnd(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onCallEnd = fn
}

// OnEvent registers a tap invoked with every raw provider event before it is
// classified. Useful for debugging and custom event handling; the tap must
// not block.
func (o *Orchestrator) OnEvent(fn func(types.Event)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEvent = fn
}

// StartInterview establishes a new call. Returns [ErrCallActive] while
// another call is live or connecting, and a configuration error for invalid
// params. The session record is created best effort: a storage failure
// degrades to an unpersisted call.
func (o *Orchestrator) StartInterview(ctx context.Context, params StartParams) error {
	agentID := params.AgentID
	if agentID == "" {
		agentID = o.cfg.DefaultAgentID
	}
	if agentID == "" {
		return fmt.Errorf("call: no agent id configured (%s)", KindConfiguration)
	}
	if params.ProjectID == "" || params.RespondentID == "" {
		return fmt.Errorf("call: project id and respondent id are required (%s)", KindConfiguration)
	}

	o.mu.Lock()
	if o.active || o.loading {
		o.mu.Unlock()
		return ErrCallActive
	}
	o.loading = true
	o.lastErr = nil
	o.mu.Unlock()

	o.sessions.Clear()
	sessionID, err := o.sessions.Create(ctx, store.SessionParams{
		ProjectID:    params.ProjectID,
		RespondentID: params.RespondentID,
		AgentID:      agentID,
		Metadata:     params.Metadata,
	})
	if err != nil {
		// Already logged by the manager; the call proceeds without a record.
		sessionID = ""
	}

	handle, err := o.cfg.Provider.Connect(ctx, voice.CallConfig{
		AgentID:      agentID,
		Instructions: guide.Format(params.Guide),
		Metadata:     params.Metadata,
	})
	if err != nil {
		o.sessions.UpdateStatus(ctx, types.SessionFailed)
		o.mu.Lock()
		o.loading = false
		o.lastErr = err
		o.mu.Unlock()
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordCallError(ctx, KindTransport.String())
		}
		return fmt.Errorf("call: connect: %w", err)
	}

	batcher := persist.NewBatcher(persist.Config{
		Store:         o.cfg.Store,
		SessionID:     sessionID,
		FlushInterval: o.cfg.FlushInterval,
		MaxAttempts:   o.cfg.MaxBatchAttempts,
		MaxBackoff:    o.cfg.MaxBackoff,
		Logger:        o.logger,
		Metrics:       o.cfg.Metrics,
	})

	acc := reconcile.NewAccumulator(
		o.finalSink(sessionID, batcher),
		reconcile.WithObserver(o.observeOutcome),
	)
	buf := reconcile.NewInterimBuffer(acc.Apply,
		reconcile.WithQuietPeriod(o.cfg.DebouncePeriod))

	o.mu.Lock()
	o.handle = handle
	o.acc = acc
	o.buf = buf
	o.batcher = batcher
	o.endOnce = new(sync.Once)
	o.active = true
	o.loading = false
	o.mu.Unlock()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.ActiveCalls.Add(ctx, 1)
	}
	o.logger.Info("interview started",
		"session_id", sessionID,
		"project_id", params.ProjectID,
		"agent_id", agentID,
	)

	go o.pump(handle, buf)
	return nil
}

// StopInterview ends the live call. Idempotent: stopping when no call is
// live is a no-op.
func (o *Orchestrator) StopInterview(ctx context.Context) error {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return nil
	}
	once := o.endOnce
	o.mu.Unlock()

	o.endCall(once, nil, false)
	return nil
}

// SendMessage injects a text message from the respondent into the live
// conversation. The message is echoed into the transcript immediately; the
// provider's own transcript event for it is suppressed by dedup.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return ErrNoActiveCall
	}
	handle := o.handle
	acc := o.acc
	batcher := o.batcher
	o.mu.Unlock()

	if err := handle.SendText(text); err != nil {
		return fmt.Errorf("call: send message: %w", err)
	}

	u := acc.AppendLocal(types.SpeakerRespondent, text, time.Now())
	if o.sessions.ID() != "" {
		batcher.Enqueue(u)
	}
	return nil
}

// Snapshot returns a point-in-time view of the orchestrator's state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		Active:    o.active,
		Loading:   o.loading,
		SessionID: o.sessions.ID(),
		Err:       o.lastErr,
	}
	if o.acc != nil {
		s.Transcript = o.acc.Transcript()
	}
	return s
}

// finalSink builds the per-call sink that persists and publishes finalized
// utterances. With no session record, persistence is skipped and the
// transcript lives only in memory.
func (o *Orchestrator) finalSink(sessionID string, batcher *persist.Batcher) reconcile.FinalSink {
	return func(u types.Utterance) {
		if sessionID != "" {
			batcher.Enqueue(u)
		}
		if o.cfg.Publisher != nil {
			_ = o.cfg.Publisher.PublishFinal(context.Background(), sessionID, u)
		}
	}
}

// observeOutcome maps accumulator outcomes onto metrics.
func (o *Orchestrator) observeOutcome(outcome reconcile.Outcome) {
	m := o.cfg.Metrics
	if m == nil {
		return
	}
	ctx := context.Background()
	switch outcome {
	case reconcile.OutcomeAppended:
		m.TranscriptAppends.Add(ctx, 1)
	case reconcile.OutcomeReplaced:
		m.TranscriptReplacements.Add(ctx, 1)
	case reconcile.OutcomeDuplicate:
		m.DuplicatesSuppressed.Add(ctx, 1)
	}
}

// pump drains the provider event stream for one call. It exits when the
// stream closes, then finishes teardown for provider-initiated ends.
func (o *Orchestrator) pump(handle voice.CallHandle, buf *reconcile.InterimBuffer) {
	o.mu.Lock()
	once := o.endOnce
	tap := o.onEvent
	o.mu.Unlock()

	ctx := context.Background()
	var failure error

	for ev := range handle.Events() {
		if tap != nil {
			tap(ev)
		}
		switch ev.Type {
		case "call-start":
			o.sessions.UpdateStatus(ctx, types.SessionInProgress)
			o.logger.Info("call established", "provider_call_id", handle.ID())

		case "call-end":
			o.logger.Info("call ended by provider")
			// Stream closure follows; teardown happens after the loop.

		case "error":
			msg := ev.ErrorMessage
			if msg == "" {
				msg = ev.Message
			}
			kind := ClassifyMessage(msg)
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordCallError(ctx, kind.String())
			}
			if kind == KindBenignTeardown {
				o.logger.Info("provider teardown notice", "message", msg)
				continue
			}
			failure = fmt.Errorf("call: provider error: %s", msg)
			o.logger.Error("call error", "message", msg, "kind", kind.String())

		default:
			c, ok := classify.Classify(ev, time.Now())
			if !ok {
				if o.cfg.Metrics != nil {
					o.cfg.Metrics.RecordDiscard(ctx, "filtered")
				}
				continue
			}
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordClassified(ctx, string(c.Speaker), string(c.Stage))
			}
			buf.Observe(c)
		}
	}

	if failure == nil {
		if err := handle.Err(); err != nil && ClassifyMessage(err.Error()) != KindBenignTeardown {
			failure = fmt.Errorf("call: transport: %w", err)
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.RecordCallError(ctx, KindTransport.String())
			}
		}
	}

	o.endCall(once, failure, failure != nil)
}

// endCall performs the one-shot teardown sequence: stop debouncing, flush
// pending messages, write the terminal status, summarise, and release the
// provider handle.
func (o *Orchestrator) endCall(once *sync.Once, cause error, failed bool) {
	once.Do(func() {
		o.mu.Lock()
		handle := o.handle
		buf := o.buf
		acc := o.acc
		batcher := o.batcher
		o.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		buf.Stop()
		if err := batcher.Flush(ctx); err != nil {
			o.logger.Error("final transcript flush failed", "error", err)
		}
		batcher.Stop()

		status := types.SessionEnded
		if failed {
			status = types.SessionFailed
		}
		sessionID := o.sessions.ID()
		o.sessions.UpdateStatus(ctx, status)

		if !failed && o.cfg.Summariser != nil && sessionID != "" {
			finals := make([]types.Utterance, 0, acc.Len())
			for _, u := range acc.Transcript() {
				if u.Stage == types.StageFinal {
					finals = append(finals, u)
				}
			}
			// Best effort; the summariser logs its own failures.
			_ = o.cfg.Summariser.Summarise(ctx, sessionID, finals)
		}

		_ = handle.Close()

		o.mu.Lock()
		o.active = false
		o.lastErr = cause
		onEnd := o.onCallEnd
		o.mu.Unlock()

		if o.cfg.Metrics != nil {
			o.cfg.Metrics.ActiveCalls.Add(ctx, -1)
		}
		o.logger.Info("interview ended",
			"session_id", sessionID,
			"status", status,
			"error", cause,
		)

		if onEnd != nil {
			onEnd()
		}
	})
}
