// Package postgres implements the store interfaces on PostgreSQL via pgx.
//
// Two tables back the engine:
//
//	interview_sessions: one row per voice call, keyed by a ULID, carrying
//	the lifecycle status, timestamps, and the optional post-call summary.
//
//	interview_messages: one row per finalized utterance, keyed by the
//	utterance id so that retried batches are idempotent.
//
// All methods are safe for concurrent use; the pgx pool handles connection
// management.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verbatim-labs/verbatim/pkg/ids"
	"github.com/verbatim-labs/verbatim/pkg/store"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// Compile-time check that *Store satisfies the full persistence surface.
var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool for dsn, verifies connectivity, and ensures the
// schema exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the tables and indexes if they do not exist.
func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS interview_sessions (
			id               TEXT PRIMARY KEY,
			project_id       TEXT NOT NULL,
			respondent_id    TEXT NOT NULL,
			provider_call_id TEXT NOT NULL DEFAULT '',
			agent_id         TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			summary          TEXT NOT NULL DEFAULT '',
			started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at         TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS interview_messages (
			id                  TEXT PRIMARY KEY,
			session_id          TEXT NOT NULL REFERENCES interview_sessions(id),
			speaker             TEXT NOT NULL,
			text                TEXT NOT NULL,
			provider_message_id TEXT NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS interview_messages_session_idx
			ON interview_messages (session_id, created_at);`

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// CreateSession implements [store.SessionStore]. The generated session id is
// a ULID, so ids sort by creation time.
func (s *Store) CreateSession(ctx context.Context, params store.SessionParams) (string, error) {
	const q = `
		INSERT INTO interview_sessions
		    (id, project_id, respondent_id, provider_call_id, agent_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)`

	id := ids.New()
	_, err := s.pool.Exec(ctx, q,
		id,
		params.ProjectID,
		params.RespondentID,
		params.ProviderCallID,
		params.AgentID,
		string(types.SessionStarted),
	)
	if err != nil {
		return "", fmt.Errorf("postgres: create session: %w", err)
	}
	return id, nil
}

// UpdateSession implements [store.SessionStore]. Zero-valued patch fields
// are left untouched. Returns [store.ErrSessionNotFound] when id matches no
// row.
func (s *Store) UpdateSession(ctx context.Context, id string, patch store.SessionPatch) error {
	args := []any{id} // $1 = session id
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var sets []string
	if patch.Status != "" {
		sets = append(sets, "status = "+next(string(patch.Status)))
	}
	if patch.EndedAt != nil {
		sets = append(sets, "ended_at = "+next(*patch.EndedAt))
	}
	if patch.Summary != "" {
		sets = append(sets, "summary = "+next(patch.Summary))
	}
	if len(sets) == 0 {
		return nil
	}

	q := "UPDATE interview_sessions SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSessionNotFound
	}
	return nil
}

// SaveMessageBatch implements [store.MessageStore]. All rows are written in
// one transaction; ON CONFLICT DO NOTHING on the utterance id makes retried
// batches idempotent.
func (s *Store) SaveMessageBatch(ctx context.Context, sessionID string, msgs []types.Utterance) error {
	if len(msgs) == 0 {
		return nil
	}

	const q = `
		INSERT INTO interview_messages
		    (id, session_id, speaker, text, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(q,
			m.ID,
			sessionID,
			string(m.Speaker),
			m.Text,
			m.ProviderMessageID,
			m.CreatedAt,
		)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range msgs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: save message batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit batch: %w", err)
	}
	return nil
}

// Transcript returns all persisted messages for sessionID in conversational
// order. Used by the post-call summariser.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]types.Utterance, error) {
	const q = `
		SELECT id, speaker, text, provider_message_id, created_at
		FROM   interview_messages
		WHERE  session_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load transcript: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Utterance, error) {
		var (
			u       types.Utterance
			speaker string
		)
		if err := row.Scan(&u.ID, &speaker, &u.Text, &u.ProviderMessageID, &u.CreatedAt); err != nil {
			return types.Utterance{}, err
		}
		u.Speaker = types.Speaker(speaker)
		u.Stage = types.StageFinal
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transcript: %w", err)
	}
	return msgs, nil
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
