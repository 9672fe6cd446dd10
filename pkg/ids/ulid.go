// Package ids provides ULID generation for session records and for
// utterances whose provider event carried no message id.
//
// ULIDs are lexicographically sortable, so locally assigned utterance ids
// preserve arrival order when compared as strings.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID string (26 chars) for the current time.
// Successive calls within the same millisecond remain strictly ordered.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewAt returns a ULID string for the given time. A zero time falls back to
// time.Now. Intended for tests and backfill tooling.
func NewAt(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
