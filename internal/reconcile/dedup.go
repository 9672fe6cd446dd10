package reconcile

import (
	"fmt"
	"time"

	"github.com/verbatim-labs/verbatim/pkg/types"
)

// dedupBucket is the width of the time bucket used when deduplicating
// utterances that arrived without a provider message id. Two finals with the
// same speaker and text landing in the same bucket are treated as one.
const dedupBucket = 5 * time.Second

// DedupKey returns the idempotency key for a finalized utterance.
//
// When the provider assigned a message id, that id alone identifies the
// utterance; retransmissions carry the same id. Without one, the key is a
// composite of speaker, text, and a coarse time bucket, which suppresses the
// near-simultaneous duplicates providers emit on reconnect without ever
// colliding with a speaker legitimately repeating themselves later in the
// conversation.
func DedupKey(u types.Utterance) string {
	if u.ProviderMessageID != "" {
		return "id:" + u.ProviderMessageID
	}
	bucket := u.CreatedAt.UnixNano() / int64(dedupBucket)
	return fmt.Sprintf("c:%s:%d:%s", u.Speaker, bucket, u.Text)
}
