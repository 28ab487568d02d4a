// Package triggerid generates prefixed, time-ordered identifiers.
//
// Ids are ULIDs, so lexicographic order matches creation order. The queue
// relies on this for its (created_at, id) tiebreak.
package triggerid

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	TriggerPrefix      = "trg_"
	MessagePrefix      = "msg_"
	ConversationPrefix = "conv_"
)

var (
	entropyOnce sync.Once
	entropyMu   sync.Mutex
	entropy     *ulid.MonotonicEntropy
)

func newEntropy() *ulid.MonotonicEntropy {
	entropyOnce.Do(func() {
		source := rand.NewSource(time.Now().UnixNano())
		entropy = ulid.Monotonic(rand.New(source), 0)
	})
	return entropy
}

func newID(prefix string) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), newEntropy())
	return prefix + strings.ToLower(id.String())
}

// NewTrigger returns a trg_* ULID string.
func NewTrigger() string { return newID(TriggerPrefix) }

// NewMessage returns a msg_* ULID string.
func NewMessage() string { return newID(MessagePrefix) }

// NewConversation returns a conv_* ULID string.
func NewConversation() string { return newID(ConversationPrefix) }

// IsValid reports whether the string is a ULID carrying the given prefix.
func IsValid(value, prefix string) bool {
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	_, err := Parse(value, prefix)
	return err == nil
}

// Parse strips the prefix and returns the ULID.
func Parse(value, prefix string) (ulid.ULID, error) {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, prefix)
	return ulid.Parse(value)
}
