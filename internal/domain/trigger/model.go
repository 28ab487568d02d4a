// Package trigger models inbound events that may cause the agent to act and
// the per-conversation ordered queue they wait in.
package trigger

import "time"

// Kind identifies who authored the trigger.
type Kind string

const (
	KindVisitorMessage Kind = "visitor_message"
	KindHumanCommand   Kind = "human_command"
)

// Visibility controls whether the trigger is visitor-visible.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Trigger is an immutable reference to one inbound event.
type Trigger struct {
	ID             string
	ConversationID string
	Kind           Kind
	Visibility     Visibility
	CreatedAt      time.Time
}

// Before reports whether t sorts before other in queue order.
// Queue order is (CreatedAt, ID) ascending; on equal timestamps the
// lexicographically smaller ULID is earlier.
func (t Trigger) Before(other Trigger) bool {
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.Before(other.CreatedAt)
	}
	return t.ID < other.ID
}

// Batch is the coalesced unit processed by one pipeline run. Representative
// drives generation; Members is the ordered run it absorbs (itself included).
type Batch struct {
	Representative Trigger
	Members        []Trigger
}

// MemberIDs returns the ids of all absorbed triggers in queue order.
func (b Batch) MemberIDs() []string {
	ids := make([]string, 0, len(b.Members))
	for _, m := range b.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// Coalesce scans forward from the head of pending (already in queue order) and
// merges the contiguous run of visitor messages sharing the head's visibility.
// A human command, or a visitor message with different visibility, breaks the
// run. A human command at the head is processed alone.
func Coalesce(pending []Trigger) (Batch, bool) {
	if len(pending) == 0 {
		return Batch{}, false
	}

	head := pending[0]
	if head.Kind != KindVisitorMessage {
		return Batch{Representative: head, Members: []Trigger{head}}, true
	}

	members := []Trigger{head}
	for _, t := range pending[1:] {
		if t.Kind != KindVisitorMessage || t.Visibility != head.Visibility {
			break
		}
		members = append(members, t)
	}

	return Batch{Representative: members[len(members)-1], Members: members}, true
}
