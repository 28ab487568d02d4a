package continuation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/supportdeck/agent-server/internal/domain/continuation"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

type stubClassifier struct {
	decision   continuation.Decision
	confidence float64
	err        error
	delay      time.Duration
}

func (s *stubClassifier) Classify(ctx context.Context, _ string, _ trigger.Batch) (continuation.Decision, float64, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.decision, s.confidence, s.err
}

func batch() trigger.Batch {
	t := trigger.Trigger{ID: "trg_01", ConversationID: "conv_a", Kind: trigger.KindVisitorMessage}
	return trigger.Batch{Representative: t, Members: []trigger.Trigger{t}}
}

func TestDecide_ConfidentSkip(t *testing.T) {
	svc := continuation.NewService(&stubClassifier{decision: continuation.DecisionSkip, confidence: 0.9}, time.Second, 0.7, zerolog.Nop())
	if got := svc.Decide(context.Background(), "conv_a", batch()); got != continuation.DecisionSkip {
		t.Errorf("Decide() = %s, want skip", got)
	}
}

func TestDecide_ErrorDefaultsToSupplement(t *testing.T) {
	svc := continuation.NewService(&stubClassifier{err: errors.New("upstream 503")}, time.Second, 0.7, zerolog.Nop())
	if got := svc.Decide(context.Background(), "conv_a", batch()); got != continuation.DecisionSupplement {
		t.Errorf("Decide() = %s, want supplement on error", got)
	}
}

func TestDecide_TimeoutDefaultsToSupplement(t *testing.T) {
	stub := &stubClassifier{decision: continuation.DecisionSkip, confidence: 0.99, delay: 200 * time.Millisecond}
	svc := continuation.NewService(stub, 20*time.Millisecond, 0.7, zerolog.Nop())
	if got := svc.Decide(context.Background(), "conv_a", batch()); got != continuation.DecisionSupplement {
		t.Errorf("Decide() = %s, want supplement on timeout", got)
	}
}

func TestDecide_LowConfidenceSkipSupplements(t *testing.T) {
	svc := continuation.NewService(&stubClassifier{decision: continuation.DecisionSkip, confidence: 0.3}, time.Second, 0.7, zerolog.Nop())
	if got := svc.Decide(context.Background(), "conv_a", batch()); got != continuation.DecisionSupplement {
		t.Errorf("Decide() = %s, want supplement below confidence floor", got)
	}
}

func TestDecide_NilClassifierSupplements(t *testing.T) {
	svc := continuation.NewService(nil, time.Second, 0.7, zerolog.Nop())
	if got := svc.Decide(context.Background(), "conv_a", batch()); got != continuation.DecisionSupplement {
		t.Errorf("Decide() = %s, want supplement without a classifier", got)
	}
}
