package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/supportdeck/agent-server/internal/domain/conversation"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

// StageName identifies one of the five pipeline stages.
type StageName string

const (
	StageIntake     StageName = "intake"
	StageDecision   StageName = "decision"
	StageGeneration StageName = "generation"
	StageExecution  StageName = "execution"
	StageFollowup   StageName = "followup"
)

// Severity decides the dispatcher's reaction to a stage failure.
type Severity string

const (
	SeverityRetryable Severity = "retryable"
	SeverityFatal     Severity = "fatal"
)

// StageError is a typed stage failure. Stage errors never cross the wake
// boundary; the dispatcher converts them into a retry or drop decision.
type StageError struct {
	Stage    StageName
	Severity Severity
	Message  string
	Cause    error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure may be retried.
func (e *StageError) IsRetryable() bool {
	return e.Severity == SeverityRetryable
}

// Retryable wraps a transient stage failure.
func Retryable(stage StageName, message string, cause error) *StageError {
	return &StageError{Stage: stage, Severity: SeverityRetryable, Message: message, Cause: cause}
}

// Fatal wraps a permanent stage failure.
func Fatal(stage StageName, message string, cause error) *StageError {
	return &StageError{Stage: stage, Severity: SeverityFatal, Message: message, Cause: cause}
}

// asStageError normalizes an arbitrary stage error. Unknown errors default to
// retryable: the taxonomy biases toward retry for transient upstream faults,
// and the attempts ceiling bounds the damage when that guess is wrong.
func asStageError(stage StageName, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(stage, "stage timed out", err)
	}
	return Retryable(stage, "stage failed", err)
}

// Decision is the outcome of the decision stage.
type Decision string

const (
	DecisionRespond Decision = "respond"
	DecisionSilent  Decision = "silent"
)

// Draft is one message produced by the generation stage, not yet posted.
type Draft struct {
	Body   string
	Public bool
}

// Run carries the mutable context threaded through one pipeline execution.
type Run struct {
	ConversationID string
	Batch          trigger.Batch
	Attempt        int
	History        []conversation.Message
}

// Pipeline is the five-stage collaborator contract. Each stage is a function
// of the run context; results come back as values or typed errors, never as
// state smuggled between stages.
type Pipeline interface {
	Intake(ctx context.Context, run *Run) error
	Decide(ctx context.Context, run *Run) (Decision, error)
	Generate(ctx context.Context, run *Run) ([]Draft, error)
	Execute(ctx context.Context, run *Run) error
	Followup(ctx context.Context, run *Run) error
}
