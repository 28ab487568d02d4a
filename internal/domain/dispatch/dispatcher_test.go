package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/supportdeck/agent-server/internal/domain/continuation"
	"github.com/supportdeck/agent-server/internal/domain/dispatch"
	"github.com/supportdeck/agent-server/internal/domain/rogue"
	"github.com/supportdeck/agent-server/internal/domain/send"
	"github.com/supportdeck/agent-server/internal/domain/trigger"
)

// ---- fakes -----------------------------------------------------------------

type memQueueRepo struct {
	mu      sync.Mutex
	pending map[string][]trigger.Trigger
	cursors map[string]string
}

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{
		pending: make(map[string][]trigger.Trigger),
		cursors: make(map[string]string),
	}
}

func (r *memQueueRepo) Insert(_ context.Context, t trigger.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.pending[t.ConversationID] {
		if existing.ID == t.ID {
			return nil
		}
	}
	list := append(r.pending[t.ConversationID], t)
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	r.pending[t.ConversationID] = list
	return nil
}

func (r *memQueueRepo) Pending(_ context.Context, conversationID string) ([]trigger.Trigger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]trigger.Trigger(nil), r.pending[conversationID]...), nil
}

func (r *memQueueRepo) Cursor(_ context.Context, conversationID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[conversationID], nil
}

func (r *memQueueRepo) Finalize(_ context.Context, conversationID, cursorID string, memberIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cursorID > r.cursors[conversationID] {
		r.cursors[conversationID] = cursorID
	}
	remove := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		remove[id] = true
	}
	kept := r.pending[conversationID][:0]
	for _, t := range r.pending[conversationID] {
		if !remove[t.ID] {
			kept = append(kept, t)
		}
	}
	r.pending[conversationID] = kept
	return nil
}

type fakeHistory struct {
	newerReply bool
}

func (h *fakeHistory) HasNewerPublicReply(_ context.Context, _ string, _ trigger.Trigger) (bool, error) {
	return h.newerReply, nil
}

type fakeDecider struct {
	decision continuation.Decision
	calls    int
}

func (d *fakeDecider) Decide(_ context.Context, _ string, _ trigger.Batch) continuation.Decision {
	d.calls++
	if d.decision == "" {
		return continuation.DecisionSupplement
	}
	return d.decision
}

// scriptedPipeline replays configured outcomes; executeErrs is consumed one
// entry per run (nil entries mean success).
type scriptedPipeline struct {
	decision    dispatch.Decision
	drafts      []dispatch.Draft
	generateErr error
	executeErrs []error

	runs            int
	representatives []string
	memberCounts    []int
}

func (p *scriptedPipeline) Intake(_ context.Context, run *dispatch.Run) error {
	p.runs++
	p.representatives = append(p.representatives, run.Batch.Representative.ID)
	p.memberCounts = append(p.memberCounts, len(run.Batch.Members))
	return nil
}

func (p *scriptedPipeline) Decide(_ context.Context, _ *dispatch.Run) (dispatch.Decision, error) {
	if p.decision == "" {
		return dispatch.DecisionRespond, nil
	}
	return p.decision, nil
}

func (p *scriptedPipeline) Generate(_ context.Context, _ *dispatch.Run) ([]dispatch.Draft, error) {
	if p.generateErr != nil {
		return nil, p.generateErr
	}
	return p.drafts, nil
}

func (p *scriptedPipeline) Execute(_ context.Context, _ *dispatch.Run) error {
	if len(p.executeErrs) == 0 {
		return nil
	}
	err := p.executeErrs[0]
	p.executeErrs = p.executeErrs[1:]
	return err
}

func (p *scriptedPipeline) Followup(_ context.Context, _ *dispatch.Run) error {
	return nil
}

type memRetryStore struct {
	mu      sync.Mutex
	records map[string]*dispatch.RetryRecord
}

func newMemRetryStore() *memRetryStore {
	return &memRetryStore{records: make(map[string]*dispatch.RetryRecord)}
}

func (s *memRetryStore) key(conversationID, triggerID string) string {
	return conversationID + "/" + triggerID
}

func (s *memRetryStore) Get(_ context.Context, conversationID, triggerID string) (dispatch.RetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[s.key(conversationID, triggerID)]; ok {
		return *rec, nil
	}
	return dispatch.RetryRecord{Attempts: 0, Retryable: true}, nil
}

func (s *memRetryStore) IncrementAttempts(_ context.Context, conversationID, triggerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(conversationID, triggerID)
	rec, ok := s.records[k]
	if !ok {
		rec = &dispatch.RetryRecord{Retryable: true}
		s.records[k] = rec
	}
	rec.Attempts++
	return rec.Attempts, nil
}

func (s *memRetryStore) MarkUnretryable(_ context.Context, conversationID, triggerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(conversationID, triggerID)
	rec, ok := s.records[k]
	if !ok {
		rec = &dispatch.RetryRecord{}
		s.records[k] = rec
	}
	rec.Retryable = false
	return nil
}

func (s *memRetryStore) Clear(_ context.Context, conversationID, triggerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, s.key(conversationID, triggerID))
	return nil
}

// fakePoster is the transactional message+receipt collaborator.
type fakePoster struct {
	mu       sync.Mutex
	receipts map[string]bool
	posted   []string
	failWith map[string]error // body -> error
}

func newFakePoster() *fakePoster {
	return &fakePoster{
		receipts: make(map[string]bool),
		failWith: make(map[string]error),
	}
}

func (p *fakePoster) PostReply(_ context.Context, _ string, triggerID, contentHash, body string, _ bool) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failWith[body]; err != nil {
		return false, err
	}
	key := triggerID + "/" + contentHash
	if p.receipts[key] {
		return false, nil
	}
	p.receipts[key] = true
	p.posted = append(p.posted, body)
	return true, nil
}

func (p *fakePoster) postedBodies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.posted...)
}

type fakeScheduler struct {
	mu    sync.Mutex
	wakes []time.Duration
}

func (s *fakeScheduler) ScheduleWake(_ context.Context, _ string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakes = append(s.wakes, delay)
	return nil
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wakes)
}

type fakePresence struct {
	mu         sync.Mutex
	begins     int
	stops      int
	forceStops int
}

func (p *fakePresence) Begin(_ context.Context, _ string) func() {
	p.mu.Lock()
	p.begins++
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.stops++
		p.mu.Unlock()
	}
}

func (p *fakePresence) ForceStop(_ context.Context, _ string) {
	p.mu.Lock()
	p.forceStops++
	p.mu.Unlock()
}

// ---- harness ---------------------------------------------------------------

type harness struct {
	repo      *memQueueRepo
	queue     *trigger.Queue
	history   *fakeHistory
	decider   *fakeDecider
	pipeline  *scriptedPipeline
	poster    *fakePoster
	retries   *memRetryStore
	scheduler *fakeScheduler
	presence  *fakePresence
	guard     *rogue.Guard
	disp      *dispatch.Dispatcher
}

func newHarness(t *testing.T, pipeline *scriptedPipeline, cfg dispatch.Config) *harness {
	t.Helper()

	repo := newMemQueueRepo()
	queue := trigger.NewQueue(repo, zerolog.Nop())
	history := &fakeHistory{}
	decider := &fakeDecider{}
	poster := newFakePoster()
	retries := newMemRetryStore()
	scheduler := &fakeScheduler{}
	pres := &fakePresence{}

	guardCfg := rogue.Config{MaxPublicSends: 8, Window: time.Minute, PauseDuration: 30 * time.Minute}
	guard := rogue.NewGuard(rogue.NewMemoryStore(guardCfg.Window), guardCfg, zerolog.Nop())

	sender := send.NewSender(poster, guard, retries, zerolog.Nop())

	if cfg.RetryWakeDelay == 0 {
		cfg.RetryWakeDelay = time.Second
	}

	disp := dispatch.NewDispatcher(
		queue, history, decider, pipeline, sender, guard, retries, scheduler, pres, cfg, zerolog.Nop(),
	)

	return &harness{
		repo:      repo,
		queue:     queue,
		history:   history,
		decider:   decider,
		pipeline:  pipeline,
		poster:    poster,
		retries:   retries,
		scheduler: scheduler,
		presence:  pres,
		guard:     guard,
		disp:      disp,
	}
}

func (h *harness) enqueueVisitors(t *testing.T, conv string, n int) []trigger.Trigger {
	t.Helper()
	base := time.Now()
	var out []trigger.Trigger
	for i := 0; i < n; i++ {
		tr := trigger.Trigger{
			ID:             fmt.Sprintf("trg_%02d", i+1),
			ConversationID: conv,
			Kind:           trigger.KindVisitorMessage,
			Visibility:     trigger.VisibilityPublic,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, h.queue.Enqueue(context.Background(), tr))
		out = append(out, tr)
	}
	return out
}

// ---- tests -----------------------------------------------------------------

func TestDrain_SingleVisitorMessageEndToEnd(t *testing.T) {
	pipeline := &scriptedPipeline{drafts: []dispatch.Draft{{Body: "Hi, happy to help!", Public: true}}}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))

	require.Equal(t, 1, pipeline.runs)
	require.Equal(t, []string{"Hi, happy to help!"}, h.poster.postedBodies())

	cursor, _ := h.repo.Cursor(context.Background(), "conv_a")
	require.Equal(t, "trg_01", cursor)

	pending, _ := h.repo.Pending(context.Background(), "conv_a")
	require.Empty(t, pending)
	require.GreaterOrEqual(t, h.presence.forceStops, 1, "typing indicator must be force-stopped at drain exit")
}

func TestDrain_CoalescesBurstIntoOneRun(t *testing.T) {
	pipeline := &scriptedPipeline{drafts: []dispatch.Draft{{Body: "answer", Public: true}}}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.enqueueVisitors(t, "conv_a", 3)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))

	require.Equal(t, 1, pipeline.runs, "a burst must coalesce into one pipeline run")
	require.Equal(t, []string{"trg_03"}, pipeline.representatives)
	require.Equal(t, []int{3}, pipeline.memberCounts)

	cursor, _ := h.repo.Cursor(context.Background(), "conv_a")
	require.Equal(t, "trg_03", cursor)
}

func TestDrain_ContinuationSkipFinalizesWithoutRunning(t *testing.T) {
	pipeline := &scriptedPipeline{}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.history.newerReply = true
	h.decider.decision = continuation.DecisionSkip
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))

	require.Zero(t, pipeline.runs, "skipped trigger must not reach the pipeline")
	require.Equal(t, 1, h.decider.calls)

	pending, _ := h.repo.Pending(context.Background(), "conv_a")
	require.Empty(t, pending)
}

func TestDrain_ContinuationSupplementStillRuns(t *testing.T) {
	pipeline := &scriptedPipeline{drafts: []dispatch.Draft{{Body: "one more thing", Public: true}}}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.history.newerReply = true
	h.decider.decision = continuation.DecisionSupplement
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))
	require.Equal(t, 1, pipeline.runs, "supplement verdict must run the pipeline")
}

func TestDrain_NoContinuationCheckWithoutNewerReply(t *testing.T) {
	pipeline := &scriptedPipeline{decision: dispatch.DecisionSilent}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))
	require.Zero(t, h.decider.calls, "classifier must not run for ordinary head-of-queue triggers")
	require.Equal(t, 1, pipeline.runs)
}

func TestDrain_TransientFailureSchedulesRetryAndStops(t *testing.T) {
	pipeline := &scriptedPipeline{
		drafts:      nil, // no sends, stays retryable
		executeErrs: []error{errors.New("upstream 503"), nil},
	}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3, RetryWakeDelay: 5 * time.Second})
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))

	require.Equal(t, 1, pipeline.runs)
	require.Equal(t, 1, h.scheduler.count(), "a retry wake must be scheduled")

	pending, _ := h.repo.Pending(context.Background(), "conv_a")
	require.Len(t, pending, 1, "members stay queued for the retry")

	// The retry wake fires: second drain succeeds and finalizes.
	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))
	require.Equal(t, 2, pipeline.runs)

	pending, _ = h.repo.Pending(context.Background(), "conv_a")
	require.Empty(t, pending)
}

func TestDrain_AttemptCeilingDropsTrigger(t *testing.T) {
	pipeline := &scriptedPipeline{
		executeErrs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")},
	}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 2})
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a")) // attempt 1, retry scheduled
	require.NoError(t, h.disp.Drain(context.Background(), "conv_a")) // attempt 2, ceiling hit, dropped

	require.Equal(t, 2, pipeline.runs)

	pending, _ := h.repo.Pending(context.Background(), "conv_a")
	require.Empty(t, pending, "exhausted trigger must be dropped")

	cursor, _ := h.repo.Cursor(context.Background(), "conv_a")
	require.Equal(t, "trg_01", cursor, "cursor advances past the dropped trigger")
}

func TestDrain_PartialFailureAfterPublicSendIsNotRetried(t *testing.T) {
	pipeline := &scriptedPipeline{
		drafts:      []dispatch.Draft{{Body: "partial answer", Public: true}},
		executeErrs: []error{errors.New("execution blew up")},
	}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 5})
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))

	// The public send flipped the record to unretryable, so the failure drops
	// the trigger instead of scheduling a retry.
	require.Equal(t, 1, pipeline.runs)
	require.Zero(t, h.scheduler.count(), "no retry wake after a public send")

	pending, _ := h.repo.Pending(context.Background(), "conv_a")
	require.Empty(t, pending)
	require.Equal(t, []string{"partial answer"}, h.poster.postedBodies(), "the one sent message stands, nothing duplicated")
}

func TestDrain_DuplicateSendSuppressedAcrossRuns(t *testing.T) {
	pipeline := &scriptedPipeline{
		drafts:      []dispatch.Draft{{Body: "the answer", Public: true}},
		executeErrs: nil,
	}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.enqueueVisitors(t, "conv_a", 1)

	// Seed a receipt as if a prior run of the same trigger already sent this
	// exact content before crashing mid-finalize.
	_, err := h.poster.PostReply(context.Background(), "conv_a", "trg_01", send.ContentKey("the answer"), "the answer", true)
	require.NoError(t, err)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))

	require.Equal(t, []string{"the answer"}, h.poster.postedBodies(), "re-running generation must not duplicate the send")
}

func TestDrain_PausedConversationDropsQueue(t *testing.T) {
	pipeline := &scriptedPipeline{}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.enqueueVisitors(t, "conv_a", 3)

	now := time.Now()
	for i := 0; i < 9; i++ {
		_, err := h.guard.RecordPublicSend(context.Background(), "conv_a", now)
		require.NoError(t, err)
	}

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))

	require.Zero(t, pipeline.runs, "generation must not run while paused")

	pending, _ := h.repo.Pending(context.Background(), "conv_a")
	require.Empty(t, pending, "queued triggers are dropped, not retried")

	cursor, _ := h.repo.Cursor(context.Background(), "conv_a")
	require.Equal(t, "trg_03", cursor)
}

func TestDrain_StaleWakeIsNoOp(t *testing.T) {
	pipeline := &scriptedPipeline{drafts: []dispatch.Draft{{Body: "ok", Public: true}}}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))
	require.Equal(t, 1, pipeline.runs)

	// A duplicate wake for already-finalized work does nothing.
	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))
	require.Equal(t, 1, pipeline.runs)
	require.Len(t, h.poster.postedBodies(), 1)
}

func TestDrain_SilentDecisionSendsNothing(t *testing.T) {
	pipeline := &scriptedPipeline{decision: dispatch.DecisionSilent, drafts: []dispatch.Draft{{Body: "should not send", Public: true}}}
	h := newHarness(t, pipeline, dispatch.Config{MaxAttempts: 3})
	h.enqueueVisitors(t, "conv_a", 1)

	require.NoError(t, h.disp.Drain(context.Background(), "conv_a"))
	require.Empty(t, h.poster.postedBodies())
	require.Zero(t, h.presence.begins, "no typing indicator without generation")

	pending, _ := h.repo.Pending(context.Background(), "conv_a")
	require.Empty(t, pending)
}
