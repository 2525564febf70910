// Package executor is the one component allowed to act: it drives an
// approved plan from its filesystem placement through precondition
// checking, dry-run (with a second-approval gate for sensitive actions),
// and execution, never fabricating success on a failed or skipped call.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/plan"
	"github.com/c360studio/aiemployee/registry"
	"github.com/c360studio/aiemployee/vault"
)

// DefaultTimeout is the per-action timeout applied when no override is
// configured for an action type (§5).
const DefaultTimeout = 30 * time.Second

// retryBaseInterval and maxRetryAttempts implement the backoff policy of
// §4.6 step 3: base 2s, at most 3 attempts total.
const (
	retryBaseInterval = 2 * time.Second
	maxRetryAttempts  = 3
)

// Outcome is the result of one Run call, returned alongside the updated
// plan so the caller (orchestrator) can log or reschedule.
type Outcome string

const (
	// OutcomeExecuted means the plan reached Plans/completed.
	OutcomeExecuted Outcome = "executed"
	// OutcomeFailed means the plan reached Plans/failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeAwaitingSecondApproval means the dry-run succeeded and the
	// plan was re-queued into Pending_Approval/ for a sensitive action.
	OutcomeAwaitingSecondApproval Outcome = "awaiting_second_approval"
	// OutcomeRejected means a precondition failed; no file was moved.
	OutcomeRejected Outcome = "rejected"
)

// Executor drives approved plans to a terminal state.
type Executor struct {
	store    *vault.Store
	plans    *plan.Manager
	reg      *registry.Registry
	logger   *audit.Logger
	adapters func(name string) adapters.Channel

	actionTimeouts map[string]time.Duration

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	locksMu sync.Mutex
	locks   map[string]*pairLock

	retryObserver func(channel string)
}

type pairLock struct {
	mu    sync.Mutex
	depth int
}

// New returns an Executor. lookup resolves a channel name to its adapter,
// normally adapters.Get.
func New(store *vault.Store, plans *plan.Manager, reg *registry.Registry, logger *audit.Logger, lookup func(name string) adapters.Channel) *Executor {
	return &Executor{
		store:          store,
		plans:          plans,
		reg:            reg,
		logger:         logger,
		adapters:       lookup,
		actionTimeouts: make(map[string]time.Duration),
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
		locks:          make(map[string]*pairLock),
	}
}

// SetRetryObserver registers a callback invoked once per retry attempt
// (i.e. not on the first attempt), keyed by channel. Optional; used by the
// orchestrator to feed its retry-count metric without this package
// importing prometheus directly.
func (e *Executor) SetRetryObserver(fn func(channel string)) {
	e.retryObserver = fn
}

// SetActionTimeout overrides the per-action timeout for actionType.
func (e *Executor) SetActionTimeout(actionType string, d time.Duration) {
	e.actionTimeouts[actionType] = d
}

func (e *Executor) timeoutFor(actionType string) time.Duration {
	if d, ok := e.actionTimeouts[actionType]; ok {
		return d
	}
	return DefaultTimeout
}

func (e *Executor) breakerFor(channel string) *gobreaker.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	cb, ok := e.breakers[channel]
	if !ok {
		cb = adapters.NewCircuitBreaker(channel)
		e.breakers[channel] = cb
	}
	return cb
}

func pairKey(channel plan.Channel, userID string) string {
	return string(channel) + "/" + userID
}

func (e *Executor) lockFor(channel plan.Channel, userID string) *pairLock {
	key := pairKey(channel, userID)
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &pairLock{}
		e.locks[key] = l
	}
	return l
}

// QueueDepth reports how many Run calls for (channel, userID) are
// currently queued or executing, so the orchestrator can enforce the
// soft backpressure bound of §5 before dispatching another plan.
func (e *Executor) QueueDepth(channel plan.Channel, userID string) int {
	e.locksMu.Lock()
	l, ok := e.locks[pairKey(channel, userID)]
	e.locksMu.Unlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth
}

// PairDepths returns the current queue depth of every (channel, user_id)
// pair that has ever been dispatched through this executor, for the
// orchestrator's system-status snapshot.
func (e *Executor) PairDepths() map[string]int {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	depths := make(map[string]int, len(e.locks))
	for key, l := range e.locks {
		l.mu.Lock()
		depths[key] = l.depth
		l.mu.Unlock()
	}
	return depths
}

func secondApprovalRequired(channel plan.Channel, actionType string) bool {
	// Default configuration: every mutating action is sensitive and
	// requires the second dry-run approval gate.
	return plan.IsMutating(channel, actionType)
}

func approvedPlainPath(id string) string { return fmt.Sprintf("%s/%s.md", vault.DirApproved, id) }
func approvedSecondPath(id string) string {
	return fmt.Sprintf("%s/%s%s.md", vault.DirApproved, id, plan.DryRunSuffix)
}

// Run executes the full §4.6 algorithm against the plan loaded from
// relPath, one of the files an orchestrator sweep found under Approved/.
func (e *Executor) Run(ctx context.Context, relPath string) (plan.Plan, Outcome, error) {
	p, err := e.plans.Load(relPath)
	if err != nil {
		return plan.Plan{}, OutcomeRejected, err
	}

	isSecondApproval := relPath == approvedSecondPath(p.ID)

	// The markdown template carries no registry-only fields (UserID,
	// Status, CreatedAt); the registry row is authoritative for those, so
	// it is merged into p before anything else uses them.
	row, err := e.reg.Get(ctx, p.ID)
	if err != nil {
		return p, OutcomeRejected, err
	}
	p.UserID = row.UserID
	p.Status = row.Status
	p.RiskLevel = row.RiskLevel
	p.CreatedAt = row.CreatedAt

	l := e.lockFor(p.Channel, p.UserID)
	l.mu.Lock()
	l.depth++
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.depth--
		l.mu.Unlock()
	}()

	ch, err := e.checkPreconditions(ctx, p, relPath, isSecondApproval)
	if err != nil {
		return p, OutcomeRejected, err
	}

	if !isSecondApproval {
		var outcome Outcome
		p, outcome, err = e.dryRun(ctx, ch, p)
		if err != nil || outcome != OutcomeExecuted {
			return p, outcome, err
		}
	}

	return e.execute(ctx, ch, p)
}

// checkPreconditions implements §4.6 step 1: the plan file must physically
// sit in Approved/, the registry row must agree on status, and the
// channel must have a registered adapter. p.Status is already the
// registry's view by the time this runs (see Run).
func (e *Executor) checkPreconditions(ctx context.Context, p plan.Plan, relPath string, isSecondApproval bool) (adapters.Channel, error) {
	wantPath := approvedPlainPath(p.ID)
	if isSecondApproval {
		wantPath = approvedSecondPath(p.ID)
	}
	if relPath != wantPath || !e.store.Exists(wantPath) {
		return nil, errs.Precondition(fmt.Sprintf("plan %s is not physically present in Approved/", p.ID), nil)
	}

	if p.Status != plan.StatusApproved {
		return nil, errs.Precondition(fmt.Sprintf("plan %s: registry status %s disagrees with Approved/ placement", p.ID, p.Status), nil)
	}

	ch := e.adapters(string(p.Channel))
	if ch == nil {
		return nil, errs.Precondition(fmt.Sprintf("no adapter registered for channel %s", p.Channel), nil)
	}
	return ch, nil
}

// dryRun implements §4.6 step 2. On success for a sensitive action it
// re-queues the plan into Pending_Approval/ with the .dryrun suffix and
// returns OutcomeAwaitingSecondApproval without executing.
func (e *Executor) dryRun(ctx context.Context, ch adapters.Channel, p plan.Plan) (plan.Plan, Outcome, error) {
	dctx, cancel := context.WithTimeout(ctx, e.timeoutFor(p.ActionType))
	defer cancel()

	preview, err := ch.DryRun(dctx, p.ActionType, p.Payload)
	if err != nil {
		return e.reject(p, err)
	}

	if p.Result == nil {
		p.Result = &plan.Result{}
	}
	p.Result.Preview = preview.Summary
	p.DryRunPreview = preview.Summary

	if err := e.logger.Log(audit.Entry{
		Timestamp:  time.Now().UTC(),
		ActionType: p.ActionType,
		Actor:      "executor",
		Target:     p.ID,
		Parameters: preview.Summary,
		Result:     audit.ResultDryRun,
	}); err != nil {
		return p, OutcomeRejected, err
	}

	if !secondApprovalRequired(p.Channel, p.ActionType) {
		return p, OutcomeExecuted, nil
	}

	if err := e.store.WriteAtomic(approvedPlainPath(p.ID), plan.Render(p)); err != nil {
		return p, OutcomeRejected, err
	}

	p, err = e.plans.RequestSecondApproval(p)
	if err != nil {
		return p, OutcomeRejected, err
	}
	return p, OutcomeAwaitingSecondApproval, nil
}

// execute implements §4.6 step 3.
func (e *Executor) execute(ctx context.Context, ch adapters.Channel, p plan.Plan) (plan.Plan, Outcome, error) {
	result, duration, execErr := e.executeWithRetry(ctx, ch, p)
	now := time.Now().UTC()

	if execErr == nil {
		planResult := plan.Result{
			OK:           true,
			UpstreamID:   result.UpstreamID,
			EndpointUsed: result.EndpointUsed,
			DurationMS:   duration.Milliseconds(),
			Extra:        result.Extra,
		}
		p, err := e.plans.MarkExecuted(p, planResult)
		if err != nil {
			return p, OutcomeFailed, err
		}
		if err := e.reg.Upsert(ctx, p); err != nil {
			return p, OutcomeFailed, err
		}
		if err := e.logger.Log(audit.Entry{
			Timestamp:  now,
			ActionType: p.ActionType,
			Actor:      "executor",
			Target:     p.ID,
			Result:     audit.ResultOK,
			DurationMS: duration.Milliseconds(),
		}); err != nil {
			return p, OutcomeFailed, err
		}
		return p, OutcomeExecuted, nil
	}

	planResult := plan.Result{OK: false, Error: execErr.Error(), DurationMS: duration.Milliseconds()}
	p, err := e.plans.MarkFailed(p, planResult)
	if err != nil {
		return p, OutcomeFailed, err
	}
	if err := e.reg.Upsert(ctx, p); err != nil {
		return p, OutcomeFailed, err
	}

	detail := fmt.Sprintf("plan %s (%s/%s): %v", p.ID, p.Channel, p.ActionType, execErr)
	if err := emitRemediation(e.store, e.logger, string(p.Channel), now, detail); err != nil {
		return p, OutcomeFailed, err
	}
	if err := e.logger.Log(audit.Entry{
		Timestamp:  now,
		ActionType: p.ActionType,
		Actor:      "executor",
		Target:     p.ID,
		Result:     audit.ResultError,
		Error:      execErr.Error(),
		DurationMS: duration.Milliseconds(),
	}); err != nil {
		return p, OutcomeFailed, err
	}
	return p, OutcomeFailed, nil
}

// reject handles a dry-run validation failure: the plan is left in place
// (a schema rejection is a precondition failure, not an execution
// attempt), and the error is returned uninterpreted for the caller to log.
func (e *Executor) reject(p plan.Plan, err error) (plan.Plan, Outcome, error) {
	return p, OutcomeRejected, err
}

// executeWithRetry invokes ch.Execute, retrying transient failures with
// exponential backoff (base 2s, at most 3 attempts total) unless the
// action type is tagged no-retry, per §4.5 rule 4 and §4.6 step 3. Every
// attempt runs through the channel's circuit breaker.
func (e *Executor) executeWithRetry(ctx context.Context, ch adapters.Channel, p plan.Plan) (adapters.Result, time.Duration, error) {
	noRetry := plan.IsNoRetry(p.Channel, p.ActionType)
	cb := e.breakerFor(string(p.Channel))

	start := time.Now()
	var result adapters.Result
	attemptNum := 0

	attempt := func() error {
		if attemptNum > 0 && e.retryObserver != nil {
			e.retryObserver(string(p.Channel))
		}
		attemptNum++

		ectx, cancel := context.WithTimeout(ctx, e.timeoutFor(p.ActionType))
		defer cancel()

		out, cbErr := cb.Execute(func() (any, error) {
			return ch.Execute(ectx, p.ActionType, p.Payload)
		})
		if cbErr != nil {
			if noRetry || !errs.IsRetryable(cbErr) {
				return backoff.Permanent(cbErr)
			}
			return cbErr
		}
		result = out.(adapters.Result)
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryBaseInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetryAttempts-1), ctx)

	err := backoff.Retry(attempt, policy)
	return result, time.Since(start), err
}

// emitRemediation writes an operator-actionable remediation intake under
// Needs_Action/ describing a plan's permanent execution failure, mirroring
// the watcher-degradation remediation pattern but scoped to the executor.
func emitRemediation(store *vault.Store, logger *audit.Logger, channel string, now time.Time, detail string) error {
	item := intake.Item{
		Source:   "executor:" + channel,
		Received: now,
		Type:     intake.TypeTask,
		ID:       fmt.Sprintf("remediation-%s-%d", channel, now.UTC().Unix()),
		Subject:  fmt.Sprintf("%s execution failed", channel),
		Urgency:  "high",
		Excerpt:  detail,
	}
	path := fmt.Sprintf("%s/remediation__%s__%s.md", vault.DirNeedsAction, channel, now.UTC().Format("20060102-1504"))
	if err := store.WriteAtomic(path, item.Render()); err != nil {
		return err
	}
	return logger.Log(audit.Entry{
		Timestamp:  now,
		ActionType: "execution_failed",
		Actor:      "executor",
		Target:     channel,
		Result:     audit.ResultError,
		Error:      detail,
	})
}
