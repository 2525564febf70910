package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/intake"
	"github.com/c360studio/aiemployee/plan"
	"github.com/c360studio/aiemployee/vault"
)

// DefaultAutonomyMaxIterations and HardCapAutonomyIterations implement the
// bounded autonomy loop limits of §4.7.
const (
	DefaultAutonomyMaxIterations  = 10
	HardCapAutonomyIterations     = 50
	DefaultAutonomyMaxPlansPerRun = 5
)

// AutonomyTask configures one bounded autonomy loop run. Propose is the
// external collaborator (a content-generation model) that, given the task
// description and the current iteration, proposes zero or more candidate
// plans; the loop itself only ever drafts and submits those plans for
// approval, it never approves them.
type AutonomyTask struct {
	Description          string
	MaxIterations         int
	MaxPlansPerIteration  int
	Propose func(ctx context.Context, description string, iteration int) ([]plan.Plan, error)
}

// AutonomyResult records what a bounded autonomy loop run actually did.
type AutonomyResult struct {
	Iterations   int    `json:"iterations"`
	PlansCreated int    `json:"plans_created"`
	Halted       bool   `json:"halted"`
	HaltReason   string `json:"halt_reason,omitempty"`
}

// RunAutonomyLoop drives AutonomyTask.Propose for at most MaxIterations
// rounds (default 10, hard-capped at 50), drafting and submitting at most
// MaxPlansPerIteration (default 5) plans per round. It halts immediately
// — never self-approving — the moment a proposed plan is one that requires
// human approval, emitting exactly one autonomy_halt_pending_approval
// audit entry.
func (o *Orchestrator) RunAutonomyLoop(ctx context.Context, task AutonomyTask) (AutonomyResult, error) {
	maxIter := task.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultAutonomyMaxIterations
	}
	if maxIter > HardCapAutonomyIterations {
		maxIter = HardCapAutonomyIterations
	}
	maxPlans := task.MaxPlansPerIteration
	if maxPlans <= 0 {
		maxPlans = DefaultAutonomyMaxPlansPerRun
	}

	var result AutonomyResult

	for iteration := 0; iteration < maxIter; iteration++ {
		proposals, err := task.Propose(ctx, task.Description, iteration)
		if err != nil {
			o.emitAutonomyRemediation(task.Description, iteration, err)
			return result, err
		}
		if len(proposals) > maxPlans {
			proposals = proposals[:maxPlans]
		}

		result.Iterations++
		createdAny := false

		for _, candidate := range proposals {
			p, err := o.pm.CreateDraft(candidate)
			if err != nil {
				continue
			}
			p, err = o.pm.SubmitForApproval(p)
			if err != nil {
				continue
			}
			if err := o.reg.Upsert(ctx, p); err != nil {
				continue
			}
			result.PlansCreated++
			createdAny = true

			if plan.IsMutating(p.Channel, p.ActionType) {
				result.Halted = true
				result.HaltReason = fmt.Sprintf("plan %s (%s/%s) requires human approval", p.ID, p.Channel, p.ActionType)
				break
			}
		}

		if result.Halted {
			_ = o.logger.Log(audit.Entry{
				Timestamp:  time.Now().UTC(),
				ActionType: "autonomy_halt_pending_approval",
				Actor:      "orchestrator",
				Target:     task.Description,
				Result:     audit.ResultOK,
				Error:      result.HaltReason,
			})
			return result, nil
		}
		if !createdAny {
			break
		}
	}

	return result, nil
}

func (o *Orchestrator) emitAutonomyRemediation(description string, iteration int, cause error) {
	now := time.Now().UTC()
	detail := fmt.Sprintf("autonomy loop %q failed at iteration %d: %v", description, iteration, cause)

	item := intake.Item{
		Source:   "orchestrator:autonomy",
		Received: now,
		Type:     intake.TypeTask,
		ID:       fmt.Sprintf("remediation-autonomy-%d", now.UTC().Unix()),
		Subject:  "autonomy loop failed",
		Urgency:  "high",
		Excerpt:  detail,
	}
	path := fmt.Sprintf("%s/remediation__autonomy__%s.md", vault.DirNeedsAction, now.Format("20060102-1504"))
	if err := o.store.WriteAtomic(path, item.Render()); err != nil {
		return
	}
	_ = o.logger.Log(audit.Entry{
		Timestamp:  now,
		ActionType: "autonomy_failed",
		Actor:      "orchestrator",
		Target:     "autonomy",
		Result:     audit.ResultError,
		Error:      detail,
	})
}
