package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/vault"
)

// DryRunSuffix marks a plan file re-emitted into Pending_Approval/ for a
// second human approval of its dry-run preview (§4.6 step 2).
const DryRunSuffix = ".dryrun"

// ApprovalRefSidecarSuffix names the optional plain-text sidecar a human
// may drop next to the moved plan file (e.g. "Approved/<id>.approved_by")
// to record their own identity as the mover. Its extension is deliberately
// not ".md" so ListApproved's "*.md" glob never mistakes it for a plan.
const ApprovalRefSidecarSuffix = ".approved_by"

// UnknownApprover is the approval_ref recorded when a plan's terminal
// folder carries no identity sidecar and the Manager has none configured.
const UnknownApprover = "unknown"

// Manager drives the plan state machine by moving files within the vault.
// The filesystem is authoritative for approval state (P5); Manager never
// accepts an API call as an approval signal.
type Manager struct {
	store           *vault.Store
	defaultApprover string
}

// NewManager returns a Manager backed by store.
func NewManager(store *vault.Store) *Manager {
	return &Manager{store: store, defaultApprover: UnknownApprover}
}

// WithDefaultApprover sets the approval_ref recorded for plans whose
// Approved//Rejected/ folder carries no ".approved_by" sidecar, per §9's
// configured-default-identity fallback.
func (m *Manager) WithDefaultApprover(id string) *Manager {
	if id != "" {
		m.defaultApprover = id
	}
	return m
}

func draftPath(id string) string { return fmt.Sprintf("%s/%s.md", vault.DirPlans, id) }
func pendingPath(id string) string {
	return fmt.Sprintf("%s/%s.md", vault.DirPendingApproval, id)
}
func pendingDryRunPath(id string) string {
	return fmt.Sprintf("%s/%s%s.md", vault.DirPendingApproval, id, DryRunSuffix)
}
func approvedPath(id string) string  { return fmt.Sprintf("%s/%s.md", vault.DirApproved, id) }
func rejectedPath(id string) string  { return fmt.Sprintf("%s/%s.md", vault.DirRejected, id) }
func completedPath(id string) string { return fmt.Sprintf("%s/%s.md", vault.DirPlansCompleted, id) }
func failedPath(id string) string    { return fmt.Sprintf("%s/%s.md", vault.DirPlansFailed, id) }

// CreateDraft writes p's markdown representation into Plans/ with
// status draft.
func (m *Manager) CreateDraft(p Plan) (Plan, error) {
	now := time.Now().UTC()
	p.Status = StatusDraft
	p.CreatedAt = now
	p.UpdatedAt = now
	p.FilePath = draftPath(p.ID)

	if err := m.store.WriteAtomic(p.FilePath, Render(p)); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// SubmitForApproval moves p from Plans/ to Pending_Approval/, making its
// payload immutable (P4 begins here for the payload's practical lifetime,
// though the invariant is formally anchored at executed/failed).
func (m *Manager) SubmitForApproval(p Plan) (Plan, error) {
	if p.Status != StatusDraft {
		return Plan{}, errs.Precondition(fmt.Sprintf("plan %s: cannot submit for approval from status %s", p.ID, p.Status), nil)
	}
	if err := m.store.Move(draftPath(p.ID), pendingPath(p.ID)); err != nil {
		return Plan{}, err
	}
	p.Status = StatusPendingApproval
	p.FilePath = pendingPath(p.ID)
	p.UpdatedAt = time.Now().UTC()
	return p, nil
}

// ApprovalOutcome is what DetectApproval observes by inspecting the vault.
type ApprovalOutcome struct {
	Status      Status
	ApprovalRef string
	Conflicted  bool // both Approved/ and Rejected/ contained the file
}

// DetectApproval inspects Approved/ and Rejected/ for id's plan file. A
// file present in both (human copied instead of moved) ties to rejected
// and execution is refused, per §4.3's tie-breaking rule. The mover's
// identity is read from an ".approved_by" sidecar next to whichever file
// settled the outcome, falling back to the Manager's configured default
// approver when no sidecar was left (§4.3, §9).
func (m *Manager) DetectApproval(id string) (ApprovalOutcome, error) {
	inApproved := m.store.Exists(approvedPath(id))
	inRejected := m.store.Exists(rejectedPath(id))

	switch {
	case inApproved && inRejected:
		return ApprovalOutcome{Status: StatusRejected, ApprovalRef: m.approverFor(rejectedPath(id)), Conflicted: true}, nil
	case inRejected:
		return ApprovalOutcome{Status: StatusRejected, ApprovalRef: m.approverFor(rejectedPath(id))}, nil
	case inApproved:
		return ApprovalOutcome{Status: StatusApproved, ApprovalRef: m.approverFor(approvedPath(id))}, nil
	default:
		return ApprovalOutcome{Status: StatusPendingApproval}, nil
	}
}

// approverFor reads the ".approved_by" sidecar next to planPath, if any,
// and falls back to the Manager's configured default approver.
func (m *Manager) approverFor(planPath string) string {
	sidecar := planPath + ApprovalRefSidecarSuffix
	if m.store.Exists(sidecar) {
		if data, err := m.store.Read(sidecar); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id
			}
		}
	}
	return m.defaultApprover
}

// RequestSecondApproval re-emits p into Pending_Approval/ with the .dryrun
// suffix so a sensitive action's dry-run preview requires an explicit
// second human approval (§4.6 step 2). The original Approved/ file is
// removed; approval of the .dryrun copy must produce a *new* file in
// Approved/ with the same suffixed name, detected by DetectApproval called
// against id+DryRunSuffix.
func (m *Manager) RequestSecondApproval(p Plan) (Plan, error) {
	if err := m.store.Move(approvedPath(p.ID), pendingDryRunPath(p.ID)); err != nil {
		return Plan{}, err
	}
	p.Status = StatusPendingApproval
	p.FilePath = pendingDryRunPath(p.ID)
	p.UpdatedAt = time.Now().UTC()
	return p, nil
}

// MarkExecuted moves p's approved file to Plans/completed/ and records
// result. Only the executor may call this.
func (m *Manager) MarkExecuted(p Plan, result Result) (Plan, error) {
	src := p.FilePath
	if src == "" {
		src = approvedPath(p.ID)
	}
	if err := m.store.Move(src, completedPath(p.ID)); err != nil {
		return Plan{}, err
	}
	p.Status = StatusExecuted
	p.FilePath = completedPath(p.ID)
	p.Result = &result
	p.UpdatedAt = time.Now().UTC()
	return p, nil
}

// MarkFailed moves p's approved file to Plans/failed/ and records result.
// Only the executor may call this.
func (m *Manager) MarkFailed(p Plan, result Result) (Plan, error) {
	src := p.FilePath
	if src == "" {
		src = approvedPath(p.ID)
	}
	if err := m.store.Move(src, failedPath(p.ID)); err != nil {
		return Plan{}, err
	}
	p.Status = StatusFailed
	p.FilePath = failedPath(p.ID)
	p.Result = &result
	p.UpdatedAt = time.Now().UTC()
	return p, nil
}

// Archive marks a terminal plan archived. Executed/failed plans are
// already in their terminal folder (Plans/completed or Plans/failed) by
// the time this is called; rejected plans are archived in place in
// Rejected/ per §4.3.
func (m *Manager) Archive(p Plan) Plan {
	p.Status = StatusArchived
	p.UpdatedAt = time.Now().UTC()
	return p
}

// Load reads and parses the plan markdown file at relPath.
func (m *Manager) Load(relPath string) (Plan, error) {
	data, err := m.store.Read(relPath)
	if err != nil {
		return Plan{}, err
	}
	p, err := Parse(data)
	if err != nil {
		return Plan{}, err
	}
	p.FilePath = relPath
	return p, nil
}

// ListApproved returns vault-relative paths of plans currently sitting in
// Approved/, for the orchestrator's sweep.
func (m *Manager) ListApproved() ([]string, error) {
	return m.store.List(vault.DirApproved + "/*.md")
}

// ListTerminal returns vault-relative paths of plans in the terminal
// folders (completed/failed), for the orchestrator's archival sweep.
func (m *Manager) ListTerminal() ([]string, error) {
	completed, err := m.store.List(vault.DirPlansCompleted + "/*.md")
	if err != nil {
		return nil, err
	}
	failed, err := m.store.List(vault.DirPlansFailed + "/*.md")
	if err != nil {
		return nil, err
	}
	return append(completed, failed...), nil
}
