// Package plan defines the unit of intended side-effecting work and the
// file-move-driven state machine that gates it behind human approval.
package plan

import (
	"fmt"
	"time"
)

// Channel enumerates the outbound channels a plan can target.
type Channel string

const (
	ChannelFilesystem Channel = "filesystem"
	ChannelGmail      Channel = "gmail"
	ChannelWhatsApp   Channel = "whatsapp"
	ChannelLinkedIn   Channel = "linkedin"
	ChannelInstagram  Channel = "instagram"
	ChannelTwitter    Channel = "twitter"
	ChannelOdoo       Channel = "odoo"
)

// Status enumerates Plan.Status, the state machine of §4.3:
//
//	draft -> pending_approval -> approved -> executed -> archived
//	                  |              |           |
//	                  |              +-> failed -+
//	                  +-> rejected -> archived
type Status string

const (
	StatusDraft            Status = "draft"
	StatusPendingApproval  Status = "pending_approval"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusExecuted         Status = "executed"
	StatusFailed           Status = "failed"
	StatusArchived         Status = "archived"
)

// RiskLevel enumerates Plan.RiskLevel.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Result is the outcome of an executor run, populated on execute/fail.
type Result struct {
	OK           bool           `json:"ok"`
	UpstreamID   string         `json:"upstream_id,omitempty"`
	EndpointUsed string         `json:"endpoint_used,omitempty"`
	Preview      string         `json:"preview,omitempty"`
	Error        string         `json:"error,omitempty"`
	DurationMS   int64          `json:"duration_ms,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Plan is the unit of intended side-effecting work.
type Plan struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Channel     Channel        `json:"channel"`
	ActionType  string         `json:"action_type"`
	Payload     map[string]any `json:"payload"`
	Status      Status         `json:"status"`
	RiskLevel   RiskLevel      `json:"risk_level"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ScheduledAt time.Time      `json:"scheduled_at,omitempty"`
	FilePath    string         `json:"file_path,omitempty"`
	Result      *Result        `json:"result,omitempty"`
	ApprovalRef string         `json:"approval_ref,omitempty"`

	// Template-only fields, not part of the registry row but required by
	// the 12-section plan markdown template (§6).
	Objective        string   `json:"objective,omitempty"`
	SuccessCriteria  []string `json:"success_criteria,omitempty"`
	FilesToTouch     []string `json:"files_to_touch,omitempty"`
	RollbackStrategy string   `json:"rollback_strategy,omitempty"`
	ChangeLog        []string `json:"change_log,omitempty"`
	ApprovalTrail    []string `json:"approval_trail,omitempty"`
	DryRunPreview    string   `json:"dry_run_preview,omitempty"`
	ExecutionLog     []string `json:"execution_log,omitempty"`
}

// NewID builds a plan ID of the form
// WEBPLAN_<YYYYMMDDhhmm>_<channel>_<action>_<slug>.
func NewID(createdAt time.Time, channel Channel, actionType, slug string) string {
	return fmt.Sprintf("WEBPLAN_%s_%s_%s_%s", createdAt.UTC().Format("200601021504"), channel, actionType, slug)
}

// IsMutating reports whether actionType requires human approval before
// execution, per the per-channel action catalog (§4.5).
func IsMutating(channel Channel, actionType string) bool {
	cat, ok := catalog[channel][actionType]
	if !ok {
		// Unknown action types default to mutating: the safer failure mode
		// is to require approval, not to skip it.
		return true
	}
	return cat.Approval
}

// IsNoRetry reports whether actionType must never be retried by the
// executor's backoff layer, even on a transient error (financial
// idempotency, §4.5 rule 4).
func IsNoRetry(channel Channel, actionType string) bool {
	cat, ok := catalog[channel][actionType]
	if !ok {
		return false
	}
	return cat.NoRetry
}

type actionCatalogEntry struct {
	Approval bool
	NoRetry  bool
}

// catalog is the per-channel action catalog and approval requirement table
// of §4.5.
var catalog = map[Channel]map[string]actionCatalogEntry{
	ChannelGmail: {
		"send_email":  {Approval: true},
		"draft_email": {Approval: true},
	},
	ChannelLinkedIn: {
		"post_text":  {Approval: true},
		"post_image": {Approval: true},
	},
	ChannelInstagram: {
		"post_image": {Approval: true},
	},
	ChannelWhatsApp: {
		"send_message": {Approval: true},
	},
	ChannelOdoo: {
		"create_invoice":      {Approval: true},
		"post_invoice":        {Approval: true, NoRetry: true},
		"register_payment":    {Approval: true, NoRetry: true},
		"create_credit_note":  {Approval: true},
		"create_customer":     {Approval: true},
		"list_invoices":       {Approval: false},
		"revenue_summary":     {Approval: false},
		"ar_aging":            {Approval: false},
		"list_customers":      {Approval: false},
	},
}
