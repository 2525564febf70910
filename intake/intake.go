// Package intake defines the unit of perception output — the markdown
// wrapper a watcher writes for one perceived event — and the per-watcher
// checkpoint that enforces at-most-once delivery.
package intake

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/errs"
)

// Type enumerates IntakeItem.Type.
type Type string

const (
	TypeTask         Type = "task"
	TypeEmail        Type = "email"
	TypeMessage      Type = "message"
	TypePost         Type = "post"
	TypeInvoiceEvent Type = "invoice_event"
	TypeDocument     Type = "document"
)

// ExcerptCap is the maximum excerpt length in bytes before truncation.
const ExcerptCap = 500

// Item is one perceived event, serialized as a markdown file with a fixed
// front-matter field order.
type Item struct {
	Source         string    `yaml:"source"`
	Received       time.Time `yaml:"received"`
	Type           Type      `yaml:"type"`
	ID             string    `yaml:"id"`
	Sender         string    `yaml:"sender"`
	Subject        string    `yaml:"subject"`
	HasAttachments bool      `yaml:"has_attachments"`
	Urgency        string    `yaml:"urgency"`

	Excerpt string `yaml:"-"`
	RawRef  string `yaml:"-"`

	AuditTrail []string `yaml:"-"`
}

// frontmatter mirrors Item's YAML-exposed fields in the fixed emission
// order required by the wrapper format (source, received, type, id,
// sender, subject, has_attachments, urgency). gopkg.in/yaml.v3 emits struct
// fields in declaration order, so this type exists purely to pin that order
// independent of Item's own field layout.
type frontmatter struct {
	Source         string `yaml:"source"`
	Received       string `yaml:"received"`
	Type           Type   `yaml:"type"`
	ID             string `yaml:"id"`
	Sender         string `yaml:"sender"`
	Subject        string `yaml:"subject"`
	HasAttachments bool   `yaml:"has_attachments"`
	Urgency        string `yaml:"urgency"`
}

// TruncateExcerpt truncates s to ExcerptCap bytes, appending an ellipsis
// when truncation occurs.
func TruncateExcerpt(s string) string {
	if len(s) <= ExcerptCap {
		return s
	}
	return s[:ExcerptCap] + "…"
}

// Render serializes the item into its on-disk markdown representation:
// fixed-order YAML front matter, a fenced Raw/Excerpt block (redacted,
// truncated to ExcerptCap), and an Audit Trail bullet list.
func (i Item) Render() []byte {
	fm := frontmatter{
		Source:         i.Source,
		Received:       i.Received.UTC().Format(time.RFC3339),
		Type:           i.Type,
		ID:             i.ID,
		Sender:         i.Sender,
		Subject:        i.Subject,
		HasAttachments: i.HasAttachments,
		Urgency:        i.Urgency,
	}
	fmBytes, _ := yaml.Marshal(fm)

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n\n")
	b.WriteString("## Raw / Excerpt\n\n")
	b.WriteString("```\n")
	b.WriteString(audit.Redact(TruncateExcerpt(i.Excerpt)))
	b.WriteString("\n```\n\n")
	b.WriteString("## Audit Trail\n\n")
	if len(i.AuditTrail) == 0 {
		b.WriteString(fmt.Sprintf("- %s created by watcher:%s\n", i.Received.UTC().Format(time.RFC3339), i.Source))
	}
	for _, line := range i.AuditTrail {
		b.WriteString("- " + line + "\n")
	}
	return []byte(b.String())
}

// Parse reads back an intake wrapper's front matter and excerpt. It does
// not attempt to recover RawRef (not serialized) or the full audit trail
// beyond the bullet lines present.
func Parse(data []byte) (Item, error) {
	str := string(data)
	if !strings.HasPrefix(str, "---\n") {
		return Item{}, errs.Precondition("intake wrapper missing front matter", nil)
	}
	rest := str[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end == -1 {
		return Item{}, errs.Precondition("intake wrapper missing closing front matter delimiter", nil)
	}
	fmRaw := rest[:end]
	body := rest[end+len("\n---\n"):]

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(fmRaw), &fm); err != nil {
		return Item{}, errs.Precondition("parse intake front matter", err)
	}
	received, err := time.Parse(time.RFC3339, fm.Received)
	if err != nil {
		return Item{}, errs.Precondition("parse intake received timestamp", err)
	}

	item := Item{
		Source:         fm.Source,
		Received:       received,
		Type:           fm.Type,
		ID:             fm.ID,
		Sender:         fm.Sender,
		Subject:        fm.Subject,
		HasAttachments: fm.HasAttachments,
		Urgency:        fm.Urgency,
	}

	if excerpt, ok := extractFenced(body, "## Raw / Excerpt"); ok {
		item.Excerpt = excerpt
	}
	if trail, ok := extractSection(body, "## Audit Trail"); ok {
		for _, line := range strings.Split(trail, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimPrefix(line, "- ")
			if line != "" {
				item.AuditTrail = append(item.AuditTrail, line)
			}
		}
	}
	return item, nil
}

func extractFenced(body, heading string) (string, bool) {
	idx := strings.Index(body, heading)
	if idx == -1 {
		return "", false
	}
	rest := body[idx+len(heading):]
	start := strings.Index(rest, "```\n")
	if start == -1 {
		return "", false
	}
	rest = rest[start+len("```\n"):]
	end := strings.Index(rest, "\n```")
	if end == -1 {
		return "", false
	}
	return rest[:end], true
}

func extractSection(body, heading string) (string, bool) {
	idx := strings.Index(body, heading)
	if idx == -1 {
		return "", false
	}
	rest := body[idx+len(heading):]
	rest = strings.TrimPrefix(rest, "\n")
	if next := strings.Index(rest, "\n## "); next != -1 {
		rest = rest[:next]
	}
	return strings.TrimSpace(rest), true
}

// Checkpoint is a watcher's persistent at-most-once state. It is serialized
// as plain JSON (not markdown — it is never a human-approved artifact) and
// lives alongside the watcher, not in the vault tree proper.
type Checkpoint struct {
	LastSeenID   string    `json:"last_seen_id"`
	LastRunAt    time.Time `json:"last_run_at"`
	ProcessedIDs []string  `json:"processed_ids"`
	Health       Health    `json:"health"`
	BlockedSince time.Time `json:"blocked_since,omitempty"`
}

// Health enumerates Checkpoint.Health.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthOffline  Health = "offline"
)

// MaxProcessedIDs bounds the processed_ids ring.
const MaxProcessedIDs = 500

// Seen reports whether id has already been processed.
func (c *Checkpoint) Seen(id string) bool {
	for _, p := range c.ProcessedIDs {
		if p == id {
			return true
		}
	}
	return false
}

// MarkProcessed records id as processed, trimming the ring to
// MaxProcessedIDs from the front (oldest first).
func (c *Checkpoint) MarkProcessed(id string) {
	if c.Seen(id) {
		return
	}
	c.ProcessedIDs = append(c.ProcessedIDs, id)
	if len(c.ProcessedIDs) > MaxProcessedIDs {
		c.ProcessedIDs = c.ProcessedIDs[len(c.ProcessedIDs)-MaxProcessedIDs:]
	}
	c.LastSeenID = id
}

// IsBlocked reports whether the checkpoint is mid-degraded-episode (a
// remediation intake has already been emitted for this episode).
func (c *Checkpoint) IsBlocked() bool {
	return !c.BlockedSince.IsZero()
}

// MarkDegraded starts a blocked episode if one is not already open, and
// returns true the first time it is called for this episode (the caller
// should emit exactly one remediation intake on that transition).
func (c *Checkpoint) MarkDegraded(now time.Time) (firstInEpisode bool) {
	c.Health = HealthDegraded
	if c.IsBlocked() {
		return false
	}
	c.BlockedSince = now.UTC()
	return true
}

// ClearDegraded ends a blocked episode and restores normal health.
func (c *Checkpoint) ClearDegraded() {
	c.Health = HealthHealthy
	c.BlockedSince = time.Time{}
}

// Checkpoint is serialized with the standard library's encoding/json; it
// needs no custom marshal/unmarshal logic.
