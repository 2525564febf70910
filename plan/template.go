package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/aiemployee/errs"
)

// sectionOrder is the mandatory 12-section plan markdown template of §6.
// Missing sections cause rejected_precondition.
var sectionOrder = []string{
	"Objective",
	"Success Criteria",
	"Files to Touch",
	"Channel/Adapter",
	"Action Type",
	"Payload",
	"Risk Level",
	"Rollback Strategy",
	"Dry-Run Preview",
	"Execution Log",
	"Change Log",
	"Approval Trail",
}

// Render serializes p into its 12-section markdown representation.
func Render(p Plan) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.ID)

	section(&b, "Objective", p.Objective)
	section(&b, "Success Criteria", bulletList(p.SuccessCriteria))
	section(&b, "Files to Touch", bulletList(p.FilesToTouch))
	section(&b, "Channel/Adapter", string(p.Channel))
	section(&b, "Action Type", p.ActionType)

	payloadJSON, _ := json.MarshalIndent(p.Payload, "", "  ")
	section(&b, "Payload", "```json\n"+string(payloadJSON)+"\n```")

	section(&b, "Risk Level", string(p.RiskLevel))
	section(&b, "Rollback Strategy", p.RollbackStrategy)
	section(&b, "Dry-Run Preview", p.DryRunPreview)
	section(&b, "Execution Log", bulletList(p.ExecutionLog))
	section(&b, "Change Log", bulletList(p.ChangeLog))
	section(&b, "Approval Trail", bulletList(p.ApprovalTrail))

	return []byte(b.String())
}

func section(b *strings.Builder, heading, body string) {
	fmt.Fprintf(b, "## %s\n\n", heading)
	if body == "" {
		body = "_(none)_"
	}
	b.WriteString(body)
	b.WriteString("\n\n")
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Parse reads a plan markdown file's sections back into a Plan. It does not
// populate registry-only fields (Status, CreatedAt, etc.) — those come from
// the Plan Registry; Parse recovers only what the file itself carries.
func Parse(data []byte) (Plan, error) {
	raw := string(data)
	sections := splitSections(raw)

	for _, name := range sectionOrder {
		if _, ok := sections[name]; !ok {
			return Plan{}, errs.Precondition(fmt.Sprintf("plan markdown missing mandatory section %q", name), nil)
		}
	}

	p := Plan{
		Objective:        clean(sections["Objective"]),
		SuccessCriteria:  parseBullets(sections["Success Criteria"]),
		FilesToTouch:     parseBullets(sections["Files to Touch"]),
		Channel:          Channel(clean(sections["Channel/Adapter"])),
		ActionType:       clean(sections["Action Type"]),
		RiskLevel:        RiskLevel(clean(sections["Risk Level"])),
		RollbackStrategy: clean(sections["Rollback Strategy"]),
		DryRunPreview:    clean(sections["Dry-Run Preview"]),
		ExecutionLog:     parseBullets(sections["Execution Log"]),
		ChangeLog:        parseBullets(sections["Change Log"]),
		ApprovalTrail:    parseBullets(sections["Approval Trail"]),
	}

	payloadRaw := extractFencedJSON(sections["Payload"])
	if payloadRaw != "" && payloadRaw != "_(none)_" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
			return Plan{}, errs.Precondition("parse plan payload JSON", err)
		}
		p.Payload = payload
	}

	if idx := strings.Index(raw, "# "); idx == 0 {
		if end := strings.Index(raw, "\n"); end > 2 {
			p.ID = strings.TrimSpace(raw[2:end])
		}
	}

	return p, nil
}

func clean(s string) string {
	s = strings.TrimSpace(s)
	if s == "_(none)_" {
		return ""
	}
	return s
}

func parseBullets(s string) []string {
	s = clean(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func extractFencedJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// splitSections splits raw markdown on "## " headings into a name->body map.
func splitSections(raw string) map[string]string {
	sections := make(map[string]string)
	lines := strings.Split(raw, "\n")
	var current string
	var body []string
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(body, "\n"))
		}
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.TrimSpace(strings.TrimPrefix(line, "## "))
			body = nil
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()
	return sections
}
