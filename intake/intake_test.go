package intake

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aiemployee/vault"
)

func TestRender_FixedFrontmatterOrder(t *testing.T) {
	item := Item{
		Source:   "gmail",
		Received: time.Date(2026, 2, 15, 3, 0, 0, 0, time.UTC),
		Type:     TypeEmail,
		ID:       "18e-abc",
		Sender:   "client@example.com",
		Subject:  "Q1 invoice",
		Urgency:  "normal",
		Excerpt:  "Please see attached invoice for Q1.",
	}
	out := string(item.Render())

	order := []string{"source:", "received:", "type:", "id:", "sender:", "subject:", "has_attachments:", "urgency:"}
	last := -1
	for _, key := range order {
		idx := strings.Index(out, key)
		require.Greater(t, idx, last, "field %s out of order", key)
		last = idx
	}
	assert.Contains(t, out, "## Raw / Excerpt")
	assert.Contains(t, out, "## Audit Trail")
}

func TestRender_RedactsExcerpt(t *testing.T) {
	item := Item{
		Source: "gmail", Received: time.Now(), Type: TypeEmail, ID: "1",
		Excerpt: "contact jane@example.com",
	}
	out := string(item.Render())
	assert.NotContains(t, out, "jane@example.com")
	assert.Contains(t, out, "<REDACTED_EMAIL>")
}

func TestTruncateExcerpt_AtExactCap(t *testing.T) {
	long := strings.Repeat("a", ExcerptCap+50)
	got := TruncateExcerpt(long)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, ExcerptCap, len(got)-len("…"))
}

func TestParse_RoundTripsRenderedItem(t *testing.T) {
	item := Item{
		Source:         "gmail",
		Received:       time.Date(2026, 2, 15, 3, 0, 0, 0, time.UTC),
		Type:           TypeEmail,
		ID:             "18e-abc",
		Sender:         "client",
		Subject:        "Q1 invoice",
		HasAttachments: true,
		Urgency:        "normal",
		Excerpt:        "plain body text",
		AuditTrail:     []string{"2026-02-15T03:00:00Z created by watcher:gmail"},
	}
	data := item.Render()

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, item.Source, parsed.Source)
	assert.True(t, item.Received.Equal(parsed.Received))
	assert.Equal(t, item.Type, parsed.Type)
	assert.Equal(t, item.ID, parsed.ID)
	assert.Equal(t, item.HasAttachments, parsed.HasAttachments)
	assert.Equal(t, "plain body text", parsed.Excerpt)
	assert.Equal(t, item.AuditTrail, parsed.AuditTrail)
}

func TestCheckpoint_SeenAndBoundedRing(t *testing.T) {
	cp := &Checkpoint{Health: HealthHealthy}
	for i := 0; i < MaxProcessedIDs+10; i++ {
		cp.MarkProcessed(fmt.Sprintf("id-%d", i))
	}
	assert.LessOrEqual(t, len(cp.ProcessedIDs), MaxProcessedIDs)
}

func TestCheckpoint_DegradedEpisodeOnlyFiresOnce(t *testing.T) {
	cp := &Checkpoint{Health: HealthHealthy}
	now := time.Date(2026, 2, 15, 4, 0, 0, 0, time.UTC)

	first := cp.MarkDegraded(now)
	assert.True(t, first)
	assert.Equal(t, HealthDegraded, cp.Health)
	assert.True(t, cp.IsBlocked())

	second := cp.MarkDegraded(now.Add(time.Hour))
	assert.False(t, second, "should not re-fire within the same blocked episode")

	cp.ClearDegraded()
	assert.False(t, cp.IsBlocked())
	assert.Equal(t, HealthHealthy, cp.Health)

	third := cp.MarkDegraded(now.Add(2 * time.Hour))
	assert.True(t, third, "a new episode after clearing should fire again")
}

func TestCheckpointStore_SaveLoadRoundTrip(t *testing.T) {
	s, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.EnsureLayout())

	cs := NewCheckpointStore(s)
	cp := &Checkpoint{LastSeenID: "msg-1", Health: HealthHealthy}
	cp.MarkProcessed("msg-1")

	require.NoError(t, cs.Save("gmail", cp))

	loaded, err := cs.Load("gmail")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", loaded.LastSeenID)
	assert.True(t, loaded.Seen("msg-1"))
}

func TestCheckpointStore_LoadMissingReturnsHealthyZeroValue(t *testing.T) {
	s, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.EnsureLayout())

	cs := NewCheckpointStore(s)
	cp, err := cs.Load("odoo")
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, cp.Health)
	assert.Empty(t, cp.ProcessedIDs)
}
