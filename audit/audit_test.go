package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aiemployee/vault"
)

func newTestLogger(t *testing.T) (*Logger, *vault.Store) {
	t.Helper()
	s, err := vault.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.EnsureLayout())
	return NewLogger(s), s
}

func TestRedact_AllFourForms(t *testing.T) {
	in := "contact jane@example.com or +1 415-555-0101, token bearer ya29.A0ARz3abcdefghijklmno, card 4111 1111 1111 1111"
	out := Redact(in)
	assert.Contains(t, out, "<REDACTED_EMAIL>")
	assert.Contains(t, out, "<REDACTED_PHONE>")
	assert.Contains(t, out, "<REDACTED_TOKEN>")
	assert.Contains(t, out, "<REDACTED_PAN>")
	assert.NotContains(t, out, "jane@example.com")
}

func TestLog_WritesNDJSONAndMirror(t *testing.T) {
	l, s := newTestLogger(t)

	ts := time.Date(2026, 2, 15, 3, 1, 0, 0, time.UTC)
	err := l.Log(Entry{
		Timestamp:  ts,
		ActionType: "send_email",
		Actor:      "ai",
		Target:     "gmail:client@example.com",
		Result:     ResultOK,
		DurationMS: 812,
	})
	require.NoError(t, err)

	data, err := s.Read("Logs/2026-02-15.json")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "\"action_type\":\"send_email\"")
	assert.Contains(t, lines[0], "<REDACTED_EMAIL>")

	mirror, err := s.Read("Logs/system_log.md")
	require.NoError(t, err)
	assert.Contains(t, string(mirror), "send_email")
	assert.Contains(t, string(mirror), "duration_ms=812")
}

func TestLog_AppendsAcrossCalls(t *testing.T) {
	l, s := newTestLogger(t)
	ts := time.Date(2026, 2, 15, 3, 1, 0, 0, time.UTC)

	require.NoError(t, l.Log(Entry{Timestamp: ts, ActionType: "a", Actor: "ai", Result: ResultOK}))
	require.NoError(t, l.Log(Entry{Timestamp: ts, ActionType: "b", Actor: "ai", Result: ResultOK}))

	data, err := s.Read("Logs/2026-02-15.json")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimRight(string(data), "\n"), "\n"), 2)
}

func TestSweep_ArchivesEntriesOlderThanRetention(t *testing.T) {
	l, s := newTestLogger(t)
	l.WithRetention(24 * time.Hour)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Log(Entry{Timestamp: old, ActionType: "old", Actor: "ai", Result: ResultOK}))

	now := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Sweep(now))

	assert.False(t, s.Exists("Logs/2026-01-01.json"))
	assert.True(t, s.Exists("Logs/archive/2026-01-01.json.gz"))
}

func TestSweep_LeavesRecentEntriesInPlace(t *testing.T) {
	l, s := newTestLogger(t)

	recent := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.Log(Entry{Timestamp: recent, ActionType: "recent", Actor: "ai", Result: ResultOK}))

	now := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Sweep(now))

	assert.True(t, s.Exists("Logs/2026-02-14.json"))
}
