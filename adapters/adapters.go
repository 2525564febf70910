// Package adapters defines the channel-agnostic contract every outbound
// channel implementation satisfies, plus the cross-adapter helpers
// (version normalization, circuit breaking) shared by all of them.
package adapters

import (
	"context"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/c360studio/aiemployee/errs"
)

// Capabilities describes what an adapter can currently do, resolved
// without any side effect that persists.
type Capabilities struct {
	Authenticated   bool     `json:"authenticated"`
	CanRead         bool     `json:"can_read"`
	CanWrite        bool     `json:"can_write"`
	GrantedScopes   []string `json:"granted_scopes,omitempty"`
	DisplayIdentity string   `json:"display_identity,omitempty"`
}

// Preview is the faithful, non-mutating result of a dry run.
type Preview struct {
	Summary      string         `json:"summary"`
	SizeBytes    int            `json:"size_bytes,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Result is the outcome of a mutating execute call.
type Result struct {
	UpstreamID   string         `json:"upstream_id"`
	EndpointUsed string         `json:"endpoint_used"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Channel is the interface the executor and watchers drive. Every adapter
// owns all third-party I/O for its channel: token refresh, rate limits,
// and wire-format translation never leak out of the adapter.
type Channel interface {
	// Name returns the channel identifier, e.g. "gmail".
	Name() string

	// Capabilities reports the adapter's current authentication/scope
	// state. Pure: no side effect that persists.
	Capabilities(ctx context.Context) (Capabilities, error)

	// DryRun validates payload completely and returns the most faithful
	// preview obtainable without performing any mutating remote call.
	DryRun(ctx context.Context, actionType string, payload map[string]any) (Preview, error)

	// Execute performs the mutation described by payload.
	Execute(ctx context.Context, actionType string, payload map[string]any) (Result, error)

	// List returns items matching query, for watcher polling or preview
	// surfaces. Not every adapter exposes every action type via List.
	List(ctx context.Context, query map[string]any) ([]map[string]any, error)

	// Read returns the single item identified by id.
	Read(ctx context.Context, id string) (map[string]any, error)
}

// NormalizeVersion truncates a YYYYMMDD version string to YYYYMM, per the
// version-normalization cross-adapter requirement (§4.5 rule 2). Unknown
// formats fail fast as a precondition_error.
func NormalizeVersion(version string) (string, error) {
	switch len(version) {
	case 6:
		if _, err := strconv.Atoi(version); err != nil {
			return "", errs.Precondition("version is not numeric", err)
		}
		return version, nil
	case 8:
		if _, err := strconv.Atoi(version); err != nil {
			return "", errs.Precondition("version is not numeric", err)
		}
		return version[:6], nil
	default:
		return "", errs.Precondition("unrecognized version format, expected YYYYMM or YYYYMMDD", nil)
	}
}

// NewCircuitBreaker returns a gobreaker.CircuitBreaker configured for one
// adapter's upstream calls: it trips after 5 consecutive failures and
// probes again after a 30s cooldown. Wrapping each adapter's execute/
// dry_run path in a breaker prevents a persistently failing upstream from
// being hammered by the executor's retry layer.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

// ClassifyHTTPStatus maps an HTTP status code to an error kind, the
// shared policy every adapter's HTTP-backed Execute/DryRun applies before
// returning an error to the executor.
func ClassifyHTTPStatus(status int) errs.Kind {
	switch {
	case status == 401 || status == 403:
		return errs.KindAuth
	case status == 429 || status >= 500:
		return errs.KindTransient
	case status >= 400:
		return errs.KindPermanentUpstream
	default:
		return ""
	}
}
