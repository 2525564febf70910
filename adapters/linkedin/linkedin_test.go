package linkedin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aiemployee/errs"
)

// redirectingClient returns an http.Client that dials srv while letting the
// adapter's apiBase stay a real, urlsafety-passing value ("https://api.
// linkedin.com"), so postOnce's SSRF validation runs for real without
// requiring the test server itself to serve HTTPS on a public host.
func redirectingClient(t *testing.T, srv *httptest.Server) *http.Client {
	t.Helper()
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		req = req.Clone(req.Context())
		req.URL.Scheme = target.Scheme
		req.URL.Host = target.Host
		return http.DefaultTransport.RoundTrip(req)
	})}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestDryRun_PostText_ResolvesIdentity(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"abc123"}`))
	}))
	defer srv.Close()

	a := New(srv.Client(), "tok")
	a.apiBase = srv.URL

	preview, err := a.DryRun(context.Background(), "post_text", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Contains(t, preview.Summary, "urn:li:person:abc123")
	assert.Equal(t, 1, calls)
}

func TestDryRun_MissingImageURLIsPrecondition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"abc123"}`))
	}))
	defer srv.Close()

	a := New(srv.Client(), "tok")
	a.apiBase = srv.URL

	_, err := a.DryRun(context.Background(), "post_image", map[string]any{"text": "hello"})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindPrecondition, e.Kind)
}

func TestExecute_EndpointMigration_RetriesOnceWithNormalizedVersion(t *testing.T) {
	var meCalls, postCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/me":
			meCalls++
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"abc123"}`))
		case r.URL.Path == "/rest/posts":
			postCalls++
			version := r.Header.Get("LinkedIn-Version")
			if version == legacyVersion {
				w.WriteHeader(http.StatusUpgradeRequired)
				w.Write([]byte(`{"code":"NONEXISTENT_VERSION"}`))
				return
			}
			w.Header().Set("x-restli-id", "post-789")
			w.WriteHeader(http.StatusCreated)
		}
	}))
	defer srv.Close()

	a := New(redirectingClient(t, srv), "tok")
	a.apiBase = "https://api.linkedin.com"

	result, err := a.Execute(context.Background(), "post_text", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "post-789", result.UpstreamID)
	assert.Equal(t, "rest/posts", result.EndpointUsed)
	assert.Equal(t, 2, postCalls)
	assert.Equal(t, 1, meCalls)
}

func TestResolveIdentity_FallsBackToOIDCSub(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/me":
			w.WriteHeader(http.StatusForbidden)
		case "/v2/userinfo":
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"sub":"xyz789"}`))
		}
	}))
	defer srv.Close()

	a := New(srv.Client(), "tok")
	a.apiBase = srv.URL

	id, err := a.resolveIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "urn:li:person:xyz789", id.urn)
	assert.Equal(t, "oidc_sub", id.method)
}

func TestResolveIdentity_CachesAcrossCalls(t *testing.T) {
	var meCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/me" {
			meCalls++
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"id":"abc123"}`))
		}
	}))
	defer srv.Close()

	a := New(srv.Client(), "tok")
	a.apiBase = srv.URL

	_, err := a.resolveIdentity(context.Background())
	require.NoError(t, err)
	_, err = a.resolveIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, meCalls)
}
