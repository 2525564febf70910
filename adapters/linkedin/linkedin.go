// Package linkedin implements the LinkedIn channel adapter: text/image
// posting via the versioned REST API, with endpoint migration on version
// rejection and cached author identity resolution.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-shiori/go-readability"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/internal/urlsafety"
)

const (
	name          = "linkedin"
	apiBase       = "https://api.linkedin.com"
	legacyVersion = "20250201"
)

// identity is the cached author-resolution blob (§4.5 rule 5). Cache hits
// skip the network entirely.
type identity struct {
	urn    string
	method string // "rest_me" or "oidc_sub"
}

// Adapter is the LinkedIn channel adapter.
type Adapter struct {
	httpClient *http.Client
	token      string
	apiBase    string

	mu       sync.Mutex
	identity *identity
}

// New returns a LinkedIn Adapter. token is the bearer access token read
// from the linkedin_token.json secret blob.
func New(httpClient *http.Client, token string) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{httpClient: httpClient, token: token, apiBase: apiBase}
}

// Name implements adapters.Channel.
func (a *Adapter) Name() string { return name }

// Capabilities implements adapters.Channel.
func (a *Adapter) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	id, err := a.resolveIdentity(ctx)
	if err != nil {
		return adapters.Capabilities{}, err
	}
	return adapters.Capabilities{
		Authenticated:   true,
		CanRead:         true,
		CanWrite:        true,
		DisplayIdentity: id.urn,
	}, nil
}

// DryRun implements adapters.Channel: composes the post body and resolves
// the author URN without posting.
func (a *Adapter) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	switch actionType {
	case "post_text", "post_image":
		text, err := validatePostPayload(actionType, payload)
		if err != nil {
			return adapters.Preview{}, err
		}
		id, err := a.resolveIdentity(ctx)
		if err != nil {
			return adapters.Preview{}, err
		}
		return adapters.Preview{
			Summary:   fmt.Sprintf("author: %s, text: %q", id.urn, text),
			SizeBytes: len(text),
			Extra:     map[string]any{"author_urn": id.urn, "identity_method": id.method},
		}, nil
	default:
		return adapters.Preview{}, errs.Precondition(fmt.Sprintf("linkedin: unrecognized action type %q", actionType), nil)
	}
}

// Execute implements adapters.Channel. It posts via the primary REST
// endpoint; on an endpoint-migration signal (HTTP 426 NONEXISTENT_VERSION)
// it normalizes the version and retries exactly once within this same
// call, never via the executor's retry layer (§4.5 rule 1, rule 2).
func (a *Adapter) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	text, err := validatePostPayload(actionType, payload)
	if err != nil {
		return adapters.Result{}, err
	}
	id, err := a.resolveIdentity(ctx)
	if err != nil {
		return adapters.Result{}, err
	}

	body, _ := json.Marshal(map[string]any{
		"author":     id.urn,
		"commentary": text,
	})

	result, retryable, err := a.postOnce(ctx, legacyVersion, body)
	if err == nil {
		return result, nil
	}
	if !retryable {
		return adapters.Result{}, err
	}

	normalized, verr := adapters.NormalizeVersion("20250201")
	if verr != nil {
		return adapters.Result{}, verr
	}
	result, _, err = a.postOnce(ctx, normalized, body)
	return result, err
}

// List implements adapters.Channel: lists recent posts/comments for the
// LinkedIn watcher.
func (a *Adapter) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	id, err := a.resolveIdentity(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/rest/posts?author=%s", a.apiBase, id.urn)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	a.setHeaders(req, legacyVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transient("linkedin list request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp.StatusCode, resp.Header.Get("x-restli-error-response"), "list posts")
	}

	var decoded struct {
		Elements []map[string]any `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errs.Transient("decode linkedin list response", err)
	}
	return decoded.Elements, nil
}

// Read implements adapters.Channel: fetches one post/comment and extracts
// a readable text excerpt from its rendered HTML, for intake wrappers.
func (a *Adapter) Read(ctx context.Context, id string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/rest/posts/%s", a.apiBase, id)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	a.setHeaders(req, legacyVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transient("linkedin read request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp.StatusCode, resp.Header.Get("x-restli-error-response"), "read post")
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errs.Transient("decode linkedin post", err)
	}

	if htmlBody, ok := raw["content_html"].(string); ok && htmlBody != "" {
		if article, err := readability.FromReader(bytes.NewBufferString(htmlBody), nil); err == nil {
			raw["excerpt_text"] = article.TextContent
		}
	}
	return raw, nil
}

// postOnce issues a single rest/posts create call with the given API
// version header. retryable reports whether the failure is the
// endpoint-migration signal (426 NONEXISTENT_VERSION) and a second attempt
// with a normalized version is worth trying.
func (a *Adapter) postOnce(ctx context.Context, version string, body []byte) (adapters.Result, bool, error) {
	if err := urlsafety.ValidateURL(a.apiBase); err != nil {
		return adapters.Result{}, false, errs.Precondition("linkedin API base URL failed safety validation", err)
	}
	endpoint := a.apiBase + "/rest/posts"
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	a.setHeaders(req, version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapters.Result{}, false, errs.Transient("linkedin post failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUpgradeRequired {
		var body struct {
			Code string `json:"code"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Code == "NONEXISTENT_VERSION" {
			return adapters.Result{}, true, errs.Transient("linkedin rejected API version", nil)
		}
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return adapters.Result{}, false, classifyResponse(resp.StatusCode, "", "create post")
	}

	postID := resp.Header.Get("x-restli-id")
	return adapters.Result{UpstreamID: postID, EndpointUsed: "rest/posts"}, false, nil
}

// resolveIdentity resolves and caches the author URN using the fallback
// chain of §4.5 rule 5: /v2/me if the token is scoped for it, else OIDC
// sub. Cache hits skip the network.
func (a *Adapter) resolveIdentity(ctx context.Context) (*identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.identity != nil {
		return a.identity, nil
	}

	if urn, err := a.fetchMeURN(ctx); err == nil {
		a.identity = &identity{urn: urn, method: "rest_me"}
		return a.identity, nil
	}

	urn, err := a.fetchOIDCSub(ctx)
	if err != nil {
		return nil, err
	}
	a.identity = &identity{urn: urn, method: "oidc_sub"}
	return a.identity, nil
}

func (a *Adapter) fetchMeURN(ctx context.Context) (string, error) {
	endpoint := a.apiBase + "/v2/me"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	a.setHeaders(req, legacyVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", errs.Transient("linkedin /v2/me request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyResponse(resp.StatusCode, "", "/v2/me")
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || decoded.ID == "" {
		return "", errs.Auth("linkedin /v2/me returned no identifier", err)
	}
	return "urn:li:person:" + decoded.ID, nil
}

func (a *Adapter) fetchOIDCSub(ctx context.Context) (string, error) {
	endpoint := a.apiBase + "/v2/userinfo"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	a.setHeaders(req, legacyVersion)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", errs.Transient("linkedin userinfo request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyResponse(resp.StatusCode, "", "userinfo")
	}

	var decoded struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || decoded.Sub == "" {
		return "", errs.Auth("linkedin userinfo returned no sub", err)
	}
	return "urn:li:person:" + decoded.Sub, nil
}

func (a *Adapter) setHeaders(req *http.Request, version string) {
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("LinkedIn-Version", version)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
}

func validatePostPayload(actionType string, payload map[string]any) (string, error) {
	text, _ := payload["text"].(string)
	if text == "" {
		return "", errs.Precondition(fmt.Sprintf("linkedin %s payload missing required field \"text\"", actionType), nil)
	}
	if actionType == "post_image" {
		if _, ok := payload["image_url"].(string); !ok {
			return "", errs.Precondition("linkedin post_image payload missing required field \"image_url\"", nil)
		}
	}
	return text, nil
}

func classifyResponse(status int, restliCode, detail string) error {
	kind := adapters.ClassifyHTTPStatus(status)
	if kind == "" {
		kind = errs.KindPermanentUpstream
	}
	msg := fmt.Sprintf("linkedin %s: HTTP %d", detail, status)
	if restliCode != "" {
		msg += " (" + restliCode + ")"
	}
	return errs.New(kind, msg, nil)
}
