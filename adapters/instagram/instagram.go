// Package instagram implements the Instagram channel adapter: image
// posting and media/comment reads via the Graph API.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-shiori/go-readability"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/errs"
)

const (
	name    = "instagram"
	apiBase = "https://graph.facebook.com/v21.0"
)

// Adapter is the Instagram channel adapter.
type Adapter struct {
	httpClient *http.Client
	token      string
	businessID string
	apiBase    string
}

// New returns an Instagram Adapter. businessID is the Instagram Business
// Account ID the token is scoped to.
func New(httpClient *http.Client, token, businessID string) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{httpClient: httpClient, token: token, businessID: businessID, apiBase: apiBase}
}

// Name implements adapters.Channel.
func (a *Adapter) Name() string { return name }

// Capabilities implements adapters.Channel.
func (a *Adapter) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=id,username&access_token=%s", a.apiBase, a.businessID, url.QueryEscape(a.token))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapters.Capabilities{}, errs.Transient("instagram capabilities check failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return adapters.Capabilities{}, classifyResponse(resp.StatusCode, "capabilities")
	}

	var decoded struct {
		Username string `json:"username"`
	}
	json.NewDecoder(resp.Body).Decode(&decoded)
	return adapters.Capabilities{
		Authenticated:   true,
		CanRead:         true,
		CanWrite:        true,
		DisplayIdentity: decoded.Username,
	}, nil
}

// DryRun implements adapters.Channel.
func (a *Adapter) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	if actionType != "post_image" {
		return adapters.Preview{}, errs.Precondition(fmt.Sprintf("instagram: unrecognized action type %q", actionType), nil)
	}
	imageURL, caption, err := validatePostImagePayload(payload)
	if err != nil {
		return adapters.Preview{}, err
	}
	return adapters.Preview{
		Summary: fmt.Sprintf("image_url: %s, caption: %q", imageURL, caption),
		Extra:   map[string]any{"image_url": imageURL, "caption": caption},
	}, nil
}

// Execute implements adapters.Channel. Graph API media publishing is a
// two-step protocol: create a container, then publish it.
func (a *Adapter) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	if actionType != "post_image" {
		return adapters.Result{}, errs.Precondition(fmt.Sprintf("instagram: unrecognized action type %q", actionType), nil)
	}
	imageURL, caption, err := validatePostImagePayload(payload)
	if err != nil {
		return adapters.Result{}, err
	}

	containerID, err := a.createMediaContainer(ctx, imageURL, caption)
	if err != nil {
		return adapters.Result{}, err
	}
	mediaID, err := a.publishMediaContainer(ctx, containerID)
	if err != nil {
		return adapters.Result{}, err
	}
	return adapters.Result{UpstreamID: mediaID, EndpointUsed: "media_publish"}, nil
}

// List implements adapters.Channel: lists recent media and comments for
// the Instagram watcher.
func (a *Adapter) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/%s/media?fields=id,caption,timestamp&access_token=%s",
		a.apiBase, a.businessID, url.QueryEscape(a.token))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transient("instagram list request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp.StatusCode, "list media")
	}

	var decoded struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errs.Transient("decode instagram list response", err)
	}
	return decoded.Data, nil
}

// Read implements adapters.Channel: fetches one media item/comment, and
// extracts a readable excerpt from its rendered HTML caption if present.
func (a *Adapter) Read(ctx context.Context, id string) (map[string]any, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=id,caption,media_url,permalink&access_token=%s",
		a.apiBase, id, url.QueryEscape(a.token))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transient("instagram read request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp.StatusCode, "read media")
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errs.Transient("decode instagram media", err)
	}

	if htmlCaption, ok := raw["caption_html"].(string); ok && htmlCaption != "" {
		if article, err := readability.FromReader(bytes.NewBufferString(htmlCaption), nil); err == nil {
			raw["excerpt_text"] = article.TextContent
		}
	}
	return raw, nil
}

func (a *Adapter) createMediaContainer(ctx context.Context, imageURL, caption string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media", a.apiBase, a.businessID)
	form := url.Values{
		"image_url":    {imageURL},
		"caption":      {caption},
		"access_token": {a.token},
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", errs.Transient("instagram media container create failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyResponse(resp.StatusCode, "create media container")
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || decoded.ID == "" {
		return "", errs.Transient("decode instagram container response", err)
	}
	return decoded.ID, nil
}

func (a *Adapter) publishMediaContainer(ctx context.Context, containerID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/media_publish", a.apiBase, a.businessID)
	form := url.Values{
		"creation_id":  {containerID},
		"access_token": {a.token},
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", errs.Transient("instagram media publish failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", classifyResponse(resp.StatusCode, "publish media")
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil || decoded.ID == "" {
		return "", errs.Transient("decode instagram publish response", err)
	}
	return decoded.ID, nil
}

func validatePostImagePayload(payload map[string]any) (imageURL, caption string, err error) {
	imageURL, _ = payload["image_url"].(string)
	caption, _ = payload["caption"].(string)
	if imageURL == "" {
		return "", "", errs.Precondition("instagram post_image payload missing required field \"image_url\"", nil)
	}
	return imageURL, caption, nil
}

func classifyResponse(status int, detail string) error {
	kind := adapters.ClassifyHTTPStatus(status)
	if kind == "" {
		kind = errs.KindPermanentUpstream
	}
	return errs.New(kind, fmt.Sprintf("instagram %s: HTTP %d", detail, status), nil)
}
