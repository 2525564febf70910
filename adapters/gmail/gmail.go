// Package gmail implements the Gmail channel adapter: send/draft email via
// the Gmail REST API, with HTML-body-to-markdown excerpting for watcher
// reads.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/oauth2"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/internal/urlsafety"
)

const (
	apiBase = "https://gmail.googleapis.com/gmail/v1/users/me"
	name    = "gmail"
)

// Adapter is the Gmail channel adapter.
type Adapter struct {
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	identity    string
	converter   *md.Converter
	apiBase     string
}

// New returns a Gmail Adapter. tokenSource is read lazily on each call per
// the token-lifecycle rule (§4.5 rule 3): an expired token is refreshed at
// most once per call, and a refresh failure is classified auth_error, not
// transient.
func New(httpClient *http.Client, tokenSource oauth2.TokenSource, identity string) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	return &Adapter{httpClient: httpClient, tokenSource: tokenSource, identity: identity, converter: conv, apiBase: apiBase}
}

// Name implements adapters.Channel.
func (a *Adapter) Name() string { return name }

// Capabilities implements adapters.Channel.
func (a *Adapter) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	tok, err := a.refreshedToken(ctx)
	if err != nil {
		return adapters.Capabilities{}, err
	}
	return adapters.Capabilities{
		Authenticated:   true,
		CanRead:         true,
		CanWrite:        true,
		GrantedScopes:   scopesFromToken(tok),
		DisplayIdentity: a.identity,
	}, nil
}

// DryRun implements adapters.Channel. It assembles the MIME message and
// reports its size and recipient without sending anything.
func (a *Adapter) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	switch actionType {
	case "send_email", "draft_email":
		to, body, err := validateSendPayload(payload)
		if err != nil {
			return adapters.Preview{}, err
		}
		subject, _ := payload["subject"].(string)
		mimeMsg := buildMIME(to, subject, body)
		return adapters.Preview{
			Summary:   fmt.Sprintf("To: %s, Subject: %s, Size: %d bytes", to, subject, len(mimeMsg)),
			SizeBytes: len(mimeMsg),
			Extra:     map[string]any{"to": to, "subject": subject},
		}, nil
	default:
		return adapters.Preview{}, errs.Precondition(fmt.Sprintf("gmail: unrecognized action type %q", actionType), nil)
	}
}

// Execute implements adapters.Channel.
func (a *Adapter) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	to, body, err := validateSendPayload(payload)
	if err != nil {
		return adapters.Result{}, err
	}
	subject, _ := payload["subject"].(string)
	raw := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buildMIME(to, subject, body))

	switch actionType {
	case "send_email":
		return a.doMessagesSend(ctx, raw)
	case "draft_email":
		return a.doDraftsCreate(ctx, raw)
	default:
		return adapters.Result{}, errs.Precondition(fmt.Sprintf("gmail: unrecognized action type %q", actionType), nil)
	}
}

// List implements adapters.Channel: lists messages matching a query newer
// than an optional after id, for the Gmail watcher.
func (a *Adapter) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	tok, err := a.refreshedToken(ctx)
	if err != nil {
		return nil, err
	}
	q, _ := query["q"].(string)
	endpoint := a.apiBase + "/messages?q=" + url.QueryEscape(q)
	if err := urlsafety.ValidateURL(a.apiBase); err != nil {
		return nil, errs.Precondition("gmail API base URL failed safety validation", err)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transient("gmail list request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp.StatusCode, "list messages")
	}

	var body struct {
		Messages []map[string]any `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Transient("decode gmail list response", err)
	}
	return body.Messages, nil
}

// Read implements adapters.Channel: fetches one message and converts its
// HTML body to a markdown excerpt for the intake wrapper.
func (a *Adapter) Read(ctx context.Context, id string) (map[string]any, error) {
	tok, err := a.refreshedToken(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/messages/%s?format=full", a.apiBase, id)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errs.Transient("gmail read request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp.StatusCode, "read message")
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errs.Transient("decode gmail message", err)
	}

	if from, subject, ok := headersFromPayload(raw); ok {
		raw["from"] = from
		raw["subject"] = subject
	}
	if htmlBody, ok := htmlBodyFromPayload(raw); ok {
		if markdown, err := a.converter.ConvertString(htmlBody); err == nil {
			raw["excerpt_markdown"] = markdown
		}
	} else if snippet, ok := raw["snippet"].(string); ok {
		raw["excerpt_markdown"] = snippet
	}
	return raw, nil
}

func (a *Adapter) refreshedToken(ctx context.Context) (*oauth2.Token, error) {
	tok, err := a.tokenSource.Token()
	if err != nil {
		return nil, errs.Auth("gmail token refresh failed", err)
	}
	return tok, nil
}

// headersFromPayload extracts the From and Subject headers from a Gmail
// message resource's payload.headers array.
func headersFromPayload(raw map[string]any) (from, subject string, ok bool) {
	payload, _ := raw["payload"].(map[string]any)
	headers, _ := payload["headers"].([]any)
	for _, h := range headers {
		entry, _ := h.(map[string]any)
		name, _ := entry["name"].(string)
		value, _ := entry["value"].(string)
		switch name {
		case "From":
			from = value
		case "Subject":
			subject = value
		}
	}
	return from, subject, from != "" || subject != ""
}

// htmlBodyFromPayload decodes the first text/html body part's
// base64url-encoded data, if present.
func htmlBodyFromPayload(raw map[string]any) (string, bool) {
	payload, _ := raw["payload"].(map[string]any)
	if html, ok := decodeBodyIfMime(payload, "text/html"); ok {
		return html, true
	}
	parts, _ := payload["parts"].([]any)
	for _, p := range parts {
		part, _ := p.(map[string]any)
		if html, ok := decodeBodyIfMime(part, "text/html"); ok {
			return html, true
		}
	}
	return "", false
}

func decodeBodyIfMime(part map[string]any, mimeType string) (string, bool) {
	if part == nil {
		return "", false
	}
	if mt, _ := part["mimeType"].(string); mt != mimeType {
		return "", false
	}
	body, _ := part["body"].(map[string]any)
	data, _ := body["data"].(string)
	if data == "" {
		return "", false
	}
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		return "", false
	}
	return string(decoded), true
}

func scopesFromToken(tok *oauth2.Token) []string {
	if tok == nil {
		return nil
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		return []string{scope}
	}
	return nil
}

func validateSendPayload(payload map[string]any) (to, body string, err error) {
	to, _ = payload["to"].(string)
	body, _ = payload["body"].(string)
	if to == "" {
		return "", "", errs.Precondition("gmail payload missing required field \"to\"", nil)
	}
	return to, body, nil
}

func buildMIME(to, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return b.Bytes()
}

func (a *Adapter) doMessagesSend(ctx context.Context, rawMessage string) (adapters.Result, error) {
	tok, err := a.refreshedToken(ctx)
	if err != nil {
		return adapters.Result{}, err
	}
	endpoint := a.apiBase + "/messages/send"
	body, _ := json.Marshal(map[string]string{"raw": rawMessage})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapters.Result{}, errs.Transient("gmail send failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return adapters.Result{}, classifyResponse(resp.StatusCode, "send message")
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return adapters.Result{}, errs.Transient("decode gmail send response", err)
	}
	return adapters.Result{UpstreamID: decoded.ID, EndpointUsed: endpoint}, nil
}

func (a *Adapter) doDraftsCreate(ctx context.Context, rawMessage string) (adapters.Result, error) {
	tok, err := a.refreshedToken(ctx)
	if err != nil {
		return adapters.Result{}, err
	}
	endpoint := a.apiBase + "/drafts"
	body, _ := json.Marshal(map[string]any{"message": map[string]string{"raw": rawMessage}})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapters.Result{}, errs.Transient("gmail draft create failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return adapters.Result{}, classifyResponse(resp.StatusCode, "create draft")
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return adapters.Result{}, errs.Transient("decode gmail draft response", err)
	}
	return adapters.Result{UpstreamID: decoded.ID, EndpointUsed: endpoint}, nil
}

func classifyResponse(status int, detail string) error {
	kind := adapters.ClassifyHTTPStatus(status)
	if kind == "" {
		kind = errs.KindPermanentUpstream
	}
	return errs.New(kind, fmt.Sprintf("gmail %s: HTTP %d", detail, status), nil)
}
