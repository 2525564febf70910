// Package whatsapp implements the WhatsApp channel adapter. WhatsApp Web
// has no official API; browser automation of the web client is an
// external collaborator (§6, "not specified here") run as a local bridge
// process. This adapter only talks to that bridge's local HTTP interface
// and owns none of the DOM automation itself.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/errs"
)

const name = "whatsapp"

// Adapter is the WhatsApp channel adapter. It drives a local bridge
// process (typically a headless-browser sidecar) over HTTP; sessionDir
// is the whatsapp_session/ secret blob the bridge reads to stay logged
// in, checked here only for presence, never opened.
type Adapter struct {
	httpClient *http.Client
	bridgeURL  string
	sessionDir string
}

// New returns a WhatsApp Adapter. bridgeURL points at the local bridge
// process's HTTP interface (e.g. http://127.0.0.1:8765).
func New(httpClient *http.Client, bridgeURL, sessionDir string) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{httpClient: httpClient, bridgeURL: bridgeURL, sessionDir: sessionDir}
}

// Name implements adapters.Channel.
func (a *Adapter) Name() string { return name }

// Capabilities implements adapters.Channel. A WhatsApp session is only
// usable if the bridge reports it logged in and the session directory
// exists; the session store itself is the bridge's concern.
func (a *Adapter) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	if _, err := os.Stat(a.sessionDir); err != nil {
		return adapters.Capabilities{}, errs.Auth("whatsapp session directory missing or unreadable", err)
	}

	var status struct {
		LoggedIn bool   `json:"logged_in"`
		Phone    string `json:"phone"`
	}
	if err := a.bridgeCall(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		return adapters.Capabilities{}, err
	}
	if !status.LoggedIn {
		return adapters.Capabilities{}, errs.Auth("whatsapp bridge reports session not logged in", nil)
	}
	return adapters.Capabilities{
		Authenticated:   true,
		CanRead:         true,
		CanWrite:        true,
		DisplayIdentity: status.Phone,
	}, nil
}

// DryRun implements adapters.Channel.
func (a *Adapter) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	if actionType != "send_message" {
		return adapters.Preview{}, errs.Precondition(fmt.Sprintf("whatsapp: unrecognized action type %q", actionType), nil)
	}
	chatID, body, err := validateSendPayload(payload)
	if err != nil {
		return adapters.Preview{}, err
	}
	return adapters.Preview{
		Summary:   fmt.Sprintf("chat: %s, body: %q", chatID, body),
		SizeBytes: len(body),
		Extra:     map[string]any{"chat_id": chatID},
	}, nil
}

// Execute implements adapters.Channel: asks the bridge to type and send
// the message into the given chat thread.
func (a *Adapter) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	if actionType != "send_message" {
		return adapters.Result{}, errs.Precondition(fmt.Sprintf("whatsapp: unrecognized action type %q", actionType), nil)
	}
	chatID, body, err := validateSendPayload(payload)
	if err != nil {
		return adapters.Result{}, err
	}

	var resp struct {
		MessageID string `json:"message_id"`
	}
	req := map[string]string{"chat_id": chatID, "body": body}
	if err := a.bridgeCall(ctx, http.MethodPost, "/send", req, &resp); err != nil {
		return adapters.Result{}, err
	}
	return adapters.Result{UpstreamID: resp.MessageID, EndpointUsed: "bridge:/send"}, nil
}

// List implements adapters.Channel: returns unread chat entries the
// bridge has observed in the web client's DOM since the given chat_id
// (identity is chat id + message data-id, per §4.4).
func (a *Adapter) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	var resp struct {
		Messages []map[string]any `json:"messages"`
	}
	if err := a.bridgeCall(ctx, http.MethodGet, "/unread", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Read implements adapters.Channel: fetches the full body of one message
// by its "<chat_id>:<data_id>" composite identifier.
func (a *Adapter) Read(ctx context.Context, id string) (map[string]any, error) {
	var raw map[string]any
	path := fmt.Sprintf("/message/%s", id)
	if err := a.bridgeCall(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (a *Adapter) bridgeCall(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errs.Precondition("whatsapp: request payload not serializable", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.bridgeURL+path, reader)
	if err != nil {
		return errs.Precondition("whatsapp: invalid bridge request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return errs.Transient("whatsapp bridge unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errs.Auth("whatsapp bridge session expired", nil)
	}
	if resp.StatusCode != http.StatusOK {
		kind := adapters.ClassifyHTTPStatus(resp.StatusCode)
		if kind == "" {
			kind = errs.KindPermanentUpstream
		}
		return errs.New(kind, fmt.Sprintf("whatsapp bridge %s: HTTP %d", path, resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Transient("decode whatsapp bridge response", err)
	}
	return nil
}

func validateSendPayload(payload map[string]any) (chatID, body string, err error) {
	chatID, _ = payload["chat_id"].(string)
	body, _ = payload["body"].(string)
	if chatID == "" {
		return "", "", errs.Precondition("whatsapp send_message payload missing required field \"chat_id\"", nil)
	}
	if body == "" {
		return "", "", errs.Precondition("whatsapp send_message payload missing required field \"body\"", nil)
	}
	return chatID, body, nil
}
