package odoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aiemployee/errs"
)

func rpcServer(t *testing.T, result any, rpcErr *rpcError) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rpcResponse{}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, _ := json.Marshal(result)
			resp.Result = raw
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestDryRun_ReadOnlyActionSkipsApproval(t *testing.T) {
	a := New(http.DefaultClient, "http://odoo.local", "mydb", 2, "secret")

	preview, err := a.DryRun(context.Background(), "list_invoices", nil)
	require.NoError(t, err)
	assert.Contains(t, preview.Summary, "no approval required")
}

func TestDryRun_RegisterPayment_ProducesPreview(t *testing.T) {
	a := New(http.DefaultClient, "http://odoo.local", "mydb", 2, "secret")

	preview, err := a.DryRun(context.Background(), "register_payment", map[string]any{
		"invoice_id": float64(42), "amount": float64(1500.00),
	})
	require.NoError(t, err)
	assert.Contains(t, preview.Summary, "1500.00")
	assert.Contains(t, preview.Summary, "42")
}

func TestExecute_CreateInvoice_ReturnsUpstreamID(t *testing.T) {
	srv := rpcServer(t, 501, nil)
	defer srv.Close()

	a := New(srv.Client(), srv.URL, "mydb", 2, "secret")
	result, err := a.Execute(context.Background(), "create_invoice", map[string]any{"partner_id": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, "501", result.UpstreamID)
}

func TestExecute_RegisterPayment_MissingAmountIsPrecondition(t *testing.T) {
	srv := rpcServer(t, 1, nil)
	defer srv.Close()

	a := New(srv.Client(), srv.URL, "mydb", 2, "secret")
	_, err := a.Execute(context.Background(), "register_payment", map[string]any{"invoice_id": float64(42)})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindPrecondition, e.Kind)
}

func TestExecute_UpstreamRPCErrorIsPermanentUpstream(t *testing.T) {
	srv := rpcServer(t, nil, &rpcError{Code: 200, Message: "odoo.exceptions.ValidationError", Data: struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}{Name: "ValidationError", Message: "cannot post an already posted invoice"}})
	defer srv.Close()

	a := New(srv.Client(), srv.URL, "mydb", 2, "secret")
	_, err := a.Execute(context.Background(), "post_invoice", map[string]any{"invoice_id": float64(42)})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindPermanentUpstream, e.Kind)
}

func TestList_UnknownActionIsPrecondition(t *testing.T) {
	a := New(http.DefaultClient, "http://odoo.local", "mydb", 2, "secret")

	_, err := a.List(context.Background(), map[string]any{"action": "nonsense"})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindPrecondition, e.Kind)
}
