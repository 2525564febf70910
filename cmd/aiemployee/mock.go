package main

import (
	"context"
	"fmt"

	"github.com/c360studio/aiemployee/adapters"
)

// mockChannel is a synthetic adapters.Channel used by --mode mock so the
// full perception-to-execution pipeline can be exercised without live
// credentials. It never calls out to a real upstream.
type mockChannel struct {
	name string
	rows []map[string]any
}

func newMockChannel(name string) *mockChannel {
	return &mockChannel{
		name: name,
		rows: []map[string]any{
			{"id": "mock-1", "subject": fmt.Sprintf("sample %s item", name)},
		},
	}
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Capabilities(ctx context.Context) (adapters.Capabilities, error) {
	return adapters.Capabilities{Authenticated: true, CanRead: true, CanWrite: true, DisplayIdentity: "mock:" + m.name}, nil
}

func (m *mockChannel) DryRun(ctx context.Context, actionType string, payload map[string]any) (adapters.Preview, error) {
	return adapters.Preview{Summary: fmt.Sprintf("[mock %s] would perform %s", m.name, actionType), Extra: payload}, nil
}

func (m *mockChannel) Execute(ctx context.Context, actionType string, payload map[string]any) (adapters.Result, error) {
	return adapters.Result{UpstreamID: "mock-upstream-id", EndpointUsed: "mock://" + m.name + "/" + actionType}, nil
}

func (m *mockChannel) List(ctx context.Context, query map[string]any) ([]map[string]any, error) {
	return m.rows, nil
}

func (m *mockChannel) Read(ctx context.Context, id string) (map[string]any, error) {
	for _, row := range m.rows {
		if fmt.Sprint(row["id"]) == id {
			return row, nil
		}
	}
	return nil, fmt.Errorf("mock %s: no such item %s", m.name, id)
}
