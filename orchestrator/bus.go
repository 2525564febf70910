package orchestrator

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EventBus is the internal pub/sub substrate between watchers and the
// orchestrator: watcher runs and plan-dispatch events are published here
// for any in-process subscriber (the status command, a future dashboard
// push) to observe, without coupling them directly to the orchestrator's
// scheduling loop. It is not an external-facing API — §9's "external
// collaborators" integrate through the vault and registry instead.
type EventBus struct {
	srv  *server.Server
	conn *nats.Conn
}

// NewEventBus starts an embedded, loopback-only NATS server and connects
// to it. Callers must call Close when done.
func NewEventBus() (*EventBus, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // random available port
		NoLog:     true,
		NoSigs:    true,
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("start embedded event bus: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded event bus did not become ready")
	}

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded event bus: %w", err)
	}

	return &EventBus{srv: ns, conn: conn}, nil
}

// Close drains the connection and shuts down the embedded server.
func (b *EventBus) Close() {
	if b.conn != nil {
		b.conn.Drain()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}

// publishWatcherRan notifies subscribers that watcherName completed a run.
// Best-effort: publish failures are swallowed, matching the rest of the
// orchestrator's "watchers never crash the scheduler" policy.
func (b *EventBus) publishWatcherRan(watcherName string, health string) {
	if b == nil || b.conn == nil {
		return
	}
	_ = b.conn.Publish("watchers."+watcherName+".ran", []byte(health))
}

// publishPlanDispatched notifies subscribers that planID was handed to the
// executor.
func (b *EventBus) publishPlanDispatched(channel, planID string) {
	if b == nil || b.conn == nil {
		return
	}
	_ = b.conn.Publish("plans."+channel+".dispatched", []byte(planID))
}

// Subscribe exposes the bus to an in-process consumer, e.g. a CLI command
// that wants to stream watcher/plan activity instead of polling the
// system-status snapshot.
func (b *EventBus) Subscribe(subject string, handler func(subject string, data []byte)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
}
