// Package registry provides the durable, queryable mirror of every plan's
// id, channel, action type, payload, status, timestamps, and file path. On
// conflict with the vault, the filesystem is authoritative for approval
// state; the registry is authoritative for payload and history.
package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/c360studio/aiemployee/audit"
	"github.com/c360studio/aiemployee/errs"
	"github.com/c360studio/aiemployee/plan"
	"github.com/c360studio/aiemployee/vault"
)

//go:embed schema.sql
var schemaSQL string

// Registry wraps the sqlite-backed plan table.
type Registry struct {
	db *sql.DB
}

// Open opens or creates a sqlite database at dbPath. If the existing
// database has an incompatible schema, it is deleted and recreated — the
// registry is a derived cache of vault+execution history, never the
// authoritative record, so recreating it loses nothing that Reconcile
// cannot rebuild from the vault tree.
func Open(dbPath string) (*Registry, error) {
	r, err := open(dbPath)
	if err != nil {
		if isSchemaMismatch(err) {
			if rmErr := os.Remove(dbPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, errs.Vault("remove incompatible registry db", rmErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return open(dbPath)
		}
		return nil, err
	}
	return r, nil
}

func isSchemaMismatch(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "SQL logic error")
}

func open(dbPath string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errs.Vault("create registry db directory", err)
	}

	escaped := strings.ReplaceAll(dbPath, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite")
	if err != nil {
		return nil, errs.Vault("open registry db", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errs.Vault("enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errs.Vault("enable foreign keys", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errs.Vault("initialize registry schema", err)
	}

	return &Registry{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error { return r.db.Close() }

// Upsert inserts or replaces p's row.
func (r *Registry) Upsert(ctx context.Context, p plan.Plan) error {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return errs.Precondition("marshal plan payload", err)
	}
	var resultJSON []byte
	if p.Result != nil {
		resultJSON, err = json.Marshal(p.Result)
		if err != nil {
			return errs.Precondition("marshal plan result", err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO plans (id, user_id, channel, action_type, payload, status, risk_level,
			created_at, updated_at, scheduled_at, file_path, result, approval_ref, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, channel=excluded.channel, action_type=excluded.action_type,
			payload=excluded.payload, status=excluded.status, risk_level=excluded.risk_level,
			updated_at=excluded.updated_at, scheduled_at=excluded.scheduled_at,
			file_path=excluded.file_path, result=excluded.result, approval_ref=excluded.approval_ref,
			archived=excluded.archived
	`,
		p.ID, p.UserID, string(p.Channel), p.ActionType, string(payloadJSON), string(p.Status), string(p.RiskLevel),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt), formatTimeOpt(p.ScheduledAt), p.FilePath,
		nullableString(resultJSON), p.ApprovalRef, boolToInt(p.Status == plan.StatusArchived),
	)
	if err != nil {
		return errs.Vault("upsert plan row", err)
	}
	return nil
}

// Get returns the row for id.
func (r *Registry) Get(ctx context.Context, id string) (plan.Plan, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, action_type, payload, status, risk_level,
			created_at, updated_at, scheduled_at, file_path, result, approval_ref
		FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

// ListByStatus returns all rows with the given status.
func (r *Registry) ListByStatus(ctx context.Context, status plan.Status) ([]plan.Plan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, channel, action_type, payload, status, risk_level,
			created_at, updated_at, scheduled_at, file_path, result, approval_ref
		FROM plans WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, errs.Vault("list plans by status", err)
	}
	defer rows.Close()

	var out []plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(s scanner) (plan.Plan, error) {
	var (
		id, userID, channel, actionType, payloadJSON, status, riskLevel string
		createdAt, updatedAt                                           string
		scheduledAt, filePath, resultJSON, approvalRef                  sql.NullString
	)
	if err := s.Scan(&id, &userID, &channel, &actionType, &payloadJSON, &status, &riskLevel,
		&createdAt, &updatedAt, &scheduledAt, &filePath, &resultJSON, &approvalRef); err != nil {
		if err == sql.ErrNoRows {
			return plan.Plan{}, errs.Precondition("plan not found in registry", err)
		}
		return plan.Plan{}, errs.Vault("scan plan row", err)
	}

	p := plan.Plan{
		ID:          id,
		UserID:      userID,
		Channel:     plan.Channel(channel),
		ActionType:  actionType,
		Status:      plan.Status(status),
		RiskLevel:   plan.RiskLevel(riskLevel),
		FilePath:    filePath.String,
		ApprovalRef: approvalRef.String,
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if scheduledAt.Valid {
		p.ScheduledAt, _ = time.Parse(time.RFC3339, scheduledAt.String)
	}
	if payloadJSON != "" {
		_ = json.Unmarshal([]byte(payloadJSON), &p.Payload)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result plan.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
			p.Result = &result
		}
	}
	return p, nil
}

// Reconcile re-derives status and approval_ref from the vault's folder
// placement for every plan not already archived (invariant P5: the
// filesystem is authoritative for approval state). It is called on every
// orchestrator poll before any other action. logger may be nil, in which
// case transitions are still applied but no audit entry is produced.
func (r *Registry) Reconcile(ctx context.Context, store *vault.Store, pm *plan.Manager, logger *audit.Logger) error {
	rows, err := r.db.QueryContext(ctx, `SELECT id, status FROM plans WHERE archived = 0`)
	if err != nil {
		return errs.Vault("query plans for reconcile", err)
	}
	type pending struct{ id, status string }
	var all []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.status); err != nil {
			rows.Close()
			return errs.Vault("scan plan for reconcile", err)
		}
		all = append(all, p)
	}
	rows.Close()

	for _, p := range all {
		if p.status != string(plan.StatusPendingApproval) {
			continue
		}
		outcome, err := pm.DetectApproval(p.id)
		if err != nil {
			return err
		}
		if string(outcome.Status) == p.status {
			continue
		}
		now := time.Now().UTC()
		if _, err := r.db.ExecContext(ctx, `
			UPDATE plans SET status = ?, approval_ref = ?, updated_at = ? WHERE id = ?`,
			string(outcome.Status), outcome.ApprovalRef, formatTime(now), p.id,
		); err != nil {
			return errs.Vault(fmt.Sprintf("reconcile plan %s", p.id), err)
		}

		if logger == nil {
			continue
		}
		actionType := "approve"
		if outcome.Status == plan.StatusRejected {
			actionType = "reject"
		}
		_ = logger.Log(audit.Entry{
			Timestamp:      now,
			ActionType:     actionType,
			Actor:          "human:" + outcome.ApprovalRef,
			Target:         p.id,
			ApprovalStatus: string(outcome.Status),
			ApprovalRef:    outcome.ApprovalRef,
			ApprovedBy:     outcome.ApprovalRef,
			Result:         audit.ResultOK,
		})
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimeOpt(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
