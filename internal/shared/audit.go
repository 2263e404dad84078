package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// AuditLog is one row of audit_logs.
type AuditLog struct {
	StoreID  string
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Execer is the slice of pgxpool.Pool / pgx.Tx the audit writer needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger appends inventory and batch actions to audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a logger writing through db.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

const insertAuditSQL = `INSERT INTO audit_logs (store_id, actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, COALESCE($7, NOW()))`

// Record persists entry. A zero At lets the database stamp the time.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("shared: audit logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("shared: encode audit meta: %w", err)
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	if _, err := l.db.Exec(ctx, insertAuditSQL,
		entry.StoreID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, at); err != nil {
		return fmt.Errorf("shared: insert audit log: %w", err)
	}
	return nil
}

func (a AuditLog) validate() error {
	var missing []string
	for _, f := range [...]struct{ name, value string }{
		{"store_id", a.StoreID},
		{"action", a.Action},
		{"entity", a.Entity},
		{"entity_id", a.EntityID},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("audit log missing %v: %w", missing, ErrValidation)
}
