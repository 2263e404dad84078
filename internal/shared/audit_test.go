package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	sql  string
	args []any
	err  error
}

func (e *recordingExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	e.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), e.err
}

func TestAuditRecordDefaultsMetaAndTime(t *testing.T) {
	db := &recordingExecer{}
	logger := NewAuditLogger(db)

	err := logger.Record(context.Background(), AuditLog{
		StoreID:  "store-1",
		Action:   "inventory.adjust",
		Entity:   "sku",
		EntityID: "TEE-BLK-M",
	})
	require.NoError(t, err)
	require.Len(t, db.args, 7)
	assert.Equal(t, []byte(`{}`), db.args[5])
	assert.Nil(t, db.args[6])
}

func TestAuditRecordKeepsExplicitTime(t *testing.T) {
	db := &recordingExecer{}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	err := NewAuditLogger(db).Record(context.Background(), AuditLog{
		StoreID: "s", ActorID: "u", Action: "batch.transition", Entity: "batch", EntityID: "b",
		Meta: map[string]any{"to": "PRINT"}, At: at,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"to":"PRINT"}`), db.args[5])
	assert.Equal(t, &at, db.args[6])
}

func TestAuditRecordRejectsMissingFields(t *testing.T) {
	db := &recordingExecer{}
	err := NewAuditLogger(db).Record(context.Background(), AuditLog{StoreID: "s", Entity: "sku"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "[action entity_id]")
	assert.Empty(t, db.sql)
}

func TestAuditRecordWrapsExecError(t *testing.T) {
	boom := errors.New("connection reset")
	db := &recordingExecer{err: boom}
	err := NewAuditLogger(db).Record(context.Background(), AuditLog{StoreID: "s", Action: "a", Entity: "e", EntityID: "id"})
	assert.ErrorIs(t, err, boom)

	var nilLogger *AuditLogger
	assert.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}
