package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestToModel(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	entry, err := toModel(Event{
		IssuanceID: "iss-1",
		TemplateID: "T1",
		Action:     ActionFailed,
		Stage:      "rendering",
		Details:    map[string]interface{}{"reason": "font not found"},
		At:         at,
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, "iss-1", entry.IssuanceID)
	assert.Equal(t, ActionFailed, entry.Action)
	assert.Equal(t, "rendering", entry.Stage)
	assert.Equal(t, at, entry.CreatedAt)

	var details map[string]string
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.Equal(t, "font not found", details["reason"])
}

func TestToModelDefaults(t *testing.T) {
	entry, err := toModel(Event{IssuanceID: "iss-1", Action: ActionIssued})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(entry.Details))
	assert.False(t, entry.CreatedAt.IsZero())
}

func TestRecordBuildsInsert(t *testing.T) {
	// DryRun builds statements without a server
	db, err := gorm.Open(postgres.Open("host=localhost user=test dbname=test sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	entry, err := toModel(Event{IssuanceID: "iss-1", TemplateID: "T1", Action: ActionIssued})
	require.NoError(t, err)

	stmt := db.Session(&gorm.Session{DryRun: true}).Create(entry).Statement
	assert.Contains(t, stmt.SQL.String(), `INSERT INTO "issuance_audit_logs"`)
	assert.Contains(t, stmt.Vars, "iss-1")
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Record(context.Background(), Event{}))
}
