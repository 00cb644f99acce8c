package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to DB: %v", err)
	}
	require.NoError(t, db.EnsureSchema(ctx))
	return db
}

func TestNullableHelpers(t *testing.T) {
	assert.Nil(t, nullableString(""))
	assert.Equal(t, "x", *nullableString("x"))

	assert.Nil(t, nullableUUID(uuid.Nil))
	id := uuid.New()
	assert.Equal(t, id, *nullableUUID(id))
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS generation_events")
}

func TestRecordEvent_RejectsUnknownKind(t *testing.T) {
	db := &DB{}
	_, err := db.RecordEvent(context.Background(), &EventInput{SubjectKind: "other"})
	assert.Error(t, err)
}

func TestEvents_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	owner := uuid.New()
	subject := uuid.New()

	first, err := db.RecordEvent(ctx, &EventInput{
		OwnerID:     owner,
		SubjectID:   subject,
		SubjectKind: SubjectSession,
		Item:        "base",
		Status:      EventStatusDone,
		Artifact:    "s3://bucket/a.png",
	})
	require.NoError(t, err)
	require.NotNil(t, first.Artifact)
	assert.Equal(t, "s3://bucket/a.png", *first.Artifact)
	assert.Nil(t, first.ErrorMessage)

	_, err = db.RecordEvent(ctx, &EventInput{
		OwnerID:      owner,
		SubjectID:    subject,
		SubjectKind:  SubjectSession,
		Item:         "restyle",
		Status:       EventStatusFailed,
		ErrorMessage: "quota",
	})
	require.NoError(t, err)

	events, err := db.ListEvents(ctx, subject, owner)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "base", events[0].Item)
	assert.Equal(t, EventStatusFailed, events[1].Status)

	others, err := db.ListEvents(ctx, subject, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, others)

	all, err := db.ListEvents(ctx, subject, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
