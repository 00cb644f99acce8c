package server

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/post-studio/internal/batch"
	"github.com/jonathan/post-studio/internal/db"
	"github.com/jonathan/post-studio/internal/pipeline"
)

func TestBroker_DeliversToSubscribersOfRun(t *testing.T) {
	b := newBroker()
	run, other := uuid.New(), uuid.New()

	events, unsubscribe := b.subscribe(run)
	defer unsubscribe()

	assert.Zero(t, b.publish(batch.ProgressEvent{RunID: other, Kind: batch.EventJobDone}))
	assert.Zero(t, b.publish(batch.ProgressEvent{RunID: run, Kind: batch.EventJobDone, Index: 2}))

	require.Len(t, events, 1)
	ev := <-events
	assert.Equal(t, 2, ev.Index)
}

func TestBroker_DropsWhenSubscriberIsFull(t *testing.T) {
	b := newBroker()
	run := uuid.New()
	_, unsubscribe := b.subscribe(run)

	for i := 0; i < subscriberBuffer; i++ {
		require.Zero(t, b.publish(batch.ProgressEvent{RunID: run, Index: i}))
	}
	assert.Equal(t, 1, b.publish(batch.ProgressEvent{RunID: run}))

	unsubscribe()
	assert.Zero(t, b.subscribers(run))
	assert.Zero(t, b.publish(batch.ProgressEvent{RunID: run}))
}

func TestSessionEventInput(t *testing.T) {
	id, owner := uuid.New(), uuid.New()
	tests := []struct {
		kind   string
		item   string
		status string
	}{
		{pipeline.EventStageDone, pipeline.StageRestyle, db.EventStatusDone},
		{pipeline.EventStageFailed, pipeline.StageRestyle, db.EventStatusFailed},
		{pipeline.EventStageSkipped, pipeline.StageRestyle, db.EventStatusSkipped},
		{pipeline.EventInvalidated, pipeline.StageRestyle, db.EventStatusInvalidated},
		{pipeline.EventFinished, "session", db.EventStatusFinished},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			in := sessionEventInput(pipeline.ProgressEvent{SessionID: id, Kind: tt.kind, Stage: pipeline.StageRestyle, Message: "m"}, owner)
			require.NotNil(t, in)
			assert.Equal(t, tt.item, in.Item)
			assert.Equal(t, tt.status, in.Status)
			assert.Equal(t, owner, in.OwnerID)
			assert.Equal(t, db.SubjectSession, in.SubjectKind)
		})
	}

	assert.Nil(t, sessionEventInput(pipeline.ProgressEvent{Kind: pipeline.EventStageStarted}, owner))
}

func TestBatchEventInput(t *testing.T) {
	id := uuid.New()

	in := batchEventInput(batch.ProgressEvent{RunID: id, Kind: batch.EventJobError, Index: 3, Message: "quota"}, uuid.Nil)
	require.NotNil(t, in)
	assert.Equal(t, "3", in.Item)
	assert.Equal(t, db.EventStatusFailed, in.Status)
	assert.Equal(t, "quota", in.ErrorMessage)
	assert.Equal(t, db.SubjectBatch, in.SubjectKind)

	in = batchEventInput(batch.ProgressEvent{RunID: id, Kind: batch.EventRunCancelled, Index: -1, Message: "1 done"}, uuid.Nil)
	require.NotNil(t, in)
	assert.Equal(t, "run", in.Item)
	assert.Equal(t, db.EventStatusCancelled, in.Status)
	assert.Empty(t, in.ErrorMessage)

	assert.Nil(t, batchEventInput(batch.ProgressEvent{Kind: batch.EventJobGenerating}, uuid.Nil))
}
