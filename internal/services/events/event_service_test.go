package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/models"
	"github.com/ternarybob/codestory/internal/testsupport"
)

func newBus(t *testing.T, bufferSize int) (*Service, *testsupport.MemEventStorage) {
	t.Helper()
	storage := testsupport.NewMemEventStorage()
	bus := NewService(storage, bufferSize, time.Hour, arbor.NewLogger())
	t.Cleanup(func() { bus.Close() })
	return bus, storage
}

func publishN(t *testing.T, bus *Service, jobID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := bus.Publish(context.Background(), models.ProgressEvent{
			JobID:    jobID,
			StepName: "scan",
			Kind:     models.EventStepProgress,
		})
		require.NoError(t, err)
	}
}

func TestPublishAssignsStrictlyIncreasingSequences(t *testing.T) {
	bus, _ := newBus(t, 16)

	var last uint64
	for i := 0; i < 5; i++ {
		seq, err := bus.Publish(context.Background(), models.ProgressEvent{
			JobID: "job_a",
			Kind:  models.EventStepProgress,
		})
		require.NoError(t, err)
		assert.Greater(t, seq, last)
		last = seq
	}

	// Sequences are per job: a second job starts from 1
	seq, err := bus.Publish(context.Background(), models.ProgressEvent{
		JobID: "job_b",
		Kind:  models.EventStepProgress,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestSubscribeReplaysAfterSinceSequence(t *testing.T) {
	bus, _ := newBus(t, 16)
	publishN(t, bus, "job_a", 5)

	sub, err := bus.Subscribe(context.Background(), "job_a", 2)
	require.NoError(t, err)
	defer sub.Cancel()

	// Events 3, 4, 5 replay in order
	for want := uint64(3); want <= 5; want++ {
		select {
		case event := <-sub.Events:
			assert.Equal(t, want, event.Sequence)
		case <-time.After(time.Second):
			t.Fatalf("missing replayed event %d", want)
		}
	}

	// Live events continue the stream
	publishN(t, bus, "job_a", 1)
	select {
	case event := <-sub.Events:
		assert.Equal(t, uint64(6), event.Sequence)
	case <-time.After(time.Second):
		t.Fatal("missing live event")
	}
}

func TestSequenceResumesAboveRetainedEvents(t *testing.T) {
	storage := testsupport.NewMemEventStorage()
	require.NoError(t, storage.SaveEvent(context.Background(), &models.ProgressEvent{
		JobID: "job_a", Sequence: 7, Timestamp: time.Now(), Kind: models.EventStepProgress,
	}))

	bus := NewService(storage, 16, time.Hour, arbor.NewLogger())
	defer bus.Close()

	seq, err := bus.Publish(context.Background(), models.ProgressEvent{JobID: "job_a", Kind: models.EventStepProgress})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), seq)
}

func TestSlowSubscriberIsDetachedNotBlocking(t *testing.T) {
	bus, _ := newBus(t, 2)

	sub, err := bus.Subscribe(context.Background(), "job_a", 0)
	require.NoError(t, err)
	defer sub.Cancel()

	// Publish more than the buffer without draining: the publisher must not
	// block, and the subscriber's channel eventually closes.
	done := make(chan struct{})
	go func() {
		publishN(t, bus, "job_a", 20)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	closed := false
	deadline := time.After(time.Second)
	for !closed {
		select {
		case _, ok := <-sub.Events:
			if !ok {
				closed = true
			}
		case <-deadline:
			t.Fatal("slow subscriber was never detached")
		}
	}

	// The snapshot stays authoritative regardless
	snapshot, err := bus.Snapshot(context.Background(), "job_a", 0)
	require.NoError(t, err)
	assert.Len(t, snapshot, 20)
}

func TestSnapshotFiltersBySequence(t *testing.T) {
	bus, _ := newBus(t, 16)
	publishN(t, bus, "job_a", 4)

	snapshot, err := bus.Snapshot(context.Background(), "job_a", 2)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	assert.Equal(t, uint64(3), snapshot[0].Sequence)
	assert.Equal(t, uint64(4), snapshot[1].Sequence)
}

func TestCancelDetachesSubscriber(t *testing.T) {
	bus, _ := newBus(t, 16)

	sub, err := bus.Subscribe(context.Background(), "job_a", 0)
	require.NoError(t, err)
	sub.Cancel()

	if _, ok := <-sub.Events; ok {
		// Drain any in-flight event; the channel must close
		for range sub.Events {
		}
	}

	// Publishing after cancel must not panic or block
	publishN(t, bus, "job_a", 1)
}
