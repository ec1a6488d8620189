package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/token-indexer/internal/logging"
	"github.com/token-indexer/internal/types"
)

func newTestBus() *Bus {
	return NewBus(logging.NewLogger(logging.LevelError, logging.FormatText))
}

func recvOne(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case msg := <-sub.C:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func assertNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg := <-sub.C:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusTopicFiltering(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	progress := bus.Subscribe(types.TopicJobProgress)
	transfers := bus.Subscribe(types.TopicNewTransfer)

	bus.Publish(types.TopicJobProgress, "job-1", "payload")

	msg := recvOne(t, progress)
	assert.Equal(t, types.TopicJobProgress, msg.Topic)
	assert.Equal(t, "job-1", msg.JobID)

	assertNoMessage(t, transfers)
}

func TestBusJobScopedSubscription(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	sub := bus.SubscribeJob("job-1", types.TopicJobProgress)

	bus.Publish(types.TopicJobProgress, "job-2", "other")
	assertNoMessage(t, sub)

	bus.Publish(types.TopicJobProgress, "job-1", "mine")
	msg := recvOne(t, sub)
	assert.Equal(t, "job-1", msg.JobID)
}

func TestBusEmptyTopicListReceivesEverything(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	sub := bus.Subscribe()

	bus.Publish(types.TopicSystemStatus, "", "a")
	bus.Publish(types.TopicNewTransfer, "job-1", "b")

	assert.Equal(t, types.TopicSystemStatus, recvOne(t, sub).Topic)
	assert.Equal(t, types.TopicNewTransfer, recvOne(t, sub).Topic)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	sub := bus.Subscribe(types.TopicJobProgress)
	bus.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open)

	// Unsubscribing twice must not panic.
	bus.Unsubscribe(sub)
}

func TestBusProgressMonotonic(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	sub := bus.Subscribe(types.TopicJobProgress)

	publish := func(progress int, status types.JobStatus) {
		bus.PublishJobProgress(types.JobProgressEvent{
			JobID:    "job-1",
			Progress: progress,
			Status:   status,
		})
	}

	publish(10, types.JobStatusActive)
	publish(30, types.JobStatusActive)
	publish(20, types.JobStatusActive) // regression, dropped
	publish(30, types.JobStatusActive) // duplicate, dropped
	publish(100, types.JobStatusCompleted)

	var got []int
	for i := 0; i < 3; i++ {
		msg := recvOne(t, sub)
		event, ok := msg.Payload.(types.JobProgressEvent)
		require.True(t, ok)
		got = append(got, event.Progress)
	}

	assert.Equal(t, []int{10, 30, 100}, got)
	assertNoMessage(t, sub)
}

func TestBusTerminalEventNeverRegresses(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	sub := bus.Subscribe(types.TopicJobProgress)

	bus.PublishJobProgress(types.JobProgressEvent{JobID: "job-1", Progress: 80, Status: types.JobStatusActive})
	bus.PublishJobProgress(types.JobProgressEvent{JobID: "job-1", Progress: 0, Status: types.JobStatusError})

	recvOne(t, sub)
	terminal := recvOne(t, sub)
	event := terminal.Payload.(types.JobProgressEvent)

	assert.Equal(t, types.JobStatusError, event.Status)
	assert.Equal(t, 80, event.Progress)
}

func TestBusPublishAfterCloseIsNoop(t *testing.T) {
	bus := newTestBus()
	sub := bus.Subscribe(types.TopicJobProgress)

	bus.Close()
	bus.Publish(types.TopicJobProgress, "job-1", "late")

	_, open := <-sub.C
	assert.False(t, open)
}

func TestBusFullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	sub := bus.Subscribe(types.TopicSystemStatus)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer+10; i++ {
			bus.Publish(types.TopicSystemStatus, "", i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// Buffer holds exactly its capacity; the overflow was dropped.
	require.Len(t, sub.C, subscriptionBuffer)
}
