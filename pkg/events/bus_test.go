package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recv reads one event from the subscription or fails the test.
func recv(t *testing.T, sub *Subscription) GenerationEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return GenerationEvent{}
	}
}

// recvClosed asserts the subscription channel is closed.
func recvClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.False(t, ok, "expected closed channel, got event %q", ev.Stage)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus()
	genID := "gen-order"

	for i := 1; i <= 5; i++ {
		bus.Publish(genID, Progress(genID, fmt.Sprintf("stage_%d", i), float64(i)/10, ""))
	}

	sub, err := bus.Subscribe(genID)
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		ev := recv(t, sub)
		assert.Equal(t, fmt.Sprintf("stage_%d", i), ev.Stage)
		assert.Equal(t, genID, ev.GenerationID)
	}
}

func TestBusSubscribeBeforePublish(t *testing.T) {
	bus := NewBus()
	genID := "gen-live"

	sub, err := bus.Subscribe(genID)
	require.NoError(t, err)
	defer sub.Close()

	bus.Publish(genID, Progress(genID, StageInitialization, 0.02, "starting"))

	ev := recv(t, sub)
	assert.Equal(t, StageInitialization, ev.Stage)
	assert.Equal(t, StatusProcessing, ev.Status)
}

func TestBusRejectsSecondSubscriber(t *testing.T) {
	bus := NewBus()
	genID := "gen-busy"

	sub, err := bus.Subscribe(genID)
	require.NoError(t, err)
	defer sub.Close()

	_, err = bus.Subscribe(genID)
	assert.ErrorIs(t, err, ErrStreamBusy)
}

func TestBusDropsOldestNonTerminalWhenFull(t *testing.T) {
	bus := NewBus(WithBufferSize(4))
	genID := "gen-drop"

	for i := 1; i <= 6; i++ {
		bus.Publish(genID, Progress(genID, fmt.Sprintf("stage_%d", i), float64(i)/10, ""))
	}

	assert.Equal(t, int64(2), bus.Dropped(genID))

	sub, err := bus.Subscribe(genID)
	require.NoError(t, err)
	defer sub.Close()

	// Oldest two were dropped; delivery starts at stage_3.
	for i := 3; i <= 6; i++ {
		ev := recv(t, sub)
		assert.Equal(t, fmt.Sprintf("stage_%d", i), ev.Stage)
	}
}

func TestBusTerminalEventNeverDropped(t *testing.T) {
	bus := NewBus(WithBufferSize(4))
	genID := "gen-terminal"

	for i := 1; i <= 4; i++ {
		bus.Publish(genID, Progress(genID, fmt.Sprintf("stage_%d", i), float64(i)/10, ""))
	}
	// Buffer is full; the terminal must push out a non-terminal instead of
	// being dropped itself.
	bus.Publish(genID, Completed(genID, "done"))

	sub, err := bus.Subscribe(genID)
	require.NoError(t, err)
	defer sub.Close()

	var last GenerationEvent
	count := 0
	for ev := range sub.Events() {
		last = ev
		count++
	}
	assert.Equal(t, 4, count)
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 1.0, last.Progress)
}

func TestBusIgnoresPublishAfterTerminal(t *testing.T) {
	bus := NewBus()
	genID := "gen-after"

	bus.Publish(genID, Failed(genID, "boom", "provider error"))
	bus.Publish(genID, Progress(genID, "late_stage", 0.5, ""))

	sub, err := bus.Subscribe(genID)
	require.NoError(t, err)
	defer sub.Close()

	ev := recv(t, sub)
	assert.Equal(t, StatusFailed, ev.Status)
	recvClosed(t, sub)
}

func TestBusReconnectDrainsRemaining(t *testing.T) {
	bus := NewBus()
	genID := "gen-reconnect"

	bus.Publish(genID, Progress(genID, "stage_1", 0.1, ""))
	bus.Publish(genID, Progress(genID, "stage_2", 0.2, ""))

	subA, err := bus.Subscribe(genID)
	require.NoError(t, err)
	assert.Equal(t, "stage_1", recv(t, subA).Stage)
	assert.Equal(t, "stage_2", recv(t, subA).Stage)
	subA.Close()

	bus.Publish(genID, Progress(genID, "stage_3", 0.6, ""))
	bus.Publish(genID, Completed(genID, "done"))

	subB, err := bus.Subscribe(genID)
	require.NoError(t, err)
	defer subB.Close()

	assert.Equal(t, "stage_3", recv(t, subB).Stage)
	final := recv(t, subB)
	assert.Equal(t, StatusCompleted, final.Status)
	recvClosed(t, subB)
}

func TestBusSubscribeAfterDrainedFails(t *testing.T) {
	bus := NewBus()
	genID := "gen-drained"

	bus.Publish(genID, Completed(genID, "done"))

	sub, err := bus.Subscribe(genID)
	require.NoError(t, err)
	recv(t, sub)
	recvClosed(t, sub)
	sub.Close()

	_, err = bus.Subscribe(genID)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestBusClampsRegressingProgress(t *testing.T) {
	bus := NewBus()
	genID := "gen-clamp"

	bus.Publish(genID, Progress(genID, "stage_1", 0.5, ""))
	bus.Publish(genID, Progress(genID, "stage_2", 0.3, ""))
	bus.Publish(genID, Failed(genID, "boom", "err"))

	sub, err := bus.Subscribe(genID)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, 0.5, recv(t, sub).Progress)
	assert.Equal(t, 0.5, recv(t, sub).Progress, "regressing progress is clamped")
	assert.Equal(t, 0.0, recv(t, sub).Progress, "terminal failed keeps progress 0")
}

func TestBusRemovesChannelAfterTTL(t *testing.T) {
	bus := NewBus(WithChannelTTL(20 * time.Millisecond))
	genID := "gen-ttl"

	bus.Publish(genID, Completed(genID, "done"))
	require.True(t, bus.Has(genID))

	assert.Eventually(t, func() bool {
		return !bus.Has(genID)
	}, time.Second, 10*time.Millisecond)
}

func TestBusTimestampsAreEpochSeconds(t *testing.T) {
	ev := Progress("g", "stage", 0.1, "")
	now := float64(time.Now().Unix())
	assert.InDelta(t, now, ev.Timestamp, 5.0)
}
