package flood

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverTaskAppliesParamsAndAcks(t *testing.T) {
	store := NewParamStore(DefaultParams())
	inbox := make(chan []byte, 4)
	outbox := make(chan ServerMessage, 4)
	task := NewReceiverTask(store, inbox, outbox)

	go task.Run()

	inbox <- []byte(`{"type":"set_params","params":{"fps":5}}`)
	close(inbox)

	select {
	case msg := <-outbox:
		assert.Equal(t, "ack", msg.Type)
		assert.Contains(t, msg.Updated, "fps")
		require.NotNil(t, msg.Params)
		assert.Equal(t, 5, msg.Params.FPS)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
	}

	assert.Equal(t, 5, store.Snapshot().FPS)
}

func TestReceiverTaskStopClosesStoppedChannel(t *testing.T) {
	store := NewParamStore(DefaultParams())
	inbox := make(chan []byte, 4)
	outbox := make(chan ServerMessage, 4)
	task := NewReceiverTask(store, inbox, outbox)

	go task.Run()

	inbox <- []byte(`{"type":"stop"}`)

	select {
	case <-task.Stopped():
	case <-time.After(time.Second):
		t.Fatal("stop channel was never closed")
	}
}

func TestReceiverTaskMalformedMessageReportsError(t *testing.T) {
	store := NewParamStore(DefaultParams())
	inbox := make(chan []byte, 4)
	outbox := make(chan ServerMessage, 4)
	task := NewReceiverTask(store, inbox, outbox)

	go task.Run()
	inbox <- []byte(`not json`)

	select {
	case msg := <-outbox:
		assert.Equal(t, "error", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error message")
	}
	close(inbox)
	require.NotNil(t, task)
}
