package sse

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_TopicFanOut(t *testing.T) {
	h := testHub()
	both, cancelBoth := h.Subscribe(TopicState, TopicStorage)
	defer cancelBoth()
	stateOnly, cancelState := h.Subscribe(TopicState)
	defer cancelState()

	h.PublishJSON(TopicState, map[string]string{"state": "scanning"})
	h.PublishJSON(TopicStorage, map[string]bool{"logged_in": true})

	ev := <-both
	assert.Equal(t, TopicState, ev.Type)
	assert.JSONEq(t, `{"state":"scanning"}`, string(ev.Data))
	ev = <-both
	assert.Equal(t, TopicStorage, ev.Type)

	ev = <-stateOnly
	assert.Equal(t, TopicState, ev.Type)
	select {
	case ev := <-stateOnly:
		t.Fatalf("unexpected event %q", ev.Type)
	default:
	}
	assert.Equal(t, 2, h.SubscriberCount(TopicState))
	assert.Equal(t, 1, h.SubscriberCount(TopicStorage))
}

func TestHub_CancelClosesAndUnregisters(t *testing.T) {
	h := testHub()
	ch, cancel := h.Subscribe(TopicState)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, h.SubscriberCount(TopicState))
	h.PublishJSON(TopicState, "after cancel")
}

func TestHub_DropsForSlowClient(t *testing.T) {
	h := testHub()
	ch, cancel := h.Subscribe(TopicHistory)
	defer cancel()

	for i := 0; i < cap(ch)+10; i++ {
		h.Publish(Event{Type: TopicHistory, Data: []byte("{}")})
	}
	require.Len(t, ch, cap(ch))
}
