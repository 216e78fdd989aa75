package hub

import (
	"fmt"
	"testing"
	"time"

	"b2monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub(8, zap.NewNop())
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.PublishEvent(models.WebhookEvent{EventID: "e1", BucketName: "photos"})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case msg := <-sub.C:
			assert.Equal(t, KindEvent, msg.Kind)
			ev, ok := msg.Data.(models.WebhookEvent)
			require.True(t, ok)
			assert.Equal(t, "e1", ev.EventID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the message")
		}
	}
}

func TestPerSubscriberOrdering(t *testing.T) {
	h := NewHub(32, zap.NewNop())
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	for i := 0; i < 20; i++ {
		h.PublishEvent(models.WebhookEvent{EventID: fmt.Sprintf("e%d", i)})
	}

	for i := 0; i < 20; i++ {
		msg := <-sub.C
		ev := msg.Data.(models.WebhookEvent)
		assert.Equal(t, fmt.Sprintf("e%d", i), ev.EventID)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(2, zap.NewNop())
	slow := h.Subscribe()
	defer h.Unsubscribe(slow)

	// Nobody drains slow.C; publishing far past its capacity must
	// still return promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.PublishEvent(models.WebhookEvent{EventID: fmt.Sprintf("e%d", i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The slow subscriber kept the earliest messages it had room for.
	assert.Len(t, slow.C, 2)
}

func TestLateSubscriberGetsNoReplay(t *testing.T) {
	h := NewHub(8, zap.NewNop())

	h.PublishSummary(models.AggregationSummary{TotalEvents: 3})

	late := h.Subscribe()
	defer h.Unsubscribe(late)
	assert.Len(t, late.C, 0)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(8, zap.NewNop())
	sub := h.Subscribe()
	assert.Equal(t, 1, h.SubscriberCount())

	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.SubscriberCount())

	_, open := <-sub.C
	assert.False(t, open)

	// Double unsubscribe is harmless.
	h.Unsubscribe(sub)
}
