package support

import (
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"recipestore/internal/data"
	"recipestore/internal/logger"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

func TestHubDelivers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("c1", 4)
	b := h.Subscribe("c1", 4)
	other := h.Subscribe("c2", 4)

	n := h.Publish(Event{Type: EventMessage, ConversationID: "c1", Message: &data.Message{Body: "xin chào"}})
	assert.Equal(t, 2, n)

	for _, sub := range []*Subscription{a, b} {
		ev := <-sub.C
		assert.Equal(t, "xin chào", ev.Message.Body)
	}
	assert.Empty(t, other.C)

	assert.Equal(t, 0, h.Publish(Event{Type: EventMessage, ConversationID: "nobody"}))
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("c1", 1)
	require.Equal(t, 1, h.Subscribers("c1"))

	h.Unsubscribe(sub)
	h.Unsubscribe(sub)
	assert.Equal(t, 0, h.Subscribers("c1"))

	_, ok := <-sub.C
	assert.False(t, ok, "channel is closed on unsubscribe")
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe("c1", 1)
	fast := h.Subscribe("c1", 8)

	assert.Equal(t, 2, h.Publish(Event{Type: EventMessage, ConversationID: "c1"}))
	assert.Equal(t, 1, h.Publish(Event{Type: EventMessage, ConversationID: "c1"}))
	assert.Equal(t, 1, h.Subscribers("c1"))

	// The buffered event is still readable before the close.
	_, ok := <-slow.C
	assert.True(t, ok)
	_, ok = <-slow.C
	assert.False(t, ok)

	assert.Len(t, fast.C, 2)
	h.Unsubscribe(slow)
}

func TestHubClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := NewHub()
	sub := h.Subscribe("c1", 1)
	h.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	late := h.Subscribe("c1", 1)
	_, ok = <-late.C
	assert.False(t, ok, "subscriptions after close are already closed")
	assert.Equal(t, 0, h.Publish(Event{Type: EventMessage, ConversationID: "c1"}))
}

func TestHubConcurrentPublish(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := NewHub()
	sub := h.Subscribe("c1", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(Event{Type: EventMessage, ConversationID: "c1"})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, sub.C, 500)
	h.Close()
}

func TestValidateBody(t *testing.T) {
	body, err := ValidateBody("  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", body)

	_, err = ValidateBody("   ")
	assert.Error(t, err)

	long := make([]rune, maxMessageLength+1)
	for i := range long {
		long[i] = 'ă'
	}
	_, err = ValidateBody(string(long))
	assert.Error(t, err)

	_, err = ValidateBody(string(long[:maxMessageLength]))
	assert.NoError(t, err)
}
