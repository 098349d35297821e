package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipestore/internal/logger"
)

type failingPublisher struct {
	calls int
	ctxOK bool
}

func (f *failingPublisher) Publish(ctx context.Context, _ string, _ interface{}) error {
	f.calls++
	f.ctxOK = ctx.Err() == nil
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func TestNewWithoutURLIsNop(t *testing.T) {
	logger.UseNop()
	p, err := New("")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.Publish(context.Background(), OrderPaid, nil))
	assert.NoError(t, p.Close())
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	require.NoError(t, r.Publish(context.Background(), DishModerated, ModerationEvent{ID: "d1", Status: "approved", ReviewerID: "a1"}))
	require.NoError(t, r.Publish(context.Background(), OrderPaid, OrderPaidEvent{OrderCode: 42, Amount: 99000}))

	assert.Equal(t, []string{DishModerated, OrderPaid}, r.Subjects())

	var ev OrderPaidEvent
	require.NoError(t, json.Unmarshal(r.Events[1].Payload, &ev))
	assert.Equal(t, int64(42), ev.OrderCode)
	assert.False(t, r.Events[1].OccurredAt.IsZero())

	assert.Error(t, r.Publish(context.Background(), OrderPaid, make(chan int)))
	assert.Len(t, r.Subjects(), 2)
}

func TestEmitSwallowsErrors(t *testing.T) {
	logger.UseNop()
	f := &failingPublisher{}

	// A cancelled request context still gets its event out.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NotPanics(t, func() { Emit(ctx, f, OrderFailed, map[string]int{"order_code": 1}) })
	assert.Equal(t, 1, f.calls)
	assert.True(t, f.ctxOK)

	assert.NotPanics(t, func() { Emit(context.Background(), nil, OrderFailed, nil) })
}
