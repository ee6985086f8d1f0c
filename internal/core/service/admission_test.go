package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/pkg/clock"
)

var saleStart = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func newTestGate(cfg GateConfig, processor Processor) *Gate {
	item := testItem("item-1", 10)
	item.StartTime = saleStart
	item.EndTime = saleStart.Add(time.Hour)

	return NewGate(cfg, processor, NewCatalog(item), clock.NewMockClock(saleStart.Add(time.Minute)), discardLogger())
}

func TestSubmit_Accepted(t *testing.T) {
	processor := &mockProcessor{outcome: domain.OutcomeReserved}
	gate := newTestGate(GateConfig{CoreWorkers: 2, MaxWorkers: 2, Backlog: 4}, processor)

	err := gate.Submit(context.Background(), "item-1", "user-a")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return processor.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, gate.IsSoldOut("item-1"))

	gate.Close()
	goleak.VerifyNone(t)
}

func TestSubmit_SoldOutFlagShortCircuits(t *testing.T) {
	processor := &mockProcessor{outcome: domain.OutcomeSoldOut}
	gate := newTestGate(GateConfig{CoreWorkers: 1, MaxWorkers: 1, Backlog: 4}, processor)
	defer gate.Close()

	require.NoError(t, gate.Submit(context.Background(), "item-1", "user-a"))
	assert.Eventually(t, func() bool { return gate.IsSoldOut("item-1") }, 2*time.Second, 5*time.Millisecond)

	err := gate.Submit(context.Background(), "item-1", "user-b")
	assert.ErrorIs(t, err, ErrSoldOut)
	assert.Equal(t, 1, processor.callCount())

	gate.ClearSoldOut("item-1")
	assert.False(t, gate.IsSoldOut("item-1"))
	assert.NoError(t, gate.Submit(context.Background(), "item-1", "user-b"))
}

func TestSubmit_BacklogFullRejectsWithoutBlocking(t *testing.T) {
	processor := &mockProcessor{
		outcome: domain.OutcomeReserved,
		block:   make(chan struct{}),
		started: make(chan struct{}, 10),
	}
	gate := newTestGate(GateConfig{CoreWorkers: 1, MaxWorkers: 1, Backlog: 1}, processor)

	ctx := context.Background()
	require.NoError(t, gate.Submit(ctx, "item-1", "user-1"))
	<-processor.started
	require.NoError(t, gate.Submit(ctx, "item-1", "user-2"))

	start := time.Now()
	err := gate.Submit(ctx, "item-1", "user-3")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(processor.block)
	gate.Close()

	assert.Equal(t, 2, processor.callCount())
	assert.NotContains(t, processor.calls, "user-3")
	goleak.VerifyNone(t)
}

func TestSubmit_GrowsToMaxWorkers(t *testing.T) {
	processor := &mockProcessor{
		outcome: domain.OutcomeReserved,
		block:   make(chan struct{}),
		started: make(chan struct{}, 10),
	}
	gate := newTestGate(GateConfig{CoreWorkers: 1, MaxWorkers: 2, Backlog: 1, KeepAlive: 20 * time.Millisecond}, processor)

	ctx := context.Background()
	require.NoError(t, gate.Submit(ctx, "item-1", "user-1"))
	<-processor.started
	require.NoError(t, gate.Submit(ctx, "item-1", "user-2"))

	// backlog is full, an extra worker takes this one
	require.NoError(t, gate.Submit(ctx, "item-1", "user-3"))
	<-processor.started
	assert.Equal(t, 2, gate.Workers())

	assert.ErrorIs(t, gate.Submit(ctx, "item-1", "user-4"), ErrBusy)

	close(processor.block)
	assert.Eventually(t, func() bool { return processor.callCount() == 3 }, 2*time.Second, 5*time.Millisecond)

	// the extra worker retires after its keep-alive
	assert.Eventually(t, func() bool { return gate.Workers() == 1 }, 2*time.Second, 5*time.Millisecond)

	gate.Close()
	goleak.VerifyNone(t)
}

func TestSubmit_BoundedWait(t *testing.T) {
	processor := &mockProcessor{
		outcome: domain.OutcomeReserved,
		block:   make(chan struct{}),
		started: make(chan struct{}, 10),
	}
	gate := newTestGate(GateConfig{CoreWorkers: 1, MaxWorkers: 1, Backlog: 1, SubmitTimeout: 50 * time.Millisecond}, processor)

	ctx := context.Background()
	require.NoError(t, gate.Submit(ctx, "item-1", "user-1"))
	<-processor.started
	require.NoError(t, gate.Submit(ctx, "item-1", "user-2"))

	start := time.Now()
	err := gate.Submit(ctx, "item-1", "user-3")
	assert.ErrorIs(t, err, ErrBusy)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	close(processor.block)
	gate.Close()
}

func TestSubmit_WorkerSurvivesPanic(t *testing.T) {
	processor := &mockProcessor{panics: true}
	gate := newTestGate(GateConfig{CoreWorkers: 1, MaxWorkers: 1, Backlog: 4}, processor)

	require.NoError(t, gate.Submit(context.Background(), "item-1", "user-1"))
	require.NoError(t, gate.Submit(context.Background(), "item-1", "user-2"))

	assert.Eventually(t, func() bool { return processor.callCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, gate.Workers())

	gate.Close()
	goleak.VerifyNone(t)
}

func TestSubmit_Rejections(t *testing.T) {
	processor := &mockProcessor{outcome: domain.OutcomeReserved}

	tests := []struct {
		name   string
		itemID string
		now    time.Time
		errIs  error
	}{
		{name: "unknown item", itemID: "missing", now: saleStart, errIs: ErrItemNotFound},
		{name: "before sale window", itemID: "item-1", now: saleStart.Add(-time.Second), errIs: ErrSaleNotStarted},
		{name: "at sale end", itemID: "item-1", now: saleStart.Add(time.Hour), errIs: ErrSaleEnded},
		{name: "at sale start", itemID: "item-1", now: saleStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newTestGate(GateConfig{CoreWorkers: 1, MaxWorkers: 1, Backlog: 4}, processor)
			defer gate.Close()
			gate.clock = clock.NewMockClock(tt.now)

			err := gate.Submit(context.Background(), tt.itemID, "user-a")
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	gate := newTestGate(GateConfig{CoreWorkers: 1, MaxWorkers: 1}, &mockProcessor{})
	gate.Close()
	gate.Close()

	err := gate.Submit(context.Background(), "item-1", "user-a")
	assert.ErrorIs(t, err, ErrGateClosed)
	goleak.VerifyNone(t)
}
