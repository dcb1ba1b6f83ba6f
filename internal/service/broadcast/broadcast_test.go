package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krobus00/market-stream/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	feeds []entity.SymbolFeed
	err   error
	calls atomic.Int32
}

func (l *stubLoader) LoadFeeds(_ context.Context) ([]entity.SymbolFeed, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.feeds, nil
}

func makeFeed(symbol string, n int) entity.SymbolFeed {
	records := make([]entity.MarketRecord, n)
	for i := range records {
		price := decimal.NewFromInt(int64(100 + i))
		records[i] = entity.MarketRecord{
			Date:   fmt.Sprintf("2024-01-%02d", i+1),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return entity.SymbolFeed{Symbol: symbol, Records: records}
}

// manualController never ticks on its own; tests drive publishers directly.
func manualController(loader entity.FeedLoader) *Controller {
	return NewController(loader, ControllerConfig{EmitInterval: time.Hour})
}

func TestNextState(t *testing.T) {
	states := []entity.BroadcastState{entity.BroadcastStopped, entity.BroadcastRunning, entity.BroadcastPaused}
	ops := []entity.BroadcastOperation{
		entity.BroadcastStart, entity.BroadcastPause, entity.BroadcastResume,
		entity.BroadcastStop, entity.BroadcastRestart,
	}

	allowed := map[entity.BroadcastState]map[entity.BroadcastOperation]entity.BroadcastState{
		entity.BroadcastStopped: {
			entity.BroadcastStart:   entity.BroadcastRunning,
			entity.BroadcastStop:    entity.BroadcastStopped,
			entity.BroadcastRestart: entity.BroadcastRunning,
		},
		entity.BroadcastRunning: {
			entity.BroadcastPause:   entity.BroadcastPaused,
			entity.BroadcastStop:    entity.BroadcastStopped,
			entity.BroadcastRestart: entity.BroadcastRunning,
		},
		entity.BroadcastPaused: {
			entity.BroadcastResume:  entity.BroadcastRunning,
			entity.BroadcastStop:    entity.BroadcastStopped,
			entity.BroadcastRestart: entity.BroadcastRunning,
		},
	}

	for _, state := range states {
		for _, op := range ops {
			t.Run(fmt.Sprintf("%s/%s", state, op), func(t *testing.T) {
				next, err := nextState(state, op)

				want, ok := allowed[state][op]
				if !ok {
					var transitionErr *TransitionError
					require.ErrorAs(t, err, &transitionErr)
					assert.ErrorIs(t, err, ErrInvalidTransition)
					assert.Equal(t, state, transitionErr.State)
					assert.Equal(t, op, transitionErr.Operation)
					assert.Equal(t, state, next)
					return
				}

				require.NoError(t, err)
				assert.Equal(t, want, next)
			})
		}
	}
}

func TestController_StartAndInvalidTransitions(t *testing.T) {
	loader := &stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 3), makeFeed("MSFT", 2)}}
	controller := manualController(loader)
	defer controller.Stop(context.Background())

	ctx := context.Background()
	assert.Equal(t, entity.BroadcastStopped, controller.State())

	_, err := controller.Pause(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = controller.Resume(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, entity.BroadcastStopped, controller.State())

	msg, err := controller.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Broadcasting started for 2 symbols with 5 total records", msg)
	assert.Equal(t, entity.BroadcastRunning, controller.State())

	_, err = controller.Start(ctx)
	assert.EqualError(t, err, "cannot execute start while in state running")
	_, err = controller.Resume(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, entity.BroadcastRunning, controller.State())
	assert.Equal(t, int32(1), loader.calls.Load())

	status := controller.Status()
	assert.Equal(t, 2, status.SymbolCount)
	assert.Equal(t, 5, status.TotalRecords)
	assert.Equal(t, []string{"AAPL", "MSFT"}, controller.Symbols())
}

func TestController_StopFromAnyState(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 3)}}

	t.Run("stopped", func(t *testing.T) {
		controller := manualController(loader)
		msg, err := controller.Stop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Broadcasting stopped successfully", msg)
		assert.Equal(t, entity.BroadcastStopped, controller.State())
	})

	t.Run("running", func(t *testing.T) {
		controller := manualController(loader)
		_, err := controller.Start(ctx)
		require.NoError(t, err)
		_, err = controller.Stop(ctx)
		require.NoError(t, err)
		assert.Equal(t, entity.BroadcastStopped, controller.State())
		assert.Empty(t, controller.Symbols())
	})

	t.Run("paused", func(t *testing.T) {
		controller := manualController(loader)
		_, err := controller.Start(ctx)
		require.NoError(t, err)
		_, err = controller.Pause(ctx)
		require.NoError(t, err)
		_, err = controller.Stop(ctx)
		require.NoError(t, err)
		assert.Equal(t, entity.BroadcastStopped, controller.State())
	})
}

func TestController_ZeroFeeds(t *testing.T) {
	controller := manualController(&stubLoader{})

	msg, err := controller.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Broadcasting started for 0 symbols with 0 total records", msg)
	assert.Equal(t, entity.BroadcastRunning, controller.State())
	assert.Equal(t, 0, controller.Status().SymbolCount)
}

func TestController_LoaderFailure(t *testing.T) {
	loadErr := errors.New("data directory missing")
	controller := manualController(&stubLoader{err: loadErr})

	_, err := controller.Start(context.Background())
	assert.ErrorIs(t, err, ErrFeedLoad)
	assert.ErrorIs(t, err, loadErr)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, entity.BroadcastStopped, controller.State())

	_, err = controller.Restart(context.Background())
	assert.ErrorIs(t, err, ErrFeedLoad)
	assert.Equal(t, entity.BroadcastStopped, controller.State())
}

func TestController_RestartWithFailingLoaderStops(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 3)}}
	controller := manualController(loader)
	defer controller.Stop(ctx)

	result, err := controller.Execute(ctx, entity.BroadcastStart)
	require.NoError(t, err)
	assert.Equal(t, entity.BroadcastRunning, result.State)

	sub, ok := controller.Subscribe("AAPL")
	require.True(t, ok)

	loader.err = errors.New("feed source unavailable")
	result, err = controller.Execute(ctx, entity.BroadcastRestart)
	assert.ErrorIs(t, err, ErrFeedLoad)
	assert.Empty(t, result.Message)
	assert.Equal(t, entity.BroadcastStopped, result.State)
	assert.Equal(t, entity.BroadcastStopped, controller.State())
	assert.Zero(t, controller.Status().SymbolCount)

	_, open := <-sub.C()
	assert.False(t, open, "restart tears down the running feeds before reloading")
}

func TestController_ExecuteReportsResultingState(t *testing.T) {
	ctx := context.Background()
	controller := manualController(&stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 3)}})
	defer controller.Stop(ctx)

	result, err := controller.Execute(ctx, entity.BroadcastPause)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, entity.BroadcastStopped, result.State)

	_, err = controller.Start(ctx)
	require.NoError(t, err)

	result, err = controller.Execute(ctx, entity.BroadcastPause)
	require.NoError(t, err)
	assert.Equal(t, Result{Message: "Broadcasting paused successfully", State: entity.BroadcastPaused}, result)
}

func TestController_PausePreservesCursor(t *testing.T) {
	ctx := context.Background()
	controller := manualController(&stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 5)}})
	defer controller.Stop(ctx)

	_, err := controller.Start(ctx)
	require.NoError(t, err)

	sub, ok := controller.Subscribe("AAPL")
	require.True(t, ok)

	p := controller.publishers["AAPL"]
	p.emit()
	p.emit()
	assert.Equal(t, 0, (<-sub.C()).Index)
	assert.Equal(t, 1, (<-sub.C()).Index)

	msg, err := controller.Pause(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Broadcasting paused successfully", msg)

	p.emit()
	p.emit()
	assert.Empty(t, sub.C())
	assert.Equal(t, 2, controller.Status().Symbols[0].Cursor)

	msg, err = controller.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Broadcasting resumed successfully", msg)

	p.emit()
	tick := <-sub.C()
	assert.Equal(t, 2, tick.Index)
	assert.Equal(t, uint64(3), tick.Sequence)
}

func TestController_RestartResetsCursor(t *testing.T) {
	ctx := context.Background()
	loader := &stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 5)}}
	controller := manualController(loader)
	defer controller.Stop(ctx)

	_, err := controller.Start(ctx)
	require.NoError(t, err)

	old, ok := controller.Subscribe("AAPL")
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		controller.publishers["AAPL"].emit()
	}
	assert.Equal(t, 3, controller.Status().Symbols[0].Cursor)

	_, err = controller.Pause(ctx)
	require.NoError(t, err)

	_, err = controller.Restart(ctx)
	require.NoError(t, err)
	assert.Equal(t, entity.BroadcastRunning, controller.State())
	assert.Equal(t, int32(2), loader.calls.Load())

	status := controller.Status()
	assert.Equal(t, 0, status.Symbols[0].Cursor)
	assert.Equal(t, uint64(0), status.Symbols[0].Emitted)

	// the old binding sees the end of its stream
	for range old.C() {
	}

	sub, ok := controller.Subscribe("AAPL")
	require.True(t, ok)
	controller.publishers["AAPL"].emit()
	assert.Equal(t, 0, (<-sub.C()).Index)
}

func TestController_StopClosesSubscriptions(t *testing.T) {
	ctx := context.Background()
	controller := manualController(&stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 2)}})

	_, err := controller.Start(ctx)
	require.NoError(t, err)

	sub, ok := controller.Subscribe("AAPL")
	require.True(t, ok)

	_, err = controller.Stop(ctx)
	require.NoError(t, err)

	_, open := <-sub.C()
	assert.False(t, open)

	_, ok = controller.Subscribe("AAPL")
	assert.False(t, ok)
}

func TestController_SubscribeUnknownSymbol(t *testing.T) {
	controller := manualController(&stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 2)}})
	defer controller.Stop(context.Background())

	_, ok := controller.Subscribe("AAPL")
	assert.False(t, ok, "nothing is active before start")

	_, err := controller.Start(context.Background())
	require.NoError(t, err)

	_, ok = controller.Subscribe("GOOG")
	assert.False(t, ok)
}

func TestController_TicksCycleThroughFeed(t *testing.T) {
	ctx := context.Background()
	controller := NewController(
		&stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 3)}},
		ControllerConfig{EmitInterval: 2 * time.Millisecond},
	)
	defer controller.Stop(ctx)

	_, err := controller.Start(ctx)
	require.NoError(t, err)

	sub, ok := controller.Subscribe("AAPL")
	require.True(t, ok)

	var last uint64
	for i := 0; i < 7; i++ {
		select {
		case tick := <-sub.C():
			assert.Equal(t, "AAPL", tick.Symbol)
			assert.Equal(t, int((tick.Sequence-1)%3), tick.Index)
			if last != 0 {
				assert.Equal(t, last+1, tick.Sequence)
			}
			last = tick.Sequence
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}
}

func TestController_EmptyFeedNeverEmits(t *testing.T) {
	ctx := context.Background()
	controller := NewController(
		&stubLoader{feeds: []entity.SymbolFeed{{Symbol: "EMPTY"}}},
		ControllerConfig{EmitInterval: time.Millisecond},
	)

	_, err := controller.Start(ctx)
	require.NoError(t, err)

	sub, ok := controller.Subscribe("EMPTY")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sub.C())

	_, err = controller.Stop(ctx)
	require.NoError(t, err)
}

func TestController_ConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	controller := NewController(
		&stubLoader{feeds: []entity.SymbolFeed{makeFeed("AAPL", 4), makeFeed("MSFT", 4)}},
		ControllerConfig{EmitInterval: time.Millisecond},
	)
	defer controller.Stop(ctx)

	ops := []entity.BroadcastOperation{
		entity.BroadcastStart, entity.BroadcastPause, entity.BroadcastResume,
		entity.BroadcastStop, entity.BroadcastRestart,
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				op := ops[(worker+j)%len(ops)]
				_, err := controller.Execute(ctx, op)
				if err != nil {
					assert.ErrorIs(t, err, ErrInvalidTransition)
				}
				status := controller.Status()
				if status.State == entity.BroadcastStopped {
					assert.Zero(t, status.SymbolCount)
				} else {
					assert.Equal(t, 2, status.SymbolCount)
				}
			}
		}(i)
	}
	wg.Wait()
}
