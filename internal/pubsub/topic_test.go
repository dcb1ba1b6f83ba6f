package pubsub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](sub *Subscription[T]) []T {
	var out []T
	for {
		select {
		case v, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestTopic_FanOutDeliversToEverySubscriber(t *testing.T) {
	topic := NewTopic[int]("NIFTY", 10)

	first, err := topic.Subscribe()
	require.NoError(t, err)
	second, err := topic.Subscribe()
	require.NoError(t, err)

	assert.Equal(t, 2, topic.Publish(1))
	assert.Equal(t, 2, topic.Publish(2))

	assert.Equal(t, []int{1, 2}, drain(first))
	assert.Equal(t, []int{1, 2}, drain(second))
	assert.Equal(t, uint64(2), topic.Published())
}

func TestTopic_SlowSubscriberDropsOldestOnlyForItself(t *testing.T) {
	topic := NewTopic[int]("NIFTY", 3)

	slow, err := topic.Subscribe()
	require.NoError(t, err)
	fast, err := topic.Subscribe()
	require.NoError(t, err)

	var fastGot []int
	for i := 1; i <= 5; i++ {
		topic.Publish(i)
		fastGot = append(fastGot, drain(fast)...)
	}

	assert.Equal(t, []int{1, 2, 3, 4, 5}, fastGot)
	assert.Equal(t, []int{3, 4, 5}, drain(slow))
	assert.Equal(t, uint64(2), slow.TakeDropped())
	assert.Equal(t, uint64(0), slow.TakeDropped())
	assert.Equal(t, uint64(0), fast.TakeDropped())
}

func TestTopic_PublishNeverBlocks(t *testing.T) {
	topic := NewTopic[int]("NIFTY", 1)
	sub, err := topic.Subscribe()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			topic.Publish(i)
		}
	}()
	<-done

	assert.Equal(t, []int{999}, drain(sub))
	assert.Equal(t, uint64(999), sub.TakeDropped())
}

func TestTopic_UnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	topic := NewTopic[string]("admin", 4)
	sub, err := topic.Subscribe()
	require.NoError(t, err)

	sub.Unsubscribe()
	topic.Unsubscribe(sub)

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, topic.SubscriberCount())
	assert.Equal(t, 0, topic.Publish("ignored"))
}

func TestTopic_CloseEndsSubscriptions(t *testing.T) {
	topic := NewTopic[int]("NIFTY", 4)
	sub, err := topic.Subscribe()
	require.NoError(t, err)

	topic.Publish(7)
	topic.Close()
	topic.Close()

	assert.Equal(t, []int{7}, drain(sub))
	_, ok := <-sub.C()
	assert.False(t, ok)

	_, err = topic.Subscribe()
	assert.ErrorIs(t, err, ErrTopicClosed)
	assert.Equal(t, 0, topic.Publish(8))
	assert.True(t, topic.Closed())

	// unsubscribing after close must not panic on the already closed channel
	topic.Unsubscribe(sub)
}

func TestTopic_ConcurrentSubscribersKeepOrder(t *testing.T) {
	topic := NewTopic[int]("NIFTY", 1000)

	var subs []*Subscription[int]
	for i := 0; i < 8; i++ {
		sub, err := topic.Subscribe()
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	var wg sync.WaitGroup
	results := make([][]int, len(subs))
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscription[int]) {
			defer wg.Done()
			for v := range sub.C() {
				results[i] = append(results[i], v)
			}
		}(i, sub)
	}

	for i := 0; i < 500; i++ {
		topic.Publish(i)
	}
	topic.Close()
	wg.Wait()

	for _, got := range results {
		require.Len(t, got, 500)
		for i := range got {
			assert.Equal(t, i, got[i])
		}
	}
}
