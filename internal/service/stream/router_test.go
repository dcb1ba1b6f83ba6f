package stream

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/pubsub"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type topicBroadcaster struct {
	topics map[string]*pubsub.Topic[entity.MarketTick]
}

func newTopicBroadcaster(symbols ...string) *topicBroadcaster {
	b := &topicBroadcaster{topics: make(map[string]*pubsub.Topic[entity.MarketTick])}
	for _, symbol := range symbols {
		b.topics[symbol] = pubsub.NewTopic[entity.MarketTick](symbol, 100)
	}
	return b
}

func (b *topicBroadcaster) Subscribe(symbol string) (*pubsub.Subscription[entity.MarketTick], bool) {
	topic, ok := b.topics[symbol]
	if !ok {
		return nil, false
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, false
	}
	return sub, true
}

func tick(symbol string, seq uint64) entity.MarketTick {
	return entity.MarketTick{
		Symbol:   symbol,
		Index:    int(seq - 1),
		Sequence: seq,
		Record: entity.MarketRecord{
			Date:   "2024-01-02",
			Open:   decimal.RequireFromString("100.5"),
			High:   decimal.RequireFromString("101"),
			Low:    decimal.RequireFromString("99.25"),
			Close:  decimal.RequireFromString("100"),
			Volume: decimal.NewFromInt(1200),
		},
		Timestamp: time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC),
	}
}

func newTestRouter(broadcaster Broadcaster, admin AdminSource, permissions ...string) *Router {
	return NewRouter(RouterConfig{
		Session: entity.Session{
			ID:           "session-0001",
			ConnectionID: uuid.New(),
			UserID:       "user-1",
			Permissions:  permissions,
		},
		Broadcaster: broadcaster,
		Admin:       admin,
	})
}

func next(t *testing.T, r *Router) map[string]any {
	t.Helper()

	select {
	case raw := <-r.Outbound():
		msg := make(map[string]any)
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}

func handle(t *testing.T, r *Router, raw string) map[string]any {
	t.Helper()
	require.NoError(t, r.Handle(context.Background(), []byte(raw)))
	return next(t, r)
}

func TestRouter_SubscribeAckThenTicks(t *testing.T) {
	broadcaster := newTopicBroadcaster("AAPL")
	router := newTestRouter(broadcaster, nil)
	defer router.Close()

	resp := handle(t, router, `{"action":"subscribe","symbol":"AAPL"}`)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "AAPL", resp["symbol"])
	assert.Equal(t, "Successfully subscribed", resp["message"])

	symbol, ok := router.Symbol()
	assert.True(t, ok)
	assert.Equal(t, "AAPL", symbol)

	broadcaster.topics["AAPL"].Publish(tick("AAPL", 1))

	msg := next(t, router)
	assert.Equal(t, "tick", msg["type"])
	assert.Equal(t, "AAPL", msg["symbol"])
	assert.Equal(t, "2024-01-02T09:15:00Z", msg["timestamp"])
	record := msg["record"].(map[string]any)
	assert.Equal(t, "2024-01-02", record["date"])
	assert.Equal(t, "100.5", record["open"])
}

func TestRouter_ResubscribeMovesBinding(t *testing.T) {
	broadcaster := newTopicBroadcaster("AAPL", "MSFT")
	router := newTestRouter(broadcaster, nil)
	defer router.Close()

	require.NoError(t, router.Subscribe("AAPL"))
	require.NoError(t, router.Subscribe("MSFT"))

	assert.Equal(t, 0, broadcaster.topics["AAPL"].SubscriberCount())
	assert.Equal(t, 1, broadcaster.topics["MSFT"].SubscriberCount())

	broadcaster.topics["AAPL"].Publish(tick("AAPL", 1))
	broadcaster.topics["MSFT"].Publish(tick("MSFT", 1))

	msg := next(t, router)
	assert.Equal(t, "MSFT", msg["symbol"])
	assert.Empty(t, router.Outbound())
}

func TestRouter_SubscribeUnknownSymbol(t *testing.T) {
	broadcaster := newTopicBroadcaster("AAPL")
	router := newTestRouter(broadcaster, nil)
	defer router.Close()

	require.NoError(t, router.Subscribe("AAPL"))

	err := router.Subscribe("GOOG")
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	_, ok := router.Symbol()
	assert.False(t, ok)
	assert.Equal(t, 0, broadcaster.topics["AAPL"].SubscriberCount())

	resp := handle(t, router, `{"action":"subscribe","symbol":"GOOG"}`)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "GOOG", resp["symbol"])
	assert.Equal(t, "Symbol GOOG is not being broadcast", resp["message"])

	resp = handle(t, router, `{"action":"subscribe"}`)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "Symbol is required", resp["message"])
}

func TestRouter_Unsubscribe(t *testing.T) {
	broadcaster := newTopicBroadcaster("AAPL")
	router := newTestRouter(broadcaster, nil)
	defer router.Close()

	resp := handle(t, router, `{"action":"unsubscribe","symbol":"AAPL"}`)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "No active subscription", resp["message"])

	require.NoError(t, router.Subscribe("AAPL"))

	resp = handle(t, router, `{"action":"unsubscribe","symbol":"AAPL"}`)
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "AAPL", resp["symbol"])
	assert.Equal(t, "Successfully unsubscribed", resp["message"])
	assert.Equal(t, 0, broadcaster.topics["AAPL"].SubscriberCount())

	require.NoError(t, router.Subscribe("AAPL"))
	resp = handle(t, router, `{"action":"unsubscribe_all"}`)
	assert.Equal(t, "Successfully unsubscribed from 1 symbols", resp["message"])
	_, hasSymbol := resp["symbol"]
	assert.False(t, hasSymbol)
}

func TestRouter_InvalidMessages(t *testing.T) {
	router := newTestRouter(newTopicBroadcaster(), nil)
	defer router.Close()

	resp := handle(t, router, `{not json`)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "Invalid message format", resp["message"])

	resp = handle(t, router, `{"action":"dance"}`)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "Unknown action: dance", resp["message"])
}

func TestRouter_PingRecordsHeartbeat(t *testing.T) {
	var pings atomic.Int32
	router := NewRouter(RouterConfig{
		Session:     entity.Session{ID: "session-0001"},
		Broadcaster: newTopicBroadcaster(),
		OnPing:      func() { pings.Add(1) },
	})
	defer router.Close()

	msg := handle(t, router, `{"action":"ping"}`)
	assert.Equal(t, "pong", msg["type"])
	assert.Equal(t, int32(1), pings.Load())
}

func TestRouter_FeedClosed(t *testing.T) {
	broadcaster := newTopicBroadcaster("AAPL")
	router := newTestRouter(broadcaster, nil)
	defer router.Close()

	require.NoError(t, router.Subscribe("AAPL"))
	broadcaster.topics["AAPL"].Close()

	msg := next(t, router)
	assert.Equal(t, "closed", msg["status"])
	assert.Equal(t, "AAPL", msg["symbol"])

	assert.Eventually(t, func() bool {
		_, ok := router.Symbol()
		return !ok
	}, time.Second, 5*time.Millisecond)

	_, ok := router.Unsubscribe()
	assert.False(t, ok)
}

func TestRouter_PreservesOrder(t *testing.T) {
	broadcaster := newTopicBroadcaster("AAPL")
	router := newTestRouter(broadcaster, nil)
	defer router.Close()

	require.NoError(t, router.Subscribe("AAPL"))

	const total = 50
	go func() {
		for i := uint64(1); i <= total; i++ {
			broadcaster.topics["AAPL"].Publish(tick("AAPL", i))
		}
	}()

	for i := 1; i <= total; i++ {
		msg := next(t, router)
		require.Equal(t, float64(i), msg["sequence"])
	}
}

func TestRouter_AdminPermission(t *testing.T) {
	admin := pubsub.NewTopic[entity.OrderEvent]("admin", 10)

	router := newTestRouter(newTopicBroadcaster(), admin, "read")
	defer router.Close()

	assert.ErrorIs(t, router.SubscribeAdmin(), ErrPermissionDenied)

	resp := handle(t, router, `{"action":"subscribe_admin"}`)
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "Admin permission required", resp["message"])
	assert.Equal(t, 0, admin.SubscriberCount())
}

func TestRouter_AdminOrderEvents(t *testing.T) {
	admin := pubsub.NewTopic[entity.OrderEvent]("admin", 10)
	router := newTestRouter(newTopicBroadcaster(), admin, "read", "admin")
	defer router.Close()

	msg := handle(t, router, `{"action":"subscribe_admin"}`)
	assert.Equal(t, "admin_connected", msg["type"])
	assert.True(t, router.AdminBound())

	resp := handle(t, router, `{"action":"subscribe_admin"}`)
	assert.Equal(t, "Already subscribed to admin order feed", resp["message"])

	price := decimal.RequireFromString("150.25")
	admin.Publish(entity.OrderEvent{
		Kind: entity.OrderEventFilled,
		Order: entity.Order{
			ID:             uuid.New(),
			Symbol:         "AAPL",
			Side:           entity.OrderSideBuy,
			OrderType:      entity.OrderTypeLimit,
			Quantity:       decimal.NewFromInt(10),
			Price:          &price,
			Status:         entity.OrderStatusFilled,
			FilledQuantity: decimal.NewFromInt(4),
		},
		UserID:    "trader-7",
		Timestamp: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
	})

	msg = next(t, router)
	assert.Equal(t, "order_event", msg["type"])
	assert.Equal(t, "order_filled", msg["event_type"])
	assert.Equal(t, "trader-7", msg["user_id"])
	order := msg["order"].(map[string]any)
	assert.Equal(t, "AAPL", order["symbol"])
	assert.Equal(t, "6", order["remaining_quantity"])

	resp = handle(t, router, `{"action":"unsubscribe_admin"}`)
	assert.Equal(t, "success", resp["status"])
	assert.False(t, router.AdminBound())
	assert.Equal(t, 0, admin.SubscriberCount())
}

func TestRouter_AdminLagWarning(t *testing.T) {
	admin := pubsub.NewTopic[entity.OrderEvent]("admin", 2)
	router := NewRouter(RouterConfig{
		Session:        entity.Session{ID: "session-admin", Permissions: []string{"admin"}},
		Broadcaster:    newTopicBroadcaster(),
		Admin:          admin,
		OutboundBuffer: 1,
	})
	defer router.Close()

	require.NoError(t, router.SubscribeAdmin())

	for i := 0; i < 10; i++ {
		admin.Publish(entity.OrderEvent{Kind: entity.OrderEventPlaced, UserID: "trader", Timestamp: time.Now()})
	}

	var warning map[string]any
	for i := 0; i < 10 && warning == nil; i++ {
		msg := next(t, router)
		if msg["type"] == "lag_warning" {
			warning = msg
		}
	}

	require.NotNil(t, warning)
	assert.True(t, strings.HasPrefix(warning["message"].(string), "Client lagged, "))
	assert.True(t, strings.HasSuffix(warning["message"].(string), " events skipped"))
}

func TestRouter_Close(t *testing.T) {
	broadcaster := newTopicBroadcaster("AAPL")
	admin := pubsub.NewTopic[entity.OrderEvent]("admin", 10)
	router := newTestRouter(broadcaster, admin, "admin")

	require.NoError(t, router.Subscribe("AAPL"))
	require.NoError(t, router.SubscribeAdmin())

	router.Close()
	router.Close()

	assert.Equal(t, 0, broadcaster.topics["AAPL"].SubscriberCount())
	assert.Equal(t, 0, admin.SubscriberCount())
	assert.ErrorIs(t, router.Subscribe("AAPL"), ErrRouterClosed)

	select {
	case <-router.Done():
	default:
		t.Fatal("router should be done after close")
	}
}
