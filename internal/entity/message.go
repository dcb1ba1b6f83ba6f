package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

const (
	MessageTypeTick         = "tick"
	MessageTypeOrderEvent   = "order_event"
	MessageTypeLagWarning   = "lag_warning"
	MessageTypePong         = "pong"
	MessageTypeAdminWelcome = "admin_connected"

	ActionSubscribe        = "subscribe"
	ActionUnsubscribe      = "unsubscribe"
	ActionUnsubscribeAll   = "unsubscribe_all"
	ActionSubscribeAdmin   = "subscribe_admin"
	ActionUnsubscribeAdmin = "unsubscribe_admin"
	ActionPing             = "ping"

	StatusSuccess = "success"
	StatusError   = "error"
	StatusClosed  = "closed"
)

// SubscriptionRequest is an inbound client action.
type SubscriptionRequest struct {
	Action string `json:"action"`
	Symbol string `json:"symbol,omitempty"`
}

type SubscriptionResponse struct {
	Status  string  `json:"status"`
	Symbol  *string `json:"symbol,omitempty"`
	Message string  `json:"message"`
}

type TickMessage struct {
	Type      string       `json:"type"`
	Symbol    string       `json:"symbol"`
	Index     int          `json:"index"`
	Sequence  uint64       `json:"sequence"`
	Record    MarketRecord `json:"record"`
	Timestamp string       `json:"timestamp"`
}

func NewTickMessage(tick MarketTick) TickMessage {
	return TickMessage{
		Type:      MessageTypeTick,
		Symbol:    tick.Symbol,
		Index:     tick.Index,
		Sequence:  tick.Sequence,
		Record:    tick.Record,
		Timestamp: tick.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

type AdminOrder struct {
	ID                uuid.UUID        `json:"id"`
	UserID            string           `json:"user_id"`
	Symbol            string           `json:"symbol"`
	Side              OrderSide        `json:"side"`
	OrderType         OrderType        `json:"order_type"`
	Quantity          decimal.Decimal  `json:"quantity"`
	Price             *decimal.Decimal `json:"price"`
	StopPrice         *decimal.Decimal `json:"stop_price"`
	Status            OrderStatus      `json:"status"`
	FilledQuantity    decimal.Decimal  `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal  `json:"remaining_quantity"`
	AveragePrice      *decimal.Decimal `json:"average_price"`
	ClientOrderID     null.String      `json:"client_order_id"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type AdminOrderMessage struct {
	Type      string         `json:"type"`
	EventType OrderEventKind `json:"event_type"`
	Order     AdminOrder     `json:"order"`
	UserID    string         `json:"user_id"`
	Timestamp string         `json:"timestamp"`
}

func NewAdminOrderMessage(event OrderEvent) AdminOrderMessage {
	order := event.Order
	return AdminOrderMessage{
		Type:      MessageTypeOrderEvent,
		EventType: event.Kind,
		Order: AdminOrder{
			ID:                order.ID,
			UserID:            event.UserID,
			Symbol:            order.Symbol,
			Side:              order.Side,
			OrderType:         order.OrderType,
			Quantity:          order.Quantity,
			Price:             order.Price,
			StopPrice:         order.StopPrice,
			Status:            order.Status,
			FilledQuantity:    order.FilledQuantity,
			RemainingQuantity: order.RemainingQuantity(),
			AveragePrice:      order.AveragePrice,
			ClientOrderID:     order.ClientOrderID,
			CreatedAt:         order.CreatedAt,
			UpdatedAt:         order.UpdatedAt,
		},
		UserID:    event.UserID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

type NoticeMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewLagWarningMessage(skipped uint64, now time.Time) NoticeMessage {
	return NoticeMessage{
		Type:      MessageTypeLagWarning,
		Message:   fmt.Sprintf("Client lagged, %d events skipped", skipped),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func NewAdminWelcomeMessage(now time.Time) NoticeMessage {
	return NoticeMessage{
		Type:      MessageTypeAdminWelcome,
		Message:   "Connected to admin order feed",
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func NewPongMessage(now time.Time) NoticeMessage {
	return NoticeMessage{
		Type:      MessageTypePong,
		Message:   "pong",
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
