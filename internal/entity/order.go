package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

type OrderType string
type OrderSide string
type OrderStatus string
type OrderEventKind string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"

	OrderTypeMarket   OrderType = "market"
	OrderTypeLimit    OrderType = "limit"
	OrderTypeStopLoss OrderType = "stop_loss"

	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"

	OrderEventPlaced    OrderEventKind = "order_placed"
	OrderEventFilled    OrderEventKind = "order_filled"
	OrderEventCancelled OrderEventKind = "order_cancelled"
	OrderEventRejected  OrderEventKind = "order_rejected"
)

// Order is the snapshot of an order as pushed by the order store.
type Order struct {
	ID             uuid.UUID        `json:"id"`
	UserID         string           `json:"user_id"`
	Symbol         string           `json:"symbol"`
	Side           OrderSide        `json:"side"`
	OrderType      OrderType        `json:"order_type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	Status         OrderStatus      `json:"status"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	AveragePrice   *decimal.Decimal `json:"average_price,omitempty"`
	ClientOrderID  null.String      `json:"client_order_id"`
	FilledAt       null.Time        `json:"filled_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (o Order) RemainingQuantity() decimal.Decimal {
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		return decimal.Zero
	}
	return o.Quantity.Sub(o.FilledQuantity)
}

type OrderEvent struct {
	Kind      OrderEventKind `json:"event_type"`
	Order     Order          `json:"order"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
}

func (k OrderEventKind) Valid() bool {
	switch k {
	case OrderEventPlaced, OrderEventFilled, OrderEventCancelled, OrderEventRejected:
		return true
	default:
		return false
	}
}
