package entity

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketRecord is one OHLCV row of a historical feed.
type MarketRecord struct {
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type SymbolFeed struct {
	Symbol  string
	Records []MarketRecord
}

type FeedLoader interface {
	LoadFeeds(ctx context.Context) ([]SymbolFeed, error)
}

// MarketTick is what a symbol publisher emits on every tick. Index is the
// position in the feed (wraps around), Sequence counts emissions since start.
type MarketTick struct {
	Symbol    string
	Index     int
	Sequence  uint64
	Record    MarketRecord
	Timestamp time.Time
}
