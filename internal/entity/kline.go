package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type MarketKline struct {
	Exchange    string          `db:"exchange"`
	Symbol      string          `db:"symbol"`
	Interval    string          `db:"interval"`
	OpenTime    time.Time       `db:"open_time"`
	CloseTime   time.Time       `db:"close_time"`
	OpenPrice   decimal.Decimal `db:"open_price"`
	HighPrice   decimal.Decimal `db:"high_price"`
	LowPrice    decimal.Decimal `db:"low_price"`
	ClosePrice  decimal.Decimal `db:"close_price"`
	BaseVolume  decimal.Decimal `db:"base_volume"`
	QuoteVolume decimal.Decimal `db:"quote_volume"`
	TradeCount  int32           `db:"trade_count"`
}

func (m MarketKline) TableName() string {
	return "market_klines"
}

func (m MarketKline) ToMarketRecord() MarketRecord {
	return MarketRecord{
		Date:   m.OpenTime.UTC().Format(time.RFC3339),
		Open:   m.OpenPrice,
		High:   m.HighPrice,
		Low:    m.LowPrice,
		Close:  m.ClosePrice,
		Volume: m.BaseVolume,
	}
}

var recordDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration returns the length of a kline interval such as "1h" or "1d".
func IntervalDuration(interval string) (time.Duration, bool) {
	d, ok := intervalDurations[interval]
	return d, ok
}

// NewMarketKlineFromRecord turns a feed row into a storable kline. The close
// time is the last instant of the interval.
func NewMarketKlineFromRecord(exchange, symbol, interval string, record MarketRecord) (MarketKline, error) {
	duration, ok := IntervalDuration(interval)
	if !ok {
		return MarketKline{}, fmt.Errorf("unsupported kline interval %q", interval)
	}

	openTime, err := parseRecordDate(record.Date)
	if err != nil {
		return MarketKline{}, err
	}

	return MarketKline{
		Exchange:    exchange,
		Symbol:      symbol,
		Interval:    interval,
		OpenTime:    openTime,
		CloseTime:   openTime.Add(duration - time.Millisecond),
		OpenPrice:   record.Open,
		HighPrice:   record.High,
		LowPrice:    record.Low,
		ClosePrice:  record.Close,
		BaseVolume:  record.Volume,
		QuoteVolume: record.Volume.Mul(record.Close),
	}, nil
}

func parseRecordDate(raw string) (time.Time, error) {
	for _, layout := range recordDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid record date %q", raw)
}
