package repository

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/sirupsen/logrus"
)

var klineColumns = []string{
	"exchange",
	"symbol",
	"interval",
	"open_time",
	"close_time",
	"open_price",
	"high_price",
	"low_price",
	"close_price",
	"base_volume",
	"quote_volume",
	"trade_count",
}

type MarketKlineRepository struct {
	db *sqlx.DB
}

func NewMarketKlineRepository(db *sqlx.DB) *MarketKlineRepository {
	return &MarketKlineRepository{db: db}
}

func (r *MarketKlineRepository) Create(ctx context.Context, data *entity.MarketKline) error {
	query, args, err := buildUpsertKlineQuery(data)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *MarketKlineRepository) Symbols(ctx context.Context, exchange, interval string) ([]string, error) {
	query, args, err := buildSymbolsQuery(exchange, interval)
	if err != nil {
		return nil, err
	}

	var symbols []string
	err = r.db.SelectContext(ctx, &symbols, query, args...)
	return symbols, err
}

func (r *MarketKlineRepository) FindBySymbol(ctx context.Context, exchange, symbol, interval string, limit uint64) ([]entity.MarketKline, error) {
	query, args, err := buildFindKlinesQuery(exchange, symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	var klines []entity.MarketKline
	err = r.db.SelectContext(ctx, &klines, query, args...)
	return klines, err
}

// MarketKlineFeedLoader serves stored klines of one exchange and interval as
// broadcast feeds, one feed per symbol ordered by open time.
type MarketKlineFeedLoader struct {
	repo       *MarketKlineRepository
	exchange   string
	interval   string
	maxRecords uint64
}

func NewMarketKlineFeedLoader(repo *MarketKlineRepository, exchange, interval string, maxRecords uint64) *MarketKlineFeedLoader {
	return &MarketKlineFeedLoader{
		repo:       repo,
		exchange:   exchange,
		interval:   interval,
		maxRecords: maxRecords,
	}
}

func (l *MarketKlineFeedLoader) LoadFeeds(ctx context.Context) ([]entity.SymbolFeed, error) {
	symbols, err := l.repo.Symbols(ctx, l.exchange, l.interval)
	if err != nil {
		return nil, fmt.Errorf("failed to list kline symbols: %w", err)
	}

	feeds := make([]entity.SymbolFeed, 0, len(symbols))
	for _, symbol := range symbols {
		klines, err := l.repo.FindBySymbol(ctx, l.exchange, symbol, l.interval, l.maxRecords)
		if err != nil {
			return nil, fmt.Errorf("failed to load klines for %s: %w", symbol, err)
		}

		records := make([]entity.MarketRecord, 0, len(klines))
		for _, kline := range klines {
			records = append(records, kline.ToMarketRecord())
		}
		feeds = append(feeds, entity.SymbolFeed{Symbol: symbol, Records: records})
	}

	logrus.WithFields(logrus.Fields{
		"exchange": l.exchange,
		"interval": l.interval,
		"symbols":  len(feeds),
	}).Info("loaded feeds from market_klines")

	return feeds, nil
}

func buildUpsertKlineQuery(data *entity.MarketKline) (string, []any, error) {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(data.TableName()).
		Columns(klineColumns...).
		Values(
			data.Exchange,
			data.Symbol,
			data.Interval,
			data.OpenTime,
			data.CloseTime,
			data.OpenPrice,
			data.HighPrice,
			data.LowPrice,
			data.ClosePrice,
			data.BaseVolume,
			data.QuoteVolume,
			data.TradeCount,
		).
		Suffix(`ON CONFLICT (exchange, symbol, interval, open_time)
DO UPDATE SET
	close_time = EXCLUDED.close_time,
	open_price = EXCLUDED.open_price,
	high_price = EXCLUDED.high_price,
	low_price = EXCLUDED.low_price,
	close_price = EXCLUDED.close_price,
	base_volume = EXCLUDED.base_volume,
	quote_volume = EXCLUDED.quote_volume,
	trade_count = EXCLUDED.trade_count`).
		ToSql()
}

func buildSymbolsQuery(exchange, interval string) (string, []any, error) {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("DISTINCT symbol").
		From(entity.MarketKline{}.TableName()).
		Where(sq.Eq{"exchange": exchange, "interval": interval}).
		OrderBy("symbol ASC").
		ToSql()
}

func buildFindKlinesQuery(exchange, symbol, interval string, limit uint64) (string, []any, error) {
	builder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select(klineColumns...).
		From(entity.MarketKline{}.TableName()).
		Where(sq.Eq{"exchange": exchange, "symbol": symbol, "interval": interval}).
		OrderBy("open_time ASC")
	if limit > 0 {
		builder = builder.Limit(limit)
	}

	return builder.ToSql()
}
