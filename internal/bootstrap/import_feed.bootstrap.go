package bootstrap

import (
	"context"

	"github.com/krobus00/market-stream/internal/config"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/infrastructure"
	"github.com/krobus00/market-stream/internal/repository"
	"github.com/krobus00/market-stream/internal/service/feed"
	"github.com/krobus00/market-stream/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// StartImportFeed copies CSV feeds into market_klines so the postgres feed
// source can serve them.
func StartImportFeed(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	dir, _ := cmd.Flags().GetString("dir")
	exchange, _ := cmd.Flags().GetString("exchange")
	interval, _ := cmd.Flags().GetString("interval")
	if dir == "" {
		dir = config.Env.Feed.DataDir
	}
	if exchange == "" {
		exchange = config.Env.Feed.Exchange
	}
	if interval == "" {
		interval = config.Env.Feed.Interval
	}

	db, err := infrastructure.NewPostgresConnection(ctx, config.Env.Database[marketDataDatabase])
	util.ContinueOrFatal(err)
	defer db.Close()

	feeds, err := feed.NewCSVDirectoryLoader(dir).LoadFeeds(ctx)
	util.ContinueOrFatal(err)

	repo := repository.NewMarketKlineRepository(db)
	for _, symbolFeed := range feeds {
		imported := 0
		for _, record := range symbolFeed.Records {
			kline, err := entity.NewMarketKlineFromRecord(exchange, symbolFeed.Symbol, interval, record)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"symbol": symbolFeed.Symbol,
					"date":   record.Date,
				}).WithError(err).Warn("skipping record")
				continue
			}

			util.ContinueOrFatal(repo.Create(ctx, &kline))
			imported++
		}

		logrus.WithFields(logrus.Fields{
			"symbol":   symbolFeed.Symbol,
			"exchange": exchange,
			"interval": interval,
			"records":  imported,
		}).Info("imported feed")
	}
}
