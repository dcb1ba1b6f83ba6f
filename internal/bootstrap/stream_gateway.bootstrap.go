package bootstrap

import (
	"context"
	"errors"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/krobus00/market-stream/internal/config"
	"github.com/krobus00/market-stream/internal/constant"
	"github.com/krobus00/market-stream/internal/entity"
	"github.com/krobus00/market-stream/internal/handler/admin"
	"github.com/krobus00/market-stream/internal/handler/stream"
	"github.com/krobus00/market-stream/internal/infrastructure"
	"github.com/krobus00/market-stream/internal/pubsub"
	"github.com/krobus00/market-stream/internal/repository"
	"github.com/krobus00/market-stream/internal/service/auth"
	"github.com/krobus00/market-stream/internal/service/broadcast"
	"github.com/krobus00/market-stream/internal/service/feed"
	"github.com/krobus00/market-stream/internal/service/orderevent"
	"github.com/krobus00/market-stream/internal/service/session"
	"github.com/krobus00/market-stream/internal/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const marketDataDatabase = "market_data"

func StartStreamGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	verifier, err := auth.NewVerifier(config.Env.Auth.JWTSecret, config.Env.Auth.Leeway, clock)
	util.ContinueOrFatal(err)

	registry := session.NewRegistry(session.RegistryConfig{
		MaxSessions: config.Env.Session.MaxConnections,
		Timeout:     config.Env.Session.SessionTimeout,
		Clock:       clock,
	})
	registry.StartSweeper(ctx, config.Env.Session.SweepInterval)

	loader, db := newFeedLoader(ctx)

	controller := broadcast.NewController(loader, broadcast.ControllerConfig{
		EmitInterval:    config.Env.Broadcast.EmitInterval,
		ChannelCapacity: config.Env.Broadcast.ChannelCapacity,
		Clock:           clock,
	})

	adminHub := pubsub.NewTopic[entity.OrderEvent]("admin", config.Env.Broadcast.AdminChannelCapacity)

	nc, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream)
	if errors.Is(err, infrastructure.ErrJetstreamDisabled) {
		logrus.Info("nats jetstream disabled, order events are dispatched locally")
		nc, js, err = nil, nil, nil
	}
	util.ContinueOrFatal(err)

	orderEventService := orderevent.NewService(js, adminHub, clock, config.Env.NatsJetstream.TimeoutHandler[constant.OrderEventHandlerTimeoutKey])
	if js != nil {
		var publisher entity.Publisher = orderEventService
		util.ContinueOrFatal(publisher.JetstreamEventInit(ctx))

		var subscriber entity.Subscriber = orderEventService
		util.ContinueOrFatal(subscriber.JetstreamEventSubscribe(ctx))
	}

	gateway := stream.NewGateway(verifier, registry, controller, adminHub, stream.GatewayConfig{
		HeartbeatInterval: config.Env.Session.HeartbeatInterval,
		OutboundBuffer:    config.Env.Broadcast.OutboundBuffer,
		Clock:             clock,
	})
	adminHandler := admin.NewAdminHTTPHandler(verifier, controller, registry, orderEventService)

	readiness := &infrastructure.Readiness{}
	mux := http.NewServeMux()
	infrastructure.RegisterHealthRoutes(mux, readiness)
	gateway.Register(mux)
	adminHandler.Register(mux)

	httpServer := infrastructure.NewHTTPServerWithConfig(infrastructure.DefaultHTTPServerConfig(), mux)
	go func() {
		util.ContinueOrFatal(httpServer.Start())
	}()

	if config.Env.Broadcast.AutoStart {
		message, err := controller.Start(ctx)
		if err != nil {
			logrus.WithError(err).Error("failed to auto start broadcasting")
		} else {
			logrus.Info(message)
		}
	}

	readiness.SetReady(true)

	wait := gracefulShutdown(ctx, config.Env.GracefulShutdownTimeout, map[string]operation{
		"stream gateway": func(ctx context.Context) error {
			readiness.SetReady(false)
			gwErr := gateway.Shutdown(ctx)
			return errors.Join(gwErr, httpServer.Shutdown(ctx))
		},
		"broadcast": func(ctx context.Context) error {
			_, err := controller.Stop(ctx)
			adminHub.Close()
			return err
		},
		"order events": func(ctx context.Context) error {
			orderEventService.Close()
			return nil
		},
		"session sweeper": func(ctx context.Context) error {
			cancel()
			return nil
		},
		"database": func(ctx context.Context) error {
			if db == nil {
				return nil
			}
			return db.Close()
		},
		"nats connection": func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		},
	})

	<-wait
}

// newFeedLoader builds the loader for the configured feed source. The CSV
// files always act as the fallback. The returned db is nil for the csv source.
func newFeedLoader(ctx context.Context) (entity.FeedLoader, *sqlx.DB) {
	csvLoader := &feed.FallbackLoader{
		Primary:  feed.NewCSVDirectoryLoader(config.Env.Feed.DataDir),
		Fallback: feed.NewCSVFileLoader(config.Env.Feed.FallbackFile),
	}

	switch config.Env.Feed.Source {
	case constant.FeedSourcePostgres:
		dbConfig := config.Env.Database[marketDataDatabase]
		db, err := infrastructure.NewPostgresConnection(ctx, dbConfig)
		util.ContinueOrFatal(err)
		infrastructure.StartPostgresHealthCheck(ctx, db, dbConfig.PingInterval)

		repo := repository.NewMarketKlineRepository(db)
		return &feed.FallbackLoader{
			Primary:  repository.NewMarketKlineFeedLoader(repo, config.Env.Feed.Exchange, config.Env.Feed.Interval, config.Env.Feed.MaxRecords),
			Fallback: csvLoader,
		}, db
	case constant.FeedSourceCSV, "":
		return csvLoader, nil
	default:
		logrus.WithField("source", config.Env.Feed.Source).Fatal("unknown feed source")
		return nil, nil
	}
}
