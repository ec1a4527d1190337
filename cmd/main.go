package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/kong/redundant-db/pkg/dsn"
	"github.com/kong/redundant-db/pkg/metrics"
	"github.com/kong/redundant-db/pkg/opener"
	"github.com/kong/redundant-db/pkg/redundant"
	"github.com/kong/redundant-db/pkg/statsstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type appContext struct {
	Connector *redundant.Connector[*sql.DB]
	Logger    *zap.Logger
}

var storePingRetries uint64 = 5

func main() {
	godotenv.Load()

	sc, err := loadServiceConfig(getenv("CONFIG_FILE", "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}
	logger, err := SetupLogging(sc.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	redisClient := redis.NewClient(&redis.Options{
		Addr:         sc.Memc.addr(),
		DialTimeout:  time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	defer redisClient.Close()
	stats := statsstore.NewRedis(redisClient)
	if err := waitForStore(context.Background(), stats, logger); err != nil {
		logger.Warn("stats store unreachable, routing without shared stats", zap.String("addr", sc.Memc.addr()),
			zap.Error(err))
	}

	var emitter metrics.Emitter = metrics.Noop{}
	if sc.Statsd.Addr != "" {
		sd, err := metrics.NewStatsd(sc.Statsd.Addr, sc.Statsd.Namespace, logger)
		if err != nil {
			logger.Fatal("statsd setup failed", zap.Error(err))
		}
		defer sd.Close()
		emitter = sd
	}

	builders := dsn.NewRegistry()
	builders.Register(dsn.VendorPostgres, dsn.Postgres{TLS: sc.EnableTLS, CABundlePath: sc.CABundleFSPath})

	connector, err := redundant.New[*sql.DB](redundant.Config{
		Replicas:        sc.replicas(),
		Timeout:         sc.Timeout,
		StatsTTL:        sc.StatsTTL,
		FreezeThreshold: sc.FreezeThreshold,
		Atomic:          sc.Atomic,
		Logger:          logger,
		Metrics:         emitter,
	}, stats, builders, opener.SQL{})
	if err != nil {
		logger.Fatal("connector setup failed", zap.Error(err))
	}
	logger.Info("redundant db router configured",
		zap.String("replica_1", sc.Replicas[1].Host), zap.String("replica_2", sc.Replicas[2].Host),
		zap.String("stats_store", sc.Memc.addr()), zap.Bool("atomic", sc.Atomic))

	ac := &appContext{
		Connector: connector,
		Logger:    logger,
	}
	ac.Logger.Info("Application is running on", zap.String("addr", sc.ListenAddr))
	if err := http.ListenAndServe(sc.ListenAddr, ac.routes()); err != nil {
		logger.Fatal("http server stopped", zap.Error(err))
	}
}

func waitForStore(ctx context.Context, store *statsstore.Redis, logger *zap.Logger) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, storePingRetries), ctx)
	return backoff.RetryNotify(func() error {
		return store.Ping(ctx)
	}, b, func(err error, next time.Duration) {
		logger.Warn("stats store ping failed", zap.Error(err), zap.Duration("retry_in", next))
	})
}
