package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/circuit_breaker"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/kafka"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/logger"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/metrics"
	md "github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/middleware"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/postgres"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/pkg/redis"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/config"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/handler"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/repository"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/server"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/internal/service"
	"github.com/CodeBuilders-COMPASS/ANMAR25-D02-COMPASSRESERVATION/reservation/migrations"
)

func Run(cfg config.Config) error {
	log := logger.NewLogger(cfg.Log, "reservation")
	defer log.Sync() //nolint:errcheck

	db, err := postgres.NewPostgresDB(context.Background(), &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		return fmt.Errorf("db init %v", err)
	}
	defer db.Close()

	repo, err := repository.NewRepository(db, log)
	if err != nil {
		return fmt.Errorf("repo reservations %v", err)
	}

	var handlerOpts []handler.Option
	rdb := newRedis(cfg.Redis, log)
	if rdb != nil {
		defer rdb.Close() //nolint:errcheck
		handlerOpts = append(handlerOpts, handler.WithIdempotency(md.NewRedisIdempotencyStore(rdb), cfg.Idempotency))
	}

	publisher := kafka.NewNopPublisher()
	producer := newProducer(cfg.Kafka, log)
	if producer != nil {
		defer producer.Close() //nolint:errcheck
		cb := circuit_breaker.New(cfg.CircuitBreaker)
		publisher = kafka.NewPublisher(producer, cb, cfg.Kafka.Topic, log)
	}

	m := metrics.NewReservation(cfg.MetricsNamespace)
	handlerOpts = append(handlerOpts, handler.WithMetrics(m.Handler()))

	svc := service.NewService(repo, log,
		service.WithPublisher(publisher),
		service.WithMetrics(m),
	)
	h := handler.New(svc, log, handlerOpts...)

	srv := server.NewServer(cfg.Server, h.NewRouter())
	log.Info("http server start ON: ", zap.String("addr", srv.Addr()))
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("server run", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err = srv.Stop(closeCtx); err != nil {
		log.Error("srv.Stop", zap.Error(err))
	}
	log.Info("Graceful shutdown finished")
	return nil
}

// newRedis returns nil when redis is not configured or unreachable; the
// service then runs without idempotent replay.
func newRedis(cfg redis.Config, log *zap.Logger) *goredis.Client {
	if !cfg.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rdb, err := redis.NewClient(ctx, cfg)
	if err != nil {
		log.Warn("redis unavailable, idempotency disabled", zap.Error(err))
		return nil
	}
	return rdb
}

func newProducer(cfg kafka.Config, log *zap.Logger) sarama.SyncProducer {
	if !cfg.Enabled() {
		return nil
	}
	producer, err := kafka.NewProducer(cfg)
	if err != nil {
		log.Warn("kafka unavailable, events disabled", zap.Error(err))
		return nil
	}
	return producer
}
