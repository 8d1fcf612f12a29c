package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"rentme-inbox/internal/app/inbox"
	"rentme-inbox/internal/infra/broker/kafka"
	"rentme-inbox/internal/infra/config"
	"rentme-inbox/internal/infra/devserver"
	"rentme-inbox/internal/infra/obs"
	"rentme-inbox/internal/infra/outbox"
	"rentme-inbox/internal/infra/security"
	"rentme-inbox/internal/infra/storage/memory"
	"rentme-inbox/internal/infra/storage/s3"
)

const maxRelayBacklog = 1000

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := obs.NewLogger("dev", "info")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)
	metrics := obs.NewMetrics()

	store := devserver.NewStore()
	tokens := security.NewTokenRegistry()
	for _, u := range cfg.DevUsers {
		store.AddUser(devserver.User{ID: u.ID, Name: u.Name})
		token, err := tokens.Issue(u.ID, u.Token, security.RandomTokenGenerator{})
		if err != nil {
			logger.Error("token issue failed", "user_id", u.ID, "error", err)
			os.Exit(1)
		}
		logger.Info("dev user ready", "user_id", u.ID, "name", u.Name, "token", token)
	}

	chat := &devserver.ChatHandler{
		Store:   store,
		Hub:     devserver.NewHub(logger.With("component", "hub"), metrics),
		Metrics: metrics,
		Logger:  logger,
	}
	checks := map[string]obs.Check{}
	if cfg.S3Endpoint != "" {
		bucket, err := s3.NewClient(s3.Options{
			Endpoint:       cfg.S3Endpoint,
			PublicEndpoint: cfg.S3PublicEndpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			Bucket:         cfg.S3Bucket,
			UseSSL:         cfg.S3UseSSL,
			Logger:         logger,
		})
		if err != nil {
			logger.Error("s3 init failed", "error", err)
			os.Exit(1)
		}
		chat.Objects = bucket
		checks["objects"] = bucket.Ping
	} else {
		blobs := memory.NewObjectStore(devserver.UploadsPrefix, inbox.MaxAttachmentSize)
		chat.Objects = blobs
		chat.Blobs = blobs
		logger.Info("uploads kept in memory", "prefix", devserver.UploadsPrefix)
	}

	var relay *outbox.Worker
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, nil)
		if err != nil {
			logger.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Warn("kafka producer close failed", "error", err)
			}
		}()
		events := outbox.NewStore()
		chat.Events = events
		relay = &outbox.Worker{
			Store:    events,
			Producer: producer,
			Backoff:  []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
			Metrics:  metrics,
			Logger:   logger.With("component", "outbox"),
		}
		checks["outbox"] = func(context.Context) error {
			if n := events.Pending(); n > maxRelayBacklog {
				return fmt.Errorf("%d chat events waiting for the broker", n)
			}
			return nil
		}
		logger.Info("publishing chat events", "topic", producer.Topic(), "brokers", cfg.KafkaBrokers)
	}

	router := devserver.NewRouter(
		cfg.Env,
		obs.Middleware{Logger: logger, Metrics: metrics},
		obs.HealthHandlers{Checks: checks},
		devserver.AuthMiddleware{Tokens: tokens, Store: store, Logger: logger},
		chat,
	)
	srv := devserver.NewServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		chat.Hub.Run(gctx)
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("devserver starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("devserver failed", "error", err)
		os.Exit(1)
	}
	logger.Info("devserver stopped")
}
