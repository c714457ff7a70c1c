package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	issuanceservice "trustmint/internal/issuance/service"
	tokenstore "trustmint/internal/issuance/store"
	issuancemetrics "trustmint/internal/issuance/metrics"
	"trustmint/internal/ledger/gateway"
	"trustmint/internal/platform/config"
	"trustmint/internal/platform/postgres"
	"trustmint/internal/platform/redis"
	"trustmint/internal/verification/fetch"
	verificationmetrics "trustmint/internal/verification/metrics"
	"trustmint/internal/verification/provider"
	verificationservice "trustmint/internal/verification/service"
	"trustmint/internal/verification/store/applicant"
	"trustmint/internal/verification/store/document"
	"trustmint/internal/verification/store/user"
	"trustmint/pkg/platform/audit"
	"trustmint/pkg/platform/audit/publishers/compliance"
	kafkastore "trustmint/pkg/platform/audit/store/kafka"
	auditmemory "trustmint/pkg/platform/audit/store/memory"
	"trustmint/pkg/platform/audit/worker"
	"trustmint/pkg/platform/circuit"
	txctx "trustmint/pkg/platform/tx"
)

type app struct {
	verification *verificationservice.Service
	issuance     *issuanceservice.Service
	breakerState func() circuit.State
	checks       map[string]func(context.Context) error
	closers      []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp picks Postgres, Redis and Kafka when configured and falls back to
// in-memory stores otherwise.
func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{checks: map[string]func(context.Context) error{}}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if db != nil {
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.checks["postgres"] = db.PingContext
		if cfg.Database.MigrateOnStart {
			if err := postgres.Migrate(ctx, db); err != nil {
				a.close()
				return nil, err
			}
		}
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}
	var applicants verificationservice.ApplicantStore = applicant.NewInMemoryStore()
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		a.checks["redis"] = redisClient.Health
		applicants = applicant.NewRedis(redisClient.Client, cfg.Redis.ApplicantTTL)
	}

	auditStore, err := a.auditStore(ctx, cfg.Kafka, log)
	if err != nil {
		a.close()
		return nil, err
	}
	publisher := compliance.New(auditStore,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics()),
	)

	providerClient, err := provider.New(cfg.Provider, provider.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}
	a.breakerState = providerClient.BreakerState

	documents, users, tokens, runner := stores(db)
	a.verification, err = verificationservice.New(documents, users, providerClient, fetch.New(cfg.Storage),
		verificationservice.WithLogger(log),
		verificationservice.WithApplicantStore(applicants),
		verificationservice.WithTxRunner(runner),
		verificationservice.WithAuditPublisher(publisher),
		verificationservice.WithMetrics(verificationmetrics.New()),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	ledger := gateway.NewClient(gateway.ConfigFrom(cfg.Ledger), gateway.WithLogger(log))
	a.issuance, err = issuanceservice.New(ledger, tokens,
		issuanceservice.WithLogger(log),
		issuanceservice.WithAuditPublisher(publisher),
		issuanceservice.WithMetrics(issuancemetrics.New()),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func stores(db *sql.DB) (verificationservice.DocumentStore, verificationservice.UserStore, issuanceservice.Store, verificationservice.TxRunner) {
	if db == nil {
		return document.NewInMemoryStore(), user.NewInMemoryStore(), tokenstore.NewInMemoryStore(), txctx.NoopRunner{}
	}
	return document.NewPostgres(db), user.NewPostgres(db), tokenstore.NewPostgres(db), txctx.NewRunner(db)
}

// auditStore returns a queue drained into Kafka by a background worker, or
// an in-memory store when no brokers are configured.
func (a *app) auditStore(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger) (audit.Store, error) {
	if len(cfg.Brokers) == 0 {
		return auditmemory.NewInMemoryStore(), nil
	}
	client, err := kafkastore.NewClient(cfg.Brokers)
	if err != nil {
		return nil, err
	}
	if err := kafkastore.EnsureTopic(ctx, client, cfg.AuditTopic, cfg.Partitions, cfg.Replication); err != nil {
		client.Close()
		return nil, fmt.Errorf("audit topic: %w", err)
	}

	queue := worker.NewQueue(cfg.QueueSize)
	w := worker.NewWorker(kafkastore.New(client, cfg.AuditTopic), queue.Inbox(), worker.WithLogger(log))
	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(workerCtx)
	}()
	a.closers = append(a.closers, func() {
		cancel()
		<-done
		client.Close()
	})
	return queue, nil
}
