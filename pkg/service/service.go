// Package service assembles the ledger from configuration. The HTTP server
// and the Lambda entry points share it so each deployment wires the same
// store, engine and bridge.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/chris/p2p-escrow-ledger/pkg/bridge"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/config"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/events"
	"github.com/chris/p2p-escrow-ledger/pkg/metrics"
	"github.com/chris/p2p-escrow-ledger/pkg/storage"
	dydbstore "github.com/chris/p2p-escrow-ledger/pkg/storage/dynamodb"
	"github.com/chris/p2p-escrow-ledger/pkg/storage/memory"
	"github.com/chris/p2p-escrow-ledger/pkg/storage/sqlite"
	"github.com/chris/p2p-escrow-ledger/pkg/websockets"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is what every backend provides.
type Store interface {
	storage.Storage
	storage.WebSocketManager
}

// Service holds the wired components.
type Service struct {
	Config  *config.AppConfig
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Store   Store
	Catalog *catalog.Catalog
	Engine  *escrow.Engine

	// Bridge is what the engine sends token payouts through. Loopback is set
	// when the bridge driver is loopback.
	Bridge   bridge.Bridge
	Loopback *bridge.Loopback
	// Worker executes payouts against the custody service. Nil when no
	// custody URL is configured.
	Worker *bridge.Worker

	// Hub serves local websocket connections. Nil when updates go through
	// API Gateway instead.
	Hub *websockets.Hub

	closers []func() error
	aws     *aws.Config
}

// New builds the service. reg may be nil, in which case metrics are not
// collected.
func New(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, reg prometheus.Registerer) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{Config: cfg, Logger: logger}
	if reg != nil {
		s.Metrics = metrics.New(reg)
	}

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}

	cat, err := catalog.New(s.Store, cfg.Ledger.FeeRateValue, catalog.WithLogger(logger))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create catalog: %w", err)
	}
	s.Catalog = cat

	emitter, err := s.emitter(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	if err := s.openBridge(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.Engine = escrow.New(s.Store, cat, s.Bridge, escrow.Config{
		MinDeposit:       cfg.Ledger.MinDepositAmount,
		CancelRefundsFee: cfg.Ledger.CancelRefundsFee,
		Owner:            cfg.Admin.Owner,
		Guardians:        cfg.Admin.Guardians,
	},
		escrow.WithLogger(logger),
		escrow.WithEmitter(emitter),
		escrow.WithMetrics(s.Metrics),
	)

	if cfg.Custody.URL != "" {
		exec := bridge.NewCustodyExecutor(cfg.Custody.URL, cfg.Custody.Timeout)
		s.Worker = bridge.NewWorker(exec, s.Engine, logger)
		if s.Loopback != nil {
			s.Loopback.Attach(s.Worker)
		}
	}
	return s, nil
}

func (s *Service) openStore(ctx context.Context) error {
	switch s.Config.Store.Driver {
	case config.StoreMemory:
		s.Store = memory.New()
	case config.StoreSQLite:
		store, err := sqlite.New(s.Config.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.Store = store
		s.closers = append(s.closers, store.Close)
	case config.StoreDynamoDB:
		awsCfg, err := s.awsConfig(ctx)
		if err != nil {
			return err
		}
		s.Store = dydbstore.NewFromConfig(dynamodb.NewFromConfig(awsCfg), s.Config.DynamoDB)
	default:
		return fmt.Errorf("unknown store driver %q", s.Config.Store.Driver)
	}
	s.Logger.Info("store opened", "driver", s.Config.Store.Driver)
	return nil
}

func (s *Service) openBridge(ctx context.Context) error {
	switch s.Config.Bridge.Driver {
	case config.BridgeLoopback:
		s.Loopback = bridge.NewLoopback(s.Logger)
		s.Bridge = s.Loopback
	case config.BridgeSQS:
		awsCfg, err := s.awsConfig(ctx)
		if err != nil {
			return err
		}
		s.Bridge = bridge.NewSQSBridge(sqs.NewFromConfig(awsCfg), s.Config.Bridge.QueueURL)
	default:
		return fmt.Errorf("unknown bridge driver %q", s.Config.Bridge.Driver)
	}
	return nil
}

// emitter fans events out to websocket clients and, when brokers are
// configured, to Kafka.
func (s *Service) emitter(ctx context.Context) (events.Emitter, error) {
	var out events.Multi

	if endpoint := s.Config.WebSocket.Endpoint; endpoint != "" {
		pub, err := websockets.NewPublisher(ctx, s.Store, s.Store, endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket publisher: %w", err)
		}
		out = append(out, websockets.NewEmitter(pub))
	} else {
		s.Hub = websockets.NewHub(s.Store)
		out = append(out, websockets.NewEmitter(s.Hub))
	}

	if len(s.Config.Kafka.Brokers) > 0 {
		producer, err := events.NewKafkaProducer(s.Config.Kafka.Brokers)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to kafka: %w", err)
		}
		kafka := events.NewKafkaEmitter(producer, s.Config.Kafka.Topic, s.Logger, s.Metrics)
		s.closers = append(s.closers, kafka.Close)
		out = append(out, kafka)
	}
	return out, nil
}

func (s *Service) awsConfig(ctx context.Context) (aws.Config, error) {
	if s.aws != nil {
		return *s.aws, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load SDK config: %w", err)
	}
	s.aws = &cfg
	return cfg, nil
}

// Reconcile re-sends token payouts that have been pending longer than the
// configured threshold.
func (s *Service) Reconcile(ctx context.Context, now time.Time) (escrow.ReconcileReport, error) {
	return s.Engine.ResendPending(ctx, now.Add(-s.Config.Reconcile.Threshold))
}

// Close waits for in-flight loopback work and releases the store and
// producers.
func (s *Service) Close() error {
	if s.Loopback != nil {
		s.Loopback.Wait()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
