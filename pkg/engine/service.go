package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/ethpandaops/medallion/pkg/api"
	"github.com/ethpandaops/medallion/pkg/lock"
	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/ethpandaops/medallion/pkg/pipeline"
	medallionredis "github.com/ethpandaops/medallion/pkg/redis"
	"github.com/ethpandaops/medallion/pkg/storage"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/ethpandaops/medallion/pkg/watermark"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// StageWatermarks are the current watermarks of one stage
type StageWatermarks struct {
	Stage   string
	Records []watermark.Record
}

// Service encapsulates the engine's clients, the pipeline and its servers
type Service struct {
	config *Config
	log    logrus.FieldLogger

	storage     storage.ClientInterface
	warehouse   warehouse.ClientInterface
	redisClient *redis.Client
	pipeline    *pipeline.Service
	api         api.Service
	readers     []watermark.Reader

	// Servers
	healthServer *http.Server
	pprofServer  *http.Server
}

// NewService creates the engine. Clients are created but not connected
// until Start.
func NewService(log logrus.FieldLogger, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	storageClient, err := storage.NewClient(log, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	s := &Service{
		config:  cfg,
		log:     log.WithField("component", "engine"),
		storage: storageClient,
	}

	deps := pipeline.Dependencies{
		Storage: storageClient,
		Buckets: cfg.Storage.Buckets,
	}

	if cfg.WarehouseEnabled() {
		wh, err := warehouse.NewClient(log, &cfg.Warehouse)
		if err != nil {
			return nil, fmt.Errorf("failed to create warehouse client: %w", err)
		}

		s.warehouse = wh
		deps.Warehouse = wh
	}

	if cfg.Redis.Enabled() {
		client, err := medallionredis.NewClient(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}

		s.redisClient = client
		deps.Locker = lock.NewRedisLocker(log, client, cfg.Redis.PrefixKey("lock"), cfg.Pipeline.LockTTL)
	}

	stores := pipeline.WatermarkStores(log, storageClient, cfg.Storage.Buckets, cfg.Pipeline.WatermarkKey)
	deps.Watermarks = make(map[string]watermark.ReadWriter, len(stores))

	for _, stage := range []string{pipeline.StageSilver, pipeline.StageGold} {
		var store watermark.ReadWriter = stores[stage]

		// Runs write through the cache so serving processes see new
		// watermarks as soon as they land
		if s.redisClient != nil {
			store = watermark.NewCachedStore(log, stores[stage], s.redisClient, cfg.Redis.PrefixKey("watermark"), watermark.DefaultCacheTTL)
		}

		deps.Watermarks[stage] = store
		s.readers = append(s.readers, store)
	}

	s.pipeline, err = pipeline.NewService(log, &cfg.Pipeline, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	s.api = api.NewService(&cfg.API, s.readers, pipeline.Datasets, log)

	return s, nil
}

// Pipeline returns the pipeline service
func (s *Service) Pipeline() *pipeline.Service {
	return s.pipeline
}

// Start connects the storage, warehouse and Redis clients
func (s *Service) Start(ctx context.Context) error {
	if err := s.storage.Start(ctx); err != nil {
		return fmt.Errorf("failed to start storage client: %w", err)
	}

	if s.warehouse != nil {
		if err := s.warehouse.Start(ctx); err != nil {
			return fmt.Errorf("failed to start warehouse client: %w", err)
		}
	} else {
		s.log.Warn("No warehouse configured, the gold stage is unavailable")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	return nil
}

// Serve starts the metrics, health check, pprof and API servers that are
// configured
func (s *Service) Serve(ctx context.Context) error {
	observability.StartMetricsServer(s.log, s.config.MetricsAddr)

	if s.config.HealthCheckAddr != "" {
		s.startHealthCheck()
	}

	if s.config.PProfAddr != "" {
		s.startPProf()
	}

	if err := s.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API service: %w", err)
	}

	s.log.Info("Medallion engine serving")

	return nil
}

// Run executes one pipeline run
func (s *Service) Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
	return s.pipeline.Run(ctx, req)
}

// Watermarks lists the current watermarks of every watermarked stage
func (s *Service) Watermarks(ctx context.Context) ([]StageWatermarks, error) {
	out := make([]StageWatermarks, 0, len(s.readers))

	for _, reader := range s.readers {
		records, err := reader.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s watermarks: %w", reader.Stage(), err)
		}

		out = append(out, StageWatermarks{Stage: reader.Stage(), Records: records})
	}

	return out, nil
}

// Stop gracefully shuts down the engine
func (s *Service) Stop() error {
	s.log.Info("Shutting down engine...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopService := func(name string, stopFunc func() error) {
		if stopFunc == nil {
			return
		}
		if err := stopFunc(); err != nil {
			s.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// 1. Stop serving requests
	if s.api != nil {
		stopService("API service", s.api.Stop)
	}

	// 2. Close Redis
	if s.redisClient != nil {
		stopService("Redis client", s.redisClient.Close)
	}

	if s.storage != nil {
		stopService("storage client", s.storage.Stop)
	}

	// Stop warehouse client (critical - return error if fails)
	if s.warehouse != nil {
		if err := s.warehouse.Stop(); err != nil {
			s.log.WithError(err).Error("Failed to stop warehouse client")
			return err
		}
	}

	// Stop HTTP servers
	if s.healthServer != nil {
		stopService("health check server", func() error { return s.healthServer.Shutdown(ctx) })
	}
	if s.pprofServer != nil {
		stopService("pprof server", func() error { return s.pprofServer.Shutdown(ctx) })
	}

	stopService("metrics server", func() error { return observability.StopMetricsServer(ctx) })

	return nil
}

func (s *Service) startHealthCheck() {
	s.log.WithField("addr", s.config.HealthCheckAddr).Info("Starting health check server")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.redisClient != nil {
			if err := s.redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.healthServer = &http.Server{
		Addr:              s.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Health check server failed")
		}
	}()
}

func (s *Service) startPProf() {
	s.log.WithField("addr", s.config.PProfAddr).Info("Starting pprof server")

	s.pprofServer = &http.Server{
		Addr:              s.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	go func() {
		if err := s.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Pprof server failed")
		}
	}()
}
