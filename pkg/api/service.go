package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/medallion/pkg/api/handlers"
	"github.com/ethpandaops/medallion/pkg/watermark"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app      *fiber.App
	server   *http.Server
	config   *Config
	stores   []watermark.Reader
	datasets []string
	log      logrus.FieldLogger
}

// NewService creates the API service over the given watermark stores.
// datasets lists the pipeline's datasets in run order.
func NewService(cfg *Config, stores []watermark.Reader, datasets []string, log logrus.FieldLogger) Service {
	return &service{
		config:   cfg,
		stores:   stores,
		datasets: datasets,
		log:      log.WithField("service", "api"),
	}
}

// newApp builds the Fiber app with every route registered
func (s *service) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		AppName:      "Medallion API",
	})

	setupMiddleware(app, s.log)

	server := handlers.NewServer(s.stores, s.datasets, s.log)

	app.Get("/health", server.Health)

	apiV1 := app.Group("/api/v1")
	apiV1.Get("/datasets", server.ListDatasets)
	apiV1.Get("/watermarks", server.ListWatermarks)
	apiV1.Get("/watermarks/:stage", server.ListStageWatermarks)
	apiV1.Get("/watermarks/:stage/:dataset", server.GetWatermark)

	return app
}

// Start initializes and starts the API server
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")
		return nil
	}

	s.app = s.newApp()

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(s.app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
