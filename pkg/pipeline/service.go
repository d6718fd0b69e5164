package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethpandaops/medallion/pkg/facts"
	"github.com/ethpandaops/medallion/pkg/ingest"
	"github.com/ethpandaops/medallion/pkg/lock"
	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/ethpandaops/medallion/pkg/reconcile"
	"github.com/ethpandaops/medallion/pkg/storage"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/ethpandaops/medallion/pkg/watermark"
	"github.com/ethpandaops/medallion/pkg/window"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Stage names
const (
	StageBronze = "bronze"
	StageSilver = "silver"
	StageGold   = "gold"
)

// Stages lists every stage in run order
//
//nolint:gochecknoglobals // fixed stage list
var Stages = []string{StageBronze, StageSilver, StageGold}

// Define static errors
var (
	// ErrUnknownStage is returned for a requested stage the pipeline does not know
	ErrUnknownStage = errors.New("unknown stage")
	// ErrWarehouseRequired is returned when the gold stage runs without a warehouse
	ErrWarehouseRequired = errors.New("gold stage requires a warehouse client")
	// ErrWatermarkStoreRequired is returned when a watermarked stage has no store
	ErrWatermarkStoreRequired = errors.New("watermark store required")
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusEmpty   = "empty"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Request selects what one run processes
type Request struct {
	// Stages to run, all when empty
	Stages []string
	// Datasets to run, all when empty
	Datasets []string
	// IntervalStart and IntervalEnd bound the scheduler's data interval
	IntervalStart time.Time
	IntervalEnd   time.Time
}

// Outcome is the result of one stage for one dataset
type Outcome struct {
	Stage     string
	Dataset   string
	Status    string
	Read      int
	Written   int
	Watermark string
	Duration  time.Duration
	Err       error
}

// Report summarizes a run
type Report struct {
	RunID    string
	Window   window.Window
	Outcomes []Outcome
}

// Failed returns the outcomes that ended in an error
func (r *Report) Failed() []Outcome {
	var out []Outcome

	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}

	return out
}

// Dependencies are the clients the pipeline runs against
type Dependencies struct {
	Storage   storage.ClientInterface
	Buckets   storage.Buckets
	Warehouse warehouse.ClientInterface
	Locker    lock.Locker
	Fetcher   ingest.Fetcher
	// Watermarks overrides the watermark log of each stage, for example with
	// cached stores. WatermarkStores is used when nil.
	Watermarks map[string]watermark.ReadWriter
}

// Service runs pipeline stages
type Service struct {
	log  logrus.FieldLogger
	cfg  *Config
	deps Dependencies

	ingester   *ingest.Ingester
	reconciler *reconcile.Reconciler
	loader     *facts.Loader
	watermarks map[string]watermark.ReadWriter

	now func() time.Time
}

// NewService creates a pipeline service. A nil locker disables run locking
// and a nil fetcher reads sources over http(s) or from local paths.
func NewService(log logrus.FieldLogger, cfg *Config, deps Dependencies) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	if deps.Locker == nil {
		deps.Locker = lock.Noop()
	}

	if deps.Fetcher == nil {
		deps.Fetcher = ingest.NewFetcher(cfg.FetchTimeout)
	}

	if deps.Watermarks == nil {
		deps.Watermarks = make(map[string]watermark.ReadWriter, 2)
		for stage, store := range WatermarkStores(log, deps.Storage, deps.Buckets, cfg.WatermarkKey) {
			deps.Watermarks[stage] = store
		}
	}

	for _, stage := range []string{StageSilver, StageGold} {
		if deps.Watermarks[stage] == nil {
			return nil, fmt.Errorf("%w: %s", ErrWatermarkStoreRequired, stage)
		}
	}

	s := &Service{
		log:        log.WithField("component", "pipeline"),
		cfg:        cfg,
		deps:       deps,
		ingester:   ingest.NewIngester(log, deps.Fetcher, deps.Storage, deps.Buckets.Bronze),
		watermarks: deps.Watermarks,
		now:        time.Now,
	}

	if deps.Warehouse != nil {
		renderer := warehouse.NewRenderer()
		s.reconciler = reconcile.NewReconciler(log, deps.Warehouse, renderer)
		s.loader = facts.NewLoader(log, deps.Warehouse, renderer)
	}

	return s, nil
}

// WatermarkStores returns the watermark log of each watermarked stage. The
// silver stage's log lives in the bronze bucket and the gold stage's in the
// silver bucket, next to the data each stage reads.
func WatermarkStores(log logrus.FieldLogger, client storage.ClientInterface, buckets storage.Buckets, key string) map[string]*watermark.Store {
	return map[string]*watermark.Store{
		StageSilver: watermark.NewStore(log, client, StageSilver, buckets.Bronze, key),
		StageGold:   watermark.NewStore(log, client, StageGold, buckets.Silver, key),
	}
}

// Watermarks returns the watermark store of stage
func (s *Service) Watermarks(stage string) (watermark.ReadWriter, bool) {
	store, ok := s.watermarks[stage]

	return store, ok
}

// Window resolves the window of a data interval
func (s *Service) Window(intervalStart, intervalEnd time.Time) (window.Window, error) {
	return window.Resolve(s.cfg.Start(), intervalStart, intervalEnd)
}

// Run executes the requested stages over the requested datasets. Datasets
// are independent: a failure aborts that dataset, leaves its watermark where
// it was and skips its later stages, while other datasets carry on. All
// failures are returned joined.
func (s *Service) Run(ctx context.Context, req Request) (*Report, error) {
	stages, err := orderStages(req.Stages)
	if err != nil {
		return nil, err
	}

	if slices.Contains(stages, StageGold) && s.deps.Warehouse == nil {
		return nil, ErrWarehouseRequired
	}

	datasets, err := Order(req.Datasets)
	if err != nil {
		return nil, err
	}

	w, err := s.Window(req.IntervalStart, req.IntervalEnd)
	if err != nil {
		return nil, err
	}

	report := &Report{RunID: uuid.New().String(), Window: w}

	log := s.log.WithFields(logrus.Fields{
		"run_id": report.RunID,
		"window": w.String(),
	})

	log.WithFields(logrus.Fields{
		"stages":   stages,
		"datasets": datasets,
	}).Info("Starting run")

	var (
		errs   []error
		failed = make(map[string]bool)
	)

	for _, stage := range stages {
		for _, name := range datasets {
			dlog := log.WithFields(logrus.Fields{
				"stage":   stage,
				"dataset": name,
			})

			if failed[name] {
				dlog.Warn("Skipping dataset after an earlier stage failed")

				report.Outcomes = append(report.Outcomes, Outcome{Stage: stage, Dataset: name, Status: StatusSkipped})

				continue
			}

			outcome := s.runDataset(ctx, dlog, stage, name, w)
			report.Outcomes = append(report.Outcomes, outcome)

			if outcome.Err != nil {
				failed[name] = true

				errs = append(errs, fmt.Errorf("%s/%s: %w", stage, name, outcome.Err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		log.WithError(err).WithField("failed", len(errs)).Error("Run finished with failures")

		return report, err
	}

	log.Info("Run finished")

	return report, nil
}

func (s *Service) runDataset(ctx context.Context, log logrus.FieldLogger, stage, name string, w window.Window) Outcome {
	start := time.Now()

	outcome := Outcome{Stage: stage, Dataset: name}

	lease, err := s.deps.Locker.Acquire(ctx, stage+":"+name)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err

		observability.RecordStageRun(stage, name, StatusFailed, time.Since(start).Seconds())
		log.WithError(err).Error("Could not take run lock")

		return outcome
	}

	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release run lock")
		}
	}()

	run := stageRun{service: s, log: log, window: w, outcome: &outcome}

	switch stage {
	case StageBronze:
		err = run.bronze(ctx, name)
	case StageSilver:
		err = run.silver(ctx, name)
	case StageGold:
		err = run.gold(ctx, name)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	outcome.Duration = time.Since(start)

	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err

		observability.RecordError("pipeline", stage)
		log.WithError(err).Error("Dataset failed")
	} else if outcome.Status == "" {
		outcome.Status = StatusSuccess
	}

	observability.RecordStageRun(stage, name, outcome.Status, outcome.Duration.Seconds())

	log.WithFields(logrus.Fields{
		"status":    outcome.Status,
		"read":      outcome.Read,
		"written":   outcome.Written,
		"watermark": outcome.Watermark,
		"duration":  outcome.Duration,
	}).Info("Dataset finished")

	return outcome
}

func orderStages(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return Stages, nil
	}

	for _, stage := range requested {
		if !slices.Contains(Stages, stage) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
		}
	}

	var out []string

	for _, stage := range Stages {
		if slices.Contains(requested, stage) {
			out = append(out, stage)
		}
	}

	return out, nil
}
