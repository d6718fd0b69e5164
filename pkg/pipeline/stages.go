package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/medallion/pkg/dataset"
	"github.com/ethpandaops/medallion/pkg/ingest"
	"github.com/ethpandaops/medallion/pkg/partition"
	"github.com/ethpandaops/medallion/pkg/reconcile"
	"github.com/ethpandaops/medallion/pkg/watermark"
	"github.com/ethpandaops/medallion/pkg/window"
	"github.com/sirupsen/logrus"
)

// stageRun carries the state of one stage for one dataset
type stageRun struct {
	service *Service
	log     logrus.FieldLogger
	window  window.Window
	outcome *Outcome
}

func (r *stageRun) bronze(ctx context.Context, name string) error {
	location := r.service.cfg.Sources[name]
	if location == "" {
		return fmt.Errorf("%w: %s", ingest.ErrSourceRequired, name)
	}

	var schema ingest.Schema

	switch name {
	case dataset.NameUsers:
		schema = ingest.SchemaOf(dataset.UserSpec())
	case dataset.NameMovies:
		schema = ingest.SchemaOf(dataset.MovieSpec())
	case dataset.NameRatings:
		schema = ingest.SchemaOf(dataset.RatingSpec())
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}

	summary, err := r.service.ingester.Ingest(ctx, schema, location)
	if err != nil {
		return err
	}

	r.outcome.Read = summary.Rows
	r.outcome.Written = summary.Rows

	return nil
}

func (r *stageRun) silver(ctx context.Context, name string) error {
	switch name {
	case dataset.NameRatings:
		return r.silverRatings(ctx)
	case dataset.NameUsers:
		return r.silverUsers(ctx)
	case dataset.NameMovies:
		return r.silverMovies(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
}

func (r *stageRun) gold(ctx context.Context, name string) error {
	switch name {
	case dataset.NameRatings:
		return r.goldRatings(ctx)
	case dataset.NameUsers:
		return r.goldUsers(ctx)
	case dataset.NameMovies:
		return r.goldMovies(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownDataset, name)
	}
}

// silverRatings moves new rating events into their monthly partitions
func (r *stageRun) silverRatings(ctx context.Context) error {
	spec := dataset.RatingSpec()

	records, err := normalizeBronze(ctx, r, spec)
	if err != nil {
		return err
	}

	after, err := r.timeWatermark(ctx, StageSilver, spec.Name)
	if err != nil {
		return err
	}

	sel := window.Select(r.window, records, spec.EventTime, after)
	if sel.Empty() {
		r.log.Info("No new ratings in window")

		r.outcome.Status = StatusEmpty

		return nil
	}

	writer := partition.NewWriter(r.log, r.service.deps.Storage, r.service.deps.Buckets.Silver, spec)

	if _, err := writer.Write(ctx, sel.Partitions); err != nil {
		return err
	}

	r.outcome.Written = len(sel.Records)

	return r.advance(ctx, StageSilver, spec.Name, watermark.Time(sel.Max), len(sel.Records))
}

// silverUsers replaces the user snapshot with the cleaned registry
func (r *stageRun) silverUsers(ctx context.Context) error {
	spec := dataset.UserSpec()

	records, err := normalizeBronze(ctx, r, spec)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		r.log.Warn("No users after cleaning, keeping the existing snapshot")

		r.outcome.Status = StatusEmpty

		return nil
	}

	writer := partition.NewWriter(r.log, r.service.deps.Storage, r.service.deps.Buckets.Silver, spec)
	if err := writer.WriteSnapshot(ctx, records); err != nil {
		return err
	}

	r.outcome.Written = len(records)

	return r.advance(ctx, StageSilver, spec.Name, watermark.Ordinal(maxUserID(records)), len(records))
}

// silverMovies replaces the movie snapshot with the catalog as of the
// window's upper bound. Movies without a release date are kept.
func (r *stageRun) silverMovies(ctx context.Context) error {
	spec := dataset.MovieSpec()

	records, err := normalizeBronze(ctx, r, spec)
	if err != nil {
		return err
	}

	released := releasedBy(records, r.window.Upper())

	if withheld := len(records) - len(released); withheld > 0 {
		r.log.WithFields(logrus.Fields{
			"withheld": withheld,
			"cutoff":   r.window.Upper().Format(time.RFC3339),
		}).Info("Withholding movies released after the window")
	}

	if len(released) == 0 {
		r.log.Warn("No movies released by the window, keeping the existing snapshot")

		r.outcome.Status = StatusEmpty

		return nil
	}

	writer := partition.NewWriter(r.log, r.service.deps.Storage, r.service.deps.Buckets.Silver, spec)
	if err := writer.WriteSnapshot(ctx, released); err != nil {
		return err
	}

	r.outcome.Written = len(released)

	latest, ok := maxReleaseDate(released)
	if !ok {
		return nil
	}

	return r.advance(ctx, StageSilver, spec.Name, watermark.Time(latest), len(released))
}

// goldRatings loads the window's unloaded rating events into the warehouse
func (r *stageRun) goldRatings(ctx context.Context) error {
	spec := dataset.RatingSpec()
	writer := partition.NewWriter(r.log, r.service.deps.Storage, r.service.deps.Buckets.Silver, spec)

	labels := r.window.ReadScope(r.service.cfg.LookbackMonths)

	records, err := writer.ReadScope(ctx, labels)
	if err != nil {
		return err
	}

	r.outcome.Read = len(records)

	after, err := r.timeWatermark(ctx, StageGold, spec.Name)
	if err != nil {
		return err
	}

	sel := window.Select(r.window, records, spec.EventTime, after)
	if sel.Empty() {
		r.log.WithField("partitions", labels).Info("No unloaded ratings in scope")

		r.outcome.Status = StatusEmpty

		return nil
	}

	res, err := r.service.loader.Load(ctx, RatingsFact(), dataset.Rows(spec, sel.Records))
	if err != nil {
		return err
	}

	r.outcome.Written = int(res.Staged)

	return r.advance(ctx, StageGold, spec.Name, watermark.Time(sel.Max), len(sel.Records))
}

// goldUsers reconciles the user snapshot into the versioned dimension
func (r *stageRun) goldUsers(ctx context.Context) error {
	spec := dataset.UserSpec()

	records, err := snapshotOf(ctx, r, spec)
	if err != nil || len(records) == 0 {
		return err
	}

	if err := r.reconcile(ctx, UsersEntity(), dataset.Rows(spec, records)); err != nil {
		return err
	}

	return r.advance(ctx, StageGold, spec.Name, watermark.Ordinal(maxUserID(records)), len(records))
}

// goldMovies applies the movie snapshot to the overwrite dimension
func (r *stageRun) goldMovies(ctx context.Context) error {
	spec := dataset.MovieSpec()

	records, err := snapshotOf(ctx, r, spec)
	if err != nil || len(records) == 0 {
		return err
	}

	records = releasedBy(records, r.window.Upper())

	if err := r.reconcile(ctx, MoviesEntity(), dataset.Rows(spec, records)); err != nil {
		return err
	}

	latest, ok := maxReleaseDate(records)
	if !ok {
		return nil
	}

	return r.advance(ctx, StageGold, spec.Name, watermark.Time(latest), len(records))
}

func (r *stageRun) reconcile(ctx context.Context, entity reconcile.Entity, rows [][]any) error {
	out, err := r.service.reconciler.Reconcile(ctx, entity, rows)
	if err != nil {
		return err
	}

	r.outcome.Written = out.Inserted + out.Changed + int(out.Upserted)

	return nil
}

func snapshotOf[T any](ctx context.Context, r *stageRun, spec dataset.Spec[T]) ([]T, error) {
	writer := partition.NewWriter(r.log, r.service.deps.Storage, r.service.deps.Buckets.Silver, spec)

	records, err := writer.ReadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	r.outcome.Read = len(records)

	if len(records) == 0 {
		r.log.Warn("No snapshot in the silver tier")

		r.outcome.Status = StatusEmpty
	}

	return records, nil
}

// normalizeBronze reads a landed source and cleans it
func normalizeBronze[T any](ctx context.Context, r *stageRun, spec dataset.Spec[T]) ([]T, error) {
	data, err := r.service.deps.Storage.Get(ctx, r.service.deps.Buckets.Bronze, ingest.ObjectKey(spec.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to read landed %s: %w", spec.Name, err)
	}

	table, err := dataset.ReadCSV(data, dataset.RawNulls)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", spec.Name, err)
	}

	result, err := dataset.Normalize(spec, table)
	if err != nil {
		return nil, err
	}

	result.Report.Log(r.log)
	result.Report.Record(StageSilver)

	r.outcome.Read = result.Report.Read

	return result.Records, nil
}

// timeWatermark returns the stage's time watermark of a dataset, nil on a
// cold start
func (r *stageRun) timeWatermark(ctx context.Context, stage, name string) (*time.Time, error) {
	rec, err := r.service.watermarks[stage].Read(ctx, name)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		r.log.Info("No watermark, processing the full window")

		return nil, nil
	}

	if rec.MaxValue.Kind() != watermark.KindTime {
		return nil, fmt.Errorf("%w: %s watermark is %s", watermark.ErrKindMismatch, name, rec.MaxValue.Kind())
	}

	t := rec.MaxValue.Time()

	r.log.WithField("watermark", rec.MaxValue.String()).Debug("Filtering by watermark")

	return &t, nil
}

func (r *stageRun) advance(ctx context.Context, stage, name string, value watermark.Value, records int) error {
	advanced, err := r.service.watermarks[stage].Advance(ctx, name, value, int64(records), r.service.now().UTC())
	if err != nil {
		return err
	}

	if advanced {
		r.outcome.Watermark = value.String()
	}

	return nil
}

func maxUserID(users []dataset.User) int64 {
	var highest int64

	for _, u := range users {
		if u.UserID > highest {
			highest = u.UserID
		}
	}

	return highest
}

func maxReleaseDate(movies []dataset.Movie) (time.Time, bool) {
	var (
		latest time.Time
		found  bool
	)

	for _, m := range movies {
		if m.ReleaseDate.Valid && (!found || m.ReleaseDate.Time.After(latest)) {
			latest = m.ReleaseDate.Time
			found = true
		}
	}

	return latest, found
}

func releasedBy(movies []dataset.Movie, cutoff time.Time) []dataset.Movie {
	out := make([]dataset.Movie, 0, len(movies))

	for _, m := range movies {
		if m.ReleaseDate.Valid && m.ReleaseDate.Time.After(cutoff) {
			continue
		}

		out = append(out, m)
	}

	return out
}
