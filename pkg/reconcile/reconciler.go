package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"
)

// Outcome counts what one reconciliation did
type Outcome struct {
	Entity string
	Policy Policy
	// Staged rows after duplicate keys were collapsed
	Staged    int
	Collapsed int
	// Upserted is the affected row count of an overwrite
	Upserted  int64
	Inserted  int
	Changed   int
	Unchanged int
	At        time.Time
}

// Reconciler applies staged dimension rows to the warehouse
type Reconciler struct {
	log      logrus.FieldLogger
	client   warehouse.ClientInterface
	renderer *warehouse.Renderer
	now      func() time.Time
}

// NewReconciler creates a reconciler writing through client
func NewReconciler(log logrus.FieldLogger, client warehouse.ClientInterface, renderer *warehouse.Renderer) *Reconciler {
	return &Reconciler{
		log:      log.WithField("component", "reconciler"),
		client:   client,
		renderer: renderer,
		now:      time.Now,
	}
}

// Reconcile stages rows, given in entity.Columns order, and applies them to
// the entity's table under its policy. Everything runs in one transaction:
// on error nothing is applied and staging is left as it was.
func (r *Reconciler) Reconcile(ctx context.Context, entity Entity, rows [][]any) (*Outcome, error) {
	if err := entity.Validate(); err != nil {
		return nil, err
	}

	log := r.log.WithFields(logrus.Fields{
		"entity": entity.Name,
		"policy": entity.Policy.String(),
	})

	for i, row := range rows {
		if len(row) != len(entity.Columns) {
			return nil, fmt.Errorf("%w: %s row %d has %d values, want %d", ErrRowShape, entity.Name, i, len(row), len(entity.Columns))
		}
	}

	staged, collapsed := collapse(&entity, rows)
	if collapsed > 0 {
		log.WithField("collapsed", collapsed).Warn("Duplicate keys in staged batch, keeping the last occurrence")
	}

	out := &Outcome{
		Entity:    entity.Name,
		Policy:    entity.Policy,
		Staged:    len(staged),
		Collapsed: collapsed,
		At:        r.now().UTC(),
	}

	if len(staged) == 0 {
		log.Info("Nothing staged, skipping reconciliation")

		return out, nil
	}

	err := r.client.InTx(ctx, func(tx warehouse.Tx) error {
		if err := r.stage(ctx, tx, &entity, staged); err != nil {
			return err
		}

		var err error

		switch entity.Policy {
		case Overwrite:
			err = r.overwrite(ctx, tx, &entity, out)
		case Versioned:
			err = r.versioned(ctx, tx, &entity, staged, out)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownPolicy, entity.Policy)
		}

		if err != nil {
			return err
		}

		return r.truncate(ctx, tx, entity.Staging)
	})
	if err != nil {
		observability.RecordError("reconciler", entity.Name)

		return nil, fmt.Errorf("failed to reconcile %s: %w", entity.Name, err)
	}

	r.record(out)

	log.WithFields(logrus.Fields{
		"staged":    out.Staged,
		"upserted":  out.Upserted,
		"inserted":  out.Inserted,
		"changed":   out.Changed,
		"unchanged": out.Unchanged,
	}).Info("Reconciled dimension")

	return out, nil
}

func (r *Reconciler) stage(ctx context.Context, tx warehouse.Tx, entity *Entity, rows [][]any) error {
	if err := r.truncate(ctx, tx, entity.Staging); err != nil {
		return err
	}

	if _, err := tx.CopyFrom(ctx, entity.Staging, entity.Columns, rows); err != nil {
		return fmt.Errorf("failed to stage %s: %w", entity.Name, err)
	}

	return nil
}

func (r *Reconciler) truncate(ctx context.Context, tx warehouse.Tx, table warehouse.Table) error {
	sql, err := r.renderer.Truncate(table)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", table, err)
	}

	return nil
}

func (r *Reconciler) overwrite(ctx context.Context, tx warehouse.Tx, entity *Entity, out *Outcome) error {
	sql, err := r.renderer.Upsert(warehouse.UpsertParams{
		Target:  entity.Target,
		Source:  entity.Staging,
		Columns: entity.Columns,
		Key:     entity.Key,
		Mutable: entity.attributes(),
	})
	if err != nil {
		return err
	}

	n, err := tx.Exec(ctx, sql)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", entity.Name, err)
	}

	out.Upserted = n

	return nil
}

func (r *Reconciler) versioned(ctx context.Context, tx warehouse.Tx, entity *Entity, staged [][]any, out *Outcome) error {
	sql, err := r.renderer.Candidates(warehouse.CandidateParams{
		Target:      entity.Target,
		Source:      entity.Staging,
		Key:         entity.Key,
		Tracked:     entity.Tracked,
		CurrentFlag: entity.CurrentFlag,
	})
	if err != nil {
		return err
	}

	var (
		candidates []Candidate
		keys       = len(entity.Key)
		tracked    = len(entity.Tracked)
	)

	err = tx.Query(ctx, sql, nil, func(values []any) error {
		if len(values) != keys+1+2*tracked {
			return fmt.Errorf("%w: candidate row has %d values", ErrRowShape, len(values))
		}

		c := Candidate{
			Key:     keyOf(values[:keys]),
			Staged:  make([]pgtype.Text, tracked),
			Current: make([]pgtype.Text, tracked),
		}

		for i := 0; i < tracked; i++ {
			c.Staged[i] = textOf(values[keys+i])
			c.Current[i] = textOf(values[keys+tracked+1+i])
		}

		if exists, ok := values[keys+tracked].(bool); ok {
			c.Exists = exists
		}

		candidates = append(candidates, c)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to compare %s: %w", entity.Name, err)
	}

	plan := Diff(candidates)

	out.Inserted = len(plan.Inserted)
	out.Changed = len(plan.Changed)
	out.Unchanged = len(plan.Unchanged)

	byKey := make(map[string][]any, len(staged))
	keyPos := entity.positions(entity.Key)

	for _, row := range staged {
		byKey[keyOf(pick(row, keyPos))] = row
	}

	closeSQL, err := r.renderer.CloseVersion(warehouse.CloseVersionParams{
		Target:      entity.Target,
		Key:         entity.Key,
		ValidTo:     entity.ValidTo,
		CurrentFlag: entity.CurrentFlag,
	})
	if err != nil {
		return err
	}

	for _, key := range plan.Changed {
		row, ok := byKey[key]
		if !ok {
			return fmt.Errorf("%w: %s candidate key %q not staged", ErrRowShape, entity.Name, key)
		}

		args := append([]any{out.At}, pick(row, keyPos)...)

		if _, err := tx.Exec(ctx, closeSQL, args...); err != nil {
			return fmt.Errorf("failed to close version of %s %q: %w", entity.Name, key, err)
		}
	}

	opened := make([][]any, 0, len(plan.Inserted)+len(plan.Changed))

	for _, group := range [][]string{plan.Inserted, plan.Changed} {
		for _, key := range group {
			row, ok := byKey[key]
			if !ok {
				return fmt.Errorf("%w: %s candidate key %q not staged", ErrRowShape, entity.Name, key)
			}

			version := make([]any, 0, len(row)+3)
			version = append(version, row...)
			version = append(version, out.At, nil, true)

			opened = append(opened, version)
		}
	}

	if len(opened) == 0 {
		return nil
	}

	columns := make([]string, 0, len(entity.Columns)+3)
	columns = append(columns, entity.Columns...)
	columns = append(columns, entity.ValidFrom, entity.ValidTo, entity.CurrentFlag)

	if _, err := tx.CopyFrom(ctx, entity.Target, columns, opened); err != nil {
		return fmt.Errorf("failed to open versions of %s: %w", entity.Name, err)
	}

	return nil
}

func (r *Reconciler) record(out *Outcome) {
	switch out.Policy {
	case Overwrite:
		observability.RecordDimensionChanges(out.Entity, "upserted", int(out.Upserted))
	case Versioned:
		observability.RecordDimensionChanges(out.Entity, "inserted", out.Inserted)
		observability.RecordDimensionChanges(out.Entity, "changed", out.Changed)
		observability.RecordDimensionChanges(out.Entity, "unchanged", out.Unchanged)
	}
}

// collapse keeps one row per key, the last occurrence, at the position of
// the first
func collapse(entity *Entity, rows [][]any) ([][]any, int) {
	keyPos := entity.positions(entity.Key)
	index := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))

	for _, row := range rows {
		key := keyOf(pick(row, keyPos))

		if i, ok := index[key]; ok {
			out[i] = row

			continue
		}

		index[key] = len(out)
		out = append(out, row)
	}

	return out, len(rows) - len(out)
}

func pick(row []any, positions []int) []any {
	out := make([]any, len(positions))
	for i, p := range positions {
		out[i] = row[p]
	}

	return out
}
