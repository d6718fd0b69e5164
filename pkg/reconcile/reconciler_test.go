package reconcile

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/medallion/internal/testutil"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntity(policy Policy) Entity {
	return Entity{
		Name:    "people",
		Target:  warehouse.Prod("people"),
		Staging: warehouse.Staging("people"),
		Key:     []string{"id"},
		Columns: []string{"id", "name", "city"},
		Policy:  policy,
	}
}

func person(id int64, name string, city pgtype.Text) []any {
	return []any{id, txt(name), city}
}

func newTestReconciler(t *testing.T, at *time.Time) (*Reconciler, *testutil.Warehouse) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	w := testutil.NewWarehouse()
	r := NewReconciler(log, w, warehouse.NewRenderer())
	r.now = func() time.Time { return *at }

	return r, w
}

// asText renders a value the way a ::text cast would
func asText(v any) any {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil || dv == nil {
			return nil
		}

		v = dv
	}

	if v == nil {
		return nil
	}

	return fmt.Sprint(v)
}

// simulateHistory makes the fake warehouse answer the candidate query and
// apply version closes against the versioned target table. Target rows are
// id, name, city, valid_from, valid_to, is_current.
func simulateHistory(w *testutil.Warehouse, entity Entity) {
	w.QueryFunc = func(view *testutil.TableView, sql string, _ []any) ([][]any, error) {
		if !strings.HasPrefix(sql, "SELECT") {
			return nil, nil
		}

		var out [][]any

		for _, s := range view.Rows(entity.Staging) {
			row := []any{asText(s[0]), asText(s[1]), asText(s[2])}

			var current []any

			for _, c := range view.Rows(entity.Target) {
				if c[0] == s[0] && c[5] == true {
					current = c
				}
			}

			if current == nil {
				row = append(row, false, nil, nil)
			} else {
				row = append(row, true, asText(current[1]), asText(current[2]))
			}

			out = append(out, row)
		}

		return out, nil
	}

	w.ExecFunc = func(view *testutil.TableView, sql string, args []any) (int64, error) {
		if !strings.HasPrefix(sql, "UPDATE") {
			return 0, nil
		}

		var n int64

		rows := view.Rows(entity.Target)
		for i, c := range rows {
			if c[0] == args[1] && c[5] == true {
				updated := append([]any(nil), c...)
				updated[4] = args[0]
				updated[5] = false
				rows[i] = updated
				n++
			}
		}

		view.SetRows(entity.Target, rows)

		return n, nil
	}
}

// assertHistory checks that every key has exactly one current version and
// that each key's versions chain without gaps or overlaps
func assertHistory(t *testing.T, rows [][]any) {
	t.Helper()

	byKey := make(map[any][][]any)
	for _, row := range rows {
		byKey[row[0]] = append(byKey[row[0]], row)
	}

	for key, versions := range byKey {
		current := 0

		for _, v := range versions {
			if v[5] == true {
				current++

				assert.Nil(t, v[4], "current version of %v has valid_to", key)
			}
		}

		assert.Equal(t, 1, current, "key %v", key)

		for i := 1; i < len(versions); i++ {
			prev, next := versions[i-1], versions[i]

			assert.Equal(t, false, prev[5], "key %v", key)
			assert.Equal(t, next[3], prev[4], "key %v: version %d does not start where %d ends", key, i, i-1)
		}
	}
}

func TestReconcileVersionedHistory(t *testing.T) {
	t1 := time.Date(1997, 9, 28, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(7 * 24 * time.Hour)
	t3 := t2.Add(7 * 24 * time.Hour)
	at := t1

	entity := testEntity(Versioned)
	r, w := newTestReconciler(t, &at)
	simulateHistory(w, entity)

	ctx := t.Context()

	out, err := r.Reconcile(ctx, entity, [][]any{
		person(1, "ann", txt("Berlin")),
		person(2, "bob", pgtype.Text{}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Inserted)
	assert.Equal(t, 0, out.Changed)
	require.Len(t, w.Rows(entity.Target), 2)
	assert.Empty(t, w.Rows(entity.Staging))

	at = t2

	out, err = r.Reconcile(ctx, entity, [][]any{
		person(1, "ann", txt("")),
		person(2, "bob", pgtype.Text{}),
		person(3, "cy", txt("Oslo")),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.Changed)
	assert.Equal(t, 1, out.Unchanged)

	rows := w.Rows(entity.Target)
	require.Len(t, rows, 4)
	assert.Equal(t, []any{int64(1), txt("ann"), txt("Berlin"), t1, t2, false}, rows[0])
	assert.Equal(t, []any{int64(2), txt("bob"), pgtype.Text{}, t1, nil, true}, rows[1])
	assert.Contains(t, rows, []any{int64(1), txt("ann"), txt(""), t2, nil, true})
	assert.Contains(t, rows, []any{int64(3), txt("cy"), txt("Oslo"), t2, nil, true})
	assertHistory(t, rows)

	closes := w.StatementsWithPrefix("UPDATE")
	require.Len(t, closes, 1)
	assert.Equal(t, []any{t2, int64(1)}, closes[0].Args)

	at = t3

	out, err = r.Reconcile(ctx, entity, [][]any{
		person(1, "ann", txt("")),
		person(2, "bob", pgtype.Text{}),
		person(3, "cy", txt("Oslo")),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Inserted)
	assert.Equal(t, 0, out.Changed)
	assert.Equal(t, 3, out.Unchanged)
	assert.Len(t, w.Rows(entity.Target), 4)
	assertHistory(t, w.Rows(entity.Target))
	assert.Empty(t, w.Rows(entity.Staging))
}

func TestReconcileVersionedFailureRollsBack(t *testing.T) {
	at := time.Date(1997, 10, 5, 0, 0, 0, 0, time.UTC)
	entity := testEntity(Versioned)

	r, w := newTestReconciler(t, &at)
	simulateHistory(w, entity)

	w.SetRows(entity.Target, [][]any{
		{int64(1), txt("ann"), txt("Berlin"), at.Add(-time.Hour), nil, true},
	})

	w.FailOn = func(sql string) error {
		if strings.HasPrefix(sql, "COPY prod.people") {
			return errors.New("connection reset")
		}

		return nil
	}

	_, err := r.Reconcile(t.Context(), entity, [][]any{person(1, "ann", txt("Paris"))})
	require.ErrorIs(t, err, warehouse.ErrUnavailable)

	assert.Equal(t, 1, w.Rollbacks())
	assert.Equal(t, 0, w.Commits())
	assert.Equal(t, [][]any{{int64(1), txt("ann"), txt("Berlin"), at.Add(-time.Hour), nil, true}}, w.Rows(entity.Target))
	assert.Empty(t, w.Rows(entity.Staging))
}

func TestReconcileOverwrite(t *testing.T) {
	at := time.Date(1997, 10, 5, 0, 0, 0, 0, time.UTC)
	entity := testEntity(Overwrite)

	r, w := newTestReconciler(t, &at)
	w.ExecFunc = func(_ *testutil.TableView, sql string, _ []any) (int64, error) {
		if strings.HasPrefix(sql, "INSERT") {
			return 2, nil
		}

		return 0, nil
	}

	out, err := r.Reconcile(t.Context(), entity, [][]any{
		person(1, "ann", txt("Berlin")),
		person(2, "bob", pgtype.Text{}),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Upserted)
	assert.Equal(t, 2, out.Staged)

	statements := w.Statements()
	require.Len(t, statements, 3)
	assert.Equal(t, `TRUNCATE TABLE "stg"."people"`, statements[0].SQL)
	assert.Equal(t, `INSERT INTO "prod"."people" ("id", "name", "city")
SELECT "id", "name", "city" FROM "stg"."people"
ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "city" = EXCLUDED."city"`, statements[1].SQL)
	assert.Equal(t, `TRUNCATE TABLE "stg"."people"`, statements[2].SQL)

	copies := w.Copies()
	require.Len(t, copies, 1)
	assert.Equal(t, entity.Staging, copies[0].Table)
	assert.Equal(t, []string{"id", "name", "city"}, copies[0].Columns)
	assert.Len(t, copies[0].Rows, 2)
	assert.Empty(t, w.Rows(entity.Staging))
}

func TestReconcileCollapsesDuplicateKeys(t *testing.T) {
	at := time.Date(1997, 10, 5, 0, 0, 0, 0, time.UTC)
	entity := testEntity(Overwrite)

	r, w := newTestReconciler(t, &at)

	out, err := r.Reconcile(t.Context(), entity, [][]any{
		person(1, "ann", txt("Berlin")),
		person(2, "bob", txt("Rome")),
		person(1, "ann", txt("Paris")),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Staged)
	assert.Equal(t, 1, out.Collapsed)

	copies := w.Copies()
	require.Len(t, copies, 1)
	assert.Equal(t, [][]any{person(1, "ann", txt("Paris")), person(2, "bob", txt("Rome"))}, copies[0].Rows)
}

func TestReconcileEmptyBatch(t *testing.T) {
	at := time.Date(1997, 10, 5, 0, 0, 0, 0, time.UTC)

	r, w := newTestReconciler(t, &at)

	out, err := r.Reconcile(t.Context(), testEntity(Versioned), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Staged)
	assert.Equal(t, 0, w.Commits())
	assert.Empty(t, w.Statements())
}

func TestReconcileRejectsMalformedRows(t *testing.T) {
	at := time.Date(1997, 10, 5, 0, 0, 0, 0, time.UTC)

	r, _ := newTestReconciler(t, &at)

	_, err := r.Reconcile(t.Context(), testEntity(Overwrite), [][]any{{int64(1), txt("ann")}})
	require.ErrorIs(t, err, ErrRowShape)
}

func TestEntityValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *Entity)
		wantErr error
	}{
		{
			name:   "valid",
			mutate: func(_ *Entity) {},
		},
		{
			name:    "missing name",
			mutate:  func(e *Entity) { e.Name = "" },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "key not staged",
			mutate:  func(e *Entity) { e.Key = []string{"uuid"} },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "tracked not staged",
			mutate:  func(e *Entity) { e.Tracked = []string{"country"} },
			wantErr: ErrInvalidEntity,
		},
		{
			name:    "unknown policy",
			mutate:  func(e *Entity) { e.Policy = Policy(9) },
			wantErr: ErrUnknownPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := testEntity(Versioned)
			tt.mutate(&e)

			err := e.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, []string{"name", "city"}, e.Tracked)
			assert.Equal(t, DefaultValidFrom, e.ValidFrom)
			assert.Equal(t, DefaultValidTo, e.ValidTo)
			assert.Equal(t, DefaultCurrentFlag, e.CurrentFlag)
		})
	}
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "overwrite", Overwrite.String())
	assert.Equal(t, "versioned", Versioned.String())
	assert.Equal(t, "policy(7)", Policy(7).String())
}
