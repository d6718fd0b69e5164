//go:build integration

package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/medallion/internal/testutil"
	"github.com/ethpandaops/medallion/pkg/dataset"
	"github.com/ethpandaops/medallion/pkg/pipeline"
	"github.com/ethpandaops/medallion/pkg/reconcile"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

func age(n int32) pgtype.Int4 {
	return pgtype.Int4{Int32: n, Valid: true}
}

func setupReconciler(t *testing.T) (*reconcile.Reconciler, warehouse.ClientInterface) {
	t.Helper()

	client, _ := testutil.NewMigratedWarehouse(t)

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	return reconcile.NewReconciler(log, client, warehouse.NewRenderer()), client
}

func TestIntegration_VersionedKeepsHistory(t *testing.T) {
	reconciler, client := setupReconciler(t)
	ctx := context.Background()

	spec := dataset.UserSpec()

	first, err := reconciler.Reconcile(ctx, pipeline.UsersEntity(), dataset.Rows(spec, []dataset.User{
		{UserID: 1, Age: age(24), Gender: text("M"), Occupation: text("Technician"), ZipCode: text("85711")},
		{UserID: 2, Age: age(53), Gender: text("F"), Occupation: text("Other")},
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, 0, first.Changed)

	time.Sleep(10 * time.Millisecond)

	// User 1 ages, user 2 is unchanged including its null zip code, user 3 is new
	second, err := reconciler.Reconcile(ctx, pipeline.UsersEntity(), dataset.Rows(spec, []dataset.User{
		{UserID: 1, Age: age(25), Gender: text("M"), Occupation: text("Technician"), ZipCode: text("85711")},
		{UserID: 2, Age: age(53), Gender: text("F"), Occupation: text("Other")},
		{UserID: 3, Age: age(32), Gender: text("M"), Occupation: text("Writer"), ZipCode: text("32067")},
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Inserted)
	assert.Equal(t, 1, second.Changed)
	assert.Equal(t, 1, second.Unchanged)

	history := testutil.QueryRows(t, client, `
		SELECT user_id, age, is_current, valid_to IS NULL
		FROM prod.users ORDER BY user_id, valid_from`)
	require.Len(t, history, 4)

	assert.Equal(t, []any{int64(1), int32(24), false, false}, history[0])
	assert.Equal(t, []any{int64(1), int32(25), true, true}, history[1])
	assert.Equal(t, []any{int64(2), int32(53), true, true}, history[2])
	assert.Equal(t, []any{int64(3), int32(32), true, true}, history[3])

	// The closed version ends where its successor starts
	seams := testutil.QueryRows(t, client, `
		SELECT count(*) FROM prod.users old
		JOIN prod.users cur ON cur.user_id = old.user_id AND cur.is_current
		WHERE NOT old.is_current AND old.valid_to = cur.valid_from`)
	assert.Equal(t, int64(1), seams[0][0])

	staged := testutil.QueryRows(t, client, `SELECT count(*) FROM stg.users`)
	assert.Equal(t, int64(0), staged[0][0])

	// Replaying the same snapshot opens nothing
	third, err := reconciler.Reconcile(ctx, pipeline.UsersEntity(), dataset.Rows(spec, []dataset.User{
		{UserID: 1, Age: age(25), Gender: text("M"), Occupation: text("Technician"), ZipCode: text("85711")},
		{UserID: 2, Age: age(53), Gender: text("F"), Occupation: text("Other")},
		{UserID: 3, Age: age(32), Gender: text("M"), Occupation: text("Writer"), ZipCode: text("32067")},
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, third.Unchanged)

	total := testutil.QueryRows(t, client, `SELECT count(*) FROM prod.users`)
	assert.Equal(t, int64(4), total[0][0])
}

func TestIntegration_OverwriteUpdatesInPlace(t *testing.T) {
	reconciler, client := setupReconciler(t)
	ctx := context.Background()

	spec := dataset.MovieSpec()
	released := pgtype.Timestamp{Time: time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC), Valid: true}

	_, err := reconciler.Reconcile(ctx, pipeline.MoviesEntity(), dataset.Rows(spec, []dataset.Movie{
		{ItemID: 101, Title: "Toy Story (1995)", ReleaseDate: released, PrimaryGenre: text("Animation")},
		{ItemID: 102, Title: "Contact (1997)"},
	}))
	require.NoError(t, err)

	out, err := reconciler.Reconcile(ctx, pipeline.MoviesEntity(), dataset.Rows(spec, []dataset.Movie{
		{ItemID: 101, Title: "Toy Story (1995)", ReleaseDate: released, PrimaryGenre: text("Comedy")},
		{ItemID: 103, Title: "Titanic (1997)"},
		{ItemID: 103, Title: "Titanic"},
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Upserted)
	assert.Equal(t, 1, out.Collapsed)

	movies := testutil.QueryRows(t, client, `SELECT item_id, movie_title, primary_genre FROM prod.movies ORDER BY item_id`)
	require.Len(t, movies, 3)
	assert.Equal(t, []any{int64(101), "Toy Story (1995)", "Comedy"}, movies[0])
	assert.Equal(t, []any{int64(102), "Contact (1997)", nil}, movies[1])
	assert.Equal(t, []any{int64(103), "Titanic", nil}, movies[2])
}
