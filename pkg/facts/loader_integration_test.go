//go:build integration

package facts_test

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/medallion/internal/testutil"
	"github.com/ethpandaops/medallion/pkg/dataset"
	"github.com/ethpandaops/medallion/pkg/facts"
	"github.com/ethpandaops/medallion/pkg/pipeline"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func normalizedRatings(t *testing.T, lines string) []dataset.Rating {
	t.Helper()

	table, err := dataset.ReadCSV([]byte("user_id,item_id,rating,timestamp\n"+lines), dataset.RawNulls)
	require.NoError(t, err)

	result, err := dataset.Normalize(dataset.RatingSpec(), table)
	require.NoError(t, err)

	return result.Records
}

func TestIntegration_LoadAcrossMonths(t *testing.T) {
	client, _ := testutil.NewMigratedWarehouse(t)
	ctx := context.Background()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	loader := facts.NewLoader(log, client, warehouse.NewRenderer())
	spec := dataset.RatingSpec()

	records := normalizedRatings(t,
		"1,101,4,1997-09-20 10:00:00\n"+
			"2,102,3,1997-09-30T23:59:59.1234567Z\n"+
			"1,103,5,1997-10-02 09:00:00\n")

	out, err := loader.Load(ctx, pipeline.RatingsFact(), dataset.Rows(spec, records))
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Staged)
	assert.Equal(t, int64(3), out.Upserted)
	assert.Equal(t, []string{"ratings_1997_09", "ratings_1997_10"}, out.Partitions)

	perPartition := testutil.QueryRows(t, client, `
		SELECT tableoid::regclass::text, count(*) FROM prod.ratings
		GROUP BY 1 ORDER BY 1`)
	require.Len(t, perPartition, 2)
	assert.Equal(t, []any{"prod.ratings_1997_09", int64(2)}, perPartition[0])
	assert.Equal(t, []any{"prod.ratings_1997_10", int64(1)}, perPartition[1])

	// The reloaded batch carries a revised rating for the sub-second event;
	// its truncated timestamp matches the stored key
	revised := normalizedRatings(t,
		"2,102,1,1997-09-30T23:59:59.1234569Z\n"+
			"3,104,2,1997-11-15 08:00:00\n")

	out, err = loader.Load(ctx, pipeline.RatingsFact(), dataset.Rows(spec, revised))
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Upserted)

	rows := testutil.QueryRows(t, client, `
		SELECT user_id, item_id, rating, "timestamp" FROM prod.ratings
		ORDER BY "timestamp"`)
	require.Len(t, rows, 4)
	assert.Equal(t, int64(2), rows[1][0])
	assert.Equal(t, 1.0, rows[1][2])
	assert.Equal(t, time.Date(1997, 9, 30, 23, 59, 59, 123456000, time.UTC), rows[1][3])

	staged := testutil.QueryRows(t, client, `SELECT count(*) FROM stg.ratings`)
	assert.Equal(t, int64(0), staged[0][0])
}

func TestIntegration_EmptyBatchTouchesNothing(t *testing.T) {
	client, _ := testutil.NewMigratedWarehouse(t)

	loader := facts.NewLoader(logrus.New(), client, warehouse.NewRenderer())

	out, err := loader.Load(context.Background(), pipeline.RatingsFact(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Partitions)

	partitions := testutil.QueryRows(t, client, `
		SELECT count(*) FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhparent
		WHERE c.relname = 'ratings'`)
	assert.Equal(t, int64(0), partitions[0][0])
}
