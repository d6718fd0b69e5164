package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRendererTruncate(t *testing.T) {
	r := NewRenderer()

	sql, err := r.Truncate(Staging("ratings"))
	require.NoError(t, err)
	assert.Equal(t, `TRUNCATE TABLE "stg"."ratings"`, sql)
}

func TestRendererUpsert(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name     string
		params   UpsertParams
		expected string
	}{
		{
			name: "overwrite mutable columns",
			params: UpsertParams{
				Target:  Prod("ratings"),
				Source:  Staging("ratings"),
				Columns: []string{"user_id", "item_id", "rating", "timestamp"},
				Key:     []string{"user_id", "item_id", "timestamp"},
				Mutable: []string{"rating"},
			},
			expected: `INSERT INTO "prod"."ratings" ("user_id", "item_id", "rating", "timestamp")
SELECT "user_id", "item_id", "rating", "timestamp" FROM "stg"."ratings"
ON CONFLICT ("user_id", "item_id", "timestamp") DO UPDATE SET "rating" = EXCLUDED."rating"`,
		},
		{
			name: "multiple mutable columns",
			params: UpsertParams{
				Target:  Prod("movies"),
				Source:  Staging("movies"),
				Columns: []string{"item_id", "movie_title", "imdb_url"},
				Key:     []string{"item_id"},
				Mutable: []string{"movie_title", "imdb_url"},
			},
			expected: `INSERT INTO "prod"."movies" ("item_id", "movie_title", "imdb_url")
SELECT "item_id", "movie_title", "imdb_url" FROM "stg"."movies"
ON CONFLICT ("item_id") DO UPDATE SET "movie_title" = EXCLUDED."movie_title", "imdb_url" = EXCLUDED."imdb_url"`,
		},
		{
			name: "no mutable columns",
			params: UpsertParams{
				Target:  Prod("movies"),
				Source:  Staging("movies"),
				Columns: []string{"item_id"},
				Key:     []string{"item_id"},
			},
			expected: `INSERT INTO "prod"."movies" ("item_id")
SELECT "item_id" FROM "stg"."movies"
ON CONFLICT ("item_id") DO NOTHING`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, err := r.Upsert(tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sql)
		})
	}
}

func TestRendererUpsertRequiresColumns(t *testing.T) {
	_, err := NewRenderer().Upsert(UpsertParams{Target: Prod("movies")})
	require.ErrorIs(t, err, ErrEmptyColumns)
}

func TestRendererEnsureMonthlyPartition(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name          string
		at            time.Time
		wantPartition Table
		wantSQL       string
	}{
		{
			name:          "mid month",
			at:            time.Date(1997, time.September, 28, 13, 5, 0, 0, time.UTC),
			wantPartition: Table{Schema: "prod", Name: "ratings_1997_09"},
			wantSQL: `CREATE TABLE IF NOT EXISTS "prod"."ratings_1997_09" PARTITION OF "prod"."ratings"
FOR VALUES FROM ('1997-09-01 00:00:00') TO ('1997-10-01 00:00:00')`,
		},
		{
			name:          "december rolls the year",
			at:            time.Date(1997, time.December, 31, 23, 59, 59, 0, time.UTC),
			wantPartition: Table{Schema: "prod", Name: "ratings_1997_12"},
			wantSQL: `CREATE TABLE IF NOT EXISTS "prod"."ratings_1997_12" PARTITION OF "prod"."ratings"
FOR VALUES FROM ('1997-12-01 00:00:00') TO ('1998-01-01 00:00:00')`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partition, sql, err := r.EnsureMonthlyPartition(Prod("ratings"), tt.at)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPartition, partition)
			assert.Equal(t, tt.wantSQL, sql)
		})
	}
}

func TestRendererCandidates(t *testing.T) {
	sql, err := NewRenderer().Candidates(CandidateParams{
		Target:      Prod("users"),
		Source:      Staging("users"),
		Key:         []string{"user_id"},
		Tracked:     []string{"age", "zip_code"},
		CurrentFlag: "is_current",
	})
	require.NoError(t, err)

	expected := `SELECT s."user_id"::text, s."age"::text, s."zip_code"::text,
c."user_id" IS NOT NULL, c."age"::text, c."zip_code"::text
FROM "stg"."users" AS s
LEFT JOIN "prod"."users" AS c ON c."is_current" AND c."user_id" = s."user_id"
ORDER BY s."user_id"`
	assert.Equal(t, expected, sql)
}

func TestRendererCloseVersion(t *testing.T) {
	sql, err := NewRenderer().CloseVersion(CloseVersionParams{
		Target:      Prod("users"),
		Key:         []string{"user_id", "region"},
		ValidTo:     "valid_to",
		CurrentFlag: "is_current",
	})
	require.NoError(t, err)

	expected := `UPDATE "prod"."users" SET "valid_to" = $1, "is_current" = FALSE
WHERE "is_current" AND "user_id" = $2 AND "region" = $3`
	assert.Equal(t, expected, sql)
}

func TestIdentQuotesReservedWords(t *testing.T) {
	assert.Equal(t, `"timestamp"`, Ident("timestamp"))
	assert.Equal(t, `"we""ird"`, Ident(`we"ird`))
	assert.Equal(t, []string{`"a"`, `"b"`}, Idents([]string{"a", "b"}))
}
