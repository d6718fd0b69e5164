package dataset

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSVRawNulls(t *testing.T) {
	table, err := ReadCSV([]byte("\xef\xbb\xbfuser_id,zip_code\n1,\n2,  \n3,\\N\n"), RawNulls)
	require.NoError(t, err)

	assert.Equal(t, []string{"user_id", "zip_code"}, table.Columns)
	require.Len(t, table.Rows, 3)
	assert.False(t, table.Rows[0][1].Valid)
	assert.False(t, table.Rows[1][1].Valid)
	assert.Equal(t, pgtype.Text{String: `\N`, Valid: true}, table.Rows[2][1])
}

func TestReadCSVTierNulls(t *testing.T) {
	table, err := ReadCSV([]byte("user_id,zip_code\n1,\n2,\\N\n"), TierNulls)
	require.NoError(t, err)

	require.Len(t, table.Rows, 2)
	assert.Equal(t, pgtype.Text{String: "", Valid: true}, table.Rows[0][1])
	assert.False(t, table.Rows[1][1].Valid)
}

func TestReadCSVRaggedRows(t *testing.T) {
	table, err := ReadCSV([]byte("a,b,c\n1,2\n1,2,3,4\n1,2,3\n"), RawNulls)
	require.NoError(t, err)

	assert.Equal(t, 2, table.Ragged)
	require.Len(t, table.Rows, 3)
	assert.False(t, table.Rows[0][2].Valid)
	assert.Len(t, table.Rows[1], 3)
}

func TestReadCSVEmpty(t *testing.T) {
	table, err := ReadCSV(nil, RawNulls)
	require.NoError(t, err)
	assert.Empty(t, table.Columns)
	assert.Empty(t, table.Rows)
}

func TestReadCSVMalformed(t *testing.T) {
	_, err := ReadCSV([]byte("a,b\n\"unterminated,2\n"), TierNulls)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestWriteCSV(t *testing.T) {
	data, err := WriteCSV([]string{"id", "title"}, [][]string{{"1", "Toy Story (1995)"}, {"2", "Seven, the movie"}})
	require.NoError(t, err)
	assert.Equal(t, "id,title\n1,Toy Story (1995)\n2,\"Seven, the movie\"\n", string(data))
}

func TestCanonicalColumn(t *testing.T) {
	tests := map[string]string{
		"IMDb_URL":       "imdb_url",
		" Movie Title ":  "movie_title",
		"zip_code":       "zip_code",
		"Primary Genre ": "primary_genre",
	}

	for input, expected := range tests {
		assert.Equal(t, expected, CanonicalColumn(input), input)
	}
}
