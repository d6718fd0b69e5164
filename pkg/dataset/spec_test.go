package dataset

import (
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTable(t *testing.T, lines ...string) *Table {
	t.Helper()

	table, err := ReadCSV([]byte(strings.Join(lines, "\n")+"\n"), RawNulls)
	require.NoError(t, err)

	return table
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

func TestNormalizeUsers(t *testing.T) {
	table := mustTable(t,
		"User_ID,Age,Gender,Occupation,Zip_Code",
		"1,24, m ,  technician ,85711 ",
		"2,53,F,other,94043",
		",33,M,writer,32067",
		"2,53,F,other,94043",
		"3,,M,WRITER,",
		"abc,20,F,artist,10001",
	)

	result, err := Normalize(UserSpec(), table)
	require.NoError(t, err)

	require.Len(t, result.Records, 3)
	assert.Equal(t, User{
		UserID:     1,
		Age:        pgtype.Int4{Int32: 24, Valid: true},
		Gender:     text("M"),
		Occupation: text("Technician"),
		ZipCode:    text("85711"),
	}, result.Records[0])
	assert.Equal(t, int64(2), result.Records[1].UserID)
	assert.Equal(t, User{
		UserID:     3,
		Gender:     text("M"),
		Occupation: text("Writer"),
	}, result.Records[2])

	report := result.Report
	assert.Equal(t, 6, report.Read)
	assert.Equal(t, 3, report.Cleaned)
	assert.Equal(t, 1, report.MissingRequired)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 3, report.Dropped())
	assert.Equal(t, 1, report.NullValues["age"])
	assert.Equal(t, 1, report.NullValues["zip_code"])
	assert.Empty(t, report.Coerced)
}

func TestNormalizeEmptyKeyIsNotLoaded(t *testing.T) {
	table := mustTable(t,
		"user_id,age,gender,occupation,zip_code",
		"  ,24,M,technician,85711",
		"7,24,M,technician,85711",
	)

	result, err := Normalize(UserSpec(), table)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, int64(7), result.Records[0].UserID)
	assert.Equal(t, 1, result.Report.Cleaned)
	assert.Equal(t, 1, result.Report.MissingRequired)
}

func TestNormalizeDeduplicatesAfterCleaning(t *testing.T) {
	table := mustTable(t,
		"user_id,age,gender,occupation,zip_code",
		"1,24,m,technician,85711",
		"1,24,M, Technician ,85711",
	)

	result, err := Normalize(UserSpec(), table)
	require.NoError(t, err)

	assert.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.Report.Duplicates)
}

func TestNormalizeMissingRequiredColumn(t *testing.T) {
	table := mustTable(t,
		"item_id,release_date",
		"1,01-Jan-1995",
	)

	_, err := Normalize(MovieSpec(), table)
	require.ErrorIs(t, err, ErrSchema)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, NameMovies, schemaErr.Dataset)
	assert.Equal(t, []string{"movie_title"}, schemaErr.Missing)
}

func TestNormalizeExtraAndMissingOptionalColumns(t *testing.T) {
	table := mustTable(t,
		"item_id,movie_title,IMDb_URL,video_release_date",
		"1,Toy Story (1995),http://us.imdb.com/M/title-exact?Toy%20Story%20(1995),",
	)

	result, err := Normalize(MovieSpec(), table)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, []string{"video_release_date"}, result.Report.ExtraColumns)
	assert.Equal(t, []string{"release_date", "primary_genre"}, result.Report.MissingColumns)
	assert.Equal(t, text("http://us.imdb.com/M/title-exact?Toy%20Story%20(1995)"), result.Records[0].IMDbURL)
}

func TestNormalizeMovies(t *testing.T) {
	table := mustTable(t,
		"item_id,movie_title,release_date,IMDb_URL,primary_genre",
		"1, Toy Story (1995) ,01-Jan-1995, http://us.imdb.com/M/title-exact?Toy%20Story%20(1995) , animation ",
		"2,GoldenEye (1995),sometime,,ACTION",
		"267,unknown,,,",
	)

	result, err := Normalize(MovieSpec(), table)
	require.NoError(t, err)
	require.Len(t, result.Records, 3)

	toy := result.Records[0]
	assert.Equal(t, "Toy Story (1995)", toy.Title)
	assert.Equal(t, pgtype.Timestamp{Time: time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC), Valid: true}, toy.ReleaseDate)
	assert.Equal(t, text("http://us.imdb.com/M/title-exact?Toy%20Story%20(1995)"), toy.IMDbURL)
	assert.Equal(t, text("Animation"), toy.PrimaryGenre)

	golden := result.Records[1]
	assert.False(t, golden.ReleaseDate.Valid)
	assert.Equal(t, text("Action"), golden.PrimaryGenre)

	assert.Equal(t, 1, result.Report.Coerced["release_date"])
	assert.Equal(t, 2, result.Report.NullValues["release_date"])
	assert.Equal(t, 2, result.Report.NullValues["imdb_url"])
}

func TestNormalizeRatings(t *testing.T) {
	table := mustTable(t,
		"user_id,item_id,rating,timestamp",
		"196,242,3,881250949",
		"186,302,3,1997-12-04T15:55:49Z",
		"22,377,,878887116",
		"244,51,2,not-a-time",
		"196,242,3,881250949",
	)

	result, err := Normalize(RatingSpec(), table)
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, Rating{UserID: 196, ItemID: 242, Rating: 3, Timestamp: time.Unix(881250949, 0).UTC()}, result.Records[0])
	assert.Equal(t, time.Date(1997, 12, 4, 15, 55, 49, 0, time.UTC), result.Records[1].Timestamp)
	assert.Equal(t, 1, result.Report.MissingRequired)
	assert.Equal(t, 1, result.Report.Invalid)
	assert.Equal(t, 1, result.Report.Duplicates)
}

func TestNormalizeRatingsTruncatesToMicroseconds(t *testing.T) {
	table := mustTable(t,
		"user_id,item_id,rating,timestamp",
		"1,101,4,1997-09-20T10:00:00.0000001Z",
		"1,101,5,1997-09-20T10:00:00.0000002Z",
		"2,102,3,1997-09-20T10:00:00.123456789Z",
	)

	spec := RatingSpec()

	result, err := Normalize(spec, table)
	require.NoError(t, err)
	require.Len(t, result.Records, 3)

	first, second := result.Records[0], result.Records[1]
	assert.Equal(t, time.Date(1997, 9, 20, 10, 0, 0, 0, time.UTC), first.Timestamp)
	assert.Equal(t, spec.Key(first), spec.Key(second), "events within one microsecond share a key")
	assert.Equal(t, time.Date(1997, 9, 20, 10, 0, 0, 123456000, time.UTC), result.Records[2].Timestamp)

	data, err := Marshal(spec, result.Records[2:])
	require.NoError(t, err)

	decoded, err := Unmarshal(spec, data)
	require.NoError(t, err)
	assert.Equal(t, result.Records[2:], decoded)
}

func TestMarshalUnmarshalKeepsNullsDistinct(t *testing.T) {
	spec := UserSpec()
	users := []User{
		{UserID: 1, Age: pgtype.Int4{Int32: 24, Valid: true}, Gender: text("M"), Occupation: text("Technician"), ZipCode: text("")},
		{UserID: 2},
	}

	data, err := Marshal(spec, users)
	require.NoError(t, err)
	assert.Equal(t, "user_id,age,gender,occupation,zip_code\n1,24,M,Technician,\n2,\\N,\\N,\\N,\\N\n", string(data))

	decoded, err := Unmarshal(spec, data)
	require.NoError(t, err)
	assert.Equal(t, users, decoded)
}

func TestMarshalIsDeterministic(t *testing.T) {
	spec := RatingSpec()
	ratings := []Rating{
		{UserID: 1, ItemID: 101, Rating: 4.5, Timestamp: time.Date(1997, 9, 20, 10, 0, 0, 0, time.UTC)},
		{UserID: 2, ItemID: 7, Rating: 1, Timestamp: time.Date(1997, 9, 21, 10, 0, 0, 0, time.UTC)},
	}

	first, err := Marshal(spec, ratings)
	require.NoError(t, err)

	second, err := Marshal(spec, ratings)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "user_id,item_id,rating,timestamp\n1,101,4.5,1997-09-20 10:00:00\n2,7,1,1997-09-21 10:00:00\n", string(first))

	decoded, err := Unmarshal(spec, first)
	require.NoError(t, err)
	assert.Equal(t, ratings, decoded)
}

func TestUnmarshalRejectsBadTierRows(t *testing.T) {
	_, err := Unmarshal(RatingSpec(), []byte("user_id,item_id,rating,timestamp\n1,x,4,1997-09-20 10:00:00\n"))
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = Unmarshal(RatingSpec(), []byte("user_id,item_id,rating\n1,2,4\n"))
	require.ErrorIs(t, err, ErrSchema)

	records, err := Unmarshal(RatingSpec(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSortAndRows(t *testing.T) {
	spec := RatingSpec()
	at := time.Date(1997, 9, 20, 10, 0, 0, 0, time.UTC)
	ratings := []Rating{
		{UserID: 2, ItemID: 1, Rating: 3, Timestamp: at},
		{UserID: 1, ItemID: 9, Rating: 3, Timestamp: at.Add(time.Hour)},
		{UserID: 1, ItemID: 5, Rating: 3, Timestamp: at},
	}

	Sort(spec, ratings)

	assert.Equal(t, int64(5), ratings[0].ItemID)
	assert.Equal(t, int64(1), ratings[1].ItemID)
	assert.Equal(t, int64(9), ratings[2].ItemID)

	rows := Rows(spec, ratings)
	require.Len(t, rows, 3)
	assert.Equal(t, []any{int64(1), int64(5), 3.0, at}, rows[0])
}

func TestParseInt(t *testing.T) {
	n, err := parseInt(" 12 ")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	n, err = parseInt("12.0")
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	_, err = parseInt("12.5")
	require.Error(t, err)

	_, err = parseInt("NaN")
	require.Error(t, err)
}
