package dataset

import (
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// NameMovies is the movie catalog dataset
const NameMovies = "movies"

// Movie is a cleaned catalog row. It is an overwrite dimension keyed by
// ItemID.
type Movie struct {
	ItemID       int64
	Title        string
	ReleaseDate  pgtype.Timestamp
	IMDbURL      pgtype.Text
	PrimaryGenre pgtype.Text
}

// MovieSpec describes the movie catalog
func MovieSpec() Spec[Movie] {
	return Spec[Movie]{
		Name:     NameMovies,
		Columns:  []string{"item_id", "movie_title", "release_date", "imdb_url", "primary_genre"},
		Required: []string{"item_id", "movie_title"},
		Clean: map[string]func(string) string{
			"item_id":       trim,
			"movie_title":   trim,
			"release_date":  trim,
			"imdb_url":      trim,
			"primary_genre": title,
		},
		Coerce: func(row Row) (Movie, error) {
			id, err := requireInt(row, "item_id")
			if err != nil {
				return Movie{}, err
			}

			return Movie{
				ItemID:       id,
				Title:        row.Get("movie_title").String,
				ReleaseDate:  optionalTimestamp(row, "release_date"),
				IMDbURL:      row.Get("imdb_url"),
				PrimaryGenre: row.Get("primary_genre"),
			}, nil
		},
		Encode: func(m Movie) []string {
			return []string{
				strconv.FormatInt(m.ItemID, 10),
				m.Title,
				formatTimestamp(m.ReleaseDate),
				Null(m.IMDbURL),
				Null(m.PrimaryGenre),
			}
		},
		Values: func(m Movie) []any {
			return []any{m.ItemID, m.Title, m.ReleaseDate, m.IMDbURL, m.PrimaryGenre}
		},
		Key: func(m Movie) string {
			return strconv.FormatInt(m.ItemID, 10)
		},
		Less: func(a, b Movie) bool {
			return a.ItemID < b.ItemID
		},
	}
}
