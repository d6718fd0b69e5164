package dataset

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// NameRatings is the rating event dataset
const NameRatings = "ratings"

// Rating is a cleaned rating event keyed by (UserID, ItemID, Timestamp)
type Rating struct {
	UserID    int64
	ItemID    int64
	Rating    float64
	Timestamp time.Time
}

// RatingSpec describes the rating events
func RatingSpec() Spec[Rating] {
	return Spec[Rating]{
		Name:     NameRatings,
		Columns:  []string{"user_id", "item_id", "rating", "timestamp"},
		Required: []string{"user_id", "item_id", "rating", "timestamp"},
		Clean: map[string]func(string) string{
			"user_id":   trim,
			"item_id":   trim,
			"rating":    trim,
			"timestamp": trim,
		},
		Coerce: func(row Row) (Rating, error) {
			userID, err := requireInt(row, "user_id")
			if err != nil {
				return Rating{}, err
			}

			itemID, err := requireInt(row, "item_id")
			if err != nil {
				return Rating{}, err
			}

			value, err := strconv.ParseFloat(row.Get("rating").String, 64)
			if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
				return Rating{}, fmt.Errorf("%w: rating %q", ErrInvalidValue, row.Get("rating").String)
			}

			ts, err := parseTime(row.Get("timestamp").String)
			if err != nil {
				return Rating{}, err
			}

			return Rating{
				UserID:    userID,
				ItemID:    itemID,
				Rating:    value,
				Timestamp: ts,
			}, nil
		},
		Encode: func(r Rating) []string {
			return []string{
				strconv.FormatInt(r.UserID, 10),
				strconv.FormatInt(r.ItemID, 10),
				strconv.FormatFloat(r.Rating, 'f', -1, 64),
				r.Timestamp.UTC().Format(TimeLayout),
			}
		},
		Values: func(r Rating) []any {
			return []any{r.UserID, r.ItemID, r.Rating, r.Timestamp}
		},
		Key: func(r Rating) string {
			return fmt.Sprintf("%d|%d|%d", r.UserID, r.ItemID, r.Timestamp.UnixNano())
		},
		Less: func(a, b Rating) bool {
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}

			if a.UserID != b.UserID {
				return a.UserID < b.UserID
			}

			return a.ItemID < b.ItemID
		},
		EventTime: func(r Rating) time.Time {
			return r.Timestamp
		},
	}
}
