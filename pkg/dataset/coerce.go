package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TimeLayout is how timestamps are written to tier objects; the fraction is
// omitted for whole seconds
const TimeLayout = "2006-01-02 15:04:05.999999999"

//nolint:gochecknoglobals // accepted input timestamp layouts
var timeLayouts = []string{
	TimeLayout,
	"2006-01-02 15:04:05Z07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02-Jan-2006",
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// title upper-cases the first letter of every word and lower-cases the rest
func title(s string) string {
	return cases.Title(language.English).String(strings.TrimSpace(s))
}

func requireInt(row Row, column string) (int64, error) {
	v := row.Get(column)
	if !v.Valid {
		return 0, fmt.Errorf("%w: %s is null", ErrInvalidValue, column)
	}

	n, err := parseInt(v.String)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidValue, column, err)
	}

	return n, nil
}

// parseInt accepts integers, including integral floats such as "12.0"
func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, fmt.Errorf("not an integer: %q", s)
	}

	return int64(f), nil
}

func optionalInt4(row Row, column string) pgtype.Int4 {
	v := row.Get(column)
	if !v.Valid {
		return pgtype.Int4{}
	}

	n, err := parseInt(v.String)
	if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
		return pgtype.Int4{}
	}

	return pgtype.Int4{Int32: int32(n), Valid: true}
}

// TimePrecision is the resolution of stored timestamps, matching Postgres
// TIMESTAMP. Finer fractions are truncated so keys agree across tiers.
const TimePrecision = time.Microsecond

// parseTime parses a timestamp as UTC, truncated to TimePrecision. Bare
// integers are unix seconds.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(TimePrecision), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrInvalidValue, s)
}

func optionalTimestamp(row Row, column string) pgtype.Timestamp {
	v := row.Get(column)
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return pgtype.Timestamp{}
	}

	t, err := parseTime(v.String)
	if err != nil {
		return pgtype.Timestamp{}
	}

	return pgtype.Timestamp{Time: t, Valid: true}
}

func formatTimestamp(v pgtype.Timestamp) string {
	if !v.Valid {
		return NullToken
	}

	return v.Time.UTC().Format(TimeLayout)
}

func formatInt4(v pgtype.Int4) string {
	if !v.Valid {
		return NullToken
	}

	return strconv.FormatInt(int64(v.Int32), 10)
}
