package watermark

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind distinguishes timestamp watermarks from ordinal ones
type Kind int

const (
	// KindTime is a UTC timestamp high-water mark
	KindTime Kind = iota
	// KindOrdinal is an integer high-water mark such as a maximum id
	KindOrdinal
)

func (k Kind) String() string {
	switch k {
	case KindTime:
		return "time"
	case KindOrdinal:
		return "ordinal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrInvalidValue is returned when a max_value cannot be parsed
var ErrInvalidValue = errors.New("invalid watermark value")

// timeLayout is how time watermarks are written to the log
const timeLayout = "2006-01-02 15:04:05.999999999"

//nolint:gochecknoglobals // accepted watermark time layouts
var timeLayouts = []string{
	timeLayout,
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Value is a watermark position: either a UTC time or an ordinal
type Value struct {
	kind Kind
	t    time.Time
	n    int64
}

// Time creates a time watermark, normalized to UTC
func Time(t time.Time) Value {
	return Value{kind: KindTime, t: t.UTC()}
}

// Ordinal creates an ordinal watermark
func Ordinal(n int64) Value {
	return Value{kind: KindOrdinal, n: n}
}

// ParseValue parses a max_value field. Plain integers are ordinals; anything
// else must be a timestamp, interpreted as UTC when it carries no offset.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, fmt.Errorf("%w: empty", ErrInvalidValue)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Ordinal(n), nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Time(t), nil
		}
	}

	return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
}

// Kind returns the value's kind
func (v Value) Kind() Kind {
	return v.kind
}

// Time returns the timestamp of a time watermark
func (v Value) Time() time.Time {
	return v.t
}

// Int returns the ordinal of an ordinal watermark
func (v Value) Int() int64 {
	return v.n
}

// Float returns the value as a number: unix seconds for time watermarks
func (v Value) Float() float64 {
	if v.kind == KindTime {
		return float64(v.t.UnixNano()) / float64(time.Second)
	}

	return float64(v.n)
}

func (v Value) String() string {
	if v.kind == KindTime {
		return v.t.Format(timeLayout)
	}

	return strconv.FormatInt(v.n, 10)
}

// Compare returns -1, 0 or 1. Values of different kinds order by kind.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}

		return 1
	}

	if v.kind == KindTime {
		return v.t.Compare(o.t)
	}

	switch {
	case v.n < o.n:
		return -1
	case v.n > o.n:
		return 1
	default:
		return 0
	}
}

// Equal reports whether both values are the same position
func (v Value) Equal(o Value) bool {
	return v.Compare(o) == 0
}
