// Package window derives the time window a stage run covers and selects the
// records that fall inside it
package window

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidInterval is returned when an interval ends before it starts
var ErrInvalidInterval = errors.New("interval end precedes interval start")

// LabelLayout formats a monthly partition label
const LabelLayout = "2006-01"

// Mode says how a window selects records
type Mode int

const (
	// Incremental selects records with event time in [Start, End)
	Incremental Mode = iota
	// Backfill selects every record at or before the pipeline start and
	// routes them to a single partition
	Backfill
)

func (m Mode) String() string {
	switch m {
	case Incremental:
		return "incremental"
	case Backfill:
		return "backfill"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Window is the resolved selection for one stage run
type Window struct {
	Mode          Mode
	PipelineStart time.Time
	Start         time.Time
	End           time.Time
}

// Label returns the monthly partition label of t
func Label(t time.Time) string {
	return t.UTC().Format(LabelLayout)
}

// ParseLabel parses a monthly partition label into the first instant of the
// month
func ParseLabel(label string) (time.Time, error) {
	t, err := time.Parse(LabelLayout, label)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid partition label %q: %w", label, err)
	}

	return t, nil
}

// MonthStart truncates t to the first instant of its UTC month
func MonthStart(t time.Time) time.Time {
	t = t.UTC()

	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Resolve derives the window for a run. An interval ending at or before the
// pipeline start is the cold-start backfill; anything later is incremental.
func Resolve(pipelineStart, intervalStart, intervalEnd time.Time) (Window, error) {
	if intervalEnd.Before(intervalStart) {
		return Window{}, fmt.Errorf("%w: [%s, %s)", ErrInvalidInterval,
			intervalStart.UTC().Format(time.RFC3339), intervalEnd.UTC().Format(time.RFC3339))
	}

	w := Window{
		Mode:          Incremental,
		PipelineStart: pipelineStart.UTC(),
		Start:         intervalStart.UTC(),
		End:           intervalEnd.UTC(),
	}

	if !intervalEnd.After(pipelineStart) {
		w.Mode = Backfill
	}

	return w, nil
}

// Contains reports whether an event at t belongs to the window
func (w Window) Contains(t time.Time) bool {
	if w.Mode == Backfill {
		return !t.After(w.PipelineStart)
	}

	return !t.Before(w.Start) && t.Before(w.End)
}

// PartitionFor returns the partition label an event at t is written to
func (w Window) PartitionFor(t time.Time) string {
	if w.Mode == Backfill {
		return Label(w.PipelineStart)
	}

	return Label(t)
}

// Upper is the as-of bound of the window: rows dated after it belong to a
// later run
func (w Window) Upper() time.Time {
	if w.Mode == Backfill {
		return w.PipelineStart
	}

	return w.End
}

// ReadScope returns the partition labels a downstream stage reads for this
// window. A backfill reads lookbackMonths months before the pipeline start
// through the pipeline start's month; an incremental window reads every month
// overlapping [Start, End).
func (w Window) ReadScope(lookbackMonths int) []string {
	var from, to time.Time

	if w.Mode == Backfill {
		if lookbackMonths < 0 {
			lookbackMonths = 0
		}

		to = MonthStart(w.PipelineStart)
		from = to.AddDate(0, -lookbackMonths, 0)
	} else {
		from = MonthStart(w.Start)
		to = MonthStart(w.End)

		// An end exactly on a month boundary does not touch that month
		if w.End.Equal(to) && w.End.After(w.Start) {
			to = to.AddDate(0, -1, 0)
		}
	}

	var labels []string
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		labels = append(labels, Label(m))
	}

	return labels
}

func (w Window) String() string {
	if w.Mode == Backfill {
		return fmt.Sprintf("backfill(<= %s)", w.PipelineStart.Format(time.RFC3339))
	}

	return fmt.Sprintf("incremental[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Selection is the result of filtering records through a window
type Selection[T any] struct {
	// Records in input order
	Records []T
	// Partitions groups the records by target partition label
	Partitions map[string][]T
	// Max is the greatest event time among the records
	Max time.Time
}

// Empty reports whether nothing was selected
func (s Selection[T]) Empty() bool {
	return len(s.Records) == 0
}

// Labels returns the touched partition labels in ascending order
func (s Selection[T]) Labels() []string {
	labels := make([]string, 0, len(s.Partitions))
	for label := range s.Partitions {
		labels = append(labels, label)
	}

	sort.Strings(labels)

	return labels
}

// Select keeps the records inside the window whose event time is strictly
// after the watermark, when one is given. An empty selection is not an error.
func Select[T any](w Window, records []T, eventTime func(T) time.Time, watermark *time.Time) Selection[T] {
	sel := Selection[T]{Partitions: make(map[string][]T)}

	for _, r := range records {
		t := eventTime(r)

		if !w.Contains(t) {
			continue
		}

		if watermark != nil && !t.After(*watermark) {
			continue
		}

		sel.Records = append(sel.Records, r)

		label := w.PartitionFor(t)
		sel.Partitions[label] = append(sel.Partitions[label], r)

		if t.After(sel.Max) {
			sel.Max = t
		}
	}

	return sel
}
