// Package watermark keeps the append-only high-water mark log of each stage
package watermark

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/ethpandaops/medallion/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	// ErrRegression is returned when a write would lower a dataset's watermark
	ErrRegression = errors.New("watermark regression")
	// ErrKindMismatch is returned when a write changes a dataset's watermark kind
	ErrKindMismatch = errors.New("watermark kind mismatch")
	// ErrCorruptLog marks a log object that could not be parsed
	ErrCorruptLog = errors.New("corrupt watermark log")
	// ErrDatasetRequired is returned when a record has no dataset name
	ErrDatasetRequired = errors.New("watermark dataset is required")
)

// DefaultKey is the object key of the watermark log in a stage's bucket
const DefaultKey = "watermarks/watermarks.csv"

const processingTimeLayout = "2006-01-02 15:04:05.999999999"

//nolint:gochecknoglobals // fixed log header
var header = []string{"dataset_name", "max_value", "records_loaded", "processing_time"}

// Record is one row of the watermark log
type Record struct {
	Dataset        string
	MaxValue       Value
	RecordsLoaded  int64
	ProcessingTime time.Time
}

// Reader is the read side of a watermark store
type Reader interface {
	// Stage returns the name of the stage owning the log
	Stage() string
	// Read returns the dataset's current watermark, or nil on cold start
	Read(ctx context.Context, dataset string) (*Record, error)
	// List returns the current watermark of every dataset in the log
	List(ctx context.Context) ([]Record, error)
}

// Writer is the write side of a watermark store
type Writer interface {
	Write(ctx context.Context, rec Record) error
	Advance(ctx context.Context, dataset string, value Value, records int64, at time.Time) (bool, error)
}

// ReadWriter combines Reader and Writer
type ReadWriter interface {
	Reader
	Writer
}

// Store is the watermark log of one stage, held as a CSV object
type Store struct {
	log    logrus.FieldLogger
	client storage.ClientInterface
	bucket string
	key    string
	stage  string
	now    func() time.Time
}

var _ ReadWriter = (*Store)(nil)

// NewStore creates the watermark store for stage, kept at bucket/key
func NewStore(log logrus.FieldLogger, client storage.ClientInterface, stage, bucket, key string) *Store {
	if key == "" {
		key = DefaultKey
	}

	return &Store{
		log: log.WithFields(logrus.Fields{
			"component": "watermark",
			"stage":     stage,
		}),
		client: client,
		bucket: bucket,
		key:    key,
		stage:  stage,
		now:    time.Now,
	}
}

// Stage returns the name of the stage owning the log
func (s *Store) Stage() string {
	return s.stage
}

// Location returns the bucket and key of the log object
func (s *Store) Location() (bucket, key string) {
	return s.bucket, s.key
}

// Read returns the record with the greatest max_value for dataset. A missing
// or unparseable log, or a log without a valid row for the dataset, is a
// cold start and yields nil without error.
func (s *Store) Read(ctx context.Context, dataset string) (*Record, error) {
	entries, _, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptLog) {
			s.log.WithError(err).Warn("Watermark log is unreadable, treating as cold start")

			return nil, nil
		}

		return nil, err
	}

	return current(entries, dataset), nil
}

// List returns the current record of every dataset, sorted by dataset name
func (s *Store) List(ctx context.Context) ([]Record, error) {
	entries, _, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptLog) {
			s.log.WithError(err).Warn("Watermark log is unreadable")

			return nil, nil
		}

		return nil, err
	}

	seen := make(map[string]bool)

	var out []Record

	for _, e := range entries {
		if e.rec == nil || seen[e.rec.Dataset] {
			continue
		}

		seen[e.rec.Dataset] = true

		if rec := current(entries, e.rec.Dataset); rec != nil {
			out = append(out, *rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })

	return out, nil
}

// Write appends rec to the log. Existing rows are carried through unchanged,
// including rows that cannot be parsed. A value lower than the dataset's
// current watermark is rejected with ErrRegression.
func (s *Store) Write(ctx context.Context, rec Record) error {
	if rec.Dataset == "" {
		return ErrDatasetRequired
	}

	if rec.ProcessingTime.IsZero() {
		rec.ProcessingTime = s.now()
	}

	entries, raw, err := s.load(ctx)
	if err != nil {
		if !errors.Is(err, ErrCorruptLog) {
			return err
		}

		if err := s.preserveCorrupt(ctx, raw); err != nil {
			return err
		}

		entries = nil
	}

	if cur := current(entries, rec.Dataset); cur != nil {
		if cur.MaxValue.Kind() != rec.MaxValue.Kind() {
			return fmt.Errorf("%w: %s is %s, got %s", ErrKindMismatch, rec.Dataset, cur.MaxValue.Kind(), rec.MaxValue.Kind())
		}

		if rec.MaxValue.Compare(cur.MaxValue) < 0 {
			return fmt.Errorf("%w: %s from %s to %s", ErrRegression, rec.Dataset, cur.MaxValue, rec.MaxValue)
		}
	}

	entries = append(entries, entry{rec: &rec})

	data, err := encode(entries)
	if err != nil {
		return err
	}

	if err := s.client.Put(ctx, s.bucket, s.key, data, storage.ContentTypeCSV); err != nil {
		return fmt.Errorf("failed to write watermark log: %w", err)
	}

	observability.RecordWatermark(s.stage, rec.Dataset, rec.MaxValue.Float())

	s.log.WithFields(logrus.Fields{
		"dataset":        rec.Dataset,
		"max_value":      rec.MaxValue.String(),
		"records_loaded": rec.RecordsLoaded,
	}).Info("Watermark advanced")

	return nil
}

// Advance writes a new watermark row only when value is not lower than the
// current watermark. A row repeating the current value and record count is
// not appended. It reports whether a row was appended.
func (s *Store) Advance(ctx context.Context, dataset string, value Value, records int64, at time.Time) (bool, error) {
	cur, err := s.Read(ctx, dataset)
	if err != nil {
		return false, err
	}

	if cur != nil && cur.MaxValue.Kind() == value.Kind() {
		cmp := value.Compare(cur.MaxValue)

		if cmp < 0 || (cmp == 0 && cur.RecordsLoaded == records) {
			s.log.WithFields(logrus.Fields{
				"dataset": dataset,
				"current": cur.MaxValue.String(),
				"value":   value.String(),
				"records": records,
			}).Debug("Watermark unchanged")

			return false, nil
		}
	}

	if err := s.Write(ctx, Record{
		Dataset:        dataset,
		MaxValue:       value,
		RecordsLoaded:  records,
		ProcessingTime: at,
	}); err != nil {
		return false, err
	}

	return true, nil
}

func (s *Store) preserveCorrupt(ctx context.Context, raw []byte) error {
	aside := fmt.Sprintf("%s.corrupt-%d", s.key, s.now().Unix())

	if err := s.client.Put(ctx, s.bucket, aside, raw, storage.ContentTypeCSV); err != nil {
		return fmt.Errorf("failed to preserve corrupt watermark log: %w", err)
	}

	s.log.WithField("preserved_as", aside).Warn("Watermark log was unreadable, starting a new log")

	return nil
}

// entry is a log row. Rows read from the log keep their raw fields and are
// written back verbatim; rec is nil for rows that fail to parse.
type entry struct {
	rec *Record
	raw []string
}

// load fetches and parses the log. A missing object is an empty log. The raw
// bytes are returned alongside ErrCorruptLog so callers can keep them.
func (s *Store) load(ctx context.Context) ([]entry, []byte, error) {
	data, err := s.client.Get(ctx, s.bucket, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, nil
		}

		return nil, nil, fmt.Errorf("failed to read watermark log: %w", err)
	}

	entries, err := decode(data)
	if err != nil {
		return nil, data, err
	}

	for _, e := range entries {
		if e.rec == nil {
			s.log.WithField("row", strings.Join(e.raw, ",")).Debug("Skipping unparseable watermark row")
		}
	}

	return entries, data, nil
}

// current picks the dataset's record with the greatest max_value among rows
// sharing the kind of its most recent valid row
func current(entries []entry, dataset string) *Record {
	var (
		kind  Kind
		found bool
	)

	for i := len(entries) - 1; i >= 0; i-- {
		if r := entries[i].rec; r != nil && r.Dataset == dataset {
			kind = r.MaxValue.Kind()
			found = true

			break
		}
	}

	if !found {
		return nil
	}

	var best *Record

	for _, e := range entries {
		r := e.rec
		if r == nil || r.Dataset != dataset || r.MaxValue.Kind() != kind {
			continue
		}

		if best == nil || r.MaxValue.Compare(best.MaxValue) >= 0 {
			best = r
		}
	}

	out := *best

	return &out
}

func decode(data []byte) ([]entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptLog, err)
	}

	if len(head) != len(header) {
		return nil, fmt.Errorf("%w: unexpected header %v", ErrCorruptLog, head)
	}

	for i, name := range header {
		if strings.TrimSpace(strings.ToLower(head[i])) != name {
			return nil, fmt.Errorf("%w: unexpected header %v", ErrCorruptLog, head)
		}
	}

	var entries []entry

	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptLog, err)
		}

		rec, ok := parseRow(fields)
		if !ok {
			entries = append(entries, entry{raw: fields})

			continue
		}

		entries = append(entries, entry{rec: rec, raw: fields})
	}

	return entries, nil
}

func parseRow(fields []string) (*Record, bool) {
	if len(fields) != len(header) {
		return nil, false
	}

	dataset := strings.TrimSpace(fields[0])
	if dataset == "" {
		return nil, false
	}

	value, err := ParseValue(fields[1])
	if err != nil {
		return nil, false
	}

	records, err := strconv.ParseInt(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return nil, false
	}

	var processed time.Time

	if p := strings.TrimSpace(fields[3]); p != "" {
		pv, err := ParseValue(p)
		if err != nil || pv.Kind() != KindTime {
			return nil, false
		}

		processed = pv.Time()
	}

	return &Record{
		Dataset:        dataset,
		MaxValue:       value,
		RecordsLoaded:  records,
		ProcessingTime: processed,
	}, true
}

func encode(entries []entry) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, e := range entries {
		fields := e.raw

		if fields == nil {
			fields = []string{
				e.rec.Dataset,
				e.rec.MaxValue.String(),
				strconv.FormatInt(e.rec.RecordsLoaded, 10),
				e.rec.ProcessingTime.UTC().Format(processingTimeLayout),
			}
		}

		if err := w.Write(fields); err != nil {
			return nil, err
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode watermark log: %w", err)
	}

	return buf.Bytes(), nil
}
