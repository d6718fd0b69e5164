package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// NullToken marks a null field in tier objects written by this package, so
// null and empty string stay distinct across tiers
const NullToken = `\N`

// NullMode selects how fields map to nulls when reading
type NullMode int

const (
	// RawNulls treats empty fields as null, as landing files carry them
	RawNulls NullMode = iota
	// TierNulls treats only NullToken as null
	TierNulls
)

// Table is delimited text read into nullable string cells
type Table struct {
	Columns []string
	Rows    [][]pgtype.Text
	// Ragged counts rows whose field count differed from the header
	Ragged int
}

// ReadCSV parses delimited text with a header row. Short rows are padded with
// nulls and long rows truncated; both are counted in Ragged.
func ReadCSV(data []byte, mode NullMode) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	if mode == RawNulls {
		r.LazyQuotes = true
	}

	head, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Table{}, nil
		}

		return nil, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}

	t := &Table{Columns: head}

	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		if len(fields) != len(head) {
			t.Ragged++
		}

		row := make([]pgtype.Text, len(head))
		for i := range row {
			if i >= len(fields) {
				continue
			}

			row[i] = cell(fields[i], mode)
		}

		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

func cell(field string, mode NullMode) pgtype.Text {
	switch mode {
	case TierNulls:
		if field == NullToken {
			return pgtype.Text{}
		}
	default:
		if strings.TrimSpace(field) == "" {
			return pgtype.Text{}
		}
	}

	return pgtype.Text{String: field, Valid: true}
}

// WriteCSV encodes a header and rows of already-formatted fields
func WriteCSV(columns []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)

	if err := w.Write(columns); err != nil {
		return nil, err
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}

	return buf.Bytes(), nil
}

// CanonicalColumn normalizes a header name: trimmed, lower-cased, spaces as
// underscores
func CanonicalColumn(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// Null formats a nullable text for a tier object
func Null(v pgtype.Text) string {
	if !v.Valid {
		return NullToken
	}

	return v.String
}
