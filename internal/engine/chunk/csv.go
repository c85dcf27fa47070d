package chunk

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrCSVTooShort is returned when the input has no data row after the header.
var ErrCSVTooShort = errors.New("CSV must have at least header and one data row")

// RowFunc processes one CSV data row. index is the row's position among data rows.
type RowFunc[R any] func(ctx context.Context, row []string, index int, headers []string) (R, error)

// ParseCSVInChunks reads every record from r and processes the data rows in chunks.
//
// The first record is the header; header names are trimmed and lower-cased.
// Cells are trimmed. Blank lines are skipped. Rows may have a different
// number of fields than the header.
func ParseCSVInChunks[R any](
	ctx context.Context,
	r io.Reader,
	fn RowFunc[R],
	opts Options[[]string],
) (*Result[[]string, R], error) {
	if fn == nil {
		return nil, ErrNilProcessor
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}

	records = dropBlankRecords(records)
	if len(records) < 2 {
		return nil, ErrCSVTooShort
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	rows := records[1:]
	for _, row := range rows {
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
	}

	return ProcessInChunks(ctx, rows, func(ctx context.Context, row []string, index int) (R, error) {
		return fn(ctx, row, index, headers)
	}, opts)
}

func dropBlankRecords(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}
