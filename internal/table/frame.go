// Package table answers natural-language questions about an uploaded CSV.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var (
	ErrNoTable  = errors.New("no table uploaded")
	ErrEmptyCSV = errors.New("csv has no header row")
)

// Frame is a parsed CSV: one header row and string cells.
type Frame struct {
	Name    string     `json:"name"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// ReadCSV parses r. Rows shorter than the header are padded, longer rows are rejected.
func ReadCSV(name string, r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCSV
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = "column_" + strconv.Itoa(i)
		}
		columns[i] = h
	}

	frame := &Frame{Name: name, Columns: columns}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line, err)
		}
		if len(record) > len(columns) {
			return nil, fmt.Errorf("csv row %d has %d fields, header has %d", line, len(record), len(columns))
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" && len(columns) > 1 {
			continue
		}
		row := make([]string, len(columns))
		copy(row, record)
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

func (f *Frame) Len() int {
	return len(f.Rows)
}

// Head returns the first n rows.
func (f *Frame) Head(n int) [][]string {
	if n < 0 || n > len(f.Rows) {
		n = len(f.Rows)
	}
	return f.Rows[:n]
}

// ColumnSummary is the per-column description used in prompts and the table view.
type ColumnSummary struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind"`
	Count  int      `json:"count"`
	Unique int      `json:"unique"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Mean   *float64 `json:"mean,omitempty"`
}

// Describe summarizes each column. A column is numeric when every non-empty cell parses as a
// finite float; NaN and Inf cells are treated as missing.
func (f *Frame) Describe() []ColumnSummary {
	out := make([]ColumnSummary, len(f.Columns))
	for c, name := range f.Columns {
		seen := make(map[string]struct{})
		numeric := true
		var count int
		var sum float64
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, row := range f.Rows {
			cell := strings.TrimSpace(row[c])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
				// NaN and Inf cells count as missing
				continue
			}
			count++
			seen[cell] = struct{}{}
			if !numeric {
				continue
			}
			if err != nil {
				numeric = false
				continue
			}
			sum += v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		summary := ColumnSummary{Name: name, Kind: "text", Count: count, Unique: len(seen)}
		if numeric && count > 0 {
			mean := sum / float64(count)
			summary.Kind = "number"
			summary.Min, summary.Max, summary.Mean = &lo, &hi, &mean
		}
		out[c] = summary
	}
	return out
}

// Markdown renders the header and rows as a markdown table.
func Markdown(columns []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(columns)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = strings.ReplaceAll(cell, "|", "\\|")
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}
