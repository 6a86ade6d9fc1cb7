// Package ingest turns uploaded case files into typed records. It owns the
// column mapping so the engine only ever sees validated rows.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/celerix-dev/celerix-dca/internal/engine"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// Supported file extensions.
const (
	ExtCSV  = ".csv"
	ExtXLSX = ".xlsx"
)

var maxAge = decimal.NewFromInt(math.MaxInt32)

var required = []string{schema.ColumnCaseID, schema.ColumnAmount, schema.ColumnAge}

// Decode reads a CSV or XLSX upload, chosen by the extension of name, and
// maps it onto records.
func Decode(name string, r io.Reader) ([]schema.Record, error) {
	var (
		table [][]string
		err   error
	)
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ExtCSV:
		table, err = readCSV(r)
	case ExtXLSX:
		table, err = readXLSX(r)
	default:
		return nil, engine.NewIngestError(0, "file", fmt.Sprintf("has unsupported type %q (want %s or %s)", ext, ExtCSV, ExtXLSX))
	}
	if err != nil {
		return nil, err
	}
	if len(table) == 0 {
		return nil, engine.NewIngestError(0, "file", "is empty")
	}
	return MapRows(table[0], table[1:])
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	table, err := cr.ReadAll()
	if err != nil {
		return nil, engine.NewIngestError(0, "file", "is not valid CSV: "+err.Error())
	}
	if len(table) > 0 && len(table[0]) > 0 {
		table[0][0] = strings.TrimPrefix(table[0][0], "\ufeff")
	}
	return table, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, engine.NewIngestError(0, "file", "is not a valid workbook: "+err.Error())
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, engine.NewIngestError(0, "file", "has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// MapRows matches header cells to the case columns, ignoring surrounding
// whitespace and case, and parses each data row. Blank rows are skipped.
// Row numbers in errors are 1-based data rows.
func MapRows(header []string, rows [][]string) ([]schema.Record, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := normalize(h)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	verr := &engine.ValidationError{Schema: schema.ExpectedColumns}
	for _, col := range required {
		if _, ok := index[normalize(col)]; !ok {
			verr.Errors = append(verr.Errors, engine.FieldError{Field: col, Message: "column is missing"})
		}
	}
	if len(verr.Errors) > 0 {
		return nil, verr
	}

	cell := func(row []string, col string) string {
		i, ok := index[normalize(col)]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := make([]schema.Record, 0, len(rows))
	for n, row := range rows {
		if blank(row) {
			continue
		}
		rowNum := n + 1
		rec := schema.Record{
			ID:           cell(row, schema.ColumnCaseID),
			CustomerName: cell(row, schema.ColumnCustomerName),
		}

		amount, err := parseAmount(cell(row, schema.ColumnAmount))
		if err != nil {
			verr.Errors = append(verr.Errors, engine.FieldError{Row: rowNum, Field: schema.ColumnAmount, Message: err.Error()})
		}
		rec.Amount = amount

		age, err := parseAge(cell(row, schema.ColumnAge))
		if err != nil {
			verr.Errors = append(verr.Errors, engine.FieldError{Row: rowNum, Field: schema.ColumnAge, Message: err.Error()})
		}
		rec.Age = age

		records = append(records, rec)
	}
	if len(verr.Errors) > 0 {
		return nil, verr
	}
	return records, nil
}

func normalize(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("is required")
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", raw)
	}
	return d, nil
}

// parseAge accepts whole numbers, including spreadsheet renderings like "30.0".
func parseAge(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsInteger() {
		return 0, fmt.Errorf("%q is not a whole number of days", raw)
	}
	if d.Abs().GreaterThan(maxAge) {
		return 0, fmt.Errorf("%q is out of range", raw)
	}
	return int(d.IntPart()), nil
}
