// Package ingest reads record batches from JSON, CSV and XLSX files.
//
// Spreadsheet cells arrive as text. Cells are converted using the declared
// field types of the target table; fields without a declared type become
// numbers when they parse as one and stay strings otherwise. Empty cells
// become nil so required rules can report them.
package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/liamcoop/dataquality/ruleconfig"
)

// Format is a record file encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFor picks the encoding from a file extension
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported record file extension %q (want .json, .csv or .xlsx)", filepath.Ext(path))
	}
}

// Options controls how cells become record values
type Options struct {
	// Types maps field names to schema types (number, string, date, bool)
	Types map[string]string
	// Sheet selects the worksheet of an XLSX file; empty means the first sheet
	Sheet string
}

// ReadFile reads every record in the file at path
func ReadFile(path string, opts Options) ([]map[string]any, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	records, err := Read(f, format, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Read reads every record from r
func Read(r io.Reader, format Format, opts Options) ([]map[string]any, error) {
	switch format {
	case FormatJSON:
		return readJSON(r)
	case FormatCSV:
		return readCSV(r, opts)
	case FormatXLSX:
		return readXLSX(r, opts)
	default:
		return nil, fmt.Errorf("unsupported record format %q", format)
	}
}

// readJSON accepts either an array of records or an object with a "records" array
func readJSON(r io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Records []map[string]any `json:"records"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parse json records: %w", err)
		}
		if wrapped.Records == nil {
			return nil, fmt.Errorf(`json object has no "records" array`)
		}
		return wrapped.Records, nil
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse json records: %w", err)
	}
	if records == nil {
		records = []map[string]any{}
	}
	return records, nil
}

func readCSV(r io.Reader, opts Options) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return fromRows(rows, opts, false)
}

func readXLSX(r io.Reader, opts Options) ([]map[string]any, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}

	// raw values keep numbers unformatted and dates as serial numbers
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return fromRows(rows, opts, true)
}

// fromRows turns a header row and data rows into records. Blank rows are skipped.
func fromRows(rows [][]string, opts Options, serialDates bool) ([]map[string]any, error) {
	records := []map[string]any{}
	if len(rows) == 0 {
		return records, nil
	}

	header := make([]string, len(rows[0]))
	seen := make(map[string]bool, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("column %d has an empty header", i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("column %q appears more than once", h)
		}
		seen[h] = true
		header[i] = h
	}

	for n, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		for i := len(header); i < len(row); i++ {
			if strings.TrimSpace(row[i]) != "" {
				return nil, fmt.Errorf("row %d has a value in column %d beyond the header", n+2, i+1)
			}
		}

		rec := make(map[string]any, len(header))
		for i, name := range header {
			var cell string
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			rec[name] = convert(cell, opts.Types[name], serialDates)
		}
		records = append(records, rec)
	}
	return records, nil
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// convert maps a cell onto a record value. Cells that do not parse as their
// declared type are kept as text so the field rules report them.
func convert(cell, typ string, serialDates bool) any {
	if cell == "" {
		return nil
	}

	switch typ {
	case ruleconfig.TypeNumber:
		if f, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64); err == nil {
			return f
		}
		return cell
	case ruleconfig.TypeBool:
		if b, err := strconv.ParseBool(cell); err == nil {
			return b
		}
		return cell
	case ruleconfig.TypeDate:
		if serialDates {
			if serial, err := strconv.ParseFloat(cell, 64); err == nil {
				if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
					return t.Format("2006-01-02")
				}
			}
		}
		return cell
	case ruleconfig.TypeString:
		return cell
	default:
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			return f
		}
		return cell
	}
}
