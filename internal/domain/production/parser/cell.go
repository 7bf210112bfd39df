// Package parser implements the production workbook parsing pipeline for
// batching-plant exports: format detection, column resolution, row extraction
// and the canonical ProductionRecord output model.
package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// CellKind tags the type of a cell value, decided once when the workbook is
// loaded. Downstream code switches on the kind instead of probing strings.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
	CellDate
)

// Cell is a single spreadsheet cell. Raw always holds the original text so
// locale-sensitive number parsing can re-interpret it per format.
type Cell struct {
	Kind   CellKind
	Raw    string
	Number float64
	Date   time.Time
}

// IsEmpty reports whether the cell holds no usable value.
func (c Cell) IsEmpty() bool {
	return c.Kind == CellEmpty
}

// Row is an ordered sequence of cells.
type Row []Cell

// Cell returns the cell at idx, or an empty cell when the row is shorter.
func (r Row) Cell(idx int) Cell {
	if idx < 0 || idx >= len(r) {
		return Cell{}
	}
	return r[idx]
}

// Sheet is a named, ordered sequence of rows.
type Sheet struct {
	Name string
	Rows []Row
}

// Workbook is the in-memory representation of one uploaded file. It is read
// once per upload and discarded after parsing.
type Workbook struct {
	Sheets []Sheet
}

// cellDateLayouts are the textual date forms recognized at load time. Layouts
// with a time component come first so "15.03.2024 08:30" is not truncated to
// a date-only match.
var cellDateLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02.01.2006",
	"2006-01-02",
}

// classifyCell decides the tagged kind for one raw cell value.
func classifyCell(raw string) Cell {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Cell{}
	}
	for _, layout := range cellDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return Cell{Kind: CellDate, Raw: trimmed, Date: t}
		}
	}
	if n, err := strconv.ParseFloat(strings.ReplaceAll(trimmed, ",", ""), 64); err == nil {
		return Cell{Kind: CellNumber, Raw: trimmed, Number: n}
	}
	return Cell{Kind: CellText, Raw: trimmed}
}

// LoadWorkbook reads a whole uploaded file into a Workbook. XLSX/XLSM content
// is read via excelize; anything that is not a zip container is treated as a
// delimited text export (the legacy plant occasionally saves as CSV).
func LoadWorkbook(data []byte) (*Workbook, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if isZipContainer(data) {
		return loadExcel(data)
	}
	return loadDelimited(data)
}

func isZipContainer(data []byte) bool {
	return len(data) >= 4 && data[0] == 'P' && data[1] == 'K'
}

func loadExcel(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		// Raw values, not display text: native date cells come through as
		// their serial number and flow into fromExcelSerial, instead of a
		// locale-formatted string no layout matches.
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		sheet := Sheet{Name: name, Rows: make([]Row, 0, len(rows))}
		for _, raw := range rows {
			row := make(Row, len(raw))
			for i, cell := range raw {
				row[i] = classifyCell(cell)
			}
			sheet.Rows = append(sheet.Rows, row)
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return wb, nil
}

// loadDelimited converts a CSV/TSV export into a single-sheet workbook.
func loadDelimited(data []byte) (*Workbook, error) {
	text := strings.TrimPrefix(string(data), "\uFEFF")
	delimiter := detectDelimiter(text)

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	sheet := Sheet{Name: "Sheet1"}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		row := make(Row, len(record))
		for i, cell := range record {
			row[i] = classifyCell(cell)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	if len(sheet.Rows) == 0 {
		return nil, fmt.Errorf("file has no rows")
	}
	return &Workbook{Sheets: []Sheet{sheet}}, nil
}

// detectDelimiter picks the most frequent candidate delimiter in the first
// few lines.
func detectDelimiter(text string) rune {
	lines := strings.SplitN(text, "\n", 10)
	best := ','
	bestCount := 0
	for _, d := range []rune{';', '\t', ',', '|'} {
		count := 0
		for _, line := range lines {
			count += strings.Count(line, string(d))
		}
		if count > bestCount {
			bestCount = count
			best = d
		}
	}
	return best
}
