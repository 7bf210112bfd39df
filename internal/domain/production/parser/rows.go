package parser

import (
	"strconv"
	"strings"
	"time"
)

// SkipReason explains why a data row produced no record. Skips are policy,
// not errors.
type SkipReason string

const (
	SkipNone         SkipReason = ""
	SkipTooShort     SkipReason = "too_short"
	SkipSubtotal     SkipReason = "subtotal"
	SkipEmptyRecipe  SkipReason = "empty_recipe"
	SkipNoDate       SkipReason = "no_date"
	SkipZeroQuantity SkipReason = "zero_quantity"
)

// ProductionRecord is the canonical output unit: one batch/pour. Every
// emitted record has a plant, a timestamp, a recipe name and a positive
// quantity; it is immutable once handed onward.
type ProductionRecord struct {
	Plant              Plant
	Format             Format
	RecordNumber       int64
	Timestamp          time.Time
	RecipeName         string
	TotalQuantityM3    float64
	MaterialQuantities map[FieldKey]float64

	// Logistics fields carried through opaquely.
	Customer string
	Jobsite  string
	Driver   string
	Vehicle  string
}

// RowOutcome is the tagged result of classifying one data row, so tests can
// assert exact skip reasons instead of inferring them from absence.
type RowOutcome struct {
	RowIndex int
	Record   *ProductionRecord
	Reason   SkipReason
}

// Accepted reports whether the row produced a record.
func (o RowOutcome) Accepted() bool {
	return o.Record != nil
}

// minRowCells is the minimum cell count for a row to be considered data.
const minRowCells = 3

// subtotalTokens mark aggregate/footer rows in the source sheets.
var subtotalTokens = []string{"ukupno", "total"}

// extractor walks data rows below the header. Its only carried state is the
// last successfully parsed date, reused for rows whose date cell is blank.
type extractor struct {
	sig      Signature
	cols     ColumnIndexMap
	lastDate time.Time
}

// ExtractRows classifies every row strictly after the header row of the
// detected sheet and returns one outcome per row.
func ExtractRows(wb *Workbook, sig Signature, cols ColumnIndexMap) []RowOutcome {
	sheet := wb.Sheets[sig.SheetIdx]
	ex := &extractor{sig: sig, cols: cols}

	outcomes := make([]RowOutcome, 0, len(sheet.Rows))
	for idx := sig.HeaderRow + 1; idx < len(sheet.Rows); idx++ {
		outcomes = append(outcomes, ex.classifyRow(sheet.Rows[idx], idx))
	}
	return outcomes
}

func (e *extractor) classifyRow(row Row, idx int) RowOutcome {
	out := RowOutcome{RowIndex: idx}

	if countNonEmpty(row) < minRowCells {
		out.Reason = SkipTooShort
		return out
	}
	if isSubtotalRow(row) {
		out.Reason = SkipSubtotal
		return out
	}

	recipe := e.firstText(row, FieldRecipe)
	if recipe == "" {
		out.Reason = SkipEmptyRecipe
		return out
	}

	ts, ok := e.resolveDate(row)
	if !ok {
		out.Reason = SkipNoDate
		return out
	}

	quantity := e.sumNumeric(row, FieldQuantity)
	if quantity <= 0 {
		out.Reason = SkipZeroQuantity
		return out
	}

	rec := &ProductionRecord{
		Plant:              e.sig.Plant,
		Format:             e.sig.Format,
		RecordNumber:       e.resolveRecordNumber(row, idx),
		Timestamp:          ts,
		RecipeName:         recipe,
		TotalQuantityM3:    quantity,
		MaterialQuantities: make(map[FieldKey]float64),
		Customer:           e.firstText(row, FieldCustomer),
		Jobsite:            e.firstText(row, FieldJobsite),
		Driver:             e.firstText(row, FieldDriver),
		Vehicle:            e.firstText(row, FieldVehicle),
	}

	for key := range e.cols {
		if key == FieldQuantity || !key.IsMaterial() {
			continue
		}
		if sum := e.sumNumeric(row, key); sum != 0 {
			rec.MaterialQuantities[key] = sum
		}
	}

	out.Record = rec
	return out
}

// resolveDate parses the row's date cell, falling back to the last valid date
// seen in this file. Source sheets omit repeated timestamps for consecutive
// rows of the same batch.
func (e *extractor) resolveDate(row Row) (time.Time, bool) {
	for _, idx := range e.cols[FieldDate] {
		if t, ok := ParseFlexibleDate(row.Cell(idx)); ok {
			e.lastDate = t
			return t, true
		}
	}
	if !e.lastDate.IsZero() {
		return e.lastDate, true
	}
	return time.Time{}, false
}

// resolveRecordNumber takes the numeric identifier from the source when one
// exists, otherwise a deterministic negative fallback derived from the row
// index so re-parsing the same file yields identical output.
func (e *extractor) resolveRecordNumber(row Row, idx int) int64 {
	for _, col := range e.cols[FieldRecordNo] {
		cell := row.Cell(col)
		if cell.Kind == CellNumber {
			return int64(cell.Number)
		}
		if cell.Kind == CellText {
			if n, err := strconv.ParseInt(strings.TrimSpace(cell.Raw), 10, 64); err == nil {
				return n
			}
		}
	}
	return -int64(idx + 1)
}

// sumNumeric sums the parsed value of every column mapped to the key. This is
// where several physical columns fold into one material bucket.
func (e *extractor) sumNumeric(row Row, key FieldKey) float64 {
	var sum float64
	for _, idx := range e.cols[key] {
		sum += ParseLocaleNumber(row.Cell(idx).Raw, e.sig.Format)
	}
	return sum
}

// firstText returns the first mapped column's value, stringified and trimmed.
func (e *extractor) firstText(row Row, key FieldKey) string {
	for _, idx := range e.cols[key] {
		cell := row.Cell(idx)
		if !cell.IsEmpty() {
			return strings.TrimSpace(cell.Raw)
		}
	}
	return ""
}

func countNonEmpty(row Row) int {
	n := 0
	for _, cell := range row {
		if !cell.IsEmpty() {
			n++
		}
	}
	return n
}

func isSubtotalRow(row Row) bool {
	joined := foldJoin(row)
	for _, tok := range subtotalTokens {
		if strings.Contains(joined, tok) {
			return true
		}
	}
	return false
}
