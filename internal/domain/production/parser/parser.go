package parser

import "time"

// ParseResult is the outcome of parsing one uploaded file.
type ParseResult struct {
	Signature Signature
	Records   []ProductionRecord
	Outcomes  []RowOutcome

	RowsTotal   int
	RowsSkipped int
	SkipCounts  map[SkipReason]int

	Earliest time.Time
	Latest   time.Time
}

// DistinctDays returns the set of calendar days (YYYY-MM-DD, UTC-naive)
// touched by the accepted records.
func (r *ParseResult) DistinctDays() []string {
	seen := make(map[string]bool)
	days := make([]string, 0, 4)
	for _, rec := range r.Records {
		day := rec.Timestamp.Format("2006-01-02")
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	return days
}

// ParseWorkbook runs the full pipeline over one uploaded file: load, detect
// the format, resolve columns, extract rows. It fails only with a
// classification or missing-columns error; individual bad rows are skipped
// per policy and tallied. The parser performs no I/O and shares no state
// between calls, so files can be processed concurrently.
func ParseWorkbook(data []byte) (*ParseResult, error) {
	wb, err := LoadWorkbook(data)
	if err != nil {
		return nil, err
	}

	sig, err := DetectFormat(wb)
	if err != nil {
		return nil, err
	}

	header := wb.Sheets[sig.SheetIdx].Rows[sig.HeaderRow]
	cols, err := ResolveColumns(sig.Format, header)
	if err != nil {
		return nil, err
	}

	outcomes := ExtractRows(wb, sig, cols)

	result := &ParseResult{
		Signature:  sig,
		Outcomes:   outcomes,
		RowsTotal:  len(outcomes),
		SkipCounts: make(map[SkipReason]int),
	}
	for _, out := range outcomes {
		if !out.Accepted() {
			result.RowsSkipped++
			result.SkipCounts[out.Reason]++
			continue
		}
		rec := *out.Record
		result.Records = append(result.Records, rec)
		if result.Earliest.IsZero() || rec.Timestamp.Before(result.Earliest) {
			result.Earliest = rec.Timestamp
		}
		if rec.Timestamp.After(result.Latest) {
			result.Latest = rec.Timestamp
		}
	}
	return result, nil
}
