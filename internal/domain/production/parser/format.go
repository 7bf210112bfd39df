package parser

import (
	"errors"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Format identifies which of the known export layouts a file uses.
type Format int

const (
	FormatUnknown Format = iota
	FormatB1SCADA        // English/Turkish SCADA export, plant 1
	FormatB2SCADA        // Bosnian SCADA export, plant 2
	FormatB2Legacy       // manually prepared European-format sheet, plant 2
)

func (f Format) String() string {
	switch f {
	case FormatB1SCADA:
		return "b1_scada"
	case FormatB2SCADA:
		return "b2_scada"
	case FormatB2Legacy:
		return "b2_legacy"
	default:
		return "unknown"
	}
}

// Plant is the batching plant a file originates from.
type Plant string

const (
	PlantBetonara1 Plant = "Betonara 1"
	PlantBetonara2 Plant = "Betonara 2"
)

// Signature is the detection result: the layout, the inferred plant and where
// the header row sits. At most one signature is selected per file.
type Signature struct {
	Format    Format
	Plant     Plant
	SheetIdx  int
	SheetName string
	HeaderRow int
}

// ErrFormatNotRecognized is returned when no sheet matches any known header
// signature. Fatal for the file; the uploader has to fix the header row.
var ErrFormatNotRecognized = errors.New("production format not recognized, check header row")

// detectScanLimit bounds how deep into each sheet the detector looks for a
// header row.
const detectScanLimit = 500

// Signature tokens, all pre-folded. Order matters: token index is how matcher
// hits are mapped back to rules.
var detectTokens = []string{
	"production record no",  // 0
	"quantity",              // 1
	"proizvodni zapis br",   // 2
	"naziv recepture",       // 3
	"kolicina proizvedenog", // 4
	"agregat",               // 5
	"recept",                // 6 recipe-like
	"recete",                // 7
	"recipe",                // 8
	"kolicina",              // 9 quantity-like
	"miktar",                // 10
	"vozilo",                // 11 vehicle/start hints
	"vehicle",               // 12
	"start date",            // 13
	"datum pocetka",         // 14
}

var detectMatcher = ahocorasick.NewStringMatcher(detectTokens)

// DetectFormat scans every sheet's leading rows and applies the signature
// rules in fixed priority order. The first matching row across the workbook
// wins. The scan is a pure fold over rows; no state survives outside the
// returned signature.
func DetectFormat(wb *Workbook) (Signature, error) {
	for sheetIdx, sheet := range wb.Sheets {
		limit := len(sheet.Rows)
		if limit > detectScanLimit {
			limit = detectScanLimit
		}
		for rowIdx := 0; rowIdx < limit; rowIdx++ {
			joined := foldJoin(sheet.Rows[rowIdx])
			if joined == "" {
				continue
			}
			hits := hitSet(detectMatcher.Match([]byte(joined)))

			sig, ok := matchSignature(hits, sheet.Name)
			if !ok {
				continue
			}
			sig.SheetIdx = sheetIdx
			sig.SheetName = sheet.Name
			sig.HeaderRow = rowIdx
			return sig, nil
		}
	}
	return Signature{}, ErrFormatNotRecognized
}

// matchSignature applies the priority-ordered signature rules to the token
// hits of one row.
func matchSignature(hits map[int]bool, sheetName string) (Signature, bool) {
	switch {
	case hits[0] && hits[1]:
		return Signature{Format: FormatB1SCADA, Plant: PlantBetonara1}, true
	case hits[2]:
		return Signature{Format: FormatB2SCADA, Plant: PlantBetonara2}, true
	case countHits(hits, 3, 4, 5) >= 2:
		return Signature{Format: FormatB2Legacy, Plant: PlantBetonara2}, true
	}

	// Fallback: a recipe-like plus a quantity-like token. Plant and layout are
	// inferred from sheet-name hints, then from SCADA-only columns.
	recipeLike := hits[6] || hits[7] || hits[8]
	quantityLike := hits[1] || hits[9] || hits[10]
	if !recipeLike || !quantityLike {
		return Signature{}, false
	}

	name := Fold(sheetName)
	switch {
	case strings.Contains(name, "betonara 1") || strings.Contains(name, "b1"):
		return Signature{Format: FormatB1SCADA, Plant: PlantBetonara1}, true
	case strings.Contains(name, "betonara 2") || strings.Contains(name, "b2"):
		return Signature{Format: FormatB2SCADA, Plant: PlantBetonara2}, true
	case hits[11] || hits[12] || hits[13] || hits[14]:
		// Vehicle and start-date columns only appear in SCADA exports.
		return Signature{Format: FormatB1SCADA, Plant: PlantBetonara1}, true
	}
	return Signature{Format: FormatB2Legacy, Plant: PlantBetonara2}, true
}

// foldJoin folds every cell of a row and joins them into one searchable
// string.
func foldJoin(row Row) string {
	parts := make([]string, 0, len(row))
	for _, cell := range row {
		if cell.IsEmpty() {
			continue
		}
		parts = append(parts, Fold(cell.Raw))
	}
	return strings.Join(parts, " ")
}

func hitSet(indices []int) map[int]bool {
	set := make(map[int]bool, len(indices))
	for _, i := range indices {
		set[i] = true
	}
	return set
}

func countHits(hits map[int]bool, indices ...int) int {
	n := 0
	for _, i := range indices {
		if hits[i] {
			n++
		}
	}
	return n
}
