package parser

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks after NFD decomposition, which folds
// č/ć/š/ž/ç/ğ/ö/ü and friends down to ASCII.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldReplacer covers letters that have no combining-mark decomposition.
var foldReplacer = strings.NewReplacer(
	"đ", "d", "Đ", "d",
	"ı", "i", "İ", "i",
	"ß", "ss",
)

// Fold lowercases, trims and diacritic-folds a string for header and token
// comparison. "Reçete" and "KOLIČINA " both fold to plain ASCII.
func Fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	folded = foldReplacer.Replace(folded)
	return strings.ToLower(strings.TrimSpace(folded))
}

// ParseLocaleNumber interprets a raw cell as a number under the conventions of
// the given format. SCADA exports use a dot decimal point with optional comma
// thousands separators; the legacy manual format is European, with dot
// thousands separators and a comma decimal point. Malformed values degrade to
// zero, never an error — the row extractor's business rules decide whether
// that skips the row.
func ParseLocaleNumber(raw string, format Format) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	// Keep digits, separators and sign only; drops unit suffixes like "m3".
	s = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' || r == ',' || r == '-' {
			return r
		}
		return -1
	}, s)
	if s == "" || s == "-" {
		return 0
	}

	if format == FormatB2Legacy {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n
}

// flexibleDateLayouts is the textual fallback order for cells that were not
// already tagged as dates at load time.
var flexibleDateLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02.01.2006",
	"2006-01-02",
	"02-01-2006",
}

// ParseFlexibleDate resolves a cell to a timestamp. Date-tagged cells pass
// through; numeric cells are treated as Excel serial dates; text cells are
// tried against the known textual layouts. The second return is false when no
// interpretation succeeds — the caller decides the fallback policy.
func ParseFlexibleDate(cell Cell) (time.Time, bool) {
	switch cell.Kind {
	case CellDate:
		return cell.Date, true
	case CellNumber:
		if t, ok := fromExcelSerial(cell.Number); ok {
			return t, true
		}
		return time.Time{}, false
	case CellText:
		s := strings.TrimSpace(cell.Raw)
		for _, layout := range flexibleDateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// fromExcelSerial converts an Excel serial day number to a timestamp. Serials
// below ~1990 or far in the future are rejected so plain quantities are never
// mistaken for dates.
func fromExcelSerial(serial float64) (time.Time, bool) {
	if serial < 32874 || serial > 80000 { // 1990-01-01 .. 2119-01-29
		return time.Time{}, false
	}
	epoch := time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)
	days := int(serial)
	frac := serial - float64(days)
	t := epoch.AddDate(0, 0, days).Add(time.Duration(frac * 24 * float64(time.Hour)))
	return t.Round(time.Second), true
}
