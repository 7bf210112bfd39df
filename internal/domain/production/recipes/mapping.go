// Package recipes rewrites recognized-but-nonstandard recipe names to the
// organization's canonical names and suggests mappings for unknown ones.
package recipes

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/hkurtovic/betonara-erp/internal/domain/production/parser"
)

// Mapper applies a caller-supplied original→canonical table as a pure
// post-pass over parsed records. Absent mappings are a no-op, never an error.
type Mapper struct {
	table map[string]string
}

// NewMapper builds a mapper from the supplied table. Keys are matched on the
// trimmed original name as it appears in source files.
func NewMapper(table map[string]string) *Mapper {
	m := &Mapper{table: make(map[string]string, len(table))}
	for original, canonical := range table {
		original = strings.TrimSpace(original)
		canonical = strings.TrimSpace(canonical)
		if original == "" || canonical == "" {
			continue
		}
		m.table[original] = canonical
	}
	return m
}

// Apply rewrites recipe names in place and returns how many records were
// remapped.
func (m *Mapper) Apply(records []parser.ProductionRecord) int {
	remapped := 0
	for i := range records {
		if canonical, ok := m.table[records[i].RecipeName]; ok {
			records[i].RecipeName = canonical
			remapped++
		}
	}
	return remapped
}

// Unmapped returns the distinct recipe names in records that are neither a
// mapping key nor a canonical name, sorted for stable output. These are the
// names an administrator may still want to map.
func (m *Mapper) Unmapped(records []parser.ProductionRecord) []string {
	canonical := make(map[string]bool, len(m.table))
	for _, c := range m.table {
		canonical[c] = true
	}

	seen := make(map[string]bool)
	var names []string
	for i := range records {
		name := records[i].RecipeName
		if seen[name] || canonical[name] {
			continue
		}
		if _, ok := m.table[name]; ok {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Canonical returns the canonical names known to this mapper, for suggestion
// ranking.
func (m *Mapper) Canonical() []string {
	seen := make(map[string]bool, len(m.table))
	names := make([]string, 0, len(m.table))
	for _, canonical := range m.table {
		if !seen[canonical] {
			seen[canonical] = true
			names = append(names, canonical)
		}
	}
	return names
}

// mappingRow is the CSV upload format administrators maintain.
type mappingRow struct {
	OriginalName  string `csv:"original_name"`
	CanonicalName string `csv:"canonical_name"`
}

// LoadMappingCSV reads an uploaded two-column mapping CSV.
func LoadMappingCSV(r io.Reader) (map[string]string, error) {
	var rows []mappingRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parse mapping csv: %w", err)
	}

	table := make(map[string]string, len(rows))
	for _, row := range rows {
		original := strings.TrimSpace(row.OriginalName)
		canonical := strings.TrimSpace(row.CanonicalName)
		if original == "" || canonical == "" {
			continue
		}
		table[original] = canonical
	}
	return table, nil
}
