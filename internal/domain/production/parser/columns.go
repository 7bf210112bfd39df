package parser

import (
	"fmt"
	"sort"
	"strings"
)

// FieldKey is a canonical field name that one or more physical columns fold
// into.
type FieldKey string

const (
	FieldRecordNo FieldKey = "record_no"
	FieldDate     FieldKey = "datum"
	FieldRecipe   FieldKey = "recept"
	FieldQuantity FieldKey = "kolicina_m3"

	FieldAgg1 FieldKey = "agg1_kg"
	FieldAgg2 FieldKey = "agg2_kg"
	FieldAgg3 FieldKey = "agg3_kg"
	FieldAgg4 FieldKey = "agg4_kg"

	FieldCem1 FieldKey = "cem1_kg"
	FieldCem2 FieldKey = "cem2_kg"
	FieldCem3 FieldKey = "cem3_kg"

	FieldAdditive1 FieldKey = "aditiv1_kg"
	FieldAdditive2 FieldKey = "aditiv2_kg"
	FieldWater     FieldKey = "voda_l"

	FieldCustomer FieldKey = "kupac"
	FieldJobsite  FieldKey = "gradiliste"
	FieldDriver   FieldKey = "vozac"
	FieldVehicle  FieldKey = "vozilo"
)

// IsMaterial reports whether the key is a weight/volume bucket whose mapped
// columns are summed.
func (k FieldKey) IsMaterial() bool {
	return strings.HasSuffix(string(k), "_kg") || strings.HasSuffix(string(k), "_l")
}

// mandatoryKeys must each resolve to at least one column or the whole parse
// fails.
var mandatoryKeys = []FieldKey{FieldRecipe, FieldQuantity, FieldDate}

// strictKeys require exact header equality (or a prefix match up to an
// opening parenthesis, to admit unit suffixes). This keeps "Quantity" from
// matching a "Quantity Deviation" column.
var strictKeys = map[FieldKey]bool{
	FieldRecordNo: true,
	FieldDate:     true,
	FieldRecipe:   true,
	FieldQuantity: true,
}

// denyTokens mark target/planned/deviation/error columns across the three
// source languages. Any header containing one is excluded regardless of key.
var denyTokens = []string{
	"target", "zadano", "cilj", "plan",
	"deviation", "odstupanje", "sapma", "fark",
	"error", "greska", "hata",
}

// SynonymTable maps canonical field keys to recognized header substrings for
// one format. Static; built once at package init.
type SynonymTable map[FieldKey][]string

var synonymsByFormat = map[Format]SynonymTable{
	FormatB1SCADA: {
		FieldRecordNo:  {"production record no", "record no", "kayit no"},
		FieldDate:      {"start date", "date", "tarih", "baslangic tarihi"},
		FieldRecipe:    {"recipe", "recipe name", "recete", "recete adi"},
		FieldQuantity:  {"quantity", "miktar"},
		FieldAgg1:      {"agg 1", "agg1", "aggregate 1"},
		FieldAgg2:      {"agg 2", "agg2", "aggregate 2"},
		FieldAgg3:      {"agg 3", "agg3", "aggregate 3"},
		FieldAgg4:      {"agg 4", "agg4", "aggregate 4"},
		FieldCem1:      {"cem 1", "cem1", "cement 1", "cimento 1"},
		FieldCem2:      {"cem 2", "cem2", "cement 2", "cimento 2"},
		FieldCem3:      {"cem 3", "cem3", "cement 3", "cimento 3"},
		FieldAdditive1: {"adm 1", "adm1", "additive 1", "katki 1"},
		FieldAdditive2: {"adm 2", "adm2", "additive 2", "katki 2"},
		FieldWater:     {"water", "su"},
		FieldCustomer:  {"customer", "musteri"},
		FieldJobsite:   {"jobsite", "site", "santiye"},
		FieldDriver:    {"driver", "sofor"},
		FieldVehicle:   {"vehicle", "truck", "arac", "plaka"},
	},
	FormatB2SCADA: {
		FieldRecordNo:  {"proizvodni zapis br", "zapis br"},
		FieldDate:      {"datum pocetka", "datum", "pocetak"},
		FieldRecipe:    {"naziv recepture", "receptura", "recept", "recete"},
		FieldQuantity:  {"kolicina", "proizvedena kolicina"},
		FieldAgg1:      {"agregat 1", "agg 1", "frakcija 1"},
		FieldAgg2:      {"agregat 2", "agg 2", "frakcija 2"},
		FieldAgg3:      {"agregat 3", "agg 3", "frakcija 3"},
		FieldAgg4:      {"agregat 4", "agg 4", "frakcija 4"},
		FieldCem1:      {"cement 1", "cem 1"},
		FieldCem2:      {"cement 2", "cem 2"},
		FieldCem3:      {"cement 3", "cem 3"},
		FieldAdditive1: {"aditiv 1", "dodatak 1"},
		FieldAdditive2: {"aditiv 2", "dodatak 2"},
		FieldWater:     {"voda"},
		FieldCustomer:  {"kupac", "narucilac"},
		FieldJobsite:   {"gradiliste", "objekat"},
		FieldDriver:    {"vozac"},
		FieldVehicle:   {"vozilo", "kamion", "mikser"},
	},
	FormatB2Legacy: {
		FieldRecordNo: {"rb", "redni broj", "br"},
		FieldDate:     {"datum"},
		FieldRecipe:   {"naziv recepture", "receptura", "marka betona", "recept"},
		FieldQuantity: {"kolicina proizvedenog", "kolicina"},
		// The legacy sheet splits aggregate across several unnumbered columns;
		// they all fold into the first bucket.
		FieldAgg1:      {"agregat", "frakcija"},
		FieldCem1:      {"cement"},
		FieldAdditive1: {"aditiv", "dodatak"},
		FieldWater:     {"voda"},
		FieldCustomer:  {"kupac"},
		FieldJobsite:   {"gradiliste", "objekat"},
		FieldDriver:    {"vozac"},
		FieldVehicle:   {"vozilo", "kamion"},
	},
}

// ColumnIndexMap maps canonical keys to the ordered column indices matched in
// the header row. Several physical columns may fold into one key.
type ColumnIndexMap map[FieldKey][]int

// MissingColumnsError reports mandatory keys that resolved to no column.
type MissingColumnsError struct {
	Format Format
	Fields []FieldKey
}

func (e *MissingColumnsError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = string(f)
	}
	return fmt.Sprintf("format %s: required columns not found: %s", e.Format, strings.Join(names, ", "))
}

// ResolveColumns matches the format's synonym table against the header row and
// builds the column index map for this file.
func ResolveColumns(format Format, header Row) (ColumnIndexMap, error) {
	table, ok := synonymsByFormat[format]
	if !ok {
		return nil, fmt.Errorf("no synonym table for format %s", format)
	}

	folded := make([]string, len(header))
	for i, cell := range header {
		folded[i] = Fold(cell.Raw)
	}

	cols := make(ColumnIndexMap, len(table))
	for key, synonyms := range table {
		for idx, h := range folded {
			if h == "" || isDenied(h) {
				continue
			}
			if matchesKey(key, h, synonyms) {
				cols[key] = append(cols[key], idx)
			}
		}
	}

	var missing []FieldKey
	for _, key := range mandatoryKeys {
		if len(cols[key]) == 0 {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, &MissingColumnsError{Format: format, Fields: missing}
	}
	return cols, nil
}

func matchesKey(key FieldKey, header string, synonyms []string) bool {
	if strictKeys[key] {
		return matchStrict(header, synonyms)
	}
	for _, syn := range synonyms {
		if strings.Contains(header, syn) {
			return true
		}
	}
	return false
}

// matchStrict accepts exact equality or equality of the part before an
// opening parenthesis, so "quantity (m3)" matches "quantity" while
// "quantity target (m3)" does not.
func matchStrict(header string, synonyms []string) bool {
	header = strings.TrimRight(header, ".:")
	trimmed := header
	if i := strings.IndexByte(trimmed, '('); i >= 0 {
		trimmed = strings.TrimSpace(trimmed[:i])
	}
	for _, syn := range synonyms {
		if header == syn || trimmed == syn {
			return true
		}
	}
	return false
}

func isDenied(header string) bool {
	for _, tok := range denyTokens {
		if strings.Contains(header, tok) {
			return true
		}
	}
	return false
}
