package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// b2Workbook builds a minimal B2 SCADA workbook with the given data rows
// appended below a standard header.
func b2Workbook(rows ...Row) *Workbook {
	header := textRow("Proizvodni zapis br", "Datum pocetka", "Naziv recepture", "Kolicina",
		"Agregat 1", "Agregat 2", "Cement 1", "Voda", "Kupac", "Vozac")
	all := append([]Row{header}, rows...)
	return singleSheet("Izvjestaj", all...)
}

func extractB2(t *testing.T, rows ...Row) []RowOutcome {
	t.Helper()
	wb := b2Workbook(rows...)
	sig, err := DetectFormat(wb)
	require.NoError(t, err)
	cols, err := ResolveColumns(sig.Format, wb.Sheets[0].Rows[sig.HeaderRow])
	require.NoError(t, err)
	return ExtractRows(wb, sig, cols)
}

func TestExtractRows(t *testing.T) {
	t.Run("accepts a complete row", func(t *testing.T) {
		outcomes := extractB2(t,
			textRow("1001", "15.03.2024 08:30", "MB30", "8.5", "4200", "3100", "2640", "1275", "Gradnja doo", "Emir"),
		)
		require.Len(t, outcomes, 1)
		require.True(t, outcomes[0].Accepted())

		rec := outcomes[0].Record
		assert.Equal(t, PlantBetonara2, rec.Plant)
		assert.Equal(t, int64(1001), rec.RecordNumber)
		assert.Equal(t, time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC), rec.Timestamp)
		assert.Equal(t, "MB30", rec.RecipeName)
		assert.Equal(t, 8.5, rec.TotalQuantityM3)
		assert.Equal(t, 4200.0, rec.MaterialQuantities[FieldAgg1])
		assert.Equal(t, 3100.0, rec.MaterialQuantities[FieldAgg2])
		assert.Equal(t, 2640.0, rec.MaterialQuantities[FieldCem1])
		assert.Equal(t, 1275.0, rec.MaterialQuantities[FieldWater])
		assert.Equal(t, "Gradnja doo", rec.Customer)
		assert.Equal(t, "Emir", rec.Driver)
	})

	t.Run("date carries forward over blank cells", func(t *testing.T) {
		outcomes := extractB2(t,
			textRow("1", "15.03.2024 08:30", "MB30", "8.5", "4200"),
			textRow("2", "", "MB30", "7.0", "3500"),
			textRow("3", "", "MB40", "6.0", "3000"),
		)
		require.Len(t, outcomes, 3)
		want := time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC)
		for i, out := range outcomes {
			require.True(t, out.Accepted(), "row %d", i)
			assert.Equal(t, want, out.Record.Timestamp, "row %d", i)
		}
	})

	t.Run("row before any date is skipped", func(t *testing.T) {
		outcomes := extractB2(t,
			textRow("1", "", "MB30", "8.5", "4200"),
		)
		require.Len(t, outcomes, 1)
		assert.False(t, outcomes[0].Accepted())
		assert.Equal(t, SkipNoDate, outcomes[0].Reason)
	})

	t.Run("subtotal rows yield nothing", func(t *testing.T) {
		outcomes := extractB2(t,
			textRow("UKUPNO", "", "MB30", "120.5", "60000"),
			textRow("", "15.03.2024", "Total March", "240.0", "99000"),
		)
		require.Len(t, outcomes, 2)
		assert.Equal(t, SkipSubtotal, outcomes[0].Reason)
		assert.Equal(t, SkipSubtotal, outcomes[1].Reason)
	})

	t.Run("empty recipe skips the row", func(t *testing.T) {
		outcomes := extractB2(t,
			textRow("1", "15.03.2024", "", "8.5", "4200"),
		)
		assert.Equal(t, SkipEmptyRecipe, outcomes[0].Reason)
	})

	t.Run("non-positive quantity skips the row", func(t *testing.T) {
		outcomes := extractB2(t,
			textRow("1", "15.03.2024", "MB30", "0", "4200"),
			textRow("2", "15.03.2024", "MB30", "-2", "4200"),
			textRow("3", "15.03.2024", "MB30", "", "4200", "", "", "", "x"),
		)
		for i, out := range outcomes {
			assert.Equal(t, SkipZeroQuantity, out.Reason, "row %d", i)
		}
	})

	t.Run("short rows are skipped", func(t *testing.T) {
		outcomes := extractB2(t,
			textRow("", "", ""),
			textRow("1", "note"),
		)
		assert.Equal(t, SkipTooShort, outcomes[0].Reason)
		assert.Equal(t, SkipTooShort, outcomes[1].Reason)
	})

	t.Run("synthetic record number is deterministic", func(t *testing.T) {
		rows := []Row{
			textRow("x", "15.03.2024", "MB30", "8.5", "4200"),
		}
		first := extractB2(t, rows...)
		second := extractB2(t, rows...)
		require.True(t, first[0].Accepted())
		assert.Negative(t, first[0].Record.RecordNumber)
		assert.Equal(t, first[0].Record.RecordNumber, second[0].Record.RecordNumber)
	})
}

func TestExtractRows_MultiColumnAggregation(t *testing.T) {
	// Two physical cement columns folding into the same canonical bucket.
	header := textRow("Proizvodni zapis br", "Datum pocetka", "Naziv recepture", "Kolicina",
		"Cement 1 silos A", "Cement 1 silos B")
	wb := singleSheet("Izvjestaj", header,
		textRow("1", "15.03.2024", "MB30", "8.5", "100", "50"),
	)
	sig, err := DetectFormat(wb)
	require.NoError(t, err)
	cols, err := ResolveColumns(sig.Format, wb.Sheets[0].Rows[0])
	require.NoError(t, err)
	require.Len(t, cols[FieldCem1], 2)

	outcomes := ExtractRows(wb, sig, cols)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Accepted())
	assert.Equal(t, 150.0, outcomes[0].Record.MaterialQuantities[FieldCem1])
}
