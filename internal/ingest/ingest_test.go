package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/celerix-dev/celerix-dca/internal/engine"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

func TestDecode_CSVFlexibleHeaders(t *testing.T) {
	data := "\ufeff case id ,CUSTOMER NAME, Amount ,age\n" +
		"FX-1,Ada Lovelace,\"1,000.50\",10\n" +
		",,,\n" +
		"FX-2,Bob,9000,50.0\n"

	records, err := Decode("Batch.CSV", strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "FX-1", records[0].ID)
	assert.Equal(t, "Ada Lovelace", records[0].CustomerName)
	assert.Equal(t, "1000.5", records[0].Amount.String())
	assert.Equal(t, 10, records[0].Age)
	assert.Equal(t, 50, records[1].Age)
}

func TestDecode_MissingColumn(t *testing.T) {
	_, err := Decode("cases.csv", strings.NewReader("Case ID,Customer Name,Amount\nA,B,1\n"))

	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, schema.ColumnAge, verr.Errors[0].Field)
	assert.Contains(t, err.Error(), schema.ExpectedColumns)
}

func TestDecode_RowErrorsCarryRowNumbers(t *testing.T) {
	data := "Case ID,Customer Name,Amount,Age\n" +
		"A,x,100,1\n" +
		"B,y,lots,2\n" +
		"C,z,5,2.5\n"

	_, err := Decode("cases.csv", strings.NewReader(data))
	var verr *engine.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 2)
	assert.Equal(t, engine.FieldError{Row: 2, Field: schema.ColumnAmount, Message: `"lots" is not a number`}, verr.Errors[0])
	assert.Equal(t, 3, verr.Errors[1].Row)
	assert.Equal(t, schema.ColumnAge, verr.Errors[1].Field)
}

func TestMapRows_AgeOutOfRange(t *testing.T) {
	header := []string{schema.ColumnCaseID, schema.ColumnAmount, schema.ColumnAge}
	for _, age := range []string{"18446744073709551617", "-18446744073709551617", "2147483648"} {
		records, err := MapRows(header, [][]string{{"FX-1", "1000", age}})
		var verr *engine.ValidationError
		require.ErrorAs(t, err, &verr, age)
		assert.Nil(t, records)
		assert.Equal(t, engine.FieldError{Row: 1, Field: schema.ColumnAge, Message: fmt.Sprintf("%q is out of range", age)}, verr.Errors[0])
	}

	records, err := MapRows(header, [][]string{{"FX-1", "1000", "2147483647"}})
	require.NoError(t, err)
	assert.Equal(t, 2147483647, records[0].Age)
}

func TestDecode_UnsupportedAndEmpty(t *testing.T) {
	_, err := Decode("cases.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = Decode("cases.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestDecode_XLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Case ID ", "Customer Name", "AMOUNT", "Age"},
		{"FX-1", "Ada", 1000, 10},
		{"FX-3", "Cy", 50000, 200},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := Decode("upload.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "FX-3", records[1].ID)
	assert.Equal(t, "50000", records[1].Amount.String())
	assert.Equal(t, 200, records[1].Age)
}

func TestDecode_CorruptXLSX(t *testing.T) {
	_, err := Decode("upload.xlsx", strings.NewReader("not a zip"))
	assert.ErrorIs(t, err, engine.ErrValidation)
}
