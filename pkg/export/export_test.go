package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"p9e.in/wsm/models"
)

var now = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func sample() []models.Project {
	created := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	return []models.Project{
		{ProjectNo: "STD-0001", Variant: models.VariantStandard, Client: "Acme", Site: "Plant 4", Status: models.StatusApproved, CreatedBy: "alice", CreatedAt: created, UpdatedAt: created},
		{ProjectNo: "WHRB-0001", Variant: models.VariantWHRB, Client: "Globex, Inc.", Site: "Harbor", Status: models.StatusSubmitted, CreatedBy: "bob", CreatedAt: created, UpdatedAt: created},
		{ProjectNo: "STD-0002", Variant: models.VariantStandard, Client: "Initech", Site: "HQ", Status: models.StatusSubmitted, CreatedBy: "alice", CreatedAt: created, UpdatedAt: created},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in       string
		expected Format
		wantErr  bool
	}{
		{"", FormatXLSX, false},
		{"xlsx", FormatXLSX, false},
		{"csv", FormatCSV, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, tt.expected, got)
	}
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
}

func TestCSV(t *testing.T) {
	data, err := Write(FormatCSV, "WSM Register", sample(), now)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "Project No", records[0][0])
	assert.Equal(t, "Globex, Inc.", records[2][3])
	assert.Equal(t, "2026-10-01 08:00:00", records[1][7])
}

func TestExcel(t *testing.T) {
	data, err := Write(FormatXLSX, "WSM Register", sample(), now)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())

	v, err := f.GetCellValue(sheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "WSM Register", v)

	v, err = f.GetCellValue(sheetName, "A2")
	require.NoError(t, err)
	assert.Equal(t, "Generated: 2026-10-14 09:30:00", v)

	v, err = f.GetCellValue(sheetName, "F4")
	require.NoError(t, err)
	assert.Equal(t, "Status", v)

	v, err = f.GetCellValue(sheetName, "A6")
	require.NoError(t, err)
	assert.Equal(t, "WHRB-0001", v)

	// summary follows the data after a gap, in workflow order
	v, err = f.GetCellValue(sheetName, "A10")
	require.NoError(t, err)
	assert.Equal(t, "Summary", v)
	v, err = f.GetCellValue(sheetName, "A11")
	require.NoError(t, err)
	assert.Equal(t, "Submitted", v)
	v, err = f.GetCellValue(sheetName, "B11")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	v, err = f.GetCellValue(sheetName, "A12")
	require.NoError(t, err)
	assert.Equal(t, "Approved", v)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "WSM_Register_20261014_093000.xlsx", Filename("WSM Register", FormatXLSX, now))
}
