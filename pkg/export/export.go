// Package export writes the project register as a spreadsheet or CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"p9e.in/wsm/models"
	"p9e.in/wsm/pkg/apperr"
	"p9e.in/wsm/pkg/workflow"
	"p9e.in/wsm/utils"
)

// Format is an export file type.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "xlsx" (also the default) and "csv".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "xlsx", "excel":
		return FormatXLSX, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", apperr.NewValidation(apperr.Violation{
		Field:   "format",
		Reason:  apperr.ReasonNotAllowed,
		Message: fmt.Sprintf("unsupported export format %q, use xlsx or csv", s),
	})
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Column is one register column.
type Column struct {
	Label string
	Width float64
	value func(p *models.Project) string
}

// Columns of the project register, in order.
var Columns = []Column{
	{"Project No", 14, func(p *models.Project) string { return p.ProjectNo }},
	{"Variant", 14, func(p *models.Project) string { return string(p.Variant) }},
	{"Boiler Type", 20, func(p *models.Project) string { return p.BoilerType }},
	{"Client", 24, func(p *models.Project) string { return p.Client }},
	{"Site", 24, func(p *models.Project) string { return p.Site }},
	{"Status", 28, func(p *models.Project) string { return string(p.Status) }},
	{"Created By", 16, func(p *models.Project) string { return p.CreatedBy }},
	{"Created At", 20, func(p *models.Project) string { return utils.FormatTime(p.CreatedAt) }},
	{"Updated At", 20, func(p *models.Project) string { return utils.FormatTime(p.UpdatedAt) }},
}

// Record returns the register row of p.
func Record(p *models.Project) []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = c.value(p)
	}
	return out
}

// Write renders the register in the requested format.
func Write(format Format, title string, projects []models.Project, now time.Time) ([]byte, error) {
	if format == FormatCSV {
		return CSV(projects)
	}
	f, err := Excel(title, projects, now)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename is "<title>_<timestamp>.<ext>" with unsafe characters replaced.
func Filename(title string, format Format, now time.Time) string {
	return fmt.Sprintf("%s_%s.%s", utils.SanitizeFilename(title), now.Format("20060102_150405"), format)
}

const (
	sheetName = "Projects"
	headerRow = 4
)

// Excel builds the register workbook: title, generation time, a styled header
// on row 4, one row per project and a per-status summary.
func Excel(title string, projects []models.Project, now time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)

	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 16},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}
	f.SetCellValue(sheetName, "A1", title)
	f.SetCellStyle(sheetName, "A1", "A1", titleStyle)
	f.SetRowHeight(sheetName, 1, 30)
	f.SetCellValue(sheetName, "A2", fmt.Sprintf("Generated: %s", now.Format(utils.TimestampLayout)))

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    borders("000000"),
	})
	if err != nil {
		return nil, err
	}
	for i, c := range Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetCellValue(sheetName, cell, c.Label)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
		f.SetColWidth(sheetName, col, col, c.Width)
	}

	dataStyle, err := f.NewStyle(&excelize.Style{Border: borders("CCCCCC")})
	if err != nil {
		return nil, err
	}
	for r := range projects {
		row := headerRow + 1 + r
		rec := Record(&projects[r])
		values := make([]any, len(rec))
		for i, v := range rec {
			values[i] = v
		}
		if err := f.SetSheetRow(sheetName, mustCell(1, row), &values); err != nil {
			return nil, err
		}
		f.SetCellStyle(sheetName, mustCell(1, row), mustCell(len(Columns), row), dataStyle)
	}

	summaryStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E7E6E6"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}
	row := headerRow + len(projects) + 3
	f.SetCellValue(sheetName, mustCell(1, row), "Summary")
	f.SetCellStyle(sheetName, mustCell(1, row), mustCell(2, row), summaryStyle)
	for _, s := range summary(projects) {
		row++
		f.SetCellValue(sheetName, mustCell(1, row), s.status)
		f.SetCellValue(sheetName, mustCell(2, row), s.count)
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	return f, nil
}

// CSV writes a header line and one record per project.
func CSV(projects []models.Project) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(Columns))
	for i, c := range Columns {
		header[i] = c.Label
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for i := range projects {
		if err := w.Write(Record(&projects[i])); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

type statusCount struct {
	status string
	count  int
}

// summary counts projects per status in workflow order, skipping empty statuses.
func summary(projects []models.Project) []statusCount {
	counts := map[models.Status]int{}
	for _, p := range projects {
		counts[p.Status]++
	}
	var out []statusCount
	for _, s := range workflow.States() {
		if counts[s] > 0 {
			out = append(out, statusCount{string(s), counts[s]})
		}
	}
	return out
}

func borders(color string) []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: color, Style: 1},
		{Type: "right", Color: color, Style: 1},
		{Type: "top", Color: color, Style: 1},
		{Type: "bottom", Color: color, Style: 1},
	}
}

func mustCell(col, row int) string {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		panic(err)
	}
	return cell
}
