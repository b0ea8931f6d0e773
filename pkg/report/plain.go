package report

import (
	"bytes"

	"github.com/pkg/errors"

	"p9e.in/wsm/utils"
)

// Plain layout constants, in points.
const (
	PlainMargin     = 50.0
	PlainLineHeight = 14.0
	PlainValueLimit = 120
	PlainTitle      = "Project WSM (Plain PDF - Fallback)"
)

// PlainWriter lays out label: value lines with no markup at all. It is the
// last render stage and has no external requirements.
type PlainWriter struct {
	Compress bool
}

// Write paginates lines by vertical space only, starting a new page whenever
// one more line would cross the bottom margin.
func (w PlainWriter) Write(lines []Line) ([]byte, error) {
	pdf := newA4(w.Compress)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(PlainTitle, true)
	tr := translator(pdf)
	_, height := pdf.GetPageSize()

	pdf.AddPage()
	y := PlainMargin
	pdf.SetFont("Helvetica", "B", 14)
	pdf.Text(PlainMargin, y, PlainTitle)
	y += 30

	pdf.SetFont("Helvetica", "", 10)
	for _, l := range lines {
		if y > height-PlainMargin-PlainLineHeight {
			pdf.AddPage()
			pdf.SetFont("Helvetica", "", 10)
			y = PlainMargin
		}
		value := utils.Truncate(l.Value, PlainValueLimit, " ...")
		pdf.Text(PlainMargin, y, tr(l.Label+": "+value))
		y += PlainLineHeight
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, errors.Wrap(err, "write plain pdf")
	}
	return out.Bytes(), nil
}
