package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FlowEngine is a low-fidelity converter: it walks the markup, keeps headings,
// paragraphs and table rows, and flows them onto A4 pages. CSS is not applied.
type FlowEngine struct {
	Compress bool
}

func (FlowEngine) Name() string { return "flow" }

func (FlowEngine) Available() bool { return true }

type blockKind int

const (
	blockHeading blockKind = iota
	blockTitle
	blockText
	blockRow
	blockBreak
)

type block struct {
	kind   blockKind
	text   string
	cells  []string
	header bool
}

// diagnostics collects conversion warnings for the conversion log.
type diagnostics struct {
	buf      bytes.Buffer
	skipped  map[string]int
	nonLatin int
}

func (d *diagnostics) printf(level, format string, args ...any) {
	fmt.Fprintf(&d.buf, "%s: "+format+"\n", append([]any{level}, args...)...)
}

func (e FlowEngine) Convert(ctx context.Context, src string) (*Conversion, error) {
	diag := &diagnostics{skipped: map[string]int{}}
	conv := &Conversion{}

	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		diag.printf("error", "parse: %v", err)
		conv.Log = diag.buf.String()
		return conv, errors.Wrap(err, "parse markup")
	}

	var blocks []block
	collect(doc, &blocks, diag)
	tags := make([]string, 0, len(diag.skipped))
	for tag := range diag.skipped {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		diag.printf("warning", "<%s> not supported, %d skipped", tag, diag.skipped[tag])
	}
	diag.printf("info", "%d blocks collected", len(blocks))
	if err := ctx.Err(); err != nil {
		conv.Log = diag.buf.String()
		return conv, err
	}

	text := 0
	for _, b := range blocks {
		if b.kind != blockBreak {
			text++
		}
	}
	if text == 0 {
		diag.printf("error", "document has no renderable content")
		conv.Log = diag.buf.String()
		return conv, errors.New("no renderable content")
	}

	pdf := newA4(e.Compress)
	tr := translator(pdf)
	flow(pdf, tr, blocks, diag)
	if diag.nonLatin > 0 {
		diag.printf("warning", "%d text runs had characters outside Latin-1, replaced with '?'", diag.nonLatin)
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		diag.printf("error", "write pdf: %v", err)
		conv.Log = diag.buf.String()
		return conv, errors.Wrap(err, "write pdf")
	}
	diag.printf("info", "%d pages written", pdf.PageCount())
	conv.PDF = out.Bytes()
	conv.Log = diag.buf.String()
	return conv, nil
}

func collect(n *html.Node, blocks *[]block, diag *diagnostics) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Head, atom.Script, atom.Style, atom.Noscript:
			return
		case atom.Img, atom.Svg, atom.Canvas, atom.Iframe, atom.Object, atom.Video:
			diag.skipped[n.Data]++
			return
		case atom.H1, atom.H2:
			*blocks = append(*blocks, block{kind: blockTitle, text: textOf(n)})
			return
		case atom.H3, atom.H4, atom.H5, atom.H6:
			*blocks = append(*blocks, block{kind: blockHeading, text: textOf(n)})
			return
		case atom.Tr:
			*blocks = append(*blocks, rowOf(n))
			return
		case atom.P, atom.Li:
			*blocks = append(*blocks, block{kind: blockText, text: textOf(n)})
			return
		case atom.Br, atom.Hr:
			*blocks = append(*blocks, block{kind: blockBreak})
			return
		case atom.Div:
			if hasClass(n, "page-break") {
				*blocks = append(*blocks, block{kind: blockBreak, text: "page"})
				return
			}
			if hasClass(n, "section-title") {
				*blocks = append(*blocks, block{kind: blockHeading, text: textOf(n)})
				return
			}
			if !hasBlockChild(n) {
				if t := textOf(n); t != "" {
					*blocks = append(*blocks, block{kind: blockText, text: t})
				}
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, blocks, diag)
	}
}

func rowOf(tr *html.Node) block {
	b := block{kind: blockRow, header: true}
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Th:
			b.cells = append(b.cells, textOf(c))
		case atom.Td:
			b.header = false
			b.cells = append(b.cells, textOf(c))
		}
	}
	return b
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Div, atom.P, atom.Table, atom.Ul, atom.Ol, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Tr:
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

const (
	flowFontSize   = 9.0
	flowLineHeight = 12.0
)

func flow(pdf *fpdf.Fpdf, tr func(string) string, blocks []block, diag *diagnostics) {
	left, top, right, _ := pdf.GetMargins()
	pageW, pageH := pdf.GetPageSize()
	width := pageW - left - right
	bottom := pageH - top

	pdf.AddPage()
	ensure := func(h float64) {
		if pdf.GetY()+h > bottom {
			pdf.AddPage()
		}
	}

	for _, b := range blocks {
		switch b.kind {
		case blockTitle:
			pdf.SetFont("Helvetica", "B", 14)
			ensure(20)
			pdf.MultiCell(width, 18, tr(latin1(b.text, diag)), "B", "C", false)
			pdf.Ln(6)
		case blockHeading:
			pdf.SetFont("Helvetica", "B", 10)
			ensure(24)
			pdf.Ln(4)
			pdf.SetFillColor(240, 240, 240)
			pdf.CellFormat(width, 16, tr(latin1(b.text, diag)), "L", 1, "L", true, 0, "")
			pdf.Ln(2)
		case blockText:
			pdf.SetFont("Helvetica", "", flowFontSize)
			ensure(flowLineHeight)
			pdf.MultiCell(width, flowLineHeight, tr(latin1(b.text, diag)), "", "L", false)
		case blockRow:
			row(pdf, tr, b, left, width, bottom, diag)
		case blockBreak:
			if b.text == "page" {
				pdf.AddPage()
			} else {
				pdf.Ln(flowLineHeight / 2)
			}
		}
	}
}

func row(pdf *fpdf.Fpdf, tr func(string) string, b block, left, width, bottom float64, diag *diagnostics) {
	if len(b.cells) == 0 {
		return
	}
	style := ""
	if b.header {
		style = "B"
	}
	pdf.SetFont("Helvetica", style, flowFontSize)

	cellW := width / float64(len(b.cells))
	lines := make([][]string, len(b.cells))
	maxLines := 1
	for i, c := range b.cells {
		lines[i] = pdf.SplitText(latin1(c, diag), cellW)
		if len(lines[i]) > maxLines {
			maxLines = len(lines[i])
		}
	}
	h := float64(maxLines)*flowLineHeight + 4
	if pdf.GetY()+h > bottom {
		pdf.AddPage()
	}

	y := pdf.GetY()
	for i := range b.cells {
		x := left + float64(i)*cellW
		if b.header {
			pdf.SetFillColor(245, 245, 245)
			pdf.Rect(x, y, cellW, h, "FD")
		} else {
			pdf.Rect(x, y, cellW, h, "D")
		}
		for j, line := range lines[i] {
			pdf.SetXY(x, y+2+float64(j)*flowLineHeight)
			pdf.CellFormat(cellW, flowLineHeight, tr(line), "", 0, "L", false, 0, "")
		}
	}
	pdf.SetXY(left, y+h)
}

// latin1 replaces runes the core fonts cannot measure.
func latin1(s string, diag *diagnostics) string {
	replaced := false
	out := strings.Map(func(r rune) rune {
		if r > 0xff {
			replaced = true
			return '?'
		}
		return r
	}, s)
	if replaced && diag != nil {
		diag.nonLatin++
	}
	return out
}

// newA4 returns an A4 portrait document in points with 0.5in margins.
func newA4(compress bool) *fpdf.Fpdf {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(36, 36, 36)
	pdf.SetAutoPageBreak(true, 36)
	pdf.SetCompression(compress)
	pdf.SetCreator("wsm", true)
	return pdf
}

// translator encodes UTF-8 for the core fonts' cp1252 encoding. Without the
// code page map, Latin-1 passes through and anything else becomes '?'.
func translator(pdf *fpdf.Fpdf) func(string) string {
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	if !pdf.Err() {
		return tr
	}
	pdf.ClearError()
	return func(s string) string {
		b := make([]byte, 0, len(s))
		for _, r := range s {
			if r > 0xff || (r >= 0x80 && r < 0xa0) {
				r = '?'
			}
			b = append(b, byte(r))
		}
		return string(b)
	}
}
