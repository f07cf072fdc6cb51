package publisher

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Layout of the original report: A4, Courier 10 on 5 mm lines.
const (
	pageBreakMargin = 15.0
	bodyFont        = "Courier"
	bodySize        = 10.0
	lineHeight      = 5.0
	headingFont     = "Helvetica"
	listIndent      = 6.0
)

var headingSizes = map[int]float64{1: 16, 2: 14, 3: 12, 4: 11, 5: 11, 6: 10}

// RenderError wraps a failure to produce the report bytes.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return "render report: " + e.Err.Error() }

func (e *RenderError) Unwrap() error { return e.Err }

// Rendered is a report document.
type Rendered struct {
	Data  []byte
	Pages int
}

// RendererOptions configures the report layout.
type RendererOptions struct {
	// Markdown lays out headings, lists and code blocks; otherwise every
	// line of the narrative is written as-is.
	Markdown bool
	Title    string
	Creator  string
}

// Renderer turns a narrative into PDF bytes.
type Renderer struct {
	opts RendererOptions
	md   goldmark.Markdown
}

func NewRenderer(opts RendererOptions) *Renderer {
	if opts.Title == "" {
		opts.Title = "DDS Review"
	}
	if opts.Creator == "" {
		opts.Creator = "dds-review-service"
	}
	return &Renderer{opts: opts, md: goldmark.New()}
}

// Render lays out narrative on as many pages as needed. at stamps the
// document dates so identical input yields identical bytes.
func (r *Renderer) Render(narrative string, at time.Time) (Rendered, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(at)
	pdf.SetModificationDate(at)
	pdf.SetTitle(r.opts.Title, true)
	pdf.SetCreator(r.opts.Creator, true)
	pdf.SetAutoPageBreak(true, pageBreakMargin)
	pdf.AddPage()
	pdf.SetFont(bodyFont, "", bodySize)

	w := &writer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	if r.opts.Markdown {
		src := []byte(narrative)
		pc := parser.NewContext()
		doc := r.md.Parser().Parse(text.NewReader(src), parser.WithContext(pc))
		w.blocks(doc, src, 0)
		w.references(pc.References(), src)
	} else {
		for _, line := range strings.Split(narrative, "\n") {
			w.line(line)
		}
	}

	if err := pdf.Error(); err != nil {
		return Rendered{}, &RenderError{Err: err}
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Rendered{}, &RenderError{Err: err}
	}
	return Rendered{Data: buf.Bytes(), Pages: pdf.PageCount()}, nil
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (w *writer) line(s string) {
	if strings.TrimSpace(s) == "" {
		w.pdf.Ln(lineHeight)
		return
	}
	w.pdf.MultiCell(0, lineHeight, w.tr(s), "", "L", false)
}

// indented writes s with a hanging marker, e.g. "1. " or "- ".
func (w *writer) indented(depth int, marker, s string) {
	left, _, _, _ := w.pdf.GetMargins()
	x := left + float64(depth)*listIndent
	pageW, _ := w.pdf.GetPageSize()
	_, _, right, _ := w.pdf.GetMargins()
	markerW := w.pdf.GetStringWidth(marker) + 1

	w.pdf.SetX(x)
	w.pdf.CellFormat(markerW, lineHeight, w.tr(marker), "", 0, "L", false, 0, "")
	w.pdf.MultiCell(pageW-right-x-markerW, lineHeight, w.tr(s), "", "L", false)
}

func (w *writer) blocks(parent ast.Node, src []byte, depth int) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			size := headingSizes[node.Level]
			w.pdf.Ln(lineHeight / 2)
			w.pdf.SetFont(headingFont, "B", size)
			w.pdf.MultiCell(0, size*0.5, w.tr(inlineText(node, src)), "", "L", false)
			w.pdf.SetFont(bodyFont, "", bodySize)
			w.pdf.Ln(lineHeight / 2)
		case *ast.Paragraph, *ast.TextBlock:
			for _, l := range strings.Split(inlineText(node, src), "\n") {
				if depth > 0 {
					w.indented(depth, "", l)
				} else {
					w.line(l)
				}
			}
			if _, ok := node.(*ast.Paragraph); ok && depth == 0 {
				w.pdf.Ln(lineHeight / 2)
			}
		case *ast.List:
			w.list(node, src, depth)
			if depth == 0 {
				w.pdf.Ln(lineHeight / 2)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				w.line(strings.TrimRight(string(seg.Value(src)), "\r\n"))
			}
			w.pdf.Ln(lineHeight / 2)
		case *ast.ThematicBreak:
			left, _, right, _ := w.pdf.GetMargins()
			pageW, _ := w.pdf.GetPageSize()
			y := w.pdf.GetY() + lineHeight/2
			w.pdf.Line(left, y, pageW-right, y)
			w.pdf.Ln(lineHeight)
		case *ast.Blockquote:
			w.blocks(node, src, depth+1)
		default:
			w.blocks(node, src, depth)
		}
	}
}

func (w *writer) list(l *ast.List, src []byte, depth int) {
	num := l.Start
	if num == 0 {
		num = 1
	}
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = strconv.Itoa(num) + ". "
			num++
		}
		first := true
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			switch c.(type) {
			case *ast.Paragraph, *ast.TextBlock:
				m := marker
				if !first {
					m = strings.Repeat(" ", len(marker))
				}
				w.indented(depth, m, inlineText(c, src))
				first = false
			case *ast.List:
				w.list(c.(*ast.List), src, depth+1)
			default:
				w.blocks(c, src, depth+1)
			}
		}
		if first {
			w.indented(depth, marker, "")
		}
	}
}

// references writes link reference definitions, which the parser lifts
// out of the document tree, in the order they appear in src.
func (w *writer) references(refs []parser.Reference, src []byte) {
	if len(refs) == 0 {
		return
	}
	pos := func(r parser.Reference) int {
		if i := bytes.Index(src, []byte("["+string(r.Label())+"]:")); i >= 0 {
			return i
		}
		return len(src)
	}
	sort.SliceStable(refs, func(i, j int) bool {
		pi, pj := pos(refs[i]), pos(refs[j])
		if pi != pj {
			return pi < pj
		}
		return string(refs[i].Label()) < string(refs[j].Label())
	})
	for _, r := range refs {
		l := fmt.Sprintf("[%s]: %s", r.Label(), r.Destination())
		if len(r.Title()) > 0 {
			l += fmt.Sprintf(" %q", r.Title())
		}
		w.line(l)
	}
}

// inlineText flattens the inline children of a block to plain text. Link
// and image destinations follow their text in parentheses.
func inlineText(n ast.Node, src []byte) string {
	var (
		sb     strings.Builder
		starts []int
	)
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if dest, ok := linkDestination(c); ok {
			if entering {
				starts = append(starts, sb.Len())
				return ast.WalkContinue, nil
			}
			start := starts[len(starts)-1]
			starts = starts[:len(starts)-1]
			if d := string(dest); d != "" && strings.TrimSpace(sb.String()[start:]) != d {
				sb.WriteString(" (" + d + ")")
			}
			return ast.WalkContinue, nil
		}
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			switch {
			case t.HardLineBreak():
				sb.WriteByte('\n')
			case t.SoftLineBreak():
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.AutoLink:
			sb.Write(t.URL(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			for i := 0; i < t.Segments.Len(); i++ {
				seg := t.Segments.At(i)
				sb.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func linkDestination(n ast.Node) ([]byte, bool) {
	switch t := n.(type) {
	case *ast.Link:
		return t.Destination, true
	case *ast.Image:
		return t.Destination, true
	}
	return nil, false
}

// ArtifactName is the report file name for a batch run at at.
func ArtifactName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s.pdf", prefix, at.Format("2006-01-02_1504"))
}
