package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"citewise/internal/models"
)

type rgb struct{ R, G, B int }

// Theme controls the fonts and colours of PDF exports.
type Theme struct {
	Name    string
	Font    string
	Title   rgb
	Heading rgb
	Body    rgb
	Accent  rgb
}

var themes = map[string]Theme{
	"classic": {Name: "classic", Font: "Times", Title: rgb{20, 20, 20}, Heading: rgb{60, 60, 60}, Body: rgb{30, 30, 30}, Accent: rgb{120, 120, 120}},
	"ocean":   {Name: "ocean", Font: "Helvetica", Title: rgb{16, 64, 120}, Heading: rgb{30, 100, 160}, Body: rgb{35, 45, 55}, Accent: rgb{90, 160, 210}},
	"forest":  {Name: "forest", Font: "Helvetica", Title: rgb{30, 85, 45}, Heading: rgb{55, 115, 60}, Body: rgb{40, 45, 40}, Accent: rgb{130, 180, 110}},
}

// ThemeByName returns the named theme, or classic when the name is unknown.
func ThemeByName(name string) Theme {
	if t, ok := themes[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t
	}
	return themes["classic"]
}

const (
	pageMargin   = 18.0
	bottomMargin = 18.0
	bodySize     = 11.0
	bodyLine     = 5.5
)

// pdfDoc paginates manually: each block measures its wrapped height and
// starts a new page when it would cross the bottom margin.
type pdfDoc struct {
	pdf   *gofpdf.Fpdf
	theme Theme
	tr    func(string) string
	width float64
	limit float64
}

func newPDFDoc(theme Theme, title string) *pdfDoc {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, bottomMargin)
	pdf.SetTitle(title, true)
	pdf.SetCreator("citewise", true)

	d := &pdfDoc{pdf: pdf, theme: theme, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pageW, pageH := pdf.GetPageSize()
	d.width = pageW - 2*pageMargin
	d.limit = pageH - bottomMargin

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(theme.Font, "I", 8)
		d.color(theme.Accent)
		pdf.CellFormat(0, 6, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()
	return d
}

func (d *pdfDoc) color(c rgb) {
	d.pdf.SetTextColor(c.R, c.G, c.B)
}

// ensure starts a new page unless height more millimetres fit.
func (d *pdfDoc) ensure(height float64) {
	if d.pdf.GetY()+height > d.limit {
		d.pdf.AddPage()
	}
}

func (d *pdfDoc) block(text, style string, size, lineH float64, c rgb, indent float64) {
	text = d.tr(strings.TrimSpace(text))
	if text == "" {
		return
	}
	d.pdf.SetFont(d.theme.Font, style, size)
	d.color(c)
	width := d.width - indent
	for _, line := range d.pdf.SplitLines([]byte(text), width) {
		d.ensure(lineH)
		d.pdf.SetX(pageMargin + indent)
		d.pdf.CellFormat(width, lineH, string(line), "", 1, "L", false, 0, "")
	}
}

func (d *pdfDoc) title(s string) {
	d.block(s, "B", 20, 9, d.theme.Title, 0)
	d.rule()
}

func (d *pdfDoc) heading(s string) {
	// Keep a heading together with at least two lines of what follows.
	d.ensure(8 + 3 + 2*bodyLine)
	d.pdf.Ln(3)
	d.block(s, "B", 14, 8, d.theme.Heading, 0)
}

func (d *pdfDoc) paragraph(s string) {
	for _, para := range strings.Split(s, "\n") {
		d.block(para, "", bodySize, bodyLine, d.theme.Body, 0)
	}
	d.pdf.Ln(1.5)
}

func (d *pdfDoc) bullets(items []string) {
	for _, it := range items {
		d.block("- "+it, "", bodySize, bodyLine, d.theme.Body, 4)
	}
}

func (d *pdfDoc) rule() {
	a := d.theme.Accent
	d.pdf.SetDrawColor(a.R, a.G, a.B)
	y := d.pdf.GetY() + 1
	d.pdf.Line(pageMargin, y, pageMargin+d.width, y)
	d.pdf.Ln(4)
}

func (d *pdfDoc) output(w io.Writer) error {
	return d.pdf.Output(w)
}

// WriteQuizPDF renders questions with their options, and the answer key
// when withAnswers is set.
func WriteQuizPDF(w io.Writer, title string, questions []models.Question, theme Theme, withAnswers bool) error {
	d := newPDFDoc(theme, title)
	d.title(title)
	for i, q := range questions {
		d.heading(fmt.Sprintf("Question %d", i+1))
		d.paragraph(q.Text)
		for j, opt := range q.Options {
			d.block(fmt.Sprintf("%s) %s", models.OptionLetter(j), opt), "", bodySize, bodyLine, d.theme.Body, 4)
		}
		if withAnswers {
			d.block("Answer: "+q.CorrectAnswer, "B", bodySize, bodyLine, d.theme.Heading, 0)
			if q.Explanation != "" {
				d.block(q.Explanation, "I", bodySize, bodyLine, d.theme.Body, 0)
			}
		}
	}
	return d.output(w)
}

// WriteFlashcardsPDF renders one heading per card.
func WriteFlashcardsPDF(w io.Writer, title string, cards []models.Flashcard, theme Theme) error {
	d := newPDFDoc(theme, title)
	d.title(title)
	for i, c := range cards {
		d.heading(fmt.Sprintf("%d. %s", i+1, c.Front))
		if c.Category != "" {
			d.block(c.Category, "I", 9, 4.5, d.theme.Accent, 0)
		}
		d.paragraph(c.Back)
	}
	return d.output(w)
}

// WriteSummaryPDF renders a summary. Markdown headings and bullets are kept
// as structure; other markup is printed as-is.
func WriteSummaryPDF(w io.Writer, title, summary string, theme Theme) error {
	d := newPDFDoc(theme, title)
	d.title(title)
	for _, line := range strings.Split(summary, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			d.pdf.Ln(2)
		case strings.HasPrefix(trimmed, "#"):
			d.heading(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
		case strings.HasPrefix(trimmed, "- "), strings.HasPrefix(trimmed, "* "):
			d.bullets([]string{trimmed[2:]})
		default:
			d.block(trimmed, "", bodySize, bodyLine, d.theme.Body, 0)
		}
	}
	return d.output(w)
}

// WriteCareerReportPDF renders the resume pipeline output.
func WriteCareerReportPDF(w io.Writer, r *models.CareerReport, theme Theme) error {
	a := r.Analysis
	d := newPDFDoc(theme, "Career Report")
	d.title("Career Report")

	d.heading("Resume Analysis")
	d.paragraph(a.Summary)
	d.block(fmt.Sprintf("Overall %d/100   ATS %d   Content %d   Formatting %d   Keywords %d   Experience %d",
		a.Scores.Overall, a.Scores.ATS, a.Scores.Content, a.Scores.Formatting, a.Scores.Keywords, a.Scores.Experience),
		"B", bodySize, bodyLine, d.theme.Heading, 0)

	for _, sec := range []struct {
		label string
		items []string
	}{
		{"Technical skills", a.Skills.Technical},
		{"Soft skills", a.Skills.Soft},
		{"Skills to develop", a.Skills.Missing},
		{"Strengths", a.Strengths},
		{"Weaknesses", a.Weaknesses},
	} {
		if len(sec.items) == 0 {
			continue
		}
		d.heading(sec.label)
		d.bullets(sec.items)
	}

	if len(a.Recommendations) > 0 {
		d.heading("Recommendations")
		for _, rec := range a.Recommendations {
			d.bullets([]string{fmt.Sprintf("%s: %s", rec.Area, rec.Suggestion)})
		}
	}

	d.heading("Tailored Resume")
	d.paragraph(r.TailoredResume)

	d.heading("Project Suggestions")
	for _, p := range r.Projects {
		d.block(p.Title, "B", bodySize, bodyLine, d.theme.Body, 0)
		d.paragraph(p.Description)
		if len(p.Technologies) > 0 {
			d.block("Technologies: "+strings.Join(p.Technologies, ", "), "I", 9, 4.5, d.theme.Accent, 0)
		}
	}

	d.heading("Interview Questions")
	for i, q := range r.InterviewQuestions {
		d.block(fmt.Sprintf("%d. %s", i+1, q.Question), "", bodySize, bodyLine, d.theme.Body, 0)
		if q.Tips != "" {
			d.block("Tip: "+q.Tips, "I", 9, 4.5, d.theme.Accent, 4)
		}
	}
	return d.output(w)
}
