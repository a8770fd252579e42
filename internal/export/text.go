// Package export renders generated study material as downloadable files.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"citewise/internal/models"
)

// WriteFlashcardsCSV writes a Category,Question,Answer table. Every field
// is quoted and embedded quotes are doubled.
func WriteFlashcardsCSV(w io.Writer, cards []models.Flashcard) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("Category,Question,Answer\n")
	for _, c := range cards {
		fmt.Fprintf(bw, "%s,%s,%s\n", quoteField(c.Category), quoteField(c.Front), quoteField(c.Back))
	}
	return bw.Flush()
}

func quoteField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteCareerReport writes the resume pipeline output as plain text.
func WriteCareerReport(w io.Writer, r *models.CareerReport) error {
	bw := bufio.NewWriter(w)
	a := r.Analysis

	section(bw, "RESUME ANALYSIS")
	fmt.Fprintf(bw, "%s\n\n", a.Summary)
	fmt.Fprintf(bw, "Overall score: %d/100\n", a.Scores.Overall)
	fmt.Fprintf(bw, "ATS: %d  Content: %d  Formatting: %d  Keywords: %d  Experience: %d\n",
		a.Scores.ATS, a.Scores.Content, a.Scores.Formatting, a.Scores.Keywords, a.Scores.Experience)

	list(bw, "Technical skills", a.Skills.Technical)
	list(bw, "Soft skills", a.Skills.Soft)
	list(bw, "Skills to develop", a.Skills.Missing)
	list(bw, "Strengths", a.Strengths)
	list(bw, "Weaknesses", a.Weaknesses)

	if len(a.Recommendations) > 0 {
		fmt.Fprintf(bw, "\nRecommendations:\n")
		for _, rec := range a.Recommendations {
			prio := ""
			if rec.Priority != "" {
				prio = " [" + rec.Priority + "]"
			}
			fmt.Fprintf(bw, "  - %s%s: %s\n", rec.Area, prio, rec.Suggestion)
		}
	}
	if len(a.CareerPaths) > 0 {
		fmt.Fprintf(bw, "\nCareer paths:\n")
		for _, p := range a.CareerPaths {
			fmt.Fprintf(bw, "  - %s (fit %d%%)\n", p.Title, p.Fit)
			for _, s := range p.NextSteps {
				fmt.Fprintf(bw, "      * %s\n", s)
			}
		}
	}

	section(bw, "TAILORED RESUME")
	fmt.Fprintf(bw, "%s\n", strings.TrimSpace(r.TailoredResume))

	section(bw, "PROJECT SUGGESTIONS")
	for i, p := range r.Projects {
		fmt.Fprintf(bw, "%d. %s", i+1, p.Title)
		if p.Difficulty != "" {
			fmt.Fprintf(bw, " (%s)", p.Difficulty)
		}
		fmt.Fprintf(bw, "\n   %s\n", p.Description)
		if len(p.Technologies) > 0 {
			fmt.Fprintf(bw, "   Technologies: %s\n", strings.Join(p.Technologies, ", "))
		}
	}

	section(bw, "INTERVIEW QUESTIONS")
	for i, q := range r.InterviewQuestions {
		fmt.Fprintf(bw, "%d. [%s] %s\n", i+1, q.Category, q.Question)
		if q.Tips != "" {
			fmt.Fprintf(bw, "   Tip: %s\n", q.Tips)
		}
	}
	return bw.Flush()
}

func section(w *bufio.Writer, title string) {
	fmt.Fprintf(w, "\n%s\n%s\n\n", title, strings.Repeat("=", len(title)))
}

func list(w *bufio.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", label)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}
