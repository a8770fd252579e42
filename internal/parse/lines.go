package parse

import (
	"regexp"
	"strings"

	"citewise/internal/models"
)

type lineState int

const (
	awaitingQuestion lineState = iota
	readingOptions
	awaitingAnswer
	readingExplanation
)

var (
	questionHeader = regexp.MustCompile(`(?i)^question\s*\d+\s*[:.]\s*(.*)$`)
	optionLine     = regexp.MustCompile(`^\(?([A-D])[).]\s*(.*)$`)
	answerLine     = regexp.MustCompile(`(?i)^(?:correct\s*)?answer\b[\s:=\-]*(.*)$`)
	explanationRe  = regexp.MustCompile(`(?i)^explanation\b[\s:=\-]*(.*)$`)
	answerLetter   = regexp.MustCompile(`\b([A-D])\b`)
	headingMarker  = regexp.MustCompile(`^#+\s*`)
	bulletMarker   = regexp.MustCompile(`^[-*•]\s+`)

	// Inline correctness markers on option lines.
	inlineCorrect = regexp.MustCompile(`(?i)\s*(?:\(\s*correct(?:\s+answer)?\s*\)|\[\s*correct(?:\s+answer)?\s*\]|\*{1,2}\s*correct(?:\s+answer)?\s*\*{1,2}|✓|✔|\s[-–]\s*correct(?:\s+answer)?\s*$)`)
)

// LineStats reports how many question blocks were seen and how many of them
// were dropped as incomplete.
type LineStats struct {
	Blocks  int
	Dropped int
}

type questionDraft struct {
	text        string
	options     [4]string
	present     [4]bool
	last        int
	answer      string
	inline      string
	explanation string
}

// ParseQuestions reads the "Question N:" line grammar and returns every
// complete question in input order.
func ParseQuestions(text string) []models.Question {
	questions, _ := ParseQuestionsWithStats(text)
	return questions
}

// ParseQuestionsWithStats is ParseQuestions plus block counts.
//
// An explicit answer line takes precedence over an inline marker. Missing
// option letters are closed up and the answer re-lettered; a question whose
// answer names a missing option is dropped.
func ParseQuestionsWithStats(text string) ([]models.Question, LineStats) {
	var (
		out   []models.Question
		stats LineStats
		cur   *questionDraft
		state = awaitingQuestion
	)

	flush := func() {
		if cur == nil {
			return
		}
		if q, ok := cur.finish(); ok {
			out = append(out, q)
		} else {
			stats.Dropped++
		}
		cur = nil
	}

	for _, rawLine := range strings.Split(text, "\n") {
		raw := strings.TrimSpace(rawLine)
		if raw == "" {
			continue
		}

		annotated := inlineCorrect.MatchString(raw)
		line := cleanMarkdown(raw)
		if line == "" {
			continue
		}

		if m := questionHeader.FindStringSubmatch(line); m != nil {
			flush()
			stats.Blocks++
			cur = &questionDraft{text: strings.TrimSpace(m[1]), last: -1}
			state = readingOptions
			continue
		}
		if cur == nil {
			continue
		}

		if m := answerLine.FindStringSubmatch(line); m != nil {
			if letter := pickLetter(m[1]); letter != "" {
				cur.answer = letter
			}
			state = awaitingAnswer
			continue
		}

		if m := explanationRe.FindStringSubmatch(line); m != nil {
			cur.explanation = strings.TrimSpace(m[1])
			state = readingExplanation
			continue
		}

		if state != readingExplanation {
			if annotated {
				line = cleanMarkdown(inlineCorrect.ReplaceAllString(raw, ""))
			}
			if m := optionLine.FindStringSubmatch(line); m != nil {
				idx := models.OptionIndex(m[1])
				if !cur.present[idx] {
					cur.options[idx] = strings.TrimSpace(m[2])
					cur.present[idx] = true
					if annotated && cur.inline == "" {
						cur.inline = m[1]
					}
				}
				cur.last = idx
				state = readingOptions
				continue
			}
		}

		switch state {
		case readingOptions:
			if cur.last < 0 {
				cur.text = joinSpace(cur.text, line)
			} else {
				cur.options[cur.last] = joinSpace(cur.options[cur.last], line)
			}
		case readingExplanation:
			cur.explanation = joinSpace(cur.explanation, line)
		}
	}
	flush()

	return out, stats
}

// finish closes option gaps and checks completeness.
func (d *questionDraft) finish() (models.Question, bool) {
	q := models.Question{
		Text:        strings.TrimSpace(d.text),
		Explanation: strings.TrimSpace(d.explanation),
	}

	remap := [4]int{-1, -1, -1, -1}
	for i := range d.options {
		opt := strings.TrimSpace(d.options[i])
		if !d.present[i] || opt == "" {
			continue
		}
		remap[i] = len(q.Options)
		q.Options = append(q.Options, opt)
	}

	answer := d.answer
	if answer == "" {
		answer = d.inline
	}
	if idx := models.OptionIndex(answer); idx >= 0 && idx < len(remap) && remap[idx] >= 0 {
		q.CorrectAnswer = models.OptionLetter(remap[idx])
	}

	return q, q.Complete()
}

func cleanMarkdown(line string) string {
	line = strings.ReplaceAll(line, "**", "")
	line = strings.ReplaceAll(line, "__", "")
	line = headingMarker.ReplaceAllString(line, "")
	line = bulletMarker.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

func pickLetter(s string) string {
	if m := answerLetter.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	s = strings.TrimSpace(strings.TrimRight(s, ").:"))
	if len(s) == 1 {
		if idx := models.OptionIndex(s); idx >= 0 && idx < 4 {
			return models.OptionLetter(idx)
		}
	}
	return ""
}

func joinSpace(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}
