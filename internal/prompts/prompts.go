// Package prompts renders the system and user messages for every generator.
// Builders are pure: the same request always yields the same prompt.
package prompts

import (
	"fmt"
	"strings"

	"citewise/internal/models"
)

// MaxSourceChars bounds how much of an uploaded document is sent upstream.
const MaxSourceChars = 3000

// Prompt is a system/user message pair.
type Prompt struct {
	System string
	User   string
}

const questionGrammar = `Question 1: <question text>
A) <option>
B) <option>
C) <option>
D) <option>
Correct Answer: <A, B, C or D>
Explanation: <one or two sentences>`

// QuizLines asks for multiple-choice questions in the line grammar read by
// parse.ParseQuestions.
func QuizLines(req models.GenerationRequest) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d %s multiple-choice questions about %q.\n", req.Count, req.Difficulty, Topic(req.Topic))
	writeSource(&b, req.SourceText)
	b.WriteString("\nUse exactly this format for every question, numbering them consecutively and leaving one blank line between questions:\n\n")
	b.WriteString(questionGrammar)
	b.WriteString("\n\nEvery question must have exactly four options and one correct answer. Do not add any other text.")

	return Prompt{
		System: "You are an experienced teacher who writes clear, unambiguous exam questions. Follow the requested output format exactly.",
		User:   b.String(),
	}
}

// QuizJSON asks for the same questions as a JSON document.
func QuizJSON(req models.GenerationRequest) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d %s multiple-choice questions about %q.\n", req.Count, req.Difficulty, Topic(req.Topic))
	writeSource(&b, req.SourceText)
	b.WriteString(`
Strictly respond with a JSON object of this shape and nothing else:
{"questions":[{"question":"","options":["","","",""],"correctAnswer":"A","explanation":""}]}
correctAnswer is the letter (A-D) of the correct option.`)

	return Prompt{
		System: "You are an experienced teacher who writes clear, unambiguous exam questions. You reply with valid JSON only.",
		User:   b.String(),
	}
}

func Flashcards(req models.GenerationRequest) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d %s study flashcards about %q.\n", req.Count, req.Difficulty, Topic(req.Topic))
	writeSource(&b, req.SourceText)
	b.WriteString(`
Strictly respond with a JSON object {"flashcards":[{"category":"","front":"","back":""}]}.
The front is a short question or term, the back a concise answer. Group related cards under the same category.`)

	return Prompt{
		System: "You turn study material into atomic flashcards for spaced repetition. You reply with valid JSON only.",
		User:   b.String(),
	}
}

func MindMap(req models.GenerationRequest) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Build a mind map for %q at %s depth with about %d main branches.\n", Topic(req.Topic), req.Difficulty, req.Count)
	writeSource(&b, req.SourceText)
	b.WriteString(`
Strictly respond with a JSON object {"centralTopic":"","mainBranches":[{"title":"","subtopics":["",""]}]}.
Every branch needs a title and at least one subtopic.`)

	return Prompt{
		System: "You organize knowledge into hierarchical mind maps. You reply with valid JSON only.",
		User:   b.String(),
	}
}

// Summary covers both uploaded documents and lecture transcripts.
func Summary(req models.SummaryRequest) Prompt {
	var b strings.Builder
	subject := "document"
	system := "You summarize study documents for students. Use short headings and bullet points in markdown."
	if req.Kind == models.SummaryLecture {
		subject = "lecture transcript"
		system = "You turn lecture transcripts into structured study notes. Use short headings and bullet points in markdown, and end with key takeaways."
	}
	fmt.Fprintf(&b, "Write a %s summary of the following %s", req.Length, subject)
	if title := Topic(req.Title); title != "" {
		fmt.Fprintf(&b, " titled %q", title)
	}
	b.WriteString(".\n\n")
	b.WriteString(Truncate(req.Text, MaxSourceChars))

	return Prompt{System: system, User: b.String()}
}

const resumeSystem = "You are a senior career coach and technical recruiter. Be specific and honest."

func ResumeAnalysis(req models.ResumeRequest) Prompt {
	var b strings.Builder
	b.WriteString("Analyze the resume below")
	writeTarget(&b, req)
	b.WriteString(`
Strictly respond with a JSON object of this shape:
{"summary":"","scores":{"overall":0,"ats":0,"content":0,"formatting":0,"keywords":0,"experience":0},
"skills":{"technical":[""],"soft":[""],"missing":[""]},"strengths":[""],"weaknesses":[""],
"recommendations":[{"area":"","suggestion":"","priority":"high|medium|low"}],
"careerPaths":[{"title":"","fit":0,"nextSteps":[""]}]}
Scores are integers from 0 to 100.

Resume:
`)
	b.WriteString(Truncate(req.ResumeText, MaxSourceChars))

	return Prompt{System: resumeSystem + " You reply with valid JSON only.", User: b.String()}
}

// TailoredResume asks for a rewritten resume in plain text, informed by the
// analysis from the previous stage.
func TailoredResume(req models.ResumeRequest, analysis models.ResumeAnalysis) Prompt {
	var b strings.Builder
	b.WriteString("Rewrite the resume below")
	writeTarget(&b, req)
	if len(analysis.Weaknesses) > 0 {
		fmt.Fprintf(&b, "Address these weaknesses: %s.\n", strings.Join(analysis.Weaknesses, "; "))
	}
	if len(analysis.Skills.Missing) > 0 {
		fmt.Fprintf(&b, "Where truthful, surface these skills: %s.\n", strings.Join(analysis.Skills.Missing, ", "))
	}
	b.WriteString("Reply with the resume as plain text only, without commentary.\n\nResume:\n")
	b.WriteString(Truncate(req.ResumeText, MaxSourceChars))

	return Prompt{System: resumeSystem, User: b.String()}
}

func ProjectSuggestions(req models.ResumeRequest, analysis models.ResumeAnalysis) Prompt {
	var b strings.Builder
	b.WriteString("Suggest 3 to 5 portfolio projects for this candidate")
	writeTarget(&b, req)
	fmt.Fprintf(&b, "Current skills: %s.\n", strings.Join(analysis.Skills.Technical, ", "))
	if len(analysis.Skills.Missing) > 0 {
		fmt.Fprintf(&b, "Skills to build: %s.\n", strings.Join(analysis.Skills.Missing, ", "))
	}
	b.WriteString(`Strictly respond with a JSON object {"projects":[{"title":"","description":"","technologies":[""],"difficulty":"beginner|intermediate|advanced"}]}.`)

	return Prompt{System: resumeSystem + " You reply with valid JSON only.", User: b.String()}
}

// InterviewQuestions uses the tailored resume from the second stage.
func InterviewQuestions(req models.ResumeRequest, tailored string) Prompt {
	var b strings.Builder
	b.WriteString("Write 8 likely interview questions for this candidate")
	writeTarget(&b, req)
	b.WriteString(`Mix technical, behavioral and role-specific questions.
Strictly respond with a JSON object {"questions":[{"question":"","category":"technical|behavioral|situational","tips":""}]}.

Resume:
`)
	b.WriteString(Truncate(tailored, MaxSourceChars))

	return Prompt{System: resumeSystem + " You reply with valid JSON only.", User: b.String()}
}

// PageTranscription instructs a vision model to read one scanned page.
const PageTranscription = "Transcribe all readable text on this page in reading order. " +
	"Keep headings and list structure as plain text. Do not describe images or add commentary. " +
	"If the page has no text, reply with nothing."

// Topic trims and collapses whitespace in a user supplied topic.
func Topic(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate keeps at most limit runes of s, cutting at a rune boundary.
func Truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func writeSource(b *strings.Builder, source string) {
	source = Truncate(source, MaxSourceChars)
	if source == "" {
		return
	}
	b.WriteString("Base the content on this source material:\n\"\"\"\n")
	b.WriteString(source)
	b.WriteString("\n\"\"\"\n")
}

func writeTarget(b *strings.Builder, req models.ResumeRequest) {
	if role := Topic(req.TargetRole); role != "" {
		fmt.Fprintf(b, " for the target role %q", role)
	}
	b.WriteString(".\n")
	if jd := Truncate(req.JobDescription, MaxSourceChars); jd != "" {
		b.WriteString("Job description:\n")
		b.WriteString(jd)
		b.WriteString("\n")
	}
}
