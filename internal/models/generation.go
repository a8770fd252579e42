package models

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"citewise/internal/apperr"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// GenerationRequest is the form input behind every generator. It is consumed
// once by the gateway and not retained.
type GenerationRequest struct {
	Topic      string     `json:"topic" validate:"required,max=500"`
	SourceText string     `json:"sourceText,omitempty"`
	Difficulty Difficulty `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	Count      int        `json:"count" validate:"omitempty,min=1,max=50"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Normalize trims the free-text fields and fills defaults.
func (r *GenerationRequest) Normalize(defaultCount int) {
	r.Topic = strings.Join(strings.Fields(r.Topic), " ")
	r.SourceText = strings.TrimSpace(r.SourceText)
	r.Difficulty = Difficulty(strings.ToLower(strings.TrimSpace(string(r.Difficulty))))
	if r.Difficulty == "" {
		r.Difficulty = DifficultyMedium
	}
	if r.Count == 0 {
		r.Count = defaultCount
	}
}

// Validate reports missing or out-of-range fields as a KindUserInput error.
func (r GenerationRequest) Validate() error {
	return ValidateStruct(r)
}

// ValidateStruct runs tag validation on any request payload.
func ValidateStruct(v any) error {
	err := requestValidator().Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.UserInput(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperr.UserInput(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	default:
		return field + " is invalid"
	}
}

type SummaryKind string

const (
	SummaryDocument SummaryKind = "document"
	SummaryLecture  SummaryKind = "lecture"
)

// SummaryRequest asks for a summary of an uploaded document or a lecture
// transcript.
type SummaryRequest struct {
	Title  string      `json:"title" validate:"max=500"`
	Text   string      `json:"text" validate:"required"`
	Kind   SummaryKind `json:"kind" validate:"omitempty,oneof=document lecture"`
	Length string      `json:"length" validate:"omitempty,oneof=short medium detailed"`
}

func (r *SummaryRequest) Normalize() {
	r.Title = strings.Join(strings.Fields(r.Title), " ")
	r.Text = strings.TrimSpace(r.Text)
	if r.Kind == "" {
		r.Kind = SummaryDocument
	}
	if r.Length == "" {
		r.Length = "medium"
	}
}

// ResumeRequest drives the career analysis pipeline.
type ResumeRequest struct {
	ResumeText     string `json:"resumeText" validate:"required"`
	TargetRole     string `json:"targetRole" validate:"max=200"`
	JobDescription string `json:"jobDescription,omitempty"`
}

func (r *ResumeRequest) Normalize() {
	r.ResumeText = strings.TrimSpace(r.ResumeText)
	r.TargetRole = strings.Join(strings.Fields(r.TargetRole), " ")
	r.JobDescription = strings.TrimSpace(r.JobDescription)
}

// RawModelResponse is one completion as returned by the gateway.
type RawModelResponse struct {
	Model  string `json:"model"`
	Text   string `json:"text"`
	Status int    `json:"status"`
}

type Question struct {
	Text          string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// OptionLetter returns the letter for a zero-based option index.
func OptionLetter(index int) string {
	return string(rune('A' + index))
}

// MaxOptions is the number of answer slots, lettered A to D.
const MaxOptions = 4

// OptionIndex returns the zero-based index for an option letter A to D, or -1.
func OptionIndex(letter string) int {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if len(letter) != 1 || letter[0] < 'A' || letter[0] >= 'A'+MaxOptions {
		return -1
	}
	return int(letter[0] - 'A')
}

// Complete reports whether the question has text, two to four non-empty
// options and a correct answer naming one of them.
func (q Question) Complete() bool {
	if strings.TrimSpace(q.Text) == "" || len(q.Options) < 2 || len(q.Options) > MaxOptions {
		return false
	}
	for _, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return false
		}
	}
	idx := OptionIndex(q.CorrectAnswer)
	return idx >= 0 && idx < len(q.Options)
}

type Flashcard struct {
	Category string `json:"category"`
	Front    string `json:"front"`
	Back     string `json:"back"`
}

type MindMap struct {
	CentralTopic string          `json:"centralTopic"`
	MainBranches []MindMapBranch `json:"mainBranches"`
}

type MindMapBranch struct {
	Title     string   `json:"title"`
	Subtopics []string `json:"subtopics"`
}

// ResumeAnalysis is the structured result of the first resume stage.
type ResumeAnalysis struct {
	Summary         string           `json:"summary"`
	Scores          ResumeScores     `json:"scores"`
	Skills          SkillSets        `json:"skills"`
	Strengths       []string         `json:"strengths"`
	Weaknesses      []string         `json:"weaknesses"`
	Recommendations []Recommendation `json:"recommendations"`
	CareerPaths     []CareerPath     `json:"careerPaths,omitempty"`
}

type ResumeScores struct {
	Overall    int `json:"overall"`
	ATS        int `json:"ats"`
	Content    int `json:"content"`
	Formatting int `json:"formatting"`
	Keywords   int `json:"keywords"`
	Experience int `json:"experience"`
}

type SkillSets struct {
	Technical []string `json:"technical"`
	Soft      []string `json:"soft"`
	Missing   []string `json:"missing"`
}

type Recommendation struct {
	Area       string `json:"area"`
	Suggestion string `json:"suggestion"`
	Priority   string `json:"priority,omitempty"`
}

type CareerPath struct {
	Title     string   `json:"title"`
	Fit       int      `json:"fit"`
	NextSteps []string `json:"nextSteps,omitempty"`
}

type ProjectSuggestion struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
	Difficulty   string   `json:"difficulty,omitempty"`
}

type InterviewQuestion struct {
	Question string `json:"question"`
	Category string `json:"category"`
	Tips     string `json:"tips,omitempty"`
}

// CareerReport is the combined output of the resume pipeline.
type CareerReport struct {
	Analysis           ResumeAnalysis      `json:"analysis"`
	TailoredResume     string              `json:"tailoredResume"`
	Projects           []ProjectSuggestion `json:"projects"`
	InterviewQuestions []InterviewQuestion `json:"interviewQuestions"`
}
