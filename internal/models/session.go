package models

import (
	"fmt"

	"citewise/internal/apperr"
)

// TestSession holds one generated practice test and the user's answers.
// It is created on generation, mutated by Select, finalized by Submit and
// discarded by Reset.
type TestSession struct {
	ID        string         `json:"id"`
	Questions []Question     `json:"questions"`
	Answers   map[int]string `json:"answers"`
	Submitted bool           `json:"submitted"`
}

// TestScore is computed when a session is submitted.
type TestScore struct {
	Correct   int     `json:"correct"`
	Total     int     `json:"total"`
	Answered  int     `json:"answered"`
	Percent   float64 `json:"percent"`
	Incorrect []int   `json:"incorrect"`
}

func NewTestSession(id string, questions []Question) *TestSession {
	return &TestSession{
		ID:        id,
		Questions: questions,
		Answers:   make(map[int]string),
	}
}

// Select records the chosen option letter for a question.
func (s *TestSession) Select(index int, letter string) error {
	if s.Submitted {
		return apperr.UserInput("test already submitted")
	}
	if index < 0 || index >= len(s.Questions) {
		return apperr.UserInput(fmt.Sprintf("question index %d out of range", index))
	}
	opt := OptionIndex(letter)
	if opt < 0 || opt >= len(s.Questions[index].Options) {
		return apperr.UserInput(fmt.Sprintf("option %q not available for question %d", letter, index+1))
	}
	s.Answers[index] = OptionLetter(opt)
	return nil
}

// Submit freezes the session and returns its score. Submitting twice
// returns the same score.
func (s *TestSession) Submit() TestScore {
	s.Submitted = true
	return s.Score()
}

func (s *TestSession) Score() TestScore {
	score := TestScore{Total: len(s.Questions), Incorrect: []int{}}
	for i, q := range s.Questions {
		answer, ok := s.Answers[i]
		if ok {
			score.Answered++
		}
		if ok && answer == q.CorrectAnswer {
			score.Correct++
			continue
		}
		score.Incorrect = append(score.Incorrect, i)
	}
	if score.Total > 0 {
		score.Percent = float64(score.Correct) * 100 / float64(score.Total)
	}
	return score
}

// Reset clears answers and the submission flag, keeping the questions.
func (s *TestSession) Reset() {
	s.Answers = make(map[int]string)
	s.Submitted = false
}
