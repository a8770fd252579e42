package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citewise/internal/apperr"
)

func TestGenerationRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerationRequest
		wantErr string
	}{
		{"valid", GenerationRequest{Topic: "Photosynthesis", Difficulty: DifficultyHard, Count: 10}, ""},
		{"defaults allowed", GenerationRequest{Topic: "Cells"}, ""},
		{"missing topic", GenerationRequest{Count: 5}, "topic is required"},
		{"bad difficulty", GenerationRequest{Topic: "x", Difficulty: "insane"}, "difficulty must be one of"},
		{"count too large", GenerationRequest{Topic: "x", Count: 500}, "count must be at most 50"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindUserInput))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGenerationRequestNormalize(t *testing.T) {
	req := GenerationRequest{Topic: "  World \n War   II ", Difficulty: " HARD "}
	req.Normalize(10)

	assert.Equal(t, "World War II", req.Topic)
	assert.Equal(t, DifficultyHard, req.Difficulty)
	assert.Equal(t, 10, req.Count)

	req = GenerationRequest{Topic: "x", Count: 3}
	req.Normalize(10)
	assert.Equal(t, DifficultyMedium, req.Difficulty)
	assert.Equal(t, 3, req.Count)
}

func TestQuestionComplete(t *testing.T) {
	q := Question{Text: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "B"}
	assert.True(t, q.Complete())

	q.CorrectAnswer = "C"
	assert.False(t, q.Complete(), "answer outside option range")

	q = Question{Text: "2+2?", Options: []string{"4"}, CorrectAnswer: "A"}
	assert.False(t, q.Complete(), "single option")

	q = Question{Text: "2+2?", Options: []string{"3", " "}, CorrectAnswer: "A"}
	assert.False(t, q.Complete(), "blank option")

	q = Question{Text: "Pick", Options: []string{"a", "b", "c", "d", "e"}, CorrectAnswer: "A"}
	assert.False(t, q.Complete(), "more than four options")
}

func TestOptionIndexLettersAToD(t *testing.T) {
	assert.Equal(t, 0, OptionIndex("a"))
	assert.Equal(t, 3, OptionIndex(" D "))
	assert.Equal(t, -1, OptionIndex("E"))
	assert.Equal(t, -1, OptionIndex("Z"))
	assert.Equal(t, -1, OptionIndex("AB"))
}

func TestTestSessionLifecycle(t *testing.T) {
	questions := []Question{
		{Text: "2+2?", Options: []string{"3", "4", "5", "6"}, CorrectAnswer: "B"},
		{Text: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "A"},
		{Text: "H2O is?", Options: []string{"Water", "Salt", "Sand"}, CorrectAnswer: "A"},
	}
	session := NewTestSession("s1", questions)

	require.NoError(t, session.Select(0, "b"))
	require.NoError(t, session.Select(1, "B"))
	assert.Error(t, session.Select(1, "D"), "option beyond available letters")
	assert.Error(t, session.Select(0, "E"), "letters stop at D")
	assert.Error(t, session.Select(5, "A"))

	score := session.Submit()
	assert.Equal(t, 1, score.Correct)
	assert.Equal(t, 3, score.Total)
	assert.Equal(t, 2, score.Answered)
	assert.Equal(t, []int{1, 2}, score.Incorrect)
	assert.InDelta(t, 33.33, score.Percent, 0.01)

	err := session.Select(2, "A")
	assert.True(t, apperr.Is(err, apperr.KindUserInput))

	session.Reset()
	assert.False(t, session.Submitted)
	assert.Empty(t, session.Answers)
	assert.Len(t, session.Questions, 3)
}
