package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/decks"
	"citewise/internal/export"
	"citewise/internal/models"
)

type saveDeckRequest struct {
	Name       string             `json:"name"`
	Topic      string             `json:"topic"`
	Flashcards []models.Flashcard `json:"flashcards"`
}

func (s *Server) handleDecks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.Decks.ListDecks(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"decks": list})
	case http.MethodPost:
		var req saveDeckRequest
		if err := decodeJSON(r, &req); err != nil {
			s.fail(w, err)
			return
		}
		deck, err := s.Decks.SaveDeck(r.Context(), req.Name, req.Topic, req.Flashcards)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, deck)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleDeckActions serves /api/decks/{id}/next, /cards and /csv.
func (s *Server) handleDeckActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	deckID, action, err := pathID(r.URL.Path, "/api/decks/")
	if err != nil {
		s.fail(w, err)
		return
	}

	switch action {
	case "next":
		card, err := s.Decks.NextCard(r.Context(), deckID)
		if err != nil {
			if errors.Is(err, decks.ErrNoDueCards) {
				writeJSON(w, http.StatusOK, map[string]any{
					"card":    nil,
					"message": "No cards due. Come back later!",
				})
				return
			}
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"card": cardView(card)})
	case "cards":
		cards, err := s.Decks.Cards(r.Context(), deckID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"flashcards": cards})
	case "csv":
		cards, err := s.Decks.Cards(r.Context(), deckID)
		if err != nil {
			s.fail(w, err)
			return
		}
		attachment(w, "text/csv; charset=utf-8", fmt.Sprintf("deck-%d.csv", deckID))
		if err := export.WriteFlashcardsCSV(w, cards); err != nil {
			s.log.Error("write deck csv", zap.Error(err))
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleCardActions serves POST /api/cards/{id}/review.
func (s *Server) handleCardActions(w http.ResponseWriter, r *http.Request) {
	cardID, action, err := pathID(r.URL.Path, "/api/cards/")
	if err != nil {
		s.fail(w, err)
		return
	}
	if action != "review" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload struct {
		Rating string `json:"rating"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		s.fail(w, err)
		return
	}
	rating, err := parseRating(payload.Rating)
	if err != nil {
		s.fail(w, err)
		return
	}

	card, log, err := s.Decks.ReviewCard(r.Context(), cardID, rating)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"card": cardView(card),
		"review": map[string]any{
			"rating":         log.Rating,
			"scheduled_days": log.ScheduledDays,
			"elapsed_days":   log.ElapsedDays,
			"reviewed_at":    log.ReviewedAt.Format(timeLayout),
		},
	})
}

func cardView(card *models.Card) map[string]any {
	return map[string]any{
		"id":          card.ID,
		"deck_id":     card.DeckID,
		"category":    card.Category,
		"front":       card.Front,
		"back":        card.Back,
		"due":         nullTimeToString(card.Due),
		"last_review": nullTimeToString(card.LastReview),
		"state":       card.State,
		"stability":   card.Stability,
		"reps":        card.Reps,
		"lapses":      card.Lapses,
	}
}

// parseRating accepts again/hard/good/easy or 1-4.
func parseRating(raw string) (fsrs.Rating, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "again":
		return fsrs.Again, nil
	case "hard":
		return fsrs.Hard, nil
	case "good":
		return fsrs.Good, nil
	case "easy":
		return fsrs.Easy, nil
	}
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n >= int(fsrs.Again) && n <= int(fsrs.Easy) {
		return fsrs.Rating(n), nil
	}
	return 0, apperr.UserInput(fmt.Sprintf("unknown rating %q", raw))
}
