// Package decks persists generated flashcards and schedules their review
// with FSRS.
package decks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/models"
)

var (
	// ErrNoDueCards indicates that no card in the deck is ready to review.
	ErrNoDueCards = apperr.New(apperr.KindNotFound, "no due cards", nil)
)

type Store struct {
	db     *sql.DB
	params fsrs.Parameters
	log    *zap.Logger
	now    func() time.Time
}

// NewStore uses a clock truncated to whole seconds so stored timestamps
// have a fixed width and compare correctly in SQL.
func NewStore(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		db:     db,
		params: fsrs.DefaultParam(),
		log:    log.Named("decks"),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// SaveDeck creates a deck holding the given flashcards. All cards start
// as new and are due immediately.
func (s *Store) SaveDeck(ctx context.Context, name, topic string, cards []models.Flashcard) (_ *models.Deck, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.UserInput("deck name is required")
	}
	if len(cards) == 0 {
		return nil, apperr.UserInput("deck needs at least one card")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now()
	res, err := tx.ExecContext(ctx, `INSERT INTO decks (name, topic, created_at) VALUES (?, ?, ?);`, name, topic, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, apperr.UserInput(fmt.Sprintf("deck %q already exists", name))
		}
		return nil, fmt.Errorf("insert deck: %w", err)
	}
	deckID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("deck id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (deck_id, category, front, back, due, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare card insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cards {
		if _, err = stmt.ExecContext(ctx, deckID, c.Category, c.Front, c.Back, now, int(fsrs.New), now, now); err != nil {
			return nil, fmt.Errorf("insert card %q: %w", c.Front, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit deck: %w", err)
	}

	s.log.Info("deck saved", zap.Int64("deck_id", deckID), zap.String("name", name), zap.Int("cards", len(cards)))
	return &models.Deck{
		ID:        deckID,
		Name:      name,
		Topic:     topic,
		CardCount: len(cards),
		DueCount:  len(cards),
		CreatedAt: now,
	}, nil
}

// ListDecks returns every deck with its card and due counts, newest first.
func (s *Store) ListDecks(ctx context.Context) ([]models.Deck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.name, d.topic, d.created_at,
		       COUNT(c.id),
		       COALESCE(SUM(CASE WHEN c.due IS NOT NULL AND c.due <= ? THEN 1 ELSE 0 END), 0)
		FROM decks d
		LEFT JOIN cards c ON c.deck_id = d.id
		GROUP BY d.id
		ORDER BY d.created_at DESC, d.id DESC;
	`, s.now())
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	defer rows.Close()

	decks := []models.Deck{}
	for rows.Next() {
		var d models.Deck
		if err := rows.Scan(&d.ID, &d.Name, &d.Topic, &d.CreatedAt, &d.CardCount, &d.DueCount); err != nil {
			return nil, fmt.Errorf("scan deck: %w", err)
		}
		decks = append(decks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decks: %w", err)
	}
	return decks, nil
}

// Cards returns a deck's flashcards in insertion order, for export.
func (s *Store) Cards(ctx context.Context, deckID int64) ([]models.Flashcard, error) {
	if err := s.deckExists(ctx, deckID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT category, front, back FROM cards WHERE deck_id = ? ORDER BY id;`, deckID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Flashcard
	for rows.Next() {
		var c models.Flashcard
		if err := rows.Scan(&c.Category, &c.Front, &c.Back); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// NextCard returns the card in the deck that has been due the longest.
func (s *Store) NextCard(ctx context.Context, deckID int64) (*models.Card, error) {
	if err := s.deckExists(ctx, deckID); err != nil {
		return nil, err
	}
	card, err := s.fetchCard(ctx, s.db, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE deck_id = ? AND due IS NOT NULL AND due <= ?
		ORDER BY due ASC, id ASC
		LIMIT 1;
	`, deckID, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDueCards
	}
	return card, err
}

// ReviewCard updates the scheduling information based on the user's rating.
func (s *Store) ReviewCard(ctx context.Context, cardID int64, rating fsrs.Rating) (_ *models.Card, _ *models.ReviewLog, err error) {
	if rating < fsrs.Again || rating > fsrs.Easy {
		return nil, nil, apperr.UserInput(fmt.Sprintf("rating %d must be between 1 and 4", rating))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	card, err := s.fetchCard(ctx, tx, `SELECT `+cardColumns+` FROM cards WHERE id = ?;`, cardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("card %d not found", cardID), nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load card %d: %w", cardID, err)
	}

	now := s.now()
	info := s.params.Repeat(card.ToFSRSCard(), now)[rating]
	card.ApplyFSRSCard(info.Card)
	card.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		UPDATE cards
		SET due = ?, stability = ?, difficulty = ?, elapsed_days = ?, scheduled_days = ?,
		    reps = ?, lapses = ?, state = ?, last_review = ?, updated_at = ?
		WHERE id = ?;
	`,
		nullTime(card.Due),
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		card.State,
		nullTime(card.LastReview),
		card.UpdatedAt,
		card.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("update card %d: %w", card.ID, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO review_logs (card_id, rating, scheduled_days, elapsed_days, state, reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, card.ID, int(info.ReviewLog.Rating), int(info.ReviewLog.ScheduledDays), int(info.ReviewLog.ElapsedDays), int(info.ReviewLog.State), now)
	if err != nil {
		return nil, nil, fmt.Errorf("insert review log: %w", err)
	}
	logID, _ := res.LastInsertId()

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit review: %w", err)
	}

	return card, &models.ReviewLog{
		ID:            logID,
		CardID:        card.ID,
		Rating:        int(info.ReviewLog.Rating),
		ScheduledDays: int(info.ReviewLog.ScheduledDays),
		ElapsedDays:   int(info.ReviewLog.ElapsedDays),
		State:         int(info.ReviewLog.State),
		ReviewedAt:    now,
	}, nil
}

const cardColumns = `id, deck_id, category, front, back, due, stability, difficulty,
		       elapsed_days, scheduled_days, reps, lapses, state, last_review, created_at, updated_at`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) fetchCard(ctx context.Context, q queryer, query string, args ...any) (*models.Card, error) {
	card := &models.Card{}
	if err := q.QueryRowContext(ctx, query, args...).Scan(
		&card.ID,
		&card.DeckID,
		&card.Category,
		&card.Front,
		&card.Back,
		&card.Due,
		&card.Stability,
		&card.Difficulty,
		&card.ElapsedDays,
		&card.ScheduledDays,
		&card.Reps,
		&card.Lapses,
		&card.State,
		&card.LastReview,
		&card.CreatedAt,
		&card.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return card, nil
}

func (s *Store) deckExists(ctx context.Context, deckID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM decks WHERE id = ?;`, deckID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("deck %d not found", deckID), nil)
	}
	if err != nil {
		return fmt.Errorf("load deck %d: %w", deckID, err)
	}
	return nil
}

func nullTime(t sql.NullTime) any {
	if t.Valid {
		return t.Time
	}
	return nil
}
