package decks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	fsrs "github.com/open-spaced-repetition/go-fsrs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/db"
	"citewise/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "citewise.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store := NewStore(conn, zap.NewNop())
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

var sampleCards = []models.Flashcard{
	{Category: "Biology", Front: "Powerhouse of the cell?", Back: "Mitochondria"},
	{Category: "Biology", Front: "Site of protein synthesis?", Back: "Ribosome"},
}

func TestSaveAndListDecks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deck, err := store.SaveDeck(ctx, " Cells ", "cell biology", sampleCards)
	require.NoError(t, err)
	assert.Equal(t, "Cells", deck.Name)
	assert.Equal(t, 2, deck.CardCount)

	_, err = store.SaveDeck(ctx, "Cells", "", sampleCards)
	assert.True(t, apperr.Is(err, apperr.KindUserInput), "duplicate name")

	_, err = store.SaveDeck(ctx, "Empty", "", nil)
	assert.True(t, apperr.Is(err, apperr.KindUserInput))

	decks, err := store.ListDecks(ctx)
	require.NoError(t, err)
	require.Len(t, decks, 1)
	assert.Equal(t, deck.ID, decks[0].ID)
	assert.Equal(t, 2, decks[0].CardCount)
	assert.Equal(t, 2, decks[0].DueCount)

	cards, err := store.Cards(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleCards, cards)
}

func TestReviewMovesDueDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deck, err := store.SaveDeck(ctx, "Cells", "", sampleCards)
	require.NoError(t, err)

	first, err := store.NextCard(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, "Powerhouse of the cell?", first.Front)

	updated, log, err := store.ReviewCard(ctx, first.ID, fsrs.Good)
	require.NoError(t, err)
	require.True(t, updated.Due.Valid)
	assert.True(t, updated.Due.Time.After(updated.UpdatedAt), "due date moves into the future")
	assert.Equal(t, 1, updated.Reps)
	assert.Equal(t, int(fsrs.Good), log.Rating)

	second, err := store.NextCard(ctx, deck.ID)
	require.NoError(t, err)
	assert.Equal(t, "Site of protein synthesis?", second.Front)

	_, _, err = store.ReviewCard(ctx, second.ID, fsrs.Easy)
	require.NoError(t, err)

	_, err = store.NextCard(ctx, deck.ID)
	assert.ErrorIs(t, err, ErrNoDueCards)
}

func TestReviewRejectsBadInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.ReviewCard(ctx, 1, fsrs.Rating(9))
	assert.True(t, apperr.Is(err, apperr.KindUserInput))

	_, _, err = store.ReviewCard(ctx, 999, fsrs.Good)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = store.NextCard(ctx, 42)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
