package selection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bettertactics/internal/store"
)

type fakeStore struct {
	dueCards      []store.Card
	nextDue       time.Time
	nextDueOK     bool
	puzzles       map[int64]*store.Puzzle
	puzzlesByKey  map[string]*store.Puzzle
	puzzleRange   []*store.Puzzle
	user          *store.User
	setNextCalled *int64
	cards         map[int64]*store.Card
	skips         map[int64]bool
}

func (f *fakeStore) DueCards(ctx context.Context, p store.DueCardsParams) ([]store.Card, error) {
	if len(f.dueCards) == 0 {
		return nil, nil
	}
	if p.Limit > 0 && len(f.dueCards) > p.Limit {
		return f.dueCards[:p.Limit], nil
	}
	return f.dueCards, nil
}

func (f *fakeStore) NextDueAfter(ctx context.Context, userID int64, now, dayEnd time.Time) (time.Time, bool, error) {
	return f.nextDue, f.nextDueOK, nil
}

func (f *fakeStore) RandomPuzzleInRange(ctx context.Context, userID int64, lo, hi int) (*store.Puzzle, error) {
	for _, p := range f.puzzleRange {
		if p.Rating >= lo && p.Rating <= hi {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	return f.user, nil
}

func (f *fakeStore) SetNextPuzzle(ctx context.Context, userID int64, puzzleID *int64) error {
	f.setNextCalled = puzzleID
	f.user.NextPuzzle = puzzleID
	return nil
}

func (f *fakeStore) GetPuzzleByID(ctx context.Context, id int64) (*store.Puzzle, error) {
	p, ok := f.puzzles[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetPuzzleBySourceID(ctx context.Context, source, sourceID string) (*store.Puzzle, error) {
	p, ok := f.puzzlesByKey[source+":"+sourceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetCard(ctx context.Context, userID, puzzleID int64) (*store.Card, error) {
	c, ok := f.cards[puzzleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) HasSkip(ctx context.Context, userID, puzzleID int64) (bool, error) {
	return f.skips[puzzleID], nil
}

func TestDayBoundary_NextOccurrenceStrictlyAfterNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	boundary := DayBoundary(now, 4)
	require.Equal(t, time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC), boundary)

	now2 := time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)
	boundary2 := DayBoundary(now2, 4)
	require.Equal(t, time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC), boundary2)
}

func TestNextReviewPuzzle_ReturnsDueCard(t *testing.T) {
	puzzle := &store.Puzzle{ID: 5, Rating: 1500}
	st := &fakeStore{
		dueCards: []store.Card{{PuzzleID: 5}},
		puzzles:  map[int64]*store.Puzzle{5: puzzle},
	}

	result, err := NextReviewPuzzle(context.Background(), st, 1, time.Now(), DefaultConfig())
	require.NoError(t, err)
	require.False(t, result.Exhausted)
	require.Equal(t, int64(5), result.Puzzle.ID)
}

func TestNextReviewPuzzle_ExhaustedReportsMsUntilDue(t *testing.T) {
	now := time.Now()
	st := &fakeStore{nextDue: now.Add(2 * time.Hour), nextDueOK: true}

	result, err := NextReviewPuzzle(context.Background(), st, 1, now, DefaultConfig())
	require.NoError(t, err)
	require.True(t, result.Exhausted)
	require.NotNil(t, result.MsUntilDue)
	require.InDelta(t, (2 * time.Hour).Milliseconds(), *result.MsUntilDue, 1000)
}

func TestNextReviewPuzzle_ExhaustedWithNoUpcomingDue(t *testing.T) {
	st := &fakeStore{nextDueOK: false}

	result, err := NextReviewPuzzle(context.Background(), st, 1, time.Now(), DefaultConfig())
	require.NoError(t, err)
	require.True(t, result.Exhausted)
	require.Nil(t, result.MsUntilDue)
}

func TestNextNewPuzzle_PicksWithinRatingBand(t *testing.T) {
	inBand := &store.Puzzle{ID: 10, Rating: 1520}
	st := &fakeStore{
		user:        &store.User{ID: 1, Rating: 1500},
		puzzleRange: []*store.Puzzle{inBand},
	}

	result, err := NextNewPuzzle(context.Background(), st, 1, DefaultConfig())
	require.NoError(t, err)
	require.False(t, result.OutOfRange)
	require.Equal(t, int64(10), result.Puzzle.ID)
	require.NotNil(t, st.setNextCalled)
	require.Equal(t, int64(10), *st.setNextCalled)
}

func TestNextNewPuzzle_ReturnsCachedNextPuzzleWithoutReselecting(t *testing.T) {
	cached := int64(7)
	st := &fakeStore{
		user:    &store.User{ID: 1, Rating: 1500, NextPuzzle: &cached},
		puzzles: map[int64]*store.Puzzle{7: {ID: 7, Rating: 1505}},
	}

	result, err := NextNewPuzzle(context.Background(), st, 1, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, int64(7), result.Puzzle.ID)
	require.Nil(t, st.setNextCalled, "cached hit should not call SetNextPuzzle again")
}

func TestNextNewPuzzle_StaleCacheWithCardIsClearedAndReselected(t *testing.T) {
	cached := int64(7)
	fresh := &store.Puzzle{ID: 11, Rating: 1510}
	st := &fakeStore{
		user:        &store.User{ID: 1, Rating: 1500, NextPuzzle: &cached},
		puzzles:     map[int64]*store.Puzzle{7: {ID: 7, Rating: 1505}},
		puzzleRange: []*store.Puzzle{fresh},
		cards:       map[int64]*store.Card{7: {UserID: 1, PuzzleID: 7}},
	}

	result, err := NextNewPuzzle(context.Background(), st, 1, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, int64(11), result.Puzzle.ID)
	require.NotNil(t, st.setNextCalled)
	require.Equal(t, int64(11), *st.setNextCalled)
}

func TestNextNewPuzzle_StaleCacheWithSkipIsClearedAndReselected(t *testing.T) {
	cached := int64(7)
	fresh := &store.Puzzle{ID: 12, Rating: 1510}
	st := &fakeStore{
		user:        &store.User{ID: 1, Rating: 1500, NextPuzzle: &cached},
		puzzles:     map[int64]*store.Puzzle{7: {ID: 7, Rating: 1505}},
		puzzleRange: []*store.Puzzle{fresh},
		skips:       map[int64]bool{7: true},
	}

	result, err := NextNewPuzzle(context.Background(), st, 1, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, int64(12), result.Puzzle.ID)
}

func TestNextNewPuzzle_OutOfRangeWhenNothingMatches(t *testing.T) {
	st := &fakeStore{user: &store.User{ID: 1, Rating: 1500}}

	result, err := NextNewPuzzle(context.Background(), st, 1, DefaultConfig())
	require.NoError(t, err)
	require.True(t, result.OutOfRange)
	require.Nil(t, result.Puzzle)
}

type skipStoreFake struct {
	skips       []store.SkipReason
	reviewCalls []store.SkipWithReviewParams
	user        *store.User
}

func (f *skipStoreFake) InsertSkip(ctx context.Context, userID, puzzleID int64, reason store.SkipReason, now time.Time) error {
	f.skips = append(f.skips, reason)
	return nil
}

func (f *skipStoreFake) SkipWithReview(ctx context.Context, p store.SkipWithReviewParams) error {
	f.reviewCalls = append(f.reviewCalls, p)
	return nil
}

func (f *skipStoreFake) GetUser(ctx context.Context, userID int64) (*store.User, error) {
	return f.user, nil
}

func TestSkip_PlainDoesNotTouchRating(t *testing.T) {
	st := &skipStoreFake{user: &store.User{Rating: 1500, RatingDeviation: 200, RatingVolatility: 0.06}}

	err := Skip(context.Background(), st, 1, 2, 1500, 200, SkipPlain, time.Now())
	require.NoError(t, err)
	require.Len(t, st.skips, 1)
	require.Equal(t, store.SkipPlain, st.skips[0])
	require.Empty(t, st.reviewCalls)
}

func TestSkip_TooHardUpdatesRatingAsAgain(t *testing.T) {
	st := &skipStoreFake{user: &store.User{Rating: 1500, RatingDeviation: 200, RatingVolatility: 0.06}}

	err := Skip(context.Background(), st, 1, 2, 1500, 200, SkipTooHard, time.Now())
	require.NoError(t, err)
	require.Len(t, st.reviewCalls, 1)
	require.Equal(t, store.Again, st.reviewCalls[0].Difficulty)
	require.Equal(t, store.SkipTooHard, st.reviewCalls[0].Reason)
	require.Less(t, st.reviewCalls[0].NewUserRating, 1500)
}

func TestSkip_TooEasyUpdatesRatingAsEasy(t *testing.T) {
	st := &skipStoreFake{user: &store.User{Rating: 1500, RatingDeviation: 200, RatingVolatility: 0.06}}

	err := Skip(context.Background(), st, 1, 2, 1500, 200, SkipTooEasy, time.Now())
	require.NoError(t, err)
	require.Equal(t, store.Easy, st.reviewCalls[0].Difficulty)
	require.Greater(t, st.reviewCalls[0].NewUserRating, 1500)
}

func TestSkip_DontRepeatUpdatesRatingAsGood(t *testing.T) {
	st := &skipStoreFake{user: &store.User{Rating: 1500, RatingDeviation: 200, RatingVolatility: 0.06}}

	err := Skip(context.Background(), st, 1, 2, 1500, 200, SkipDontRepeat, time.Now())
	require.NoError(t, err)
	require.Equal(t, store.Good, st.reviewCalls[0].Difficulty)
}
