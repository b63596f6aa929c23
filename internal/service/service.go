// Package service is the thin typed façade the HTTP layer consumes: it
// composes Store, Scheduler, Rating, and Selection into the operations
// the outside world is allowed to call.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"bettertactics/internal/metrics"
	"bettertactics/internal/rating"
	"bettertactics/internal/selection"
	"bettertactics/internal/srs"
	"bettertactics/internal/store"
)

// Clock abstracts "now" so tests can drive it deterministically.
type Clock func() time.Time

// Service is the façade. All of its methods operate on the single local
// user (store.LocalUserID) since this is a single-user deployment.
type Service struct {
	store        *store.Storage
	srsConfig    srs.Config
	selectConfig selection.Config
	now          Clock
	validate     *validator.Validate
}

// New builds a Service over an already-opened Storage.
func New(st *store.Storage, srsCfg srs.Config, selectCfg selection.Config) *Service {
	return &Service{
		store:        st,
		srsConfig:    srsCfg,
		selectConfig: selectCfg,
		now:          time.Now,
		validate:     validator.New(),
	}
}

// WithClock overrides the time source (for tests).
func (s *Service) WithClock(c Clock) *Service {
	s.now = c
	return s
}

// Stats is get_stats's output.
type Stats struct {
	CardCount     int
	ReviewsDueNow int
	ReviewsDueToday int
	MsUntilNextDue *int64
	UserRating    int
	Provisional   bool
}

// GetStats reports card counts, due counts, and current rating.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	now := s.now()
	dayEnd := selection.DayBoundary(now, s.selectConfig.DayEndHour)

	cardCount, err := s.store.CardCount(ctx, store.LocalUserID)
	if err != nil {
		return Stats{}, fmt.Errorf("service.GetStats: %w", err)
	}
	dueNow, err := s.store.CountDueNow(ctx, store.LocalUserID, now)
	if err != nil {
		return Stats{}, fmt.Errorf("service.GetStats: %w", err)
	}
	dueToday, err := s.store.CountDueToday(ctx, store.LocalUserID, now, dayEnd)
	if err != nil {
		return Stats{}, fmt.Errorf("service.GetStats: %w", err)
	}
	user, err := s.store.GetUser(ctx, store.LocalUserID)
	if err != nil {
		return Stats{}, fmt.Errorf("service.GetStats: %w", err)
	}

	stats := Stats{
		CardCount:       cardCount,
		ReviewsDueNow:   dueNow,
		ReviewsDueToday: dueToday,
		UserRating:      user.Rating,
		Provisional:     user.RatingDeviation > 100,
	}
	metrics.CardsDue.Set(float64(dueNow))
	if dueNow == 0 {
		due, ok, err := s.store.NextDueAfter(ctx, store.LocalUserID, now, dayEnd)
		if err != nil {
			return Stats{}, fmt.Errorf("service.GetStats: %w", err)
		}
		if ok {
			ms := due.Sub(now).Milliseconds()
			stats.MsUntilNextDue = &ms
		}
	}
	return stats, nil
}

// GetReviewForecast returns, for each of the next days days, the count of
// cards due in that day's window. days must be in [1, 365].
func (s *Service) GetReviewForecast(ctx context.Context, days int) ([]int, error) {
	if err := s.validate.Var(days, "min=1,max=365"); err != nil {
		return nil, store.NewInvalidInput("service.GetReviewForecast", fmt.Errorf("days out of range: %w", err))
	}
	now := s.now()
	boundaries := make([]time.Time, days)
	b := selection.DayBoundary(now, s.selectConfig.DayEndHour)
	for i := 0; i < days; i++ {
		boundaries[i] = b
		b = b.AddDate(0, 0, 1)
	}
	counts, err := s.store.ReviewForecast(ctx, store.LocalUserID, boundaries)
	if err != nil {
		return nil, fmt.Errorf("service.GetReviewForecast: %w", err)
	}
	return counts, nil
}

// GetRatingHistory returns the ordered (date, rating) series.
func (s *Service) GetRatingHistory(ctx context.Context) ([]store.RatingPoint, error) {
	points, err := s.store.RatingHistory(ctx, store.ReviewHistoryParams{
		UserID: store.LocalUserID,
		Since:  time.Time{},
		Until:  s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("service.GetRatingHistory: %w", err)
	}
	return points, nil
}

// GetReviewScoreHistogram groups reviews by (rating bucket, difficulty).
// bucket must be in [1, 1000].
func (s *Service) GetReviewScoreHistogram(ctx context.Context, bucket int) ([]store.HistogramCell, error) {
	if err := s.validate.Var(bucket, "min=1,max=1000"); err != nil {
		return nil, store.NewInvalidInput("service.GetReviewScoreHistogram", fmt.Errorf("bucket out of range: %w", err))
	}
	cells, err := s.store.ReviewScoreHistogram(ctx, store.LocalUserID, bucket)
	if err != nil {
		return nil, fmt.Errorf("service.GetReviewScoreHistogram: %w", err)
	}
	return cells, nil
}

// NextReviewPuzzle implements next_review_puzzle.
func (s *Service) NextReviewPuzzle(ctx context.Context) (selection.ReviewResult, error) {
	result, err := selection.NextReviewPuzzle(ctx, s.store, store.LocalUserID, s.now(), s.selectConfig)
	if err != nil {
		return selection.ReviewResult{}, fmt.Errorf("service.NextReviewPuzzle: %w", err)
	}
	return result, nil
}

// NextNewPuzzle implements next_new_puzzle.
func (s *Service) NextNewPuzzle(ctx context.Context) (selection.NewResult, error) {
	result, err := selection.NextNewPuzzle(ctx, s.store, store.LocalUserID, s.selectConfig)
	if err != nil {
		return selection.NewResult{}, fmt.Errorf("service.NextNewPuzzle: %w", err)
	}
	return result, nil
}

// PuzzleByID implements puzzle_by_id, also returning the user's Card
// for that puzzle if one exists.
func (s *Service) PuzzleByID(ctx context.Context, id int64) (*store.Puzzle, *store.Card, error) {
	puzzle, err := s.store.GetPuzzleByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("service.PuzzleByID: %w", err)
	}
	card, err := s.store.GetCard(ctx, store.LocalUserID, id)
	if err != nil {
		if store.NotFound(err) {
			return puzzle, nil, nil
		}
		return nil, nil, fmt.Errorf("service.PuzzleByID: %w", err)
	}
	return puzzle, card, nil
}

// PuzzleBySourceID implements the (source, source_id) variant of
// puzzle_by_id.
func (s *Service) PuzzleBySourceID(ctx context.Context, source, sourceID string) (*store.Puzzle, *store.Card, error) {
	puzzle, err := s.store.GetPuzzleBySourceID(ctx, source, sourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("service.PuzzleBySourceID: %w", err)
	}
	return s.PuzzleByID(ctx, puzzle.ID)
}

// SubmitReviewResult is submit_review's output: the updated card, new
// rating, and whether the call actually applied (false on an idempotent
// replay).
type SubmitReviewResult struct {
	Card    store.Card
	Rating  rating.Rating
	Applied bool
}

// SubmitReview implements submit_review: atomically advances the card
// via the Scheduler, updates the rating via Glicko-2 against the
// puzzle's rating, and persists both plus the Review row in one
// transaction. A stale review_count makes the call a no-op that returns
// the existing card rather than an error, so double-clicks do not
// double-advance the schedule.
func (s *Service) SubmitReview(ctx context.Context, puzzleID int64, difficulty store.Difficulty, expectedReviewCount int) (SubmitReviewResult, error) {
	if !difficulty.Valid() {
		return SubmitReviewResult{}, store.NewInvalidInput("service.SubmitReview", fmt.Errorf("invalid difficulty %d", difficulty))
	}

	puzzle, err := s.store.GetPuzzleByID(ctx, puzzleID)
	if err != nil {
		return SubmitReviewResult{}, fmt.Errorf("service.SubmitReview: %w", err)
	}

	card, err := s.store.GetCard(ctx, store.LocalUserID, puzzleID)
	if err != nil {
		if !store.NotFound(err) {
			return SubmitReviewResult{}, fmt.Errorf("service.SubmitReview: %w", err)
		}
		fresh := srs.NewCard(store.LocalUserID, puzzleID, s.srsConfig)
		card = &fresh
	}

	user, err := s.store.GetUser(ctx, store.LocalUserID)
	if err != nil {
		return SubmitReviewResult{}, fmt.Errorf("service.SubmitReview: %w", err)
	}

	now := s.now()
	outcome := srs.Apply(*card, difficulty, now, s.srsConfig)
	newRating := rating.Update(
		rating.Rating{Value: user.Rating, Deviation: user.RatingDeviation, Volatility: user.RatingVolatility},
		puzzle.Rating, puzzle.RatingDeviation,
		rating.OutcomeWeight(int(difficulty)),
	)

	applied, err := s.store.SubmitReview(ctx, store.SubmitReviewParams{
		UserID:              store.LocalUserID,
		PuzzleID:            puzzleID,
		Difficulty:          difficulty,
		Now:                 now,
		ExpectedReviewCount: expectedReviewCount,
		NextCard:            outcome.Card,
		NewUserRating:       newRating.Value,
		NewUserRatingDev:    newRating.Deviation,
		NewUserRatingVol:    newRating.Volatility,
	})
	if err != nil {
		return SubmitReviewResult{}, fmt.Errorf("service.SubmitReview: %w", err)
	}

	if !applied {
		metrics.ReviewsReplayed.Inc()
		existing, err := s.store.GetCard(ctx, store.LocalUserID, puzzleID)
		if err != nil {
			return SubmitReviewResult{}, fmt.Errorf("service.SubmitReview: %w", err)
		}
		existingUser, err := s.store.GetUser(ctx, store.LocalUserID)
		if err != nil {
			return SubmitReviewResult{}, fmt.Errorf("service.SubmitReview: %w", err)
		}
		return SubmitReviewResult{
			Card:    *existing,
			Rating:  rating.Rating{Value: existingUser.Rating, Deviation: existingUser.RatingDeviation, Volatility: existingUser.RatingVolatility},
			Applied: false,
		}, nil
	}

	metrics.ReviewsSubmitted.WithLabelValues(difficulty.String()).Inc()
	return SubmitReviewResult{Card: outcome.Card, Rating: newRating, Applied: true}, nil
}

// SubmitSkip implements submit_skip.
func (s *Service) SubmitSkip(ctx context.Context, puzzleID int64, mode selection.SkipMode) error {
	puzzle, err := s.store.GetPuzzleByID(ctx, puzzleID)
	if err != nil {
		return fmt.Errorf("service.SubmitSkip: %w", err)
	}
	if err := selection.Skip(ctx, s.store, store.LocalUserID, puzzleID, int64(puzzle.Rating), int64(puzzle.RatingDeviation), mode, s.now()); err != nil {
		return fmt.Errorf("service.SubmitSkip: %w", err)
	}
	metrics.SkipsSubmitted.WithLabelValues(mode.String()).Inc()
	return nil
}

// PuzzleHistory implements puzzle_history. page is 1-indexed.
func (s *Service) PuzzleHistory(ctx context.Context, page, pageSize int) ([]store.PuzzleHistoryEntry, error) {
	if err := s.validate.Var(page, "min=1"); err != nil {
		return nil, store.NewInvalidInput("service.PuzzleHistory", fmt.Errorf("page must be >= 1: %w", err))
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	entries, err := s.store.PuzzleHistory(ctx, store.LocalUserID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("service.PuzzleHistory: %w", err)
	}
	return entries, nil
}

// SetRating implements the debug set_rating operation.
func (s *Service) SetRating(ctx context.Context, rating int) error {
	if err := s.validate.Var(rating, "min=0"); err != nil {
		return store.NewInvalidInput("service.SetRating", fmt.Errorf("rating must be >= 0: %w", err))
	}
	if err := s.store.SetRating(ctx, store.LocalUserID, rating); err != nil {
		return fmt.Errorf("service.SetRating: %w", err)
	}
	return nil
}
