package srs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bettertactics/internal/store"
)

var fixedNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestApply_NewCardGoodTwiceGraduates(t *testing.T) {
	cfg := DefaultConfig()
	card := NewCard(1, 1, cfg)
	require.Equal(t, store.StageNew, card.Stage)

	first := Apply(card, store.Good, fixedNow, cfg)
	require.Equal(t, store.StageLearning, first.Card.Stage)
	require.Equal(t, 1, first.Card.ReviewCount)
	require.Equal(t, 10*time.Minute, first.Card.Interval())

	second := Apply(first.Card, store.Good, fixedNow, cfg)
	require.Equal(t, store.StageReview, second.Card.Stage)
	require.Equal(t, 2, second.Card.ReviewCount)
	require.Equal(t, 24*time.Hour, second.Card.Interval())
}

func TestApply_NewCardEasyGraduatesImmediately(t *testing.T) {
	cfg := DefaultConfig()
	card := NewCard(1, 1, cfg)

	out := Apply(card, store.Easy, fixedNow, cfg)
	require.Equal(t, store.StageReview, out.Card.Stage)
	require.Equal(t, 4*24*time.Hour, out.Card.Interval())
	require.Greater(t, out.Card.Ease, cfg.DefaultEase)
}

func TestApply_LearningAgainDropsToRelearning(t *testing.T) {
	cfg := DefaultConfig()
	card := store.Card{Stage: store.StageLearning, Ease: cfg.DefaultEase, IntervalSecs: int64(learningStep2.Seconds())}

	out := Apply(card, store.Again, fixedNow, cfg)
	require.Equal(t, store.StageRelearning, out.Card.Stage)
	require.Equal(t, time.Minute, out.Card.Interval())
	require.Less(t, out.Card.Ease, cfg.DefaultEase)
}

func TestApply_ReviewGoodScalesByEase(t *testing.T) {
	cfg := DefaultConfig()
	card := store.Card{Stage: store.StageReview, Ease: 2.0, IntervalSecs: int64((24 * time.Hour).Seconds())}

	out := Apply(card, store.Good, fixedNow, cfg)
	require.Equal(t, store.StageReview, out.Card.Stage)
	require.Equal(t, 48*time.Hour, out.Card.Interval())
	require.Equal(t, 2.0, out.Card.Ease)
}

func TestApply_ReviewEasyAppliesEasyBonus(t *testing.T) {
	cfg := DefaultConfig()
	card := store.Card{Stage: store.StageReview, Ease: 2.0, IntervalSecs: int64((24 * time.Hour).Seconds())}

	out := Apply(card, store.Easy, fixedNow, cfg)
	require.Equal(t, scaleIntervalDuration(24*time.Hour, 2.0*cfg.EasyBonus), out.Card.Interval())
}

func TestApply_ReviewAgainLapsesToRelearning(t *testing.T) {
	cfg := DefaultConfig()
	card := store.Card{Stage: store.StageReview, Ease: 2.0, IntervalSecs: int64((30 * 24 * time.Hour).Seconds())}

	out := Apply(card, store.Again, fixedNow, cfg)
	require.Equal(t, store.StageRelearning, out.Card.Stage)
	require.Equal(t, time.Minute, out.Card.Interval())
}

func TestApply_EaseNeverDropsBelowMinimum(t *testing.T) {
	cfg := DefaultConfig()
	card := store.Card{Stage: store.StageReview, Ease: cfg.MinimumEase, IntervalSecs: int64((24 * time.Hour).Seconds())}

	out := Apply(card, store.Again, fixedNow, cfg)
	require.Equal(t, cfg.MinimumEase, out.Card.Ease)
}

func TestApply_SetsDueFromNow(t *testing.T) {
	cfg := DefaultConfig()
	card := NewCard(1, 1, cfg)

	out := Apply(card, store.Good, fixedNow, cfg)
	require.Equal(t, fixedNow.Add(10*time.Minute), out.Card.Due)
}

func TestApply_LookaheadPreviewsAllFourGradesWithoutMutating(t *testing.T) {
	cfg := DefaultConfig()
	card := store.Card{Stage: store.StageReview, Ease: 2.0, IntervalSecs: int64((24 * time.Hour).Seconds())}

	out := Apply(card, store.Good, fixedNow, cfg)

	require.Equal(t, time.Minute, out.Lookahead[store.Again])
	require.Equal(t, scaleIntervalDuration(24*time.Hour, hardMultiplier), out.Lookahead[store.Hard])
	require.Equal(t, 48*time.Hour, out.Lookahead[store.Good])
	require.Equal(t, scaleIntervalDuration(24*time.Hour, 2.0*cfg.EasyBonus), out.Lookahead[store.Easy])

	// Applying Good must not have been influenced by computing the lookahead.
	require.Equal(t, 48*time.Hour, out.Card.Interval())
}

func scaleIntervalDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(scaleInterval(int64(d.Seconds()), factor)) * time.Second
}
