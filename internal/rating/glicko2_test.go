package rating

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcomeWeight(t *testing.T) {
	require.Equal(t, 0.0, OutcomeWeight(0))
	require.Equal(t, 0.5, OutcomeWeight(1))
	require.Equal(t, 0.8, OutcomeWeight(2))
	require.Equal(t, 1.0, OutcomeWeight(3))
	require.Equal(t, 0.0, OutcomeWeight(99))
}

func TestUpdate_WinningAgainstHigherRatedOpponentRaisesRating(t *testing.T) {
	user := Rating{Value: 1500, Deviation: 200, Volatility: 0.06}

	out := Update(user, 1700, 80, 1.0)

	require.Greater(t, out.Value, user.Value)
	require.Less(t, out.Deviation, user.Deviation)
}

func TestUpdate_LosingAgainstLowerRatedOpponentLowersRating(t *testing.T) {
	user := Rating{Value: 1500, Deviation: 200, Volatility: 0.06}

	out := Update(user, 1300, 80, 0.0)

	require.Less(t, out.Value, user.Value)
}

func TestUpdate_DeviationNeverDropsBelowFloor(t *testing.T) {
	user := Rating{Value: 1500, Deviation: 30, Volatility: 0.01}

	for i := 0; i < 20; i++ {
		user = Update(user, 1500, 30, 0.8)
	}

	require.GreaterOrEqual(t, user.Deviation, int(minDeviation))
}

func TestUpdate_DeviationNeverExceedsCeiling(t *testing.T) {
	user := Rating{Value: 1500, Deviation: 350, Volatility: 0.06}

	out := Update(user, 1500, 350, 0.8)

	require.LessOrEqual(t, out.Deviation, int(maxDeviation))
}

func TestUpdate_VolatilityNeverExceedsCeiling(t *testing.T) {
	user := Rating{Value: 1500, Deviation: 200, Volatility: 0.09}

	out := Update(user, 1500, 200, 0.0)

	require.LessOrEqual(t, out.Volatility, maxVolatility)
}

func TestUpdate_RatingNeverNegative(t *testing.T) {
	user := Rating{Value: 50, Deviation: 300, Volatility: 0.2}

	out := Update(user, 2200, 80, 0.0)

	require.GreaterOrEqual(t, out.Value, 0)
}

func TestSolveVolatility_ConvergesWithinIterationBudget(t *testing.T) {
	r := toInternal(Rating{Value: 1500, Deviation: 200, Volatility: 0.06})
	opp := internal{mu: (1700.0 - baseRating) / scale, phi: 80.0 / scale}

	gVal := g(opp.phi)
	eVal := e(r.mu, opp.mu, opp.phi)
	v := 1.0 / (gVal * gVal * eVal * (1 - eVal))
	delta := v * gVal * (1.0 - eVal)

	sigma := solveVolatility(r, v, delta)
	require.Greater(t, sigma, 0.0)
	require.Less(t, sigma, 1.0)
}
