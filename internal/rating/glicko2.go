// Package rating implements the Glicko-2 single-outcome rating update:
// user rating/deviation/volatility updated against a puzzle's rating
// given one graded outcome.
package rating

import "math"

const (
	// scale converts between the public 1500-centered rating scale and
	// Glicko-2's internal mu/phi scale.
	scale = 173.7178
	// baseRating is the public-scale center (mu=0 maps here).
	baseRating = 1500.0
	// tau bounds how much volatility can change in one period.
	tau = 0.5
	// epsilon is the Illinois-method convergence tolerance.
	epsilon = 1e-6
	// maxIterations caps the volatility root-find; when the cap is
	// reached the search stops and the current estimate is used. No
	// error is reported for that case.
	maxIterations = 100

	minDeviation   = 30.0
	maxDeviation   = 500.0
	maxVolatility  = 0.1
)

// Rating is a (rating, deviation, volatility) triple on the public scale.
type Rating struct {
	Value      int
	Deviation  int
	Volatility float64
}

// OutcomeWeight maps a review grade to the Glicko-2 outcome score in
// [0,1]: {Again:0, Hard:0.5, Good:0.8, Easy:1.0}.
func OutcomeWeight(grade int) float64 {
	switch grade {
	case 0: // Again
		return 0
	case 1: // Hard
		return 0.5
	case 2: // Good
		return 0.8
	case 3: // Easy
		return 1.0
	default:
		return 0
	}
}

type internal struct {
	mu, phi, sigma float64
}

func toInternal(r Rating) internal {
	return internal{
		mu:    (float64(r.Value) - baseRating) / scale,
		phi:   float64(r.Deviation) / scale,
		sigma: r.Volatility,
	}
}

func (i internal) toRating() Rating {
	value := int(math.Round(i.mu*scale + baseRating))
	if value < 0 {
		value = 0
	}
	deviation := i.phi * scale
	if deviation < minDeviation {
		deviation = minDeviation
	}
	if deviation > maxDeviation {
		deviation = maxDeviation
	}
	volatility := i.sigma
	if volatility > maxVolatility {
		volatility = maxVolatility
	}
	return Rating{Value: value, Deviation: int(math.Round(deviation)), Volatility: volatility}
}

// Update applies a single-match Glicko-2 update to user against opponent
// (the puzzle's rating and deviation), given outcome in [0,1].
// opponentRating and opponentDeviation follow the convention of treating
// the puzzle as an unrated-but-fixed opponent: its own rating never
// changes.
func Update(user Rating, opponentRating, opponentDeviation int, outcome float64) Rating {
	r := toInternal(user)
	opp := internal{
		mu:  (float64(opponentRating) - baseRating) / scale,
		phi: float64(opponentDeviation) / scale,
	}

	gVal := g(opp.phi)
	eVal := e(r.mu, opp.mu, opp.phi)

	v := 1.0 / (gVal * gVal * eVal * (1 - eVal))
	delta := v * gVal * (outcome - eVal)

	newSigma := solveVolatility(r, v, delta)

	phiStar := math.Sqrt(r.phi*r.phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.mu + phiPrime*phiPrime*gVal*(outcome-eVal)

	return internal{mu: muPrime, phi: phiPrime, sigma: newSigma}.toRating()
}

// solveVolatility finds sigma' via the Illinois-bracketed regula falsi
// method, capping iterations rather than looping forever. This is a
// pure function with no error return: when the cap is reached it
// returns the estimate from the last bracket, and neither Update nor
// its callers report that case as an error.
func solveVolatility(r internal, v, delta float64) float64 {
	a := math.Log(r.sigma * r.sigma)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - r.phi*r.phi - v - ex)
		den := 2 * (r.phi*r.phi + v + ex) * (r.phi*r.phi + v + ex)
		return num/den - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta*delta > r.phi*r.phi+v {
		B = math.Log(delta*delta - r.phi*r.phi - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA := f(A)
	fB := f(B)
	for i := 0; i < maxIterations; i++ {
		if math.Abs(B-A) <= epsilon {
			break
		}
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB < 0 {
			A, fA = B, fB
		} else {
			fA = fA / 2
		}
		B, fB = C, fC
	}
	return math.Exp(A / 2)
}

func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/(math.Pi*math.Pi))
}

func e(mu, oppMu, oppPhi float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(oppPhi)*(mu-oppMu)))
}
