package ab

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Type is the tag a strategy is stored under as bandit_type. Stored records
// depend on these values, so they never change.
type Type string

const (
	TypeUniform          Type = "RandomBandit"
	TypeEpsilonGreedy    Type = "EpsilonGreedyBandit"
	TypeNaiveStochastic  Type = "NaiveStochasticBandit"
	TypeSoftmax          Type = "SoftmaxBandit"
	TypeAnnealingSoftmax Type = "AnnealingSoftmaxBandit"
	TypeThompson         Type = "ThompsonBandit"
)

// Strategy picks the next arm from the current counters. Suggest receives a
// non-empty slice it must not modify, and returns an index into it.
//
// The set of strategies is closed: each one must be registered with the codec.
type Strategy interface {
	Type() Type
	Validate() error
	Suggest(arms []Arm, r Rand) (int, error)
	params() Params
}

// Uniform picks an arm uniformly at random. Use it as the control.
type Uniform struct{}

func (Uniform) Type() Type      { return TypeUniform }
func (Uniform) Validate() error { return nil }
func (Uniform) params() Params  { return nil }

func (Uniform) Suggest(arms []Arm, r Rand) (int, error) {
	return r.IntN(len(arms)), nil
}

// EpsilonGreedy explores a random arm with probability Epsilon and otherwise
// exploits the arm with the best score.
type EpsilonGreedy struct {
	Epsilon float64
}

func (s EpsilonGreedy) Type() Type { return TypeEpsilonGreedy }

func (s EpsilonGreedy) Validate() error {
	if !(s.Epsilon >= 0 && s.Epsilon <= 1) {
		return fmt.Errorf("%w: epsilon %v not in [0, 1]", ErrInvalidParameter, s.Epsilon)
	}

	return nil
}

func (s EpsilonGreedy) params() Params {
	return Params{"epsilon": s.Epsilon}
}

func (s EpsilonGreedy) Suggest(arms []Arm, r Rand) (int, error) {
	if r.Float64() < s.Epsilon {
		return r.IntN(len(arms)), nil
	}

	best, bestScore := 0, greedyScore(arms[0])
	for i := 1; i < len(arms); i++ {
		if score := greedyScore(arms[i]); score > bestScore {
			best, bestScore = i, score
		}
	}

	return best, nil
}

// greedyScore is zero until the arm has one pull and one unit of reward, and
// the cumulative reward after that. It is not reward/pulls.
func greedyScore(a Arm) float64 {
	if a.Pulls < 1 || a.Reward < 1 {
		return 0
	}

	return a.Reward
}

// NaiveStochastic picks an arm with weight reward/pulls. The weights are not
// normalized, so when they sum below the draw the first arm wins.
type NaiveStochastic struct{}

func (NaiveStochastic) Type() Type      { return TypeNaiveStochastic }
func (NaiveStochastic) Validate() error { return nil }
func (NaiveStochastic) params() Params  { return nil }

func (NaiveStochastic) Suggest(arms []Arm, r Rand) (int, error) {
	weights := make([]float64, len(arms))
	for i, a := range arms {
		if a.Pulls == 0 {
			weights[i] = 1 / float64(len(arms))
			continue
		}
		weights[i] = a.Reward / float64(a.Pulls)
	}

	return walk(weights, r.Float64()), nil
}

// Softmax picks an arm with probability proportional to exp(reward/Tau).
// A lower Tau favors the leader more sharply.
type Softmax struct {
	Tau float64
}

func (s Softmax) Type() Type { return TypeSoftmax }

func (s Softmax) Validate() error {
	if !(s.Tau > 0) || math.IsInf(s.Tau, 0) {
		return fmt.Errorf("%w: tau %v must be positive", ErrInvalidParameter, s.Tau)
	}

	return nil
}

func (s Softmax) params() Params {
	return Params{"tau": s.Tau}
}

func (s Softmax) Suggest(arms []Arm, r Rand) (int, error) {
	return walk(softmax(arms, s.Tau), r.Float64()), nil
}

// annealingOffset keeps the temperature finite before the first pull.
const annealingOffset = 1e-7

// AnnealingSoftmax is Softmax with a temperature of 1/ln(total pulls + 1),
// which cools as data accumulates.
type AnnealingSoftmax struct{}

func (AnnealingSoftmax) Type() Type      { return TypeAnnealingSoftmax }
func (AnnealingSoftmax) Validate() error { return nil }
func (AnnealingSoftmax) params() Params  { return nil }

func (AnnealingSoftmax) Suggest(arms []Arm, r Rand) (int, error) {
	var total int64
	for _, a := range arms {
		total += a.Pulls
	}

	tau := 1 / math.Log(float64(total)+1+annealingOffset)
	return walk(softmax(arms, tau), r.Float64()), nil
}

// Thompson samples each arm's Beta posterior and picks the largest draw.
// Rewards are treated as Bernoulli successes, so an arm's reward must not
// exceed its pulls by more than the Beta prior. The zero value uses the
// uniform Beta(1, 1) prior. A prior that is set must be positive.
type Thompson struct {
	Alpha float64
	Beta  float64
}

func (s Thompson) Type() Type { return TypeThompson }

func (s Thompson) Validate() error {
	if s.unset() {
		return nil
	}
	for _, v := range []float64{s.Alpha, s.Beta} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: prior (%v, %v)", ErrInvalidParameter, s.Alpha, s.Beta)
		}
	}

	return nil
}

func (s Thompson) unset() bool {
	return s.Alpha == 0 && s.Beta == 0
}

// Prior returns the Beta prior, Beta(1, 1) when none is set.
func (s Thompson) Prior() (alpha, beta float64) {
	if s.unset() {
		return 1, 1
	}

	return s.Alpha, s.Beta
}

func (s Thompson) params() Params {
	if s.unset() {
		return nil
	}

	return Params{"prior": []any{s.Alpha, s.Beta}}
}

func (s Thompson) Suggest(arms []Arm, r Rand) (int, error) {
	alpha0, beta0 := s.Prior()
	src := source{r}

	best, bestDraw := 0, math.Inf(-1)
	for i, a := range arms {
		alpha := alpha0 + a.Reward
		beta := beta0 + float64(a.Pulls) - a.Reward
		if !(alpha > 0 && beta > 0) || math.IsInf(alpha, 0) || math.IsInf(beta, 0) {
			return 0, fmt.Errorf("%w: arm %q has Beta(%v, %v)",
				ErrInvalidDistributionParameters, a.ID, alpha, beta)
		}

		draw := distuv.Beta{Alpha: alpha, Beta: beta, Src: src}.Rand()
		if draw > bestDraw {
			best, bestDraw = i, draw
		}
	}

	return best, nil
}

// softmax returns exp(x_i - logsumexp(x)) with x_i = reward_i/tau, the
// normalized distribution computed without overflowing exp.
func softmax(arms []Arm, tau float64) []float64 {
	x := make([]float64, len(arms))
	for i, a := range arms {
		x[i] = a.Reward / tau
	}

	lse := floats.LogSumExp(x)
	for i := range x {
		x[i] = math.Exp(x[i] - lse)
	}

	return x
}

// walk returns the first index whose cumulative weight exceeds u, or 0.
func walk(weights []float64, u float64) int {
	var cum float64
	for i, w := range weights {
		cum += w
		if cum > u {
			return i
		}
	}

	return 0
}
