// Package banditsim runs Monte Carlo simulations of bandit strategies against
// arms with known Bernoulli conversion rates.
package banditsim

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/alextanhongpin/mab/ab"
)

// Arm converts with probability Rate on each pull.
type Arm struct {
	ID   string  `json:"id"`
	Rate float64 `json:"rate"`
}

// Simulation plays Sims independent runs of Horizon trials. Each run starts
// from a fresh bandit. Runs are seeded from Seed, so a simulation is
// reproducible.
type Simulation struct {
	Name     string
	Strategy ab.Strategy
	Arms     []Arm
	Sims     int
	Horizon  int
	Seed     uint64
}

func (s Simulation) validate() error {
	if s.Strategy == nil {
		return fmt.Errorf("%w: nil strategy", ab.ErrInvalidParameter)
	}
	if s.Sims < 1 || s.Horizon < 1 {
		return fmt.Errorf("%w: sims %d and horizon %d must be positive", ab.ErrInvalidParameter, s.Sims, s.Horizon)
	}
	if len(s.Arms) == 0 {
		return ab.ErrNoArmsRegistered
	}
	for _, a := range s.Arms {
		if !(a.Rate >= 0 && a.Rate <= 1) {
			return fmt.Errorf("%w: arm %q rate %v not in [0, 1]", ab.ErrInvalidParameter, a.ID, a.Rate)
		}
	}

	return nil
}

// Result aggregates every trial of a simulation.
type Result struct {
	Name       string             `json:"name"`
	Type       ab.Type            `json:"type"`
	Trials     int64              `json:"trials"`
	Reward     float64            `json:"reward"`
	Selections map[string]int64   `json:"selections"`
	Rewards    map[string]float64 `json:"rewards"`

	arms []string
}

// Best returns the most selected arm. Ties go to the arm declared first.
func (r *Result) Best() string {
	var (
		best string
		most int64 = -1
	)
	for _, id := range r.arms {
		if n := r.Selections[id]; n > most {
			best, most = id, n
		}
	}

	return best
}

// Share returns the fraction of trials that selected the arm.
func (r *Result) Share(id string) float64 {
	if r.Trials == 0 {
		return 0
	}

	return float64(r.Selections[id]) / float64(r.Trials)
}

// Run plays the simulation: suggest, pull, draw the Bernoulli outcome and
// reward on success.
func Run(ctx context.Context, s Simulation) (*Result, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}

	res := &Result{
		Name:       s.Name,
		Type:       s.Strategy.Type(),
		Selections: make(map[string]int64, len(s.Arms)),
		Rewards:    make(map[string]float64, len(s.Arms)),
		arms:       make([]string, len(s.Arms)),
	}
	rates := make(map[string]float64, len(s.Arms))
	for i, a := range s.Arms {
		res.arms[i] = a.ID
		rates[a.ID] = a.Rate
	}

	for sim := range s.Sims {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r := ab.NewRandWithSeeds(s.Seed, uint64(sim))
		b, err := newBandit(s, r)
		if err != nil {
			return nil, err
		}

		for range s.Horizon {
			arm, err := b.SuggestArm()
			if err != nil {
				return nil, err
			}
			if err := b.PullArm(arm.ID); err != nil {
				return nil, err
			}

			res.Trials++
			res.Selections[arm.ID]++
			if r.Float64() >= rates[arm.ID] {
				continue
			}

			if err := b.RewardArm(arm.ID, 1); err != nil {
				return nil, err
			}
			res.Reward++
			res.Rewards[arm.ID]++
		}
	}

	return res, nil
}

func newBandit(s Simulation, r ab.Rand) (*ab.Bandit, error) {
	b, err := ab.New(s.Strategy, ab.WithRand(r))
	if err != nil {
		return nil, err
	}
	for _, a := range s.Arms {
		if err := b.AddArm(a.ID, a.Rate); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// RunAll runs the simulations concurrently and returns the results in the
// same order. The first failure cancels the rest.
func RunAll(ctx context.Context, sims ...Simulation) ([]*Result, error) {
	results := make([]*Result, len(sims))

	g, ctx := errgroup.WithContext(ctx)
	for i, s := range sims {
		g.Go(func() error {
			res, err := Run(ctx, s)
			if err != nil {
				return fmt.Errorf("simulation %q: %w", s.Name, err)
			}

			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Ranked returns the arms of the result ordered by selections, most first.
func (r *Result) Ranked() []string {
	ids := slices.Clone(r.arms)
	slices.SortStableFunc(ids, func(a, b string) int {
		return cmp.Compare(r.Selections[b], r.Selections[a])
	})

	return ids
}
