package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alextanhongpin/mab/ab"
	"github.com/alextanhongpin/mab/ab/banditsim"
)

type simulateFlags struct {
	arms       []string
	strategies []string
	sims       int
	horizon    int
	seed       uint64
	epsilon    float64
	tau        float64
	alpha      float64
	beta       float64
	format     string
}

func newSimulateCmd(a *app) *cobra.Command {
	var f simulateFlags

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Compare bandit strategies against arms with known conversion rates",
		Example: `  mab simulate --arms green=0.9,red=0.1,blue=0.1 --sims 100 --horizon 1000
  mab simulate --arms a=0.01,b=0.98 --strategies ThompsonBandit --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sims, err := f.simulations()
			if err != nil {
				return err
			}

			results, err := banditsim.RunAll(cmd.Context(), sims...)
			if err != nil {
				return err
			}

			return writeResults(a.stdout, f.format, results)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&f.arms, "arms", []string{"green=0.9", "red=0.1", "blue=0.1"}, "arms as id=rate")
	flags.StringSliceVar(&f.strategies, "strategies", nil, "bandit types to compare (default all)")
	flags.IntVar(&f.sims, "sims", 100, "independent runs per strategy")
	flags.IntVar(&f.horizon, "horizon", 1000, "trials per run")
	flags.Uint64Var(&f.seed, "seed", 1, "random seed")
	flags.Float64Var(&f.epsilon, "epsilon", 0.1, "exploration rate of EpsilonGreedyBandit")
	flags.Float64Var(&f.tau, "tau", 0.1, "temperature of SoftmaxBandit")
	flags.Float64Var(&f.alpha, "alpha", 1, "Beta prior alpha of ThompsonBandit")
	flags.Float64Var(&f.beta, "beta", 1, "Beta prior beta of ThompsonBandit")
	flags.StringVarP(&f.format, "format", "o", "table", "output format, table or json")

	return cmd
}

func (f simulateFlags) simulations() ([]banditsim.Simulation, error) {
	if f.format != "table" && f.format != "json" {
		return nil, fmt.Errorf("%w: unknown format %q", ab.ErrInvalidParameter, f.format)
	}

	arms, err := parseArms(f.arms)
	if err != nil {
		return nil, err
	}

	types := ab.Types()
	if len(f.strategies) > 0 {
		types = make([]ab.Type, len(f.strategies))
		for i, s := range f.strategies {
			types[i] = ab.Type(s)
		}
	}

	params := ab.Params{
		"epsilon": f.epsilon,
		"tau":     f.tau,
		"prior":   []any{f.alpha, f.beta},
	}

	sims := make([]banditsim.Simulation, len(types))
	for i, t := range types {
		s, err := ab.NewStrategy(t, params)
		if err != nil {
			return nil, err
		}

		sims[i] = banditsim.Simulation{
			Name:     string(t),
			Strategy: s,
			Arms:     arms,
			Sims:     f.sims,
			Horizon:  f.horizon,
			Seed:     f.seed,
		}
	}

	return sims, nil
}

func parseArms(pairs []string) ([]banditsim.Arm, error) {
	arms := make([]banditsim.Arm, 0, len(pairs))
	for _, p := range pairs {
		id, rate, ok := strings.Cut(p, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("%w: arm %q is not id=rate", ab.ErrInvalidParameter, p)
		}

		r, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: arm %q: %w", ab.ErrInvalidParameter, p, err)
		}
		arms = append(arms, banditsim.Arm{ID: id, Rate: r})
	}

	return arms, nil
}

func writeResults(w io.Writer, format string, results []*banditsim.Result) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tTRIALS\tREWARD\tRATE\tBEST\tSHARE")
	for _, r := range results {
		best := r.Best()
		fmt.Fprintf(tw, "%s\t%d\t%.0f\t%.4f\t%s\t%.4f\n",
			r.Name, r.Trials, r.Reward, r.Reward/float64(r.Trials), best, r.Share(best))
	}

	return tw.Flush()
}
