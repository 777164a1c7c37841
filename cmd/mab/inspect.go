package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alextanhongpin/mab/ab"
	"github.com/alextanhongpin/mab/ab/experiment"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [experiment...]",
		Short: "Print the stored bandits",
		RunE: func(cmd *cobra.Command, names []string) error {
			ctx := cmd.Context()

			store, closeStore, err := openStore(ctx, a.cfg.Storage, a.logger)
			if err != nil {
				return err
			}
			defer closeStore()

			bandits, err := store.Load(ctx)
			if err != nil {
				return err
			}

			if len(names) > 0 {
				all := bandits
				bandits = make(map[string]*ab.Bandit, len(names))
				for _, name := range names {
					b, ok := all[name]
					if !ok {
						return fmt.Errorf("%w: %q", experiment.ErrExperimentNotFound, name)
					}
					bandits[name] = b
				}
			}

			data, err := ab.MarshalBandits(bandits)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(a.stdout, string(data))
			return err
		},
	}
}
