package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
)

func producersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "producers",
		Short: "List configured producers and their scopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := producer.NewRegistry(cfg.ProducerConfigs())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCOPE\tAVAILABLE\tMAX INACTIVITY\tMAX RECOVERY\tRECOVERY WINDOW")
			for _, p := range reg.All() {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%s\t%s\n",
					p.ID(),
					p.Name(),
					p.Scope(),
					p.IsAvailable(),
					p.MaxInactivity(),
					p.MaxRecoveryDuration(),
					p.MaxAfterAge(),
				)
			}
			return w.Flush()
		},
	}
}
