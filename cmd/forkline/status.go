package main

import (
	"fmt"

	"github.com/aretw0/forkline/internal/cli"
	"github.com/aretw0/forkline/internal/presentation/graph"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the fork chain",
	Long:  `Renders the persisted fork chain. This command is read-only and does not need credentials.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := cli.NewStore(cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		state, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}

		if mermaid, _ := cmd.Flags().GetBool("mermaid"); mermaid {
			fmt.Print(graph.GenerateMermaid(state))
			return nil
		}
		return newPrinter().Status(state)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().Bool("mermaid", false, "print the chain as a Mermaid flowchart")
}
