package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/forkline"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of forkline",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("forkline version %s\n", version())
	},
}

func version() string {
	return strings.TrimSpace(forkline.Version)
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
