package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "Operator tooling for the RADIUS account portal",
	Long: `Operator tooling for the RADIUS account portal. Usage:

	portalctl migrate up
	portalctl schema check
	portalctl accounts list
`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
