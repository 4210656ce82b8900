// Command apviewctl is the operator CLI for apview: it signs and verifies
// media URLs and maintains the cache.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "apviewctl",
	Short:         "Operator tools for the apview server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(newSignCmd(), newVerifyCmd(), newCacheCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
