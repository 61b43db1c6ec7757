package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "solanax402d",
	Short: "Payment-gated HTTP resource server",
	Long:  "A demo server that charges stablecoin micropayments for HTTP resources over the x402 flow: 402 challenge, on-chain payment, retry with proof.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
