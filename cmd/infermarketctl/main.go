// Command infermarketctl is an operator/developer CLI for the coordinator's
// REST API: account registration, node registration, session lifecycle, and
// wallet inspection, without needing to hand-craft curl requests.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var coordinatorURL string

var rootCmd = &cobra.Command{
	Use:   "infermarketctl",
	Short: "Command-line client for the infermarket coordinator API",
	Long: `infermarketctl talks to a running coordinator over its REST API.

It stores the bearer token issued by "register"/"login" under
~/.infermarket/token and attaches it to every subsequent authenticated
command, the same way a browser client would after a successful login.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "url", "http://localhost:8080", "coordinator base URL")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(meCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(registerNodeCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(walletCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
