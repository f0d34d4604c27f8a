package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version string

	// Global flags
	flagAPIURL  string
	flagAPIKey  string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "vulnscan-admin",
	Short: "VulnScan engine administration CLI",
	Long: `vulnscan-admin is an operator CLI for the VulnScan scan engine.

It inspects job queues and manages dead-lettered tasks: scans that
exhausted their retry budget stay archived until an operator requeues
or deletes them.

Connection settings come from flags or the VULNSCAN_API_URL and
VULNSCAN_ADMIN_KEY environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "Engine API URL (env: VULNSCAN_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "Admin API key (env: VULNSCAN_ADMIN_KEY)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(queuesCmd)
}

func initConfig() {
	if flagAPIURL == "" {
		flagAPIURL = os.Getenv("VULNSCAN_API_URL")
	}
	if flagAPIKey == "" {
		flagAPIKey = os.Getenv("VULNSCAN_ADMIN_KEY")
	}
	if flagAPIURL == "" {
		flagAPIURL = "http://localhost:8080"
	}
}

// mustClient builds the API client from global flags, exiting when the
// key is missing.
func mustClient() *Client {
	if flagAPIKey == "" {
		fmt.Fprintln(os.Stderr, "Error: admin API key required (--api-key or VULNSCAN_ADMIN_KEY)")
		os.Exit(1)
	}
	return NewClient(flagAPIURL, flagAPIKey, flagVerbose)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("vulnscan-admin %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
	},
}
