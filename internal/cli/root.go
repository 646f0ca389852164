package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "selune",
	Short: "Selune - conversational agent session manager",
	Long: `Selune manages durable chat sessions against a remote agent platform:
lazy agent and thread provisioning, tool-calling runs, and flat-file JSON
persistence that survives restarts.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.selune/selune.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}
