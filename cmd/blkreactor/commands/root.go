// Package commands implements the blkreactor CLI.
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhalvorsen/go-blkreactor/internal/logging"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"

	// Global flags.
	cfgFile   string
	logLevel  string
	logFormat string

	// exitCode is set by commands whose shutdown carries a status, so main
	// can exit with it after all deferred cleanup has run.
	exitCode int
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "blkreactor",
	Short: "blkreactor - polled block I/O dispatch engine",
	Long: `blkreactor runs a pool of core-pinned reactors that drive cooperative
work units against a shared block device through exclusive polled queues.

Use "blkreactor [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		logging.SetDefault(logging.NewLogger(&logging.Config{
			Level:  logging.ParseLevel(viper.GetString("log.level")),
			Format: viper.GetString("log.format"),
			Output: cmd.ErrOrStderr(),
		}))
		return nil
	},
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// ExitCode returns the process exit code recorded by the executed command.
func ExitCode() int {
	return exitCode
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: blkreactor.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("blkreactor")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("BLKREACTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config is fine; flags and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "blkreactor %s (%s)\n", Version, Commit)
	},
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
