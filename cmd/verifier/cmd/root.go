package cmd

import (
	"fmt"
	"os"

	"instrument-verification-service/cmd/verifier/config"
	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// appConfig is loaded before any subcommand runs
	appConfig *config.AppConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "verifier",
	Short: "Check and cash instrument verification tool",
	Long: `Verifier keeps a store of customer check and cash instruments, verifies
them against the check registry and reconciles the registry's answer with the
recorded amount and due date.

Examples:
  verifier records import --file records.yaml
  verifier verify --customer 42 --format xlsx --output batch.xlsx
  verifier verify-one 17
  verifier ras --customer 42
  verifier serve --addr :8080`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// loadConfig reads the config file and environment, then installs the
// global logger and calendar zone.
func loadConfig(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.FileError(errors.CodeFileNotFound, cfgFile, err).
				WithSuggestion("Check the --config path")
		}
	}
	config.BindEnv(v)

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LoggerConfig(v.GetBool("verbose")))
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log, err)
	}
	logger.SetGlobalLogger(log)
	cfg.ApplyCalendar()

	if cfgFile != "" && v.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	}

	appConfig = cfg
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
