package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clinic-backup-sync/internal/config"
	"clinic-backup-sync/internal/display"
	"clinic-backup-sync/internal/logging"
)

var cfgFile string

// CLI flag variables
var (
	verbose bool
	quiet   bool
	logFile string

	// Display flags
	noColor      bool
	noIcons      bool
	theme        string
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clinic-backup-sync",
	Short: "Checksum clinic backups and replicate them to cloud storage",
	Long: `clinic-backup-sync signs and verifies backup archives with SHA-256
sidecar files and replicates the backup directory to a remote object store
(S3, MinIO, Azure Blob, Google Cloud Storage or a local directory) on a cron
schedule read from live configuration.

Examples:
  # Store a checksum next to a backup
  clinic-backup-sync checksum store /var/backups/backup-2024.tar

  # Verify every backup in a directory
  clinic-backup-sync checksum verify --dir /var/backups

  # Run the replication scheduler until interrupted
  clinic-backup-sync replicate run

  # Trigger a replication run right now, JSON output
  clinic-backup-sync replicate now --format=json`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	config.Configure(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.clinic-backup-sync.yaml)")

	// Operation flags
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this file")

	// Config source flags
	flags.String("source", config.SourceFile, "replication config source (file, mysql)")
	flags.String("replication-config", "replication.yaml", "replication config file for the file source")
	flags.String("dsn", "", "MySQL DSN for the mysql source")

	// Display flags
	flags.BoolVar(&noColor, "no-color", false, "disable color output")
	flags.BoolVar(&noIcons, "no-icons", false, "disable Unicode icons")
	flags.StringVar(&theme, "theme", "dark", "color theme (dark, light, high-contrast, plain)")
	flags.StringVar(&outputFormat, "format", "table", "output format (table, json, yaml, compact)")

	// Bind flags to viper
	viper.BindPFlag("logging.file", flags.Lookup("log-file"))
	viper.BindPFlag("config_source.type", flags.Lookup("source"))
	viper.BindPFlag("config_source.path", flags.Lookup("replication-config"))
	viper.BindPFlag("config_source.dsn", flags.Lookup("dsn"))
	viper.BindPFlag("display.theme", flags.Lookup("theme"))
	viper.BindPFlag("display.output_format", flags.Lookup("format"))

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".clinic-backup-sync" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".clinic-backup-sync")
	}

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		cobra.CheckErr(fmt.Errorf("failed to read config file %s: %w", cfgFile, err))
	}
}

// buildConfig loads the application configuration and applies the
// inverted and shorthand flags viper cannot bind directly
func buildConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	if verbose {
		appConfig.Logging.Level = string(logging.LogLevelVerbose)
	}
	if quiet {
		appConfig.Logging.Level = string(logging.LogLevelQuiet)
		appConfig.Display.QuietMode = true
	}
	if cmd.Flags().Changed("no-color") {
		appConfig.Display.ColorEnabled = !noColor
	}
	if cmd.Flags().Changed("no-icons") {
		appConfig.Display.UseIcons = !noIcons
	}
	appConfig.Display.Writer = cmd.OutOrStdout()

	return appConfig, nil
}

// session bundles what every command needs
type session struct {
	config  *config.AppConfig
	logger  *logging.Logger
	printer *display.Printer
}

func newSession(cmd *cobra.Command) (*session, error) {
	appConfig, err := buildConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return &session{
		config:  appConfig,
		logger:  logger,
		printer: display.NewPrinter(&appConfig.Display),
	}, nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "clinic-backup-sync version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

Examples:
  clinic-backup-sync config > ~/.clinic-backup-sync.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), sampleConfig)
		},
	}
}

const sampleConfig = `# clinic-backup-sync configuration
# Every key can be overridden with a CBS_ environment variable,
# e.g. CBS_SCHEDULER_RETRY_INTERVAL=10m or CBS_CONFIG_SOURCE_DSN=...

logging:
  level: normal           # quiet, normal, verbose, debug
  format: text            # text or json
  file: ""                # optional log file, in addition to stderr
  show_caller: false

display:
  color_enabled: true
  theme: dark             # dark, light, high-contrast, plain
  output_format: table    # table, json, yaml, compact
  use_icons: true
  quiet: false

# Where the live replication settings (enabled, cron, target) are stored.
# They are re-read before every scheduled run.
config_source:
  type: file              # file or mysql
  path: replication.yaml
  dsn: ""                 # user:pass@tcp(host:3306)/clinic?parseTime=true

scheduler:
  warm_up: 60s            # delay before the first poll
  retry_interval: 5m      # sleep after errors or while disabled
  location: UTC           # time zone cron expressions are evaluated in

sync:
  parallelism: 4          # concurrent uploads per bucket
  retry:
    max_attempts: 3
    base_delay: 1s
    max_delay: 30s
    multiplier: 2
`
