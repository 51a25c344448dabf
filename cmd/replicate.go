package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clinic-backup-sync/internal/config"
	apperrors "clinic-backup-sync/internal/errors"
	"clinic-backup-sync/internal/logging"
	"clinic-backup-sync/internal/replication"
	"clinic-backup-sync/internal/storage"
)

var (
	nextCount int
	nextCron  string
)

// replicateCmd represents the replicate command
var replicateCmd = &cobra.Command{
	Use:   "replicate",
	Short: "Replicate backups to cloud storage",
	Long: `Replicate the local backup directory to a remote object store.

The replication settings (enabled flag, cron schedule, sync mode, source
directory, buckets and target) are read from the config source on every
scheduler wake, so edits take effect without restarting "replicate run".

Examples:
  # Run the scheduler in the foreground
  clinic-backup-sync replicate run

  # Replicate every night at 02:30 and enable replication
  clinic-backup-sync replicate set-cron "30 2 * * *"
  clinic-backup-sync replicate enable

  # Show the next five run times
  clinic-backup-sync replicate next --count 5

  # Check that the configured target accepts writes
  clinic-backup-sync replicate test`,
}

var replicateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the replication scheduler until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runReplicateRun,
}

var replicateNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Replicate immediately",
	Args:  cobra.NoArgs,
	RunE:  runReplicateNow,
}

var replicateNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show upcoming scheduled run times",
	Args:  cobra.NoArgs,
	RunE:  runReplicateNext,
}

var replicateTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the configured storage target is reachable and writable",
	Args:  cobra.NoArgs,
	RunE:  runReplicateTest,
}

var replicateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replication settings and the last run",
	Args:  cobra.NoArgs,
	RunE:  runReplicateStatus,
}

var replicateEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable scheduled replication",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setReplicationEnabled(cmd, true)
	},
}

var replicateDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable scheduled replication",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setReplicationEnabled(cmd, false)
	},
}

var replicateSetCronCmd = &cobra.Command{
	Use:   "set-cron <expression>",
	Short: "Change the replication schedule",
	Long: `Change the replication schedule.

The expression uses the standard five fields: minute, hour, day of month,
month and day of week. A running scheduler picks the change up at its next
wake.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplicateSetCron,
}

func init() {
	rootCmd.AddCommand(replicateCmd)

	replicateCmd.AddCommand(replicateRunCmd)
	replicateCmd.AddCommand(replicateNowCmd)
	replicateCmd.AddCommand(replicateNextCmd)
	replicateCmd.AddCommand(replicateTestCmd)
	replicateCmd.AddCommand(replicateStatusCmd)
	replicateCmd.AddCommand(replicateEnableCmd)
	replicateCmd.AddCommand(replicateDisableCmd)
	replicateCmd.AddCommand(replicateSetCronCmd)

	replicateRunCmd.Flags().Duration("warm-up", 60*time.Second, "delay before the first poll")
	viper.BindPFlag("scheduler.warm_up", replicateRunCmd.Flags().Lookup("warm-up"))

	replicateNextCmd.Flags().IntVar(&nextCount, "count", 3, "number of run times to show")
	replicateNextCmd.Flags().StringVar(&nextCron, "cron", "", "expression to evaluate instead of the stored one")
}

// openConfigStore opens the replication config source selected in the
// application config. With deferConnect the MySQL source is not contacted
// until the first read, so a database that is down at startup becomes a
// retryable scheduler error.
func openConfigStore(ctx context.Context, appConfig *config.AppConfig, logger *logging.Logger, deferConnect bool) (replication.ConfigStore, func(), error) {
	switch appConfig.ConfigSource.Type {
	case config.SourceMySQL:
		var (
			provider *replication.MySQLConfigProvider
			err      error
		)
		if deferConnect {
			provider, err = replication.ConnectMySQLConfigProvider(appConfig.ConfigSource.DSN, logger)
		} else {
			provider, err = replication.OpenMySQLConfigProvider(ctx, appConfig.ConfigSource.DSN, logger)
		}
		if err != nil {
			return nil, nil, err
		}
		return provider, func() {
			if err := provider.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close config store")
			}
		}, nil
	default:
		provider := replication.NewFileConfigProvider(appConfig.ConfigSource.Path)
		logger.WithField("path", provider.Path()).Debug("Using file config store")
		return provider, func() {}, nil
	}
}

func newCloudSyncer(store replication.ConfigStore, appConfig *config.AppConfig, logger *logging.Logger) *replication.CloudSyncer {
	return replication.NewCloudSyncer(store, logger,
		replication.WithParallelism(appConfig.Sync.Parallelism),
		replication.WithRetryConfig(appConfig.RetryConfig()),
	)
}

func runReplicateRun(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	location, err := s.config.SchedulerLocation()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownHandler := apperrors.NewGracefulShutdownHandler()
	shutdownHandler.RegisterShutdownFunc(func() error {
		s.logger.Info("Received shutdown signal, stopping scheduler")
		cancel()
		return nil
	})
	shutdownHandler.Start()
	defer shutdownHandler.Stop()

	store, closeStore, err := openConfigStore(ctx, s.config, s.logger, true)
	if err != nil {
		return err
	}
	defer closeStore()

	scheduler := replication.NewScheduler(store, newCloudSyncer(store, s.config, s.logger), s.logger,
		replication.WithWarmUp(s.config.Scheduler.WarmUp),
		replication.WithRetryInterval(s.config.Scheduler.RetryInterval),
		replication.WithLocation(location),
	)
	return scheduler.Run(ctx)
}

func runReplicateNow(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, closeStore, err := openConfigStore(ctx, s.config, s.logger, false)
	if err != nil {
		return err
	}
	defer closeStore()

	outcome, err := newCloudSyncer(store, s.config, s.logger).SyncNow(ctx)
	if err != nil {
		return err
	}
	if err := s.printer.PrintSyncOutcome(outcome); err != nil {
		return err
	}
	if !outcome.Success {
		return fmt.Errorf("replication run %s did not succeed", outcome.RunID)
	}
	return nil
}

func runReplicateTest(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, closeStore, err := openConfigStore(ctx, s.config, s.logger, false)
	if err != nil {
		return err
	}
	defer closeStore()

	replicationConfig, err := store.GetConfig(ctx)
	if err != nil {
		return err
	}
	if !replicationConfig.Target.IsConfigured() {
		return apperrors.NewConfigurationError("remote target is not configured", nil)
	}

	provider := string(replicationConfig.Target.Provider)
	location := ""
	start := time.Now()
	target, checkErr := storage.NewObjectStore(ctx, replicationConfig.Target)
	if checkErr == nil {
		defer storage.CloseStore(target)
		location = target.Describe()
		checkErr = target.HealthCheck(ctx)
	}
	duration := time.Since(start)
	s.logger.WithFields(map[string]interface{}{
		"provider": provider,
		"target":   location,
		"duration": duration.String(),
		"healthy":  checkErr == nil,
	}).Debug("Storage target checked")

	if err := s.printer.PrintTargetCheck(provider, location, duration, checkErr); err != nil {
		return err
	}
	if checkErr != nil {
		return fmt.Errorf("%s storage target failed its health check", provider)
	}
	return nil
}

func runReplicateNext(cmd *cobra.Command, args []string) error {
	if nextCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	location, err := s.config.SchedulerLocation()
	if err != nil {
		return err
	}

	expr := nextCron
	if expr == "" {
		ctx := cmd.Context()
		store, closeStore, err := openConfigStore(ctx, s.config, s.logger, false)
		if err != nil {
			return err
		}
		defer closeStore()

		replicationConfig, err := store.GetConfig(ctx)
		if err != nil {
			return err
		}
		if !replicationConfig.Enabled {
			s.printer.Warning("Replication is disabled; showing when it would run")
		}
		expr = replicationConfig.CronExpression
	}

	if _, err := replication.ParseCron(expr); err != nil {
		return err
	}
	return s.printer.PrintNextRuns(expr, upcomingRuns(expr, time.Now().In(location), nextCount))
}

func upcomingRuns(expr string, from time.Time, count int) []time.Time {
	runs := make([]time.Time, 0, count)
	for len(runs) < count {
		next, ok := replication.NextFireTime(expr, from)
		if !ok {
			break
		}
		runs = append(runs, next)
		from = next
	}
	return runs
}

func runReplicateStatus(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, closeStore, err := openConfigStore(ctx, s.config, s.logger, false)
	if err != nil {
		return err
	}
	defer closeStore()

	replicationConfig, err := store.GetConfig(ctx)
	if err != nil {
		return err
	}

	var (
		next    time.Time
		hasNext bool
	)
	if replicationConfig.Enabled {
		location, err := s.config.SchedulerLocation()
		if err != nil {
			return err
		}
		next, hasNext = replication.NextFireTime(replicationConfig.CronExpression, time.Now().In(location))
	}
	return s.printer.PrintReplicationStatus(replicationConfig, next, hasNext)
}

func setReplicationEnabled(cmd *cobra.Command, enabled bool) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, closeStore, err := openConfigStore(ctx, s.config, s.logger, false)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := store.UpdateConfig(ctx, func(c *replication.ReplicationConfig) {
		c.Enabled = enabled
	}); err != nil {
		return err
	}

	if enabled {
		s.printer.Success("Replication enabled")
	} else {
		s.printer.Success("Replication disabled")
	}
	return nil
}

func runReplicateSetCron(cmd *cobra.Command, args []string) error {
	expr := args[0]
	if _, err := replication.ParseCron(expr); err != nil {
		return err
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, closeStore, err := openConfigStore(ctx, s.config, s.logger, false)
	if err != nil {
		return err
	}
	defer closeStore()

	updated, err := store.UpdateConfig(ctx, func(c *replication.ReplicationConfig) {
		c.CronExpression = expr
	})
	if err != nil {
		return err
	}

	s.printer.Success(fmt.Sprintf("Schedule set to %q", updated.CronExpression))
	if !updated.Enabled {
		s.printer.Info("Replication is disabled; run \"replicate enable\" to start it")
	}
	return nil
}
