package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"clinic-backup-sync/internal/integrity"
)

var (
	verifyDir       string
	artifactPattern string
)

// checksumCmd represents the checksum command
var checksumCmd = &cobra.Command{
	Use:   "checksum",
	Short: "Create and verify backup checksums",
	Long: `Create and verify SHA-256 checksums for backup files.

Each backup gets a sidecar file named <backup>.sha256 containing a line like
  SHA256 (backup-2024.tar) = 2cf24dba...
Sidecars holding only the bare 64-character digest are accepted as well.

Examples:
  # Store checksums for new backups
  clinic-backup-sync checksum store /var/backups/backup-2024.tar

  # Verify specific backups
  clinic-backup-sync checksum verify /var/backups/backup-2024.tar

  # Verify all tar archives in a directory
  clinic-backup-sync checksum verify --dir /var/backups --pattern '*.tar*'`,
}

var checksumStoreCmd = &cobra.Command{
	Use:   "store <file>...",
	Short: "Compute and store checksums",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChecksumStore,
}

var checksumVerifyCmd = &cobra.Command{
	Use:   "verify [file]...",
	Short: "Verify files against their stored checksums",
	Long: `Verify files against their stored checksums.

Exits with a non-zero status when any file is missing its checksum, has an
unreadable checksum file, or no longer matches it.`,
	RunE: runChecksumVerify,
}

var checksumShowCmd = &cobra.Command{
	Use:   "show <file>...",
	Short: "Print the stored checksum of files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChecksumShow,
}

var checksumListCmd = &cobra.Command{
	Use:   "list <dir>",
	Short: "List backups in a directory with their stored checksums",
	Args:  cobra.ExactArgs(1),
	RunE:  runChecksumList,
}

var checksumValidateCmd = &cobra.Command{
	Use:   "validate <archive>",
	Short: "Validate a backup archive",
	Long: `Validate a backup archive.

The archive must exist, be large enough to hold a tar header, match its
stored checksum when one exists, and read through to the end without errors.
Compressed archives (.tar.gz, .tgz, .tar.zst, .tar.lz4) are decompressed on
the fly.`,
	Args: cobra.ExactArgs(1),
	RunE: runChecksumValidate,
}

func init() {
	rootCmd.AddCommand(checksumCmd)

	checksumCmd.AddCommand(checksumStoreCmd)
	checksumCmd.AddCommand(checksumVerifyCmd)
	checksumCmd.AddCommand(checksumShowCmd)
	checksumCmd.AddCommand(checksumListCmd)
	checksumCmd.AddCommand(checksumValidateCmd)

	checksumVerifyCmd.Flags().StringVar(&verifyDir, "dir", "", "verify every backup in this directory")
	checksumVerifyCmd.Flags().StringVar(&artifactPattern, "pattern", "*", "file name pattern used with --dir")
	checksumListCmd.Flags().StringVar(&artifactPattern, "pattern", "*", "file name pattern")
}

func runChecksumStore(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	service := integrity.NewService(s.logger)

	for _, path := range args {
		digest, err := service.ComputeAndStore(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("failed to store checksum for %s: %w", path, err)
		}
		if err := s.printer.PrintDigest(path, digest); err != nil {
			return err
		}
	}
	return nil
}

func runChecksumVerify(cmd *cobra.Command, args []string) error {
	if verifyDir == "" && len(args) == 0 {
		return fmt.Errorf("specify files to verify or --dir")
	}
	if verifyDir != "" && len(args) > 0 {
		return fmt.Errorf("--dir cannot be combined with file arguments")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	service := integrity.NewService(s.logger)
	ctx := cmd.Context()

	var (
		paths    []string
		outcomes []*integrity.VerificationOutcome
	)
	if verifyDir != "" {
		reports, err := service.VerifyDirectory(ctx, verifyDir, artifactPattern)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			s.printer.Warning(fmt.Sprintf("No backups matching %q in %s", artifactPattern, verifyDir))
			return nil
		}
		if err := s.printer.PrintArtifactReports(reports); err != nil {
			return err
		}
		for _, report := range reports {
			outcomes = append(outcomes, report.Outcome)
		}
	} else {
		for _, path := range args {
			outcome, err := service.Verify(ctx, path)
			if err != nil {
				return err
			}
			paths = append(paths, path)
			outcomes = append(outcomes, outcome)
		}
		if err := s.printer.PrintVerifications(paths, outcomes); err != nil {
			return err
		}
	}

	failed := 0
	for _, outcome := range outcomes {
		if !outcome.Valid {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed verification", failed, len(outcomes))
	}
	return nil
}

func runChecksumShow(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	missing := 0
	for _, path := range args {
		digest, ok := integrity.LoadStoredDigest(path)
		if !ok {
			s.printer.Error(fmt.Sprintf("%s: no valid checksum stored", path))
			missing++
			continue
		}
		if err := s.printer.PrintDigest(path, digest); err != nil {
			return err
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d files have no valid checksum", missing, len(args))
	}
	return nil
}

func runChecksumList(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	artifacts, err := integrity.ListArtifacts(args[0], artifactPattern)
	if err != nil {
		return err
	}
	return s.printer.PrintArtifacts(artifacts)
}

func runChecksumValidate(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	service := integrity.NewService(s.logger)

	result, err := service.ValidateBackup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := s.printer.PrintBackupValidation(args[0], result); err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("backup %s is not valid", args[0])
	}
	return nil
}
