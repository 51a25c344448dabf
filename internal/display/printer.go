package display

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"clinic-backup-sync/internal/integrity"
	"clinic-backup-sync/internal/replication"
)

// Printer renders command results in the configured output format
type Printer struct {
	config *DisplayConfig
	colors ColorSystem
	icons  *IconSet
	out    io.Writer
}

// NewPrinter creates a printer; a nil config means defaults
func NewPrinter(config *DisplayConfig) *Printer {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	structured := config.format() != FormatTable
	return &Printer{
		config: config,
		colors: NewColorSystem(config.GetColorTheme(), config.IsColorEnabled() && !structured),
		icons:  NewIconSet(config.IsIconsEnabled() && !structured),
		out:    config.Writer,
	}
}

func (dc *DisplayConfig) format() OutputFormat {
	return OutputFormat(strings.ToLower(dc.OutputFormat))
}

// Status messages

// Success prints a success line
func (p *Printer) Success(message string) {
	p.status("success", p.colors.GetTheme().Success, message)
}

// Warning prints a warning line
func (p *Printer) Warning(message string) {
	p.status("warning", p.colors.GetTheme().Warning, message)
}

// Error prints an error line
func (p *Printer) Error(message string) {
	p.status("error", p.colors.GetTheme().Error, message)
}

// Info prints an informational line
func (p *Printer) Info(message string) {
	if p.config.QuietMode {
		return
	}
	p.status("info", p.colors.GetTheme().Info, message)
}

func (p *Printer) status(icon string, clr Color, message string) {
	fmt.Fprintln(p.out, p.colors.Colorize(p.icons.Render(icon)+message, clr))
}

// Checksum output

type digestView struct {
	Path   string `json:"path" yaml:"path"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// PrintDigest prints a stored or computed digest in sha256sum layout
func (p *Printer) PrintDigest(path, digest string) error {
	switch p.config.format() {
	case FormatJSON, FormatYAML:
		return p.structured(digestView{Path: path, SHA256: digest})
	default:
		_, err := fmt.Fprintf(p.out, "%s  %s\n", digest, path)
		return err
	}
}

type verificationView struct {
	Path     string `json:"path" yaml:"path"`
	Valid    bool   `json:"valid" yaml:"valid"`
	Expected string `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual   string `json:"actual,omitempty" yaml:"actual,omitempty"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func newVerificationView(path string, outcome *integrity.VerificationOutcome) verificationView {
	return verificationView{
		Path:     path,
		Valid:    outcome.Valid,
		Expected: outcome.Expected,
		Actual:   outcome.Actual,
		Reason:   outcome.Reason,
	}
}

// PrintVerifications prints one line per verified file
func (p *Printer) PrintVerifications(paths []string, outcomes []*integrity.VerificationOutcome) error {
	views := make([]verificationView, len(paths))
	for i := range paths {
		views[i] = newVerificationView(paths[i], outcomes[i])
	}

	switch p.config.format() {
	case FormatJSON, FormatYAML:
		return p.structured(views)
	case FormatCompact:
		for _, v := range views {
			state := "OK"
			if !v.Valid {
				state = "FAILED"
			}
			fmt.Fprintf(p.out, "%s\t%s\t%s\n", state, v.Path, v.Reason)
		}
		return nil
	}

	for _, v := range views {
		if v.Valid {
			p.Success(fmt.Sprintf("%s: OK", v.Path))
		} else {
			p.Error(fmt.Sprintf("%s: %s", v.Path, v.Reason))
		}
	}
	return nil
}

// PrintArtifactReports prints the result of verifying a directory
func (p *Printer) PrintArtifactReports(reports []integrity.ArtifactReport) error {
	paths := make([]string, len(reports))
	outcomes := make([]*integrity.VerificationOutcome, len(reports))
	for i, report := range reports {
		paths[i] = report.Artifact.FileName
		outcomes[i] = report.Outcome
	}
	return p.PrintVerifications(paths, outcomes)
}

type artifactView struct {
	FileName   string    `json:"file_name" yaml:"file_name"`
	SizeBytes  int64     `json:"size_bytes" yaml:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
	Checksum   string    `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// PrintArtifacts prints a backup listing
func (p *Printer) PrintArtifacts(artifacts []integrity.ArtifactInfo) error {
	switch p.config.format() {
	case FormatJSON, FormatYAML:
		views := make([]artifactView, len(artifacts))
		for i, a := range artifacts {
			views[i] = artifactView{FileName: a.FileName, SizeBytes: a.SizeBytes, ModifiedAt: a.ModifiedAt.UTC(), Checksum: a.Checksum}
		}
		return p.structured(views)
	}

	if len(artifacts) == 0 {
		p.Info("No backups found")
		return nil
	}

	rows := make([][]string, 0, len(artifacts))
	for _, a := range artifacts {
		checksum := a.Checksum
		if checksum == "" {
			checksum = "-"
		} else if len(checksum) > 16 {
			checksum = checksum[:16] + "…"
		}
		rows = append(rows, []string{
			a.FileName,
			FormatBytes(a.SizeBytes),
			a.ModifiedAt.Local().Format("2006-01-02 15:04:05"),
			checksum,
		})
	}
	return p.table([]string{"NAME", "SIZE", "MODIFIED", "SHA256"}, rows)
}

type backupValidationView struct {
	Path            string   `json:"path" yaml:"path"`
	Valid           bool     `json:"valid" yaml:"valid"`
	Error           string   `json:"error,omitempty" yaml:"error,omitempty"`
	Checksum        string   `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	EntryCount      int      `json:"entry_count" yaml:"entry_count"`
	TopLevelEntries []string `json:"top_level_entries,omitempty" yaml:"top_level_entries,omitempty"`
}

// PrintBackupValidation prints the result of validating a backup archive
func (p *Printer) PrintBackupValidation(path string, result *integrity.BackupValidation) error {
	view := backupValidationView{
		Path:            path,
		Valid:           result.Valid,
		Error:           result.Error,
		Checksum:        result.Checksum,
		EntryCount:      result.EntryCount,
		TopLevelEntries: result.TopLevelEntries,
	}

	switch p.config.format() {
	case FormatJSON, FormatYAML:
		return p.structured(view)
	}

	if !view.Valid {
		p.Error(fmt.Sprintf("%s: %s", path, view.Error))
		return nil
	}
	p.Success(fmt.Sprintf("%s: valid backup, %d entries", path, view.EntryCount))
	if len(view.TopLevelEntries) > 0 {
		p.Info("Contents: " + strings.Join(view.TopLevelEntries, ", "))
	}
	return nil
}

// Replication output

type bucketView struct {
	Bucket  string `json:"bucket" yaml:"bucket"`
	Success bool   `json:"success" yaml:"success"`
	Objects int    `json:"objects" yaml:"objects"`
	Skipped int    `json:"skipped" yaml:"skipped"`
	Bytes   int64  `json:"bytes" yaml:"bytes"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

type syncOutcomeView struct {
	RunID    string       `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Success  bool         `json:"success" yaml:"success"`
	Objects  int          `json:"object_count" yaml:"object_count"`
	Skipped  int          `json:"skipped" yaml:"skipped"`
	Bytes    int64        `json:"bytes" yaml:"bytes"`
	Duration string       `json:"duration" yaml:"duration"`
	Message  string       `json:"message" yaml:"message"`
	Buckets  []bucketView `json:"buckets,omitempty" yaml:"buckets,omitempty"`
}

// PrintSyncOutcome prints the result of a replication run
func (p *Printer) PrintSyncOutcome(outcome *replication.SyncOutcome) error {
	view := syncOutcomeView{
		RunID:    outcome.RunID,
		Success:  outcome.Success,
		Objects:  outcome.ObjectCount,
		Skipped:  outcome.Skipped,
		Bytes:    outcome.Bytes,
		Duration: outcome.Duration.Round(time.Millisecond).String(),
		Message:  outcome.Message,
	}
	for _, b := range outcome.Buckets {
		view.Buckets = append(view.Buckets, bucketView(b))
	}

	switch p.config.format() {
	case FormatJSON, FormatYAML:
		return p.structured(view)
	}

	if view.Success {
		p.Success(fmt.Sprintf("Sync completed: %d objects (%s) uploaded, %d unchanged in %s",
			view.Objects, FormatBytes(view.Bytes), view.Skipped, view.Duration))
	} else {
		p.Error("Sync failed: " + view.Message)
	}

	if len(view.Buckets) > 1 {
		rows := make([][]string, 0, len(view.Buckets))
		for _, b := range view.Buckets {
			state := "OK"
			if !b.Success {
				state = "FAILED"
			}
			rows = append(rows, []string{b.Bucket, state, fmt.Sprint(b.Objects), fmt.Sprint(b.Skipped), FormatBytes(b.Bytes)})
		}
		return p.table([]string{"BUCKET", "STATUS", "UPLOADED", "UNCHANGED", "SIZE"}, rows)
	}
	return nil
}

type replicationStatusView struct {
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	CronExpression string     `json:"cron_expression" yaml:"cron_expression"`
	SyncMode       string     `json:"sync_mode" yaml:"sync_mode"`
	SourceDir      string     `json:"source_dir" yaml:"source_dir"`
	Buckets        []string   `json:"buckets,omitempty" yaml:"buckets,omitempty"`
	Target         string     `json:"target" yaml:"target"`
	NextRun        *time.Time `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty" yaml:"last_sync_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty" yaml:"last_sync_status,omitempty"`
	LastSyncFiles  int        `json:"last_sync_files" yaml:"last_sync_files"`
	LastSyncBytes  int64      `json:"last_sync_bytes" yaml:"last_sync_bytes"`
}

// PrintReplicationStatus prints the stored replication configuration and
// the next time it would fire
func (p *Printer) PrintReplicationStatus(config *replication.ReplicationConfig, next time.Time, hasNext bool) error {
	target := "not configured"
	if config.Target.IsConfigured() {
		target = string(config.Target.Provider)
		if config.Target.Prefix != "" {
			target += " (prefix " + config.Target.Prefix + ")"
		}
	}

	view := replicationStatusView{
		Enabled:        config.Enabled,
		CronExpression: config.CronExpression,
		SyncMode:       string(config.SyncMode),
		SourceDir:      config.SourceDir,
		Buckets:        config.Buckets,
		Target:         target,
		LastSyncAt:     config.LastSyncAt,
		LastSyncStatus: config.LastSyncStatus,
		LastSyncFiles:  config.LastSyncFiles,
		LastSyncBytes:  config.LastSyncBytes,
	}
	if hasNext {
		view.NextRun = &next
	}

	switch p.config.format() {
	case FormatJSON, FormatYAML:
		return p.structured(view)
	}

	state := p.colors.Colorize(p.icons.Render("disabled")+"disabled", p.colors.GetTheme().Warning)
	if view.Enabled {
		state = p.colors.Colorize(p.icons.Render("success")+"enabled", p.colors.GetTheme().Success)
	}

	buckets := "(whole directory)"
	if len(view.Buckets) > 0 {
		buckets = strings.Join(view.Buckets, ", ")
	}

	rows := [][]string{
		{"Replication", state},
		{"Schedule", view.CronExpression},
		{"Mode", view.SyncMode},
		{"Source", view.SourceDir},
		{"Buckets", buckets},
		{"Target", view.Target},
	}
	if view.NextRun != nil {
		rows = append(rows, []string{"Next run", FormatTime(*view.NextRun)})
	}
	if view.LastSyncAt != nil {
		rows = append(rows,
			[]string{"Last sync", FormatTime(*view.LastSyncAt)},
			[]string{"Last status", view.LastSyncStatus},
			[]string{"Last volume", fmt.Sprintf("%d files, %s", view.LastSyncFiles, FormatBytes(view.LastSyncBytes))},
		)
	}
	return p.table(nil, rows)
}

// PrintNextRuns prints upcoming fire times of a cron expression
func (p *Printer) PrintNextRuns(expr string, runs []time.Time) error {
	switch p.config.format() {
	case FormatJSON, FormatYAML:
		return p.structured(map[string]interface{}{"cron_expression": expr, "next_runs": runs})
	}

	if len(runs) == 0 {
		p.Warning(fmt.Sprintf("%q never fires", expr))
		return nil
	}
	for _, run := range runs {
		fmt.Fprintln(p.out, p.icons.Render("clock")+FormatTime(run))
	}
	return nil
}

type targetCheckView struct {
	Provider string `json:"provider" yaml:"provider"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	Healthy  bool   `json:"healthy" yaml:"healthy"`
	Duration string `json:"duration" yaml:"duration"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// PrintTargetCheck prints the result of a storage target health check.
// A nil err means the target is reachable and writable.
func (p *Printer) PrintTargetCheck(provider, location string, duration time.Duration, err error) error {
	view := targetCheckView{
		Provider: provider,
		Location: location,
		Healthy:  err == nil,
		Duration: duration.Round(time.Millisecond).String(),
	}
	if err != nil {
		view.Error = err.Error()
	}

	switch p.config.format() {
	case FormatJSON, FormatYAML:
		return p.structured(view)
	}

	name := view.Provider + " target"
	if view.Location != "" {
		name += " " + view.Location
	}
	if !view.Healthy {
		p.Error(fmt.Sprintf("%s is not usable: %s", name, view.Error))
		return nil
	}
	p.Success(fmt.Sprintf("%s is reachable and writable (%s)", name, view.Duration))
	return nil
}

// helpers

func (p *Printer) structured(v interface{}) error {
	if p.config.format() == FormatYAML {
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal output to YAML: %w", err)
		}
		_, err = p.out.Write(data)
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output to JSON: %w", err)
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

func (p *Printer) table(headers []string, rows [][]string) error {
	w := tabwriter.NewWriter(p.out, 0, 0, 2, ' ', 0)
	if len(headers) > 0 {
		fmt.Fprintln(w, strings.Join(headers, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

// FormatBytes renders a byte count with binary units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatTime renders an instant in UTC and local time
func FormatTime(t time.Time) string {
	utc := t.UTC().Format("2006-01-02 15:04 MST")
	local := t.Local()
	if _, offset := local.Zone(); offset == 0 {
		return utc
	}
	return fmt.Sprintf("%s (%s)", utc, local.Format("15:04 MST"))
}
