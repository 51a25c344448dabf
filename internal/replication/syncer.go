package replication

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "clinic-backup-sync/internal/errors"
	"clinic-backup-sync/internal/integrity"
	"clinic-backup-sync/internal/logging"
	"clinic-backup-sync/internal/storage"
)

const (
	// DefaultParallelism bounds concurrent uploads within one bucket
	DefaultParallelism = 4

	// remote timestamps are compared with this much slack
	mtimeTolerance = 2 * time.Second

	messageTargetNotConfigured = "remote target is not configured"
	messageSourceNotConfigured = "source directory is not configured"
	messageAlreadyRunning      = "a sync run is already in progress"
)

// StoreFactory opens the object store for a target
type StoreFactory func(ctx context.Context, target storage.TargetConfig) (storage.ObjectStore, error)

// SyncerOption configures a CloudSyncer
type SyncerOption func(*CloudSyncer)

// WithStatusRecorder sets where run outcomes are persisted
func WithStatusRecorder(recorder StatusRecorder) SyncerOption {
	return func(s *CloudSyncer) { s.recorder = recorder }
}

// WithParallelism sets the number of concurrent uploads
func WithParallelism(n int) SyncerOption {
	return func(s *CloudSyncer) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithRetryConfig sets the per-object retry policy
func WithRetryConfig(config apperrors.RetryConfig) SyncerOption {
	return func(s *CloudSyncer) { s.retry = apperrors.NewRetryHandler(config) }
}

// WithStoreFactory replaces storage.NewObjectStore
func WithStoreFactory(factory StoreFactory) SyncerOption {
	return func(s *CloudSyncer) { s.openStore = factory }
}

// WithSyncerClock overrides time.Now
func WithSyncerClock(now func() time.Time) SyncerOption {
	return func(s *CloudSyncer) { s.now = now }
}

// CloudSyncer replicates the backup directory to a remote object store.
// It implements SyncExecutor.
type CloudSyncer struct {
	provider    ConfigProvider
	recorder    StatusRecorder
	logger      *logging.Logger
	parallelism int
	retry       *apperrors.RetryHandler
	openStore   StoreFactory
	now         func() time.Time
	running     atomic.Bool
}

// NewCloudSyncer creates a syncer reading its configuration from provider.
// When provider can also record status it is used as the recorder unless
// WithStatusRecorder says otherwise.
func NewCloudSyncer(provider ConfigProvider, logger *logging.Logger, opts ...SyncerOption) *CloudSyncer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &CloudSyncer{
		provider:    provider,
		logger:      logger,
		parallelism: DefaultParallelism,
		retry:       apperrors.NewDefaultRetryHandler(),
		openStore:   storage.NewObjectStore,
		now:         time.Now,
	}
	if recorder, ok := provider.(StatusRecorder); ok {
		s.recorder = recorder
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// localFile is a file found under the source directory
type localFile struct {
	RelPath  string
	FullPath string
	Size     int64
	ModTime  time.Time
}

// uploadItem is one planned transfer
type uploadItem struct {
	File localFile
	Key  string
}

// SyncNow performs one replication run. Remote failures produce an
// unsuccessful outcome; only cancellation and configuration read errors
// are returned as errors.
func (s *CloudSyncer) SyncNow(ctx context.Context) (*SyncOutcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		return &SyncOutcome{Success: false, Message: messageAlreadyRunning}, nil
	}
	defer s.running.Store(false)

	runID := uuid.NewString()
	ctx = logging.CreateContextWithRunID(ctx, runID)
	start := s.now()

	config, err := s.provider.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	outcome := &SyncOutcome{RunID: runID}
	switch {
	case !config.Target.IsConfigured():
		outcome.Message = messageTargetNotConfigured
	case strings.TrimSpace(config.SourceDir) == "":
		outcome.Message = messageSourceNotConfigured
	default:
		if err := s.run(ctx, config, outcome); err != nil {
			return nil, err
		}
	}

	outcome.Duration = s.now().Sub(start)
	s.logger.LogSyncRun(runID, outcome.Success, outcome.ObjectCount, outcome.Bytes, outcome.Message, outcome.Duration)
	s.record(ctx, outcome)
	return outcome, nil
}

func (s *CloudSyncer) run(ctx context.Context, config *ReplicationConfig, outcome *SyncOutcome) error {
	store, err := s.openStore(ctx, config.Target)
	if err != nil {
		if apperrors.IsCancellation(err) {
			return err
		}
		outcome.Message = fmt.Sprintf("failed to open remote target: %v", err)
		return nil
	}
	defer storage.CloseStore(store)

	buckets := config.Buckets
	if len(buckets) == 0 {
		buckets = []string{""}
	}

	var failures []string
	for _, bucket := range buckets {
		result, err := s.syncBucket(ctx, store, config, bucket)
		if err != nil {
			return err
		}
		outcome.Buckets = append(outcome.Buckets, *result)
		outcome.ObjectCount += result.Objects
		outcome.Skipped += result.Skipped
		outcome.Bytes += result.Bytes
		if !result.Success {
			failures = append(failures, bucketLabel(result.Bucket)+": "+result.Message)
		}
	}

	outcome.Success = len(failures) == 0
	if outcome.Success {
		outcome.Message = fmt.Sprintf("%d objects uploaded to %s, %d unchanged",
			outcome.ObjectCount, store.Describe(), outcome.Skipped)
	} else {
		outcome.Message = strings.Join(failures, "; ")
	}
	return nil
}

func bucketLabel(bucket string) string {
	if bucket == "" {
		return "(root)"
	}
	return bucket
}

// syncBucket replicates SourceDir/bucket to prefix/bucket/. A returned
// error means the run was canceled; everything else is reported on the
// BucketOutcome.
func (s *CloudSyncer) syncBucket(ctx context.Context, store storage.ObjectStore, config *ReplicationConfig, bucket string) (*BucketOutcome, error) {
	result := &BucketOutcome{Bucket: bucket}
	logger := s.logger.WithContext(ctx).WithField("bucket", bucketLabel(bucket))

	files, err := scanLocalFiles(ctx, filepath.Join(config.SourceDir, bucket))
	if err != nil {
		if apperrors.IsCancellation(err) {
			return nil, err
		}
		result.Message = err.Error()
		return result, nil
	}

	remotePrefix := path.Join(config.Target.Prefix, bucket)
	if remotePrefix != "" {
		remotePrefix += "/"
	}
	remote, err := store.List(ctx, remotePrefix)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelledError("sync canceled while listing remote objects", ctx.Err())
		}
		result.Message = fmt.Sprintf("failed to list remote objects: %v", err)
		return result, nil
	}

	plan, skipped := planUploads(files, remote, remotePrefix, config.SyncMode)
	result.Skipped = skipped
	logger.WithFields(map[string]interface{}{
		"local_files": len(files),
		"remote":      len(remote),
		"planned":     len(plan),
		"mode":        config.SyncMode,
	}).Debug("Planned bucket sync")

	uploaded, bytes, failed, firstErr := s.execute(ctx, store, plan)
	if ctx.Err() != nil {
		return nil, apperrors.NewCancelledError("sync canceled during upload", ctx.Err())
	}

	result.Objects = uploaded
	result.Bytes = bytes
	if failed > 0 {
		result.Message = fmt.Sprintf("%d of %d uploads failed: %v", failed, len(plan), firstErr)
		return result, nil
	}
	result.Success = true
	return result, nil
}

// execute uploads plan with at most s.parallelism transfers in flight
func (s *CloudSyncer) execute(ctx context.Context, store storage.ObjectStore, plan []uploadItem) (int, int64, int, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, s.parallelism)
		uploaded  int
		bytes     int64
		failed    int
		firstErr  error
	)

dispatch:
	for _, item := range plan {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)
		go func(item uploadItem) {
			defer wg.Done()
			defer func() { <-semaphore }()

			err := s.retry.Retry(ctx, func() error {
				return s.upload(ctx, store, item)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				err = apperrors.NewSyncError(fmt.Sprintf("failed to upload %s", item.Key), err)
				failed++
				if firstErr == nil {
					firstErr = err
				}
				s.logger.WithContext(ctx).WithField("key", item.Key).WithError(err).Warn("Upload failed")
				return
			}
			uploaded++
			bytes += item.File.Size
		}(item)
	}

	wg.Wait()
	return uploaded, bytes, failed, firstErr
}

func (s *CloudSyncer) upload(ctx context.Context, store storage.ObjectStore, item uploadItem) error {
	file, err := os.Open(item.File.FullPath)
	if err != nil {
		return apperrors.NewIOError(fmt.Sprintf("failed to open %s", item.File.FullPath), err)
	}
	defer file.Close()

	meta := map[string]string{
		storage.MetaSourceMtime: storage.FormatMtime(item.File.ModTime),
	}
	if !strings.HasSuffix(item.File.FullPath, integrity.SidecarExtension) {
		if digest, ok := integrity.LoadStoredDigest(item.File.FullPath); ok {
			meta[storage.MetaSHA256] = digest
		}
	}

	return store.Put(ctx, item.Key, file, item.File.Size, meta)
}

func (s *CloudSyncer) record(ctx context.Context, outcome *SyncOutcome) {
	if s.recorder == nil {
		return
	}

	status := SyncStatus{
		At:     s.now().UTC(),
		Status: StatusOK,
		Files:  outcome.ObjectCount,
		Bytes:  outcome.Bytes,
	}
	if !outcome.Success {
		status.Status = FailedStatus(outcome.Message)
	}

	if err := s.recorder.RecordSync(ctx, status); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to record sync status")
	}
}

// scanLocalFiles walks root and returns regular files with slash-separated
// relative paths. Hidden files and directories are skipped.
func scanLocalFiles(ctx context.Context, root string) ([]localFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewIOError(fmt.Sprintf("source directory %s does not exist", root), err)
		}
		return nil, apperrors.NewIOError(fmt.Sprintf("failed to read source directory %s", root), err)
	}
	if !info.IsDir() {
		return nil, apperrors.NewIOError(fmt.Sprintf("source %s is not a directory", root), nil)
	}

	var files []localFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return apperrors.NewCancelledError("scan canceled", err)
		}
		if walkErr != nil {
			return walkErr
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{
			RelPath:  filepath.ToSlash(rel),
			FullPath: p,
			Size:     fi.Size(),
			ModTime:  fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		if apperrors.IsCancellation(err) {
			return nil, err
		}
		return nil, apperrors.NewIOError(fmt.Sprintf("failed to scan %s", root), err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// planUploads decides which local files to transfer and how many are
// already current remotely
func planUploads(files []localFile, remote []storage.ObjectInfo, prefix string, mode SyncMode) ([]uploadItem, int) {
	remoteByKey := make(map[string]storage.ObjectInfo, len(remote))
	for _, obj := range remote {
		remoteByKey[obj.Key] = obj
	}

	var plan []uploadItem
	skipped := 0
	for _, file := range files {
		key := prefix + file.RelPath
		obj, exists := remoteByKey[key]
		if mode == SyncModeFull || !exists || needsUpload(file, obj) {
			plan = append(plan, uploadItem{File: file, Key: key})
			continue
		}
		skipped++
	}
	return plan, skipped
}

// needsUpload compares a local file with its remote copy: size first, then
// modification time within mtimeTolerance
func needsUpload(file localFile, obj storage.ObjectInfo) bool {
	if file.Size != obj.Size {
		return true
	}
	return file.ModTime.Sub(obj.LastModified) > mtimeTolerance
}
