package integrity

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "clinic-backup-sync/internal/errors"
)

// CompressionType identifies how a tar archive is wrapped
type CompressionType string

const (
	CompressionTypeNone    CompressionType = "none"
	CompressionTypeGzip    CompressionType = "gzip"
	CompressionTypeZstd    CompressionType = "zstd"
	CompressionTypeLZ4     CompressionType = "lz4"
	CompressionTypeUnknown CompressionType = ""
)

// MinArchiveSize is the smallest file ValidateBackup accepts as an archive
const MinArchiveSize = 50

// ArchiveReport summarizes a successful archive walk
type ArchiveReport struct {
	Compression       CompressionType `json:"compression"`
	EntryCount        int             `json:"entry_count"`
	TopLevelEntries   []string        `json:"top_level_entries"`
	UncompressedBytes int64           `json:"uncompressed_bytes"`
}

// BackupValidation is the combined integrity and readability verdict for a backup file
type BackupValidation struct {
	Valid           bool     `json:"valid"`
	Error           string   `json:"error,omitempty"`
	Checksum        string   `json:"checksum,omitempty"`
	TopLevelEntries []string `json:"top_level_entries,omitempty"`
	EntryCount      int      `json:"entry_count"`
}

// DetectCompression maps an archive file name to its compression wrapper
func DetectCompression(name string) CompressionType {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return CompressionTypeGzip
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tar.zstd"):
		return CompressionTypeZstd
	case strings.HasSuffix(lower, ".tar.lz4"):
		return CompressionTypeLZ4
	case strings.HasSuffix(lower, ".tar"):
		return CompressionTypeNone
	default:
		return CompressionTypeUnknown
	}
}

// openDecompressor wraps r with the decoder for the given compression.
// The returned close function releases decoder resources only.
func openDecompressor(r io.Reader, compression CompressionType) (io.Reader, func(), error) {
	switch compression {
	case CompressionTypeNone:
		return r, func() {}, nil
	case CompressionTypeGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case CompressionTypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	case CompressionTypeLZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

// ValidateArchive reads a tar archive end to end, decompressing by file
// extension, and reports its entries. A truncated or corrupt stream is an error.
func ValidateArchive(ctx context.Context, archivePath string) (*ArchiveReport, error) {
	compression := DetectCompression(archivePath)
	if compression == CompressionTypeUnknown {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("unsupported archive format: %s", path.Base(archivePath)), nil)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return nil, apperrors.NewIOError(fmt.Sprintf("cannot open %s", archivePath), err)
	}
	defer file.Close()

	reader, closeReader, err := openDecompressor(file, compression)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeFormat,
			fmt.Sprintf("cannot decompress %s", archivePath), err)
	}
	defer closeReader()

	report := &ArchiveReport{Compression: compression}
	topLevel := make(map[string]struct{})
	tr := tar.NewReader(reader)

	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewCancelledError("archive validation canceled", err)
		}

		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeFormat,
				fmt.Sprintf("corrupt archive %s", archivePath), err).
				WithContext("entries_read", report.EntryCount)
		}

		n, err := io.Copy(io.Discard, tr)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeFormat,
				fmt.Sprintf("truncated entry %s in %s", header.Name, archivePath), err)
		}

		report.EntryCount++
		report.UncompressedBytes += n
		if top := topLevelName(header.Name); top != "" {
			topLevel[top] = struct{}{}
		}
	}

	report.TopLevelEntries = make([]string, 0, len(topLevel))
	for name := range topLevel {
		report.TopLevelEntries = append(report.TopLevelEntries, name)
	}
	sort.Strings(report.TopLevelEntries)

	return report, nil
}

func topLevelName(name string) string {
	cleaned := strings.TrimPrefix(path.Clean("/"+name), "/")
	if cleaned == "" {
		return ""
	}
	if idx := strings.Index(cleaned, "/"); idx != -1 {
		return cleaned[:idx]
	}
	return cleaned
}

// ValidateBackup checks that a backup file exists, matches its sidecar when
// one is present (an unreadable sidecar fails validation) and, for tar archives, can be read to the end. Files with
// other extensions are judged on size and checksum alone.
func (s *Service) ValidateBackup(ctx context.Context, backupPath string) (*BackupValidation, error) {
	info, err := os.Stat(backupPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &BackupValidation{Error: "file not found"}, nil
		}
		return &BackupValidation{Error: fmt.Sprintf("file could not be read: %v", err)}, nil
	}
	if info.IsDir() {
		return &BackupValidation{Error: "path is a directory"}, nil
	}
	if info.Size() < MinArchiveSize {
		return &BackupValidation{Error: "file is too small to be a valid archive"}, nil
	}

	result := &BackupValidation{}

	if _, err := os.Stat(SidecarPath(backupPath)); err == nil {
		outcome, err := s.Verify(ctx, backupPath)
		if err != nil {
			return nil, err
		}
		result.Checksum = outcome.Actual
		if !outcome.Valid {
			result.Error = outcome.Reason
			return result, nil
		}
	} else {
		digest, err := ComputeDigest(ctx, backupPath)
		if err != nil {
			if apperrors.IsCancellation(err) {
				return nil, err
			}
			result.Error = fmt.Sprintf("file could not be read: %v", errors.Unwrap(err))
			return result, nil
		}
		result.Checksum = digest
	}

	if DetectCompression(backupPath) != CompressionTypeUnknown {
		report, err := ValidateArchive(ctx, backupPath)
		if err != nil {
			if apperrors.IsCancellation(err) {
				return nil, err
			}
			result.Error = fmt.Sprintf("archive is not readable: %v", errors.Unwrap(err))
			return result, nil
		}
		result.EntryCount = report.EntryCount
		result.TopLevelEntries = report.TopLevelEntries
	}

	result.Valid = true
	return result, nil
}
