package integrity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "clinic-backup-sync/internal/errors"
)

// ArtifactInfo describes a backup file found on disk
type ArtifactInfo struct {
	FileName   string    `json:"file_name"`
	FullPath   string    `json:"full_path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	Checksum   string    `json:"checksum,omitempty"`
}

// ArtifactReport pairs an artifact with its verification outcome
type ArtifactReport struct {
	Artifact ArtifactInfo         `json:"artifact"`
	Outcome  *VerificationOutcome `json:"outcome"`
}

// ListArtifacts returns the files in dir matching pattern, newest first.
// Sidecars and hidden files are skipped, subdirectories are not descended.
// A missing directory yields an empty list.
func ListArtifacts(dir, pattern string) ([]ArtifactInfo, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("invalid file pattern %q", pattern), err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ArtifactInfo{}, nil
		}
		return nil, apperrors.NewIOError(fmt.Sprintf("cannot list %s", dir), err)
	}

	artifacts := make([]ArtifactInfo, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, SidecarExtension) {
			continue
		}
		if ok, _ := filepath.Match(pattern, name); !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}

		fullPath := filepath.Join(dir, name)
		checksum, _ := LoadStoredDigest(fullPath)
		artifacts = append(artifacts, ArtifactInfo{
			FileName:   name,
			FullPath:   fullPath,
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime(),
			Checksum:   checksum,
		})
	}

	sort.SliceStable(artifacts, func(i, j int) bool {
		if artifacts[i].ModifiedAt.Equal(artifacts[j].ModifiedAt) {
			return artifacts[i].FileName < artifacts[j].FileName
		}
		return artifacts[i].ModifiedAt.After(artifacts[j].ModifiedAt)
	})

	return artifacts, nil
}

// VerifyDirectory verifies every artifact returned by ListArtifacts
func (s *Service) VerifyDirectory(ctx context.Context, dir, pattern string) ([]ArtifactReport, error) {
	complete := s.logger.LogOperationStart("verify_directory", map[string]interface{}{
		"dir":     dir,
		"pattern": pattern,
	})

	artifacts, err := ListArtifacts(dir, pattern)
	if err != nil {
		complete(err)
		return nil, err
	}

	reports := make([]ArtifactReport, 0, len(artifacts))
	for _, artifact := range artifacts {
		outcome, err := s.Verify(ctx, artifact.FullPath)
		if err != nil {
			complete(err)
			return reports, err
		}
		reports = append(reports, ArtifactReport{Artifact: artifact, Outcome: outcome})
	}

	complete(nil)
	return reports, nil
}
