package integrity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "clinic-backup-sync/internal/errors"
	"clinic-backup-sync/internal/logging"
)

const (
	// SidecarExtension is appended to an artifact path to locate its checksum file
	SidecarExtension = ".sha256"

	// DigestLength is the hex length of a SHA-256 digest
	DigestLength = 64

	readBufferSize = 80 * 1024
)

// Failure reasons reported by Verify
const (
	ReasonChecksumNotFound = "checksum file not found"
	ReasonInvalidFormat    = "invalid checksum file format"
	ReasonMismatch         = "checksum mismatch — file may be corrupted"
)

// VerificationOutcome is the result of a single Verify call.
// Expected and Actual are empty when the digest is absent.
type VerificationOutcome struct {
	Valid    bool   `json:"valid"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Service computes, stores and verifies checksum sidecars
type Service struct {
	logger *logging.Logger
}

// NewService creates a checksum service. A nil logger discards diagnostics.
func NewService(logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Service{logger: logger}
}

// SidecarPath returns the checksum file location for an artifact
func SidecarPath(path string) string {
	return path + SidecarExtension
}

// FormatSidecar renders the labeled sidecar line for an artifact
func FormatSidecar(path, digest string) string {
	return fmt.Sprintf("SHA256 (%s) = %s", filepath.Base(path), digest)
}

// ComputeDigest streams the file through SHA-256 and returns the lowercase hex digest.
// Cancellation is checked between reads.
func ComputeDigest(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", apperrors.NewCancelledError("checksum computation canceled", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", apperrors.NewIOError(fmt.Sprintf("cannot open %s", path), err).
			WithContext("path", path)
	}
	defer file.Close()

	hash := sha256.New()
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return "", apperrors.NewCancelledError("checksum computation canceled", err).
				WithContext("path", path)
		}

		n, readErr := file.Read(buf)
		if n > 0 {
			hash.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", apperrors.NewIOError(fmt.Sprintf("cannot read %s", path), readErr).
				WithContext("path", path)
		}
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ComputeAndStore hashes the artifact and replaces its sidecar with a labeled line
func (s *Service) ComputeAndStore(ctx context.Context, path string) (string, error) {
	digest, err := ComputeDigest(ctx, path)
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(SidecarPath(path), []byte(FormatSidecar(path, digest))); err != nil {
		return "", apperrors.NewIOError(fmt.Sprintf("cannot write checksum file for %s", path), err).
			WithContext("path", SidecarPath(path))
	}

	s.logger.LogChecksumStored(filepath.Base(path), digest)
	return digest, nil
}

// Verify recomputes the artifact digest and compares it with the stored sidecar.
// I/O and format problems are reported in the outcome; the only error returned
// is a cancellation.
func (s *Service) Verify(ctx context.Context, path string) (*VerificationOutcome, error) {
	start := time.Now()
	outcome, err := s.verify(ctx, path)
	if err != nil {
		return nil, err
	}
	s.logger.LogVerification(path, outcome.Valid, outcome.Reason, time.Since(start))
	return outcome, nil
}

func (s *Service) verify(ctx context.Context, path string) (*VerificationOutcome, error) {
	content, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return invalid(ReasonChecksumNotFound), nil
		}
		return invalid(fmt.Sprintf("checksum file could not be read: %v", err)), nil
	}

	expected, ok := ParseSidecar(string(content))
	if !ok {
		return invalid(ReasonInvalidFormat), nil
	}

	actual, err := ComputeDigest(ctx, path)
	if err != nil {
		if apperrors.IsCancellation(err) {
			return nil, err
		}
		outcome := invalid(fmt.Sprintf("backup file could not be read: %v", errors.Unwrap(err)))
		outcome.Expected = expected
		return outcome, nil
	}

	if !strings.EqualFold(expected, actual) {
		return &VerificationOutcome{
			Expected: expected,
			Actual:   actual,
			Reason:   ReasonMismatch,
		}, nil
	}

	return &VerificationOutcome{
		Valid:    true,
		Expected: expected,
		Actual:   actual,
	}, nil
}

func invalid(reason string) *VerificationOutcome {
	return &VerificationOutcome{Reason: reason}
}

// LoadStoredDigest reads the sidecar without re-hashing the artifact.
// Any read or parse failure yields ("", false).
func LoadStoredDigest(path string) (string, bool) {
	content, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return "", false
	}
	return ParseSidecar(string(content))
}

// ParseSidecar extracts a digest from either a bare hex string or a labeled
// "SHA256 (name) = hex" line. The value after the last '=' must be exactly
// 64 hex characters; its case is preserved.
func ParseSidecar(content string) (string, bool) {
	value := strings.TrimSpace(content)
	if idx := strings.LastIndex(value, "="); idx != -1 {
		value = strings.TrimSpace(value[idx+1:])
	}

	if len(value) != DigestLength {
		return "", false
	}
	for i := 0; i < len(value); i++ {
		if !isHexDigit(value[i]) {
			return "", false
		}
	}
	return value, true
}

func isHexDigit(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// writeFileAtomic replaces name by writing a temp file in the same directory and renaming it
func writeFileAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, name); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
