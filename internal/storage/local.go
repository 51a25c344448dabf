package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "clinic-backup-sync/internal/errors"
)

// LocalStore replicates into a directory, typically a mounted network share.
// Source modification times are preserved so incremental runs can compare them.
type LocalStore struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStore creates the base directory if needed
func NewLocalStore(config *LocalConfig) (*LocalStore, error) {
	if config == nil {
		return nil, apperrors.NewConfigurationError("local storage configuration is required", nil)
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid local storage configuration", err)
	}

	basePath, err := filepath.Abs(config.BasePath)
	if err != nil {
		return nil, apperrors.NewConfigurationError("invalid local base path", err)
	}
	if err := os.MkdirAll(basePath, config.Permissions); err != nil {
		return nil, apperrors.NewIOError(fmt.Sprintf("failed to create base directory %s", basePath), err)
	}

	return &LocalStore{basePath: basePath, permissions: config.Permissions}, nil
}

// List walks the directory tree below prefix
func (ls *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	root := ls.basePath
	if dir := prefixDir(prefix); dir != "" {
		root = filepath.Join(ls.basePath, filepath.FromSlash(dir))
	}

	var objects []ObjectInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(ls.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.NewCancelledError("listing canceled", ctxErr)
		}
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to list %s", root), err)
	}

	return objects, nil
}

// prefixDir returns the deepest directory fully named by prefix
func prefixDir(prefix string) string {
	idx := strings.LastIndex(prefix, "/")
	if idx == -1 {
		return ""
	}
	return prefix[:idx]
}

// Put writes the object through a temp file and renames it into place
func (ls *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string) error {
	target, err := ls.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), ls.permissions); err != nil {
		return apperrors.NewIOError(fmt.Sprintf("failed to create directory for %s", key), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return apperrors.NewIOError(fmt.Sprintf("failed to create temp file for %s", key), err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	written, err := io.Copy(tmp, &contextReader{ctx: ctx, r: body})
	if err != nil {
		cleanup()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperrors.NewCancelledError("upload canceled", ctxErr)
		}
		return apperrors.NewIOError(fmt.Sprintf("failed to write %s", key), err)
	}
	if size >= 0 && written != size {
		cleanup()
		return apperrors.NewIOError(fmt.Sprintf("short write for %s: %d of %d bytes", key, written, size), nil)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.NewIOError(fmt.Sprintf("failed to write %s", key), err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return apperrors.NewIOError(fmt.Sprintf("failed to move %s into place", key), err)
	}

	if mtime, ok := SourceMtime(meta); ok {
		if err := os.Chtimes(target, mtime, mtime); err != nil {
			return apperrors.NewIOError(fmt.Sprintf("failed to preserve mtime of %s", key), err)
		}
	}

	return nil
}

// resolve maps a key to a path, rejecting keys that escape the base directory
func (ls *LocalStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(cleaned) || cleaned == "." || cleaned == ".." ||
		strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("invalid object key %q", key), nil)
	}
	return filepath.Join(ls.basePath, cleaned), nil
}

// HealthCheck verifies the base directory is writable
func (ls *LocalStore) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(ls.basePath)
	if err != nil {
		return apperrors.NewStorageError("local storage health check failed: base path not accessible", err)
	}
	if !info.IsDir() {
		return apperrors.NewConfigurationError(fmt.Sprintf("local storage base path %s is not a directory", ls.basePath), nil)
	}

	marker, err := os.CreateTemp(ls.basePath, ".healthcheck-*")
	if err != nil {
		return apperrors.NewStorageError("local storage health check failed: base path not writable", err)
	}
	marker.Close()
	os.Remove(marker.Name())
	return nil
}

// Describe returns the target location
func (ls *LocalStore) Describe() string {
	return "file://" + filepath.ToSlash(ls.basePath)
}

// BasePath returns the absolute root of the store
func (ls *LocalStore) BasePath() string {
	return ls.basePath
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
