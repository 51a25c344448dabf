package replication

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	apperrors "clinic-backup-sync/internal/errors"
)

// FileConfigProvider keeps the replication configuration in a YAML file.
// The file is read on every call so operator edits take effect at the next
// scheduler wake without a restart.
type FileConfigProvider struct {
	path string
	mu   sync.Mutex
}

// NewFileConfigProvider creates a provider backed by path
func NewFileConfigProvider(path string) *FileConfigProvider {
	return &FileConfigProvider{path: path}
}

// Path returns the backing file
func (p *FileConfigProvider) Path() string {
	return p.path
}

// GetConfig reads the file, falling back to defaults when it does not exist
func (p *FileConfigProvider) GetConfig(ctx context.Context) (*ReplicationConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("config read canceled", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

func (p *FileConfigProvider) load() (*ReplicationConfig, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultReplicationConfig(), nil
		}
		return nil, apperrors.NewIOError(fmt.Sprintf("failed to read replication config %s", p.path), err)
	}

	config := DefaultReplicationConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeFormat,
			fmt.Sprintf("failed to parse replication config %s", p.path), err)
	}
	config.SetDefaults()
	return config, nil
}

// UpdateConfig applies mutate to the current configuration, validates the
// result and writes it back atomically
func (p *FileConfigProvider) UpdateConfig(ctx context.Context, mutate func(*ReplicationConfig)) (*ReplicationConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelledError("config update canceled", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	config, err := p.load()
	if err != nil {
		return nil, err
	}
	mutate(config)

	if err := config.Validate(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "invalid replication config", err)
	}
	if err := p.save(config); err != nil {
		return nil, err
	}
	return config, nil
}

// RecordSync stores the outcome of a run on the configuration file
func (p *FileConfigProvider) RecordSync(ctx context.Context, status SyncStatus) error {
	if err := ctx.Err(); err != nil {
		return apperrors.NewCancelledError("status update canceled", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	config, err := p.load()
	if err != nil {
		return err
	}
	status.Apply(config)
	return p.save(config)
}

func (p *FileConfigProvider) save(config *ReplicationConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeFormat, "failed to encode replication config", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewIOError(fmt.Sprintf("failed to create config directory %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return apperrors.NewIOError("failed to create temporary config file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.NewIOError("failed to write replication config", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewIOError("failed to write replication config", err)
	}
	// credentials may live in this file
	if err := os.Chmod(tmpName, 0600); err != nil {
		return apperrors.NewIOError("failed to set config file permissions", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return apperrors.NewIOError("failed to replace replication config", err)
	}
	return nil
}
