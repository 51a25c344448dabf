// Package storage provides the remote object-store targets that local backup
// storage is replicated to: a local directory, Amazon S3 (and S3-compatible
// endpoints), MinIO, Azure Blob Storage and Google Cloud Storage.
//
// Stores work with flat, slash-separated keys. Callers decide the key layout.
package storage

import (
	"context"
	"io"
	"time"
)

// Metadata keys attached to replicated objects
const (
	MetaSHA256      = "sha256"
	MetaSourceMtime = "source_mtime"
)

// ObjectInfo describes an object already present in a store
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ObjectStore is the minimal set of operations replication needs from a remote target
type ObjectStore interface {
	// List returns every object whose key starts with prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// Put uploads size bytes from body under key, replacing any existing object
	Put(ctx context.Context, key string, body io.Reader, size int64, meta map[string]string) error
	// HealthCheck verifies the target is reachable and writable
	HealthCheck(ctx context.Context) error
	// Describe returns a human readable location such as s3://bucket
	Describe() string
}

// SourceMtime parses the source_mtime metadata value written by replication
func SourceMtime(meta map[string]string) (time.Time, bool) {
	value, ok := meta[MetaSourceMtime]
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatMtime renders a modification time the way SourceMtime expects it
func FormatMtime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
