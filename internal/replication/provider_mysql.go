package replication

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	apperrors "clinic-backup-sync/internal/errors"
	"clinic-backup-sync/internal/logging"
)

const createConfigTableSQL = `CREATE TABLE IF NOT EXISTS cloud_replication_config (
	id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
	enabled TINYINT(1) NOT NULL DEFAULT 0,
	cron_expression VARCHAR(120) NOT NULL DEFAULT '',
	sync_mode VARCHAR(20) NOT NULL DEFAULT 'incremental',
	source_dir VARCHAR(1024) NOT NULL DEFAULT '',
	buckets JSON NULL,
	target_config JSON NULL,
	last_sync_at DATETIME(6) NULL,
	last_sync_status TEXT NULL,
	last_sync_files INT NULL,
	last_sync_bytes BIGINT NULL,
	created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const selectConfigSQL = `SELECT id, enabled, cron_expression, sync_mode, source_dir, buckets, target_config,
	last_sync_at, last_sync_status, last_sync_files, last_sync_bytes
	FROM cloud_replication_config ORDER BY created_at ASC, id ASC LIMIT 1`

const insertConfigSQL = `INSERT INTO cloud_replication_config
	(enabled, cron_expression, sync_mode, source_dir, buckets, target_config) VALUES (?, ?, ?, ?, ?, ?)`

const updateConfigSQL = `UPDATE cloud_replication_config SET enabled = ?, cron_expression = ?, sync_mode = ?,
	source_dir = ?, buckets = ?, target_config = ? WHERE id = ?`

const updateStatusSQL = `UPDATE cloud_replication_config SET last_sync_at = ?, last_sync_status = ?,
	last_sync_files = ?, last_sync_bytes = ? WHERE id = ?`

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// MySQLConfigProvider keeps the replication configuration in a single-row
// MySQL table. The oldest row wins; a default row is inserted when the
// table is empty.
type MySQLConfigProvider struct {
	db           *sql.DB
	logger       *logging.Logger
	queryTimeout time.Duration
	classifier   *apperrors.ErrorClassifier

	// schemaMu guards schemaReady. Until it is set, every call first
	// creates the config table.
	schemaMu    sync.Mutex
	schemaReady bool
	dsn         string
}

// NewMySQLConfigProvider wraps an open database handle whose schema the
// caller manages
func NewMySQLConfigProvider(db *sql.DB, logger *logging.Logger) *MySQLConfigProvider {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &MySQLConfigProvider{
		db:           db,
		logger:       logger,
		queryTimeout: 30 * time.Second,
		classifier:   apperrors.NewErrorClassifier(),
		schemaReady:  true,
	}
}

// ConnectMySQLConfigProvider opens a handle for dsn without contacting the
// server. The connection is established and the config table created on
// the first call that succeeds, so an unreachable database surfaces as an
// error from GetConfig rather than at startup.
func ConnectMySQLConfigProvider(dsn string, logger *logging.Logger) (*MySQLConfigProvider, error) {
	db, err := openMySQL(dsn)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeConfiguration, "invalid MySQL DSN", err)
	}
	provider := NewMySQLConfigProvider(db, logger)
	provider.schemaReady = false
	provider.dsn = dsn
	return provider, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// OpenMySQLConfigProvider connects to dsn, verifies the connection and
// makes sure the config table exists
func OpenMySQLConfigProvider(ctx context.Context, dsn string, logger *logging.Logger) (*MySQLConfigProvider, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	start := time.Now()

	db, err := openMySQL(dsn)
	if err == nil {
		err = db.PingContext(ctx)
		if err != nil {
			db.Close()
		}
	}
	logger.LogConfigStoreConnection("mysql", dsn, err == nil, time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewErrorClassifier().ClassifyError(err)
	}

	provider := NewMySQLConfigProvider(db, logger)
	if err := provider.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return provider, nil
}

// Close releases the database handle
func (p *MySQLConfigProvider) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the config table when it is missing
func (p *MySQLConfigProvider) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	if _, err := p.db.ExecContext(ctx, createConfigTableSQL); err != nil {
		return p.wrap("failed to create replication config table", err)
	}
	return nil
}

// prepare creates the config table once for providers opened with
// ConnectMySQLConfigProvider. A failed attempt is repeated on the next call.
func (p *MySQLConfigProvider) prepare(ctx context.Context) error {
	p.schemaMu.Lock()
	defer p.schemaMu.Unlock()
	if p.schemaReady {
		return nil
	}

	start := time.Now()
	err := p.EnsureSchema(ctx)
	p.logger.LogConfigStoreConnection("mysql", p.dsn, err == nil, time.Since(start), err)
	if err != nil {
		return err
	}
	p.schemaReady = true
	return nil
}

// GetConfig reads the current configuration row
func (p *MySQLConfigProvider) GetConfig(ctx context.Context) (*ReplicationConfig, error) {
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	_, config, err := p.loadOrCreate(ctx, p.db, selectConfigSQL)
	return config, err
}

// UpdateConfig applies mutate inside a transaction holding the row lock.
// Only the operator-editable columns are written.
func (p *MySQLConfigProvider) UpdateConfig(ctx context.Context, mutate func(*ReplicationConfig)) (*ReplicationConfig, error) {
	if err := p.prepare(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, p.wrap("failed to begin config transaction", err)
	}
	defer tx.Rollback()

	id, config, err := p.loadOrCreate(ctx, tx, selectConfigSQL+" FOR UPDATE")
	if err != nil {
		return nil, err
	}

	mutate(config)
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "invalid replication config", err)
	}

	buckets, target, err := encodeJSONColumns(config)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, updateConfigSQL,
		config.Enabled, config.CronExpression, string(config.SyncMode),
		config.SourceDir, buckets, target, id); err != nil {
		return nil, p.wrap("failed to update replication config", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, p.wrap("failed to commit replication config", err)
	}
	return config, nil
}

// RecordSync writes the last-sync columns
func (p *MySQLConfigProvider) RecordSync(ctx context.Context, status SyncStatus) error {
	if err := p.prepare(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	id, _, err := p.loadOrCreate(ctx, p.db, selectConfigSQL)
	if err != nil {
		return err
	}

	if _, err := p.db.ExecContext(ctx, updateStatusSQL,
		status.At.UTC(), status.Status, status.Files, status.Bytes, id); err != nil {
		return p.wrap("failed to record sync status", err)
	}
	return nil
}

func (p *MySQLConfigProvider) loadOrCreate(ctx context.Context, q queryer, query string) (int64, *ReplicationConfig, error) {
	id, config, err := scanConfig(q.QueryRowContext(ctx, query))
	if err == nil {
		return id, config, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, p.wrap("failed to read replication config", err)
	}

	config = DefaultReplicationConfig()
	buckets, target, err := encodeJSONColumns(config)
	if err != nil {
		return 0, nil, err
	}
	result, err := q.ExecContext(ctx, insertConfigSQL,
		config.Enabled, config.CronExpression, string(config.SyncMode),
		config.SourceDir, buckets, target)
	if err != nil {
		return 0, nil, p.wrap("failed to insert default replication config", err)
	}
	id, err = result.LastInsertId()
	if err != nil {
		return 0, nil, p.wrap("failed to read inserted config id", err)
	}

	p.logger.WithField("id", id).Info("Inserted default replication config")
	return id, config, nil
}

func scanConfig(row *sql.Row) (int64, *ReplicationConfig, error) {
	var (
		id         int64
		config     = DefaultReplicationConfig()
		syncMode   string
		buckets    sql.NullString
		target     sql.NullString
		lastSyncAt sql.NullTime
		lastStatus sql.NullString
		lastFiles  sql.NullInt64
		lastBytes  sql.NullInt64
	)

	if err := row.Scan(&id, &config.Enabled, &config.CronExpression, &syncMode, &config.SourceDir,
		&buckets, &target, &lastSyncAt, &lastStatus, &lastFiles, &lastBytes); err != nil {
		return 0, nil, err
	}

	config.SyncMode = SyncMode(syncMode)
	if buckets.Valid && buckets.String != "" {
		if err := json.Unmarshal([]byte(buckets.String), &config.Buckets); err != nil {
			return 0, nil, apperrors.NewAppError(apperrors.ErrorTypeFormat, "buckets column is not a JSON array", err)
		}
	}
	if target.Valid && target.String != "" {
		if err := json.Unmarshal([]byte(target.String), &config.Target); err != nil {
			return 0, nil, apperrors.NewAppError(apperrors.ErrorTypeFormat, "target_config column is not valid JSON", err)
		}
	}
	if lastSyncAt.Valid {
		at := lastSyncAt.Time.UTC()
		config.LastSyncAt = &at
	}
	config.LastSyncStatus = lastStatus.String
	config.LastSyncFiles = int(lastFiles.Int64)
	config.LastSyncBytes = lastBytes.Int64

	config.SetDefaults()
	return id, config, nil
}

func encodeJSONColumns(config *ReplicationConfig) (string, string, error) {
	bucketList := config.Buckets
	if bucketList == nil {
		bucketList = []string{}
	}
	buckets, err := json.Marshal(bucketList)
	if err != nil {
		return "", "", apperrors.NewAppError(apperrors.ErrorTypeFormat, "failed to encode buckets", err)
	}
	target, err := json.Marshal(config.Target)
	if err != nil {
		return "", "", apperrors.NewAppError(apperrors.ErrorTypeFormat, "failed to encode target config", err)
	}
	return string(buckets), string(target), nil
}

func (p *MySQLConfigProvider) wrap(message string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	classified := p.classifier.ClassifyError(err)
	return apperrors.NewAppError(classified.Type, fmt.Sprintf("%s: %s", message, classified.Message), err)
}
