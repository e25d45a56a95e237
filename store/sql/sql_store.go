// Package sql provides SQL-based store implementations for MySQL, PostgreSQL, and TiDB.
package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/store"
	"github.com/phoenix4ge/censor/threshold"
)

// Dialect represents the SQL dialect.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectTiDB     Dialect = "tidb"
)

// DriverName returns the database/sql driver registered for the dialect.
// TiDB speaks the MySQL protocol.
func (d Dialect) DriverName() string {
	if d == DialectTiDB {
		return string(DialectMySQL)
	}
	return string(d)
}

// Config holds the configuration for SQL store.
type Config struct {
	Dialect         Dialect       `mapstructure:"dialect"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DefaultConfig returns the default SQL store configuration.
func DefaultConfig() Config {
	return Config{
		Dialect:         DialectMySQL,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

const (
	tableModel      = "censor_model"
	tableSync       = "censor_sync"
	tableModeration = "censor_moderation"
)

// Store implements the store.Store interface using SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// rebind converts MySQL-style placeholders (?) to the appropriate format for the dialect.
// For PostgreSQL, converts ? to $1, $2, etc.
// For MySQL/TiDB, returns the query unchanged.
func rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) rebind(query string) string {
	return rebind(s.dialect, query)
}

// New creates a new SQL store. The driver for the dialect must be
// registered by the caller (e.g. a blank import of go-sql-driver/mysql).
func New(cfg Config) (*Store, error) {
	db, err := sql.Open(cfg.Dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewWithDB(db, cfg.Dialect), nil
}

// NewWithDB creates a new SQL store with an existing database connection.
func NewWithDB(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Schema returns the DDL statements for the dialect.
func Schema(dialect Dialect) []string {
	text, blob := "TEXT", "TEXT"
	if dialect != DialectPostgres {
		blob = "LONGTEXT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + tableModel + ` (
  context VARCHAR(32) NOT NULL PRIMARY KEY,
  model_json ` + blob + ` NOT NULL,
  version BIGINT NOT NULL,
  updated_by VARCHAR(128) NOT NULL DEFAULT '',
  updated_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + tableSync + ` (
  id VARCHAR(64) NOT NULL PRIMARY KEY,
  direction VARCHAR(8) NOT NULL,
  target VARCHAR(128) NOT NULL,
  context VARCHAR(32) NOT NULL,
  status VARCHAR(16) NOT NULL,
  attempts INT NOT NULL,
  rolled_back BOOLEAN NOT NULL,
  drift_json ` + blob + `,
  error ` + text + `,
  started_at BIGINT NOT NULL,
  finished_at BIGINT NOT NULL
)`,
		`CREATE INDEX idx_censor_sync_target ON ` + tableSync + ` (target, started_at)`,
		`CREATE TABLE IF NOT EXISTS ` + tableModeration + ` (
  request_id VARCHAR(64) NOT NULL PRIMARY KEY,
  provider VARCHAR(64) NOT NULL,
  context VARCHAR(32) NOT NULL,
  config_version VARCHAR(64) NOT NULL DEFAULT '',
  retained_json ` + blob + ` NOT NULL,
  dropped INT NOT NULL,
  assessment_json ` + blob + ` NOT NULL,
  risk_score DOUBLE PRECISION NOT NULL,
  status VARCHAR(32) NOT NULL,
  created_at BIGINT NOT NULL
)`,
	}
}

// Migrate creates the tables. An index that already exists is not an error.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range Schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.HasPrefix(stmt, "CREATE INDEX") && isDuplicate(err) {
				continue
			}
			return censor.NewStoreError("migrate", "", err)
		}
	}
	return nil
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}

// GetModel gets the current model of a usage context.
func (s *Store) GetModel(ctx context.Context, uc censor.UsageContext) (*store.ModelRecord, error) {
	query := s.rebind(`SELECT model_json, version, updated_by, updated_at FROM ` + tableModel + ` WHERE context = ?`)

	var (
		rec       = store.ModelRecord{Context: uc}
		modelJSON string
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, string(uc)).Scan(&modelJSON, &rec.Version, &rec.UpdatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, censor.ErrModelNotFound
	}
	if err != nil {
		return nil, censor.NewStoreError("get", tableModel, err)
	}
	if err := json.Unmarshal([]byte(modelJSON), &rec.Model); err != nil {
		return nil, censor.NewStoreError("decode", tableModel, err)
	}
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return &rec, nil
}

// SaveModel stores a new version of the model. The version check makes
// concurrent saves of the same context fail instead of overwriting each
// other silently.
func (s *Store) SaveModel(ctx context.Context, uc censor.UsageContext, model threshold.Model, actor string) (*store.ModelRecord, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	modelJSON, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model: %w", err)
	}

	now := s.now()
	rec := &store.ModelRecord{Context: uc, Model: model.Clone(), UpdatedBy: actor, UpdatedAt: now}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var version int64
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT version FROM `+tableModel+` WHERE context = ?`), string(uc)).Scan(&version)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			rec.Version = 1
			_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO `+tableModel+` (context, model_json, version, updated_by, updated_at)
              VALUES (?, ?, ?, ?, ?)`), string(uc), string(modelJSON), rec.Version, actor, now.UnixMilli())
			return err
		case err != nil:
			return err
		}

		rec.Version = version + 1
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE `+tableModel+` SET model_json = ?, version = ?, updated_by = ?, updated_at = ?
              WHERE context = ? AND version = ?`), string(modelJSON), rec.Version, actor, now.UnixMilli(), string(uc), version)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("concurrent update of %s model", uc)
		}
		return nil
	})
	if err != nil {
		return nil, censor.NewStoreError("save", tableModel, err)
	}
	return rec, nil
}

// SaveSyncRecord appends a sync audit record.
func (s *Store) SaveSyncRecord(ctx context.Context, rec store.SyncRecord) error {
	var driftJSON sql.NullString
	if len(rec.Drift) > 0 {
		data, err := json.Marshal(rec.Drift)
		if err != nil {
			return fmt.Errorf("failed to marshal drift: %w", err)
		}
		driftJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := s.rebind(`INSERT INTO ` + tableSync + ` (id, direction, target, context, status, attempts, rolled_back, drift_json, error, started_at, finished_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, string(rec.Direction), rec.Target, string(rec.Context), string(rec.Status),
		rec.Attempts, rec.RolledBack, driftJSON, rec.Error,
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli())
	if err != nil {
		return censor.NewStoreError("create", tableSync, err)
	}
	return nil
}

// ListSyncRecords lists sync records, newest first.
func (s *Store) ListSyncRecords(ctx context.Context, filter store.SyncFilter) ([]store.SyncRecord, error) {
	query, args := buildSyncQuery(filter)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, censor.NewStoreError("list", tableSync, err)
	}
	defer rows.Close()

	var records []store.SyncRecord
	for rows.Next() {
		var (
			rec                 store.SyncRecord
			direction, uc, st   string
			driftJSON, errText  sql.NullString
			startedAt, finished int64
		)
		if err := rows.Scan(&rec.ID, &direction, &rec.Target, &uc, &st, &rec.Attempts, &rec.RolledBack,
			&driftJSON, &errText, &startedAt, &finished); err != nil {
			return nil, censor.NewStoreError("scan", tableSync, err)
		}
		rec.Direction = censor.Direction(direction)
		rec.Context = censor.UsageContext(uc)
		rec.Status = censor.SyncStatus(st)
		rec.Error = errText.String
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.FinishedAt = time.UnixMilli(finished)
		if driftJSON.Valid && driftJSON.String != "" {
			if err := json.Unmarshal([]byte(driftJSON.String), &rec.Drift); err != nil {
				return nil, censor.NewStoreError("decode", tableSync, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, censor.NewStoreError("list", tableSync, err)
	}
	return records, nil
}

func buildSyncQuery(filter store.SyncFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.Target != "" {
		where = append(where, "target = ?")
		args = append(args, filter.Target)
	}
	if filter.Context != "" {
		where = append(where, "context = ?")
		args = append(args, string(filter.Context))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT id, direction, target, context, status, attempts, rolled_back, drift_json, error, started_at, finished_at FROM ` + tableSync
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return query, args
}

// SaveModeration stores a moderation audit record.
func (s *Store) SaveModeration(ctx context.Context, rec store.ModerationRecord) error {
	retainedJSON, err := json.Marshal(rec.Retained)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}
	assessmentJSON, err := json.Marshal(rec.Assessment)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	query := s.rebind(`INSERT INTO ` + tableModeration + ` (request_id, provider, context, config_version, retained_json, dropped, assessment_json, risk_score, status, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		rec.RequestID, rec.Provider, string(rec.Context), rec.ConfigVersion,
		string(retainedJSON), rec.Dropped, string(assessmentJSON),
		rec.Assessment.RiskScore, string(rec.Assessment.Status), rec.CreatedAt.UnixMilli())
	if err != nil {
		return censor.NewStoreError("create", tableModeration, err)
	}
	return nil
}

// GetModeration gets a moderation record by request ID.
func (s *Store) GetModeration(ctx context.Context, requestID string) (*store.ModerationRecord, error) {
	query := s.rebind(`SELECT request_id, provider, context, config_version, retained_json, dropped, assessment_json, created_at
              FROM ` + tableModeration + ` WHERE request_id = ?`)

	var (
		rec                          store.ModerationRecord
		uc, retainedJSON, assessJSON string
		createdAt                    int64
	)
	err := s.db.QueryRowContext(ctx, query, requestID).Scan(
		&rec.RequestID, &rec.Provider, &uc, &rec.ConfigVersion, &retainedJSON, &rec.Dropped, &assessJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, censor.NewStoreError("get", tableModeration, err)
	}
	if err := json.Unmarshal([]byte(retainedJSON), &rec.Retained); err != nil {
		return nil, censor.NewStoreError("decode", tableModeration, err)
	}
	if err := json.Unmarshal([]byte(assessJSON), &rec.Assessment); err != nil {
		return nil, censor.NewStoreError("decode", tableModeration, err)
	}
	rec.Context = censor.UsageContext(uc)
	rec.CreatedAt = time.UnixMilli(createdAt)
	return &rec, nil
}

// withTx executes a function within a transaction.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
