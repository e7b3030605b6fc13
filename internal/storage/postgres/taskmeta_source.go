// Package postgres reads task state from the Celery database result backend.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-task-progress/internal/relay"
)

const defaultTable = "celery_taskmeta"

// Celery task states.
const (
	StatePending  = "PENDING"
	StateStarted  = "STARTED"
	StateProgress = "PROGRESS"
	StateSuccess  = "SUCCESS"
	StateFailure  = "FAILURE"
	StateRevoked  = "REVOKED"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TaskMetaConfig controls the Postgres connection pool used to read task rows.
type TaskMetaConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryRowCloser interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// TaskMetaSource is a read-only relay.StatusSource over the result backend
// table.
type TaskMetaSource struct {
	pool  queryRowCloser
	query string
}

// NewTaskMetaSource connects to Postgres using the provided config.
func NewTaskMetaSource(ctx context.Context, cfg TaskMetaConfig) (*TaskMetaSource, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newSource(pool, table), nil
}

// NewTaskMetaSourceWithPool constructs a source from an existing pool (primarily for testing).
func NewTaskMetaSourceWithPool(pool queryRowCloser, table string) (*TaskMetaSource, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newSource(pool, name), nil
}

func newSource(pool queryRowCloser, table string) *TaskMetaSource {
	return &TaskMetaSource{
		pool:  pool,
		query: fmt.Sprintf(`SELECT status, result FROM %s WHERE task_id = $1`, table),
	}
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *TaskMetaSource) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TaskInfo implements relay.StatusSource. Tasks without a row are pending.
func (s *TaskMetaSource) TaskInfo(ctx context.Context, taskID string) (relay.TaskInfo, error) {
	var (
		status string
		result []byte
	)
	err := s.pool.QueryRow(ctx, s.query, taskID).Scan(&status, &result)
	if errors.Is(err, pgx.ErrNoRows) {
		return relay.PendingInfo(taskID), nil
	}
	if err != nil {
		return relay.TaskInfo{}, fmt.Errorf("select task %q: %w", taskID, err)
	}
	return infoFromRow(taskID, status, result), nil
}

func infoFromRow(taskID, status string, result []byte) relay.TaskInfo {
	switch status {
	case StateSuccess:
		return relay.CompletedInfo(taskID, true, asJSON(result))
	case StateFailure, StateRevoked:
		return relay.FailedInfo(taskID, failureText(result))
	case StateProgress:
		var meta relay.ProgressMeta
		if err := json.Unmarshal(result, &meta); err != nil {
			return relay.PendingInfo(taskID)
		}
		return relay.ProgressInfo(taskID, meta)
	default:
		return relay.PendingInfo(taskID)
	}
}

// asJSON returns result when it is valid JSON and a JSON string otherwise.
func asJSON(result []byte) json.RawMessage {
	if len(result) == 0 {
		return nil
	}
	if json.Valid(result) {
		return json.RawMessage(result)
	}
	quoted, _ := json.Marshal(string(result)) //nolint:errchkjson // marshaling a string cannot fail
	return quoted
}

type storedException struct {
	ExcType    string          `json:"exc_type"`
	ExcMessage json.RawMessage `json:"exc_message"`
}

// failureText renders a stored exception the way str(exc) would.
func failureText(result []byte) string {
	var exc storedException
	if err := json.Unmarshal(result, &exc); err != nil || len(exc.ExcMessage) == 0 {
		return strings.TrimSpace(string(result))
	}
	var args []any
	if err := json.Unmarshal(exc.ExcMessage, &args); err == nil {
		parts := make([]string, 0, len(args))
		for _, a := range args {
			parts = append(parts, fmt.Sprint(a))
		}
		return strings.Join(parts, ", ")
	}
	var msg string
	if err := json.Unmarshal(exc.ExcMessage, &msg); err == nil {
		return msg
	}
	return string(exc.ExcMessage)
}
