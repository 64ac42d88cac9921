package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

type SQLiteStore struct {
	db *sql.DB
}

func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) CreateNamespace(ctx context.Context, ns *storage.NamespaceRecord) error {
	_, err := s.db.ExecContext(ctx, createNamespace,
		ns.Name,
		ns.Description,
		toNullString(ns.UpstreamURL),
		toNullString(ns.UpstreamAPIKey),
		ns.CreatedAt.UnixNano(),
		ns.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create namespace: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNamespace(ctx context.Context, name string) (*storage.NamespaceRecord, error) {
	record, err := scanNamespace(s.db.QueryRowContext(ctx, getNamespace, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get namespace: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) UpdateNamespace(ctx context.Context, name string, ns *storage.NamespaceRecord) error {
	res, err := s.db.ExecContext(ctx, updateNamespace,
		ns.Description,
		toNullString(ns.UpstreamURL),
		toNullString(ns.UpstreamAPIKey),
		ns.UpdatedAt.UnixNano(),
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to update namespace: %w", err)
	}
	return expectRow(res, "namespace", name)
}

func (s *SQLiteStore) DeleteNamespace(ctx context.Context, name string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, deleteTasksByNamespace, name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks: %w", err)
	}
	deletedTasks, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted tasks: %w", err)
	}

	res, err = tx.ExecContext(ctx, deleteNamespace, name)
	if err != nil {
		return 0, fmt.Errorf("failed to delete namespace: %w", err)
	}
	if err := expectRow(res, "namespace", name); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return int(deletedTasks), nil
}

func (s *SQLiteStore) ListNamespaces(ctx context.Context) ([]*storage.NamespaceRecord, error) {
	rows, err := s.db.QueryContext(ctx, listNamespaces)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	defer rows.Close()

	var records []*storage.NamespaceRecord
	for rows.Next() {
		record, err := scanNamespace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan namespace: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) GetNamespaceStats(ctx context.Context, name string) (*types.NamespaceStats, error) {
	rows, err := s.db.QueryContext(ctx, namespaceStats, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get namespace stats: %w", err)
	}
	defer rows.Close()

	stats := &types.NamespaceStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan namespace stats: %w", err)
		}
		switch types.TaskStatus(status) {
		case types.StatusQueued:
			stats.Queued = count
		case types.StatusProcessing:
			stats.Processing = count
		case types.StatusCompleted:
			stats.Completed = count
		case types.StatusFailed:
			stats.Failed = count
		}
		stats.TotalTasks += count
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, task *storage.TaskRecord) error {
	query, err := json.Marshal(task.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal task query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, createTask,
		task.ID,
		task.Namespace,
		task.Endpoint,
		methodOrGet(task.Method),
		string(query),
		toNullRaw(task.Body),
		string(task.Status),
		task.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*storage.TaskRecord, error) {
	record, err := scanTask(s.db.QueryRowContext(ctx, getTask, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*storage.TaskRecord, int, error) {
	if filter.Namespace == nil {
		return nil, 0, fmt.Errorf("namespace is required")
	}

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}

	where := []string{"namespace = ?"}
	args := []any{*filter.Namespace}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	var total int
	countSQL := "SELECT COUNT(*) FROM tasks WHERE " + strings.Join(where, " AND ")
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	if filter.Cursor != nil {
		where = append(where, "created_at < ?")
		args = append(args, filter.Cursor.UnixNano())
	}
	args = append(args, limit)

	listSQL := "SELECT " + taskColumns + " FROM tasks WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC LIMIT ?"

	records, err := s.queryTasks(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return records, total, nil
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status types.TaskStatus, dispatchedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, updateTaskStatus, string(status), dispatchedAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return expectRow(res, "task", id)
}

func (s *SQLiteStore) UpdateTaskResult(ctx context.Context, id string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, updateTaskResult, toNullRaw(result), time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update task result: %w", err)
	}
	return expectRow(res, "task", id)
}

func (s *SQLiteStore) UpdateTaskError(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx, updateTaskError, errMsg, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update task error: %w", err)
	}
	return expectRow(res, "task", id)
}

func (s *SQLiteStore) GetQueuedTasks(ctx context.Context, namespace string) ([]*storage.TaskRecord, error) {
	records, err := s.queryTasks(ctx, queuedTasks, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to get queued tasks: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*storage.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*storage.TaskRecord
	for rows.Next() {
		record, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanNamespace(row scanner) (*storage.NamespaceRecord, error) {
	var (
		record               storage.NamespaceRecord
		upstreamURL, apiKey  sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&record.Name, &record.Description, &upstreamURL, &apiKey, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	record.UpstreamURL = fromNullString(upstreamURL)
	record.UpstreamAPIKey = fromNullString(apiKey)
	record.CreatedAt = time.Unix(0, createdAt)
	record.UpdatedAt = time.Unix(0, updatedAt)
	return &record, nil
}

func scanTask(row scanner) (*storage.TaskRecord, error) {
	var (
		record                    storage.TaskRecord
		status, query             string
		body, result, errMsg      sql.NullString
		createdAt                 int64
		dispatchedAt, completedAt sql.NullInt64
	)
	err := row.Scan(
		&record.ID,
		&record.Namespace,
		&record.Endpoint,
		&record.Method,
		&query,
		&body,
		&status,
		&result,
		&errMsg,
		&createdAt,
		&dispatchedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(query), &record.Query); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task query: %w", err)
	}
	record.Status = types.TaskStatus(status)
	record.Body = fromNullRaw(body)
	record.ResultPayload = fromNullRaw(result)
	record.Error = fromNullString(errMsg)
	record.CreatedAt = time.Unix(0, createdAt)
	record.DispatchedAt = fromNullTime(dispatchedAt)
	record.CompletedAt = fromNullTime(completedAt)
	return &record, nil
}

func expectRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, key, storage.ErrNotFound)
	}
	return nil
}

func methodOrGet(m string) string {
	if m == "" {
		return "GET"
	}
	return m
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func fromNullRaw(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func fromNullTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}
