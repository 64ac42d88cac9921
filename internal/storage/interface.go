package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/georgeshao/outscraper-go/pkg/types"
)

var ErrNotFound = errors.New("not found")

// Store persists namespaces and their tasks. Getters return (nil, nil) when
// the record does not exist; updates on a missing record wrap ErrNotFound.
type Store interface {
	CreateNamespace(ctx context.Context, ns *NamespaceRecord) error
	GetNamespace(ctx context.Context, name string) (*NamespaceRecord, error)
	UpdateNamespace(ctx context.Context, name string, ns *NamespaceRecord) error
	DeleteNamespace(ctx context.Context, name string) (deletedTasks int, err error)
	ListNamespaces(ctx context.Context) ([]*NamespaceRecord, error)
	GetNamespaceStats(ctx context.Context, name string) (*types.NamespaceStats, error)

	CreateTask(ctx context.Context, task *TaskRecord) error
	GetTask(ctx context.Context, id string) (*TaskRecord, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*TaskRecord, int, error)
	UpdateTaskStatus(ctx context.Context, id string, status types.TaskStatus, dispatchedAt time.Time) error
	UpdateTaskResult(ctx context.Context, id string, result json.RawMessage) error
	UpdateTaskError(ctx context.Context, id string, errMsg string) error
	GetQueuedTasks(ctx context.Context, namespace string) ([]*TaskRecord, error)

	Close() error
}
