package service

import (
	"context"
	"fmt"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

// TaskService is the read side of the work queue. Tasks are projected from
// open assignments at query time; the service never writes anything.
type TaskService interface {
	GetMyTasks(ctx context.Context, filter entity.TaskFilter) ([]*entity.Task, error)
}

type taskServiceImpl struct {
	taskRepo port.TaskRepository
	logger   Logger
}

// NewTaskService creates a new TaskService.
func NewTaskService(taskRepo port.TaskRepository, logger Logger) TaskService {
	return &taskServiceImpl{
		taskRepo: taskRepo,
		logger:   logger,
	}
}

// GetMyTasks returns the open tasks matching the filter, highest priority
// first. An assignee is required; the unbounded queue is not a user query.
func (s *taskServiceImpl) GetMyTasks(ctx context.Context, filter entity.TaskFilter) ([]*entity.Task, error) {
	if filter.AssigneeID == "" {
		return nil, fmt.Errorf("assignee is required")
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	tasks, err := s.taskRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

var _ TaskService = (*taskServiceImpl)(nil)
