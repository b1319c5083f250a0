package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrEmptyTitle indicates a task title was empty after trimming.
	ErrEmptyTitle = errors.New("tasks: title must not be empty")
	// ErrEmptyPatch indicates an update carried no applicable fields.
	ErrEmptyPatch = errors.New("tasks: patch carries no applicable fields")
	// ErrTaskNotFound indicates no task exists with the referenced id.
	ErrTaskNotFound = errors.New("tasks: task not found")

	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("owning user id is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError wraps a task operation failure with a stable dot-separated code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "tasks.service.new"
	opList       = "tasks.list"
	opCreate     = "tasks.create"
	opUpdate     = "tasks.update"
	opDelete     = "tasks.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the task repository.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service performs task CRUD scoped to a resolved user id.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the task service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// List returns all tasks owned by the user. An empty slice is a valid result,
// not an error.
func (s *Service) List(ctx context.Context, userID int64) ([]Task, error) {
	if s.db == nil {
		s.logError(opList, "missing_database", errMissingDatabase)
		return nil, newServiceError(opList, "missing_database", errMissingDatabase)
	}
	if userID <= 0 {
		s.logError(opList, "missing_user_id", errMissingUserID)
		return nil, newServiceError(opList, "missing_user_id", errMissingUserID)
	}

	var items []Task
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.Int64("user_id", userID))
		return nil, newServiceError(opList, "query_failed", err)
	}

	return items, nil
}

// Create validates and persists a new task for the user. The title must be
// non-empty after trimming; a blank category is stored as absent.
func (s *Service) Create(ctx context.Context, userID int64, title string, completed bool, category string) (Task, error) {
	if s.db == nil {
		s.logError(opCreate, "missing_database", errMissingDatabase)
		return Task{}, newServiceError(opCreate, "missing_database", errMissingDatabase)
	}
	if userID <= 0 {
		s.logError(opCreate, "missing_user_id", errMissingUserID)
		return Task{}, newServiceError(opCreate, "missing_user_id", errMissingUserID)
	}

	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		return Task{}, newServiceError(opCreate, "empty_title", ErrEmptyTitle)
	}

	task := Task{
		Title:     trimmedTitle,
		Completed: completed,
		Category:  NormalizeCategory(category),
		UserID:    userID,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Omit("Owner").Create(&task).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.Int64("user_id", userID))
		return Task{}, newServiceError(opCreate, "insert_failed", err)
	}

	return task, nil
}

// Update applies the patch to the referenced task and returns the updated row.
// Field rules: Completed applies as-is; Title applies only when non-empty
// after trimming; Category clears to absent when blank, otherwise sets the
// trimmed value. A patch resolving to zero applicable fields is rejected
// before any store access.
func (s *Service) Update(ctx context.Context, taskID int64, patch Patch) (Task, error) {
	if s.db == nil {
		s.logError(opUpdate, "missing_database", errMissingDatabase)
		return Task{}, newServiceError(opUpdate, "missing_database", errMissingDatabase)
	}

	updates := patchUpdates(patch)
	if len(updates) == 0 {
		return Task{}, newServiceError(opUpdate, "empty_patch", ErrEmptyPatch)
	}

	var updated Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Task
		err := tx.Where("id = ?", taskID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdate, "not_found", ErrTaskNotFound)
		}
		if err != nil {
			s.logError(opUpdate, "select_failed", err, zap.Int64("task_id", taskID))
			return newServiceError(opUpdate, "select_failed", err)
		}

		if err := tx.Model(&Task{}).Where("id = ?", taskID).Updates(updates).Error; err != nil {
			s.logError(opUpdate, "update_failed", err, zap.Int64("task_id", taskID))
			return newServiceError(opUpdate, "update_failed", err)
		}

		if err := tx.Where("id = ?", taskID).Take(&updated).Error; err != nil {
			s.logError(opUpdate, "reload_failed", err, zap.Int64("task_id", taskID))
			return newServiceError(opUpdate, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Task{}, txErr
	}

	return updated, nil
}

// Delete removes the referenced task and returns its state prior to removal.
func (s *Service) Delete(ctx context.Context, taskID int64) (Task, error) {
	if s.db == nil {
		s.logError(opDelete, "missing_database", errMissingDatabase)
		return Task{}, newServiceError(opDelete, "missing_database", errMissingDatabase)
	}

	var removed Task
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", taskID).Take(&removed).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDelete, "not_found", ErrTaskNotFound)
		}
		if err != nil {
			s.logError(opDelete, "select_failed", err, zap.Int64("task_id", taskID))
			return newServiceError(opDelete, "select_failed", err)
		}

		if err := tx.Where("id = ?", taskID).Delete(&Task{}).Error; err != nil {
			s.logError(opDelete, "delete_failed", err, zap.Int64("task_id", taskID))
			return newServiceError(opDelete, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Task{}, txErr
	}

	return removed, nil
}

// patchUpdates maps applicable patch fields to their column assignments.
// Present-but-blank titles are ignored rather than applied; a blank category
// clears the column to NULL.
func patchUpdates(patch Patch) map[string]interface{} {
	updates := map[string]interface{}{}
	if patch.Completed != nil {
		updates["completed"] = *patch.Completed
	}
	if patch.Title != nil {
		if trimmed := strings.TrimSpace(*patch.Title); trimmed != "" {
			updates["title"] = trimmed
		}
	}
	if patch.Category != nil {
		updates["category"] = NormalizeCategory(*patch.Category)
	}
	return updates
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("tasks service error", attrs...)
}
