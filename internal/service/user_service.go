package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/feedback-desk-api/internal/models"
	appErrors "github.com/noah-isme/feedback-desk-api/pkg/errors"
)

type employeeLister interface {
	ListEmployees(ctx context.Context) ([]models.EmployeeSummary, error)
}

// UserService exposes staff directory reads used by the HOD console.
type UserService struct {
	repo   employeeLister
	logger *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(repo employeeLister, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{repo: repo, logger: logger}
}

// ListEmployees returns active employees with their open assignment counts,
// used when choosing an assignee.
func (s *UserService) ListEmployees(ctx context.Context) ([]models.EmployeeSummary, error) {
	employees, err := s.repo.ListEmployees(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to list employees")
	}
	return employees, nil
}
