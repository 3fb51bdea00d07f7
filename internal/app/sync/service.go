package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/sirupsen/logrus"

	domain "github.com/reybrally/customer-sync-service/internal/domain/customer"
	"github.com/reybrally/customer-sync-service/internal/logging"
)

// SyncService owns the destination store and turns entity snapshots into
// idempotent writes. All calls arrive sequentially from the one processing
// loop.
type SyncService struct {
	repo     StagingRepo
	shutdown stdsync.Once
}

func NewSyncService(repo StagingRepo) *SyncService {
	return &SyncService{repo: repo}
}

// Initialize verifies the staging table exists. A missing table is a
// deployment problem, not a transient one, so the caller is expected to
// exit rather than retry.
func (s *SyncService) Initialize(ctx context.Context) error {
	if err := s.repo.CheckSchema(ctx); err != nil {
		return fmt.Errorf("verify staging schema: %w", err)
	}
	return nil
}

func (s *SyncService) Upsert(ctx context.Context, c domain.Customer) (Result, error) {
	if c.CustomerID == "" {
		return Result{}, ErrMissingEntityID
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	stored, inserted, err := s.repo.UpsertCustomer(ctx, c)
	if err != nil {
		return Result{}, err
	}
	action := ActionUpdated
	if inserted {
		action = ActionCreated
	}
	return Result{Action: action, Customer: stored}, nil
}

// Delete is idempotent: deleting an absent or never-synced customer reports
// not_found and no error.
func (s *SyncService) Delete(ctx context.Context, id string) (Result, error) {
	if id == "" {
		return Result{}, ErrMissingEntityID
	}
	err := s.repo.DeleteCustomer(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Result{Action: ActionNotFound, Customer: domain.Customer{CustomerID: id}}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Action: ActionDeleted, Customer: domain.Customer{CustomerID: id}}, nil
}

func (s *SyncService) HealthCheck(ctx context.Context) DatabaseHealth {
	h, err := s.repo.Health(ctx)
	if err != nil {
		logging.LogWarn("staging health check failed", logrus.Fields{"error": err.Error()})
		return DatabaseHealth{Status: "unhealthy"}
	}
	return h
}

// Shutdown releases the destination connection. Safe to call repeatedly.
func (s *SyncService) Shutdown() {
	s.shutdown.Do(func() {
		s.repo.Close()
		logging.LogInfo("staging store connection closed", logrus.Fields{})
	})
}
