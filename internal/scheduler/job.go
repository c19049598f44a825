package scheduler

import (
	"context"

	"flint/internal/models"
)

// Job is a unit of work run by the worker pool.
type Job interface {
	Execute(ctx context.Context) error
	UserID() string
	Description() string
}

// syncJob refreshes one user's holdings for one provider.
type syncJob struct {
	sweeper  *Sweeper
	provider models.Provider
	userID   string
}

func (j *syncJob) Execute(ctx context.Context) error {
	return j.sweeper.SyncUser(ctx, j.provider, j.userID)
}

func (j *syncJob) UserID() string { return j.userID }

func (j *syncJob) Description() string { return string(j.provider) + " holdings sync" }
