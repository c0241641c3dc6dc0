package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	v "github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const cleanupTimeout = 5 * time.Minute

// Scheduler runs the periodic database cleanups
type Scheduler struct {
	c  *cron.Cron
	db *gorm.DB
}

type cleanupFunc func(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)

// NewScheduler registers the cleanup jobs on the schedules from
// cleanup.tokens_schedule and cleanup.accounts_schedule. Nothing runs until
// Start is called.
func NewScheduler(db *gorm.DB) (*Scheduler, error) {
	s := &Scheduler{
		c:  cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		db: db,
	}

	jobs := []struct {
		name     string
		schedule string
		fn       cleanupFunc
	}{
		{"token cleanup", v.GetString("cleanup.tokens_schedule"), TokenCleanup},
		{"account cleanup", v.GetString("cleanup.accounts_schedule"), AccountCleanup},
	}

	for _, j := range jobs {
		if _, err := s.c.AddFunc(j.schedule, s.job(j.name, j.fn)); err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s, %w", j.schedule, j.name, err)
		}

		zap.L().Debug("Cleanup attached", zap.String("job", j.name), zap.String("schedule", j.schedule))
	}

	return s, nil
}

func (s *Scheduler) job(name string, fn cleanupFunc) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		if _, err := fn(ctx, s.db, time.Now()); err != nil {
			zap.L().Error("Cleanup job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop prevents new runs and waits for running ones to finish
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
