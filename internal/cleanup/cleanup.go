package cleanup

import (
	"context"
	"time"

	"recipestore/internal/data"
	"recipestore/internal/logger"
)

const (
	expireBatchSize  = 50
	maxBatchesPerRun = 20
)

// Pruner drops stale in-memory state, such as rate limiter entries.
type Pruner interface {
	Prune() int
}

// Report counts what one run changed.
type Report struct {
	ExpiredOrders   int `json:"expired_orders"`
	DowngradedUsers int `json:"downgraded_users"`
	DeletedSessions int `json:"deleted_sessions"`
	PrunedEntries   int `json:"pruned_entries"`
}

func (r Report) Total() int {
	return r.ExpiredOrders + r.DowngradedUsers + r.DeletedSessions + r.PrunedEntries
}

type Service struct {
	pendingTTL time.Duration
	pruners    []Pruner
	now        func() time.Time
}

func NewService(pendingTTL time.Duration, pruners ...Pruner) *Service {
	return &Service{pendingTTL: pendingTTL, pruners: pruners, now: time.Now}
}

// Run cleans up on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	logger.LogInfo("Cleanup routine started - running every %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.LogInfo("Cleanup routine stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce expires abandoned orders, ends lapsed premium plans and purges expired sessions.
// Each step runs even if an earlier one fails.
func (s *Service) RunOnce(ctx context.Context) Report {
	var report Report
	now := s.now()

	expired, err := s.expireOrders(ctx, now.Add(-s.pendingTTL))
	if err != nil {
		logger.LogError("Failed to expire pending orders: %v", err)
	}
	report.ExpiredOrders = expired

	if report.DowngradedUsers, err = data.DowngradeExpiredPremium(ctx, now); err != nil {
		logger.LogError("Failed to downgrade expired premium users: %v", err)
	}

	if report.DeletedSessions, err = data.DeleteExpiredSessions(ctx, now); err != nil {
		logger.LogError("Failed to delete expired sessions: %v", err)
	}

	for _, p := range s.pruners {
		report.PrunedEntries += p.Prune()
	}

	if report.Total() == 0 {
		logger.LogDebug("Cleanup completed - nothing to do")
	} else {
		logger.LogInfo("Cleanup completed - expired_orders=%d downgraded_users=%d deleted_sessions=%d pruned=%d",
			report.ExpiredOrders, report.DowngradedUsers, report.DeletedSessions, report.PrunedEntries)
	}
	return report
}

func (s *Service) expireOrders(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for i := 0; i < maxBatchesPerRun; i++ {
		n, err := data.ExpireStaleOrders(ctx, cutoff, expireBatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < expireBatchSize {
			break
		}
	}
	return total, nil
}
