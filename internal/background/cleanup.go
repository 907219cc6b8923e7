package background

import (
	"context"
	"log/slog"
	"time"
)

// TokenPruner clears stale verification tokens from the store.
type TokenPruner interface {
	PruneVerificationTokens(ctx context.Context) (int64, error)
}

// WindowPruner drops idle rate limit windows from memory.
type WindowPruner interface {
	PruneIdle() int
}

// CleanupManager periodically prunes stale verification tokens and idle rate
// limit windows.
type CleanupManager struct {
	tokens   TokenPruner
	windows  WindowPruner
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	tokens TokenPruner,
	windows WindowPruner,
	logger *slog.Logger,
	interval time.Duration,
) *CleanupManager {
	return &CleanupManager{
		tokens:   tokens,
		windows:  windows,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. Blocks until Stop is called or the
// context is cancelled.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsCleared, err := cm.tokens.PruneVerificationTokens(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to prune verification tokens", slog.Any("error", err))
	} else if rowsCleared > 0 {
		cm.logger.Info("stale verification tokens pruned", slog.Int64("rows", rowsCleared))
	}

	if pruned := cm.windows.PruneIdle(); pruned > 0 {
		cm.logger.Info("idle rate limit windows pruned", slog.Int("windows", pruned))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
