package storage

import (
	"context"
	errors2 "errors"
	"fmt"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors/keys"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/retry"
	"go.uber.org/zap"
)

// DefaultConflictPolicy spaces out attempts that lost a commit race.
var DefaultConflictPolicy retry.Policy = retry.ExponentialBackoff{
	Min:    2 * time.Millisecond,
	Max:    50 * time.Millisecond,
	Jitter: 0.5,
}

// Update runs fn in a fresh transaction and commits it. A commit conflict
// or a read of a record changed after the transaction began re-runs fn from
// scratch against a new transaction, at most attempts times,
// after which an error wrapping errors.ErrTransient is returned. An error
// returned by fn rolls the transaction back, unless errors.KeepsChanges
// reports it should be committed; the error is returned either way.
func Update(ctx context.Context, s *Store, attempts int, fn func(tx *Tx) error) error {
	return UpdateWithPolicy(ctx, s, attempts, DefaultConflictPolicy, fn)
}

// UpdateWithPolicy is Update with an explicit backoff between attempts.
func UpdateWithPolicy(ctx context.Context, s *Store, attempts int, policy retry.Policy, fn func(tx *Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastConflict error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := retry.Sleep(ctx, policy, attempt-1, lastConflict); err != nil {
				return err
			}
		}
		tx := s.Begin(ctx)
		ferr := fn(tx)
		if stale := tx.Stale(); stale != nil {
			// fn may have acted on a read it could not make
			tx.Rollback()
			lastConflict = stale
			continue
		}
		if ferr != nil && !errors.KeepsChanges(ferr) {
			tx.Rollback()
			if errors2.Is(ferr, errors.ErrConflict) {
				lastConflict = ferr
				continue
			}
			return ferr
		}
		cerr := tx.Commit()
		if cerr == nil {
			return ferr
		}
		if !errors2.Is(cerr, errors.ErrConflict) {
			return cerr
		}
		lastConflict = cerr
		s.log.Debug("retrying after conflict", zap.Int(keys.Attempt, attempt+1), zap.Error(cerr))
	}
	return fmt.Errorf("gave up after %d attempts: %w: %w", attempts, lastConflict, errors.ErrTransient)
}

// ViewAttempts bounds how often View restarts fn after the view it read
// from was overtaken by a commit.
const ViewAttempts = 5

// View runs fn in a transaction that is always rolled back. fn sees a single
// committed state; it is re-run from scratch when a commit made that state
// unreadable, at most ViewAttempts times.
func View(ctx context.Context, s *Store, fn func(tx *Tx) error) error {
	var lastConflict error
	for attempt := 0; attempt < ViewAttempts; attempt++ {
		if attempt > 0 {
			if err := retry.Sleep(ctx, DefaultConflictPolicy, attempt-1, lastConflict); err != nil {
				return err
			}
		}
		tx := s.Begin(ctx)
		err := fn(tx)
		tx.Rollback()
		stale := tx.Stale()
		if stale == nil {
			return err
		}
		lastConflict = stale
		s.log.Debug("retrying view after conflict", zap.Int(keys.Attempt, attempt+1), zap.Error(stale))
	}
	return fmt.Errorf("gave up after %d attempts: %w: %w", ViewAttempts, lastConflict, errors.ErrTransient)
}
