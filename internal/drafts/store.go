// Package drafts retains compressed assets between a failed submission and its
// resubmission.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/foodscan/internal/compress"
	"github.com/example/foodscan/internal/logging"
)

// ErrDraftNotFound is returned when a draft expired or was never saved.
var ErrDraftNotFound = errors.New("draft not found")

// DefaultTTL is how long an unsent draft is kept.
const DefaultTTL = 24 * time.Hour

// Store serializes assets into a Cache keyed by scan id.
type Store struct {
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewStore constructs a draft store. A non-positive ttl selects DefaultTTL.
func NewStore(cache Cache, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("draft_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func draftKey(scanID string) string {
	return fmt.Sprintf("draft:%s", scanID)
}

// Save stores asset under scanID.
func (s *Store) Save(ctx context.Context, scanID string, asset *compress.Asset) error {
	if asset == nil {
		return logging.NewOperationError("drafts.save", scanID, errors.New("asset is nil"))
	}
	serialized, err := json.Marshal(asset)
	if err != nil {
		return logging.NewOperationError("drafts.encode", scanID, err)
	}
	return s.withRedisRetry(ctx, scanID, "drafts.save", func() error {
		return s.cache.Set(ctx, draftKey(scanID), string(serialized), s.ttl)
	})
}

// Load returns the asset saved under scanID or ErrDraftNotFound.
func (s *Store) Load(ctx context.Context, scanID string) (*compress.Asset, error) {
	var raw string
	err := s.withRedisRetry(ctx, scanID, "drafts.load", func() error {
		value, err := s.cache.Get(ctx, draftKey(scanID))
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, logging.NewOperationError("drafts.load", scanID, ErrDraftNotFound)
	}
	if err != nil {
		return nil, err
	}

	var asset compress.Asset
	if err := json.Unmarshal([]byte(raw), &asset); err != nil {
		logging.WithOperation(s.logger, "drafts.decode", scanID).Warn("failed to decode draft", zap.Error(err))
		return nil, logging.NewOperationError("drafts.decode", scanID, err)
	}
	return &asset, nil
}

// Delete drops the draft for scanID. Deleting a missing draft is not an error.
func (s *Store) Delete(ctx context.Context, scanID string) error {
	return s.withRedisRetry(ctx, scanID, "drafts.delete", func() error {
		return s.cache.Del(ctx, draftKey(scanID))
	})
}

func (s *Store) withRedisRetry(ctx context.Context, scanID, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		return logging.NewOperationError(operation, scanID, fn())
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, scanID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, scanID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("draft operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, scanID, err)
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("draft operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, scanID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, scanID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
