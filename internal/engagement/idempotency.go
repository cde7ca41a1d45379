package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/budbot/whatsapp-gateway/pkg/logger"
	"github.com/budbot/whatsapp-gateway/pkg/redis"
)

var (
	ErrAlreadyTracked     = errors.New("message already tracked")
	ErrLockAcquireFailed  = errors.New("failed to acquire tracking lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// IdempotencyConfig tunes the redis keys that guard against tracking the
// same stored message twice when the stream redelivers it.
type IdempotencyConfig struct {
	LockTTL          time.Duration
	TrackedTTL       time.Duration
	MaxRetries       int
	RetryKeyPrefix   string
	LockKeyPrefix    string
	TrackedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:          30 * time.Second,
		TrackedTTL:       24 * time.Hour,
		MaxRetries:       3,
		RetryKeyPrefix:   "engagement:retry:",
		LockKeyPrefix:    "engagement:lock:",
		TrackedKeyPrefix: "engagement:tracked:",
	}
}

type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type TrackingContext struct {
	MessageID    string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
}

// AcquireLock takes the short-term lock for one message. Callers get
// ErrAlreadyTracked when a previous attempt finished, ErrLockAcquireFailed
// when another consumer holds the lock right now.
func (s *IdempotencyService) AcquireLock(ctx context.Context, messageID string) (*TrackingContext, error) {
	trackedKey := s.config.TrackedKeyPrefix + messageID
	exists, err := s.redis.Exist(trackedKey)
	if err != nil {
		// a failed check must not block the stream; risk a duplicate instead
		logger.Warn("tracked check failed", "message_id", messageID, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyTracked
	}

	retryCount, err := s.GetRetryCount(ctx, messageID)
	if err != nil {
		retryCount = 0
	}
	if retryCount >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: message_id=%s, retries=%d", ErrMaxRetriesExceeded, messageID, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + messageID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	return &TrackingContext{
		MessageID:    messageID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
	}, nil
}

// MarkTracked sets the long-term marker and drops the lock and retry
// counter.
func (s *IdempotencyService) MarkTracked(ctx context.Context, tc *TrackingContext) error {
	trackedKey := s.config.TrackedKeyPrefix + tc.MessageID
	if err := s.redis.Set(trackedKey, []byte("1"), s.config.TrackedTTL); err != nil {
		return fmt.Errorf("mark tracked: %w", err)
	}

	if err := s.redis.Del(s.config.LockKeyPrefix + tc.MessageID); err != nil {
		logger.Warn("lock cleanup failed", "message_id", tc.MessageID, "error", err)
	}
	if err := s.redis.Del(s.config.RetryKeyPrefix + tc.MessageID); err != nil {
		logger.Warn("retry counter cleanup failed", "message_id", tc.MessageID, "error", err)
	}

	tc.lockAcquired = false
	return nil
}

// MarkFailed bumps the retry counter and releases the lock so another
// attempt can run.
func (s *IdempotencyService) MarkFailed(ctx context.Context, tc *TrackingContext, reason error) error {
	retryKey := s.config.RetryKeyPrefix + tc.MessageID
	newRetryCount := tc.RetryCount + 1

	if err := s.redis.Set(retryKey, []byte(fmt.Sprintf("%d", newRetryCount)), s.config.TrackedTTL); err != nil {
		logger.Error("retry counter update failed", "message_id", tc.MessageID, "error", err)
	}

	if err := s.redis.Del(s.config.LockKeyPrefix + tc.MessageID); err != nil {
		logger.Warn("lock release failed", "message_id", tc.MessageID, "error", err)
	}
	tc.lockAcquired = false

	logger.Warn("tracking failed, will retry",
		"message_id", tc.MessageID,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason,
	)
	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, tc *TrackingContext) error {
	if tc == nil || !tc.lockAcquired {
		return nil
	}
	if err := s.redis.Del(s.config.LockKeyPrefix + tc.MessageID); err != nil {
		return err
	}
	tc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, messageID string) (int, error) {
	b, err := s.redis.Get(s.config.RetryKeyPrefix + messageID)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}
	retryCount := 0
	fmt.Sscanf(string(b), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsTracked(ctx context.Context, messageID string) (bool, error) {
	exists, err := s.redis.Exist(s.config.TrackedKeyPrefix + messageID)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
