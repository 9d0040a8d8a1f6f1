package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/safedom/internal/privacy"
)

// RedisStore keeps records in Redis with a TTL
type RedisStore struct {
	client *redis.Client
	config Config
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config Config, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	store := &RedisStore{
		client: redis.NewClient(opts),
		config: config,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redaction vault initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Duration("ttl", config.TTL))

	return store, nil
}

// maxAppendRetries bounds optimistic retries when another writer touches the session
const maxAppendRetries = 5

// Append adds redactions to session inside a WATCH transaction and refreshes the TTL
func (s *RedisStore) Append(ctx context.Context, session string, redactions []privacy.Redaction) error {
	key := s.key(session)

	txf := func(tx *redis.Tx) error {
		var existing []privacy.Redaction
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to load redaction record: %w", err)
		default:
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				s.logger.Warn("Replacing corrupted redaction record", zap.String("session_id", session), zap.Error(err))
			} else {
				existing = record.Redactions
			}
		}

		merged, err := merge(existing, redactions)
		if err != nil {
			return err
		}
		data, err = json.Marshal(Record{
			SessionID:  session,
			Redactions: merged,
			StoredAt:   time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal redaction record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.config.TTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxAppendRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrPlaceholderConflict) {
				s.logger.Error("Failed to store redaction record", zap.String("session_id", session), zap.Error(err))
			}
			return err
		}

		s.logger.Debug("Redaction record stored",
			zap.String("session_id", session),
			zap.Int("redaction_count", len(redactions)))
		return nil
	}
	return fmt.Errorf("failed to store redaction record: session %s kept changing", session)
}

// Load returns the redactions for session
func (s *RedisStore) Load(ctx context.Context, session string) ([]privacy.Redaction, error) {
	data, err := s.client.Get(ctx, s.key(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load redaction record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// Corrupted entries are dropped so the session can be rebuilt
		s.client.Del(ctx, s.key(session))
		return nil, fmt.Errorf("failed to unmarshal redaction record: %w", err)
	}
	return record.Redactions, nil
}

// Delete removes the record for session
func (s *RedisStore) Delete(ctx context.Context, session string) error {
	if err := s.client.Del(ctx, s.key(session)).Err(); err != nil {
		return fmt.Errorf("failed to delete redaction record: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *RedisStore) key(session string) string {
	return s.config.KeyPrefix + session
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userinfo := url[:at]
	colon := strings.LastIndex(userinfo, ":")
	scheme := strings.Index(userinfo, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userinfo[:colon+1] + "***" + url[at:]
}
