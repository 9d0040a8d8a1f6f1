// Package vault keeps redaction records per session so placeholders in a
// model reply can be reinjected after the request that produced them.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raaihank/safedom/internal/privacy"
)

// ErrSessionNotFound is returned by Load for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// ErrPlaceholderConflict is returned by Append when a placeholder is already
// bound to a different original in the session.
var ErrPlaceholderConflict = errors.New("placeholder already bound in session")

// Record is the stored form of one session's redactions
type Record struct {
	SessionID  string              `json:"session_id"`
	Redactions []privacy.Redaction `json:"redactions"`
	StoredAt   time.Time           `json:"stored_at"`
}

// Store persists redaction records
type Store interface {
	// Append adds redactions to the session, creating it when needed. It
	// fails with ErrPlaceholderConflict and stores nothing if a placeholder
	// is already bound to another original.
	Append(ctx context.Context, session string, redactions []privacy.Redaction) error
	Load(ctx context.Context, session string) ([]privacy.Redaction, error)
	Delete(ctx context.Context, session string) error
	Close() error
}

// Config contains vault configuration
type Config struct {
	RedisURL  string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" mapstructure:"ttl"`
	PoolSize  int           `yaml:"pool_size" mapstructure:"pool_size"`
}

// NewSessionID returns a random session identifier
func NewSessionID() string {
	return uuid.NewString()
}

// NextCounter returns the first placeholder number not used by redactions,
// so a later call on the same session continues the numbering
func NextCounter(redactions []privacy.Redaction) int {
	next := 1
	for _, r := range redactions {
		if n, ok := placeholderNumber(r.Placeholder); ok && n >= next {
			next = n + 1
		}
	}
	return next
}

func placeholderNumber(placeholder string) (int, bool) {
	body := strings.TrimSuffix(placeholder, privacy.PlaceholderSuffix)
	if body == placeholder {
		return 0, false
	}
	i := strings.LastIndexFunc(body, func(r rune) bool { return r < '0' || r > '9' })
	n, err := strconv.Atoi(body[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// merge appends added to existing. Records already present are skipped.
func merge(existing, added []privacy.Redaction) ([]privacy.Redaction, error) {
	bound := make(map[string]string, len(existing))
	for _, r := range existing {
		bound[r.Placeholder] = r.Original
	}

	merged := append(make([]privacy.Redaction, 0, len(existing)+len(added)), existing...)
	for _, r := range added {
		original, ok := bound[r.Placeholder]
		if ok && original == r.Original {
			continue
		}
		if ok {
			return nil, fmt.Errorf("%w: %s", ErrPlaceholderConflict, r.Placeholder)
		}
		bound[r.Placeholder] = r.Original
		merged = append(merged, r)
	}
	return merged, nil
}
