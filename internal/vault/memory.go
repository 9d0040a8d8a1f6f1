package vault

import (
	"context"
	"sync"
	"time"

	"github.com/raaihank/safedom/internal/privacy"
)

// MemoryStore keeps records in process memory. Used when Redis is not
// configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store; ttl <= 0 keeps records forever
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Append adds redactions to session. An expired session starts over.
func (s *MemoryStore) Append(_ context.Context, session string, redactions []privacy.Redaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []privacy.Redaction
	if record, ok := s.records[session]; ok && !s.expired(record) {
		existing = record.Redactions
	}
	merged, err := merge(existing, redactions)
	if err != nil {
		return err
	}
	s.records[session] = Record{SessionID: session, Redactions: merged, StoredAt: s.now()}
	return nil
}

func (s *MemoryStore) expired(record Record) bool {
	return s.ttl > 0 && s.now().Sub(record.StoredAt) > s.ttl
}

func (s *MemoryStore) Load(_ context.Context, session string) ([]privacy.Redaction, error) {
	s.mu.RLock()
	record, ok := s.records[session]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.expired(record) {
		s.mu.Lock()
		delete(s.records, session)
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	out := make([]privacy.Redaction, len(record.Redactions))
	copy(out, record.Redactions)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, session)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
