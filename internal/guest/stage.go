package guest

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StagedRequest holds an enhancement request that hit the guest quota wall.
// It is staged immediately before the wall response is sent; after sign-up
// the client resumes it by id. Image is the raw upload: staging happens
// before any storage write so an abandoned sign-up leaves nothing behind.
type StagedRequest struct {
	Image       []byte
	ContentType string
	Model       string
	CreatedAt   time.Time
}

type stagedEntry struct {
	req StagedRequest
}

// maxStagedEntries caps the store. Staging is reachable without
// authentication and each entry holds a raw upload, so the map must stay
// bounded even under abusive traffic.
const maxStagedEntries = 256

// StageStore is an in-process, TTL-bounded store of staged requests. A
// staged request can be claimed exactly once; expired entries are discarded
// rather than resumed silently.
type StageStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]stagedEntry
	ttl     time.Duration
	max     int
	now     func() time.Time
}

// NewStageStore creates a stage store with the given validity window.
func NewStageStore(ttl time.Duration) *StageStore {
	return &StageStore{
		entries: make(map[uuid.UUID]stagedEntry),
		ttl:     ttl,
		max:     maxStagedEntries,
		now:     time.Now,
	}
}

// Put stages a request and returns its id. Expired entries are pruned on
// the way in, and at capacity the oldest live entry is evicted.
func (s *StageStore) Put(req StagedRequest) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.entries {
		if now.Sub(e.req.CreatedAt) > s.ttl {
			delete(s.entries, id)
		}
	}
	if len(s.entries) >= s.max {
		s.evictOldest()
	}

	id := uuid.New()
	req.CreatedAt = now
	s.entries[id] = stagedEntry{req: req}
	return id
}

func (s *StageStore) evictOldest() {
	var oldest uuid.UUID
	var oldestAt time.Time
	for id, e := range s.entries {
		if oldestAt.IsZero() || e.req.CreatedAt.Before(oldestAt) {
			oldest, oldestAt = id, e.req.CreatedAt
		}
	}
	delete(s.entries, oldest)
}

// Claim removes and returns a staged request. Returns false for an unknown
// id or one past the validity window.
func (s *StageStore) Claim(id uuid.UUID) (StagedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return StagedRequest{}, false
	}
	delete(s.entries, id)

	if s.now().Sub(e.req.CreatedAt) > s.ttl {
		return StagedRequest{}, false
	}
	return e.req, true
}
