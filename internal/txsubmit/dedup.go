package txsubmit

import (
	"sync"
	"time"
)

// settled records batches that already produced a settlement hash, so a
// retried round returns the original hash instead of submitting again. It is
// safe for concurrent use.
type settled struct {
	hashes map[string]settledEntry
	ttl    time.Duration
	mu     sync.Mutex
}

type settledEntry struct {
	hash string
	at   time.Time
}

func newSettled(ttl time.Duration) *settled {
	return &settled{
		hashes: make(map[string]settledEntry),
		ttl:    ttl,
	}
}

// get returns the settlement hash recorded for the fingerprint, if it is
// still within the TTL window.
func (s *settled) get(fingerprint string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.hashes[fingerprint]
	if !ok || time.Since(entry.at) >= s.ttl {
		return "", false
	}
	return entry.hash, true
}

// put records a settlement hash for the fingerprint.
func (s *settled) put(fingerprint, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[fingerprint] = settledEntry{hash: hash, at: time.Now()}
}

// cleanup removes entries that have expired beyond the TTL.
func (s *settled) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for fp, entry := range s.hashes {
		if now.Sub(entry.at) >= s.ttl {
			delete(s.hashes, fp)
		}
	}
}
