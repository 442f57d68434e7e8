package notifier

import "sync"

// SeenSet suppresses duplicate automatic reminders. Implementations
// must be safe for concurrent use.
type SeenSet interface {
	Seen(key string) bool
	Mark(key string)
}

// NewMemorySeen returns a process-lifetime seen-set. After a restart
// every key is forgotten, so one extra reminder per task may go out
// following a redeploy; that trade-off is accepted over a persistent
// dedup store.
func NewMemorySeen() SeenSet {
	return &memorySeen{keys: make(map[string]struct{})}
}

type memorySeen struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (s *memorySeen) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

func (s *memorySeen) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
}
