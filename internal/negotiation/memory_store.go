package negotiation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. Each session has its own lock so
// updates to different sessions never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.Status == StatusInProgress && existing.ProductID == s.ProductID && existing.CustomerID == s.CustomerID {
			return errSessionExists
		}
	}

	s.markSaved()
	m.sessions[s.ID] = s.clone()
	m.locks[s.ID] = &sync.Mutex{}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) FindInProgress(ctx context.Context, productID, customerID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.Status == StatusInProgress && s.ProductID == productID && s.CustomerID == customerID {
			return s.clone(), nil
		}
	}
	return nil, ErrSessionNotFound
}

func (m *MemoryStore) Update(ctx context.Context, id string, fn func(s *Session) error) (*Session, error) {
	m.mu.RLock()
	lock, ok := m.locks[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	current, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	working := current.clone()

	if err := fn(working); err != nil {
		return nil, err
	}

	working.markSaved()
	m.mu.Lock()
	m.sessions[id] = working.clone()
	m.mu.Unlock()
	return working, nil
}

func (m *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if filter.CustomerID != "" && s.CustomerID != filter.CustomerID {
			continue
		}
		if filter.VendorID != "" && s.VendorID != filter.VendorID {
			continue
		}
		if filter.ProductID != "" && s.ProductID != filter.ProductID {
			continue
		}
		if filter.ActiveOnly && !s.IsActive(filter.Now) {
			continue
		}
		out = append(out, s.clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListOverdue(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if s.overdue(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if s.Status == StatusExpired && s.UpdatedAt.Before(before) {
			delete(m.sessions, id)
			delete(m.locks, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(ctx context.Context, filter StatsFilter) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{ByStatus: make(map[Status]int)}
	var savingsSum, minutesSum float64
	for _, s := range m.sessions {
		if filter.VendorID != "" && s.VendorID != filter.VendorID {
			continue
		}
		if filter.ProductID != "" && s.ProductID != filter.ProductID {
			continue
		}
		st.ByStatus[s.Status]++
		if s.Status != StatusAccepted {
			continue
		}
		if pct := s.SavingsPercent(); pct != nil {
			savingsSum += *pct
		}
		if s.Result.TimeToCompleteMinutes != nil {
			minutesSum += float64(*s.Result.TimeToCompleteMinutes)
		}
	}

	if accepted := st.ByStatus[StatusAccepted]; accepted > 0 {
		st.AverageSavingsPercent = savingsSum / float64(accepted)
		st.AverageMinutesToClose = minutesSum / float64(accepted)
	}
	finishStats(&st)
	return st, nil
}
