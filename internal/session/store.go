package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTTL           = 2 * time.Hour
	DefaultCleanInterval = 10 * time.Minute
)

type entry struct {
	state    *State
	lastSeen time.Time
}

// Store holds session states in memory, optionally mirrored to redis.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	policy  Policy
	ttl     time.Duration
	mirror  *Mirror
	onEvict []func(id string)
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a store whose idle sessions expire after ttl. mirror may be nil.
func NewStore(policy Policy, ttl time.Duration, mirror *Mirror, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries: make(map[string]*entry),
		policy:  policy,
		ttl:     ttl,
		mirror:  mirror,
		logger:  logger.Named("session"),
		now:     time.Now,
	}
}

func (s *Store) Policy() Policy {
	return s.policy
}

// Get returns the state for id, creating it with default settings on first access.
// A state mirrored by another instance is restored before defaults apply.
func (s *Store) Get(ctx context.Context, id string) *State {
	now := s.now()
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		e.lastSeen = now
		s.mu.Unlock()
		return e.state
	}
	s.mu.Unlock()

	st := newState(id)
	if s.mirror != nil {
		if ok, err := s.mirror.restore(ctx, st); err != nil {
			s.logger.Warn("restore session from mirror failed", zap.String("session", id), zap.Error(err))
		} else if ok {
			if err := s.policy.Validate(st.Settings); err != nil {
				st.Settings = DefaultSettings()
			}
			s.logger.Debug("session restored from mirror", zap.String("session", id))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// another request may have created it meanwhile
	if e, ok := s.entries[id]; ok {
		e.lastSeen = now
		return e.state
	}
	s.entries[id] = &entry{state: st, lastSeen: now}
	return st
}

// Lookup returns the state for id without creating it.
func (s *Store) Lookup(id string) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.state, true
}

// Save pushes the durable part of st to the mirror.
func (s *Store) Save(ctx context.Context, st *State) {
	if s.mirror == nil || st == nil {
		return
	}
	if err := s.mirror.save(ctx, st); err != nil {
		s.logger.Warn("mirror session failed", zap.String("session", st.ID), zap.Error(err))
	}
}

// Delete discards the session here and in the mirror.
func (s *Store) Delete(ctx context.Context, id string) {
	s.forget(id)
	if s.mirror != nil {
		if err := s.mirror.remove(ctx, id); err != nil {
			s.logger.Warn("remove mirrored session failed", zap.String("session", id), zap.Error(err))
		}
	}
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	callbacks := append([]func(string){}, s.onEvict...)
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, fn := range callbacks {
		fn(id)
	}
}

// OnEvict registers fn to run whenever a session leaves the store.
func (s *Store) OnEvict(fn func(id string)) {
	s.mu.Lock()
	s.onEvict = append(s.onEvict, fn)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Listen drops local copies of sessions deleted on other instances until ctx ends.
func (s *Store) Listen(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	return s.mirror.listen(ctx, s.forget)
}

// StartCleaner evicts idle sessions every interval until ctx is done.
func (s *Store) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Store) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.evictIdle(); n > 0 {
				s.logger.Info("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Store) evictIdle() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	var idle []string
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, id)
			idle = append(idle, id)
		}
	}
	callbacks := append([]func(string){}, s.onEvict...)
	s.mu.Unlock()
	for _, id := range idle {
		for _, fn := range callbacks {
			fn(id)
		}
	}
	return len(idle)
}
