// hearth/models/services.go
package models

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// --- Stateful Services ---

type RateLimiter struct {
	Mu       sync.RWMutex
	Limiters map[string]*rate.Limiter
	LastSeen map[string]time.Time
	every    time.Duration
	burst    int
	expire   time.Duration
}

// NewRateLimiter creates and starts a per-client login rate limiter.
func NewRateLimiter(every time.Duration, burst int, prune, expire time.Duration) *RateLimiter {
	rl := &RateLimiter{
		Limiters: make(map[string]*rate.Limiter),
		LastSeen: make(map[string]time.Time),
		every:    every,
		burst:    burst,
		expire:   expire,
	}
	go rl.cleanup(prune)
	return rl
}

// GetLimiter retrieves or creates a rate limiter for a given client key.
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.Mu.Lock()
	defer rl.Mu.Unlock()
	limiter, exists := rl.Limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Every(rl.every), rl.burst)
		rl.Limiters[key] = limiter
	}
	rl.LastSeen[key] = time.Now()
	return limiter
}

// cleanup periodically removes stale entries from the limiter maps.
func (rl *RateLimiter) cleanup(prune time.Duration) {
	for range time.Tick(prune) {
		rl.Mu.Lock()
		cutoff := time.Now().Add(-rl.expire)
		for key, lastSeen := range rl.LastSeen {
			if lastSeen.Before(cutoff) {
				delete(rl.Limiters, key)
				delete(rl.LastSeen, key)
			}
		}
		rl.Mu.Unlock()
	}
}

// --- Session Store ---

type session struct {
	Username string
	Role     Role
	Expires  time.Time
}

// SessionStore maps opaque tokens to logged-in staff accounts.
type SessionStore struct {
	Mu       sync.RWMutex
	Sessions map[string]session
	TTL      time.Duration
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{Sessions: make(map[string]session), TTL: ttl}
}

// Create issues a new session token for an authenticated account.
func (ss *SessionStore) Create(username string, role Role) string {
	token := uuid.New().String()
	ss.Mu.Lock()
	ss.Sessions[token] = session{Username: username, Role: role, Expires: time.Now().Add(ss.TTL)}
	ss.Mu.Unlock()
	return token
}

// Lookup resolves a token to its account. Expired sessions are removed on read.
func (ss *SessionStore) Lookup(token string) (string, Role, bool) {
	ss.Mu.Lock()
	defer ss.Mu.Unlock()
	s, ok := ss.Sessions[token]
	if !ok {
		return "", "", false
	}
	if time.Now().After(s.Expires) {
		delete(ss.Sessions, token)
		return "", "", false
	}
	return s.Username, s.Role, true
}

// Revoke removes a session token, if present.
func (ss *SessionStore) Revoke(token string) {
	ss.Mu.Lock()
	delete(ss.Sessions, token)
	ss.Mu.Unlock()
}

// RevokeUser removes every session belonging to a username. Used when an
// account is banned or deleted.
func (ss *SessionStore) RevokeUser(username string) {
	ss.Mu.Lock()
	for token, s := range ss.Sessions {
		if s.Username == username {
			delete(ss.Sessions, token)
		}
	}
	ss.Mu.Unlock()
}

// --- Entity Locks ---

// EntityLocks hands out one mutex per logical entity key so concurrent
// moderation of the same item serializes while distinct items proceed
// without contention.
type EntityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEntityLocks() *EntityLocks {
	return &EntityLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (el *EntityLocks) Lock(key string) func() {
	el.mu.Lock()
	m, ok := el.locks[key]
	if !ok {
		m = &sync.Mutex{}
		el.locks[key] = m
	}
	el.mu.Unlock()
	m.Lock()
	return m.Unlock
}
