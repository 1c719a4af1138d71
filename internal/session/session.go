// Package session holds the cookies of manual portal logins between requests.
package session

import (
	"errors"
	"time"

	"portalwatch-backend/internal/browser"
	"portalwatch-backend/internal/components/chrono"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrNotFound = errors.New("session not found")

const (
	DefaultTTL  = time.Hour
	DefaultSize = 1024
)

// Session is a logged in portal session.
type Session struct {
	ID        string           `json:"id"`
	Cookies   []browser.Cookie `json:"cookies"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Store keeps sessions until they are deleted or expire.
type Store interface {
	Create(cookies []browser.Cookie) Session
	Get(id string) (Session, error)
	Delete(id string) bool
}

// MemoryStore is an in-memory Store, the least recently used session is
// evicted once it holds more than its size.
type MemoryStore struct {
	cache   *expirable.LRU[string, Session]
	timeAPI chrono.TimeAPI
}

// NewMemoryStore creates a store whose sessions expire ttl after creation.
func NewMemoryStore(size int, ttl time.Duration, timeAPI chrono.TimeAPI) *MemoryStore {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		cache:   expirable.NewLRU[string, Session](size, nil, ttl),
		timeAPI: timeAPI,
	}
}

func (s *MemoryStore) Create(cookies []browser.Cookie) Session {
	session := Session{
		ID:        uuid.NewString(),
		Cookies:   append([]browser.Cookie(nil), cookies...),
		CreatedAt: s.timeAPI.Now(),
	}
	s.cache.Add(session.ID, session)
	return session
}

func (s *MemoryStore) Get(id string) (Session, error) {
	session, ok := s.cache.Get(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (s *MemoryStore) Delete(id string) bool {
	return s.cache.Remove(id)
}

// Len is the number of sessions that have not expired yet.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
