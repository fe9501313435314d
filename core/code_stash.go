package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CodeStash holds freshly generated codes until they are shown once.
// Take removes the entry it returns; a second Take for the same username reports false.
type CodeStash interface {
	Put(ctx context.Context, username, code string) error
	Take(ctx context.Context, username string) (string, bool, error)
}

// CodeStashFactory builds the stash scoped to the caller's session.
type CodeStashFactory func(c *gin.Context) (CodeStash, error)

const (
	sessionScratchKey = "scratch_id"

	// maxPendingCodes bounds the in-process store; the least recently stashed codes go first.
	maxPendingCodes = 10000
)

// MemoryCodeStore keeps pending codes in process memory with a TTL. The session
// cookie only carries the scratch id that scopes them, so replaying an older
// cookie cannot bring a taken code back.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes *expirable.LRU[string, string]
}

func NewMemoryCodeStore(size int, ttl time.Duration) *MemoryCodeStore {
	if size <= 0 {
		size = maxPendingCodes
	}
	return &MemoryCodeStore{codes: expirable.NewLRU[string, string](size, nil, ttl)}
}

// Scoped returns the view of the store belonging to one session scratch id.
func (m *MemoryCodeStore) Scoped(scope string) CodeStash {
	return &memoryCodeStash{store: m, scope: scope}
}

func (m *MemoryCodeStore) put(key, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes.Add(key, code)
}

// take reads and removes under one lock so concurrent reveals see the code at most once.
func (m *MemoryCodeStore) take(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes.Get(key)
	if ok {
		m.codes.Remove(key)
	}
	return code, ok
}

type memoryCodeStash struct {
	store *MemoryCodeStore
	scope string
}

func (s *memoryCodeStash) Put(_ context.Context, username, code string) error {
	s.store.put(s.scope+":"+username, code)
	return nil
}

func (s *memoryCodeStash) Take(_ context.Context, username string) (string, bool, error) {
	code, ok := s.store.take(s.scope + ":" + username)
	return code, ok, nil
}

// NewCodeStashFactory selects the backend named by cfg.CodeStash: "memory"
// (also accepted as "session") or "redis", which needs a non-nil client.
func NewCodeStashFactory(cfg Config, client RedisClientRaw) (CodeStashFactory, error) {
	var scoped func(scope string) CodeStash
	switch cfg.CodeStash {
	case "", "memory", "session":
		store := NewMemoryCodeStore(maxPendingCodes, cfg.PendingCodeTTL)
		scoped = store.Scoped
	case "redis":
		if client == nil {
			return nil, errors.New("redis code stash requires a redis client")
		}
		scoped = func(scope string) CodeStash {
			return NewRedisCodeStash(client, scope, cfg.PendingCodeTTL)
		}
	default:
		return nil, fmt.Errorf("unknown code stash %q", cfg.CodeStash)
	}
	return func(c *gin.Context) (CodeStash, error) {
		scope, err := scratchID(c)
		if err != nil {
			return nil, err
		}
		return scoped(scope), nil
	}, nil
}

func scratchID(c *gin.Context) (string, error) {
	sess, err := sessionFrom(c)
	if err != nil {
		return "", err
	}
	scope, _ := sess.Values[sessionScratchKey].(string)
	if scope == "" {
		return "", errors.New("session has no scratch id")
	}
	return scope, nil
}

func sessionFrom(c *gin.Context) (*sessions.Session, error) {
	sessionAny, _ := c.Get("session")
	sess, _ := sessionAny.(*sessions.Session)
	if sess == nil {
		return nil, errors.New("no session in request context")
	}
	return sess, nil
}
