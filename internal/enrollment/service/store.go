package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "sgpa-enrollment/internal/common/errors"
	"sgpa-enrollment/internal/enrollment"

	"github.com/redis/go-redis/v9"
)

// Store persists enrollment sessions between requests.
type Store interface {
	Load(ctx context.Context, id string) (*enrollment.Form, error)
	Save(ctx context.Context, form *enrollment.Form) error
	Delete(ctx context.Context, id string) error
}

// ==========================
// In-memory store
// ==========================

type memoryEntry struct {
	form    *enrollment.Form
	expires time.Time
}

// MemoryStore keeps sessions in process. Forms are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore returns a store whose entries expire ttl after their last
// save. A zero ttl never expires.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*enrollment.Form, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()

	if !ok {
		return nil, apperrors.NewSessionNotFoundError(id)
	}
	if m.expired(e) {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
		return nil, apperrors.NewSessionNotFoundError(id)
	}
	return e.form.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, form *enrollment.Form) error {
	e := memoryEntry{form: form.Clone()}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	m.entries[form.ID] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) expired(e memoryEntry) bool {
	return !e.expires.IsZero() && m.now().After(e.expires)
}

// ==========================
// Redis store
// ==========================

// RedisStore keeps each session as a JSON document under prefix+id with the
// TTL refreshed on every save.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Load(ctx context.Context, id string) (*enrollment.Form, error) {
	raw, err := r.rdb.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NewSessionNotFoundError(id)
	}
	if err != nil {
		return nil, apperrors.NewSessionStoreFailedError("load", err)
	}

	var form enrollment.Form
	if err := json.Unmarshal(raw, &form); err != nil {
		return nil, apperrors.NewSessionStoreFailedError("load", fmt.Errorf("decoding session %s: %w", id, err))
	}
	return &form, nil
}

func (r *RedisStore) Save(ctx context.Context, form *enrollment.Form) error {
	raw, err := json.Marshal(form)
	if err != nil {
		return apperrors.NewSessionStoreFailedError("save", err)
	}
	if err := r.rdb.Set(ctx, r.key(form.ID), raw, r.ttl).Err(); err != nil {
		return apperrors.NewSessionStoreFailedError("save", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, r.key(id)).Err(); err != nil {
		return apperrors.NewSessionStoreFailedError("delete", err)
	}
	return nil
}
