package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type fakeEntry struct {
	value   string
	expires time.Time // zero means no TTL
}

// FakeStore is an in-memory Store used by tests so LoopFilter/RateLimiter
// logic can be exercised without a real Redis instance.
type FakeStore struct {
	mu   sync.Mutex
	data map[string]fakeEntry
	now  func() time.Time
}

// NewFakeStore builds a FakeStore. If now is nil, time.Now is used.
func NewFakeStore(now func() time.Time) *FakeStore {
	if now == nil {
		now = time.Now
	}
	return &FakeStore{data: make(map[string]fakeEntry), now: now}
}

func (f *FakeStore) expiredLocked(k string) bool {
	e, ok := f.data[k]
	if !ok {
		return true
	}
	if e.expires.IsZero() {
		return false
	}
	if f.now().After(e.expires) {
		delete(f.data, k)
		return true
	}
	return false
}

func (f *FakeStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.expiredLocked(key) {
		return false, nil
	}
	f.setLocked(key, value, ttl)
	return true, nil
}

func (f *FakeStore) setLocked(key, value string, ttl time.Duration) {
	e := fakeEntry{value: value}
	if ttl > 0 {
		e.expires = f.now().Add(ttl)
	}
	f.data[key] = e
}

func (f *FakeStore) Incr(_ context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiredLocked(key)
	e := f.data[key]
	n, _ := strconv.ParseInt(e.value, 10, 64)
	n++
	e.value = strconv.FormatInt(n, 10)
	f.data[key] = e
	return n, nil
}

func (f *FakeStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expiredLocked(key) {
		return nil
	}
	e := f.data[key]
	e.expires = f.now().Add(ttl)
	f.data[key] = e
	return nil
}

func (f *FakeStore) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expiredLocked(key) {
		return 0, nil
	}
	e := f.data[key]
	if e.expires.IsZero() {
		return 0, nil
	}
	d := e.expires.Sub(f.now())
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (f *FakeStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expiredLocked(key) {
		return "", false, nil
	}
	return f.data[key].value, true, nil
}

func (f *FakeStore) GetSet(_ context.Context, key, value string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existed := !f.expiredLocked(key)
	old := f.data[key].value
	ttl := time.Duration(0)
	if existed && !f.data[key].expires.IsZero() {
		ttl = f.data[key].expires.Sub(f.now())
	}
	f.setLocked(key, value, ttl)
	return old, existed, nil
}

func (f *FakeStore) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

