// Package mocks provides in-memory stand-ins for the Redis cache, the
// Cassandra repositories and the external collaborators, for unit tests.
package mocks

import (
	"context"
	"sync"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
)

type mockCache struct {
	mu          sync.Mutex
	lookup      map[string][]byte // for SetStruct/GetStruct
	stringStore map[string]string // for Set/Get and locking values
}

// NewMockCache returns an in-memory campaign.Cache.
func NewMockCache() campaign.Cache {
	return &mockCache{
		lookup:      make(map[string][]byte),
		stringStore: make(map[string]string),
	}
}

// String operations used by the locking implementation.
func (m *mockCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stringStore[key] = value
	return nil
}

func (m *mockCache) Get(ctx context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.stringStore[key]
	if !ok {
		return false, "", nil
	}
	return true, v, nil
}

func (m *mockCache) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	// Ignore TTL in mock; behave like Get.
	return m.Get(ctx, key)
}

func (m *mockCache) Ping(ctx context.Context) error { return nil }

func (m *mockCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup = make(map[string][]byte)
	m.stringStore = make(map[string]string)
	return nil
}

// Struct operations used by record caching.
func (m *mockCache) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ba, err := encoding.DefaultMarshaler.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup[key] = ba
	return nil
}

func (m *mockCache) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	m.mu.Lock()
	ba, ok := m.lookup[key]
	m.mu.Unlock()
	if !ok {
		// Real client returns (false, nil) when key not found.
		return false, nil
	}
	return true, encoding.DefaultMarshaler.Unmarshal(ba, target)
}

// Mock only supports GetStruct; GetStructEx just calls GetStruct ignoring expiration.
func (m *mockCache) GetStructEx(ctx context.Context, key string, target interface{}, expiration time.Duration) (bool, error) {
	return m.GetStruct(ctx, key, target)
}

// Delete removes keys from both string and struct maps.
func (m *mockCache) Delete(ctx context.Context, keys []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deletedAll := true
	for _, k := range keys {
		_, inStrings := m.stringStore[k]
		_, inStructs := m.lookup[k]
		if !inStrings && !inStructs {
			deletedAll = false
			continue
		}
		delete(m.stringStore, k)
		delete(m.lookup, k)
	}
	return deletedAll, nil
}

// DeleteByPattern matches keys with Redis glob semantics ('*' and '?').
func (m *mockCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.lookup {
		if globMatch(pattern, k) {
			delete(m.lookup, k)
			n++
		}
	}
	for k := range m.stringStore {
		if globMatch(pattern, k) {
			delete(m.stringStore, k)
			n++
		}
	}
	return n, nil
}

// Keys returns a snapshot of all struct keys, for assertions.
func (m *mockCache) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.lookup))
	for k := range m.lookup {
		keys = append(keys, k)
	}
	return keys
}

// Lock key helpers compatible with the real redis client.
func (m *mockCache) FormatLockKey(k string) string { return "L" + k }

func (m *mockCache) CreateLockKeys(keys []string) []*campaign.LockKey {
	lockKeys := make([]*campaign.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &campaign.LockKey{
			Key:    m.FormatLockKey(keys[i]),
			LockID: campaign.NewUUID(),
		}
	}
	return lockKeys
}

func (m *mockCache) Lock(ctx context.Context, duration time.Duration, lockKeys []*campaign.LockKey) (bool, campaign.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lk := range lockKeys {
		if v, ok := m.stringStore[lk.Key]; ok {
			if v != lk.LockID.String() {
				id, _ := campaign.ParseUUID(v)
				return false, id, nil
			}
			continue
		}
		m.stringStore[lk.Key] = lk.LockID.String()
		lk.IsLockOwner = true
	}
	return true, campaign.NilUUID, nil
}

func (m *mockCache) IsLocked(ctx context.Context, lockKeys []*campaign.LockKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := true
	for _, lk := range lockKeys {
		if v, ok := m.stringStore[lk.Key]; ok && v == lk.LockID.String() {
			lk.IsLockOwner = true
			continue
		}
		lk.IsLockOwner = false
		r = false
	}
	return r, nil
}

func (m *mockCache) Unlock(ctx context.Context, lockKeys []*campaign.LockKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, lk := range lockKeys {
		if !lk.IsLockOwner {
			continue
		}
		delete(m.stringStore, lk.Key)
	}
	return nil
}

// globMatch implements Redis glob matching for '*' and '?'. path.Match is not
// usable here: its separator handling differs from Redis semantics.
func globMatch(pattern, s string) bool {
	// Iterative backtracking match.
	var pi, si int
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
