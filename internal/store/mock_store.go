// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows handler and service tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// It mirrors SQLiteStore semantics, including clock stamping and ordering.
type MockStore struct {
	mu          sync.RWMutex
	users       map[string]*User       // keyed by user ID
	sessions    map[string]*Session    // keyed by user ID
	completions map[string]*Completion // keyed by user ID
	now         func() time.Time

	// Err, when set, is returned as a storage error from every operation.
	Err error
}

// Ensure MockStore implements Store.
var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:       make(map[string]*User),
		sessions:    make(map[string]*Session),
		completions: make(map[string]*Completion),
		now:         time.Now,
	}
}

// SetClock overrides the clock used to stamp updated_at.
func (m *MockStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MockStore) stamp() time.Time {
	return fromMillis(toMillis(m.now()))
}

// SetErr sets Err under the store lock, for use while requests are in flight.
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func (m *MockStore) fail(op string) error {
	if m.Err != nil {
		return storageErr(op, m.Err)
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := fromMillis(toMillis(*t))
	return &c
}

// UpsertUser stores a copy of the user, stamped with the mock clock.
func (m *MockStore) UpsertUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("upserting user"); err != nil {
		return err
	}

	u := *user
	u.UpdatedAt = m.stamp()
	m.users[u.ID] = &u
	user.UpdatedAt = u.UpdatedAt
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("querying user"); err != nil {
		return nil, err
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// ListUserIDs returns ids ordered by UpdatedAt descending, then id ascending.
func (m *MockStore) ListUserIDs(ctx context.Context, limit, offset int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("listing user ids"); err != nil {
		return nil, err
	}

	limit, offset = normalizeListWindow(limit, offset)

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if !users[i].UpdatedAt.Equal(users[j].UpdatedAt) {
			return users[i].UpdatedAt.After(users[j].UpdatedAt)
		}
		return users[i].ID < users[j].ID
	})

	ids := []string{}
	for i := offset; i < len(users) && len(ids) < limit; i++ {
		ids = append(ids, users[i].ID)
	}
	return ids, nil
}

// CountUsers returns the number of stored users.
func (m *MockStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("counting users"); err != nil {
		return 0, err
	}
	return len(m.users), nil
}

// GetSession retrieves a session by user ID.
func (m *MockStore) GetSession(ctx context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("querying session"); err != nil {
		return nil, err
	}

	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *s
	result.ExpiresAt = copyTime(s.ExpiresAt)
	return &result, nil
}

// SetSession replaces the session for a user.
func (m *MockStore) SetSession(ctx context.Context, userID, data string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("upserting session"); err != nil {
		return err
	}

	if data == "" {
		data = defaultSessionData
	}
	m.sessions[userID] = &Session{
		UserID:    userID,
		Data:      data,
		ExpiresAt: copyTime(expiresAt),
		UpdatedAt: m.stamp(),
	}
	return nil
}

// DeleteSession removes the session for a user.
func (m *MockStore) DeleteSession(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("deleting session"); err != nil {
		return false, err
	}

	_, ok := m.sessions[userID]
	delete(m.sessions, userID)
	return ok, nil
}

// GetCompletion retrieves a completion by user ID.
func (m *MockStore) GetCompletion(ctx context.Context, userID string) (*Completion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail("querying completion"); err != nil {
		return nil, err
	}

	c, ok := m.completions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	result.ExpiresAt = copyTime(c.ExpiresAt)
	return &result, nil
}

// SetCompletion replaces the completion for a user.
func (m *MockStore) SetCompletion(ctx context.Context, userID string, expiresAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("upserting completion"); err != nil {
		return err
	}

	m.completions[userID] = &Completion{
		UserID:    userID,
		ExpiresAt: copyTime(expiresAt),
		UpdatedAt: m.stamp(),
	}
	return nil
}

// DeleteCompletion removes the completion for a user.
func (m *MockStore) DeleteCompletion(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("deleting completion"); err != nil {
		return false, err
	}

	_, ok := m.completions[userID]
	delete(m.completions, userID)
	return ok, nil
}

// CleanupExpired removes sessions and completions with a deadline before now.
func (m *MockStore) CleanupExpired(ctx context.Context, now time.Time) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res CleanupResult
	if err := m.fail("deleting expired rows"); err != nil {
		return res, err
	}

	cutoff := fromMillis(toMillis(now))
	for id, s := range m.sessions {
		if isExpired(s.ExpiresAt, cutoff) {
			delete(m.sessions, id)
			res.Sessions++
		}
	}
	for id, c := range m.completions {
		if isExpired(c.ExpiresAt, cutoff) {
			delete(m.completions, id)
			res.Completions++
		}
	}
	return res, nil
}

// PurgeAll empties every table.
func (m *MockStore) PurgeAll(ctx context.Context) (PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("purging records"); err != nil {
		return PurgeResult{}, err
	}

	res := PurgeResult{
		Users:       int64(len(m.users)),
		Sessions:    int64(len(m.sessions)),
		Completions: int64(len(m.completions)),
	}
	m.users = make(map[string]*User)
	m.sessions = make(map[string]*Session)
	m.completions = make(map[string]*Completion)
	return res, nil
}

// Counts returns the number of rows per table, for assertions in tests.
func (m *MockStore) Counts() (users, sessions, completions int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), len(m.sessions), len(m.completions)
}

// Ping always succeeds unless Err is set.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fail("pinging database")
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
