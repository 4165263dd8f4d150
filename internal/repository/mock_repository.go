package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// MockRepository is a hand-written, in-memory implementation of Repository
// used in unit tests. It applies the same conflict and monotonic-watermark
// rules as the SQL implementations.
type MockRepository struct {
	mu      sync.RWMutex
	users   map[int64]*domain.User
	sources []*domain.Source
	records map[string]*domain.ProcessedRecord
	assoc   map[int64]map[string]*domain.RecipientItem
	nextID  int64

	// Optional error overrides: set in tests to simulate failure paths.
	ListSourcesErr     error
	FindSourceErr      error
	FindRecordErr      error
	InsertRecordErr    error
	UpdateWatermarkErr error

	// WatermarkWrites counts UpdateWatermark calls that reached the store.
	WatermarkWrites int
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		users:   make(map[int64]*domain.User),
		records: make(map[string]*domain.ProcessedRecord),
		assoc:   make(map[int64]map[string]*domain.RecipientItem),
	}
}

// compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

func (m *MockRepository) FindUser(_ context.Context, id int64) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *MockRepository) UpsertUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.users[u.ID]; ok {
		if u.Name != "" {
			existing.Name = u.Name
		}
		*u = *existing
		return nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	clone := *u
	m.users[u.ID] = &clone
	return nil
}

func (m *MockRepository) FindSource(_ context.Context, userID int64, key domain.QueueKey) (*domain.Source, error) {
	if m.FindSourceErr != nil {
		return nil, m.FindSourceErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sources {
		if s.UserID == userID && s.Key == key {
			clone := *s
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockRepository) ListSources(_ context.Context) ([]*domain.Source, error) {
	if m.ListSourcesErr != nil {
		return nil, m.ListSourcesErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Source, 0, len(m.sources))
	for _, s := range m.sources {
		clone := *s
		result = append(result, &clone)
	}
	return result, nil
}

func (m *MockRepository) ListSourcesForUser(_ context.Context, userID int64) ([]*domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*domain.Source
	for _, s := range m.sources {
		if s.UserID == userID {
			clone := *s
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *MockRepository) InsertSource(_ context.Context, s *domain.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sources {
		if existing.UserID == s.UserID && existing.Key == s.Key {
			return domain.ErrConflict
		}
	}
	m.nextID++
	s.ID = m.nextID
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	clone := *s
	m.sources = append(m.sources, &clone)
	return nil
}

func (m *MockRepository) DeleteSource(_ context.Context, userID int64, key domain.QueueKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sources {
		if s.UserID == userID && s.Key == key {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *MockRepository) CountSubscribers(_ context.Context, key domain.QueueKey) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sources {
		if s.Key == key {
			n++
		}
	}
	return n, nil
}

func (m *MockRepository) UpdateWatermark(_ context.Context, key domain.QueueKey, ts time.Time) (int64, error) {
	if m.UpdateWatermarkErr != nil {
		return 0, m.UpdateWatermarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WatermarkWrites++
	var moved int64
	for _, s := range m.sources {
		if s.Key == key && s.Watermark.Before(ts) {
			s.Watermark = ts
			moved++
		}
	}
	return moved, nil
}

func (m *MockRepository) FindProcessedRecord(_ context.Context, link string) (*domain.ProcessedRecord, error) {
	if m.FindRecordErr != nil {
		return nil, m.FindRecordErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[link]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (m *MockRepository) InsertProcessedRecord(_ context.Context, rec *domain.ProcessedRecord) (bool, error) {
	if m.InsertRecordErr != nil {
		return false, m.InsertRecordErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Link]; ok {
		return false, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	clone := *rec
	m.records[rec.Link] = &clone
	m.associate(&domain.RecipientItem{UserID: rec.OwnerID, Link: rec.Link, Title: rec.Title, CreatedAt: rec.CreatedAt})
	return true, nil
}

func (m *MockRepository) InsertRecipientItem(_ context.Context, ri *domain.RecipientItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ri.CreatedAt.IsZero() {
		ri.CreatedAt = time.Now().UTC()
	}
	m.associate(ri)
	return nil
}

// associate stores ri unless the user already has the link. Callers hold mu.
func (m *MockRepository) associate(ri *domain.RecipientItem) {
	byLink, ok := m.assoc[ri.UserID]
	if !ok {
		byLink = make(map[string]*domain.RecipientItem)
		m.assoc[ri.UserID] = byLink
	}
	if _, ok := byLink[ri.Link]; ok {
		return
	}
	clone := *ri
	byLink[ri.Link] = &clone
}

func (m *MockRepository) ListRecipientItems(_ context.Context, userID int64) ([]*domain.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []*domain.HistoryEntry
	for _, ri := range m.assoc[userID] {
		rec, ok := m.records[ri.Link]
		entries = append(entries, &domain.HistoryEntry{
			Link:      ri.Link,
			Title:     ri.Title,
			Owned:     ok && rec.OwnerID == userID,
			CreatedAt: ri.CreatedAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

func (m *MockRepository) DeleteProcessedRecordsForUser(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := int64(len(m.assoc[userID]))
	delete(m.assoc, userID)
	return removed, nil
}

// RecordCount returns how many processed records exist.
func (m *MockRepository) RecordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// HasAssociation reports whether userID has an association to link.
func (m *MockRepository) HasAssociation(userID int64, link string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.assoc[userID][link]
	return ok
}
