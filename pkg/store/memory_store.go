package store

import (
	"strings"
	"sync"

	"luminabooks/pkg/domain"
)

// MemoryStore keeps all state in-process. It backs tests and local
// development without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[string]domain.Book
	order []string // book IDs, insertion order
	users map[string]domain.User
	email map[string]string // email -> user ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books: make(map[string]domain.Book),
		users: make(map[string]domain.User),
		email: make(map[string]string),
	}
}

// SaveUser stores or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail reports whether the email is registered.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail resolves a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID resolves a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// UserCount returns the number of registered users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SaveBook stores or replaces a book record and tracks insertion order.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// ListBooks filters by case-insensitive title substring, newest first
// (reverse insertion order stands in for the created_at sort).
func (m *MemoryStore) ListBooks(filter string, limit int) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(filter)
	res := make([]domain.Book, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		b, ok := m.books[m.order[i]]
		if !ok {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(b.Title), needle) {
			continue
		}
		res = append(res, b)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}
