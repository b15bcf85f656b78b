package store

import "luminabooks/pkg/domain"

// Store defines persistence operations for books and user profiles.
// All durable state lives behind this interface; the rest of the service
// only ever holds request-scoped copies.
type Store interface {
	// profiles
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	UserCount() (int, error)

	// books
	SaveBook(domain.Book) error
	// ListBooks returns books whose title contains filter case-insensitively,
	// newest first. An empty filter returns everything; limit <= 0 means no cap.
	ListBooks(filter string, limit int) ([]domain.Book, error)
	GetBook(id string) (domain.Book, bool, error)
}

// SessionStore persists opaque session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// MagicLinkStore persists single-use passwordless login tokens.
type MagicLinkStore interface {
	// CreateMagicLink issues a token for the user, valid once until its TTL.
	CreateMagicLink(userID string) (string, error)
	// RedeemMagicLink consumes a token and returns the user it was issued for.
	// A token can only ever be redeemed once.
	RedeemMagicLink(token string) (string, bool, error)
}
