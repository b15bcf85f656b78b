// Package draft holds in-progress publish byproducts: generated covers and
// videos waiting for the admin to use or abandon them. Entries are owned by
// the admin who generated them and expire on their own, so an abandoned
// attempt cleans up without any explicit discard.
package draft

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"luminabooks/pkg/domain"
)

const defaultTTL = time.Hour

// Store is an in-memory TTL store of generated media.
type Store struct {
	mu    sync.Mutex
	items map[string]domain.GeneratedMedia
	ttl   time.Duration
	now   func() time.Time
}

// NewStore builds a store; ttl <= 0 uses the default of one hour.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		items: make(map[string]domain.GeneratedMedia),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stores media and returns its assigned ID.
func (s *Store) Put(media domain.GeneratedMedia) domain.GeneratedMedia {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	media.ID = uuid.NewString()
	media.CreatedAt = s.now().UTC()
	s.items[media.ID] = media
	return media
}

// Get returns media by ID, restricted to its owner.
func (s *Store) Get(id, ownerID string) (domain.GeneratedMedia, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	media, ok := s.items[id]
	if !ok || media.OwnerID != ownerID {
		return domain.GeneratedMedia{}, false
	}
	return media, true
}

// Delete removes media by ID.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// DeleteOwned removes all media held for an owner.
func (s *Store) DeleteOwned(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, media := range s.items {
		if media.OwnerID == ownerID {
			delete(s.items, id)
		}
	}
}

func (s *Store) purgeLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, media := range s.items {
		if media.CreatedAt.Before(cutoff) {
			delete(s.items, id)
		}
	}
}
