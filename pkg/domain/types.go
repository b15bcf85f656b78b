package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// Book is one catalog entry. Cover and file URLs are stable public pointers
// into object storage and never change after the record is inserted.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	CoverURL    string    `json:"coverUrl"`
	FileURL     string    `json:"fileUrl"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// GeneratedMedia is an ephemeral generation result held in the draft store.
// It exists only for the duration of one publish attempt and is discarded
// once the attempt succeeds or the draft expires.
type GeneratedMedia struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"-"`
	Kind        MediaKind `json:"kind"`
	ContentType string    `json:"contentType"`
	Data        []byte    `json:"-"`
	Prompt      string    `json:"prompt"`
	CreatedAt   time.Time `json:"createdAt"`
}
