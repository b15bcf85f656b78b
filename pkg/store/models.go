package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID          string  `gorm:"primaryKey"`
	Title       string  `gorm:"not null;index"`
	Author      string  `gorm:"not null"`
	Description string  `gorm:"type:text"`
	Price       float64 `gorm:"type:numeric(10,2);not null"`
	CoverURL    string
	FileURL     string
	OwnerID     string    `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}
