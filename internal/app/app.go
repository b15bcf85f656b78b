// Package app wires the storefront's domain logic: catalog reads, the email
// auth flows, and the admin publish workflow with its generative pre-steps.
package app

import (
	"context"
	"fmt"
	"time"

	"luminabooks/internal/draft"
	"luminabooks/internal/session"
	"luminabooks/pkg/domain"
	"luminabooks/pkg/mail"
	"luminabooks/pkg/media"
	"luminabooks/pkg/queue"
	"luminabooks/pkg/storage"
	"luminabooks/pkg/store"
)

const defaultFeaturedLimit = 4

// Config holds runtime configuration for the core application. Collaborators
// left nil are constructed from the connection settings; tests inject fakes.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	SessionTTL    time.Duration
	MagicLinkTTL  time.Duration
	DraftTTL      time.Duration
	FeaturedLimit int
	// SiteBaseURL is the public address of the storefront, used to build the
	// link embedded in magic link mail.
	SiteBaseURL string

	VideoPollInterval    time.Duration
	VideoPollMaxAttempts int

	Store      store.Store
	Sessions   store.SessionStore
	MagicLinks store.MagicLinkStore
	Objects    storage.ObjectStore
	Drafts     *draft.Store
	Media      media.Generator
	Mailer     mail.Mailer
	Broadcast  *session.Broadcaster
	Jobs       *queue.VideoQueue
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store      store.Store
	sessions   store.SessionStore
	magicLinks store.MagicLinkStore
	objects    storage.ObjectStore
	drafts     *draft.Store
	media      media.Generator
	mailer     mail.Mailer
	broadcast  *session.Broadcaster
	jobs       *queue.VideoQueue

	featuredLimit   int
	siteBaseURL     string
	pollInterval    time.Duration
	pollMaxAttempts int
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.MagicLinkTTL == 0 {
		cfg.MagicLinkTTL = 15 * time.Minute
	}
	if cfg.FeaturedLimit <= 0 {
		cfg.FeaturedLimit = defaultFeaturedLimit
	}
	if cfg.VideoPollInterval <= 0 {
		cfg.VideoPollInterval = 5 * time.Second
	}
	if cfg.VideoPollMaxAttempts <= 0 {
		cfg.VideoPollMaxAttempts = 60
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required (no in-memory store allowed)")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("session store required (redisAddr)")
		}
		sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
	}

	magicLinks := cfg.MagicLinks
	if magicLinks == nil {
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("magic link store required (redisAddr)")
		}
		magicLinks = store.NewRedisMagicLinkStore(cfg.RedisAddr, cfg.RedisPassword, cfg.MagicLinkTTL)
	}

	if cfg.Objects == nil {
		return nil, fmt.Errorf("object storage required")
	}

	drafts := cfg.Drafts
	if drafts == nil {
		drafts = draft.NewStore(cfg.DraftTTL)
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = mail.LogMailer{}
	}
	broadcast := cfg.Broadcast
	if broadcast == nil {
		broadcast = session.NewBroadcaster()
	}

	return &App{
		store:           dataStore,
		sessions:        sessionStore,
		magicLinks:      magicLinks,
		objects:         cfg.Objects,
		drafts:          drafts,
		media:           cfg.Media,
		mailer:          mailer,
		broadcast:       broadcast,
		jobs:            cfg.Jobs,
		featuredLimit:   cfg.FeaturedLimit,
		siteBaseURL:     cfg.SiteBaseURL,
		pollInterval:    cfg.VideoPollInterval,
		pollMaxAttempts: cfg.VideoPollMaxAttempts,
	}, nil
}

// Broadcast exposes the session change broadcaster for subscribers.
func (a *App) Broadcast() *session.Broadcaster {
	return a.broadcast
}

// ListBooks returns books matching a title filter, newest first. An empty
// filter returns the whole catalog; limit <= 0 means no cap.
func (a *App) ListBooks(_ context.Context, filter string, limit int) ([]domain.Book, error) {
	books, err := a.store.ListBooks(filter, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return books, nil
}

// FeaturedBooks returns the newest books for the home listing.
func (a *App) FeaturedBooks(ctx context.Context) ([]domain.Book, error) {
	return a.ListBooks(ctx, "", a.featuredLimit)
}

// GetBook retrieves one book. A missing book yields ErrBookNotFound and a
// store failure ErrStoreUnavailable; whether callers present those two
// differently is their choice.
func (a *App) GetBook(_ context.Context, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}
