package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"luminabooks/internal/session"
	"luminabooks/internal/util"
	"luminabooks/pkg/auth"
	"luminabooks/pkg/domain"
	"luminabooks/pkg/mail"
)

// SignUp registers a new user and opens a session. The first account ever
// created gets the admin role.
func (a *App) SignUp(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", errors.New("email and password required")
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", fmt.Errorf("email already exists")
	}
	role := domain.RoleUser
	count, err := a.store.UserCount()
	if err != nil {
		return domain.User{}, "", fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	a.broadcast.Publish(session.Event{Type: session.EventSignedIn, User: user})
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	a.broadcast.Publish(session.Event{Type: session.EventSignedIn, User: user})
	return user, token, nil
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// Logout removes a session token and notifies listeners.
func (a *App) Logout(token string) error {
	user, known := a.UserFromToken(token)
	if err := a.sessions.DeleteSession(token); err != nil {
		return err
	}
	if known {
		a.broadcast.Publish(session.Event{Type: session.EventSignedOut, User: user})
	}
	return nil
}

// RequestMagicLink issues a single-use login token for the account and hands
// the mail off for delivery. Unknown emails are not an error: callers respond
// identically either way so the endpoint cannot be used to probe accounts.
func (a *App) RequestMagicLink(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return errors.New("email required")
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return nil
	}
	token, err := a.magicLinks.CreateMagicLink(user.ID)
	if err != nil {
		return fmt.Errorf("issue magic link: %w", err)
	}
	link := strings.TrimRight(a.siteBaseURL, "/") + "/auth/magic?token=" + token
	msg := mail.Message{
		To:      user.Email,
		Subject: "Your Lumina Books sign-in link",
		Body:    "Click to sign in: " + link + "\n\nThe link works once and expires shortly.",
	}
	if err := a.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// RedeemMagicLink exchanges a login token for a session.
func (a *App) RedeemMagicLink(token string) (domain.User, string, error) {
	uid, ok, err := a.magicLinks.RedeemMagicLink(strings.TrimSpace(token))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("redeem magic link: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrMagicLinkInvalid
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		return domain.User{}, "", ErrMagicLinkInvalid
	}
	sessionToken, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	a.broadcast.Publish(session.Event{Type: session.EventSignedIn, User: user})
	return user, sessionToken, nil
}
