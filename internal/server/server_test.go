package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"luminabooks/internal/app"
	"luminabooks/internal/session"
	"luminabooks/pkg/domain"
	"luminabooks/pkg/mail"
	"luminabooks/pkg/media"
	"luminabooks/pkg/queue"
	"luminabooks/pkg/store"
)

type recordedPut struct {
	Key         string
	ContentType string
	Data        []byte
}

type stubObjects struct {
	mu     sync.Mutex
	puts   []recordedPut
	failAt int
}

func (f *stubObjects) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt == len(f.puts)+1 {
		return fmt.Errorf("storage offline")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.puts = append(f.puts, recordedPut{Key: key, ContentType: contentType, Data: data})
	return nil
}

func (f *stubObjects) PublicURL(key string) string { return "http://blobs.test/lumina/" + key }

func (f *stubObjects) Delete(context.Context, string) error { return nil }

func (f *stubObjects) calls() []recordedPut {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedPut(nil), f.puts...)
}

type stubGenerator struct{}

func (stubGenerator) GenerateImage(context.Context, string, media.ImageSize) (media.Image, error) {
	return media.Image{Data: []byte("png-bytes"), ContentType: "image/png"}, nil
}

func (stubGenerator) StartVideo(context.Context, string, media.Image, media.AspectRatio) (string, error) {
	return "operations/op-1", nil
}

func (stubGenerator) PollVideo(_ context.Context, name string) (media.VideoOperation, error) {
	return media.VideoOperation{Name: name, Done: true, URI: "https://dl.test/video"}, nil
}

func (stubGenerator) Download(context.Context, string) ([]byte, string, error) {
	return []byte("mp4-bytes"), "video/mp4", nil
}

type serverEnv struct {
	srv     *httptest.Server
	app     *app.App
	objects *stubObjects
}

func newTestServer(t *testing.T, tweak func(*Config)) *serverEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	objects := &stubObjects{}
	jobs, err := queue.NewVideoQueue(queue.VideoQueueConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	a, err := app.New(app.Config{
		Store:       store.NewMemoryStore(),
		Sessions:    store.NewMemorySessionStore(),
		MagicLinks:  store.NewMemoryMagicLinkStore(),
		Objects:     objects,
		Media:       stubGenerator{},
		Mailer:      mail.LogMailer{},
		Broadcast:   session.NewBroadcaster(),
		Jobs:        jobs,
		SiteBaseURL: "https://books.test",
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{
		App:            a,
		RedisAddr:      mr.Addr(),
		SearchDebounce: 20 * time.Millisecond,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &serverEnv{srv: srv, app: a, objects: objects}
}

func (e *serverEnv) postJSON(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *serverEnv) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

// signupAdmin registers the first account, which gets the admin role.
func (e *serverEnv) signupAdmin(t *testing.T) (domain.User, string) {
	t.Helper()
	resp := e.postJSON(t, "/api/auth/signup", map[string]string{
		"email":    "admin@example.com",
		"password": "secret123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status = %d", resp.StatusCode)
	}
	body := decodeBody[struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}](t, resp)
	if body.User.Role != domain.RoleAdmin {
		t.Fatalf("expected first account admin, got %q", body.User.Role)
	}
	return body.User, body.Token
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t, nil)
	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUnknownPathIsJSON404(t *testing.T) {
	env := newTestServer(t, nil)
	resp, err := http.Get(env.srv.URL + "/api/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q, want JSON", ct)
	}
}

func TestAuthFlow(t *testing.T) {
	env := newTestServer(t, nil)
	_, token := env.signupAdmin(t)

	me := env.do(t, http.MethodGet, "/api/auth/me", token, nil, "")
	if me.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", me.StatusCode)
	}
	user := decodeBody[domain.User](t, me)
	if user.Email != "admin@example.com" {
		t.Fatalf("unexpected me: %+v", user)
	}

	logout := env.do(t, http.MethodPost, "/api/auth/logout", token, nil, "")
	logout.Body.Close()
	if logout.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d", logout.StatusCode)
	}

	dead := env.do(t, http.MethodGet, "/api/auth/me", token, nil, "")
	dead.Body.Close()
	if dead.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d", dead.StatusCode)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestServer(t, nil)
	env.signupAdmin(t)

	resp := env.postJSON(t, "/api/auth/login", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSignupRateLimit(t *testing.T) {
	env := newTestServer(t, func(cfg *Config) {
		cfg.SignupRateLimitPerMinute = 1
	})

	first := env.postJSON(t, "/api/auth/signup", map[string]string{"email": "a@example.com", "password": "pw"})
	first.Body.Close()
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first signup status = %d", first.StatusCode)
	}
	second := env.postJSON(t, "/api/auth/signup", map[string]string{"email": "b@example.com", "password": "pw"})
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second signup status = %d, want 429", second.StatusCode)
	}
}

func TestMagicLinkNeverRevealsAccounts(t *testing.T) {
	env := newTestServer(t, nil)
	env.signupAdmin(t)

	for _, email := range []string{"admin@example.com", "stranger@example.com"} {
		resp := env.postJSON(t, "/api/auth/magic-link", map[string]string{"email": email})
		body := decodeBody[map[string]string](t, resp)
		if resp.StatusCode != http.StatusOK || body["status"] != "check your email" {
			t.Fatalf("magic link for %s: status=%d body=%v", email, resp.StatusCode, body)
		}
	}

	resp := env.postJSON(t, "/api/auth/magic-link/redeem", map[string]string{"token": "bogus"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus redeem status = %d, want 401", resp.StatusCode)
	}
}
