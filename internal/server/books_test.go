package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/net/websocket"

	"luminabooks/internal/app"
	"luminabooks/internal/catalog"
	"luminabooks/pkg/domain"
	"luminabooks/pkg/store"
)

func (e *serverEnv) seedBooks(t *testing.T, admin domain.User, titles ...string) {
	t.Helper()
	for _, title := range titles {
		_, err := e.app.PublishBook(context.Background(), admin, app.PublishInput{
			Title:  title,
			Author: "Various",
			Price:  7.5,
			Cover:  &app.FilePart{Name: "cover.png", ContentType: "image/png", Reader: strings.NewReader("img"), Size: 3},
			File:   &app.FilePart{Name: "book.epub", ContentType: "application/epub+zip", Reader: strings.NewReader("epub"), Size: 4},
		})
		if err != nil {
			t.Fatalf("seed %s: %v", title, err)
		}
	}
}

type bookList struct {
	Items []domain.Book `json:"items"`
	Count int           `json:"count"`
}

func TestListAndSearchBooks(t *testing.T) {
	env := newTestServer(t, nil)
	admin, _ := env.signupAdmin(t)
	env.seedBooks(t, admin, "Dune", "Dune Messiah", "Hyperion")

	resp, err := http.Get(env.srv.URL + "/api/books")
	if err != nil {
		t.Fatalf("GET /api/books: %v", err)
	}
	all := decodeBody[bookList](t, resp)
	if all.Count != 3 || all.Items[0].Title != "Hyperion" {
		t.Fatalf("unexpected catalog: %+v", all)
	}

	resp, err = http.Get(env.srv.URL + "/api/books?search=dune")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	matched := decodeBody[bookList](t, resp)
	if matched.Count != 2 {
		t.Fatalf("expected 2 dune matches, got %+v", matched)
	}

	resp, err = http.Get(env.srv.URL + "/api/books?limit=nope")
	if err != nil {
		t.Fatalf("GET bad limit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", resp.StatusCode)
	}
}

func TestFeaturedBooksCapAtFour(t *testing.T) {
	env := newTestServer(t, nil)
	admin, _ := env.signupAdmin(t)
	env.seedBooks(t, admin, "A", "B", "C", "D", "E")

	resp, err := http.Get(env.srv.URL + "/api/books/featured")
	if err != nil {
		t.Fatalf("GET featured: %v", err)
	}
	featured := decodeBody[bookList](t, resp)
	if featured.Count != 4 || featured.Items[0].Title != "E" {
		t.Fatalf("unexpected featured set: %+v", featured)
	}
}

func TestBookDetailAndCheckoutStub(t *testing.T) {
	env := newTestServer(t, nil)
	admin, _ := env.signupAdmin(t)
	env.seedBooks(t, admin, "Dune")

	list, err := http.Get(env.srv.URL + "/api/books")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	id := decodeBody[bookList](t, list).Items[0].ID

	resp, err := http.Get(env.srv.URL + "/api/books/" + id)
	if err != nil {
		t.Fatalf("GET detail: %v", err)
	}
	book := decodeBody[domain.Book](t, resp)
	if book.Title != "Dune" || book.CoverURL == "" || book.FileURL == "" {
		t.Fatalf("unexpected detail: %+v", book)
	}

	missing, err := http.Get(env.srv.URL + "/api/books/no-such-id")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing detail status = %d", missing.StatusCode)
	}

	checkout, err := http.Post(env.srv.URL+"/api/books/"+id+"/checkout", "application/json", nil)
	if err != nil {
		t.Fatalf("POST checkout: %v", err)
	}
	checkout.Body.Close()
	if checkout.StatusCode != http.StatusNotImplemented {
		t.Fatalf("checkout status = %d, want 501", checkout.StatusCode)
	}
}

// brokenStore fails every book read.
type brokenStore struct {
	store.Store
}

func (brokenStore) GetBook(string) (domain.Book, bool, error) {
	return domain.Book{}, false, errors.New("connection refused")
}

func newBrokenDetailServer(t *testing.T, distinguish bool) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	a, err := app.New(app.Config{
		Store:      brokenStore{Store: store.NewMemoryStore()},
		Sessions:   store.NewMemorySessionStore(),
		MagicLinks: store.NewMemoryMagicLinkStore(),
		Objects:    &stubObjects{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	s, err := New(Config{App: a, RedisAddr: mr.Addr(), DistinguishFetchErrors: distinguish})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestBookDetailCollapsesStoreFailure(t *testing.T) {
	srv := newBrokenDetailServer(t, false)
	resp, err := http.Get(srv.URL + "/api/books/any-id")
	if err != nil {
		t.Fatalf("GET detail: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 collapse", resp.StatusCode)
	}
}

func TestBookDetailDistinguishesStoreFailure(t *testing.T) {
	srv := newBrokenDetailServer(t, true)
	resp, err := http.Get(srv.URL + "/api/books/any-id")
	if err != nil {
		t.Fatalf("GET detail: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestLiveSearchWebSocket(t *testing.T) {
	env := newTestServer(t, nil)
	admin, _ := env.signupAdmin(t)
	env.seedBooks(t, admin, "Dune", "Hyperion")

	wsURL := strings.Replace(env.srv.URL, "http", "ws", 1) + "/api/books/live"
	ws, err := websocket.Dial(wsURL, "", env.srv.URL)
	if err != nil {
		t.Fatalf("dial live search: %v", err)
	}
	defer ws.Close()

	if err := websocket.Message.Send(ws, "dune"); err != nil {
		t.Fatalf("send filter: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := ws.SetReadDeadline(deadline); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		var snap catalog.Snapshot
		if err := websocket.JSON.Receive(ws, &snap); err != nil {
			t.Fatalf("receive snapshot: %v", err)
		}
		if snap.Loading || snap.Filter != "dune" {
			continue
		}
		if len(snap.Books) != 1 || snap.Books[0].Title != "Dune" {
			t.Fatalf("unexpected settled snapshot: %+v", snap)
		}
		return
	}
}
