package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/websocket"

	"luminabooks/internal/app"
	"luminabooks/internal/catalog"
	"luminabooks/internal/session"
	"luminabooks/pkg/domain"
)

// GET /api/books?search=&limit=
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filter := strings.TrimSpace(r.URL.Query().Get("search"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	books, err := s.app.ListBooks(r.Context(), filter, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

// GET /api/books/featured
func (s *Server) handleFeatured(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.FeaturedBooks(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": books,
		"count": len(books),
	})
}

// /api/books/{id} and /api/books/{id}/checkout
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if len(parts) == 2 {
		if parts[1] == "checkout" {
			s.handleCheckout(w, r)
			return
		}
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	book, err := s.app.GetBook(r.Context(), id)
	if err != nil {
		s.writeFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// writeFetchError collapses a store failure into the same "book not found"
// answer a missing ID gets, unless the server is configured to distinguish
// the two.
func (s *Server) writeFetchError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrStoreUnavailable) && s.distinguishFetchErrors {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeError(w, http.StatusNotFound, "book not found")
}

// Payments are out of scope; the button exists, the flow does not.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	writeError(w, http.StatusNotImplemented, "checkout coming soon")
}

// liveSearchHandler streams debounced search results over a WebSocket. The
// client sends plain filter strings and receives JSON snapshots. A session
// token may ride along as ?token=; when that session signs out elsewhere the
// stream is closed.
func (s *Server) liveSearchHandler() http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()
		r := ws.Request()
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		query := func(qctx context.Context, filter string) ([]domain.Book, error) {
			return s.app.ListBooks(qctx, filter, 0)
		}
		search := catalog.NewLiveSearch(ctx, query, s.searchDebounce)
		defer search.Close()

		var sess *session.Context
		if token := r.URL.Query().Get("token"); token != "" {
			sess = session.NewContext(s.app.Broadcast())
			defer sess.Close()
			if user, ok := s.app.UserFromToken(token); ok {
				sess.Resolve(&user)
			} else {
				sess.Resolve(nil)
			}
		}

		reader := make(chan struct{})
		go func() {
			defer close(reader)
			for {
				var filter string
				if err := websocket.Message.Receive(ws, &filter); err != nil {
					return
				}
				search.SetFilter(strings.TrimSpace(filter))
			}
		}()

		for {
			select {
			case snap, ok := <-search.Snapshots():
				if !ok {
					return
				}
				if err := websocket.JSON.Send(ws, snap); err != nil {
					return
				}
			case <-reader:
				return
			case <-sessionDone(sess):
				return
			}
		}
	})
}

func sessionDone(sess *session.Context) <-chan struct{} {
	if sess == nil {
		return nil
	}
	return sess.Done()
}
