package server

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"luminabooks/pkg/domain"
	"luminabooks/pkg/queue"
)

func multipartForm(t *testing.T, fields map[string]string, files map[string][2]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	for field, nameAndContent := range files {
		fw, err := mw.CreateFormFile(field, nameAndContent[0])
		if err != nil {
			t.Fatalf("create file %s: %v", field, err)
		}
		if _, err := fw.Write([]byte(nameAndContent[1])); err != nil {
			t.Fatalf("write file %s: %v", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func TestPublishBookEndToEnd(t *testing.T) {
	env := newTestServer(t, nil)
	admin, token := env.signupAdmin(t)

	body, contentType := multipartForm(t,
		map[string]string{
			"title":       "Dune",
			"author":      "Frank Herbert",
			"description": "He who controls the spice controls the universe.",
			"price":       "9.99",
		},
		map[string][2]string{
			"cover": {"dune cover.png", "png-bytes"},
			"file":  {"dune book.epub", "epub-bytes"},
		})
	resp := env.do(t, http.MethodPost, "/api/admin/books", token, body, contentType)
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("publish status = %d body=%s", resp.StatusCode, raw)
	}
	book := decodeBody[domain.Book](t, resp)
	if book.Title != "Dune" || book.Author != "Frank Herbert" || book.Price != 9.99 {
		t.Fatalf("unexpected book: %+v", book)
	}
	if book.OwnerID != admin.ID {
		t.Fatalf("owner = %q, want admin", book.OwnerID)
	}

	puts := env.objects.calls()
	if len(puts) != 2 {
		t.Fatalf("expected cover then file upload, got %d", len(puts))
	}
	if !regexp.MustCompile(`^covers/\d+_dune_cover\.png$`).MatchString(puts[0].Key) {
		t.Fatalf("cover key %q", puts[0].Key)
	}
	if !regexp.MustCompile(`^files/\d+_dune_book\.epub$`).MatchString(puts[1].Key) {
		t.Fatalf("file key %q", puts[1].Key)
	}
	if book.CoverURL != "http://blobs.test/lumina/"+puts[0].Key {
		t.Fatalf("cover URL %q does not match upload", book.CoverURL)
	}

	list, err := http.Get(env.srv.URL + "/api/books?search=dune")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	found := decodeBody[bookList](t, list)
	if found.Count != 1 || found.Items[0].ID != book.ID {
		t.Fatalf("published book not in catalog: %+v", found)
	}
}

func TestPublishRequiresAdmin(t *testing.T) {
	env := newTestServer(t, nil)
	env.signupAdmin(t)

	resp := env.postJSON(t, "/api/auth/signup", map[string]string{"email": "reader@example.com", "password": "pw"})
	signup := decodeBody[struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}](t, resp)
	if signup.User.Role != domain.RoleUser {
		t.Fatalf("expected plain user, got %q", signup.User.Role)
	}

	body, contentType := multipartForm(t, map[string]string{"title": "X", "author": "Y"}, nil)
	forbidden := env.do(t, http.MethodPost, "/api/admin/books", signup.Token, body, contentType)
	forbidden.Body.Close()
	if forbidden.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", forbidden.StatusCode)
	}

	anon := env.do(t, http.MethodPost, "/api/admin/books", "", bytes.NewReader(nil), contentType)
	anon.Body.Close()
	if anon.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", anon.StatusCode)
	}
}

func TestPublishStepFailureNamesStep(t *testing.T) {
	env := newTestServer(t, nil)
	_, token := env.signupAdmin(t)
	env.objects.failAt = 2

	body, contentType := multipartForm(t,
		map[string]string{"title": "Dune", "author": "Frank Herbert", "price": "9.99"},
		map[string][2]string{
			"cover": {"cover.png", "png"},
			"file":  {"dune.epub", "epub"},
		})
	resp := env.do(t, http.MethodPost, "/api/admin/books", token, body, contentType)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	errBody := decodeBody[map[string]string](t, resp)
	if !strings.HasPrefix(errBody["error"], "book upload failed: ") {
		t.Fatalf("error %q does not name the step", errBody["error"])
	}
}

func TestPublishRejectsDisallowedExtension(t *testing.T) {
	env := newTestServer(t, func(cfg *Config) {
		cfg.AllowedExtensions = []string{".epub"}
	})
	_, token := env.signupAdmin(t)

	body, contentType := multipartForm(t,
		map[string]string{"title": "Dune", "author": "Frank Herbert"},
		map[string][2]string{
			"cover": {"cover.png", "png"},
			"file":  {"dune.exe", "mz"},
		})
	resp := env.do(t, http.MethodPost, "/api/admin/books", token, body, contentType)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateCoverAndPublishFromDraft(t *testing.T) {
	env := newTestServer(t, nil)
	_, token := env.signupAdmin(t)

	gen := env.do(t, http.MethodPost, "/api/admin/generate/cover", token,
		strings.NewReader(`{"prompt":"a sandworm at dusk","size":"large"}`), "application/json")
	if gen.StatusCode != http.StatusCreated {
		t.Fatalf("generate status = %d", gen.StatusCode)
	}
	draft := decodeBody[generateCoverResponse](t, gen)
	if draft.DraftID == "" || draft.ContentType != "image/png" {
		t.Fatalf("unexpected draft: %+v", draft)
	}

	preview := env.do(t, http.MethodGet, "/api/admin/drafts/"+draft.DraftID, token, nil, "")
	previewBytes, _ := io.ReadAll(preview.Body)
	preview.Body.Close()
	if preview.StatusCode != http.StatusOK || string(previewBytes) != "png-bytes" {
		t.Fatalf("preview status=%d body=%q", preview.StatusCode, previewBytes)
	}

	body, contentType := multipartForm(t,
		map[string]string{
			"title":        "Dune",
			"author":       "Frank Herbert",
			"price":        "12.50",
			"coverDraftId": draft.DraftID,
		},
		map[string][2]string{
			"file": {"dune.epub", "epub-bytes"},
		})
	resp := env.do(t, http.MethodPost, "/api/admin/books", token, body, contentType)
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("publish status = %d body=%s", resp.StatusCode, raw)
	}
	resp.Body.Close()

	puts := env.objects.calls()
	if len(puts) != 2 || string(puts[0].Data) != "png-bytes" {
		t.Fatalf("expected generated cover uploaded, got %+v", puts)
	}

	// Publishing discards the draft.
	gone := env.do(t, http.MethodGet, "/api/admin/drafts/"+draft.DraftID, token, nil, "")
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Fatalf("draft preview after publish = %d, want 404", gone.StatusCode)
	}
}

func TestGenerateVideoJobLifecycle(t *testing.T) {
	env := newTestServer(t, nil)
	_, token := env.signupAdmin(t)

	start := env.do(t, http.MethodPost, "/api/admin/generate/video", token,
		strings.NewReader(`{"prompt":"slow pan over the cover","aspectRatio":"9:16"}`), "application/json")
	if start.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", start.StatusCode)
	}
	job := decodeBody[queue.VideoJob](t, start)
	if job.ID == "" || job.Status != queue.StatusQueued || job.AspectRatio != "9:16" {
		t.Fatalf("unexpected job: %+v", job)
	}

	status := env.do(t, http.MethodGet, "/api/admin/generate/video/"+job.ID, token, nil, "")
	got := decodeBody[queue.VideoJob](t, status)
	if got.ID != job.ID || got.Status != queue.StatusQueued {
		t.Fatalf("unexpected status: %+v", got)
	}

	missing := env.do(t, http.MethodGet, "/api/admin/generate/video/unknown-job", token, nil, "")
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", missing.StatusCode)
	}

	bad := env.do(t, http.MethodPost, "/api/admin/generate/video", token,
		strings.NewReader(`{"prompt":"pan","aspectRatio":"4:3"}`), "application/json")
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad ratio status = %d, want 400", bad.StatusCode)
	}
}
