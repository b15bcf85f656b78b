package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"luminabooks/internal/app"
	"luminabooks/pkg/domain"
)

// POST /api/admin/books — multipart publish form.
func (s *Server) handlePublishBook(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	in := app.PublishInput{
		Title:        r.FormValue("title"),
		Author:       r.FormValue("author"),
		Description:  r.FormValue("description"),
		CoverDraftID: strings.TrimSpace(r.FormValue("coverDraftId")),
	}
	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid price")
			return
		}
		in.Price = price
	}

	if cover, header, err := r.FormFile("cover"); err == nil {
		defer cover.Close()
		in.Cover = &app.FilePart{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Reader:      cover,
			Size:        header.Size,
		}
	}
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		if !s.isExtensionAllowed(header.Filename) {
			writeError(w, http.StatusBadRequest, "unsupported file type")
			return
		}
		in.File = &app.FilePart{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Reader:      file,
			Size:        header.Size,
		}
	}

	book, err := s.app.PublishBook(r.Context(), admin, in)
	if err != nil {
		writePublishError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// writePublishError separates a bad form (400) from a failed workflow step
// (502). Step failures keep their step-naming message verbatim.
func writePublishError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrDraftNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	msg := err.Error()
	for _, step := range []string{"cover upload failed: ", "book upload failed: ", "database insert failed: "} {
		if strings.HasPrefix(msg, step) {
			writeError(w, http.StatusBadGateway, msg)
			return
		}
	}
	writeError(w, http.StatusBadRequest, msg)
}

type generateCoverRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
}

type generateCoverResponse struct {
	DraftID     string `json:"draftId"`
	ContentType string `json:"contentType"`
	Kind        string `json:"kind"`
}

// POST /api/admin/generate/cover
func (s *Server) handleGenerateCover(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.generateLimiter, "too many generation requests") {
		return
	}
	var req generateCoverRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	draft, err := s.app.GenerateCover(r.Context(), admin, req.Prompt, req.Size)
	if err != nil {
		writeGenerateError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, generateCoverResponse{
		DraftID:     draft.ID,
		ContentType: draft.ContentType,
		Kind:        string(draft.Kind),
	})
}

type generateVideoRequest struct {
	Prompt        string `json:"prompt"`
	AspectRatio   string `json:"aspectRatio"`
	SourceDraftID string `json:"sourceDraftId"`
}

// POST /api/admin/generate/video — JSON with a source draft reference, or
// multipart with an uploaded source frame.
func (s *Server) handleGenerateVideo(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.generateLimiter, "too many generation requests") {
		return
	}

	var req generateVideoRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if s.maxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		req.Prompt = r.FormValue("prompt")
		req.AspectRatio = r.FormValue("aspectRatio")
		req.SourceDraftID = strings.TrimSpace(r.FormValue("sourceDraftId"))
		if source, header, err := r.FormFile("source"); err == nil {
			defer source.Close()
			data, err := io.ReadAll(source)
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable source image")
				return
			}
			draft := s.app.StoreSourceImage(admin, header.Header.Get("Content-Type"), data)
			req.SourceDraftID = draft.ID
		}
	} else {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	job, err := s.app.StartVideoJob(r.Context(), admin, req.Prompt, req.AspectRatio, req.SourceDraftID)
	if err != nil {
		writeGenerateError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GET /api/admin/generate/video/{jobId}
func (s *Server) handleVideoJobStatus(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	jobID := strings.TrimPrefix(r.URL.Path, "/api/admin/generate/video/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	job, err := s.app.VideoJobStatus(r.Context(), admin, jobID)
	if err != nil {
		if errors.Is(err, app.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GET /api/admin/drafts/{id} — raw generated media bytes for preview.
func (s *Server) handleDraftPreview(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/drafts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	draft, err := s.app.DraftMedia(admin, id)
	if err != nil {
		writeError(w, http.StatusNotFound, "draft not found")
		return
	}
	contentType := draft.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(draft.Data)
}

func writeGenerateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrMediaUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrDraftNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case strings.HasPrefix(err.Error(), "generate image: "),
		strings.HasPrefix(err.Error(), "enqueue video job: "):
		// provider/queue failure, not a bad request
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}
