package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"luminabooks/internal/util"
	"luminabooks/pkg/domain"
)

// FilePart is one uploaded multipart file.
type FilePart struct {
	Name        string
	ContentType string
	Reader      io.Reader
	Size        int64
}

// PublishInput carries the publish form. The cover comes either as an
// uploaded part or as a reference to a generated-media draft.
type PublishInput struct {
	Title        string
	Author       string
	Description  string
	Price        float64
	Cover        *FilePart
	CoverDraftID string
	File         *FilePart
}

// PublishBook runs the three-step publish flow: upload the cover, upload the
// book file, insert the record. The steps are strictly sequential and there
// is no compensation: a failure aborts the remaining steps and any blob
// already uploaded stays behind as an orphan. On success every draft held by
// the admin is discarded.
func (a *App) PublishBook(ctx context.Context, admin domain.User, in PublishInput) (domain.Book, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Author) == "" {
		return domain.Book{}, errors.New("title and author required")
	}
	if in.Price < 0 {
		return domain.Book{}, errors.New("price must not be negative")
	}
	cover := in.Cover
	if cover == nil && in.CoverDraftID != "" {
		media, ok := a.drafts.Get(in.CoverDraftID, admin.ID)
		if !ok {
			return domain.Book{}, ErrDraftNotFound
		}
		cover = &FilePart{
			Name:        "generated_cover" + extensionFor(media.ContentType),
			ContentType: media.ContentType,
			Reader:      bytes.NewReader(media.Data),
			Size:        int64(len(media.Data)),
		}
	}
	if cover == nil {
		return domain.Book{}, errors.New("cover image required")
	}
	if in.File == nil {
		return domain.Book{}, errors.New("book file required")
	}

	coverKey := objectKey("covers", cover.Name)
	if err := a.objects.Put(ctx, coverKey, cover.Reader, cover.Size, cover.ContentType); err != nil {
		return domain.Book{}, fmt.Errorf("cover upload failed: %w", err)
	}
	fileKey := objectKey("files", in.File.Name)
	if err := a.objects.Put(ctx, fileKey, in.File.Reader, in.File.Size, in.File.ContentType); err != nil {
		return domain.Book{}, fmt.Errorf("book upload failed: %w", err)
	}

	now := time.Now().UTC()
	book := domain.Book{
		ID:          util.NewID(),
		Title:       strings.TrimSpace(in.Title),
		Author:      strings.TrimSpace(in.Author),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		CoverURL:    a.objects.PublicURL(coverKey),
		FileURL:     a.objects.PublicURL(fileKey),
		OwnerID:     admin.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("database insert failed: %w", err)
	}

	a.drafts.DeleteOwned(admin.ID)
	return book, nil
}

// objectKey builds a collision-resistant storage key: a namespace, a
// millisecond timestamp and the sanitized original name.
func objectKey(namespace, name string) string {
	return fmt.Sprintf("%s/%d_%s", namespace, time.Now().UnixMilli(), sanitizeName(name))
}

// sanitizeName strips any path and collapses whitespace runs to underscores.
func sanitizeName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "file"
	}
	return strings.Join(strings.Fields(base), "_")
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
