package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"luminabooks/pkg/domain"
	"luminabooks/pkg/media"
	"luminabooks/pkg/queue"
)

// GenerateCover asks the media provider for a cover image and parks the
// result in the draft store. The returned draft carries the image bytes; the
// caller decides whether to preview it or reference it from a publish.
func (a *App) GenerateCover(ctx context.Context, admin domain.User, prompt, sizeTier string) (domain.GeneratedMedia, error) {
	if a.media == nil {
		return domain.GeneratedMedia{}, ErrMediaUnavailable
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.GeneratedMedia{}, errors.New("prompt required")
	}
	size, err := media.ParseImageSize(sizeTier)
	if err != nil {
		return domain.GeneratedMedia{}, err
	}
	img, err := a.media.GenerateImage(ctx, prompt, size)
	if err != nil {
		return domain.GeneratedMedia{}, fmt.Errorf("generate image: %w", err)
	}
	return a.drafts.Put(domain.GeneratedMedia{
		OwnerID:     admin.ID,
		Kind:        domain.MediaImage,
		ContentType: img.ContentType,
		Data:        img.Data,
		Prompt:      prompt,
	}), nil
}

// StoreSourceImage parks an uploaded video source frame in the draft store so
// the background job can pick it up by ID.
func (a *App) StoreSourceImage(admin domain.User, contentType string, data []byte) domain.GeneratedMedia {
	return a.drafts.Put(domain.GeneratedMedia{
		OwnerID:     admin.ID,
		Kind:        domain.MediaImage,
		ContentType: contentType,
		Data:        data,
	})
}

// StartVideoJob enqueues a background video generation. The video is
// presentational only and never ends up on a book record.
func (a *App) StartVideoJob(ctx context.Context, admin domain.User, prompt, aspectRatio, sourceDraftID string) (queue.VideoJob, error) {
	if a.media == nil {
		return queue.VideoJob{}, ErrMediaUnavailable
	}
	if a.jobs == nil {
		return queue.VideoJob{}, ErrMediaUnavailable
	}
	ratio, err := media.ParseAspectRatio(aspectRatio)
	if err != nil {
		return queue.VideoJob{}, err
	}
	if sourceDraftID != "" {
		if _, ok := a.drafts.Get(sourceDraftID, admin.ID); !ok {
			return queue.VideoJob{}, ErrDraftNotFound
		}
	}
	job, err := a.jobs.Enqueue(ctx, queue.VideoJob{
		OwnerID:       admin.ID,
		Prompt:        strings.TrimSpace(prompt),
		AspectRatio:   string(ratio),
		SourceDraftID: sourceDraftID,
	})
	if err != nil {
		return queue.VideoJob{}, fmt.Errorf("enqueue video job: %w", err)
	}
	return job, nil
}

// VideoJobStatus reports a job's progress, scoped to the admin who started it.
func (a *App) VideoJobStatus(ctx context.Context, admin domain.User, jobID string) (queue.VideoJob, error) {
	if a.jobs == nil {
		return queue.VideoJob{}, ErrJobNotFound
	}
	job, ok, err := a.jobs.GetJob(ctx, jobID)
	if err != nil {
		return queue.VideoJob{}, fmt.Errorf("fetch job: %w", err)
	}
	if !ok || job.OwnerID != admin.ID {
		return queue.VideoJob{}, ErrJobNotFound
	}
	return job, nil
}

// DraftMedia returns a generated-media draft, scoped to its owner.
func (a *App) DraftMedia(admin domain.User, id string) (domain.GeneratedMedia, error) {
	m, ok := a.drafts.Get(id, admin.ID)
	if !ok {
		return domain.GeneratedMedia{}, ErrDraftNotFound
	}
	return m, nil
}

// VideoJobHandler is the queue worker body: start the long-running operation,
// poll it on a fixed interval until done or the attempt budget runs out, then
// download the result into the draft store.
func (a *App) VideoJobHandler(ctx context.Context, job queue.VideoJob) (string, error) {
	if a.media == nil {
		return "", ErrMediaUnavailable
	}
	var source media.Image
	if job.SourceDraftID != "" {
		if m, ok := a.drafts.Get(job.SourceDraftID, job.OwnerID); ok {
			source = media.Image{Data: m.Data, ContentType: m.ContentType}
		}
		// A lapsed source draft degrades to text-only generation.
	}
	opName, err := a.media.StartVideo(ctx, job.Prompt, source, media.AspectRatio(job.AspectRatio))
	if err != nil {
		return "", fmt.Errorf("start video: %w", err)
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for attempt := 0; attempt < a.pollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		op, err := a.media.PollVideo(ctx, opName)
		if err != nil {
			return "", fmt.Errorf("poll video: %w", err)
		}
		if !op.Done {
			continue
		}
		data, contentType, err := a.media.Download(ctx, op.URI)
		if err != nil {
			return "", fmt.Errorf("download video: %w", err)
		}
		result := a.drafts.Put(domain.GeneratedMedia{
			OwnerID:     job.OwnerID,
			Kind:        domain.MediaVideo,
			ContentType: contentType,
			Data:        data,
			Prompt:      job.Prompt,
		})
		return result.ID, nil
	}
	return "", fmt.Errorf("video generation timed out after %d polls", a.pollMaxAttempts)
}
