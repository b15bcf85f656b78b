package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"luminabooks/pkg/domain"
	"luminabooks/pkg/queue"
	"luminabooks/pkg/store"
)

func TestGenerateCoverStoresDraft(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := env.admin(t)

	draft, err := env.app.GenerateCover(context.Background(), admin, "a lighthouse in fog", "small")
	if err != nil {
		t.Fatalf("generate cover: %v", err)
	}
	if draft.Kind != domain.MediaImage || draft.ContentType != "image/png" {
		t.Fatalf("unexpected draft: %+v", draft)
	}

	got, err := env.app.DraftMedia(admin, draft.ID)
	if err != nil || string(got.Data) != "png-bytes" {
		t.Fatalf("draft lookup failed: %+v err=%v", got, err)
	}
	if _, err := env.app.DraftMedia(domain.User{ID: "other"}, draft.ID); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected owner scoping, got %v", err)
	}
}

func TestGenerateCoverErrors(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := env.admin(t)
	ctx := context.Background()

	if _, err := env.app.GenerateCover(ctx, admin, "", "medium"); err == nil {
		t.Fatal("expected empty prompt rejected")
	}
	if _, err := env.app.GenerateCover(ctx, admin, "x", "gigantic"); err == nil {
		t.Fatal("expected invalid size rejected")
	}

	env.gen.imageErr = errors.New("model overloaded")
	if _, err := env.app.GenerateCover(ctx, admin, "x", ""); err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected provider error surfaced, got %v", err)
	}

	noMedia, err := New(Config{
		Store:      store.NewMemoryStore(),
		Sessions:   store.NewMemorySessionStore(),
		MagicLinks: store.NewMemoryMagicLinkStore(),
		Objects:    &fakeObjects{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := noMedia.GenerateCover(ctx, admin, "x", ""); !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("expected media unavailable, got %v", err)
	}
}

func TestVideoJobHandlerDownloadsIntoDrafts(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := env.admin(t)

	source := env.app.StoreSourceImage(admin, "image/png", []byte("frame"))
	draftID, err := env.app.VideoJobHandler(context.Background(), queue.VideoJob{
		ID:            "job-1",
		OwnerID:       admin.ID,
		Prompt:        "slow pan over the cover",
		AspectRatio:   "16:9",
		SourceDraftID: source.ID,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	video, err := env.app.DraftMedia(admin, draftID)
	if err != nil {
		t.Fatalf("result draft: %v", err)
	}
	if video.Kind != domain.MediaVideo || video.ContentType != "video/mp4" || string(video.Data) != "mp4-bytes" {
		t.Fatalf("unexpected video draft: %+v", video)
	}
}

func TestVideoJobHandlerBoundedPolling(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := env.admin(t)
	env.gen.pollsUntilDone = 0 // never completes
	env.app.pollMaxAttempts = 3

	_, err := env.app.VideoJobHandler(context.Background(), queue.VideoJob{
		OwnerID: admin.ID,
		Prompt:  "never finishes",
	})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected bounded polling timeout, got %v", err)
	}
	if env.gen.polls != 3 {
		t.Fatalf("expected exactly 3 polls, got %d", env.gen.polls)
	}
}

func TestVideoJobHandlerHonorsCancellation(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := env.admin(t)
	env.gen.pollsUntilDone = 0
	env.app.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.app.VideoJobHandler(ctx, queue.VideoJob{OwnerID: admin.ID, Prompt: "x"})
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return on cancellation")
	}
}

func TestStartVideoJobAndStatus(t *testing.T) {
	env := newTestEnv(t)
	admin, _ := env.admin(t)
	mr := miniredis.RunT(t)
	jobs, err := queue.NewVideoQueue(queue.VideoQueueConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	env.app.jobs = jobs
	ctx := context.Background()

	if _, err := env.app.StartVideoJob(ctx, admin, "pan", "4:3", ""); err == nil {
		t.Fatal("expected invalid aspect ratio rejected")
	}
	if _, err := env.app.StartVideoJob(ctx, admin, "pan", "16:9", "missing-draft"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected missing source draft rejected, got %v", err)
	}

	job, err := env.app.StartVideoJob(ctx, admin, "pan over the cover", "9:16", "")
	if err != nil {
		t.Fatalf("start job: %v", err)
	}
	if job.Status != queue.StatusQueued || job.AspectRatio != "9:16" {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, err := env.app.VideoJobStatus(ctx, admin, job.ID)
	if err != nil || got.ID != job.ID {
		t.Fatalf("status lookup failed: %+v err=%v", got, err)
	}
	if _, err := env.app.VideoJobStatus(ctx, domain.User{ID: "other"}, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected owner scoping on status, got %v", err)
	}
}
