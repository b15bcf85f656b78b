package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// VideoJob tracks one background video generation. The job record doubles as
// the admin-visible status: queued -> processing -> done/failed. ResultDraftID
// points at the draft store entry holding the downloaded video once done.
type VideoJob struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Prompt        string    `json:"prompt"`
	AspectRatio   string    `json:"aspectRatio"`
	SourceDraftID string    `json:"sourceDraftId,omitempty"`
	ResultDraftID string    `json:"resultDraftId,omitempty"`
	Status        string    `json:"status"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Handler processes one job and returns the result draft ID on success.
type Handler func(ctx context.Context, job VideoJob) (string, error)

// VideoQueue is a Redis-stream backed job queue with consumer-group
// delivery, stale-message claiming and bounded retries.
type VideoQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	once         sync.Once
}

// VideoQueueConfig configures the queue; zero values get defaults.
type VideoQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
}

// NewVideoQueue builds the queue client.
func NewVideoQueue(cfg VideoQueueConfig) (*VideoQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "lumina:videojobs"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 10 * time.Minute
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &VideoQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        "workers",
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
	}, nil
}

// Enqueue records the job status and appends it to the stream.
func (q *VideoQueue) Enqueue(ctx context.Context, job VideoJob) (VideoJob, error) {
	if strings.TrimSpace(job.OwnerID) == "" {
		return VideoJob{}, errors.New("job owner required")
	}
	if strings.TrimSpace(job.Prompt) == "" {
		return VideoJob{}, errors.New("job prompt required")
	}
	job.ID = uuid.NewString()
	job.Status = StatusQueued
	job.Attempts = 0
	job.CreatedAt = time.Now().UTC()
	job.UpdatedAt = job.CreatedAt
	if err := q.writeStatus(ctx, job); err != nil {
		return VideoJob{}, err
	}
	if err := q.append(ctx, job.ID); err != nil {
		return VideoJob{}, err
	}
	return job, nil
}

// GetJob fetches the current status of a job.
func (q *VideoQueue) GetJob(ctx context.Context, jobID string) (VideoJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return VideoJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return VideoJob{}, false, err
	}
	if len(data) == 0 {
		return VideoJob{}, false, nil
	}
	return decodeVideoJob(jobID, data), true, nil
}

// Start launches consumer goroutines until ctx is cancelled.
func (q *VideoQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *VideoQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// surfaces again on consume
		}
	})
}

func (q *VideoQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    5,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *VideoQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    5,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *VideoQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil || !ok {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}

	resultDraftID, err := handler(ctx, job)
	if err == nil {
		job.Status = StatusDone
		job.ErrorMessage = ""
		job.ResultDraftID = resultDraftID
		job.UpdatedAt = time.Now().UTC()
		_ = q.writeStatus(ctx, job)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts > q.maxRetries {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		job.UpdatedAt = time.Now().UTC()
		_ = q.writeStatus(ctx, job)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job.Status = StatusQueued
	job.ErrorMessage = err.Error()
	job.UpdatedAt = time.Now().UTC()
	_ = q.writeStatus(ctx, job)
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, jobID)
}

func (q *VideoQueue) append(ctx context.Context, jobID string) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID},
	}).Err()
}

func (q *VideoQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *VideoQueue) requeueAndAck(ctx context.Context, msgID, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *VideoQueue) writeStatus(ctx context.Context, job VideoJob) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"ownerId":       job.OwnerID,
		"prompt":        job.Prompt,
		"aspectRatio":   job.AspectRatio,
		"sourceDraftId": job.SourceDraftID,
		"resultDraftId": job.ResultDraftID,
		"status":        job.Status,
		"error":         job.ErrorMessage,
		"attempts":      strconv.Itoa(job.Attempts),
		"createdAt":     job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":     job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *VideoQueue) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", q.stream, jobID)
}

func decodeVideoJob(jobID string, data map[string]string) VideoJob {
	job := VideoJob{ID: jobID}
	job.OwnerID = data["ownerId"]
	job.Prompt = data["prompt"]
	job.AspectRatio = data["aspectRatio"]
	job.SourceDraftID = data["sourceDraftId"]
	job.ResultDraftID = data["resultDraftId"]
	job.Status = data["status"]
	job.ErrorMessage = data["error"]
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
