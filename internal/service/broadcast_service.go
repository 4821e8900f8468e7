package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dormhub/dorm-portal-api/internal/models"
	"github.com/dormhub/dorm-portal-api/pkg/jobs"
)

// channelPublisher is the pub/sub surface the broadcaster needs. Delivery is
// at-least-once and unordered.
type channelPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisPublisher adapts a redis client to the channelPublisher surface.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps the redis client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends a message to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// BroadcastConfig tunes the broadcast worker pool.
type BroadcastConfig struct {
	ChannelPrefix string
	Workers       int
	BufferSize    int
}

// BroadcastService fans transition events out to per-student channels after
// a lifecycle commit. Publishing is fire-and-forget: a failed or dropped
// publish is logged and forgotten, because clients treat events only as
// hints and reconcile by re-fetching.
type BroadcastService struct {
	publisher channelPublisher
	prefix    string
	queue     *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewBroadcastService constructs the broadcaster with its own worker queue.
func NewBroadcastService(publisher channelPublisher, cfg BroadcastConfig, metrics *MetricsService, logger *zap.Logger) *BroadcastService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "maintenance:events"
	}
	svc := &BroadcastService{
		publisher: publisher,
		prefix:    cfg.ChannelPrefix,
		metrics:   metrics,
		logger:    logger,
	}
	svc.queue = jobs.NewQueue("broadcast", svc.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: 1,
		Logger:     logger,
	})
	return svc
}

// Start launches the broadcast workers.
func (s *BroadcastService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains and stops the broadcast workers.
func (s *BroadcastService) Stop() {
	s.queue.Stop()
}

// Channel returns the pub/sub channel key for a student.
func (s *BroadcastService) Channel(studentID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, studentID)
}

// PublishTransition implements TransitionPublisher. It never blocks the
// lifecycle commit: when the buffer is full the event is dropped.
func (s *BroadcastService) PublishTransition(event models.TransitionEvent) {
	if !s.queue.TryEnqueue(jobs.Job{
		ID:      event.RequestID,
		Type:    "transition",
		Payload: event,
	}) {
		s.metrics.RecordBroadcast(false)
	}
}

func (s *BroadcastService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.TransitionEvent)
	if !ok {
		return fmt.Errorf("unexpected broadcast payload %T", job.Payload)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transition event: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.Channel(event.RequesterID), payload); err != nil {
		s.metrics.RecordBroadcast(false)
		return fmt.Errorf("publish transition event: %w", err)
	}
	s.metrics.RecordBroadcast(true)
	s.logger.Debug("transition event published",
		zap.String("request_id", event.RequestID),
		zap.String("to_state", string(event.ToState)))
	return nil
}
