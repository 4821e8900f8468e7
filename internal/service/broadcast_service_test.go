package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dormhub/dorm-portal-api/internal/models"
)

type capturedPublish struct {
	channel string
	payload []byte
}

type capturePublisher struct {
	published chan capturedPublish
}

func (p *capturePublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	p.published <- capturedPublish{channel: channel, payload: message.([]byte)}
	return nil
}

func TestBroadcastPublishesToStudentChannel(t *testing.T) {
	publisher := &capturePublisher{published: make(chan capturedPublish, 1)}
	svc := NewBroadcastService(publisher, BroadcastConfig{ChannelPrefix: "maintenance:events"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop()

	event := models.TransitionEvent{
		RequestID:   "req-1",
		RequesterID: "student-1",
		FromState:   models.StatePending,
		ToState:     models.StateApproved,
		OccurredAt:  time.Now().UTC(),
	}
	svc.PublishTransition(event)

	select {
	case got := <-publisher.published:
		require.Equal(t, "maintenance:events:student-1", got.channel)
		var decoded models.TransitionEvent
		require.NoError(t, json.Unmarshal(got.payload, &decoded))
		require.Equal(t, event.RequestID, decoded.RequestID)
		require.Equal(t, event.ToState, decoded.ToState)
	case <-time.After(2 * time.Second):
		t.Fatal("event was never published")
	}
}

func TestBroadcastDropsWhenNotStarted(t *testing.T) {
	publisher := &capturePublisher{published: make(chan capturedPublish, 1)}
	svc := NewBroadcastService(publisher, BroadcastConfig{}, nil, nil)

	// Fire-and-forget: publishing before the workers run must not block or
	// panic, the event is simply lost.
	svc.PublishTransition(models.TransitionEvent{RequestID: "req-1", RequesterID: "student-1"})

	select {
	case <-publisher.published:
		t.Fatal("nothing should be published without workers")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastChannelNaming(t *testing.T) {
	svc := NewBroadcastService(nil, BroadcastConfig{}, nil, nil)
	require.Equal(t, "maintenance:events:student-9", svc.Channel("student-9"))
}
