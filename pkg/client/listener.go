package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dormhub/dorm-portal-api/internal/models"
)

// Listener consumes the SSE event stream and feeds the reconciler. A
// subscription does not survive a disconnect, so every (re)connect first
// resyncs the active list and only then applies incoming hints.
type Listener struct {
	engine     *HTTPEngine
	reconciler *Reconciler
	logger     *zap.Logger
	backoff    time.Duration
}

// NewListener constructs a listener bound to a reconciler.
func NewListener(engine *HTTPEngine, reconciler *Reconciler, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		engine:     engine,
		reconciler: reconciler,
		logger:     logger,
		backoff:    2 * time.Second,
	}
}

// Run connects, resyncs and streams until ctx is cancelled, rejoining from
// scratch after every drop.
func (l *Listener) Run(ctx context.Context) {
	for {
		if err := l.connectOnce(ctx); err != nil && ctx.Err() == nil {
			l.logger.Warn("event stream dropped, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) connectOnce(ctx context.Context) error {
	if err := l.reconciler.Resync(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.engine.baseURL+"/maintenance/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if l.engine.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.engine.token)
	}

	// The stream is long-lived; the engine's request timeout must not apply.
	streamClient := &http.Client{Transport: l.engine.httpClient.Transport}
	res, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var event models.TransitionEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			l.logger.Debug("unparseable event payload skipped", zap.Error(err))
			continue
		}
		if err := l.reconciler.HandleEvent(ctx, event); err != nil {
			l.logger.Warn("failed to apply event hint",
				zap.String("request_id", event.RequestID), zap.Error(err))
		}
	}
	return scanner.Err()
}
