package services

import (
	"context"
	"time"

	"github.com/openlearnhq/xblock-runtime/internal/platform/logger"
)

// TrackingEvent is the envelope forwarded to the analytics pipeline for
// event names the publish service does not handle itself.
type TrackingEvent struct {
	Name      string         `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context"`
	Data      map[string]any `json:"data"`
}

// TrackingSink receives tracking events. Delivery is at-most-once; sinks
// must not block the request path.
type TrackingSink interface {
	Emit(ctx context.Context, ev TrackingEvent)
}

type trackingKey struct{}

var trackingContextKey trackingKey

// WithTrackingContext attaches per-dispatch context (usage key, display
// name, asides) that sinks merge into every event emitted downstream.
func WithTrackingContext(ctx context.Context, kv map[string]any) context.Context {
	return context.WithValue(ctx, trackingContextKey, kv)
}

func TrackingContext(ctx context.Context) map[string]any {
	if kv, ok := ctx.Value(trackingContextKey).(map[string]any); ok {
		return kv
	}
	return nil
}

// logTrackingSink is the default sink: structured log lines that a log
// shipper can pick up.
type logTrackingSink struct {
	log *logger.Logger
}

func NewLogTrackingSink(baseLog *logger.Logger) TrackingSink {
	return &logTrackingSink{log: baseLog.With("service", "TrackingSink")}
}

func (s *logTrackingSink) Emit(ctx context.Context, ev TrackingEvent) {
	if extra := TrackingContext(ctx); len(extra) > 0 {
		merged := make(map[string]any, len(ev.Context)+len(extra))
		for k, v := range extra {
			merged[k] = v
		}
		for k, v := range ev.Context {
			merged[k] = v
		}
		ev.Context = merged
	}
	s.log.Info("Tracking event",
		"event", ev.Name,
		"context", ev.Context,
		"data", ev.Data,
	)
}
