package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/crew/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records event. Implementations backed by the caller's transaction make
	// the entry commit or roll back with the change it describes.
	Log(ctx context.Context, event *Event) error
}

// NopLogger discards events
type NopLogger struct{}

// Log implements Logger
func (NopLogger) Log(context.Context, *Event) error {
	return nil
}

// prepare stamps the event time and the request id carried on ctx
func prepare(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = observability.GetRequestID(ctx)
	}
}
