package telemetry

import (
	"context"
	"log/slog"
	"time"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// recordTimeout bounds a single async Record, which includes persisting the queue.
const recordTimeout = 5 * time.Second

// RecordAsync runs Record in a goroutine so request handlers are not blocked by queue persistence.
// The goroutine uses context.Background() with recordTimeout, so request cancellation does not abort it.
// A nil recorder returns immediately without starting a goroutine.
func RecordAsync(r Recorder, d domain.Draft) {
	if r == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("telemetry: async record panicked", "panic", rec)
			}
		}()
		r.Record(ctx, d)
	}()
}
