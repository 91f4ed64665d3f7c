package telemetry

import (
	"context"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// Recorder accepts telemetry drafts. Record never fails from the caller's point of view; delivery
// problems are handled inside the pipeline.
type Recorder interface {
	Record(ctx context.Context, d domain.Draft)
}

// NopRecorder discards everything. Used when telemetry is disabled.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, domain.Draft) {}
