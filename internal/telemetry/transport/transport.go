// Package transport implements the outbound senders for telemetry batches: HTTP ingest, Kafka,
// Grafana Loki and OpenTelemetry logs. Each sender supports acknowledged delivery (Send) and
// fire-and-forget teardown delivery (Beacon).
package transport

import (
	"context"
	"errors"
	"fmt"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// ErrStatus is wrapped by errors for non-2xx responses.
var ErrStatus = errors.New("transport: unexpected status")

// StatusError carries the HTTP status of a rejected request.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: server returned %s", e.Status)
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// Sender is implemented by every transport in this package.
type Sender interface {
	Send(ctx context.Context, b domain.Batch) error
	Beacon(ctx context.Context, b domain.Batch)
	Close() error
}

// Kinds accepted by TELEMETRY_TRANSPORT.
const (
	KindHTTP  = "http"
	KindKafka = "kafka"
	KindLoki  = "loki"
	KindOTel  = "otel"
)
