package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// DefaultNamespace scopes all pipeline keys.
const DefaultNamespace = "telemetry"

const (
	keyQueue      = "queue"
	keyRetryState = "retry_state"
	keyMetrics    = "metrics"
)

// State stores the pipeline's three durable records on top of a KV.
// Missing or undecodable records load as the zero value; only KV read failures are returned as errors.
type State struct {
	kv        KV
	namespace string
	logger    *slog.Logger
}

// NewState returns a State over kv. An empty namespace uses DefaultNamespace; a nil logger discards.
func NewState(kv KV, namespace string, logger *slog.Logger) *State {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &State{kv: kv, namespace: namespace, logger: logger}
}

func (s *State) key(name string) string {
	return s.namespace + ":" + name
}

func (s *State) LoadQueue(ctx context.Context) ([]domain.Event, error) {
	var events []domain.Event
	if err := s.load(ctx, keyQueue, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *State) SaveQueue(ctx context.Context, events []domain.Event) error {
	if events == nil {
		events = []domain.Event{}
	}
	return s.save(ctx, keyQueue, events)
}

func (s *State) LoadRetryState(ctx context.Context) (domain.RetryState, error) {
	var rs domain.RetryState
	if err := s.load(ctx, keyRetryState, &rs); err != nil {
		return domain.RetryState{}, err
	}
	return rs, nil
}

func (s *State) SaveRetryState(ctx context.Context, rs domain.RetryState) error {
	return s.save(ctx, keyRetryState, rs)
}

func (s *State) LoadMetrics(ctx context.Context) (domain.Metrics, error) {
	var m domain.Metrics
	if err := s.load(ctx, keyMetrics, &m); err != nil {
		return domain.Metrics{}, err
	}
	return m, nil
}

func (s *State) SaveMetrics(ctx context.Context, m domain.Metrics) error {
	return s.save(ctx, keyMetrics, m)
}

func (s *State) load(ctx context.Context, name string, v any) error {
	raw, err := s.kv.Get(ctx, s.key(name))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: load %s: %w", name, err)
	}
	if err := unmarshal(raw, v); err != nil {
		s.logger.Warn("discarding corrupt persisted state", "key", s.key(name), "err", err)
		return nil
	}
	return nil
}

func (s *State) save(ctx context.Context, name string, v any) error {
	raw, err := marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", name, err)
	}
	if err := s.kv.Put(ctx, s.key(name), raw); err != nil {
		return fmt.Errorf("store: save %s: %w", name, err)
	}
	return nil
}
