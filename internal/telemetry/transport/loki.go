package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"retail-platform/telemetry/internal/telemetry/domain"
)

// LokiPushRequest is the Loki push API request body (v1).
type LokiPushRequest struct {
	Streams []LokiStream `json:"streams"`
}

// LokiStream is one label set with its log entries.
type LokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line]
}

// Loki label values are restricted to a safe character set.
var lokiLabelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Loki pushes a batch as streams labelled by event type and priority; each event is one JSON line.
type Loki struct {
	pushURL string
	job     string
	client  *http.Client
	logger  *slog.Logger
}

// NewLoki targets baseURL (e.g. http://localhost:3100). job becomes the job label.
func NewLoki(baseURL, job string, client *http.Client, logger *slog.Logger) (*Loki, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("transport: loki base URL is empty")
	}
	if job == "" {
		job = "retail-telemetry"
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loki{
		pushURL: strings.TrimSuffix(baseURL, "/") + "/loki/api/v1/push",
		job:     job,
		client:  client,
		logger:  logger,
	}, nil
}

func (l *Loki) Send(ctx context.Context, b domain.Batch) error {
	req, err := l.buildRequest(b)
	if err != nil {
		return err
	}
	return l.push(ctx, req)
}

func (l *Loki) Beacon(ctx context.Context, b domain.Batch) {
	if err := l.Send(ctx, b); err != nil {
		l.logger.Debug("transport: loki beacon failed", "err", err)
	}
}

func (l *Loki) Close() error {
	l.client.CloseIdleConnections()
	return nil
}

// buildRequest groups events into one stream per (organization, priority) label set.
func (l *Loki) buildRequest(b domain.Batch) (LokiPushRequest, error) {
	index := map[string]int{}
	var req LokiPushRequest
	for _, e := range b.Events {
		labels := map[string]string{
			"job":        l.job,
			"event_type": sanitizeLabel(string(e.Type)),
			"priority":   e.Priority.String(),
		}
		if org := sanitizeLabel(e.Correlation.OrganizationID); org != "" {
			labels["org_id"] = org
		}
		if b.BatchMetadata.Teardown {
			labels["teardown"] = "true"
		}
		key := labels["org_id"] + "|" + labels["priority"]
		i, ok := index[key]
		if !ok {
			i = len(req.Streams)
			index[key] = i
			req.Streams = append(req.Streams, LokiStream{Stream: labels})
		}
		line, err := json.Marshal(e)
		if err != nil {
			return req, fmt.Errorf("transport: encode event %s: %w", e.ID, err)
		}
		req.Streams[i].Values = append(req.Streams[i].Values,
			[]string{strconv.FormatInt(e.Timestamp.UnixNano(), 10), string(line)})
	}
	return req, nil
}

func (l *Loki) push(ctx context.Context, body LokiPushRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.pushURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: loki push: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}

// ErrMalformedBatch marks a relay message that can never be pushed.
var ErrMalformedBatch = errors.New("transport: malformed batch")

// PushBatchJSON decodes a Kafka message value produced by the Kafka transport and pushes it to Loki.
func (l *Loki) PushBatchJSON(ctx context.Context, raw []byte) error {
	var b domain.Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBatch, err)
	}
	if len(b.Events) == 0 {
		return nil
	}
	return l.Send(ctx, b)
}

func sanitizeLabel(v string) string {
	return lokiLabelSanitize.ReplaceAllString(strings.TrimSpace(v), "_")
}
