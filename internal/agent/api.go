package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"

	"retail-platform/telemetry/internal/securityevent"
	"retail-platform/telemetry/internal/server/interceptors"
	"retail-platform/telemetry/internal/telemetry"
	"retail-platform/telemetry/internal/telemetry/delivery"
	"retail-platform/telemetry/internal/telemetry/domain"
)

const (
	// IdempotencyHeader carries a producer-chosen key; a repeated key within the dedupe window is
	// acknowledged without recording.
	IdempotencyHeader = "Idempotency-Key"

	DefaultDedupeSize   = 4096
	DefaultMaxBodyBytes = 1 << 20
	maxDraftsPerRequest = 500
)

// Pipeline is the subset of *telemetry.Pipeline the API uses.
type Pipeline interface {
	Record(ctx context.Context, d domain.Draft)
	Flush(ctx context.Context) delivery.Result
	Status() telemetry.Status
}

// APIConfig configures NewAPI.
type APIConfig struct {
	// Verifier checks bearer tokens on POST routes. Nil accepts unauthenticated requests.
	Verifier interceptors.TokenVerifier
	// Reporter records rejected tokens as auth_failure events. Optional.
	Reporter     *securityevent.Reporter
	DedupeSize   int
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// API is the agent's local HTTP surface: producers post drafts, operators read status and force flushes.
type API struct {
	pipeline Pipeline
	cfg      APIConfig
	seen     *lru.Cache[string, struct{}]
	logger   *slog.Logger
}

type acceptResponse struct {
	Accepted  int  `json:"accepted"`
	Duplicate bool `json:"duplicate,omitempty"`
}

type flushResponse struct {
	Outcome string `json:"outcome"`
	Events  int    `json:"events"`
	Groups  int    `json:"groups"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewAPI(p Pipeline, cfg APIConfig) (*API, error) {
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = DefaultDedupeSize
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("agent: dedupe cache: %w", err)
	}
	return &API{pipeline: p, cfg: cfg, seen: seen, logger: cfg.Logger}, nil
}

// Routes returns the router:
//
//	POST /v1/events  one draft or an array of drafts
//	GET  /v1/status  queue length, connectivity, retry state and metrics
//	POST /v1/flush   one delivery attempt
//	GET  /healthz
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Get("/v1/status", a.status)
	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)
		r.Post("/v1/events", a.events)
		r.Post("/v1/flush", a.flush)
	})
	return r
}

type orgKey struct{}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		token := interceptors.BearerToken(r.Header.Get("Authorization"))
		reason := "missing_token"
		if token != "" {
			claims, err := a.cfg.Verifier.Verify(token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), orgKey{}, claims.OrgID)))
				return
			}
			reason = "invalid_token"
		}
		if a.cfg.Reporter != nil {
			a.cfg.Reporter.Report(r.Context(), domain.Draft{
				Type:     domain.EventAuthFailure,
				Severity: domain.SeverityWarning,
				Metadata: domain.Metadata{
					Source:   "agent_api",
					ClientIP: remoteIP(r),
					Extra:    map[string]string{"reason": reason, "path": r.URL.Path},
				},
			})
		}
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid authorization"})
	})
}

func (a *API) events(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyHeader)
	if key != "" && a.seen.Contains(key) {
		writeJSON(w, http.StatusOK, acceptResponse{Duplicate: true})
		return
	}

	drafts, err := decodeDrafts(http.MaxBytesReader(w, r.Body, a.cfg.MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if key != "" {
		if dup, _ := a.seen.ContainsOrAdd(key, struct{}{}); dup {
			writeJSON(w, http.StatusOK, acceptResponse{Duplicate: true})
			return
		}
	}

	orgID, _ := r.Context().Value(orgKey{}).(string)
	for _, d := range drafts {
		if d.Correlation.OrganizationID == "" {
			d.Correlation.OrganizationID = orgID
		}
		a.pipeline.Record(r.Context(), d)
	}
	writeJSON(w, http.StatusAccepted, acceptResponse{Accepted: len(drafts)})
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.pipeline.Status())
}

func (a *API) flush(w http.ResponseWriter, r *http.Request) {
	res := a.pipeline.Flush(r.Context())
	resp := flushResponse{Outcome: res.Outcome.String(), Events: res.Events, Groups: res.Groups}
	code := http.StatusOK
	if res.Err != nil {
		resp.Error = res.Err.Error()
		code = http.StatusBadGateway
		a.logger.Warn("agent: manual flush failed", "err", res.Err)
	}
	writeJSON(w, code, resp)
}

// decodeDrafts accepts a single JSON object or an array of them. Every draft needs a type.
func decodeDrafts(body io.Reader) ([]domain.Draft, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	var drafts []domain.Draft
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &drafts); err != nil {
			return nil, fmt.Errorf("decode drafts: %w", err)
		}
	} else {
		var d domain.Draft
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		drafts = []domain.Draft{d}
	}
	if len(drafts) == 0 {
		return nil, errors.New("no drafts")
	}
	if len(drafts) > maxDraftsPerRequest {
		return nil, fmt.Errorf("too many drafts: %d > %d", len(drafts), maxDraftsPerRequest)
	}
	for i, d := range drafts {
		if d.Type == "" {
			return nil, fmt.Errorf("draft %d: type is required", i)
		}
	}
	return drafts, nil
}

func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
