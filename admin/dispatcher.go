package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/frogbytes/frogbytes/errors"
	"github.com/frogbytes/frogbytes/internal/audit"
	"github.com/frogbytes/frogbytes/internal/metrics"
	"github.com/frogbytes/frogbytes/mongodb"
)

// Service enumerates the background services that can be controlled.
type Service string

const (
	ServiceScraper     Service = "scraper"
	ServiceValidator   Service = "validator"
	ServiceRevalidator Service = "revalidator"
)

// Action enumerates the permitted control actions.
type Action string

const (
	ActionStart   Action = "start"
	ActionRestart Action = "restart"
)

// DefaultDispatchLimit is applied when the caller omits a limit.
const DefaultDispatchLimit = 50

// ControlRequest names a service and action, with optional tuning
// parameters forwarded to the job endpoint.
type ControlRequest struct {
	Service     string `json:"service"`
	Action      string `json:"action"`
	Limit       int    `json:"limit,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

// DispatchResult is the outcome of a forwarded trigger call.
type DispatchResult struct {
	Service     string          `json:"service"`
	Action      string          `json:"action"`
	Limit       int             `json:"limit"`
	Concurrency int             `json:"concurrency,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// ExecutionRecorder persists dispatch outcomes. It is satisfied by
// *mongodb.ExecutionRepository and may be nil when Mongo is not
// configured.
type ExecutionRecorder interface {
	Record(ctx context.Context, rec *mongodb.ExecutionRecord) error
}

// Dispatcher validates control requests and forwards them to the
// matching job-trigger endpoint.
type Dispatcher struct {
	httpClient *http.Client
	adminKey   string
	endpoints  map[Service]string
	recorder   ExecutionRecorder
}

// NewDispatcher creates a Dispatcher. A nil httpClient falls back to a
// client with a 30 second timeout; recorder may be nil.
func NewDispatcher(httpClient *http.Client, adminKey string, endpoints map[Service]string, recorder ExecutionRecorder) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{
		httpClient: httpClient,
		adminKey:   adminKey,
		endpoints:  endpoints,
		recorder:   recorder,
	}
}

// Dispatch validates req and issues the outbound trigger call. The
// endpoint's success or failure propagates transparently to the caller;
// every attempt is audited regardless of outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req ControlRequest) (*DispatchResult, error) {
	service := Service(req.Service)
	switch service {
	case ServiceScraper, ServiceValidator, ServiceRevalidator:
	default:
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown service %q: must be one of scraper, validator, revalidator", req.Service))
	}

	action := Action(req.Action)
	switch action {
	case ActionStart, ActionRestart:
	default:
		return nil, apperrors.NewValidation(fmt.Sprintf("unknown action %q: must be start or restart", req.Action))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultDispatchLimit
	}

	endpoint, ok := d.endpoints[service]
	if !ok || endpoint == "" {
		return nil, apperrors.NewGeneric(fmt.Sprintf("no trigger endpoint configured for service %q", req.Service), nil)
	}

	payload, err := d.trigger(ctx, endpoint, limit, req.Concurrency)
	d.report(ctx, req, limit, err)
	if err != nil {
		return nil, err
	}

	return &DispatchResult{
		Service:     req.Service,
		Action:      req.Action,
		Limit:       limit,
		Concurrency: req.Concurrency,
		Payload:     payload,
	}, nil
}

// trigger posts the JSON body to the job endpoint and checks the
// standard {success, error} envelope.
func (d *Dispatcher) trigger(ctx context.Context, endpoint string, limit, concurrency int) (json.RawMessage, error) {
	body := map[string]interface{}{"limit": limit}
	if concurrency > 0 {
		body["concurrency"] = concurrency
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewGeneric("failed to encode trigger payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, apperrors.NewGeneric("failed to build trigger request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.adminKey != "" {
		req.Header.Set(AdminKeyHeader, d.adminKey)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewUpstreamAPI("job trigger request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewUpstreamAPI("failed to read job trigger response", err)
	}

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, apperrors.NewUpstreamAPI(fmt.Sprintf("job trigger returned malformed response (status %d)", resp.StatusCode), err)
	}
	if resp.StatusCode != http.StatusOK || !envelope.Success {
		return nil, apperrors.NewUpstreamAPI(
			fmt.Sprintf("job trigger failed (status %d): %s", resp.StatusCode, envelope.Error), nil)
	}

	return raw, nil
}

// report records the dispatch in the audit log, metrics, and the
// execution repository. Persistence failures are logged, never
// propagated.
func (d *Dispatcher) report(ctx context.Context, req ControlRequest, limit int, dispatchErr error) {
	outcome := "success"
	if dispatchErr != nil {
		outcome = "failure"
	}
	metrics.IncDispatch(req.Service, outcome)
	audit.Log(req.Service, req.Action, limit, req.Concurrency, dispatchErr == nil, dispatchErr)

	if d.recorder == nil {
		return
	}
	rec := &mongodb.ExecutionRecord{
		Service:     req.Service,
		Action:      req.Action,
		Limit:       limit,
		Concurrency: req.Concurrency,
		Success:     dispatchErr == nil,
		TriggeredAt: time.Now().UTC(),
	}
	if dispatchErr != nil {
		rec.Error = dispatchErr.Error()
	}
	if err := d.recorder.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("failed to persist execution record")
	}
}
