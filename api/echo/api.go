// Package echo exposes the coordination layer over HTTP.
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/frogbytes/frogbytes/admin"
	apperrors "github.com/frogbytes/frogbytes/errors"
	"github.com/frogbytes/frogbytes/middleware"
	"github.com/frogbytes/frogbytes/mongodb"
	"github.com/frogbytes/frogbytes/session"
)

// AdminAPI holds the handlers for the privileged coordination endpoints.
type AdminAPI struct {
	registry   session.Registry
	aggregator *admin.StatusAggregator
	dispatcher *admin.Dispatcher
	executions *mongodb.ExecutionRepository // nil when Mongo is not configured
	adminKey   string
}

// NewAdminAPI initializes the admin API.
func NewAdminAPI(
	registry session.Registry,
	aggregator *admin.StatusAggregator,
	dispatcher *admin.Dispatcher,
	executions *mongodb.ExecutionRepository,
	adminKey string,
) *AdminAPI {
	return &AdminAPI{
		registry:   registry,
		aggregator: aggregator,
		dispatcher: dispatcher,
		executions: executions,
		adminKey:   adminKey,
	}
}

// RegisterRoutes registers all routes. Every /admin route sits behind
// the shared-secret middleware.
func (a *AdminAPI) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/admin", middleware.AdminKey(a.adminKey))

	g.POST("/sessions", a.RegisterSessionHandler)
	g.GET("/sessions", a.ListSessionsHandler)
	g.GET("/sessions/:id", a.GetSessionHandler)
	g.DELETE("/sessions/:id", a.UnregisterSessionHandler)
	g.POST("/sessions/clear", a.ClearSessionsHandler)

	g.GET("/status", a.StatusHandler)
	g.POST("/services/control", a.ServiceControlHandler)
	g.GET("/executions", a.ExecutionsHandler)

	e.GET("/health", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterSessionRequest is the register endpoint's JSON body. SessionID
// is optional; a UUID is generated when absent.
type RegisterSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	TargetURL string `json:"target_url"`
}

// RegisterSessionHandler registers a new session. A registration that is
// suppressed because the id or the (user, url) pair is already tracked
// succeeds with already_exists=true and the existing record, keeping the
// endpoint idempotent for retrying callers while still signalling the
// conflict.
func (a *AdminAPI) RegisterSessionHandler(c echo.Context) error {
	var req RegisterSessionRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, apperrors.NewValidation("request body must be valid JSON"))
	}
	if req.UserID == "" {
		return jsonError(c, apperrors.NewValidation("user_id is required"))
	}
	if req.TargetURL == "" {
		return jsonError(c, apperrors.NewValidation("target_url is required"))
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	ctx := c.Request().Context()

	rec, err := a.registry.Register(ctx, req.SessionID, req.UserID, req.TargetURL)
	if errors.Is(err, session.ErrDuplicateID) || errors.Is(err, session.ErrActiveExists) {
		return c.JSON(http.StatusOK, echo.Map{
			"success":        true,
			"already_exists": true,
			"session":        rec,
		})
	}
	if err != nil {
		return jsonError(c, apperrors.NewDatabase("failed to register session", err))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"session": rec,
	})
}

// UnregisterSessionHandler marks a session inactive. Unknown ids are not
// an error; the registry logs and ignores them.
func (a *AdminAPI) UnregisterSessionHandler(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return jsonError(c, apperrors.NewValidation("session id is required"))
	}

	if err := a.registry.Unregister(c.Request().Context(), sessionID); err != nil {
		return jsonError(c, apperrors.NewDatabase("failed to unregister session", err))
	}

	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// GetSessionHandler looks up one session by id.
func (a *AdminAPI) GetSessionHandler(c echo.Context) error {
	rec, err := a.registry.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{
			"success": false,
			"error":   "session not found",
		})
	}
	if err != nil {
		return jsonError(c, apperrors.NewDatabase("failed to load session", err))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"session": rec,
	})
}

// ListSessionsHandler returns a snapshot of all active sessions.
func (a *AdminAPI) ListSessionsHandler(c echo.Context) error {
	records, err := a.registry.ActiveSessions(c.Request().Context())
	if err != nil {
		return jsonError(c, apperrors.NewDatabase("failed to list sessions", err))
	}
	if records == nil {
		records = []*session.Record{}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":  true,
		"count":    len(records),
		"sessions": records,
	})
}

// ClearSessionsHandler unconditionally resets the registry.
func (a *AdminAPI) ClearSessionsHandler(c echo.Context) error {
	if err := a.registry.ClearAll(c.Request().Context()); err != nil {
		return jsonError(c, apperrors.NewDatabase("failed to clear sessions", err))
	}
	log.Info().Msg("session registry cleared by administrator")

	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// StatusHandler returns the merged status of all external collaborators.
// A single provider failure fails the whole request.
func (a *AdminAPI) StatusHandler(c echo.Context) error {
	status, err := a.aggregator.Aggregate(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"status":  status,
	})
}

// ServiceControlHandler validates and forwards a service control request.
func (a *AdminAPI) ServiceControlHandler(c echo.Context) error {
	var req admin.ControlRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, apperrors.NewValidation("request body must be valid JSON"))
	}

	result, err := a.dispatcher.Dispatch(c.Request().Context(), req)
	if err != nil {
		return jsonError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"result":  result,
	})
}

// ExecutionsHandler lists recent persisted dispatch records.
func (a *AdminAPI) ExecutionsHandler(c echo.Context) error {
	if a.executions == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"success": false,
			"error":   "execution history is not configured",
		})
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return jsonError(c, apperrors.NewValidation("limit must be a positive integer"))
		}
		limit = parsed
	}

	records, err := a.executions.Recent(c.Request().Context(), limit)
	if err != nil {
		return jsonError(c, apperrors.NewDatabase("failed to load execution history", err))
	}
	if records == nil {
		records = []mongodb.ExecutionRecord{}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"count":      len(records),
		"executions": records,
	})
}

// HealthHandler reports liveness.
func (a *AdminAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// jsonError logs the full error internally and returns the safe message
// with a status derived from the error's kind. Only validation messages
// reach the caller verbatim.
func jsonError(c echo.Context, err error) error {
	apperrors.LogError(err, map[string]any{
		"method": c.Request().Method,
		"path":   c.Request().URL.Path,
	})

	return c.JSON(statusForKind(apperrors.Classify(err)), echo.Map{
		"success": false,
		"error":   apperrors.SafeMessage(err),
	})
}

func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindAuthentication:
		return http.StatusUnauthorized
	case apperrors.KindAuthorization:
		return http.StatusForbidden
	case apperrors.KindUpstreamAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
