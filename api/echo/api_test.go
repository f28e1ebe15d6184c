package echo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frogbytes/frogbytes/admin"
	"github.com/frogbytes/frogbytes/middleware"
	"github.com/frogbytes/frogbytes/session"
)

const testAdminKey = "test-admin-key"

func newTestServer(t *testing.T, triggerURL string) *echo.Echo {
	t.Helper()

	registry := session.NewMemoryRegistry(time.Hour)
	t.Cleanup(func() { _ = registry.Close() })

	endpoints := map[admin.Service]string{}
	if triggerURL != "" {
		endpoints[admin.ServiceScraper] = triggerURL
	}
	dispatcher := admin.NewDispatcher(nil, testAdminKey, endpoints, nil)

	api := NewAdminAPI(registry, nil, dispatcher, nil, testAdminKey)

	e := echo.New()
	api.RegisterRoutes(e)
	return e
}

func doRequest(e *echo.Echo, method, path, body string, withKey bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if withKey {
		req.Header.Set(middleware.AdminKeyHeader, testAdminKey)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutes_RequireAdminKey(t *testing.T) {
	e := newTestServer(t, "")

	rec := doRequest(e, http.MethodGet, "/admin/sessions", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays public.
	rec = doRequest(e, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterSession_GeneratesID(t *testing.T) {
	e := newTestServer(t, "")

	rec := doRequest(e, http.MethodPost, "/admin/sessions",
		`{"user_id":"userA","target_url":"https://x"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool            `json:"success"`
		Session *session.Record `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Session)
	assert.NotEmpty(t, resp.Session.SessionID)
	assert.True(t, resp.Session.Active)
}

func TestRegisterSession_DuplicatePairSignalsExisting(t *testing.T) {
	e := newTestServer(t, "")

	rec := doRequest(e, http.MethodPost, "/admin/sessions",
		`{"session_id":"s1","user_id":"userA","target_url":"https://x"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodPost, "/admin/sessions",
		`{"session_id":"s2","user_id":"userA","target_url":"https://x"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success       bool            `json:"success"`
		AlreadyExists bool            `json:"already_exists"`
		Session       *session.Record `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.AlreadyExists)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "s1", resp.Session.SessionID)
}

func TestRegisterSession_ValidationErrorsAreVerbatim(t *testing.T) {
	e := newTestServer(t, "")

	rec := doRequest(e, http.MethodPost, "/admin/sessions",
		`{"target_url":"https://x"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id is required")

	rec = doRequest(e, http.MethodPost, "/admin/sessions",
		`{"user_id":"userA"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "target_url is required")
}

func TestUnregisterAndList(t *testing.T) {
	e := newTestServer(t, "")

	rec := doRequest(e, http.MethodPost, "/admin/sessions",
		`{"session_id":"s1","user_id":"userA","target_url":"https://x"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodDelete, "/admin/sessions/s1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/admin/sessions", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count    int               `json:"count"`
		Sessions []*session.Record `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
	assert.Empty(t, resp.Sessions)
}

func TestGetSession_UnknownIs404(t *testing.T) {
	e := newTestServer(t, "")

	rec := doRequest(e, http.MethodGet, "/admin/sessions/missing", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServiceControl_ValidationAndDispatch(t *testing.T) {
	trigger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"scraped":3}`))
	}))
	defer trigger.Close()

	e := newTestServer(t, trigger.URL)

	rec := doRequest(e, http.MethodPost, "/admin/services/control",
		`{"service":"reaper","action":"start"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPost, "/admin/services/control",
		`{"service":"scraper","action":"start"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                  `json:"success"`
		Result  *admin.DispatchResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Result)
	assert.Equal(t, admin.DefaultDispatchLimit, resp.Result.Limit)
}

func TestExecutions_UnavailableWithoutMongo(t *testing.T) {
	e := newTestServer(t, "")

	rec := doRequest(e, http.MethodGet, "/admin/executions", "", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClearSessions(t *testing.T) {
	e := newTestServer(t, "")

	doRequest(e, http.MethodPost, "/admin/sessions",
		`{"session_id":"s1","user_id":"userA","target_url":"https://x"}`, true)

	rec := doRequest(e, http.MethodPost, "/admin/sessions/clear", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/admin/sessions/s1", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
