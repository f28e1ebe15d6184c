package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/frogbytes/frogbytes/errors"
	"github.com/frogbytes/frogbytes/mongodb"
)

type recordingSink struct {
	records []*mongodb.ExecutionRecord
}

func (s *recordingSink) Record(_ context.Context, rec *mongodb.ExecutionRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func newTriggerServer(t *testing.T, response string, status int, captured *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if captured != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
}

func TestDispatch_AppliesDefaultLimit(t *testing.T) {
	var body map[string]interface{}
	srv := newTriggerServer(t, `{"success":true,"scraped":12}`, http.StatusOK, &body)
	defer srv.Close()

	sink := &recordingSink{}
	d := NewDispatcher(nil, "secret", map[Service]string{ServiceScraper: srv.URL}, sink)

	result, err := d.Dispatch(context.Background(), ControlRequest{Service: "scraper", Action: "start"})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, float64(DefaultDispatchLimit), body["limit"])
	_, hasConcurrency := body["concurrency"]
	assert.False(t, hasConcurrency)

	assert.Equal(t, DefaultDispatchLimit, result.Limit)
	assert.JSONEq(t, `{"success":true,"scraped":12}`, string(result.Payload))

	require.Len(t, sink.records, 1)
	assert.Equal(t, "scraper", sink.records[0].Service)
	assert.True(t, sink.records[0].Success)
	assert.Equal(t, DefaultDispatchLimit, sink.records[0].Limit)
}

func TestDispatch_ForwardsExplicitParameters(t *testing.T) {
	var body map[string]interface{}
	srv := newTriggerServer(t, `{"success":true}`, http.StatusOK, &body)
	defer srv.Close()

	d := NewDispatcher(nil, "", map[Service]string{ServiceValidator: srv.URL}, nil)

	result, err := d.Dispatch(context.Background(), ControlRequest{
		Service:     "validator",
		Action:      "restart",
		Limit:       5,
		Concurrency: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, float64(3), body["concurrency"])
	assert.Equal(t, 5, result.Limit)
}

func TestDispatch_RejectsUnknownService(t *testing.T) {
	d := NewDispatcher(nil, "", nil, nil)

	_, err := d.Dispatch(context.Background(), ControlRequest{Service: "reaper", Action: "start"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.Classify(err))
	assert.Contains(t, apperrors.SafeMessage(err), "reaper")
}

func TestDispatch_RejectsUnknownAction(t *testing.T) {
	d := NewDispatcher(nil, "", nil, nil)

	_, err := d.Dispatch(context.Background(), ControlRequest{Service: "scraper", Action: "stop"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.Classify(err))
}

func TestDispatch_PropagatesEndpointFailure(t *testing.T) {
	srv := newTriggerServer(t, `{"success":false,"error":"no keys available"}`, http.StatusOK, nil)
	defer srv.Close()

	sink := &recordingSink{}
	d := NewDispatcher(nil, "", map[Service]string{ServiceRevalidator: srv.URL}, sink)

	_, err := d.Dispatch(context.Background(), ControlRequest{Service: "revalidator", Action: "start"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindUpstreamAPI, apperrors.Classify(err))
	// Upstream detail stays internal.
	assert.NotContains(t, apperrors.SafeMessage(err), "no keys available")

	require.Len(t, sink.records, 1)
	assert.False(t, sink.records[0].Success)
	assert.Contains(t, sink.records[0].Error, "no keys available")
}

func TestDispatch_UnconfiguredEndpoint(t *testing.T) {
	d := NewDispatcher(nil, "", map[Service]string{}, nil)

	_, err := d.Dispatch(context.Background(), ControlRequest{Service: "scraper", Action: "start"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindGeneric, apperrors.Classify(err))
}
