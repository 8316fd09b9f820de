package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/waiter-call/models"
)

const testMirrorURL = "https://waiter-call.example.firebaseio.com"

func newMockedRESTMirror(t *testing.T) (*RESTMirror, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	return NewRESTMirror(testMirrorURL, "s3cret", &http.Client{Transport: transport}), transport
}

func TestRESTMirrorPutsLatestState(t *testing.T) {
	mirror, transport := newMockedRESTMirror(t)

	var received Event
	var auth string
	transport.RegisterResponder(http.MethodPut, testMirrorURL+"/businesses/1/calls/7.json",
		func(req *http.Request) (*http.Response, error) {
			auth = req.URL.Query().Get("auth")
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	evt := CallEvent(EventCallAcknowledged, testCall(models.CallStatusAcknowledged, models.UrgencyNormal), testTable(), "Ana", testNow)
	require.NoError(t, mirror.Write(context.Background(), evt))

	assert.Equal(t, 1, transport.GetTotalCallCount())
	assert.Equal(t, "s3cret", auth)
	assert.Equal(t, evt.ID, received.ID)
	assert.Equal(t, "acknowledged", received.State)
}

func TestRESTMirrorReportsHTTPErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"unauthorized", http.StatusUnauthorized},
		{"rate limited", http.StatusTooManyRequests},
		{"server error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mirror, transport := newMockedRESTMirror(t)
			transport.RegisterResponder(http.MethodPut, `=~^`+testMirrorURL+`/businesses/1/`,
				httpmock.NewStringResponder(tt.status, `{"error":"nope"}`))

			err := mirror.Write(context.Background(), createdEvent())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestRESTMirrorWithoutSecret(t *testing.T) {
	transport := httpmock.NewMockTransport()
	mirror := NewRESTMirror(testMirrorURL, "", &http.Client{Transport: transport})

	var rawQuery string
	transport.RegisterResponder(http.MethodPut, testMirrorURL+"/businesses/1/tables/11.json",
		func(req *http.Request) (*http.Response, error) {
			rawQuery = req.URL.RawQuery
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	require.NoError(t, mirror.Write(context.Background(), AssignmentEvent(EventTableUnassigned, testTable(), 3, "Ana", testNow)))
	assert.Empty(t, rawQuery)
}

func TestRESTMirrorKeepsSecretOutOfErrors(t *testing.T) {
	mirror, transport := newMockedRESTMirror(t)
	transport.RegisterResponder(http.MethodPut, `=~^`+testMirrorURL,
		httpmock.NewErrorResponder(errors.New("dial tcp 10.0.0.9:443: connection refused")))

	err := mirror.Write(context.Background(), createdEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "businesses/1/calls/7")
	assert.NotContains(t, err.Error(), "s3cret")
	assert.NotContains(t, err.Error(), "auth=")
}
