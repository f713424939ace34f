package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pipelaunch/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var body []byte
	var path, method, user string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		user, _, _ = r.BasicAuth()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "launch-history").WithBasicAuth("admin", "secret")
	code := 0
	ev := history.Event{
		Type:       history.EventExited,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{RunID: "r1", Name: "sender", Index: 2, PID: 12345, State: "exited(0)", ExitCode: &code},
	}
	require.NoError(t, sink.Send(context.Background(), ev))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/launch-history/_doc", path)
	assert.Equal(t, "admin", user)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "exited", got["type"])
	rec, ok := got["record"].(map[string]any)
	require.True(t, ok, "record object missing: %v", got)
	assert.Equal(t, "sender", rec["name"])
	assert.Equal(t, float64(12345), rec["pid"])
	assert.Equal(t, float64(0), rec["exit_code"])
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(server.URL, "idx").Send(context.Background(), history.Event{Type: history.EventLaunched})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opensearch sink status 400")
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := New(url, "idx").Send(context.Background(), history.Event{Type: history.EventLaunched})
	assert.Error(t, err)
}
