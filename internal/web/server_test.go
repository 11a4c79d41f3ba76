package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statcode-ai/toolguard/internal/timeout"
)

func newTestServer(t *testing.T) (*Server, *timeout.Manager) {
	t.Helper()
	manager := timeout.NewManager()
	t.Cleanup(manager.Dispose)
	return NewServer("127.0.0.1:0", manager, nil), manager
}

func doRequest(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ok", body["status"])
}

func TestOperations(t *testing.T) {
	s, manager := newTestServer(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cfg := timeout.OperationConfig{ToolName: "execute_command", Timeout: 5 * time.Second, TaskID: "t1"}
		timeout.Execute(context.Background(), manager, cfg, func(ctx context.Context) (struct{}, error) {
			close(started)
			<-release
			return struct{}{}, nil
		})
	}()
	<-started
	waitForActive(t, manager, 1)

	rec, body := doRequest(t, s, http.MethodGet, "/api/operations")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["active_operations"])
	keys, ok := body["operation_keys"].([]interface{})
	require.True(t, ok)
	require.Len(t, keys, 1)
	assert.Equal(t, "execute_command:t1", keys[0])

	close(release)
	wg.Wait()
}

func TestTimeouts(t *testing.T) {
	s, manager := newTestServer(t)

	cfg := timeout.OperationConfig{ToolName: "read_file", Timeout: 10 * time.Millisecond, TaskID: "t1"}
	timeout.Execute(context.Background(), manager, cfg, func(ctx context.Context) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, context.Cause(ctx)
	})

	rec, body := doRequest(t, s, http.MethodGet, "/api/timeouts")
	assert.Equal(t, http.StatusOK, rec.Code)

	last, ok := body["last_timeout"].(map[string]interface{})
	require.True(t, ok, "expected a last_timeout object, got %v", body["last_timeout"])
	assert.Equal(t, "read_file", last["tool_name"])
	assert.Equal(t, "t1", last["task_id"])

	recent, ok := body["recent"].([]interface{})
	require.True(t, ok)
	assert.Len(t, recent, 1)

	// No persisted section without a store.
	_, hasPersisted := body["persisted"]
	assert.False(t, hasPersisted)
}

func TestCancel(t *testing.T) {
	s, manager := newTestServer(t)

	rec, body := doRequest(t, s, http.MethodPost, "/api/operations/execute_command/cancel?task_id=t1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["cancelled"])

	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cfg := timeout.OperationConfig{ToolName: "execute_command", Timeout: 5 * time.Second, TaskID: "t1"}
		timeout.Execute(context.Background(), manager, cfg, func(ctx context.Context) (struct{}, error) {
			close(started)
			<-ctx.Done()
			return struct{}{}, context.Cause(ctx)
		})
	}()
	<-started
	waitForActive(t, manager, 1)

	rec, body = doRequest(t, s, http.MethodPost, "/api/operations/execute_command/cancel?task_id=t1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["cancelled"])
	assert.Equal(t, "execute_command", body["tool"])
	assert.Equal(t, "t1", body["task_id"])

	wg.Wait()
	assert.Equal(t, 0, manager.ActiveOperationCount())
}

func waitForActive(t *testing.T, manager *timeout.Manager, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for manager.ActiveOperationCount() != want {
		select {
		case <-deadline:
			t.Fatalf("expected %d active operations, got %d", want, manager.ActiveOperationCount())
		case <-time.After(2 * time.Millisecond):
		}
	}
}
