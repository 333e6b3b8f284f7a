package worker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/utils"
)

func newTestWorker(t *testing.T) (*Worker, http.Handler) {
	config := NewWorkerConfig()
	config.SpillPath = "memory"
	config.ThreadCount = 2
	require.NoError(t, config.Validate())

	w, err := NewWorker(config)
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)

	return w, NewHttpHandler(w)
}

func do(handler http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestConfigValidate(t *testing.T) {
	config := NewWorkerConfig()
	assert.NoError(t, config.Validate())

	config.JobID = 0
	assert.Error(t, config.Validate())

	config = NewWorkerConfig()
	config.ThreadCount = -1
	assert.Error(t, config.Validate())

	config = NewWorkerConfig()
	config.ListenHttp = []string{"udp://:80"}
	assert.Error(t, config.Validate())

	config = NewWorkerConfig()
	config.Resources = []string{"GPU"}
	assert.Error(t, config.Validate())

	config = NewWorkerConfig()
	config.Logging.Level = "loud"
	assert.Error(t, config.Validate())

	config = NewWorkerConfig()
	config.SpillPath = "memory"
	config.SpillMaxSize = 0
	assert.Error(t, config.Validate())
}

func TestObjects(t *testing.T) {
	w, handler := newTestWorker(t)

	rec := do(handler, http.MethodPut, "/objects", echo.MIMEApplicationJSON, `{"a":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var put PutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &put))
	assert.True(t, put.ID.IsPut())

	rec = do(handler, http.MethodGet, "/objects/"+put.ID.Hex(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"a":1}`, rec.Body.String())
	assert.Equal(t, echo.MIMEApplicationJSON, rec.Header().Get(echo.HeaderContentType))

	rec = do(handler, http.MethodDelete, "/objects/"+put.ID.Hex(), "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(handler, http.MethodDelete, "/objects/"+put.ID.Hex(), "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(handler, http.MethodGet, "/objects/"+put.ID.Hex(), "", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	rec = do(handler, http.MethodGet, "/objects/xyz", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, int64(1), w.Statistics().Bridge.Puts)
}

func TestObjectWithoutMetadata(t *testing.T) {
	_, handler := newTestWorker(t)

	rec := do(handler, http.MethodPut, "/objects", "", "raw bytes")
	require.Equal(t, http.StatusCreated, rec.Code)

	var put PutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &put))

	rec = do(handler, http.MethodGet, "/objects/"+put.ID.Hex()+"?timeout=1s", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "raw bytes", rec.Body.String())
	assert.Equal(t, echo.MIMEOctetStream, rec.Header().Get(echo.HeaderContentType))
}

func TestTasks(t *testing.T) {
	_, handler := newTestWorker(t)

	rec := do(handler, http.MethodPost, "/tasks/concat", echo.MIMETextPlain, "hello")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	rec = do(handler, http.MethodPost, "/tasks/identity", echo.MIMETextPlain, "same")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "same", rec.Body.String())
	assert.Equal(t, echo.MIMETextPlain, rec.Header().Get(echo.HeaderContentType))

	rec = do(handler, http.MethodPost, "/tasks/sum", echo.MIMEApplicationJSON, "[1, 2, 3.5]")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "6.5", rec.Body.String())
	assert.Equal(t, echo.MIMEApplicationJSON, rec.Header().Get(echo.HeaderContentType))
}

func TestTaskErrors(t *testing.T) {
	w, handler := newTestWorker(t)

	rec := do(handler, http.MethodPost, "/tasks/missing", "", "x")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var e Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "Internal", e.Code)
	assert.Contains(t, e.Message, "missing")

	rec = do(handler, http.MethodPost, "/tasks/concat?resource=GPU=64", "", "x")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(handler, http.MethodPost, "/tasks/concat?returns=0", "", "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(handler, http.MethodPost, "/tasks/concat?timeout=soon", "", "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, int64(1), w.Statistics().Bridge.TasksFailed)
}

func TestMetrics(t *testing.T) {
	_, handler := newTestWorker(t)

	rec := do(handler, http.MethodPost, "/tasks/concat", "", "x")
	require.Equal(t, http.StatusOK, rec.Code)

	// The task is counted after its returns are sealed.
	require.Eventually(t, func() bool {
		rec = do(handler, http.MethodGet, "/metrics", "", "")
		return strings.Contains(rec.Body.String(), "jolt_bridge_tasks_executed_total 1\n")
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "jolt_worker_tasks_submitted_total 1\n")
	assert.Contains(t, rec.Body.String(), "# TYPE jolt_store_objects gauge\n")
}

func TestFunctions(t *testing.T) {
	_, handler := newTestWorker(t)

	rec := do(handler, http.MethodGet, "/functions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"concat", "identity", "sum"}, names)
}

func TestCall(t *testing.T) {
	w, _ := newTestWorker(t)

	args := []buffer.DataValue{
		buffer.BorrowValue([]byte("a"), nil),
		buffer.BorrowValue([]byte("b"), nil),
	}
	values, err := w.Call(context.Background(), "identity", args, 2, nil)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, []byte("a"), values[0].Data.Bytes())
	assert.Equal(t, []byte("b"), values[1].Data.Bytes())
	release(values)

	assert.Equal(t, int64(0), w.Statistics().Runtime.References, "returns are released after the call")
}

func TestSpillToDisk(t *testing.T) {
	config := NewWorkerConfig()
	config.SpillPath = t.TempDir()
	config.StoreMaxSize = 16

	w, err := NewWorker(config)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	var puts []ids.ObjectID
	for _, data := range []string{"0123456789", "abcdefghij", "ABCDEFGHIJ"} {
		id, err := w.Bridge().Put(buffer.BorrowValue([]byte(data), nil))
		require.NoError(t, err)
		puts = append(puts, id)
	}

	values, err := w.Bridge().Get(context.Background(), puts, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), values[0].Data.Bytes())
	assert.Equal(t, []byte("ABCDEFGHIJ"), values[2].Data.Bytes())
	release(values)

	assert.Greater(t, w.Statistics().Runtime.Store.Spilled, int64(0))
}

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeHealth(t *testing.T) {
	config := NewWorkerConfig()
	config.ListenGrpc = []string{fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t))}
	config.ListenHttp = []string{fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t))}
	require.NoError(t, config.Validate())

	w, err := NewWorker(config)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- w.Serve(ctx)
	}()

	address, err := utils.ParseGrpcTarget(config.ListenGrpc[0])
	require.NoError(t, err)
	conn, err := grpc.NewClient(address, config.Grpc.ToDialOptions()...)
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		response, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
		return err == nil && response.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
}
