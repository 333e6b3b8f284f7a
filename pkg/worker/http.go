package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/srand/jolt/bridge/pkg/buffer"
	"github.com/srand/jolt/bridge/pkg/ids"
	"github.com/srand/jolt/bridge/pkg/log"
	"github.com/srand/jolt/bridge/pkg/task"
	"github.com/srand/jolt/bridge/pkg/utils"
)

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PutResponse struct {
	ID ids.ObjectID `json:"id"`
}

var httpStatus = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.NotFound:           http.StatusNotFound,
	codes.FailedPrecondition: http.StatusConflict,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.Canceled:           http.StatusRequestTimeout,
	codes.ResourceExhausted:  http.StatusUnprocessableEntity,
	codes.Unavailable:        http.StatusServiceUnavailable,
}

func newError(c echo.Context, err error) error {
	st := status.Convert(utils.GrpcError(err))

	code, ok := httpStatus[st.Code()]
	if !ok {
		code = http.StatusInternalServerError
		log.Error(c.Request().URL, err)
	}
	return c.JSON(code, &Error{Code: st.Code().String(), Message: st.Message()})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", utils.ErrBadRequest, fmt.Sprintf(format, args...))
}

// Reads the timeout query parameter, a duration or a negative number to
// wait forever.
func queryTimeout(c echo.Context, def time.Duration) (time.Duration, error) {
	value := c.QueryParam("timeout")
	if value == "" {
		return def, nil
	}
	if strings.HasPrefix(value, "-") {
		return -1, nil
	}
	timeout, err := time.ParseDuration(value)
	if err != nil {
		return 0, badRequest("invalid timeout %q", value)
	}
	return timeout, nil
}

// Metadata of a request body is its content type, unless it is generic.
func requestMeta(c echo.Context) []byte {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		return nil
	}
	return []byte(contentType)
}

func writeValue(c echo.Context, value buffer.DataValue) error {
	contentType := echo.MIMEOctetStream
	if value.HasMeta() {
		contentType = string(value.Meta.Bytes())
	}
	return c.Blob(http.StatusOK, contentType, value.Data.Bytes())
}

func release(values []buffer.DataValue) {
	for _, value := range values {
		value.Release()
	}
}

// JSON serializer for echo based on go-json.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}

func NewHttpHandler(w *Worker) *echo.Echo {
	r := echo.New()
	r.HideBanner = true
	r.JSONSerializer = jsonSerializer{}
	r.Use(utils.HttpLogger)

	r.GET("/metrics", func(c echo.Context) error {
		return c.String(http.StatusOK, metrics(w.Statistics()))
	})

	r.GET("/functions", func(c echo.Context) error {
		return c.JSON(http.StatusOK, w.Functions().Names())
	})

	r.GET("/objects/:id", func(c echo.Context) error {
		id, err := ids.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			return newError(c, badRequest("%v", err))
		}

		timeout, err := queryTimeout(c, 0)
		if err != nil {
			return newError(c, err)
		}

		values, err := w.Bridge().Get(c.Request().Context(), []ids.ObjectID{id}, timeout)
		if err != nil {
			return newError(c, err)
		}
		defer release(values)

		return writeValue(c, values[0])
	})

	r.PUT("/objects", func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return newError(c, badRequest("%v", err))
		}

		id, err := w.Bridge().Put(buffer.BorrowValue(data, requestMeta(c)))
		if err != nil {
			return newError(c, err)
		}

		return c.JSON(http.StatusCreated, &PutResponse{ID: id})
	})

	r.DELETE("/objects/:id", func(c echo.Context) error {
		id, err := ids.ObjectIDFromHex(c.Param("id"))
		if err != nil {
			return newError(c, badRequest("%v", err))
		}

		if err := w.Bridge().RemoveLocalReference(id); err != nil {
			return newError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	})

	// Runs a function with the request body as its only argument and
	// responds with its first return value.
	r.POST("/tasks/:function", func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return newError(c, badRequest("%v", err))
		}

		var args []buffer.DataValue
		if len(data) > 0 {
			args = append(args, buffer.BorrowValue(data, requestMeta(c)))
		}

		returns := 1
		if value := c.QueryParam("returns"); value != "" {
			if returns, err = strconv.Atoi(value); err != nil || returns < 1 {
				return newError(c, badRequest("invalid number of returns %q", value))
			}
		}

		resources, err := task.ParseResources(c.QueryParams()["resource"])
		if err != nil {
			return newError(c, err)
		}

		timeout, err := queryTimeout(c, time.Minute)
		if err != nil {
			return newError(c, err)
		}

		ctx := c.Request().Context()
		if timeout >= 0 {
			var cancel func()
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		values, err := w.Call(ctx, c.Param("function"), args, returns, resources)
		if err != nil {
			return newError(c, err)
		}
		defer release(values)

		return writeValue(c, values[0])
	})

	return r
}

func metrics(stats Stats) string {
	var m strings.Builder

	gauge := func(name, help string, value int64) {
		fmt.Fprintf(&m, "# TYPE %s gauge\n", name)
		fmt.Fprintf(&m, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&m, "%s %d\n", name, value)
	}
	counter := func(name, help string, value int64) {
		fmt.Fprintf(&m, "# TYPE %s counter\n", name)
		fmt.Fprintf(&m, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&m, "%s %d\n", name, value)
	}

	counter("jolt_bridge_tasks_executed_total", "The total number of tasks executed successfully.", stats.Bridge.TasksExecuted)
	counter("jolt_bridge_tasks_failed_total", "The total number of tasks that failed to execute.", stats.Bridge.TasksFailed)
	counter("jolt_bridge_returns_sealed_total", "The total number of sealed return objects.", stats.Bridge.ReturnsSealed)
	counter("jolt_bridge_puts_total", "The total number of objects put.", stats.Bridge.Puts)
	counter("jolt_bridge_gets_total", "The total number of get requests.", stats.Bridge.Gets)
	counter("jolt_bridge_submits_total", "The total number of submitted tasks.", stats.Bridge.Submits)

	counter("jolt_worker_tasks_submitted_total", "The total number of tasks submitted to the worker.", stats.Runtime.TasksSubmitted)
	counter("jolt_worker_tasks_finished_total", "The total number of tasks finished by the worker.", stats.Runtime.TasksFinished)
	counter("jolt_worker_tasks_failed_total", "The total number of tasks failed by the worker.", stats.Runtime.TasksFailed)
	counter("jolt_worker_returns_inlined_total", "The total number of inlined return objects.", stats.Runtime.ReturnsInlined)
	gauge("jolt_worker_references", "The number of objects with local references.", stats.Runtime.References)

	store := stats.Runtime.Store
	gauge("jolt_store_objects", "The number of sealed objects.", store.Objects)
	gauge("jolt_store_objects_unsealed", "The number of objects being written.", store.Unsealed)
	gauge("jolt_store_size_bytes", "The size of objects in memory.", store.Size)
	counter("jolt_store_spilled_total", "The total number of objects spilled.", store.Spilled)
	counter("jolt_store_restored_total", "The total number of objects restored from spill.", store.Restored)
	gauge("jolt_spill_objects", "The number of spilled objects.", store.Spill.Objects)
	gauge("jolt_spill_size_bytes", "The size of spilled objects after compression.", store.Spill.Size)
	counter("jolt_spill_hits_total", "The total number of spill reads.", store.Spill.Hits)
	counter("jolt_spill_misses_total", "The total number of spill reads of missing objects.", store.Spill.Misses)
	counter("jolt_spill_rejected_total", "The total number of objects kept in memory because the spill cache was full.", store.Spill.Rejected)

	return m.String()
}
