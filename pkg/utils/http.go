package utils

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/srand/jolt/bridge/pkg/log"
)

// Echo middleware logging every request. Server errors are logged at
// debug level, everything else at trace level.
func HttpLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req, res := c.Request(), c.Response()
		level := log.TraceLevel
		if res.Status >= http.StatusInternalServerError {
			level = log.DebugLevel
		}
		log.Log(level, "%4s %s %d %dB %v", req.Method, req.URL, res.Status, res.Size, time.Since(start).Round(time.Microsecond))
		return nil
	}
}
