package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Routes that are polled continuously and would drown the debug log.
var quietRoutes = map[string]bool{
	"/metrics": true,
	"/status":  true,
}

// requestLogger logs every API request through logrus. Event streams are
// logged when the client disconnects, with the total connection time.
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// handlers may rewrite the URL, keep the original
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}

		entry := logger.WithFields(logrus.Fields{
			"status":    status,
			"elapsedMs": elapsed.Milliseconds(),
			"method":    c.Request.Method,
			"route":     c.FullPath(),
			"path":      path,
			"bytes":     size,
		})

		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}

		msg := fmt.Sprintf("%s %s %d (%s)", c.Request.Method, path, status, elapsed.Round(time.Millisecond))
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(msg)
		case status >= http.StatusBadRequest:
			entry.Warn(msg)
		case c.FullPath() == "/events":
			entry.Info("event stream closed: " + msg)
		case quietRoutes[c.FullPath()]:
			entry.Trace(msg)
		default:
			entry.Debug(msg)
		}
	}
}
