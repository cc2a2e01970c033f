package daemon

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)

	router := gin.New()
	router.Use(requestLogger(logger))
	router.GET("/status", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/cycles", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.PUT("/schedule", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	cases := []struct {
		method string
		path   string
		level  logrus.Level
	}{
		{http.MethodGet, "/status", logrus.TraceLevel},
		{http.MethodGet, "/cycles", logrus.DebugLevel},
		{http.MethodPut, "/schedule", logrus.WarnLevel},
		{http.MethodGet, "/boom", logrus.ErrorLevel},
		{http.MethodGet, "/missing", logrus.WarnLevel},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			hook.Reset()
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tc.level, entry.Level)
			assert.Equal(t, tc.path, entry.Data["path"])
		})
	}
}
