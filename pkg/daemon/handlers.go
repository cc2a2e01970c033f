package daemon

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fridgecal/fridgecal/pkg/config"
	"github.com/fridgecal/fridgecal/pkg/types"
	"github.com/fridgecal/fridgecal/pkg/version"
)

const sseKeepAlive = 15 * time.Second

func (s *Server) getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) getCycles(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.ctrl.Cycles())
}

func (s *Server) getState(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.ctrl.State().String())
}

func (s *Server) restartSession(c *gin.Context) {
	id := s.ctrl.Restart()
	st := s.ctrl.Status()

	logrus.WithField("session", id).Info("calibration session restarted by request")

	c.IndentedJSON(http.StatusOK, types.Session{
		SessionID: id,
		StartedAt: st.StartedAt,
	})
}

func (s *Server) getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.scheduler.Info())
}

func (s *Server) setSchedule(c *gin.Context) {
	var req types.ScheduleRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := s.scheduler.Validate(req.Cron); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	// Persist first so a failed save leaves both the file and the live
	// schedule unchanged.
	prev := s.conf.Cron()
	s.conf.SetCron(req.Cron)
	if err := s.conf.Save(); err != nil {
		s.conf.SetCron(prev)
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if err := s.scheduler.Schedule(req.Cron); err != nil {
		s.conf.SetCron(prev)
		if saveErr := s.conf.Save(); saveErr != nil {
			logrus.Errorf("saveConfig failed: %v", saveErr)
		}
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if req.Cron == "" {
		logrus.Info("session schedule disabled")
	} else {
		logrus.WithField("cron", req.Cron).Info("session schedule set")
	}

	c.IndentedJSON(http.StatusOK, s.scheduler.Info())
}

func (s *Server) skipSchedule(c *gin.Context) {
	if err := s.scheduler.Skip(); err != nil {
		c.IndentedJSON(http.StatusConflict, err.Error())
		_ = c.AbortWithError(http.StatusConflict, err)
		return
	}

	c.IndentedJSON(http.StatusOK, s.scheduler.Info())
}

// streamEvents relays hub events as server-sent events until the client
// goes away.
func (s *Server) streamEvents(c *gin.Context) {
	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("Content-Type", "text/event-stream")

	// Send headers now so clients see the stream open before the first event.
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}
	})
}

func (s *Server) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(s.conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Get())
}
