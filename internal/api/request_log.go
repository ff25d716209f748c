package api

import (
	"bytes"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/satquery/satquery/internal/logging"
)

// maxLoggedBodyBytes caps how much of a body is logged per direction.
const maxLoggedBodyBytes = 64 * 1024

// bodyCaptureWriter duplicates response bytes into a buffer so they can be
// logged after the handler finishes.
type bodyCaptureWriter struct {
	gin.ResponseWriter
	buffer bytes.Buffer
}

func (w *bodyCaptureWriter) Write(data []byte) (int, error) {
	if w.buffer.Len() < maxLoggedBodyBytes {
		remaining := maxLoggedBodyBytes - w.buffer.Len()
		if remaining > len(data) {
			remaining = len(data)
		}
		w.buffer.Write(data[:remaining])
	}
	return w.ResponseWriter.Write(data)
}

func (w *bodyCaptureWriter) WriteString(data string) (int, error) {
	return w.Write([]byte(data))
}

// requestLogMiddleware logs full request and response bodies for the ask
// endpoints when the request-log option is enabled.
func (s *Server) requestLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.currentConfig().RequestLog || !strings.HasPrefix(c.Request.URL.Path, "/v1/") {
			c.Next()
			return
		}

		var requestBody []byte
		if c.Request.Body != nil {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBodyBytes+1))
			c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(requestBody), c.Request.Body))
		}

		capture := &bodyCaptureWriter{ResponseWriter: c.Writer}
		c.Writer = capture

		c.Next()

		entry := log.WithFields(log.Fields{
			"request_id": logging.GetGinRequestID(c),
			"status":     c.Writer.Status(),
		})
		entry.Debugf("request %s %s body: %s", c.Request.Method, c.Request.URL.Path, truncateForLog(requestBody))
		entry.Debugf("response body: %s", truncateForLog(capture.buffer.Bytes()))
	}
}

func truncateForLog(body []byte) string {
	if len(body) > maxLoggedBodyBytes {
		return string(body[:maxLoggedBodyBytes]) + "...(truncated)"
	}
	return string(body)
}
