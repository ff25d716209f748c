package logging

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// askRequestIDKey is the context key for request IDs attached to ask calls.
type askRequestIDKey struct{}

// ginRequestIDKey is the gin context key mirroring askRequestIDKey.
const ginRequestIDKey = "satquery_request_id"

// GenerateRequestID returns a short hex id for log correlation. The first
// UUID segment is enough to disambiguate concurrent requests in a single
// process's logs.
func GenerateRequestID() string {
	id := uuid.NewString()
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// WithRequestID returns a child context carrying the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, askRequestIDKey{}, requestID)
}

// GetRequestID returns the request ID carried by the context, or "".
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(askRequestIDKey{}).(string)
	return id
}

// SetGinRequestID stores the request ID on the gin context.
func SetGinRequestID(c *gin.Context, requestID string) {
	if c == nil {
		return
	}
	c.Set(ginRequestIDKey, requestID)
}

// GetGinRequestID returns the request ID stored on the gin context, or "".
func GetGinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	value, exists := c.Get(ginRequestIDKey)
	if !exists {
		return ""
	}
	id, _ := value.(string)
	return id
}
