package requestid

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header is the request ID header honored on ingress and set on egress.
const Header = "X-Request-ID"

const ctxKey = "requestID"

// Middleware tags every request with an ID, reusing the client-supplied one
// when present so IDs correlate across services.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(Header))
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(ctxKey, id)
		c.Header(Header, id)

		c.Next()
	}
}

// FromContext returns the request ID assigned by Middleware, or "".
func FromContext(c *gin.Context) string {
	id, _ := c.Value(ctxKey).(string)
	return id
}
