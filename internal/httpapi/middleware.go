package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cs3org/wopibridge/internal/logger"
	"github.com/cs3org/wopibridge/internal/wopi"
)

const requestIDHeader = "X-Request-Id"

// requestIDMiddleware stamps every request with a request id, propagated
// through the context so internal/logger tags every log line with it.
func requestIDMiddleware(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	ctx := logger.WithRequestID(c.Request.Context(), id)
	c.Request = c.Request.WithContext(ctx)
	c.Header(requestIDHeader, id)
	c.Next()
}

// recoveryMiddleware turns a panic in a handler into the 500 JSON
// "copy your content to a safe place" response (spec §7: "Any unexpected
// exception in an HTTP handler is caught by a top-level handler").
func recoveryMiddleware(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(c.Request.Context(), "[httpapi] panic recovered: %v", r)
			body, _ := wopi.Jsonify("an unexpected error occurred; copy your content to a safe place and reopen the document")
			c.Data(http.StatusInternalServerError, "application/json", body)
			c.Abort()
		}
	}()
	c.Next()
}
