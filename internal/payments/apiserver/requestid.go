package apiserver

import (
	"regexp"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

var validRequestIDPattern = regexp.MustCompile(`^[0-9a-zA-Z-]{1,64}$`)

// requestID stamps every request with a request_id, adapted from the
// teacher's internal/middleware/requestid.go unchanged in behavior:
// honor a client-supplied X-Request-ID if well-formed, otherwise mint a
// uuid, store it in Locals, and echo it back on the response.
func requestID() fiber.Handler {
	return func(c fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" || !validRequestIDPattern.MatchString(id) {
			id = uuid.New().String()
		}
		c.Locals(requestIDKey, id)
		c.Set(requestIDHeader, id)
		return c.Next()
	}
}

func requestIDFrom(c fiber.Ctx) string {
	if id, ok := c.Locals(requestIDKey).(string); ok {
		return id
	}
	return ""
}
