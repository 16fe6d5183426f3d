package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
)

const contextKeyRequestID = "_vein_request_id"

// NewApp builds the Fiber application: panic recovery, a request-ID
// middleware in the same c.Locals-plus-header shape as the teacher's
// requestContextMiddleware, and a single catch-all route that classifies
// the path via internal/route and dispatches to s.handle.
//
// Grounded on _examples/rogeecn-any-hub/internal/server/router.go's NewApp;
// the Host-based registry lookup that router did before dispatching is
// gone entirely here, since internal/route.Classify disambiguates by path.
func NewApp(s *Server) (*fiber.App, error) {
	if s == nil {
		return nil, errors.New("server is required")
	}

	app := fiber.New(fiber.Config{CaseSensitive: true})
	app.Use(recover.New())
	app.Use(requestIDMiddleware)

	app.All("/*", s.handle)

	return app, nil
}

func requestIDMiddleware(c fiber.Ctx) error {
	reqID := uuid.NewString()
	c.Locals(contextKeyRequestID, reqID)
	c.Set("X-Request-ID", reqID)
	return c.Next()
}

// RequestID returns the request identifier stamped by requestIDMiddleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
