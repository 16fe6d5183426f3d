package server

import (
	"github.com/gofiber/fiber/v3"

	"github.com/vein-cache/vein/internal/apperror"
)

// renderError maps err (ideally an *apperror.Error) to the §4.8 status code
// and a small JSON body, logging InventoryFailure responses with their
// correlation ID so an operator can find the matching log line from the
// response alone.
func (s *Server) renderError(c fiber.Ctx, err error, requestID string) error {
	kind := apperror.KindOf(err)
	status := kind.StatusCode()

	fields := map[string]interface{}{
		"action":     "request_failed",
		"error_kind": kind.String(),
		"request_id": requestID,
	}
	var appErr *apperror.Error
	if e, ok := err.(*apperror.Error); ok {
		appErr = e
	}
	if appErr != nil && appErr.Correlation != "" {
		fields["correlation_id"] = appErr.Correlation
	}
	if status >= 500 {
		s.log.WithFields(fields).WithError(err).Error("request_failed")
	} else {
		s.log.WithFields(fields).Warn("request_failed")
	}

	body := fiber.Map{"error": kind.String()}
	if appErr != nil && appErr.Correlation != "" {
		body["correlation_id"] = appErr.Correlation
	}
	return c.Status(status).JSON(body)
}

func (s *Server) renderReject(c fiber.Ctx, code int, reason string) error {
	return c.Status(code).JSON(fiber.Map{"error": reason})
}
