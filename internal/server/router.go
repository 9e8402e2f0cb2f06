package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const contextKeyRequestID = "_dephost_request_id"

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    *ArtifactHandler
	Status     *StatusHandler
	ListenPort int
}

// NewApp builds a Fiber application with request-ID middleware, diagnostics
// endpoints under /-/ and the ecosystem catch-all artifact route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("artifact handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	if opts.Status != nil {
		app.Get("/-/healthz", opts.Status.Healthz)
		app.Get("/-/status", opts.Status.Status)
	}
	app.Delete("/-/cache/*", opts.Handler.Invalidate)

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_diagnostics_path"})
		}
		return opts.Handler.Serve(c)
	})

	return app, nil
}

// requestIDMiddleware 负责为每个请求生成 ID 并回写响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
