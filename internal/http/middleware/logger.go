package middleware

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/logging"
)

// LoggerLocalKey is the key under which LoggerWithSlog stores the request's
// logger in Fiber's context locals.
const LoggerLocalKey = "logger"

// Logger logs each HTTP request as one JSON line on stdout.
func Logger(loc *time.Location) fiber.Handler {
	return LoggerWithWriter(os.Stdout, loc)
}

// LoggerWithWriter logs each request to w with the fields request_id, user_id,
// method, path, status and latency (milliseconds, float).
func LoggerWithWriter(w io.Writer, loc *time.Location) fiber.Handler {
	return LoggerWithSlog(logging.New(w, "info", loc))
}

// LoggerWithSlog logs through an existing logger and makes it available to
// handlers through LoggerFrom, tagged with the request and user ids.
func LoggerWithSlog(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID, _ := c.Locals(RequestIDLocalKey).(string)
		userID, _ := c.Locals(ActorLocalKey).(string)
		c.Locals(LoggerLocalKey, logger.With("request_id", reqID, "user_id", userID))

		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		level := slog.LevelInfo
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelError
		}

		rid, _ := c.Locals(RequestIDLocalKey).(string)
		actor, _ := c.Locals(ActorLocalKey).(string)
		logger.LogAttrs(c.UserContext(), level, "http_request",
			slog.String("request_id", rid),
			slog.String("user_id", actor),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Float64("latency", float64(time.Since(start).Microseconds())/1000),
		)
		return err
	}
}

// LoggerFrom returns the logger LoggerWithSlog stored for this request, or
// slog.Default() when the middleware is not installed.
func LoggerFrom(c *fiber.Ctx) *slog.Logger {
	if l, ok := c.Locals(LoggerLocalKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
