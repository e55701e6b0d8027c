package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func Logger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start_time := time.Now()

		request_attrs := []slog.Attr{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.String("user_agent", c.Get("User-Agent")),
		}

		err := c.Next()

		response_attrs := []slog.Attr{
			slog.Int("status_code", c.Response().StatusCode()),
			slog.Duration("response_time", time.Since(start_time)),
		}
		if player, perr := GetPlayer(c); perr == nil {
			response_attrs = append(response_attrs, slog.String("player_id", string(player.ID)))
		}

		all_attrs := append(request_attrs, response_attrs...)
		if err != nil {
			all_attrs = append(all_attrs, slog.String("error", err.Error()))
			slog.LogAttrs(c.UserContext(), slog.LevelError, "Request error", all_attrs...)
		} else {
			slog.LogAttrs(c.UserContext(), slog.LevelInfo, "Request processed", all_attrs...)
		}

		return err
	}
}

// Tracing opens a server span per request and hands its context to the
// handlers through UserContext.
func Tracing(service_name string) fiber.Handler {
	tracer := otel.Tracer(service_name)
	return func(c *fiber.Ctx) error {
		ctx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Route().Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Method()),
				attribute.String("http.target", c.Path()),
			),
		)
		defer span.End()
		c.SetUserContext(ctx)

		err := c.Next()
		status := c.Response().StatusCode()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if err != nil || status >= fiber.StatusInternalServerError {
			span.SetStatus(codes.Error, "request failed")
		}
		return err
	}
}
