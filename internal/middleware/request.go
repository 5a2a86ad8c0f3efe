package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ctxKey int

var correlationIDKey ctxKey

// Attribute keys of the request logs. Other loggers use the same keys for values of the request.
const (
	RequestLoggerKeyCorrelationID = "correlationId"
	RequestLoggerKeyStack         = "stack"
)

// HeaderCorrelationID carries the correlation ID of the request in both the request and the
// response.
const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationID is a Gin middleware that adds a correlation ID to the [http.Request.Context]. A
// UUID sent by the client in [HeaderCorrelationID] is kept so a deployment triggered by a script
// can be traced in the logs, anything else is replaced by a generated ID.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if parsed, err := uuid.Parse(id); err == nil {
			id = parsed.String()
		} else {
			id = uuid.NewString()
		}

		c.Request = c.Request.WithContext(NewContextWithCorrelationID(c.Request.Context(), id))
		c.Header(HeaderCorrelationID, id)

		c.Next()
	}
}

// NewContextWithCorrelationID returns a new [context.Context] that carries value correlationID.
func NewContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// GetCorrelationID returns the correlation ID stored in the ctx, if any. It had to have been set by
// the [CorrelationID] middleware before.
func GetCorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok
}

// RequestLogger logs details like request time, response time, latency and more about every
// request.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestTime := time.Now()

		c.Next()

		responseTime := time.Now()

		params := make(map[string]string, len(c.Params))
		for _, param := range c.Params {
			params[param.Key] = param.Value
		}
		requestAttribute := slog.Group("request",
			slog.Time("time", requestTime),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("route", c.FullPath()),
			slog.String("query", c.Request.URL.RawQuery),
			slog.Any("params", params),
			slog.String("host", c.Request.Host),
			slog.String("userAgent", c.Request.UserAgent()),
			slog.String("ip", c.ClientIP()),
		)
		responseAttribute := slog.Group("response",
			slog.Time("time", responseTime),
			slog.Duration("latency", responseTime.Sub(requestTime)),
			slog.Int("status", c.Writer.Status()),
		)

		level := slog.LevelInfo
		const msg = "Processed HTTP request"
		attributes := []slog.Attr{requestAttribute, responseAttribute}
		if status := c.Writer.Status(); status >= http.StatusBadRequest {
			level = slog.LevelWarn
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attributes = append(attributes, slog.String("error", c.Errors.String()))
		}
		var stackErr StackError
		if err := c.Errors.Last(); err != nil && errors.As(err, &stackErr) {
			attributes = append(attributes, slog.String(RequestLoggerKeyStack, stackErr.StackName()))
		}

		logger.LogAttrs(c.Request.Context(), level, msg, attributes...)
	}
}
