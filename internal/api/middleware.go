package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	actorKey        = "actor"
)

// requestIDMiddleware tags each request with an id and a logger carrying it
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		logger := util.GetLogger().With(zap.String("request_id", reqID))
		if traceID := util.TraceID(c.Request.Context()); traceID != "" {
			logger = logger.With(zap.String("trace_id", traceID))
		}
		c.Request = c.Request.WithContext(util.WithLogger(c.Request.Context(), logger))
		c.Next()
	}
}

// tracingMiddleware opens a server span per request so service spans nest under it
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := util.StartSpan(c.Request.Context(), c.Request.Method+" "+route,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if a, ok := actorFrom(c); ok {
			span.SetAttributes(util.AttrActorID.Int64(a.ID))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(c.Writer.Status()))
		}
	}
}

// accessLogMiddleware writes one line per request
func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if a, ok := actorFrom(c); ok {
			fields = append(fields, zap.Int64("user_id", a.ID))
		}
		logger := util.FromContext(c.Request.Context())
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("HTTP request", fields...)
			return
		}
		logger.Info("HTTP request", fields...)
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// TokenManager issues and verifies bearer credentials; satisfied by *auth.TokenIssuer
type TokenManager interface {
	Issue(userID int64) (string, time.Time, error)
	Parse(raw string) (int64, error)
}

// UserFinder loads the caller behind a token; satisfied by *service.UserService
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// resolveActor verifies the bearer token and loads the current roles of its
// user. Roles are read per request so revocations apply immediately.
func resolveActor(c *gin.Context, tokens TokenManager, users UserFinder) (models.Actor, bool) {
	raw := bearerToken(c)
	if raw == "" {
		abortWith(c, http.StatusUnauthorized, service.CodeInvalidCredentials, "login required")
		return models.Actor{}, false
	}
	userID, err := tokens.Parse(raw)
	if err != nil {
		abortWith(c, http.StatusUnauthorized, service.CodeInvalidCredentials, "invalid session")
		return models.Actor{}, false
	}
	user, err := users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if service.KindOf(err) == service.KindNotFound {
			abortWith(c, http.StatusUnauthorized, service.CodeInvalidCredentials, "invalid session")
			return models.Actor{}, false
		}
		respondError(c, err)
		return models.Actor{}, false
	}
	if !user.IsActive {
		abortWith(c, http.StatusForbidden, service.CodeForbidden, "account is suspended")
		return models.Actor{}, false
	}
	return user.Actor(), true
}

// authRequired rejects requests without a valid bearer token
func authRequired(tokens TokenManager, users UserFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := resolveActor(c, tokens, users)
		if !ok {
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// optionalAuth resolves the caller when a token is sent and lets anonymous
// requests through
func optionalAuth(tokens TokenManager, users UserFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if bearerToken(c) == "" {
			c.Next()
			return
		}
		actor, ok := resolveActor(c, tokens, users)
		if !ok {
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	a, ok := v.(models.Actor)
	return a, ok
}

// mustActor returns the caller set by authRequired
func mustActor(c *gin.Context) models.Actor {
	a, _ := actorFrom(c)
	return a
}
