// Package api wires the HTTP routes of the ledger service.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tipidbuddy/tipidbuddy-server/internal/http/api/handlers"
	"github.com/tipidbuddy/tipidbuddy-server/internal/identity"
	"github.com/tipidbuddy/tipidbuddy-server/internal/ledger"
	"github.com/tipidbuddy/tipidbuddy-server/internal/metrics"
	"github.com/tipidbuddy/tipidbuddy-server/internal/ratelimit"
)

// Options holds the collaborators of the HTTP layer.
type Options struct {
	Ledger         *ledger.Ledger
	Verifier       identity.Verifier
	Profiles       *identity.Directory
	Limiter        *ratelimit.Manager
	Metrics        *metrics.Recorder
	Health         handlers.Pinger
	RequestTimeout time.Duration
}

// NewEngine builds a gin engine with recovery, request logging and all routes.
func NewEngine(opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(requestLogger(opts.Metrics))
	RegisterRoutes(r, opts)
	return r
}

// RegisterRoutes registers health, metrics and the authenticated /v0 routes.
func RegisterRoutes(r *gin.Engine, opts Options) {
	if r == nil || opts.Ledger == nil || opts.Verifier == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(opts.Health)
	r.GET("/healthz", healthHandler.Healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	authed := r.Group("/v0")
	if opts.RequestTimeout > 0 {
		authed.Use(timeoutMiddleware(opts.RequestTimeout))
	}
	authed.Use(authMiddleware(opts.Verifier, opts.Profiles))
	authed.Use(rateLimitMiddleware(opts.Limiter))

	groupHandler := handlers.NewGroupHandler(opts.Ledger, opts.Metrics)
	authed.POST("/groups/create", groupHandler.Create)
	authed.POST("/groups/join", groupHandler.Join)
	authed.GET("/groups", groupHandler.List)
	authed.GET("/groups/pending", groupHandler.Pending)
	authed.GET("/groups/:groupId", groupHandler.Get)
	authed.GET("/groups/:groupId/leaderboard", groupHandler.Leaderboard)
	authed.POST("/groups/:groupId/submit", groupHandler.Submit)
	authed.POST("/groups/:groupId/leave", groupHandler.Leave)

	profileHandler := handlers.NewProfileHandler(opts.Ledger)
	authed.POST("/profile/update", profileHandler.Update)
}

// corsMiddleware enables permissive CORS for browser clients.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authMiddleware verifies the bearer token and stores the caller on the context.
func authMiddleware(verifier identity.Verifier, profiles *identity.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token, ok := identity.BearerToken(authHeader)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		who, errVerify := verifier.Verify(c.Request.Context(), token)
		if errVerify != nil {
			if !errors.Is(errVerify, identity.ErrUnauthorized) {
				log.WithError(errVerify).Warn("identity verification failed")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		name := who.DisplayName
		if profiles != nil {
			profile, errEnsure := profiles.Ensure(c.Request.Context(), who)
			if errEnsure != nil {
				log.WithError(errEnsure).WithField("user_id", who.UserID).Warn("profile sync failed")
			} else {
				name = profile.Name
			}
		}

		c.Set(handlers.ContextUserID, who.UserID)
		c.Set(handlers.ContextUserEmail, who.Email)
		c.Set(handlers.ContextUserName, name)
		c.Next()
	}
}

// rateLimitMiddleware enforces the per-user request limit.
func rateLimitMiddleware(limiter *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		res, errAllow := limiter.AllowUser(c.Request.Context(), c.GetString(handlers.ContextUserID))
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit check failed")
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// timeoutMiddleware bounds the request context.
func timeoutMiddleware(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requestLogger logs each request and counts it by route and status.
func requestLogger(recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		recorder.Request(route, strconv.Itoa(status))

		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": time.Since(start).String(),
		})
		if userID := c.GetString(handlers.ContextUserID); userID != "" {
			entry = entry.WithField("user_id", userID)
		}
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	}
}
