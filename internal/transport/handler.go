package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go-menu-annotator/internal/config"
	apperrors "go-menu-annotator/internal/errors"
	"go-menu-annotator/internal/logger"
	"go-menu-annotator/internal/orchestrator"
	"go-menu-annotator/internal/service"
	"go-menu-annotator/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MetricsSource exposes lifecycle counters for the /metrics endpoint
type MetricsSource interface {
	GetMetrics() map[string]interface{}
}

func NewHandler(sessions service.SessionService, metrics MetricsSource, cfg *config.Config) http.Handler {
	r := gin.Default()

	// Add middleware
	r.Use(
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)
	r.GET("/metrics", metricsSnapshot(metrics))

	s := r.Group("/sessions/:id")
	s.GET("", sessionStatus(sessions))
	s.POST("/captures", startCapture(sessions))
	s.POST("/retry", retryCapture(sessions))
	s.POST("/reset", resetSession(sessions))
	s.PUT("/view", updateView(sessions))
	s.GET("/annotations", listAnnotations(sessions))
	s.GET("/annotations/at", annotationAt(sessions))

	return r
}

func startCapture(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")

		// Log request start
		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"session_id": sessionID,
			"user_agent": c.Request.UserAgent(),
			"ip":         c.ClientIP(),
		}).Info("Processing capture request")

		var req models.CaptureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"ip": c.ClientIP(),
			}).Error("Invalid request format")
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}

		gen, err := sessions.Capture(sessionID, orchestrator.CaptureRequest{
			Reference:         req.ImageURL,
			RestaurantContext: req.RestaurantContext,
			Orientation:       req.Orientation,
		})
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "capture rejected", err)
			return
		}

		c.JSON(http.StatusAccepted, models.GenerationResponse{SessionID: sessionID, Generation: gen})
	}
}

func retryCapture(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		gen, err := sessions.Retry(sessionID)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "retry rejected", err)
			return
		}
		c.JSON(http.StatusAccepted, models.GenerationResponse{SessionID: sessionID, Generation: gen})
	}
}

func resetSession(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		if err := sessions.Reset(sessionID); err != nil {
			respondError(c, apperrors.GetStatusCode(err), "reset failed", err)
			return
		}
		status, err := sessions.Status(sessionID)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "reset failed", err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func updateView(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ViewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request format", err)
			return
		}
		status, err := sessions.UpdateView(c.Param("id"), req.Metrics())
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "view update failed", err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func sessionStatus(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := sessions.Status(c.Param("id"))
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "status unavailable", err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func listAnnotations(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("id")
		snap, err := sessions.Annotations(sessionID)
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "annotations unavailable", err)
			return
		}
		c.JSON(http.StatusOK, models.AnnotationsResponse{
			SessionID:   sessionID,
			Generation:  snap.Generation,
			Projected:   snap.Projected,
			Metrics:     snap.Metrics,
			Annotations: snap.Annotations,
		})
	}
}

func annotationAt(sessions service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		x, errX := strconv.ParseFloat(c.Query("x"), 64)
		y, errY := strconv.ParseFloat(c.Query("y"), 64)
		if err := errors.Join(errX, errY); err != nil {
			respondError(c, http.StatusBadRequest, "x and y must be numbers",
				apperrors.NewValidationError("invalid point", err))
			return
		}

		annotation, err := sessions.AnnotationAt(c.Param("id"), models.Point{X: x, Y: y})
		if err != nil {
			respondError(c, apperrors.GetStatusCode(err), "no annotation", err)
			return
		}
		c.JSON(http.StatusOK, annotation)
	}
}

func metricsSnapshot(metrics MetricsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, metrics.GetMetrics())
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Middleware and helper functions
func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	entry := logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	})
	if code >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}
