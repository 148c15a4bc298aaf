package hostkit

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/chatbridge/pkg/framebridge"
	"go.uber.org/zap"
)

// MountBridgeRoutes registers /auth/callback (POST), /auth/session, and /auth/logout.
// The router must run RequireProfile ahead of these handlers.
func MountBridgeRoutes(router gin.IRouter, configuration ServerConfig, storage StorageBackend, logger *zap.Logger, metrics framebridge.MetricsRecorder) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewCounterMetrics()
	}

	router.POST("/auth/callback", func(contextGin *gin.Context) {
		var inbound struct {
			URL string `json:"url"`
		}
		if err := contextGin.ShouldBindJSON(&inbound); err != nil || strings.TrimSpace(inbound.URL) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		ingestor := NewProfileIngestor(configuration, storage, ProfileID(contextGin), logger)
		result, ingestErr := ingestor.Ingest(contextGin, inbound.URL)
		RecordCallback(metrics, result, ingestErr)
		if ingestErr != nil {
			contextGin.AbortWithStatusJSON(CallbackErrorStatus(ingestErr), gin.H{"error": CallbackErrorCode(ingestErr)})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{
			"isAuthenticated":    true,
			"uid":                result.Session.UID,
			"email":              result.Session.Email,
			"name":               result.Session.Name,
			"tokenFormat":        result.TokenFormat,
			"claimsDecodeFailed": result.ClaimsDecodeFailed,
			"redirectTo":         result.RedirectTo,
			"redirectDelayMs":    result.RedirectDelay.Milliseconds(),
		})
	})

	router.GET("/auth/session", func(contextGin *gin.Context) {
		tokens := TokenStoreForProfile(storage, ProfileID(contextGin))
		session, getErr := tokens.Get(contextGin)
		if getErr != nil {
			logger.Error("session read failed",
				zap.String("code", "session.read_failed"),
				zap.Error(getErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session.read_failed"})
			return
		}
		contextGin.Header("Cache-Control", "no-store")
		contextGin.JSON(http.StatusOK, gin.H{
			"isAuthenticated": session.IsAuthenticated(),
			"token":           session.Token,
			"uid":             session.UID,
			"email":           session.Email,
			"name":            session.Name,
		})
	})

	router.POST("/auth/logout", func(contextGin *gin.Context) {
		tokens := TokenStoreForProfile(storage, ProfileID(contextGin))
		if clearErr := tokens.Clear(contextGin); clearErr != nil {
			logger.Error("session clear failed",
				zap.String("code", "session.clear_failed"),
				zap.Error(clearErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session.clear_failed"})
			return
		}
		metrics.Increment(MetricSessionCleared)
		contextGin.Status(http.StatusNoContent)
	})
}

// NewProfileIngestor builds a CallbackIngestor writing into profileID's storage.
func NewProfileIngestor(configuration ServerConfig, storage StorageBackend, profileID string, logger *zap.Logger) *framebridge.CallbackIngestor {
	return framebridge.NewCallbackIngestor(
		TokenStoreForProfile(storage, profileID),
		framebridge.WithCallbackLogger(logger),
		framebridge.WithRedirect(configuration.CallbackRedirectPath, configuration.CallbackRedirectDelay),
	)
}

// RecordCallback counts the outcome of one ingestion.
func RecordCallback(metrics framebridge.MetricsRecorder, result framebridge.CallbackResult, err error) {
	switch {
	case err == nil:
		metrics.Increment(MetricCallbackIngested)
		if result.ClaimsDecodeFailed {
			metrics.Increment(MetricCallbackMalformedToken)
		}
	case errors.Is(err, framebridge.ErrMissingToken):
		metrics.Increment(MetricCallbackMissingToken)
	}
}

// CallbackErrorStatus maps an ingestion failure to an HTTP status.
func CallbackErrorStatus(err error) int {
	switch {
	case errors.Is(err, framebridge.ErrMissingToken), errors.Is(err, framebridge.ErrInvalidCallbackURL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CallbackErrorCode maps an ingestion failure to its public error code.
func CallbackErrorCode(err error) string {
	switch {
	case errors.Is(err, framebridge.ErrMissingToken):
		return framebridge.ErrMissingToken.Error()
	case errors.Is(err, framebridge.ErrInvalidCallbackURL):
		return framebridge.ErrInvalidCallbackURL.Error()
	default:
		return "callback.store_failed"
	}
}
