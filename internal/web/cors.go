package web

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/chatbridge/pkg/framebridge"
	"go.uber.org/zap"
)

// ConfigureCORS enables credentialed cross-origin requests from the supplied host origins.
func ConfigureCORS(logger *zap.Logger, allowedOrigins []string) (gin.HandlerFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	normalized, err := normalizeCORSOrigins(logger, allowedOrigins)
	if err != nil {
		return nil, err
	}
	config := cors.Config{
		AllowOrigins:     normalized,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	return cors.New(config), nil
}

// normalizeCORSOrigins applies the message router's exact-origin rules.
func normalizeCORSOrigins(logger *zap.Logger, allowed []string) ([]string, error) {
	policy, err := framebridge.NewOriginPolicy(framebridge.OriginMatchExact, allowed)
	if err != nil {
		return nil, fmt.Errorf("cors.origins: %w", err)
	}
	seen := make(map[string]struct{})
	normalized := make([]string, 0, len(policy.Allowed()))
	for _, origin := range policy.Allowed() {
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		if parsed, parseErr := url.Parse(origin); parseErr == nil && parsed.Scheme == "http" && !isDevelopmentHost(parsed.Hostname()) {
			logger.Warn("unsafe cors origin configured",
				zap.String("code", "cors.origin.unsafe"),
				zap.String("origin", origin))
		}
		normalized = append(normalized, origin)
	}
	sort.Strings(normalized)
	return normalized, nil
}

func isDevelopmentHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1":
		return true
	default:
		return false
	}
}
