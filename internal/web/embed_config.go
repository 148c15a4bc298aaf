package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/chatbridge/internal/hostkit"
	"github.com/tyemirov/chatbridge/pkg/framebridge"
	"go.uber.org/zap"
)

// Endpoints the host page script talks to.
const (
	SessionEndpoint     = "/auth/session"
	CallbackEndpoint    = "/auth/callback"
	LogoutEndpoint      = "/auth/logout"
	VendorProxyEndpoint = "/api/c1-auth"
)

type embedConfigPayload struct {
	EmbedURL          string   `json:"embedUrl"`
	FrameOrigin       string   `json:"frameOrigin"`
	AllowedOrigins    []string `json:"allowedOrigins"`
	OriginMatch       string   `json:"originMatch"`
	IsAuthenticated   bool     `json:"isAuthenticated"`
	PollIntervalMs    int64    `json:"pollIntervalMs"`
	CoalesceWindowMs  int64    `json:"coalesceWindowMs"`
	BlurThresholdMs   int64    `json:"blurThresholdMs"`
	FocusDelayMs      int64    `json:"focusDelayMs"`
	StorageKeyPattern string   `json:"storageKeyPattern"`
	PopupWidth        int      `json:"popupWidth"`
	PopupHeight       int      `json:"popupHeight"`
	SessionEndpoint   string   `json:"sessionEndpoint"`
	CallbackEndpoint  string   `json:"callbackEndpoint"`
	LogoutEndpoint    string   `json:"logoutEndpoint"`
	AccessEndpoint    string   `json:"accessEndpoint"`
}

// HandleEmbedConfig emits a JavaScript payload that hydrates window.__CHATBRIDGE_CONFIG for the
// requesting browser profile, including its current token in the embed URL.
func HandleEmbedConfig(logger *zap.Logger, configuration hostkit.ServerConfig, storage hostkit.StorageBackend) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if storage == nil {
		panic("bridge storage is required")
	}

	return func(contextGin *gin.Context) {
		tokens := hostkit.TokenStoreForProfile(storage, hostkit.ProfileID(contextGin))
		session, getErr := tokens.Get(contextGin)
		if getErr != nil {
			logger.Warn("embed config token read failed",
				zap.String("code", "web.embed_config.token_read_failed"),
				zap.Error(getErr))
			session = framebridge.StoredSession{}
		}

		embed := configuration.Embed
		if embed.ParentOrigin == "" {
			embed.ParentOrigin = requestOrigin(contextGin.Request)
		}
		embedURL, buildErr := framebridge.BuildEmbedURL(embed, session.Token)
		if buildErr != nil {
			logger.Error("embed url build failed",
				zap.String("code", "web.embed_config.embed_url"),
				zap.Error(buildErr))
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "web.embed_config.embed_url",
			})
			return
		}

		originMatch := configuration.OriginMatch
		if originMatch == "" {
			originMatch = framebridge.OriginMatchExact
		}
		timings := configuration.Timings
		payload := embedConfigPayload{
			EmbedURL:          embedURL,
			FrameOrigin:       configuration.FrameOrigin,
			AllowedOrigins:    configuration.VendorOrigins,
			OriginMatch:       string(originMatch),
			IsAuthenticated:   session.IsAuthenticated(),
			PollIntervalMs:    timings.PollInterval.Milliseconds(),
			CoalesceWindowMs:  timings.CoalesceWindow.Milliseconds(),
			BlurThresholdMs:   timings.BlurThreshold.Milliseconds(),
			FocusDelayMs:      timings.FocusDelay.Milliseconds(),
			StorageKeyPattern: framebridge.DefaultStorageKeyPattern,
			PopupWidth:        framebridge.DefaultWindowFeatures.Width,
			PopupHeight:       framebridge.DefaultWindowFeatures.Height,
			SessionEndpoint:   SessionEndpoint,
			CallbackEndpoint:  CallbackEndpoint,
			LogoutEndpoint:    LogoutEndpoint,
			AccessEndpoint:    VendorProxyEndpoint,
		}

		encoded, encodeErr := json.Marshal(payload)
		if encodeErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "web.embed_config.encode_failed",
			})
			return
		}

		script := fmt.Sprintf(`(function(){var config=Object.freeze(%s);window.__CHATBRIDGE_CONFIG=config;if(typeof document==="undefined"){return;}var assignFrameSource=function(){var frame=document.getElementById("chatbridge-frame");if(frame&&!frame.getAttribute("src")){frame.setAttribute("src",config.embedUrl);}};if(document.readyState==="loading"){document.addEventListener("DOMContentLoaded",assignFrameSource,{once:true});}else{assignFrameSource();}})();`, string(encoded))

		contextGin.Header("Content-Type", "application/javascript; charset=utf-8")
		contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
		contextGin.Header("Pragma", "no-cache")
		contextGin.Header("X-Content-Type-Options", "nosniff")
		contextGin.String(http.StatusOK, script)
	}
}

func requestOrigin(request *http.Request) string {
	host := request.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s", forwardedProto(request), host)
}

func forwardedProto(request *http.Request) string {
	if request == nil {
		return "https"
	}
	if headerValue := request.Header.Get("X-Forwarded-Proto"); headerValue != "" {
		return headerValue
	}
	if request.TLS != nil {
		return "https"
	}
	if request.URL != nil && request.URL.Scheme != "" {
		return request.URL.Scheme
	}
	return "http"
}
