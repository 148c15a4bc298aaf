package web

import (
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/chatbridge/internal/hostkit"
	"github.com/tyemirov/chatbridge/pkg/framebridge"
	webassets "github.com/tyemirov/chatbridge/web"
	"go.uber.org/zap"
)

const callbackTemplateName = "callback.html.tmpl"

var callbackTemplate = template.Must(template.ParseFS(webassets.FS, callbackTemplateName))

type callbackView struct {
	State            string
	Email            string
	Name             string
	TokenFormat      string
	RedirectTo       string
	Message          string
	CallbackEndpoint string
}

// HandleCallbackPage ingests the login redirect that landed on the host and renders the result.
// Tokens delivered in the fragment never reach the server, so a request without a query token
// renders a page that reports its own URL to POST /auth/callback.
func HandleCallbackPage(logger *zap.Logger, configuration hostkit.ServerConfig, storage hostkit.StorageBackend, metrics framebridge.MetricsRecorder) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if storage == nil {
		panic("bridge storage is required")
	}
	if metrics == nil {
		metrics = hostkit.NewCounterMetrics()
	}
	homePath := configuration.CallbackRedirectPath
	if homePath == "" {
		homePath = "/"
	}

	return func(contextGin *gin.Context) {
		ingestor := hostkit.NewProfileIngestor(configuration, storage, hostkit.ProfileID(contextGin), logger)
		result, ingestErr := ingestor.Ingest(contextGin, contextGin.Request.URL.String())
		if errors.Is(ingestErr, framebridge.ErrMissingToken) {
			renderCallbackPage(contextGin, logger, http.StatusOK, callbackView{
				State:            "pending",
				RedirectTo:       homePath,
				CallbackEndpoint: contextGin.Request.URL.Path,
			})
			return
		}
		hostkit.RecordCallback(metrics, result, ingestErr)
		if ingestErr != nil {
			renderCallbackPage(contextGin, logger, hostkit.CallbackErrorStatus(ingestErr), callbackView{
				State:      "failure",
				RedirectTo: homePath,
				Message:    fmt.Sprintf("The login response could not be stored (%s).", hostkit.CallbackErrorCode(ingestErr)),
			})
			return
		}

		delaySeconds := int(math.Ceil(result.RedirectDelay.Seconds()))
		contextGin.Header("Refresh", fmt.Sprintf("%d;url=%s", delaySeconds, result.RedirectTo))
		renderCallbackPage(contextGin, logger, http.StatusOK, callbackView{
			State:       "success",
			Email:       result.Session.Email,
			Name:        result.Session.Name,
			TokenFormat: result.TokenFormat,
			RedirectTo:  result.RedirectTo,
		})
	}
}

func renderCallbackPage(contextGin *gin.Context, logger *zap.Logger, status int, view callbackView) {
	contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
	contextGin.Header("Referrer-Policy", "no-referrer")
	contextGin.Header("Content-Type", "text/html; charset=utf-8")
	contextGin.Status(status)
	if err := callbackTemplate.Execute(contextGin.Writer, view); err != nil {
		logger.Error("callback page render failed",
			zap.String("code", "web.callback_page.render_failed"),
			zap.Error(err))
	}
}
