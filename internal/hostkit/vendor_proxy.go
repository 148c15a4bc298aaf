package hostkit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/chatbridge/pkg/framebridge"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultProxyTimeout bounds one round trip to the vendor access endpoint.
	DefaultProxyTimeout = 10 * time.Second

	maxVendorResponseBytes = 1 << 20
)

var errEmptyAccessURL = errors.New("proxy.empty_access_url")

// VendorProxy forwards an access-link request to the vendor and relays its answer untouched.
type VendorProxy struct {
	accessURL string
	client    *http.Client
	logger    *zap.Logger
	metrics   framebridge.MetricsRecorder
	inflight  singleflight.Group
}

type vendorReply struct {
	status      int
	contentType string
	body        []byte
}

// NewVendorProxy constructs a proxy targeting accessURL.
func NewVendorProxy(accessURL string, timeout time.Duration, logger *zap.Logger, metrics framebridge.MetricsRecorder) (*VendorProxy, error) {
	if strings.TrimSpace(accessURL) == "" {
		return nil, fmt.Errorf("proxy.new: %w", errEmptyAccessURL)
	}
	if timeout <= 0 {
		timeout = DefaultProxyTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewCounterMetrics()
	}
	return &VendorProxy{
		accessURL: accessURL,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Handle serves POST {redirect_url}. Register it for every method so other verbs get 405.
func (proxy *VendorProxy) Handle(contextGin *gin.Context) {
	if contextGin.Request.Method != http.MethodPost {
		contextGin.Header("Allow", http.MethodPost)
		contextGin.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "method_not_allowed"})
		return
	}
	var inbound struct {
		RedirectURL string `json:"redirect_url"`
	}
	if err := contextGin.ShouldBindJSON(&inbound); err != nil {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
		return
	}
	redirectURL := strings.TrimSpace(inbound.RedirectURL)
	if redirectURL == "" {
		contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "redirect_url_required"})
		return
	}

	ctx := context.WithoutCancel(contextGin.Request.Context())
	value, forwardErr, shared := proxy.inflight.Do(redirectURL, func() (interface{}, error) {
		return proxy.forward(ctx, redirectURL)
	})
	if shared {
		proxy.metrics.Increment(MetricProxyShared)
	}
	if forwardErr != nil {
		proxy.metrics.Increment(MetricProxyFailed)
		proxy.logger.Warn("vendor access request failed",
			zap.String("code", "proxy.vendor_unreachable"),
			zap.Error(forwardErr))
		contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": framebridge.ErrNetworkFailure.Error()})
		return
	}
	reply := value.(vendorReply)
	proxy.metrics.Increment(MetricProxyForwarded)
	contextGin.Data(reply.status, reply.contentType, reply.body)
}

func (proxy *VendorProxy) forward(ctx context.Context, redirectURL string) (vendorReply, error) {
	payload, marshalErr := json.Marshal(map[string]string{"redirect_url": redirectURL})
	if marshalErr != nil {
		return vendorReply{}, fmt.Errorf("proxy.encode: %w", marshalErr)
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, proxy.accessURL, bytes.NewReader(payload))
	if requestErr != nil {
		return vendorReply{}, fmt.Errorf("proxy.request: %w", requestErr)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, doErr := proxy.client.Do(request)
	if doErr != nil {
		return vendorReply{}, fmt.Errorf("proxy.do: %w: %v", framebridge.ErrNetworkFailure, doErr)
	}
	defer response.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxVendorResponseBytes+1))
	if readErr != nil {
		return vendorReply{}, fmt.Errorf("proxy.read: %w: %v", framebridge.ErrNetworkFailure, readErr)
	}
	if len(body) > maxVendorResponseBytes {
		return vendorReply{}, fmt.Errorf("proxy.read: %w: vendor response exceeds %d bytes", framebridge.ErrNetworkFailure, maxVendorResponseBytes)
	}
	contentType := response.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return vendorReply{status: response.StatusCode, contentType: contentType, body: body}, nil
}
