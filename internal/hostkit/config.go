package hostkit

import (
	"net/http"
	"time"

	"github.com/tyemirov/chatbridge/pkg/framebridge"
)

// ServerConfig configures the host page's server side of the bridge.
type ServerConfig struct {
	VendorOrigins         []string
	OriginMatch           framebridge.OriginMatch
	FrameOrigin           string
	Embed                 framebridge.EmbedConfig
	VendorAccessURL       string
	ProxyTimeout          time.Duration
	CallbackRedirectPath  string
	CallbackRedirectDelay time.Duration
	CookieDomain          string
	ProfileCookieName     string
	ProfileTTL            time.Duration
	SameSiteMode          http.SameSite
	AllowInsecureHTTP     bool
	Timings               BridgeTimings
}

// BridgeTimings are handed to the host page's bridge runtime.
type BridgeTimings struct {
	PollInterval   time.Duration
	CoalesceWindow time.Duration
	BlurThreshold  time.Duration
	FocusDelay     time.Duration
}

// DefaultBridgeTimings mirrors the framebridge defaults.
func DefaultBridgeTimings() BridgeTimings {
	return BridgeTimings{
		PollInterval:   framebridge.DefaultPollInterval,
		CoalesceWindow: framebridge.DefaultCoalesceWindow,
		BlurThreshold:  framebridge.DefaultBlurThreshold,
		FocusDelay:     framebridge.DefaultFocusDelay,
	}
}
