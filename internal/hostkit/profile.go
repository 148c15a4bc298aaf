package hostkit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// DefaultProfileCookieName names the cookie that scopes bridge storage to a browser.
	DefaultProfileCookieName = "bridge_profile"
	// DefaultProfileTTL keeps a browser profile for a year of inactivity.
	DefaultProfileTTL = 365 * 24 * time.Hour

	profileContextKey = "bridge_profile_id"
)

// RequireProfile resolves the browser profile cookie, minting a fresh one when it is absent or malformed.
func RequireProfile(configuration ServerConfig) gin.HandlerFunc {
	cookieName := configuration.ProfileCookieName
	if cookieName == "" {
		cookieName = DefaultProfileCookieName
	}
	return func(contextGin *gin.Context) {
		profileID := ""
		if profileCookie, cookieErr := contextGin.Request.Cookie(cookieName); cookieErr == nil && profileCookie != nil {
			if parsed, parseErr := uuid.Parse(profileCookie.Value); parseErr == nil {
				profileID = parsed.String()
			}
		}
		if profileID == "" {
			profileID = uuid.NewString()
		}
		writeProfileCookie(contextGin, configuration, cookieName, profileID)
		contextGin.Set(profileContextKey, profileID)
		contextGin.Next()
	}
}

// ProfileID returns the profile resolved by RequireProfile, or "" outside of it.
func ProfileID(contextGin *gin.Context) string {
	value, ok := contextGin.Get(profileContextKey)
	if !ok {
		return ""
	}
	profileID, _ := value.(string)
	return profileID
}

func writeProfileCookie(contextGin *gin.Context, configuration ServerConfig, cookieName string, profileID string) {
	ttl := configuration.ProfileTTL
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	sameSite := configuration.SameSiteMode
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	http.SetCookie(contextGin.Writer, &http.Cookie{
		Name:     cookieName,
		Value:    profileID,
		Path:     "/",
		Domain:   configuration.CookieDomain,
		Expires:  time.Now().UTC().Add(ttl),
		Secure:   !configuration.AllowInsecureHTTP || isHTTPS(contextGin.Request),
		HttpOnly: true,
		SameSite: sameSite,
	})
}

func isHTTPS(request *http.Request) bool {
	if request.TLS != nil {
		return true
	}
	scheme := request.Header.Get("X-Forwarded-Proto")
	if strings.EqualFold(scheme, "https") {
		return true
	}
	forwarded := request.Header.Get("Forwarded")
	if forwarded != "" && strings.Contains(strings.ToLower(forwarded), "proto=https") {
		return true
	}
	host, _, splitErr := net.SplitHostPort(request.Host)
	if splitErr == nil && host == "localhost" {
		return true
	}
	return false
}
