package framebridge

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultProjectID is the vendor project selected when none is configured.
const DefaultProjectID = "combined_c1_all"

// EmbedConfig describes the embedded frame's source URL.
type EmbedConfig struct {
	BaseURL         string
	ProjectID       string
	ShowLoginButton bool
	// ParentOrigin and ParentURL let the embedded frame run its own origin checks.
	ParentOrigin string
	ParentURL    string
}

// BuildEmbedURL returns the frame source for configuration, carrying token when non-empty.
func BuildEmbedURL(configuration EmbedConfig, token string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(configuration.BaseURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return "", fmt.Errorf("framebridge.embed_url: %w: base url %q", ErrInvalidConfig, configuration.BaseURL)
	}
	projectID := strings.TrimSpace(configuration.ProjectID)
	if projectID == "" {
		projectID = DefaultProjectID
	}
	query := parsed.Query()
	query.Set("selected_project", projectID)
	query.Set("show_login_button", strconv.FormatBool(configuration.ShowLoginButton))
	if configuration.ParentOrigin != "" {
		query.Set("parent_origin", configuration.ParentOrigin)
	}
	if configuration.ParentURL != "" {
		query.Set("parent_url", configuration.ParentURL)
	}
	if strings.TrimSpace(token) != "" {
		query.Set("token", token)
	} else {
		query.Del("token")
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// TokenSourceFunc rebuilds the embed URL from the token currently in tokens.
// Read failures fall back to an unauthenticated URL.
func TokenSourceFunc(configuration EmbedConfig, tokens TokenStore) SourceFunc {
	return func() string {
		session, getErr := tokens.Get(context.Background())
		if getErr != nil {
			session = StoredSession{}
		}
		source, buildErr := BuildEmbedURL(configuration, session.Token)
		if buildErr != nil {
			return ""
		}
		return source
	}
}
