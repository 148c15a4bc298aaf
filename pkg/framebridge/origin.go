package framebridge

import (
	"fmt"
	"net/url"
	"strings"
)

// OriginMatch selects how a sender origin is compared with the allow-list.
type OriginMatch string

const (
	// OriginMatchExact requires scheme and host to equal an allowed origin.
	OriginMatchExact OriginMatch = "exact"
	// OriginMatchSuffix accepts any https origin whose host equals or ends with an allowed domain.
	OriginMatchSuffix OriginMatch = "suffix"
)

// OriginPolicy decides which sender origins may reach message handlers.
type OriginPolicy struct {
	mode    OriginMatch
	allowed []string
}

// NewOriginPolicy validates and normalizes the allow-list. In exact mode entries
// are origins ("https://chat.example.com"); in suffix mode entries are domains
// ("example.com") or origins whose host is used as the domain.
func NewOriginPolicy(mode OriginMatch, allowed []string) (OriginPolicy, error) {
	if mode == "" {
		mode = OriginMatchExact
	}
	if mode != OriginMatchExact && mode != OriginMatchSuffix {
		return OriginPolicy{}, fmt.Errorf("%w: unknown origin match %q", ErrInvalidConfig, mode)
	}
	normalized := make([]string, 0, len(allowed))
	for _, entry := range allowed {
		trimmed := strings.ToLower(strings.TrimSpace(entry))
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			return OriginPolicy{}, fmt.Errorf("%w: wildcard origin not allowed", ErrInvalidConfig)
		}
		switch mode {
		case OriginMatchExact:
			origin, err := normalizeOrigin(trimmed)
			if err != nil {
				return OriginPolicy{}, err
			}
			normalized = append(normalized, origin)
		case OriginMatchSuffix:
			domain := trimmed
			if strings.Contains(trimmed, "://") {
				parsed, err := url.Parse(trimmed)
				if err != nil || parsed.Hostname() == "" {
					return OriginPolicy{}, fmt.Errorf("%w: invalid origin %q", ErrInvalidConfig, entry)
				}
				domain = parsed.Hostname()
			}
			normalized = append(normalized, strings.TrimPrefix(domain, "."))
		}
	}
	if len(normalized) == 0 {
		return OriginPolicy{}, fmt.Errorf("%w: no allowed origins", ErrInvalidConfig)
	}
	return OriginPolicy{mode: mode, allowed: normalized}, nil
}

// Mode reports the configured match mode.
func (policy OriginPolicy) Mode() OriginMatch {
	return policy.mode
}

// Allowed returns a copy of the normalized allow-list.
func (policy OriginPolicy) Allowed() []string {
	return append([]string(nil), policy.allowed...)
}

// Allows reports whether messages from origin may be dispatched.
func (policy OriginPolicy) Allows(origin string) bool {
	normalized, err := normalizeOrigin(strings.ToLower(strings.TrimSpace(origin)))
	if err != nil {
		return false
	}
	switch policy.mode {
	case OriginMatchExact:
		for _, allowed := range policy.allowed {
			if normalized == allowed {
				return true
			}
		}
	case OriginMatchSuffix:
		parsed, parseErr := url.Parse(normalized)
		if parseErr != nil || parsed.Scheme != "https" {
			return false
		}
		host := parsed.Hostname()
		for _, domain := range policy.allowed {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
		}
	}
	return false
}

func normalizeOrigin(origin string) (string, error) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: invalid origin %q", ErrInvalidConfig, origin)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return "", fmt.Errorf("%w: origin %q contains a path", ErrInvalidConfig, origin)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return "", fmt.Errorf("%w: origin %q uses unsupported scheme", ErrInvalidConfig, origin)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}
