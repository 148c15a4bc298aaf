package framebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Token aliases in priority order. The order is part of the contract.
var tokenAliases = []string{"id_token", "access_token", "token"}

const (
	uidAlias          = "uid"
	refreshTokenAlias = "refresh_token"
	emailAlias        = "email"
	nameAlias         = "name"
)

const (
	// TokenFormatJWT marks a three-segment token.
	TokenFormatJWT = "jwt"
	// TokenFormatOpaque marks any other token.
	TokenFormatOpaque = "opaque"

	defaultRedirectPath  = "/"
	defaultRedirectDelay = 2 * time.Second
)

// TokenClaims are the identity claims optionally carried by a structured token.
// Claims of an unexpected type are left empty rather than failing the decode.
type TokenClaims struct {
	Subject   string
	Email     string
	Name      string
	ExpiresAt time.Time
	Raw       jwt.MapClaims
}

// Expiry returns the exp claim or the zero time.
func (claims *TokenClaims) Expiry() time.Time {
	if claims == nil {
		return time.Time{}
	}
	return claims.ExpiresAt
}

// CallbackResult describes a successful callback ingestion.
type CallbackResult struct {
	Session            StoredSession
	Claims             *TokenClaims
	TokenFormat        string
	ClaimsDecodeFailed bool
	DecodeErr          error
	RedirectTo         string
	RedirectDelay      time.Duration
}

// CallbackIngestor extracts a bearer token from a login redirect URL and persists it.
type CallbackIngestor struct {
	tokens        TokenStore
	logger        *zap.Logger
	redirectPath  string
	redirectDelay time.Duration
	parser        *jwt.Parser
}

// CallbackOption customizes a CallbackIngestor.
type CallbackOption func(*CallbackIngestor)

// WithCallbackLogger sets the ingestor logger.
func WithCallbackLogger(logger *zap.Logger) CallbackOption {
	return func(ingestor *CallbackIngestor) {
		if logger != nil {
			ingestor.logger = logger
		}
	}
}

// WithRedirect overrides where and when the host navigates after a successful ingest.
func WithRedirect(path string, delay time.Duration) CallbackOption {
	return func(ingestor *CallbackIngestor) {
		if strings.TrimSpace(path) != "" {
			ingestor.redirectPath = path
		}
		if delay >= 0 {
			ingestor.redirectDelay = delay
		}
	}
}

// NewCallbackIngestor constructs an ingestor writing to tokens.
func NewCallbackIngestor(tokens TokenStore, options ...CallbackOption) *CallbackIngestor {
	ingestor := &CallbackIngestor{
		tokens:        tokens,
		logger:        zap.NewNop(),
		redirectPath:  defaultRedirectPath,
		redirectDelay: defaultRedirectDelay,
		parser:        jwt.NewParser(jwt.WithPaddingAllowed()),
	}
	for _, option := range options {
		option(ingestor)
	}
	return ingestor
}

// Ingest parses redirectURL, stores the recovered session, and reports where to navigate next.
// It fails with ErrMissingToken when no alias yields a token; nothing is written in that case.
func (ingestor *CallbackIngestor) Ingest(ctx context.Context, redirectURL string) (CallbackResult, error) {
	parsed, parseErr := url.Parse(strings.TrimSpace(redirectURL))
	if parseErr != nil {
		return CallbackResult{}, fmt.Errorf("callback.ingest: %w: %v", ErrInvalidCallbackURL, parseErr)
	}
	query := parsed.Query()
	fragment := parseFragment(parsed)

	token := firstValue(query, fragment, tokenAliases...)
	if token == "" {
		ingestor.logger.Warn("callback without token",
			zap.String("code", "callback.missing_token"),
			zap.Strings("query_keys", valueKeys(query)),
			zap.Strings("fragment_keys", valueKeys(fragment)))
		return CallbackResult{}, fmt.Errorf("callback.ingest: %w", ErrMissingToken)
	}

	result := CallbackResult{
		TokenFormat:   TokenFormatOpaque,
		RedirectTo:    ingestor.redirectPath,
		RedirectDelay: ingestor.redirectDelay,
	}
	if segments := strings.Split(token, "."); len(segments) == 3 {
		result.TokenFormat = TokenFormatJWT
		claims, decodeErr := ingestor.decodeClaims(segments[1])
		if decodeErr != nil {
			result.ClaimsDecodeFailed = true
			result.DecodeErr = decodeErr
			ingestor.logger.Info("token claims not decodable",
				zap.String("code", "callback.malformed_token"),
				zap.Error(decodeErr))
		} else {
			result.Claims = claims
		}
	}

	session := StoredSession{
		Token:        token,
		UID:          firstValue(query, fragment, uidAlias),
		RefreshToken: firstValue(query, fragment, refreshTokenAlias),
		Email:        firstValue(query, fragment, emailAlias),
		Name:         firstValue(query, fragment, nameAlias),
	}
	if result.Claims != nil {
		if session.UID == "" {
			session.UID = result.Claims.Subject
		}
		if session.Email == "" {
			session.Email = result.Claims.Email
		}
		if session.Name == "" {
			session.Name = result.Claims.Name
		}
	}

	if err := ingestor.tokens.Set(ctx, session); err != nil {
		return CallbackResult{}, fmt.Errorf("callback.ingest.store: %w", err)
	}
	result.Session = session
	ingestor.logger.Info("callback token stored",
		zap.String("token_format", result.TokenFormat),
		zap.Bool("has_uid", session.UID != ""),
		zap.Bool("has_email", session.Email != ""))
	return result, nil
}

func (ingestor *CallbackIngestor) decodeClaims(segment string) (*TokenClaims, error) {
	payload, decodeErr := ingestor.parser.DecodeSegment(segment)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, decodeErr)
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var raw jwt.MapClaims
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: claims are not an object", ErrMalformedToken)
	}
	claims := &TokenClaims{
		Subject: claimString(raw["sub"]),
		Email:   claimString(raw["email"]),
		Name:    claimString(raw["name"]),
		Raw:     raw,
	}
	if expiresAt, expErr := raw.GetExpirationTime(); expErr == nil && expiresAt != nil {
		claims.ExpiresAt = expiresAt.Time
	}
	return claims, nil
}

// claimString renders string and numeric claims; other types yield "".
func claimString(value interface{}) string {
	switch typed := value.(type) {
	case string:
		return typed
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

// parseFragment reads "#k=v&..." as well as hash-routed "#/path?k=v".
func parseFragment(parsed *url.URL) url.Values {
	raw := parsed.EscapedFragment()
	if raw == "" {
		return url.Values{}
	}
	if index := strings.Index(raw, "?"); index >= 0 {
		raw = raw[index+1:]
	}
	// ParseQuery keeps every well-formed pair even when it reports an error.
	values, _ := url.ParseQuery(raw)
	return values
}

// firstValue searches every alias in the query before any alias in the fragment.
func firstValue(query url.Values, fragment url.Values, aliases ...string) string {
	for _, source := range []url.Values{query, fragment} {
		for _, alias := range aliases {
			for _, candidate := range source[alias] {
				if strings.TrimSpace(candidate) != "" {
					return candidate
				}
			}
		}
	}
	return ""
}

func valueKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	return keys
}
