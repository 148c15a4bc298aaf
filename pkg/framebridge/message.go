package framebridge

import (
	"encoding/json"
	"errors"
	"strings"
)

// Kind identifies a cross-frame message.
type Kind string

// Message kinds exchanged with the embedded frame.
const (
	KindFrameReady   Kind = "frame-ready"
	KindAuthRequest  Kind = "auth-request"
	KindAuthResponse Kind = "auth-response"
	KindLoginRequest Kind = "login-request"
	KindAuthSuccess  Kind = "auth-success"
	KindAuthError    Kind = "auth-error"
)

// successKinds are the accepted synonyms of auth-success.
var successKinds = map[Kind]struct{}{
	KindAuthSuccess:   {},
	"login-success":   {},
	"auth-complete":   {},
	"c1-auth-success": {},
	"authenticated":   {},
}

// tokenPaths are the payload locations inspected for an implicit success.
var tokenPaths = [][]string{
	{"token"},
	{"accessToken"},
	{"access_token"},
	{"id_token"},
	{"data", "token"},
	{"payload", "token"},
	{"detail", "token"},
}

var errNotAnObject = errors.New("framebridge.message.not_an_object")

// Window is a browsing context that accepts posted messages.
type Window interface {
	PostMessage(data []byte, targetOrigin string) error
}

// Envelope is a message as delivered by the host runtime.
type Envelope struct {
	Origin string
	Source Window
	Data   []byte
}

// Message is the decoded form of an envelope's data. The concrete type is one of
// FrameReady, AuthRequest, LoginRequest, AuthSuccess, AuthErrorMessage, or Unrecognized.
type Message interface {
	Kind() Kind
	sealed()
}

// FrameReady announces that the embedded frame finished loading.
type FrameReady struct{}

// AuthRequest asks the host for the current authentication state.
type AuthRequest struct{}

// LoginRequest asks the host to open the vendor login window.
type LoginRequest struct {
	LoginURL string
}

// AuthSuccess reports a completed login; Raw is forwarded back into the frame verbatim.
type AuthSuccess struct {
	Type  Kind
	Token string
	Raw   []byte
}

// AuthErrorMessage reports a vendor-side login failure.
type AuthErrorMessage struct {
	Message string
}

// Unrecognized carries any other message with its raw payload.
type Unrecognized struct {
	Type    Kind
	Payload map[string]any
}

func (FrameReady) Kind() Kind           { return KindFrameReady }
func (AuthRequest) Kind() Kind          { return KindAuthRequest }
func (LoginRequest) Kind() Kind         { return KindLoginRequest }
func (message AuthSuccess) Kind() Kind  { return message.Type }
func (AuthErrorMessage) Kind() Kind     { return KindAuthError }
func (message Unrecognized) Kind() Kind { return message.Type }

func (FrameReady) sealed()       {}
func (AuthRequest) sealed()      {}
func (LoginRequest) sealed()     {}
func (AuthSuccess) sealed()      {}
func (AuthErrorMessage) sealed() {}
func (Unrecognized) sealed()     {}

// DecodeMessage parses a flat JSON object keyed by "type" (or "kind").
func DecodeMessage(data []byte) (Message, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errNotAnObject
	}
	kind := Kind(stringField(payload, "type"))
	if kind == "" {
		kind = Kind(stringField(payload, "kind"))
	}

	switch kind {
	case KindFrameReady:
		return FrameReady{}, nil
	case KindAuthRequest:
		return AuthRequest{}, nil
	case KindLoginRequest:
		loginURL := stringField(payload, "loginUrl")
		if loginURL == "" {
			loginURL = stringField(payload, "url")
		}
		return LoginRequest{LoginURL: loginURL}, nil
	case KindAuthError:
		message := stringField(payload, "message")
		if message == "" {
			message = stringField(payload, "error")
		}
		return AuthErrorMessage{Message: message}, nil
	}
	if _, ok := successKinds[kind]; ok {
		raw := make([]byte, len(data))
		copy(raw, data)
		return AuthSuccess{Type: kind, Token: findToken(payload), Raw: raw}, nil
	}
	return Unrecognized{Type: kind, Payload: payload}, nil
}

// EncodeAuthResponse renders the reply to an auth-request.
func EncodeAuthResponse(session StoredSession) ([]byte, error) {
	return json.Marshal(struct {
		Type            Kind   `json:"type"`
		IsAuthenticated bool   `json:"isAuthenticated"`
		Token           string `json:"token"`
	}{
		Type:            KindAuthResponse,
		IsAuthenticated: session.IsAuthenticated(),
		Token:           session.Token,
	})
}

// findToken returns the first token-shaped string found at a known payload path.
func findToken(payload map[string]any) string {
	for _, path := range tokenPaths {
		var current any = payload
		for _, segment := range path {
			object, ok := current.(map[string]any)
			if !ok {
				current = nil
				break
			}
			current = object[segment]
		}
		if candidate, ok := current.(string); ok && isTokenShaped(candidate) {
			return candidate
		}
	}
	return ""
}

func isTokenShaped(candidate string) bool {
	if len(candidate) < 8 {
		return false
	}
	return !strings.ContainsAny(candidate, " \t\r\n")
}

func stringField(payload map[string]any, key string) string {
	value, _ := payload[key].(string)
	return strings.TrimSpace(value)
}
