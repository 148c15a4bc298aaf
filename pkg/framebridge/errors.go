package framebridge

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the bridge and the callback ingestor.
var (
	ErrPopupBlocked       = errors.New("framebridge.popup_blocked")
	ErrMissingToken       = errors.New("callback.missing_token")
	ErrMalformedToken     = errors.New("callback.malformed_token")
	ErrInvalidCallbackURL = errors.New("callback.invalid_url")
	ErrNetworkFailure     = errors.New("framebridge.network_failure")
	ErrInvalidLoginURL    = errors.New("framebridge.invalid_login_url")
	ErrInvalidConfig      = errors.New("framebridge.invalid_config")
	ErrBridgeClosed       = errors.New("framebridge.closed")
)

// AuthError is a vendor-reported authentication failure relayed by the embedded frame.
type AuthError struct {
	Message string
}

func (authError *AuthError) Error() string {
	if authError.Message == "" {
		return "framebridge.auth_error"
	}
	return fmt.Sprintf("framebridge.auth_error: %s", authError.Message)
}

// Notifier receives failures of user-initiated flows so the host UI can present them.
// Notify runs on the bridge lane and must not call back into the Bridge.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(err error)

// Notify calls the wrapped function.
func (notify NotifierFunc) Notify(err error) {
	notify(err)
}

type discardNotifier struct{}

func (discardNotifier) Notify(error) {}
