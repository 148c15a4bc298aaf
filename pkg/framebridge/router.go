package framebridge

import (
	"errors"

	"go.uber.org/zap"
)

// route runs on the lane. Untrusted origins and undecodable data are dropped
// without side effects.
func (bridge *Bridge) route(envelope Envelope) {
	if !bridge.policy.Allows(envelope.Origin) {
		bridge.metrics.Increment("router.origin_rejected")
		bridge.logger.Debug("message origin rejected", zap.String("origin", envelope.Origin))
		return
	}
	message, decodeErr := DecodeMessage(envelope.Data)
	if decodeErr != nil {
		bridge.metrics.Increment("router.message_invalid")
		bridge.logger.Debug("message not decodable",
			zap.String("origin", envelope.Origin),
			zap.Error(decodeErr))
		return
	}

	switch typed := message.(type) {
	case FrameReady:
		bridge.connected = true
		if bridge.state == StateIdle {
			bridge.transition(StateConnected, "frame-ready")
		}
	case AuthRequest:
		bridge.replyAuthState(envelope)
	case LoginRequest:
		bridge.startLogin(typed)
	case AuthSuccess:
		bridge.completeLogin(typed)
	case AuthErrorMessage:
		bridge.failLogin(typed)
	case Unrecognized:
		token := findToken(typed.Payload)
		if token == "" {
			bridge.metrics.Increment("router.message_unrecognized")
			bridge.logger.Debug("message kind not recognized", zap.String("kind", string(typed.Type)))
			return
		}
		bridge.metrics.Increment("router.implicit_success")
		bridge.transition(StateAuthenticated, "implicit-token")
		bridge.frameSync.reload("implicit-token")
	}
}

func (bridge *Bridge) replyAuthState(envelope Envelope) {
	if envelope.Source == nil {
		bridge.logger.Debug("auth-request without source window")
		return
	}
	session, getErr := bridge.host.Tokens.Get(bridge.ctx)
	if getErr != nil {
		bridge.logger.Warn("token store read failed",
			zap.String("code", "framebridge.token_store_read"),
			zap.Error(getErr))
		session = StoredSession{}
	}
	reply, encodeErr := EncodeAuthResponse(session)
	if encodeErr != nil {
		bridge.logger.Error("auth-response encode failed", zap.Error(encodeErr))
		return
	}
	if postErr := envelope.Source.PostMessage(reply, envelope.Origin); postErr != nil {
		bridge.logger.Warn("auth-response post failed",
			zap.String("code", "framebridge.post_failed"),
			zap.Error(postErr))
		return
	}
	bridge.metrics.Increment("router.auth_response")
}

func (bridge *Bridge) startLogin(request LoginRequest) {
	_, openErr := bridge.popups.open(request.LoginURL)
	switch {
	case openErr == nil:
		bridge.metrics.Increment("popup.opened")
		bridge.transition(StateLoginPending, "login-request")
	case errors.Is(openErr, ErrPopupBlocked):
		bridge.metrics.Increment("popup.blocked")
		bridge.host.Notifier.Notify(openErr)
	default:
		bridge.metrics.Increment("router.login_request_invalid")
		bridge.logger.Debug("login-request ignored", zap.Error(openErr))
	}
}

func (bridge *Bridge) completeLogin(success AuthSuccess) {
	bridge.popups.closeCurrent(PopupOutcomeAuthenticated)
	if postErr := bridge.host.Frame.PostMessage(success.Raw, bridge.frameOrigin); postErr != nil {
		bridge.logger.Warn("auth-success forward failed",
			zap.String("code", "framebridge.post_failed"),
			zap.Error(postErr))
	}
	bridge.metrics.Increment("router.auth_success")
	bridge.transition(StateAuthenticated, string(success.Type))
	bridge.frameSync.reload("auth-success")
}

func (bridge *Bridge) failLogin(failure AuthErrorMessage) {
	bridge.popups.closeCurrent(PopupOutcomeFailed)
	bridge.metrics.Increment("router.auth_error")
	if bridge.state == StateLoginPending {
		bridge.transition(StateConnected, "auth-error")
	}
	bridge.host.Notifier.Notify(&AuthError{Message: failure.Message})
}

func (bridge *Bridge) onPopupAbandoned(*PopupSession) {
	bridge.metrics.Increment("popup.abandoned")
	if bridge.state == StateLoginPending {
		bridge.transition(StateConnected, "popup-abandoned")
	}
}

func (bridge *Bridge) transition(next State, reason string) {
	if bridge.state == next {
		return
	}
	bridge.logger.Debug("bridge state changed",
		zap.String("from", string(bridge.state)),
		zap.String("to", string(next)),
		zap.String("reason", reason))
	bridge.state = next
}
