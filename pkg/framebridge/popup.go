package framebridge

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Popup is a handle to a window opened by the host.
type Popup interface {
	Closed() bool
	Close()
}

// PopupOpener opens top-level windows. A nil Popup means the browser blocked the window.
type PopupOpener interface {
	Open(targetURL string, features WindowFeatures) Popup
}

// WindowFeatures sizes a login window.
type WindowFeatures struct {
	Width        int
	Height       int
	ScreenWidth  int
	ScreenHeight int
}

// String renders the feature list accepted by window.open.
func (features WindowFeatures) String() string {
	parts := []string{
		fmt.Sprintf("width=%d", features.Width),
		fmt.Sprintf("height=%d", features.Height),
	}
	if features.ScreenWidth > features.Width && features.ScreenHeight > features.Height {
		parts = append(parts,
			fmt.Sprintf("left=%d", (features.ScreenWidth-features.Width)/2),
			fmt.Sprintf("top=%d", (features.ScreenHeight-features.Height)/2))
	}
	parts = append(parts, "menubar=no", "toolbar=no", "location=yes", "status=no", "resizable=yes", "scrollbars=yes")
	return strings.Join(parts, ",")
}

// DefaultWindowFeatures is the login window size used when none is configured.
var DefaultWindowFeatures = WindowFeatures{Width: 500, Height: 700}

// PopupOutcome is how a popup session ended.
type PopupOutcome string

const (
	PopupOutcomeOpen          PopupOutcome = ""
	PopupOutcomeAuthenticated PopupOutcome = "authenticated"
	PopupOutcomeFailed        PopupOutcome = "failed"
	PopupOutcomeAbandoned     PopupOutcome = "abandoned"
)

// PopupSession is a supervised login window.
type PopupSession struct {
	handle    Popup
	loginURL  string
	openedAt  time.Time
	closed    bool
	outcome   PopupOutcome
	pollTimer Timer
}

// OpenedAt reports when the window was opened.
func (session *PopupSession) OpenedAt() time.Time {
	return session.openedAt
}

// Outcome reports how the session ended; empty while open.
func (session *PopupSession) Outcome() PopupOutcome {
	return session.outcome
}

// Closed reports whether the session was released.
func (session *PopupSession) Closed() bool {
	return session.closed
}

type popupController struct {
	lane         *lane
	opener       PopupOpener
	features     WindowFeatures
	pollInterval time.Duration
	logger       *zap.Logger
	current      *PopupSession
	onAbandoned  func(*PopupSession)
}

// open must run on the lane.
func (controller *popupController) open(loginURL string) (*PopupSession, error) {
	if err := validateLoginURL(loginURL); err != nil {
		return nil, err
	}
	handle := controller.opener.Open(loginURL, controller.features)
	if handle == nil {
		controller.logger.Warn("login popup blocked",
			zap.String("code", "framebridge.popup_blocked"))
		return nil, ErrPopupBlocked
	}
	// A blocked retry leaves the current session supervised.
	controller.close(controller.current, PopupOutcomeAbandoned)
	session := &PopupSession{
		handle:   handle,
		loginURL: loginURL,
		openedAt: controller.lane.now(),
	}
	controller.current = session
	controller.schedulePoll(session)
	controller.logger.Debug("login popup opened", zap.String("login_url", loginURL))
	return session, nil
}

func (controller *popupController) schedulePoll(session *PopupSession) {
	session.pollTimer = controller.lane.after(controller.pollInterval, func() {
		controller.poll(session)
	})
}

func (controller *popupController) poll(session *PopupSession) {
	if session.closed || controller.current != session {
		return
	}
	if !session.handle.Closed() {
		controller.schedulePoll(session)
		return
	}
	controller.release(session, PopupOutcomeAbandoned)
	controller.logger.Debug("login popup closed without success",
		zap.Duration("open_for", controller.lane.now().Sub(session.openedAt)))
	if controller.onAbandoned != nil {
		controller.onAbandoned(session)
	}
}

// close is idempotent and accepts a nil session.
func (controller *popupController) close(session *PopupSession, outcome PopupOutcome) {
	if session == nil || session.closed {
		return
	}
	if !session.handle.Closed() {
		session.handle.Close()
	}
	controller.release(session, outcome)
}

func (controller *popupController) closeCurrent(outcome PopupOutcome) {
	controller.close(controller.current, outcome)
}

func (controller *popupController) release(session *PopupSession, outcome PopupOutcome) {
	stopTimer(session.pollTimer)
	session.pollTimer = nil
	session.closed = true
	session.outcome = outcome
	session.handle = nil
	if controller.current == session {
		controller.current = nil
	}
}

func validateLoginURL(loginURL string) error {
	parsed, err := url.Parse(strings.TrimSpace(loginURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return fmt.Errorf("%w: login url %q", ErrInvalidLoginURL, loginURL)
	}
	return nil
}
