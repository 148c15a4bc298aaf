// Package framebridge authenticates an embedded chat frame against the host
// page's login session. It validates cross-frame messages, supervises the vendor
// login popup, reloads the frame when authentication changes, and ingests the
// login redirect callback into persisted storage.
//
// Browser surfaces are interfaces: Frame, Window, HostWindow, PopupOpener and
// KeyValueStore. Every entry point runs on a single serialized lane, matching the
// host page's one execution thread.
package framebridge

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Defaults applied when Config leaves a timing unset.
const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultCoalesceWindow    = 120 * time.Millisecond
	DefaultBlurThreshold     = 2500 * time.Millisecond
	DefaultFocusDelay        = 300 * time.Millisecond
	DefaultStorageKeyPattern = `(?i)(auth|token)`
)

// Config configures a Bridge.
type Config struct {
	AllowedOrigins []string
	OriginMatch    OriginMatch
	// FrameOrigin is the target origin for messages posted into the frame.
	// Defaults to the first allowed origin in exact mode; required in suffix mode.
	FrameOrigin       string
	PollInterval      time.Duration
	CoalesceWindow    time.Duration
	BlurThreshold     time.Duration
	FocusDelay        time.Duration
	StorageKeyPattern string
	PopupFeatures     WindowFeatures
}

// Host bundles the host-page surfaces the bridge drives.
type Host struct {
	Window   HostWindow
	Frame    Frame
	Popups   PopupOpener
	Tokens   TokenStore
	Notifier Notifier
}

// MetricsRecorder increments counters for bridge events.
type MetricsRecorder interface {
	Increment(event string)
}

type discardMetrics struct{}

func (discardMetrics) Increment(string) {}

// State is the bridge's authentication state.
type State string

// Bridge states. There is no terminal state; the bridge lives as long as the embed.
const (
	StateIdle          State = "idle"
	StateConnected     State = "connected"
	StateLoginPending  State = "login_pending"
	StateAuthenticated State = "authenticated"
)

// Option customizes a Bridge.
type Option func(*Bridge)

// WithClock replaces the system clock.
func WithClock(clock Clock) Option {
	return func(bridge *Bridge) {
		if clock != nil {
			bridge.lane.clock = clock
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(logger *zap.Logger) Option {
	return func(bridge *Bridge) {
		if logger != nil {
			bridge.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(bridge *Bridge) {
		if metrics != nil {
			bridge.metrics = metrics
		}
	}
}

// WithSourceFunc rebuilds the frame source on every reload, typically from
// BuildEmbedURL and the current token.
func WithSourceFunc(sourceFunc SourceFunc) Option {
	return func(bridge *Bridge) {
		bridge.sourceFunc = sourceFunc
	}
}

// Bridge is one cross-frame authentication bridge bound to one embedded frame.
type Bridge struct {
	lane        *lane
	policy      OriginPolicy
	frameOrigin string
	host        Host
	logger      *zap.Logger
	metrics     MetricsRecorder
	sourceFunc  SourceFunc

	ctx    context.Context
	cancel context.CancelFunc

	state         State
	connected     bool
	popups        *popupController
	frameSync     *frameSync
	subscriptions []func()
}

// New validates the configuration, subscribes to host-window events, and returns
// a bridge in the Idle state. Close releases every subscription and timer.
func New(configuration Config, host Host, options ...Option) (*Bridge, error) {
	if host.Frame == nil || host.Popups == nil || host.Tokens == nil {
		return nil, fmt.Errorf("framebridge.new: %w: frame, popups and tokens are required", ErrInvalidConfig)
	}
	policy, policyErr := NewOriginPolicy(configuration.OriginMatch, configuration.AllowedOrigins)
	if policyErr != nil {
		return nil, fmt.Errorf("framebridge.new: %w", policyErr)
	}
	frameOrigin := strings.TrimSpace(configuration.FrameOrigin)
	if frameOrigin == "" {
		if policy.Mode() != OriginMatchExact {
			return nil, fmt.Errorf("framebridge.new: %w: frame origin required with suffix matching", ErrInvalidConfig)
		}
		frameOrigin = policy.Allowed()[0]
	}
	pattern := configuration.StorageKeyPattern
	if pattern == "" {
		pattern = DefaultStorageKeyPattern
	}
	storageKeyFilter, patternErr := regexp.Compile(pattern)
	if patternErr != nil {
		return nil, fmt.Errorf("framebridge.new: %w: storage key pattern: %v", ErrInvalidConfig, patternErr)
	}
	if host.Notifier == nil {
		host.Notifier = discardNotifier{}
	}
	features := configuration.PopupFeatures
	if features.Width <= 0 || features.Height <= 0 {
		features = DefaultWindowFeatures
	}

	ctx, cancel := context.WithCancel(context.Background())
	bridge := &Bridge{
		lane:        &lane{clock: NewSystemClock()},
		policy:      policy,
		frameOrigin: frameOrigin,
		host:        host,
		logger:      zap.NewNop(),
		metrics:     discardMetrics{},
		ctx:         ctx,
		cancel:      cancel,
		state:       StateIdle,
	}
	for _, option := range options {
		option(bridge)
	}

	bridge.popups = &popupController{
		lane:         bridge.lane,
		opener:       host.Popups,
		features:     features,
		pollInterval: durationOrDefault(configuration.PollInterval, DefaultPollInterval),
		logger:       bridge.logger,
		onAbandoned:  bridge.onPopupAbandoned,
	}
	bridge.frameSync = &frameSync{
		lane:             bridge.lane,
		frame:            host.Frame,
		sourceFunc:       bridge.sourceFunc,
		logger:           bridge.logger,
		metrics:          bridge.metrics,
		coalesceWindow:   durationOrDefault(configuration.CoalesceWindow, DefaultCoalesceWindow),
		blurThreshold:    durationOrDefault(configuration.BlurThreshold, DefaultBlurThreshold),
		focusDelay:       durationOrDefault(configuration.FocusDelay, DefaultFocusDelay),
		storageKeyFilter: storageKeyFilter,
	}

	if host.Window != nil {
		bridge.subscribe(HostEventMessage, func(event HostEvent) { bridge.HandleMessage(event.Envelope) })
		bridge.subscribe(HostEventBlur, func(HostEvent) { bridge.lane.run(bridge.frameSync.onBlur) })
		bridge.subscribe(HostEventFocus, func(HostEvent) { bridge.lane.run(bridge.frameSync.onFocus) })
		bridge.subscribe(HostEventStorage, func(event HostEvent) {
			bridge.lane.run(func() { bridge.frameSync.onStorage(event.StorageKey) })
		})
	}
	return bridge, nil
}

func (bridge *Bridge) subscribe(eventType HostEventType, listener func(HostEvent)) {
	remove := bridge.host.Window.AddListener(eventType, listener)
	if remove != nil {
		bridge.subscriptions = append(bridge.subscriptions, remove)
	}
}

// Close tears the bridge down: pending timers are stopped, the popup handle is
// released, a frame left unloaded by a pending reload gets its source back, and
// every listener is removed. Close is idempotent.
func (bridge *Bridge) Close() {
	bridge.lane.mutex.Lock()
	defer bridge.lane.mutex.Unlock()
	if bridge.lane.closed {
		return
	}
	bridge.lane.closed = true
	if current := bridge.popups.current; current != nil {
		bridge.popups.release(current, PopupOutcomeAbandoned)
	}
	bridge.frameSync.teardown()
	for index := len(bridge.subscriptions) - 1; index >= 0; index-- {
		bridge.subscriptions[index]()
	}
	bridge.subscriptions = nil
	bridge.cancel()
	bridge.logger.Debug("bridge closed")
}

// HandleMessage dispatches one inbound cross-frame message.
func (bridge *Bridge) HandleMessage(envelope Envelope) {
	bridge.lane.run(func() { bridge.route(envelope) })
}

// RequestReload asks the frame to pick up new authentication state. Requests
// made while a reload is pending collapse into it.
func (bridge *Bridge) RequestReload() {
	bridge.lane.run(func() { bridge.frameSync.reload("requested") })
}

// State reports the current authentication state.
func (bridge *Bridge) State() State {
	bridge.lane.mutex.Lock()
	defer bridge.lane.mutex.Unlock()
	return bridge.state
}

// Connected reports whether the frame announced itself.
func (bridge *Bridge) Connected() bool {
	bridge.lane.mutex.Lock()
	defer bridge.lane.mutex.Unlock()
	return bridge.connected
}

// ReloadCount reports how many frame reloads actually happened.
func (bridge *Bridge) ReloadCount() int {
	bridge.lane.mutex.Lock()
	defer bridge.lane.mutex.Unlock()
	return bridge.frameSync.reloadCount
}

// PopupOpen reports whether a login popup is being supervised.
func (bridge *Bridge) PopupOpen() bool {
	bridge.lane.mutex.Lock()
	defer bridge.lane.mutex.Unlock()
	return bridge.popups.current != nil
}

func durationOrDefault(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
