package framebridge

import (
	"regexp"
	"time"

	"go.uber.org/zap"
)

// Frame is the embedded document. Setting an empty source unloads it.
type Frame interface {
	Window
	Source() string
	SetSource(source string)
}

// HostEventType names a host-window event the bridge subscribes to.
type HostEventType string

// Host-window events.
const (
	HostEventMessage HostEventType = "message"
	HostEventBlur    HostEventType = "blur"
	HostEventFocus   HostEventType = "focus"
	HostEventStorage HostEventType = "storage"
)

// HostEvent is delivered to listeners. Envelope is set for message events and
// StorageKey for storage events.
type HostEvent struct {
	Type       HostEventType
	Envelope   Envelope
	StorageKey string
}

// HostWindow lets the bridge subscribe to host-window events. The returned
// function removes the listener.
type HostWindow interface {
	AddListener(eventType HostEventType, listener func(HostEvent)) (remove func())
}

// SourceFunc computes the frame source to restore after a reload.
type SourceFunc func() string

// frameSync owns the reload debounce and the focus/storage heuristics.
// Every method runs on the lane.
type frameSync struct {
	lane             *lane
	frame            Frame
	sourceFunc       SourceFunc
	logger           *zap.Logger
	metrics          MetricsRecorder
	coalesceWindow   time.Duration
	blurThreshold    time.Duration
	focusDelay       time.Duration
	storageKeyFilter *regexp.Regexp

	pendingReload bool
	savedSource   string
	lastBlurAt    time.Time
	debounceTimer Timer
	focusTimer    Timer
	reloadCount   int
}

// reload unloads the frame now and restores its source once the coalescing
// window elapses. Calls while a reload is pending collapse into it.
func (scheduler *frameSync) reload(reason string) {
	if scheduler.pendingReload {
		scheduler.metrics.Increment("framesync.reload_coalesced")
		return
	}
	scheduler.pendingReload = true
	scheduler.savedSource = scheduler.frame.Source()
	scheduler.frame.SetSource("")
	scheduler.logger.Debug("frame reload scheduled", zap.String("reason", reason))
	scheduler.debounceTimer = scheduler.lane.after(scheduler.coalesceWindow, scheduler.restore)
}

func (scheduler *frameSync) restore() {
	if !scheduler.pendingReload {
		return
	}
	source := scheduler.savedSource
	if scheduler.sourceFunc != nil {
		if rebuilt := scheduler.sourceFunc(); rebuilt != "" {
			source = rebuilt
		}
	}
	scheduler.pendingReload = false
	scheduler.savedSource = ""
	scheduler.debounceTimer = nil
	scheduler.frame.SetSource(source)
	scheduler.reloadCount++
	scheduler.metrics.Increment("framesync.reload")
}

func (scheduler *frameSync) onBlur() {
	scheduler.lastBlurAt = scheduler.lane.now()
}

func (scheduler *frameSync) onFocus() {
	if scheduler.lastBlurAt.IsZero() {
		return
	}
	away := scheduler.lane.now().Sub(scheduler.lastBlurAt)
	scheduler.lastBlurAt = time.Time{}
	if away <= scheduler.blurThreshold {
		return
	}
	scheduler.logger.Debug("focus regained after absence", zap.Duration("away", away))
	stopTimer(scheduler.focusTimer)
	scheduler.focusTimer = scheduler.lane.after(scheduler.focusDelay, func() {
		scheduler.focusTimer = nil
		scheduler.reload("focus")
	})
}

func (scheduler *frameSync) onStorage(key string) {
	if scheduler.storageKeyFilter == nil || !scheduler.storageKeyFilter.MatchString(key) {
		return
	}
	scheduler.reload("storage")
}

// teardown restores a frame left unloaded by a pending reload.
func (scheduler *frameSync) teardown() {
	stopTimer(scheduler.debounceTimer)
	stopTimer(scheduler.focusTimer)
	scheduler.debounceTimer = nil
	scheduler.focusTimer = nil
	if scheduler.pendingReload {
		scheduler.pendingReload = false
		scheduler.frame.SetSource(scheduler.savedSource)
	}
	scheduler.lastBlurAt = time.Time{}
}
