package framebridge

import (
	"sync"
	"time"
)

type manualClock struct {
	mutex    sync.Mutex
	current  time.Time
	timers   []*manualTimer
	sequence int
}

type manualTimer struct {
	clock    *manualClock
	due      time.Time
	sequence int
	callback func()
	stopped  bool
	fired    bool
}

func newManualClock() *manualClock {
	return &manualClock{current: time.Unix(1700000000, 0).UTC()}
}

func (clock *manualClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *manualClock) AfterFunc(delay time.Duration, callback func()) Timer {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.sequence++
	timer := &manualTimer{
		clock:    clock,
		due:      clock.current.Add(delay),
		sequence: clock.sequence,
		callback: callback,
	}
	clock.timers = append(clock.timers, timer)
	return timer
}

func (timer *manualTimer) Stop() bool {
	timer.clock.mutex.Lock()
	defer timer.clock.mutex.Unlock()
	if timer.stopped || timer.fired {
		return false
	}
	timer.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order outside the clock lock.
func (clock *manualClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	target := clock.current.Add(duration)
	clock.mutex.Unlock()
	for {
		clock.mutex.Lock()
		var next *manualTimer
		for _, timer := range clock.timers {
			if timer.stopped || timer.fired || timer.due.After(target) {
				continue
			}
			if next == nil || timer.due.Before(next.due) || (timer.due.Equal(next.due) && timer.sequence < next.sequence) {
				next = timer
			}
		}
		if next == nil {
			clock.current = target
			clock.mutex.Unlock()
			return
		}
		next.fired = true
		clock.current = next.due
		clock.mutex.Unlock()
		next.callback()
	}
}

func (clock *manualClock) pending() int {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	count := 0
	for _, timer := range clock.timers {
		if !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}

type postedMessage struct {
	data         string
	targetOrigin string
}

type recordingWindow struct {
	mutex  sync.Mutex
	posted []postedMessage
}

func (window *recordingWindow) PostMessage(data []byte, targetOrigin string) error {
	window.mutex.Lock()
	defer window.mutex.Unlock()
	window.posted = append(window.posted, postedMessage{data: string(data), targetOrigin: targetOrigin})
	return nil
}

func (window *recordingWindow) messages() []postedMessage {
	window.mutex.Lock()
	defer window.mutex.Unlock()
	return append([]postedMessage(nil), window.posted...)
}

type fakeFrame struct {
	recordingWindow
	source  string
	history []string
}

func newFakeFrame(source string) *fakeFrame {
	return &fakeFrame{source: source}
}

func (frame *fakeFrame) Source() string {
	return frame.source
}

func (frame *fakeFrame) SetSource(source string) {
	frame.source = source
	frame.history = append(frame.history, source)
}

// loads counts how many times a non-empty source was assigned.
func (frame *fakeFrame) loads() int {
	count := 0
	for _, source := range frame.history {
		if source != "" {
			count++
		}
	}
	return count
}

type fakePopup struct {
	closed     bool
	closeCalls int
}

func (popup *fakePopup) Closed() bool {
	return popup.closed
}

func (popup *fakePopup) Close() {
	popup.closeCalls++
	popup.closed = true
}

type fakeOpener struct {
	blocked  bool
	opened   []string
	features []WindowFeatures
	popups   []*fakePopup
}

func (opener *fakeOpener) Open(targetURL string, features WindowFeatures) Popup {
	opener.opened = append(opener.opened, targetURL)
	opener.features = append(opener.features, features)
	if opener.blocked {
		return nil
	}
	popup := &fakePopup{}
	opener.popups = append(opener.popups, popup)
	return popup
}

func (opener *fakeOpener) last() *fakePopup {
	if len(opener.popups) == 0 {
		return nil
	}
	return opener.popups[len(opener.popups)-1]
}

type fakeHostWindow struct {
	mutex     sync.Mutex
	listeners map[HostEventType]map[int]func(HostEvent)
	nextID    int
	removed   int
}

func newFakeHostWindow() *fakeHostWindow {
	return &fakeHostWindow{listeners: make(map[HostEventType]map[int]func(HostEvent))}
}

func (window *fakeHostWindow) AddListener(eventType HostEventType, listener func(HostEvent)) func() {
	window.mutex.Lock()
	defer window.mutex.Unlock()
	window.nextID++
	identifier := window.nextID
	if window.listeners[eventType] == nil {
		window.listeners[eventType] = make(map[int]func(HostEvent))
	}
	window.listeners[eventType][identifier] = listener
	return func() {
		window.mutex.Lock()
		defer window.mutex.Unlock()
		if _, ok := window.listeners[eventType][identifier]; ok {
			delete(window.listeners[eventType], identifier)
			window.removed++
		}
	}
}

func (window *fakeHostWindow) dispatch(event HostEvent) {
	window.mutex.Lock()
	listeners := make([]func(HostEvent), 0, len(window.listeners[event.Type]))
	for _, listener := range window.listeners[event.Type] {
		listeners = append(listeners, listener)
	}
	window.mutex.Unlock()
	for _, listener := range listeners {
		listener(event)
	}
}

func (window *fakeHostWindow) listenerCount() int {
	window.mutex.Lock()
	defer window.mutex.Unlock()
	count := 0
	for _, listeners := range window.listeners {
		count += len(listeners)
	}
	return count
}

type recordingNotifier struct {
	errors []error
}

func (notifier *recordingNotifier) Notify(err error) {
	notifier.errors = append(notifier.errors, err)
}

type countingMetrics struct {
	mutex  sync.Mutex
	counts map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{counts: make(map[string]int)}
}

func (metrics *countingMetrics) Increment(event string) {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	metrics.counts[event]++
}

func (metrics *countingMetrics) count(event string) int {
	metrics.mutex.Lock()
	defer metrics.mutex.Unlock()
	return metrics.counts[event]
}
