package browser

import (
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

// networkStabilizationDelay is how long the active request count must
// stay at zero before the network is declared idle. Absorbs the gap
// between a response finishing and a follow-up request starting.
const networkStabilizationDelay = 100 * time.Millisecond

// networkPollInterval is the cadence at which WaitForNetworkIdle
// re-checks the idle condition.
const networkPollInterval = 25 * time.Millisecond

type requestInfo struct {
	url     string
	method  string
	started time.Time
}

// NetworkTracker follows in-flight requests reported by the engine and
// derives the network-idle condition: zero active requests sustained
// past the stabilization delay.
type NetworkTracker struct {
	logger *log.Logger
	bus    *event.Bus

	mu     sync.Mutex
	active map[string]requestInfo

	// activeCount mirrors len(active) so idle checks need no lock.
	activeCount  atomic.Int64
	lastActivity atomic.Int64 // unix nanos

	idleTimer *time.Timer
	idleEpoch atomic.Int64
}

// NewNetworkTracker returns a tracker with no requests in flight.
func NewNetworkTracker(logger *log.Logger, bus *event.Bus) *NetworkTracker {
	t := &NetworkTracker{
		logger: logger,
		bus:    bus,
		active: make(map[string]requestInfo),
	}
	t.lastActivity.Store(time.Now().UnixNano())
	return t
}

// ActiveRequestCount returns the number of requests currently in flight.
func (t *NetworkTracker) ActiveRequestCount() int {
	return int(t.activeCount.Load())
}

// touch records network activity and invalidates any pending idle timer.
func (t *NetworkTracker) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
	t.idleEpoch.Add(1)
}

// OnRequestStart registers a request keyed by id (typically the URL, or
// an engine-assigned identifier when URLs repeat).
func (t *NetworkTracker) OnRequestStart(id, url, method string) {
	t.mu.Lock()
	if _, dup := t.active[id]; !dup {
		t.active[id] = requestInfo{url: url, method: method, started: time.Now()}
		t.activeCount.Store(int64(len(t.active)))
	}
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.mu.Unlock()

	t.touch()
	t.logger.Tracef("NetworkTracker:start", "%s %s (%d active)", method, url, t.ActiveRequestCount())
	t.bus.Emit(event.NewNetwork(event.KindRequestStarted, url, method, 0, false))
}

// OnRequestComplete removes a finished request and, if it was the last
// one, arms the stabilization timer that emits network idle.
func (t *NetworkTracker) OnRequestComplete(id string, status int) {
	t.finish(id, event.KindRequestCompleted, status, true)
}

// OnRequestFailed removes a failed request. Failures count toward idle
// exactly like completions.
func (t *NetworkTracker) OnRequestFailed(id string, reason string) {
	t.finish(id, event.KindRequestFailed, 0, false)
	if reason != "" {
		t.logger.Debugf("NetworkTracker:failed", "request %s failed: %s", id, reason)
	}
}

func (t *NetworkTracker) finish(id string, kind event.Kind, status int, completed bool) {
	t.mu.Lock()
	info, known := t.active[id]
	if known {
		delete(t.active, id)
	}
	t.activeCount.Store(int64(len(t.active)))
	drained := len(t.active) == 0
	t.mu.Unlock()

	t.touch()
	if !known {
		// Completion for a request started before tracking began; still
		// useful for idle accounting.
		info = requestInfo{url: id}
	}
	t.bus.Emit(event.NewNetwork(kind, info.url, info.method, status, completed))

	if drained {
		t.armIdleTimer()
	}
}

// armIdleTimer schedules the idle emission after the stabilization
// delay. The epoch captured at arm time detects activity that raced the
// timer; a stale timer fires but emits nothing.
func (t *NetworkTracker) armIdleTimer() {
	epoch := t.idleEpoch.Load()
	t.mu.Lock()
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(networkStabilizationDelay, func() {
		if t.idleEpoch.Load() != epoch || t.activeCount.Load() != 0 {
			return
		}
		t.logger.Debugf("NetworkTracker:idle", "network idle after %v stabilization", networkStabilizationDelay)
		t.bus.Emit(event.New(event.KindNetworkIdle, "", ""))
	})
	t.mu.Unlock()
}

// OnLoadFinished arms the idle timer when nothing is in flight, so a
// page that loads without subresource requests still reaches idle.
func (t *NetworkTracker) OnLoadFinished() {
	if t.activeCount.Load() == 0 {
		t.armIdleTimer()
	}
}

// IsNetworkIdle reports whether no requests are in flight and the last
// activity is at least idleTime old. A non-positive idleTime uses the
// stabilization delay.
func (t *NetworkTracker) IsNetworkIdle(idleTime time.Duration) bool {
	if idleTime <= 0 {
		idleTime = networkStabilizationDelay
	}
	if t.activeCount.Load() != 0 {
		return false
	}
	last := time.Unix(0, t.lastActivity.Load())
	return time.Since(last) >= idleTime
}

// Reset drops all in-flight bookkeeping. Called at navigation start so
// requests from the previous page cannot hold off idle detection.
func (t *NetworkTracker) Reset() {
	t.mu.Lock()
	t.active = make(map[string]requestInfo)
	t.activeCount.Store(0)
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.mu.Unlock()
	t.touch()
}

// Stop cancels the pending idle timer, if any. Called on teardown.
func (t *NetworkTracker) Stop() {
	t.mu.Lock()
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	t.mu.Unlock()
	t.idleEpoch.Add(1)
}

// WaitForIdle resolves true once the network has been idle for idleTime,
// or false after timeout. A non-positive timeout falls back to
// DefaultTimeout so the poll loop is always bounded. The idle condition
// is re-checked on a short poll rather than only on the idle event,
// since the sustained-quiet requirement is time-based.
func (t *NetworkTracker) WaitForIdle(idleTime, timeout time.Duration) *future.Future[bool] {
	if t.IsNetworkIdle(idleTime) {
		return future.Resolved(true)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := future.NewPromise[bool]()
	var expired atomic.Bool
	timer := time.AfterFunc(timeout, func() { expired.Store(true) })
	go func() {
		defer timer.Stop()
		for {
			if t.IsNetworkIdle(idleTime) {
				p.Resolve(true)
				return
			}
			if expired.Load() {
				p.Resolve(false)
				return
			}
			time.Sleep(networkPollInterval)
		}
	}()
	return p.Future()
}

// WaitForRequest resolves with the URL of the first request start whose
// URL matches pattern, or rejects with future.ErrTimeout. Pattern is
// tried as a regular expression first; if it does not compile it is
// matched as a plain substring.
func (t *NetworkTracker) WaitForRequest(pattern string, timeout time.Duration) *future.Future[string] {
	match := func(url string) bool { return strings.Contains(url, pattern) }
	if re, err := regexp.Compile(pattern); err == nil {
		match = re.MatchString
	} else {
		t.logger.Debugf("NetworkTracker:waitForRequest", "pattern %q is not a valid regexp, using substring match", pattern)
	}

	p := future.NewPromise[string]()
	id := t.bus.SubscribeOnceWithCondition(event.KindRequestStarted, func(evt event.Event) {
		p.Resolve(evt.Target)
	}, func(evt event.Event) bool {
		return match(evt.Target)
	})
	if timeout > 0 {
		time.AfterFunc(timeout, func() {
			if p.Reject(future.ErrTimeout) {
				t.bus.Unsubscribe(id)
			}
		})
	}
	return p.Future()
}
