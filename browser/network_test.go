package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

func newTestNetwork(t *testing.T) (*NetworkTracker, *event.Bus) {
	t.Helper()
	bus := event.NewBus(log.NewNullLogger())
	tr := NewNetworkTracker(log.NewNullLogger(), bus)
	t.Cleanup(tr.Stop)
	return tr, bus
}

func TestNetworkTrackerCountsRequests(t *testing.T) {
	t.Parallel()
	tr, bus := newTestNetwork(t)

	var started, completed []event.Event
	bus.Subscribe(event.KindRequestStarted, func(evt event.Event) { started = append(started, evt) })
	bus.Subscribe(event.KindRequestCompleted, func(evt event.Event) { completed = append(completed, evt) })

	tr.OnRequestStart("https://a/app.js", "https://a/app.js", "GET")
	tr.OnRequestStart("https://a/api", "https://a/api", "POST")
	assert.Equal(t, 2, tr.ActiveRequestCount())

	tr.OnRequestComplete("https://a/app.js", 200)
	assert.Equal(t, 1, tr.ActiveRequestCount())

	require.Len(t, started, 2)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].Network)
	assert.Equal(t, 200, completed[0].Network.StatusCode)
	assert.Equal(t, "GET", completed[0].Network.Method)
}

func TestNetworkTrackerDuplicateStartIgnored(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	tr.OnRequestStart("r1", "https://a/x", "GET")
	tr.OnRequestStart("r1", "https://a/x", "GET")
	assert.Equal(t, 1, tr.ActiveRequestCount())
}

func TestNetworkTrackerFailureCountsTowardIdle(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	tr.OnRequestStart("r1", "https://a/x", "GET")
	tr.OnRequestFailed("r1", "connection reset")
	assert.Equal(t, 0, tr.ActiveRequestCount())
}

func TestNetworkTrackerIdleAfterStabilization(t *testing.T) {
	t.Parallel()
	tr, bus := newTestNetwork(t)

	idle := make(chan struct{}, 1)
	bus.Subscribe(event.KindNetworkIdle, func(event.Event) {
		select {
		case idle <- struct{}{}:
		default:
		}
	})

	tr.OnRequestStart("r1", "https://a/x", "GET")
	tr.OnRequestComplete("r1", 200)

	assert.False(t, tr.IsNetworkIdle(0), "idle requires the stabilization delay to pass")
	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("network idle event not emitted")
	}
	assert.True(t, tr.IsNetworkIdle(0))
}

func TestNetworkTrackerNewRequestCancelsIdle(t *testing.T) {
	t.Parallel()
	tr, bus := newTestNetwork(t)

	idleCount := 0
	bus.Subscribe(event.KindNetworkIdle, func(event.Event) { idleCount++ })

	tr.OnRequestStart("r1", "https://a/x", "GET")
	tr.OnRequestComplete("r1", 200)
	// New activity inside the stabilization window must suppress the
	// pending idle emission.
	time.Sleep(networkStabilizationDelay / 2)
	tr.OnRequestStart("r2", "https://a/y", "GET")
	time.Sleep(networkStabilizationDelay * 2)

	assert.Zero(t, idleCount)
	assert.False(t, tr.IsNetworkIdle(0))
}

func TestNetworkTrackerReset(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	tr.OnRequestStart("r1", "https://a/x", "GET")
	tr.Reset()
	assert.Equal(t, 0, tr.ActiveRequestCount())
}

func TestNetworkWaitForIdleResolves(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	tr.OnRequestStart("r1", "https://a/x", "GET")
	f := tr.WaitForIdle(50*time.Millisecond, 2*time.Second)
	require.False(t, f.Settled())

	tr.OnRequestComplete("r1", 200)
	ok, err := f.WaitFor(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNetworkWaitForIdleTimesOut(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	tr.OnRequestStart("r1", "https://a/x", "GET")
	start := time.Now()
	ok, err := tr.WaitForIdle(50*time.Millisecond, 150*time.Millisecond).WaitFor(2 * time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNetworkWaitForIdleClampsTimeout(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	// A non-positive timeout means the package default, not an unbounded
	// poll and not an immediate expiry: the wait still resolves when the
	// network drains.
	tr.OnRequestStart("r1", "https://a/x", "GET")
	f := tr.WaitForIdle(50*time.Millisecond, 0)
	require.False(t, f.Settled())

	tr.OnRequestComplete("r1", 200)
	ok, err := f.WaitFor(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNetworkWaitForRequestRegexp(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	f := tr.WaitForRequest(`/api/v\d+/users`, 2*time.Second)
	tr.OnRequestStart("r1", "https://a/static/app.js", "GET")
	require.False(t, f.Settled())

	tr.OnRequestStart("r2", "https://a/api/v2/users", "GET")
	url, err := f.WaitFor(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://a/api/v2/users", url)
}

func TestNetworkWaitForRequestSubstringFallback(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	// "[invalid" does not compile as a regexp, so it matches literally.
	f := tr.WaitForRequest(`[invalid`, 2*time.Second)
	tr.OnRequestStart("r1", "https://a/path/[invalid]/x", "GET")

	url, err := f.WaitFor(2 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, url, "[invalid")
}

func TestNetworkWaitForRequestTimesOut(t *testing.T) {
	t.Parallel()
	tr, _ := newTestNetwork(t)

	_, err := tr.WaitForRequest("never", 50*time.Millisecond).WaitFor(time.Second)
	assert.ErrorIs(t, err, future.ErrTimeout)
}
