package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/headlessweb/hweb/event"
)

func TestEmitHookCountsByKind(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())
	hook := m.EmitHook()

	hook(event.KindDOMReady)
	hook(event.KindDOMReady)
	hook(event.KindNavigationStarted)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsEmitted.WithLabelValues("domReady")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEmitted.WithLabelValues("navigationStarted")))
}

func TestEmitHookTracksRequests(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())
	hook := m.EmitHook()

	hook(event.KindRequestStarted)
	hook(event.KindRequestStarted)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveRequests))

	hook(event.KindRequestCompleted)
	hook(event.KindRequestFailed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("failed")))
}

func TestTrackWait(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	done := m.TrackWait("selector")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WaitsStarted.WithLabelValues("selector")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveWaits))

	done(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveWaits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WaitTimeouts.WithLabelValues("selector")))
}

func TestObserveWaitSatisfiedHasNoTimeout(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	m.ObserveWait("condition", time.Now().Add(-10*time.Millisecond), true)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.WaitTimeouts.WithLabelValues("condition")))
}
