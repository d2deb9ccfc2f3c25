package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/log"
)

func newTestReadiness(t *testing.T) (*ReadinessTracker, *event.Bus) {
	t.Helper()
	bus := event.NewBus(log.NewNullLogger())
	return NewReadinessTracker(log.NewNullLogger(), bus), bus
}

func TestReadinessUpdateIsIdempotent(t *testing.T) {
	t.Parallel()
	tr, bus := newTestReadiness(t)

	count := 0
	bus.Subscribe(event.KindDOMReady, func(event.Event) { count++ })

	tr.UpdateDOMReady()
	tr.UpdateDOMReady()
	tr.UpdateDOMReady()
	assert.Equal(t, 1, count, "a flag flips once per load")
	assert.True(t, tr.Snapshot().DOMReady)
}

func TestReadinessCompositeMilestones(t *testing.T) {
	t.Parallel()
	tr, bus := newTestReadiness(t)

	var milestones []event.Kind
	for _, kind := range []event.Kind{event.KindPageInteractive, event.KindPageComplete, event.KindBrowserReady} {
		kind := kind
		bus.Subscribe(kind, func(event.Event) { milestones = append(milestones, kind) })
	}

	tr.UpdateDOMReady()
	assert.Equal(t, []event.Kind{event.KindPageInteractive}, milestones)

	tr.UpdateJavaScriptReady()
	assert.Equal(t, []event.Kind{event.KindPageInteractive, event.KindPageComplete}, milestones)

	tr.UpdateResourcesLoaded()
	tr.UpdateFontsLoaded()
	tr.UpdateImagesLoaded()
	tr.UpdateStylesApplied()
	assert.Len(t, milestones, 2, "full readiness still needs network idle")

	tr.UpdateNetworkIdle()
	require.Len(t, milestones, 3)
	assert.Equal(t, event.KindBrowserReady, milestones[2])
	assert.True(t, tr.Snapshot().IsFullyReady())
}

func TestReadinessReset(t *testing.T) {
	t.Parallel()
	tr, bus := newTestReadiness(t)

	tr.UpdateDOMReady()
	tr.UpdateJavaScriptReady()
	require.True(t, tr.Snapshot().IsBasicReady())

	tr.Reset()
	assert.False(t, tr.Snapshot().DOMReady)
	assert.False(t, tr.Snapshot().IsBasicReady())

	// Flags and milestones fire again after the reset.
	count := 0
	bus.Subscribe(event.KindPageInteractive, func(event.Event) { count++ })
	tr.UpdateDOMReady()
	assert.Equal(t, 1, count)
}

func TestReadinessApplySnapshot(t *testing.T) {
	t.Parallel()
	tr, _ := newTestReadiness(t)

	tr.ApplySnapshot(`{
		"domReady": true,
		"javascriptReady": true,
		"resourcesLoaded": false,
		"fontsLoaded": true,
		"imagesLoaded": false,
		"stylesApplied": true
	}`)

	snap := tr.Snapshot()
	assert.True(t, snap.DOMReady)
	assert.True(t, snap.JavaScriptReady)
	assert.False(t, snap.ResourcesLoaded)
	assert.True(t, snap.FontsLoaded)
	assert.False(t, snap.ImagesLoaded)
	assert.True(t, snap.StylesApplied)
	assert.False(t, snap.NetworkIdle, "the probe never reports network idle")
}

func TestReadinessApplySnapshotMalformed(t *testing.T) {
	t.Parallel()
	tr, _ := newTestReadiness(t)

	tr.ApplySnapshot("")
	tr.ApplySnapshot("not json {")
	assert.Equal(t, Readiness{}, withoutTime(tr.Snapshot()))
}

func withoutTime(r Readiness) Readiness {
	r.LastChange = time.Time{}
	return r
}

func TestReadinessWaitShortCircuits(t *testing.T) {
	t.Parallel()
	tr, _ := newTestReadiness(t)
	tr.UpdateDOMReady()

	f := tr.WaitForInteractive(time.Second)
	require.True(t, f.Settled())
	ok, err := f.WaitFor(time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadinessWaitResolvesOnMilestone(t *testing.T) {
	t.Parallel()
	tr, _ := newTestReadiness(t)

	f := tr.WaitForBasicReadiness(2 * time.Second)
	go func() {
		tr.UpdateDOMReady()
		tr.UpdateJavaScriptReady()
	}()

	ok, err := f.WaitFor(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReadinessWaitTimesOut(t *testing.T) {
	t.Parallel()
	tr, _ := newTestReadiness(t)

	ok, err := tr.WaitForFullReadiness(50 * time.Millisecond).WaitFor(time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}
