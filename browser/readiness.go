package browser

import (
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/headlessweb/hweb/browser/js"
	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

// Readiness is a snapshot of the tracked readiness flags. Flags are
// monotonic within one page load: they only flip to true, until Reset at
// the start of the next navigation.
type Readiness struct {
	DOMReady        bool
	JavaScriptReady bool
	ResourcesLoaded bool
	FontsLoaded     bool
	ImagesLoaded    bool
	StylesApplied   bool
	NetworkIdle     bool

	LastChange time.Time
}

// IsInteractive reports the lowest readiness level: the DOM can be
// queried.
func (r Readiness) IsInteractive() bool { return r.DOMReady }

// IsBasicReady reports that the DOM is ready and scripts execute.
func (r Readiness) IsBasicReady() bool { return r.DOMReady && r.JavaScriptReady }

// IsFullyReady reports that every tracked readiness dimension holds.
func (r Readiness) IsFullyReady() bool {
	return r.DOMReady && r.JavaScriptReady && r.ResourcesLoaded &&
		r.FontsLoaded && r.ImagesLoaded && r.StylesApplied && r.NetworkIdle
}

// ReadinessTracker aggregates readiness flags fed by the in-page probe
// script and engine callbacks, and emits granular and composite bus
// events as levels are newly satisfied.
type ReadinessTracker struct {
	logger *log.Logger
	bus    *event.Bus

	mu    sync.Mutex
	state Readiness
}

// NewReadinessTracker returns a tracker with all flags cleared.
func NewReadinessTracker(logger *log.Logger, bus *event.Bus) *ReadinessTracker {
	return &ReadinessTracker{logger: logger, bus: bus}
}

// Snapshot returns a copy of the current readiness state.
func (t *ReadinessTracker) Snapshot() Readiness {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset clears every flag. Called at navigation start; this is the only
// path by which a flag returns to false.
func (t *ReadinessTracker) Reset() {
	t.mu.Lock()
	t.state = Readiness{LastChange: time.Now()}
	t.mu.Unlock()
	t.logger.Debugf("ReadinessTracker:reset", "flags cleared for new navigation")
}

// update flips one flag to true. It is idempotent: a flag already set
// emits nothing. When the flag newly flips, the granular event for it is
// emitted, followed by any composite milestone newly satisfied.
func (t *ReadinessTracker) update(kind event.Kind, get func(*Readiness) *bool) {
	t.mu.Lock()
	flag := get(&t.state)
	if *flag {
		t.mu.Unlock()
		return
	}
	before := t.state
	*flag = true
	t.state.LastChange = time.Now()
	after := t.state
	t.mu.Unlock()

	t.bus.Emit(event.New(kind, "", ""))
	if !before.IsInteractive() && after.IsInteractive() {
		t.bus.Emit(event.New(event.KindPageInteractive, "", ""))
	}
	if !before.IsBasicReady() && after.IsBasicReady() {
		t.bus.Emit(event.New(event.KindPageComplete, "", ""))
	}
	if !before.IsFullyReady() && after.IsFullyReady() {
		t.bus.Emit(event.New(event.KindBrowserReady, "", ""))
	}
}

// UpdateDOMReady marks the DOM as parsed and queryable.
func (t *ReadinessTracker) UpdateDOMReady() {
	t.update(event.KindDOMReady, func(r *Readiness) *bool { return &r.DOMReady })
}

// UpdateJavaScriptReady marks script execution as verified.
func (t *ReadinessTracker) UpdateJavaScriptReady() {
	t.update(event.KindJavaScriptReady, func(r *Readiness) *bool { return &r.JavaScriptReady })
}

// UpdateResourcesLoaded marks subresource scripts and stylesheets loaded.
func (t *ReadinessTracker) UpdateResourcesLoaded() {
	t.update(event.KindResourcesLoaded, func(r *Readiness) *bool { return &r.ResourcesLoaded })
}

// UpdateFontsLoaded marks web fonts as loaded.
func (t *ReadinessTracker) UpdateFontsLoaded() {
	t.update(event.KindFontsLoaded, func(r *Readiness) *bool { return &r.FontsLoaded })
}

// UpdateImagesLoaded marks all images as decoded.
func (t *ReadinessTracker) UpdateImagesLoaded() {
	t.update(event.KindImagesLoaded, func(r *Readiness) *bool { return &r.ImagesLoaded })
}

// UpdateStylesApplied marks computed styles as resolvable.
func (t *ReadinessTracker) UpdateStylesApplied() {
	t.update(event.KindStylesApplied, func(r *Readiness) *bool { return &r.StylesApplied })
}

// UpdateNetworkIdle marks the network as idle. Fed by the network
// tracker, never computed in-page.
func (t *ReadinessTracker) UpdateNetworkIdle() {
	t.update(event.KindNetworkIdle, func(r *Readiness) *bool { return &r.NetworkIdle })
}

// CheckScript returns the in-page readiness probe.
func (t *ReadinessTracker) CheckScript() string {
	return js.ReadinessCheckScript
}

// ApplySnapshot folds a JSON snapshot produced by the probe script into
// the tracker. Unknown or missing fields are ignored; the probe never
// reports network idle.
func (t *ReadinessTracker) ApplySnapshot(snapshot string) {
	if snapshot == "" || !gjson.Valid(snapshot) {
		t.logger.Debugf("ReadinessTracker:applySnapshot", "discarding malformed snapshot %q", snapshot)
		return
	}
	apply := []struct {
		path string
		fn   func()
	}{
		{"domReady", t.UpdateDOMReady},
		{"javascriptReady", t.UpdateJavaScriptReady},
		{"resourcesLoaded", t.UpdateResourcesLoaded},
		{"fontsLoaded", t.UpdateFontsLoaded},
		{"imagesLoaded", t.UpdateImagesLoaded},
		{"stylesApplied", t.UpdateStylesApplied},
	}
	for _, a := range apply {
		if gjson.Get(snapshot, a.path).Bool() {
			a.fn()
		}
	}
}

// waitForLevel short-circuits if satisfied holds, else races a one-shot
// subscription to milestone against the timeout.
func (t *ReadinessTracker) waitForLevel(milestone event.Kind, satisfied func(Readiness) bool, timeout time.Duration) *future.Future[bool] {
	if satisfied(t.Snapshot()) {
		return future.Resolved(true)
	}
	p := future.NewPromise[bool]()
	id := t.bus.SubscribeOnce(milestone, func(event.Event) {
		p.Resolve(true)
	})
	if timeout > 0 {
		time.AfterFunc(timeout, func() {
			if p.Resolve(false) {
				t.bus.Unsubscribe(id)
			}
		})
	}
	return p.Future()
}

// WaitForInteractive resolves once the DOM is ready.
func (t *ReadinessTracker) WaitForInteractive(timeout time.Duration) *future.Future[bool] {
	return t.waitForLevel(event.KindPageInteractive, Readiness.IsInteractive, timeout)
}

// WaitForBasicReadiness resolves once the DOM is ready and scripts
// execute.
func (t *ReadinessTracker) WaitForBasicReadiness(timeout time.Duration) *future.Future[bool] {
	return t.waitForLevel(event.KindPageComplete, Readiness.IsBasicReady, timeout)
}

// WaitForFullReadiness resolves once every readiness dimension holds.
func (t *ReadinessTracker) WaitForFullReadiness(timeout time.Duration) *future.Future[bool] {
	return t.waitForLevel(event.KindBrowserReady, Readiness.IsFullyReady, timeout)
}

// WaitForJavaScriptReady resolves once script execution is verified.
func (t *ReadinessTracker) WaitForJavaScriptReady(timeout time.Duration) *future.Future[bool] {
	return t.waitForLevel(event.KindJavaScriptReady,
		func(r Readiness) bool { return r.JavaScriptReady }, timeout)
}

// WaitForResourcesLoaded resolves once subresources are loaded.
func (t *ReadinessTracker) WaitForResourcesLoaded(timeout time.Duration) *future.Future[bool] {
	return t.waitForLevel(event.KindResourcesLoaded,
		func(r Readiness) bool { return r.ResourcesLoaded }, timeout)
}
