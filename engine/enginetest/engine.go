// Package enginetest provides an in-process scripted engine for tests.
// Scripts are evaluated in a real JavaScript runtime (goja) seeded with a
// minimal window/document scaffold, so condition expressions and injected
// probe scripts exercise the same evaluation semantics they would see in
// a page, without a browser process.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/headlessweb/hweb/engine"
)

var _ engine.Engine = (*Engine)(nil)

// bootstrap is the minimal page scaffold scripts run against. Tests
// mutate it through MustRun to simulate page state.
const bootstrap = `
var window = this;
var document = {
	readyState: 'loading',
	title: '',
	body: {},
	elements: {},
	querySelector: function(sel) { return this.elements[sel] || null; },
	querySelectorAll: function(sel) {
		var el = this.elements[sel];
		return el ? (Array.isArray(el) ? el : [el]) : [];
	},
	createElement: function(tag) { return { tagName: tag }; },
	getElementsByTagName: function() { return []; }
};
`

// Engine is a scripted engine.Engine for unit tests.
type Engine struct {
	mu sync.Mutex
	vm *goja.Runtime

	url   string
	title string

	pump *engine.Pump

	// autoLoadSignals controls whether LoadURI synthesizes the standard
	// started/committed/finished signal sequence.
	autoLoadSignals bool
}

// New returns a scripted engine with an empty page.
func New() *Engine {
	vm := goja.New()
	if _, err := vm.RunString(bootstrap); err != nil {
		panic(fmt.Sprintf("enginetest: bootstrap failed: %v", err))
	}
	return &Engine{
		vm:              vm,
		pump:            engine.NewPump(),
		autoLoadSignals: true,
	}
}

// DisableAutoLoadSignals stops LoadURI from synthesizing load signals, so
// a test can emit its own sequence.
func (e *Engine) DisableAutoLoadSignals() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoLoadSignals = false
}

// MustRun evaluates js against the page scaffold, panicking on error.
// Intended for test setup.
func (e *Engine) MustRun(js string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.vm.RunString(js); err != nil {
		panic(fmt.Sprintf("enginetest: setup script failed: %v", err))
	}
}

// EmitSignal queues sig for the next drain.
func (e *Engine) EmitSignal(sig engine.Signal) {
	e.pump.Enqueue(sig)
}

// SetURL updates the page URL and queues a uri-changed signal.
func (e *Engine) SetURL(url string) {
	e.mu.Lock()
	e.url = url
	e.mu.Unlock()
	e.pump.Enqueue(engine.Signal{Kind: engine.SignalURIChanged, URI: url})
}

// SetTitle updates the page title and queues a title-changed signal.
func (e *Engine) SetTitle(title string) {
	e.mu.Lock()
	e.title = title
	e.mu.Unlock()
	e.pump.Enqueue(engine.Signal{Kind: engine.SignalTitleChanged, Title: title})
}

// LoadURI records the new URL and, unless disabled, synthesizes the
// standard load signal sequence.
func (e *Engine) LoadURI(_ context.Context, uri string) error {
	e.mu.Lock()
	e.url = uri
	auto := e.autoLoadSignals
	e.mu.Unlock()

	if auto {
		e.pump.Enqueue(engine.Signal{Kind: engine.SignalLoadStarted, URI: uri})
		e.pump.Enqueue(engine.Signal{Kind: engine.SignalURIChanged, URI: uri})
		e.pump.Enqueue(engine.Signal{Kind: engine.SignalLoadCommitted, URI: uri})
		e.pump.Enqueue(engine.Signal{Kind: engine.SignalLoadFinished, URI: uri, Progress: 1})
	}
	return nil
}

// CurrentURL returns the recorded page URL.
func (e *Engine) CurrentURL(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.url, nil
}

// Title returns the recorded page title.
func (e *Engine) Title(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title, nil
}

// Evaluate runs script in the goja runtime. Exceptions surface through
// EvalResult, matching the remote engine's contract.
func (e *Engine) Evaluate(_ context.Context, script string) (engine.EvalResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	val, err := e.vm.RunString(script)
	if err != nil {
		return engine.EvalResult{Exception: true}, nil
	}
	return engine.EvalResult{Value: stringify(val)}, nil
}

// stringify flattens a goja value the way the engine boundary does:
// null/undefined become "", objects are JSON-encoded, primitives use
// their string form.
func stringify(val goja.Value) string {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return ""
	}
	exported := val.Export()
	switch v := exported.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case int64, float64:
		return fmt.Sprintf("%v", v)
	default:
		buf, err := json.Marshal(exported)
		if err != nil {
			return val.String()
		}
		return string(buf)
	}
}

// Connect registers a signal handler on the pump.
func (e *Engine) Connect(handler engine.SignalHandler) func() {
	return e.pump.Connect(handler)
}

// DrainPending dispatches queued signals on the calling goroutine.
func (e *Engine) DrainPending() int {
	return e.pump.Drain()
}

// Close drops queued signals.
func (e *Engine) Close() error {
	e.pump.Close()
	return nil
}
