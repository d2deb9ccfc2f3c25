// Package browser implements the event-driven automation core: the
// lifecycle state machine, readiness and network tracking, mutation
// observation and the asynchronous waiting surface, all layered over a
// black-box engine.
package browser

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/headlessweb/hweb/engine"
	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/log"
)

// Default tuning. DefaultTimeout bounds waits whose caller passed no
// explicit timeout; loopTick is the cadence of the background signal
// drain that keeps futures settling while no waiter is polling.
const (
	DefaultTimeout     = 10 * time.Second
	defaultEvalTimeout = 5 * time.Second
	loopTick           = 10 * time.Millisecond
)

// Options configures a Browser.
type Options struct {
	Logger *log.Logger

	// DefaultTimeout replaces DefaultTimeout for waits created without an
	// explicit timeout. Zero keeps the package default.
	DefaultTimeout time.Duration

	// EmitHook is forwarded to the event bus, typically for metrics.
	EmitHook func(event.Kind)
}

// Browser owns one engine connection and the trackers layered on top of
// it. All engine callbacks pass through the validity guard: after Close
// no callback reaches the trackers, so late signals from a dying engine
// cannot touch freed state.
type Browser struct {
	logger *log.Logger
	eng    engine.Engine

	bus       *event.Bus
	state     *StateManager
	readiness *ReadinessTracker
	network   *NetworkTracker
	mutations *MutationTracker
	waiter    *ConditionWaiter

	defaultTimeout time.Duration

	valid      atomic.Bool
	disconnect func()
	loopStop   chan struct{}
	loopDone   chan struct{}

	urlMu          sync.Mutex
	lastURL        string
	loadInProgress atomic.Bool
}

// New wires a Browser over eng and starts its signal drain loop. The
// caller owns eng's lifetime through Browser.Close.
func New(eng engine.Engine, opts Options) *Browser {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	var busOpts []event.Option
	if opts.EmitHook != nil {
		busOpts = append(busOpts, event.WithEmitHook(opts.EmitHook))
	}
	bus := event.NewBus(logger, busOpts...)

	b := &Browser{
		logger:         logger,
		eng:            eng,
		bus:            bus,
		state:          NewStateManager(logger, bus),
		readiness:      NewReadinessTracker(logger, bus),
		network:        NewNetworkTracker(logger, bus),
		waiter:         NewConditionWaiter(logger, eng),
		defaultTimeout: opts.DefaultTimeout,
		loopStop:       make(chan struct{}),
		loopDone:       make(chan struct{}),
	}
	if b.defaultTimeout <= 0 {
		b.defaultTimeout = DefaultTimeout
	}
	b.mutations = NewMutationTracker(logger, bus, b.injectValue)

	// Readiness milestones drive the coarse state machine; network idle
	// reported by the tracker feeds back into the readiness flags. The
	// re-emit from the readiness side is absorbed by flag idempotence.
	bus.Subscribe(event.KindDOMReady, func(event.Event) { b.guarded(func() { b.state.TransitionTo(StateDOMReady) }) })
	bus.Subscribe(event.KindPageInteractive, func(event.Event) { b.guarded(func() { b.state.TransitionTo(StateInteractive) }) })
	bus.Subscribe(event.KindBrowserReady, func(event.Event) { b.guarded(func() { b.state.TransitionTo(StateFullyReady) }) })
	bus.Subscribe(event.KindNetworkIdle, func(event.Event) { b.guarded(b.readiness.UpdateNetworkIdle) })

	b.valid.Store(true)
	b.disconnect = eng.Connect(b.onEngineSignal)
	go b.loopService()
	return b
}

// guarded runs fn only while the browser is valid.
func (b *Browser) guarded(fn func()) {
	if b.valid.Load() {
		fn()
	}
}

// IsValid reports whether Close has not been called yet.
func (b *Browser) IsValid() bool { return b.valid.Load() }

// Accessors for the composed trackers.

func (b *Browser) Bus() *event.Bus               { return b.bus }
func (b *Browser) State() *StateManager          { return b.state }
func (b *Browser) Readiness() *ReadinessTracker  { return b.readiness }
func (b *Browser) Network() *NetworkTracker      { return b.network }
func (b *Browser) Mutations() *MutationTracker   { return b.mutations }
func (b *Browser) Waiter() *ConditionWaiter      { return b.waiter }
func (b *Browser) DefaultTimeout() time.Duration { return b.defaultTimeout }

// loopService drains the engine signal queue on a fixed tick so futures
// settle even while no waiter is actively polling.
func (b *Browser) loopService() {
	defer close(b.loopDone)
	ticker := time.NewTicker(loopTick)
	defer ticker.Stop()
	for {
		select {
		case <-b.loopStop:
			return
		case <-ticker.C:
			b.eng.DrainPending()
		}
	}
}

// onEngineSignal is the single entry point for engine callbacks. The
// validity check comes first: a signal drained after Close is dropped.
func (b *Browser) onEngineSignal(sig engine.Signal) {
	if !b.valid.Load() {
		return
	}
	switch sig.Kind {
	case engine.SignalLoadStarted:
		b.onLoadStarted(sig)
	case engine.SignalLoadCommitted:
		b.state.TransitionTo(StateDOMLoading)
	case engine.SignalLoadFinished:
		b.onLoadFinished(sig)
	case engine.SignalLoadFailed:
		b.onLoadFailed(sig)
	case engine.SignalURIChanged:
		b.onURIChanged(sig)
	case engine.SignalTitleChanged:
		b.bus.Emit(event.New(event.KindTitleChanged, sig.Title, ""))
	case engine.SignalReadyToShow:
		b.readiness.UpdateStylesApplied()
	case engine.SignalRequestStarted:
		if sig.Request != nil {
			b.network.OnRequestStart(sig.Request.URL, sig.Request.URL, sig.Request.Method)
		}
	case engine.SignalRequestFinished:
		if sig.Request != nil {
			b.network.OnRequestComplete(sig.Request.URL, sig.Request.StatusCode)
		}
	case engine.SignalRequestFailed:
		if sig.Request != nil {
			b.network.OnRequestFailed(sig.Request.URL, sig.Request.Error)
		}
	case engine.SignalMutation:
		b.mutations.HandleMutationPayload(sig.Payload)
	case engine.SignalPageMessage:
		b.handlePageMessage(sig.Payload)
	default:
		b.logger.Tracef("Browser:signal", "unhandled signal %s", sig.Kind)
	}
}

func (b *Browser) onLoadStarted(sig engine.Signal) {
	b.loadInProgress.Store(true)
	b.urlMu.Lock()
	prev := b.lastURL
	b.urlMu.Unlock()

	b.network.Reset()
	b.readiness.Reset()
	b.state.TransitionTo(StateLoading)
	b.bus.Emit(event.NewPageLoad(event.KindPageLoadStarted, sig.URI, 0, event.LoadStateStarted, false))
	b.bus.Emit(event.NewNavigation(event.KindNavigationStarted, sig.URI, prev, false))
}

func (b *Browser) onLoadFinished(sig engine.Signal) {
	b.loadInProgress.Store(false)
	b.urlMu.Lock()
	prev := b.lastURL
	if sig.URI != "" {
		b.lastURL = sig.URI
	}
	b.urlMu.Unlock()

	// The load signal guarantees the DOM; the probe fills in the rest.
	b.readiness.UpdateDOMReady()
	b.probeReadiness()
	b.mutations.ReinstallAll()
	b.network.OnLoadFinished()

	b.bus.Emit(event.NewPageLoad(event.KindPageLoadComplete, sig.URI, 1, event.LoadStateComplete, false))
	b.bus.Emit(event.NewNavigation(event.KindNavigationCompleted, sig.URI, prev, true))
}

func (b *Browser) onLoadFailed(sig engine.Signal) {
	b.loadInProgress.Store(false)
	b.state.TransitionTo(StateError)
	b.logger.Warnf("Browser:load", "load failed for %q", sig.URI)
	b.bus.Emit(event.NewNavigation(event.KindNavigationCompleted, sig.URI, "", false))
}

// onURIChanged distinguishes same-document (SPA) navigations from load
// progress: a URI change with no load in flight is History API or
// fragment routing and gets the SPA treatment, including a readiness
// re-probe since frameworks swap content without a load cycle.
func (b *Browser) onURIChanged(sig engine.Signal) {
	b.urlMu.Lock()
	prev := b.lastURL
	b.lastURL = sig.URI
	b.urlMu.Unlock()

	b.bus.Emit(event.New(event.KindURLChanged, sig.URI, prev))
	if !b.loadInProgress.Load() && prev != "" && prev != sig.URI {
		b.logger.Debugf("Browser:spa", "same-document navigation %q -> %q", prev, sig.URI)
		b.bus.Emit(event.NewPageLoad(event.KindSPANavigation, sig.URI, 1, event.LoadStateComplete, true))
		b.probeReadiness()
	}
}

// probeReadiness injects the readiness check script and folds its
// snapshot into the tracker. Probe failure is not an error: flags stay
// unset and waiters keep waiting.
func (b *Browser) probeReadiness() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultEvalTimeout)
	defer cancel()
	snapshot := engine.EvaluateSync(ctx, b.eng, b.readiness.CheckScript())
	if snapshot == "" {
		return
	}
	b.readiness.ApplySnapshot(snapshot)
	// Surviving the probe round-trip is the JavaScript readiness check.
	b.readiness.UpdateJavaScriptReady()
}

// pageMessageKinds maps the event names posted by injected scripts to
// bus event kinds.
var pageMessageKinds = map[string]event.Kind{
	"INPUT_FILLED":     event.KindInputFilled,
	"ELEMENT_CLICKED":  event.KindElementClicked,
	"OPTION_SELECTED":  event.KindOptionSelected,
	"ELEMENT_CHECKED":  event.KindElementChecked,
	"FORM_SUBMITTED":   event.KindFormSubmitted,
	"ELEMENT_FOCUSED":  event.KindElementFocused,
	"ELEMENT_SCROLLED": event.KindElementScrolled,
}

var sessionMessageKinds = map[string]event.Kind{
	"COOKIES_RESTORED": event.KindCookiesRestored,
	"STORAGE_RESTORED": event.KindStorageRestored,
	"FORMS_RESTORED":   event.KindFormsRestored,
}

// handlePageMessage routes a JSON message posted from an injected
// script. Malformed and unknown messages are logged and dropped.
func (b *Browser) handlePageMessage(payload string) {
	if !gjson.Valid(payload) {
		b.logger.Debugf("Browser:pageMessage", "discarding malformed page message %q", payload)
		return
	}
	msg := gjson.Parse(payload)
	name := msg.Get("event").String()

	if name == "MUTATION" {
		b.mutations.HandleMutationPayload(payload)
		return
	}
	if kind, ok := pageMessageKinds[name]; ok {
		b.bus.Emit(event.New(kind, msg.Get("target").String(), msg.Get("value").String()))
		return
	}
	if kind, ok := sessionMessageKinds[name]; ok {
		b.bus.Emit(event.NewSession(kind, event.SessionData{
			Component:      msg.Get("target").String(),
			ProcessedCount: int(msg.Get("processed").Int()),
			TotalCount:     int(msg.Get("total").Int()),
			Success:        true,
		}))
		return
	}
	b.logger.Debugf("Browser:pageMessage", "unknown page message %q", name)
}

// Navigate starts loading url. Completion is observed through the bus;
// use WaitForNavigation to block on it.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	if !b.valid.Load() {
		return errors.New("browser is closed")
	}
	return b.eng.LoadURI(ctx, url)
}

// CurrentURL returns the engine's view of the page URL.
func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	if !b.valid.Load() {
		return "", errors.New("browser is closed")
	}
	return b.eng.CurrentURL(ctx)
}

// Title returns the current page title.
func (b *Browser) Title(ctx context.Context) (string, error) {
	if !b.valid.Load() {
		return "", errors.New("browser is closed")
	}
	return b.eng.Title(ctx)
}

// Evaluate runs script in the page.
func (b *Browser) Evaluate(ctx context.Context, script string) (engine.EvalResult, error) {
	if !b.valid.Load() {
		return engine.EvalResult{}, errors.New("browser is closed")
	}
	return b.eng.Evaluate(ctx, script)
}

// EvaluateValue evaluates script and flattens errors and exceptions to
// an empty string.
func (b *Browser) EvaluateValue(ctx context.Context, script string) string {
	if !b.valid.Load() {
		return ""
	}
	return engine.EvaluateSync(ctx, b.eng, script)
}

// injectValue runs a script and returns its result value; an in-page
// exception is an error here, unlike EvaluateValue.
func (b *Browser) injectValue(script string) (string, error) {
	if !b.valid.Load() {
		return "", errors.New("browser is closed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultEvalTimeout)
	defer cancel()
	res, err := b.eng.Evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	if res.Exception {
		return "", errors.New("script threw in page")
	}
	return res.Value, nil
}

// inject runs a script for its side effects only.
func (b *Browser) inject(script string) error {
	_, err := b.injectValue(script)
	return err
}

// Close invalidates the browser and tears everything down. Ordering
// matters: the validity flag drops first so in-flight callbacks turn
// into no-ops, then the engine is disconnected and drained waiters are
// cancelled, and only then are subscriptions and the connection
// released. Close is idempotent.
func (b *Browser) Close() error {
	if !b.valid.CompareAndSwap(true, false) {
		return nil
	}
	b.logger.Debugf("Browser:close", "tearing down")

	b.disconnect()
	close(b.loopStop)
	<-b.loopDone

	b.waiter.CancelAll()
	b.network.Stop()
	b.bus.Clear()
	return b.eng.Close()
}
