// Package engine defines the boundary to the underlying browser engine.
// The engine is treated as a black box that can load a URI, evaluate
// script, and emit signals for navigation, network and page activity.
//
// Signal delivery follows the engine's cooperative model: incoming
// signals are queued by the implementation and dispatched only when
// DrainPending is called, on the draining goroutine. Waiters interleave
// draining with condition checks so that engine callbacks required for
// progress are never starved.
package engine

import (
	"context"
	"time"
)

// SignalKind identifies an engine signal.
type SignalKind int

// Engine signal kinds.
const (
	// SignalLoadStarted fires when the engine begins loading a URI.
	SignalLoadStarted SignalKind = iota
	// SignalLoadCommitted fires once the engine has committed to the new
	// document and started building the DOM.
	SignalLoadCommitted
	// SignalLoadFinished fires when the load completes.
	SignalLoadFinished
	// SignalLoadFailed fires when the load is aborted or errors out.
	SignalLoadFailed
	// SignalURIChanged fires on any URI change, including same-document
	// History API navigations.
	SignalURIChanged
	// SignalTitleChanged fires when the page title changes.
	SignalTitleChanged
	// SignalReadyToShow fires when the engine considers the page
	// presentable.
	SignalReadyToShow
	// SignalRequestStarted, SignalRequestFinished and SignalRequestFailed
	// track subresource network requests.
	SignalRequestStarted
	SignalRequestFinished
	SignalRequestFailed
	// SignalMutation relays a page-side mutation observer record; Payload
	// carries its JSON encoding.
	SignalMutation
	// SignalPageMessage relays a message posted by an injected script;
	// Payload carries its JSON encoding.
	SignalPageMessage
)

var signalNames = map[SignalKind]string{
	SignalLoadStarted:     "load-started",
	SignalLoadCommitted:   "load-committed",
	SignalLoadFinished:    "load-finished",
	SignalLoadFailed:      "load-failed",
	SignalURIChanged:      "uri-changed",
	SignalTitleChanged:    "title-changed",
	SignalReadyToShow:     "ready-to-show",
	SignalRequestStarted:  "request-started",
	SignalRequestFinished: "request-finished",
	SignalRequestFailed:   "request-failed",
	SignalMutation:        "mutation",
	SignalPageMessage:     "page-message",
}

func (k SignalKind) String() string {
	if s, ok := signalNames[k]; ok {
		return s
	}
	return "unknown"
}

// Request describes a network request attached to a request signal.
type Request struct {
	URL        string
	Method     string
	StatusCode int
	Error      string
}

// Signal is a single engine notification.
type Signal struct {
	Kind      SignalKind
	URI       string
	Title     string
	Progress  float64
	Request   *Request
	Payload   string
	Timestamp time.Time
}

// SignalHandler receives drained signals. Handlers run on the goroutine
// calling DrainPending.
type SignalHandler func(Signal)

// EvalResult is the outcome of a script evaluation. Exception is a
// first-class flag so callers that must distinguish "evaluated to
// false/empty" from "the script threw" (e.g. invalid-selector detection)
// do not have to sniff error text.
type EvalResult struct {
	Value     string
	Exception bool
}

// Engine is the black-box browser engine collaborator.
type Engine interface {
	// LoadURI starts loading uri. Completion is reported via signals.
	LoadURI(ctx context.Context, uri string) error

	// CurrentURL returns the engine's current page URL.
	CurrentURL(ctx context.Context) (string, error)

	// Title returns the current page title.
	Title(ctx context.Context) (string, error)

	// Evaluate runs script in the page and returns its result. The
	// returned error covers transport failure only; in-page exceptions,
	// evaluation timeouts and null/undefined results are reported through
	// EvalResult with an empty Value.
	Evaluate(ctx context.Context, script string) (EvalResult, error)

	// Connect registers handler for drained signals and returns a
	// function removing the registration.
	Connect(handler SignalHandler) (disconnect func())

	// DrainPending dispatches all queued signals to connected handlers on
	// the calling goroutine and returns how many were dispatched.
	DrainPending() int

	// Close tears the engine connection down. Queued signals are dropped.
	Close() error
}

// EvaluateSync evaluates script and flattens the result to a string,
// returning "" on transport error, in-page exception, or an empty result.
// This is the default evaluation mode for existence and value queries
// whose contract does not distinguish "not found" from "invalid".
func EvaluateSync(ctx context.Context, e Engine, script string) string {
	res, err := e.Evaluate(ctx, script)
	if err != nil || res.Exception {
		return ""
	}
	return res.Value
}
