// Package event implements the typed publish/subscribe hub that browser
// lifecycle notifications flow through: navigation, DOM mutations, network
// activity, readiness milestones and session-restore progress.
package event

import "time"

// Kind identifies the type of a browser lifecycle event.
type Kind int

// Browser lifecycle event kinds.
const (
	// KindNavigationStarted is emitted when a navigation begins.
	KindNavigationStarted Kind = iota
	// KindNavigationCompleted is emitted when a navigation finishes,
	// successfully or not.
	KindNavigationCompleted
	// KindURLChanged is emitted when the page URL changes, including
	// same-document (SPA) changes.
	KindURLChanged
	// KindTitleChanged is emitted when the page title changes.
	KindTitleChanged
	// KindSPANavigation is emitted for same-document navigations detected
	// via the History API or fragment changes.
	KindSPANavigation

	// KindPageLoadStarted, KindPageLoadProgress and KindPageLoadComplete
	// mirror the engine's load progress reporting.
	KindPageLoadStarted
	KindPageLoadProgress
	KindPageLoadComplete

	// KindElementAdded, KindElementRemoved, KindAttributeChanged and
	// KindTextChanged relay page-side mutation observer records.
	KindElementAdded
	KindElementRemoved
	KindAttributeChanged
	KindTextChanged

	// KindRequestStarted, KindRequestCompleted and KindRequestFailed track
	// individual network requests. KindNetworkIdle fires once the active
	// request count has stayed at zero past the stabilization delay.
	KindRequestStarted
	KindRequestCompleted
	KindRequestFailed
	KindNetworkIdle

	// Granular readiness flags, one per tracked readiness dimension.
	KindDOMReady
	KindJavaScriptReady
	KindResourcesLoaded
	KindFontsLoaded
	KindImagesLoaded
	KindStylesApplied

	// Composite readiness milestones, emitted when the corresponding
	// readiness level is newly satisfied.
	KindPageInteractive
	KindPageComplete
	KindBrowserReady

	// KindStateChanged is emitted on every browser state transition.
	KindStateChanged

	// Interaction completions signalled from injected page scripts.
	KindInputFilled
	KindElementClicked
	KindOptionSelected
	KindElementChecked
	KindFormSubmitted
	KindElementFocused
	KindElementScrolled

	// Session restore progress, one event per restored component plus a
	// final completion event.
	KindCookiesRestored
	KindStorageRestored
	KindFormsRestored
	KindScrollRestored
	KindActiveElementRestored
	KindSessionRestored
)

var kindNames = map[Kind]string{
	KindNavigationStarted:     "navigationStarted",
	KindNavigationCompleted:   "navigationCompleted",
	KindURLChanged:            "urlChanged",
	KindTitleChanged:          "titleChanged",
	KindSPANavigation:         "spaNavigation",
	KindPageLoadStarted:       "pageLoadStarted",
	KindPageLoadProgress:      "pageLoadProgress",
	KindPageLoadComplete:      "pageLoadComplete",
	KindElementAdded:          "elementAdded",
	KindElementRemoved:        "elementRemoved",
	KindAttributeChanged:      "attributeChanged",
	KindTextChanged:           "textChanged",
	KindRequestStarted:        "requestStarted",
	KindRequestCompleted:      "requestCompleted",
	KindRequestFailed:         "requestFailed",
	KindNetworkIdle:           "networkIdle",
	KindDOMReady:              "domReady",
	KindJavaScriptReady:       "javascriptReady",
	KindResourcesLoaded:       "resourcesLoaded",
	KindFontsLoaded:           "fontsLoaded",
	KindImagesLoaded:          "imagesLoaded",
	KindStylesApplied:         "stylesApplied",
	KindPageInteractive:       "pageInteractive",
	KindPageComplete:          "pageComplete",
	KindBrowserReady:          "browserReady",
	KindStateChanged:          "stateChanged",
	KindInputFilled:           "inputFilled",
	KindElementClicked:        "elementClicked",
	KindOptionSelected:        "optionSelected",
	KindElementChecked:        "elementChecked",
	KindFormSubmitted:         "formSubmitted",
	KindElementFocused:        "elementFocused",
	KindElementScrolled:       "elementScrolled",
	KindCookiesRestored:       "cookiesRestored",
	KindStorageRestored:       "storageRestored",
	KindFormsRestored:         "formsRestored",
	KindScrollRestored:        "scrollRestored",
	KindActiveElementRestored: "activeElementRestored",
	KindSessionRestored:       "sessionRestored",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// MutationKind classifies a DOM mutation record.
type MutationKind string

// DOM mutation record kinds, matching the MutationObserver API.
const (
	MutationAdded         MutationKind = "added"
	MutationRemoved       MutationKind = "removed"
	MutationAttributes    MutationKind = "attributes"
	MutationCharacterData MutationKind = "characterData"
)

// LoadState describes the progress phase carried by a page load event.
type LoadState string

// Page load phases.
const (
	LoadStateStarted  LoadState = "started"
	LoadStateProgress LoadState = "progress"
	LoadStateComplete LoadState = "complete"
)

// Event is the record delivered to subscribers. Target is overloaded as a
// selector, URL or identifier depending on Kind; Data carries a secondary
// string payload (value, attribute name, error message). The typed payload
// pointers form a tagged union selected by Kind: exactly the payload
// matching the kind family is non-nil, the rest stay nil.
//
// Events are immutable once emitted; Timestamp is stamped at construction.
type Event struct {
	Kind      Kind
	Target    string
	Data      string
	Timestamp time.Time

	Navigation *NavigationData
	DOM        *DOMData
	Network    *NetworkData
	PageLoad   *PageLoadData
	Session    *SessionData
	State      *StateChangeData
}

// NavigationData is the payload of navigation events.
type NavigationData struct {
	URL         string
	PreviousURL string
	Success     bool
}

// DOMData is the payload of DOM mutation events.
type DOMData struct {
	Selector     string
	Mutation     MutationKind
	AddedCount   int
	RemovedCount int
	Attribute    string
	OldValue     string
}

// NetworkData is the payload of network request events.
type NetworkData struct {
	URL        string
	StatusCode int
	Method     string
	Completed  bool
}

// PageLoadData is the payload of page load progress events.
type PageLoadData struct {
	URL      string
	Progress float64
	State    LoadState
	IsSPA    bool
}

// SessionData is the payload of session restore progress events.
type SessionData struct {
	SessionName    string
	Operation      string
	Component      string
	ProcessedCount int
	TotalCount     int
	Success        bool
}

// StateChangeData is the payload of state transition events. The ordinals
// mirror the browser state enumeration; the event package stays agnostic
// of the concrete state type to avoid an import cycle.
type StateChangeData struct {
	Previous int
	Current  int
}

// New returns a generic event of the given kind.
func New(kind Kind, target, data string) Event {
	return Event{Kind: kind, Target: target, Data: data, Timestamp: time.Now()}
}

// NewNavigation returns a navigation event.
func NewNavigation(kind Kind, url, previousURL string, success bool) Event {
	e := New(kind, url, "")
	e.Navigation = &NavigationData{URL: url, PreviousURL: previousURL, Success: success}
	return e
}

// NewDOM returns a DOM mutation event targeting selector.
func NewDOM(kind Kind, selector string, d DOMData) Event {
	d.Selector = selector
	e := New(kind, selector, d.Attribute)
	e.DOM = &d
	return e
}

// NewNetwork returns a network request event.
func NewNetwork(kind Kind, url, method string, status int, completed bool) Event {
	e := New(kind, url, method)
	e.Network = &NetworkData{URL: url, StatusCode: status, Method: method, Completed: completed}
	return e
}

// NewPageLoad returns a page load progress event.
func NewPageLoad(kind Kind, url string, progress float64, state LoadState, isSPA bool) Event {
	e := New(kind, url, string(state))
	e.PageLoad = &PageLoadData{URL: url, Progress: progress, State: state, IsSPA: isSPA}
	return e
}

// NewSession returns a session restore progress event.
func NewSession(kind Kind, d SessionData) Event {
	e := New(kind, d.SessionName, d.Component)
	e.Session = &SessionData{
		SessionName:    d.SessionName,
		Operation:      d.Operation,
		Component:      d.Component,
		ProcessedCount: d.ProcessedCount,
		TotalCount:     d.TotalCount,
		Success:        d.Success,
	}
	return e
}

// NewStateChange returns a state transition event.
func NewStateChange(previous, current int, name string) Event {
	e := New(KindStateChanged, name, "")
	e.State = &StateChangeData{Previous: previous, Current: current}
	return e
}
