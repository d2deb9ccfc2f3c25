// Package js embeds the scripts injected into pages: the readiness
// probe, mutation observer setup, interaction scripts and session
// restore helpers. Templates carry __TOKEN__ placeholders substituted
// with JSON-encoded arguments, so selector and value strings can never
// break out of the script.
package js

import (
	"encoding/json"
	"strings"

	_ "embed"
)

// ReadinessCheckScript is the self-contained, idempotent-to-inject probe
// returning a JSON snapshot of the page readiness checks. Network idle is
// supplied externally by the network tracker and is deliberately absent
// from the snapshot.
//
//go:embed readiness_check.js
var ReadinessCheckScript string

// bootstrapScript creates the page-global __hweb namespace and its emit
// side channel. It is prepended to every interaction script; creation is
// guarded by existence checks since the namespace never survives a
// navigation.
const bootstrapScript = `
if (!window.__hweb) { window.__hweb = { observers: {}, nextObserverId: 1 }; }
if (!window.__hweb.emit) {
	window.__hweb.emit = function (msg) {
		try {
			if (window.webkit && window.webkit.messageHandlers && window.webkit.messageHandlers.hweb) {
				window.webkit.messageHandlers.hweb.postMessage(JSON.stringify(msg));
			}
		} catch (e) {}
	};
}
`

//go:embed mutation_observer.js
var mutationObserverTemplate string

//go:embed fill_input.js
var fillInputTemplate string

//go:embed click_element.js
var clickElementTemplate string

//go:embed select_option.js
var selectOptionTemplate string

//go:embed check_element.js
var checkElementTemplate string

//go:embed submit_form.js
var submitFormTemplate string

//go:embed focus_element.js
var focusElementTemplate string

//go:embed scroll_element.js
var scrollElementTemplate string

//go:embed restore_storage.js
var restoreStorageTemplate string

//go:embed restore_forms.js
var restoreFormsTemplate string

//go:embed restore_cookies.js
var restoreCookiesTemplate string

// quote JSON-encodes v for safe embedding in a script.
func quote(v any) string {
	buf, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(buf)
}

func render(template string, pairs ...string) string {
	return bootstrapScript + strings.NewReplacer(pairs...).Replace(template)
}

func boolToken(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// MutationObserverScript renders the observer setup script. The script
// registers the observer under observerID in the page-global registry,
// replacing a prior observer with the same id, and returns false if the
// selector does not resolve.
func MutationObserverScript(selector string, observerID int, subtree, childList, attributes, characterData bool) string {
	return render(mutationObserverTemplate,
		"__SELECTOR__", quote(selector),
		"__OBSERVER_ID__", quote(observerID),
		"__SUBTREE__", boolToken(subtree),
		"__CHILD_LIST__", boolToken(childList),
		"__ATTRIBUTES__", boolToken(attributes),
		"__CHARACTER_DATA__", boolToken(characterData),
	)
}

// StopObserverScript disconnects and unregisters the observer with the
// given id.
func StopObserverScript(observerID int) string {
	id := quote(observerID)
	return bootstrapScript + `
(function () {
	var o = window.__hweb.observers[` + id + `];
	if (o) { o.disconnect(); delete window.__hweb.observers[` + id + `]; return true; }
	return false;
})()`
}

// StopAllObserversScript disconnects every registered observer.
func StopAllObserversScript() string {
	return bootstrapScript + `
(function () {
	var n = 0;
	for (var id in window.__hweb.observers) {
		window.__hweb.observers[id].disconnect();
		delete window.__hweb.observers[id];
		n++;
	}
	return n;
})()`
}

// FillInputScript fills the element at selector with value and dispatches
// the realistic focus/keydown/input/keyup/change sequence.
func FillInputScript(selector, value string) string {
	return render(fillInputTemplate, "__SELECTOR__", quote(selector), "__VALUE__", quote(value))
}

// ClickElementScript clicks the element at selector with a
// mousedown/mouseup/click sequence.
func ClickElementScript(selector string) string {
	return render(clickElementTemplate, "__SELECTOR__", quote(selector))
}

// SelectOptionScript selects the option matching value (by value or
// visible text) in the select element at selector.
func SelectOptionScript(selector, value string) string {
	return render(selectOptionTemplate, "__SELECTOR__", quote(selector), "__VALUE__", quote(value))
}

// CheckElementScript sets the checked state of the element at selector.
func CheckElementScript(selector string, checked bool) string {
	return render(checkElementTemplate, "__SELECTOR__", quote(selector), "__CHECKED__", boolToken(checked))
}

// SubmitFormScript submits the form at (or enclosing) selector.
func SubmitFormScript(selector string) string {
	return render(submitFormTemplate, "__SELECTOR__", quote(selector))
}

// FocusElementScript focuses the element at selector.
func FocusElementScript(selector string) string {
	return render(focusElementTemplate, "__SELECTOR__", quote(selector))
}

// ScrollScript scrolls the element at selector (or the window, when
// selector is empty) to the given offsets.
func ScrollScript(selector string, x, y int) string {
	return render(scrollElementTemplate,
		"__SELECTOR__", quote(selector),
		"__X__", quote(x),
		"__Y__", quote(y),
	)
}

// RestoreStorageScript writes entries into local or session storage.
// kind is "local" or "session".
func RestoreStorageScript(kind string, entries map[string]string) string {
	return render(restoreStorageTemplate, "__KIND__", quote(kind), "__ENTRIES__", quote(entries))
}

// RestoreFormsScript writes saved form field values back, keyed by
// selector.
func RestoreFormsScript(fields map[string]string) string {
	return render(restoreFormsTemplate, "__FIELDS__", quote(fields))
}

// CookieArg is the wire shape of a cookie passed to the restore script.
type CookieArg struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Domain string `json:"domain,omitempty"`
	Secure bool   `json:"secure,omitempty"`
}

// RestoreCookiesScript writes cookies through document.cookie.
func RestoreCookiesScript(cookies []CookieArg) string {
	return render(restoreCookiesTemplate, "__COOKIES__", quote(cookies))
}
