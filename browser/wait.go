package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/headlessweb/hweb/engine"
	"github.com/headlessweb/hweb/event"
)

// jsQuote encodes s as a JavaScript string literal.
func jsQuote(s string) string {
	buf, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(buf)
}

// WaitForSelector blocks until an element matching selector exists.
func (b *Browser) WaitForSelector(selector string, timeout time.Duration) bool {
	expr := "!!document.querySelector(" + jsQuote(selector) + ")"
	return b.waitCondition(expr, timeout)
}

// WaitForElementVisible blocks until the element at selector exists and
// has a non-empty layout box.
func (b *Browser) WaitForElementVisible(selector string, timeout time.Duration) bool {
	q := jsQuote(selector)
	expr := "(function(){var e=document.querySelector(" + q + ");" +
		"if(!e)return false;" +
		"var s=window.getComputedStyle?window.getComputedStyle(e):null;" +
		"if(s&&(s.display==='none'||s.visibility==='hidden'))return false;" +
		"var r=e.getBoundingClientRect?e.getBoundingClientRect():{width:1,height:1};" +
		"return r.width>0&&r.height>0;})()"
	return b.waitCondition(expr, timeout)
}

// WaitForText blocks until text appears anywhere in the document body.
func (b *Browser) WaitForText(text string, timeout time.Duration) bool {
	expr := "(document.body&&document.body.textContent||'').indexOf(" + jsQuote(text) + ")!==-1"
	return b.waitCondition(expr, timeout)
}

// Comparison operators accepted by WaitForElementCount.
var countOps = map[string]string{
	"==": "===", "=": "===", ">": ">", ">=": ">=", "<": "<", "<=": "<=", "!=": "!==",
}

// WaitForElementCount blocks until the number of elements matching
// selector satisfies "count op n". Unknown operators fall back to
// equality.
func (b *Browser) WaitForElementCount(selector, op string, n int, timeout time.Duration) bool {
	jsOp, ok := countOps[op]
	if !ok {
		b.logger.Warnf("Browser:wait", "unknown count operator %q, using equality", op)
		jsOp = "==="
	}
	expr := fmt.Sprintf("document.querySelectorAll(%s).length %s %d", jsQuote(selector), jsOp, n)
	return b.waitCondition(expr, timeout)
}

// WaitForAttribute blocks until the element at selector carries
// attribute with the exact value.
func (b *Browser) WaitForAttribute(selector, attribute, value string, timeout time.Duration) bool {
	expr := "(function(){var e=document.querySelector(" + jsQuote(selector) + ");" +
		"return !!e&&e.getAttribute(" + jsQuote(attribute) + ")===" + jsQuote(value) + ";})()"
	return b.waitCondition(expr, timeout)
}

// WaitForJSCondition blocks until the arbitrary JavaScript expression
// expr evaluates truthy. A throwing expression counts as unmet.
func (b *Browser) WaitForJSCondition(expr string, timeout time.Duration) bool {
	return b.waitCondition(expr, timeout)
}

func (b *Browser) waitCondition(expr string, timeout time.Duration) bool {
	if !b.valid.Load() {
		return false
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	return b.wait(b.waiter.WaitForCondition(expr, timeout), timeout)
}

// WaitForNavigation blocks until the next navigation completes and
// reports whether it succeeded.
func (b *Browser) WaitForNavigation(timeout time.Duration) bool {
	if !b.valid.Load() {
		return false
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	evt, err := b.bus.WaitForNavigation(timeout).WaitFor(timeout + time.Second)
	if err != nil {
		return false
	}
	return evt.Navigation == nil || evt.Navigation.Success
}

// patternCondition matches evt.Target against pattern: as a regular
// expression when it compiles, as a substring otherwise. An empty
// pattern matches any change.
func (b *Browser) patternCondition(pattern string) event.Condition {
	if pattern == "" {
		return nil
	}
	if re, err := regexp.Compile(pattern); err == nil {
		return func(evt event.Event) bool { return re.MatchString(evt.Target) }
	}
	return func(evt event.Event) bool { return strings.Contains(evt.Target, pattern) }
}

// WaitForURLChange blocks until the page URL changes to one matching
// pattern.
func (b *Browser) WaitForURLChange(pattern string, timeout time.Duration) bool {
	return b.waitEvent(event.KindURLChanged, pattern, timeout)
}

// WaitForTitleChange blocks until the page title changes to one matching
// pattern.
func (b *Browser) WaitForTitleChange(pattern string, timeout time.Duration) bool {
	return b.waitEvent(event.KindTitleChanged, pattern, timeout)
}

// WaitForSPANavigation blocks until a same-document navigation to a URL
// matching pattern is detected.
func (b *Browser) WaitForSPANavigation(pattern string, timeout time.Duration) bool {
	return b.waitEvent(event.KindSPANavigation, pattern, timeout)
}

func (b *Browser) waitEvent(kind event.Kind, pattern string, timeout time.Duration) bool {
	if !b.valid.Load() {
		return false
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	_, err := b.bus.WaitForEvent(kind, timeout, b.patternCondition(pattern)).WaitFor(timeout + time.Second)
	return err == nil
}

// WaitForNetworkIdle blocks until the network has been quiet for
// idleTime. A non-positive idleTime uses the stabilization delay.
func (b *Browser) WaitForNetworkIdle(idleTime, timeout time.Duration) bool {
	if !b.valid.Load() {
		return false
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	return b.wait(b.network.WaitForIdle(idleTime, timeout), timeout)
}

// WaitForRequest blocks until a request to a URL matching pattern starts
// and returns its URL, or "" on timeout.
func (b *Browser) WaitForRequest(pattern string, timeout time.Duration) string {
	if !b.valid.Load() {
		return ""
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	url, err := b.network.WaitForRequest(pattern, timeout).WaitFor(timeout + time.Second)
	if err != nil {
		return ""
	}
	return url
}

// WaitForDOMChange blocks until any mutation is observed under selector,
// installing a subtree observer if none is active.
func (b *Browser) WaitForDOMChange(selector string, timeout time.Duration) bool {
	if !b.valid.Load() {
		return false
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	if !b.mutations.IsObserving(selector) {
		if err := b.mutations.ObserveSubtree(selector); err != nil {
			return false
		}
	}
	_, err := b.bus.WaitForDOMChange(selector, timeout).WaitFor(timeout + time.Second)
	return err == nil
}

// WaitForContentChange blocks until the serialized content of selector
// differs from its value at call time. This catches replacements that
// reuse identical node counts, which a bare mutation wait can miss.
func (b *Browser) WaitForContentChange(selector string, timeout time.Duration) bool {
	if !b.valid.Load() {
		return false
	}
	q := jsQuote(selector)
	snapshot := "(function(){var e=document.querySelector(" + q + ");return e?e.innerHTML:'';})()"
	ctx, cancel := context.WithTimeout(context.Background(), defaultEvalTimeout)
	before := engine.EvaluateSync(ctx, b.eng, snapshot)
	cancel()
	expr := snapshot + "!==" + jsQuote(before)
	return b.waitCondition(expr, timeout)
}

// frameworkConditions holds the readiness probe per known framework.
// Unknown names probe for a window global of that name.
var frameworkConditions = map[string]string{
	"react": "!!(window.React||window.__REACT_DEVTOOLS_GLOBAL_HOOK__||" +
		"document.querySelector('[data-reactroot],[data-reactid]'))",
	"vue":     "!!(window.Vue||document.querySelector('[data-v-app],[data-server-rendered]'))",
	"angular": "!!(window.ng||window.angular||document.querySelector('[ng-version]'))",
	"jquery":  "!!(window.jQuery&&window.jQuery.isReady)",
}

// WaitForFrameworkReady blocks until the named JavaScript framework
// reports itself initialized, then records the framework-ready state.
func (b *Browser) WaitForFrameworkReady(framework string, timeout time.Duration) bool {
	expr, ok := frameworkConditions[strings.ToLower(framework)]
	if !ok {
		expr = "window[" + jsQuote(framework) + "]!==undefined"
	}
	if !b.waitCondition(expr, timeout) {
		return false
	}
	b.state.TransitionTo(StateFrameworkReady)
	return true
}

// WaitForPageReady blocks until every readiness dimension holds: DOM,
// scripts, resources, fonts, images, styles and network idle.
func (b *Browser) WaitForPageReady(timeout time.Duration) bool {
	if !b.valid.Load() {
		return false
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	return b.wait(b.readiness.WaitForFullReadiness(timeout), timeout)
}

// IsPageInteractive reports whether the DOM is ready for queries.
func (b *Browser) IsPageInteractive() bool {
	return b.readiness.Snapshot().IsInteractive()
}

// IsPageBasicReady reports whether the DOM is ready and scripts execute.
func (b *Browser) IsPageBasicReady() bool {
	return b.readiness.Snapshot().IsBasicReady()
}

// IsPageFullyReady reports whether every readiness dimension holds.
func (b *Browser) IsPageFullyReady() bool {
	return b.readiness.Snapshot().IsFullyReady()
}

// ElementProbe is the three-valued outcome of an existence check with
// selector validation.
type ElementProbe int

const (
	// ElementMissing: the selector is valid but matches nothing.
	ElementMissing ElementProbe = iota
	// ElementFound: the selector matches at least one element.
	ElementFound
	// SelectorInvalid: the selector itself does not parse; absence of a
	// match means nothing.
	SelectorInvalid
)

func (p ElementProbe) String() string {
	switch p {
	case ElementFound:
		return "found"
	case SelectorInvalid:
		return "invalid-selector"
	default:
		return "missing"
	}
}

// ElementExistsWithValidation distinguishes "no such element" from "the
// selector is malformed". A malformed selector makes querySelector
// throw, which surfaces as an evaluation exception rather than a falsy
// result.
func (b *Browser) ElementExistsWithValidation(ctx context.Context, selector string) (ElementProbe, error) {
	if !b.valid.Load() {
		return ElementMissing, errors.New("browser is closed")
	}
	expr := "!!document.querySelector(" + jsQuote(selector) + ")"
	res, err := b.eng.Evaluate(ctx, expr)
	if err != nil {
		return ElementMissing, err
	}
	if res.Exception {
		return SelectorInvalid, nil
	}
	if res.Value == "true" {
		return ElementFound, nil
	}
	return ElementMissing, nil
}
