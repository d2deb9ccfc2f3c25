package browser

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	"github.com/headlessweb/hweb/browser/js"
	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
)

// startInteraction is the shared shape of every async DOM operation:
// subscribe to the completion event posted back by the injected script,
// arm the timeout, then inject. The returned future resolves true on the
// confirmation event, false on timeout or when the script reports
// failure (element missing, script threw). It never rejects: "did not
// happen" is a value here, not an error.
func (b *Browser) startInteraction(kind event.Kind, selector, script string, timeout time.Duration, extra event.Condition) *future.Future[bool] {
	if !b.valid.Load() {
		return future.Resolved(false)
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	p := future.NewPromise[bool]()
	id := b.bus.SubscribeOnceWithCondition(kind, func(event.Event) {
		p.Resolve(true)
	}, func(evt event.Event) bool {
		if evt.Target != selector {
			return false
		}
		return extra == nil || extra(evt)
	})
	time.AfterFunc(timeout, func() {
		if p.Resolve(false) {
			b.bus.Unsubscribe(id)
		}
	})

	// Injection may block on the engine; keep the caller free to wait on
	// the future. The script's synchronous verdict short-circuits failure
	// without waiting out the timeout.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := b.eng.Evaluate(ctx, script)
		if err != nil || res.Exception {
			if p.Resolve(false) {
				b.bus.Unsubscribe(id)
			}
			return
		}
		if res.Value != "" && !gjson.Get(res.Value, "ok").Bool() {
			b.logger.Debugf("Browser:interaction", "%s on %q failed: %s",
				kind, selector, gjson.Get(res.Value, "reason").String())
			if p.Resolve(false) {
				b.bus.Unsubscribe(id)
			}
		}
	}()
	return p.Future()
}

// FillInputAsync fills the input at selector with value, dispatching the
// realistic event sequence, and resolves once the page confirms.
func (b *Browser) FillInputAsync(selector, value string, timeout time.Duration) *future.Future[bool] {
	cond := func(evt event.Event) bool { return evt.Data == value }
	return b.startInteraction(event.KindInputFilled, selector,
		js.FillInputScript(selector, value), timeout, cond)
}

// ClickElementAsync clicks the element at selector.
func (b *Browser) ClickElementAsync(selector string, timeout time.Duration) *future.Future[bool] {
	return b.startInteraction(event.KindElementClicked, selector,
		js.ClickElementScript(selector), timeout, nil)
}

// SelectOptionAsync selects the option matching value, by option value
// or visible text, in the select element at selector.
func (b *Browser) SelectOptionAsync(selector, value string, timeout time.Duration) *future.Future[bool] {
	return b.startInteraction(event.KindOptionSelected, selector,
		js.SelectOptionScript(selector, value), timeout, nil)
}

// CheckElementAsync sets the checked state of the checkbox or radio at
// selector.
func (b *Browser) CheckElementAsync(selector string, checked bool, timeout time.Duration) *future.Future[bool] {
	return b.startInteraction(event.KindElementChecked, selector,
		js.CheckElementScript(selector, checked), timeout, nil)
}

// SubmitFormAsync submits the form at, or enclosing, selector.
func (b *Browser) SubmitFormAsync(selector string, timeout time.Duration) *future.Future[bool] {
	return b.startInteraction(event.KindFormSubmitted, selector,
		js.SubmitFormScript(selector), timeout, nil)
}

// FocusElementAsync focuses the element at selector.
func (b *Browser) FocusElementAsync(selector string, timeout time.Duration) *future.Future[bool] {
	return b.startInteraction(event.KindElementFocused, selector,
		js.FocusElementScript(selector), timeout, nil)
}

// ScrollToAsync scrolls the element at selector, or the window when
// selector is empty, to the given offsets.
func (b *Browser) ScrollToAsync(selector string, x, y int, timeout time.Duration) *future.Future[bool] {
	return b.startInteraction(event.KindElementScrolled, selector,
		js.ScrollScript(selector, x, y), timeout, nil)
}

// Blocking wrappers. Each waits out the async form with its own timeout
// plus slack for scheduling; a timeout reports false, never an error.

func (b *Browser) wait(f *future.Future[bool], timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	ok, err := f.WaitFor(timeout + time.Second)
	return err == nil && ok
}

// FillInput is the blocking form of FillInputAsync.
func (b *Browser) FillInput(selector, value string, timeout time.Duration) bool {
	return b.wait(b.FillInputAsync(selector, value, timeout), timeout)
}

// ClickElement is the blocking form of ClickElementAsync.
func (b *Browser) ClickElement(selector string, timeout time.Duration) bool {
	return b.wait(b.ClickElementAsync(selector, timeout), timeout)
}

// SelectOption is the blocking form of SelectOptionAsync.
func (b *Browser) SelectOption(selector, value string, timeout time.Duration) bool {
	return b.wait(b.SelectOptionAsync(selector, value, timeout), timeout)
}

// CheckElement is the blocking form of CheckElementAsync.
func (b *Browser) CheckElement(selector string, checked bool, timeout time.Duration) bool {
	return b.wait(b.CheckElementAsync(selector, checked, timeout), timeout)
}

// SubmitForm is the blocking form of SubmitFormAsync.
func (b *Browser) SubmitForm(selector string, timeout time.Duration) bool {
	return b.wait(b.SubmitFormAsync(selector, timeout), timeout)
}

// FocusElement is the blocking form of FocusElementAsync.
func (b *Browser) FocusElement(selector string, timeout time.Duration) bool {
	return b.wait(b.FocusElementAsync(selector, timeout), timeout)
}

// ScrollTo is the blocking form of ScrollToAsync.
func (b *Browser) ScrollTo(selector string, x, y int, timeout time.Duration) bool {
	return b.wait(b.ScrollToAsync(selector, x, y, timeout), timeout)
}
