package browser

import (
	"context"
	"time"

	"github.com/headlessweb/hweb/browser/js"
	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
)

// startRestore injects a session restore script and resolves true once
// the page posts the matching restore confirmation. component narrows
// the subscription where one event kind covers several stores (local
// vs session storage); empty matches any confirmation of the kind.
func (b *Browser) startRestore(kind event.Kind, component, script string, timeout time.Duration) *future.Future[bool] {
	if !b.valid.Load() {
		return future.Resolved(false)
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	var cond event.Condition
	if component != "" {
		cond = func(evt event.Event) bool {
			return evt.Session != nil && evt.Session.Component == component
		}
	}
	p := future.NewPromise[bool]()
	id := b.bus.SubscribeOnceWithCondition(kind, func(evt event.Event) {
		p.Resolve(evt.Session == nil || evt.Session.Success)
	}, cond)
	time.AfterFunc(timeout, func() {
		if p.Resolve(false) {
			b.bus.Unsubscribe(id)
		}
	})
	go func() {
		if err := b.inject(script); err != nil {
			b.logger.Debugf("Browser:restore", "%s injection failed: %v", kind, err)
			if p.Resolve(false) {
				b.bus.Unsubscribe(id)
			}
		}
	}()
	return p.Future()
}

// RestoreCookiesAsync writes cookies into the page through
// document.cookie and resolves once the page confirms.
func (b *Browser) RestoreCookiesAsync(cookies []js.CookieArg, timeout time.Duration) *future.Future[bool] {
	if len(cookies) == 0 {
		return future.Resolved(true)
	}
	return b.startRestore(event.KindCookiesRestored, "", js.RestoreCookiesScript(cookies), timeout)
}

// RestoreLocalStorageAsync writes entries into window.localStorage.
func (b *Browser) RestoreLocalStorageAsync(entries map[string]string, timeout time.Duration) *future.Future[bool] {
	if len(entries) == 0 {
		return future.Resolved(true)
	}
	return b.startRestore(event.KindStorageRestored, "local", js.RestoreStorageScript("local", entries), timeout)
}

// RestoreSessionStorageAsync writes entries into window.sessionStorage.
func (b *Browser) RestoreSessionStorageAsync(entries map[string]string, timeout time.Duration) *future.Future[bool] {
	if len(entries) == 0 {
		return future.Resolved(true)
	}
	return b.startRestore(event.KindStorageRestored, "session", js.RestoreStorageScript("session", entries), timeout)
}

// RestoreFormsAsync writes saved form field values back into the page,
// keyed by selector, firing input events so reactive frameworks notice.
func (b *Browser) RestoreFormsAsync(fields map[string]string, timeout time.Duration) *future.Future[bool] {
	if len(fields) == 0 {
		return future.Resolved(true)
	}
	return b.startRestore(event.KindFormsRestored, "", js.RestoreFormsScript(fields), timeout)
}

// RestoreScrollAsync restores the window scroll position and reports it
// as session progress.
func (b *Browser) RestoreScrollAsync(x, y int, timeout time.Duration) *future.Future[bool] {
	f := b.ScrollToAsync("", x, y, timeout)
	p := future.NewPromise[bool]()
	go func() {
		ok, err := f.Get(context.Background())
		ok = ok && err == nil
		if ok {
			b.bus.Emit(event.NewSession(event.KindScrollRestored, event.SessionData{
				Component: "scroll",
				Success:   true,
			}))
		}
		p.Resolve(ok)
	}()
	return p.Future()
}

// RestoreActiveElementAsync refocuses the previously focused element.
func (b *Browser) RestoreActiveElementAsync(selector string, timeout time.Duration) *future.Future[bool] {
	if selector == "" {
		return future.Resolved(true)
	}
	f := b.FocusElementAsync(selector, timeout)
	p := future.NewPromise[bool]()
	go func() {
		ok, err := f.Get(context.Background())
		ok = ok && err == nil
		if ok {
			b.bus.Emit(event.NewSession(event.KindActiveElementRestored, event.SessionData{
				Component: selector,
				Success:   true,
			}))
		}
		p.Resolve(ok)
	}()
	return p.Future()
}
