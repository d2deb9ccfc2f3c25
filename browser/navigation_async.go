package browser

import (
	"context"
	"time"

	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
)

// NavigateAsync starts loading url and resolves with the navigation
// outcome: true when the load finishes, false when it fails or the
// timeout expires first.
func (b *Browser) NavigateAsync(url string, timeout time.Duration) *future.Future[bool] {
	if !b.valid.Load() {
		return future.Resolved(false)
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	p := future.NewPromise[bool]()
	id := b.bus.SubscribeOnceWithCondition(event.KindNavigationCompleted, func(evt event.Event) {
		p.Resolve(evt.Navigation != nil && evt.Navigation.Success)
	}, func(evt event.Event) bool {
		return evt.Navigation == nil || evt.Navigation.URL == url || evt.Target == url
	})
	time.AfterFunc(timeout, func() {
		if p.Resolve(false) {
			b.bus.Unsubscribe(id)
		}
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := b.eng.LoadURI(ctx, url); err != nil {
			b.logger.Warnf("Browser:navigate", "load of %q failed to start: %v", url, err)
			if p.Resolve(false) {
				b.bus.Unsubscribe(id)
			}
		}
	}()
	return p.Future()
}

// NavigateAndWait is the blocking form of NavigateAsync.
func (b *Browser) NavigateAndWait(url string, timeout time.Duration) bool {
	return b.wait(b.NavigateAsync(url, timeout), timeout)
}

// historyOp runs a History API script and resolves on the next completed
// navigation or URL change, whichever the page produces.
func (b *Browser) historyOp(script string, timeout time.Duration) *future.Future[bool] {
	if !b.valid.Load() {
		return future.Resolved(false)
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	p := future.NewPromise[bool]()
	ids := []event.SubscriptionID{
		b.bus.SubscribeOnce(event.KindNavigationCompleted, func(event.Event) { p.Resolve(true) }),
		b.bus.SubscribeOnce(event.KindURLChanged, func(event.Event) { p.Resolve(true) }),
	}
	cleanup := func() {
		for _, id := range ids {
			b.bus.Unsubscribe(id)
		}
	}
	time.AfterFunc(timeout, func() {
		if p.Resolve(false) {
			cleanup()
		}
	})
	go func() {
		<-p.Future().Done()
		cleanup()
	}()

	go func() {
		if err := b.inject(script); err != nil {
			if p.Resolve(false) {
				cleanup()
			}
		}
	}()
	return p.Future()
}

// GoBackAsync navigates one step back in session history.
func (b *Browser) GoBackAsync(timeout time.Duration) *future.Future[bool] {
	return b.historyOp("history.back()", timeout)
}

// GoForwardAsync navigates one step forward in session history.
func (b *Browser) GoForwardAsync(timeout time.Duration) *future.Future[bool] {
	return b.historyOp("history.forward()", timeout)
}

// ReloadAsync reloads the current page and resolves on load completion.
func (b *Browser) ReloadAsync(timeout time.Duration) *future.Future[bool] {
	if !b.valid.Load() {
		return future.Resolved(false)
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	p := future.NewPromise[bool]()
	id := b.bus.SubscribeOnce(event.KindNavigationCompleted, func(evt event.Event) {
		p.Resolve(evt.Navigation == nil || evt.Navigation.Success)
	})
	time.AfterFunc(timeout, func() {
		if p.Resolve(false) {
			b.bus.Unsubscribe(id)
		}
	})
	go func() {
		if err := b.inject("location.reload()"); err != nil {
			if p.Resolve(false) {
				b.bus.Unsubscribe(id)
			}
		}
	}()
	return p.Future()
}

// GoBack is the blocking form of GoBackAsync.
func (b *Browser) GoBack(timeout time.Duration) bool {
	return b.wait(b.GoBackAsync(timeout), timeout)
}

// GoForward is the blocking form of GoForwardAsync.
func (b *Browser) GoForward(timeout time.Duration) bool {
	return b.wait(b.GoForwardAsync(timeout), timeout)
}

// Reload is the blocking form of ReloadAsync.
func (b *Browser) Reload(timeout time.Duration) bool {
	return b.wait(b.ReloadAsync(timeout), timeout)
}
