package browser

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/headlessweb/hweb/browser/js"
	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

// Injector runs a script in the page and returns its result value. The
// browser supplies its engine-backed evaluator; an in-page exception or
// engine failure is an error.
type Injector func(script string) (string, error)

type observerConfig struct {
	id            int
	selector      string
	subtree       bool
	childList     bool
	attributes    bool
	characterData bool
}

// MutationTracker manages in-page MutationObserver instances and turns
// their records, relayed through the engine signal channel, into typed
// bus events. One observer per selector: re-observing a selector
// replaces its previous configuration.
type MutationTracker struct {
	logger *log.Logger
	bus    *event.Bus
	inject Injector

	mu        sync.Mutex
	observers map[string]observerConfig
	nextID    int
}

// NewMutationTracker returns a tracker with no active observers.
func NewMutationTracker(logger *log.Logger, bus *event.Bus, inject Injector) *MutationTracker {
	return &MutationTracker{
		logger:    logger,
		bus:       bus,
		inject:    inject,
		observers: make(map[string]observerConfig),
		nextID:    1,
	}
}

// ObserveElement watches the element at selector for attribute and
// child list changes, without descending into the subtree.
func (t *MutationTracker) ObserveElement(selector string) error {
	return t.observe(observerConfig{
		selector:   selector,
		childList:  true,
		attributes: true,
	})
}

// ObserveSubtree watches the element at selector and its entire subtree
// for all mutation record kinds.
func (t *MutationTracker) ObserveSubtree(selector string) error {
	return t.observe(observerConfig{
		selector:      selector,
		subtree:       true,
		childList:     true,
		attributes:    true,
		characterData: true,
	})
}

func (t *MutationTracker) observe(cfg observerConfig) error {
	t.mu.Lock()
	if prev, ok := t.observers[cfg.selector]; ok {
		cfg.id = prev.id
	} else {
		cfg.id = t.nextID
		t.nextID++
	}
	t.observers[cfg.selector] = cfg
	t.mu.Unlock()

	script := js.MutationObserverScript(cfg.selector, cfg.id,
		cfg.subtree, cfg.childList, cfg.attributes, cfg.characterData)
	verdict, err := t.inject(script)
	// The setup script answers false when the selector resolves to
	// nothing; only a true verdict means an observer is watching.
	if err == nil && verdict == "false" {
		err = errors.Errorf("selector %q matches no element", cfg.selector)
	}
	if err != nil {
		t.mu.Lock()
		delete(t.observers, cfg.selector)
		t.mu.Unlock()
		return errors.Wrapf(err, "installing observer for %q", cfg.selector)
	}
	t.logger.Debugf("MutationTracker:observe", "observer %d installed for %q (subtree=%t)",
		cfg.id, cfg.selector, cfg.subtree)
	return nil
}

// StopObserving disconnects the observer for selector. Unknown
// selectors are a no-op.
func (t *MutationTracker) StopObserving(selector string) error {
	t.mu.Lock()
	cfg, ok := t.observers[selector]
	if ok {
		delete(t.observers, selector)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := t.inject(js.StopObserverScript(cfg.id)); err != nil {
		return errors.Wrapf(err, "stopping observer for %q", selector)
	}
	return nil
}

// StopAllObservers disconnects every observer, both locally and in the
// page.
func (t *MutationTracker) StopAllObservers() error {
	t.mu.Lock()
	n := len(t.observers)
	t.observers = make(map[string]observerConfig)
	t.mu.Unlock()
	if n == 0 {
		return nil
	}
	if _, err := t.inject(js.StopAllObserversScript()); err != nil {
		return errors.Wrap(err, "stopping all observers")
	}
	t.logger.Debugf("MutationTracker:stopAll", "%d observers disconnected", n)
	return nil
}

// IsObserving reports whether an observer is active for selector.
func (t *MutationTracker) IsObserving(selector string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.observers[selector]
	return ok
}

// ObserverCount returns the number of active observers.
func (t *MutationTracker) ObserverCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.observers)
}

// ReinstallAll re-injects every registered observer. Called after a
// navigation wipes the page-global registry.
func (t *MutationTracker) ReinstallAll() {
	t.mu.Lock()
	configs := make([]observerConfig, 0, len(t.observers))
	for _, cfg := range t.observers {
		configs = append(configs, cfg)
	}
	t.mu.Unlock()
	for _, cfg := range configs {
		script := js.MutationObserverScript(cfg.selector, cfg.id,
			cfg.subtree, cfg.childList, cfg.attributes, cfg.characterData)
		verdict, err := t.inject(script)
		switch {
		case err != nil:
			t.logger.Warnf("MutationTracker:reinstall", "observer for %q: %v", cfg.selector, err)
		case verdict == "false":
			t.logger.Warnf("MutationTracker:reinstall", "observer for %q: selector matches no element yet", cfg.selector)
		}
	}
}

// HandleMutationPayload translates one mutation record, as posted by
// the in-page observer, into a bus event. The payload is the JSON body
// of a MUTATION page message:
//
//	{"observerId": 1, "selector": "#list", "kind": "added",
//	 "added": 2, "removed": 0, "attribute": "", "oldValue": ""}
func (t *MutationTracker) HandleMutationPayload(payload string) {
	if !gjson.Valid(payload) {
		t.logger.Debugf("MutationTracker:handle", "discarding malformed mutation payload %q", payload)
		return
	}
	rec := gjson.Parse(payload)
	t.emitRecord(rec.Get("selector").String(), rec)
}

func (t *MutationTracker) emitRecord(selector string, rec gjson.Result) {
	switch event.MutationKind(rec.Get("kind").String()) {
	case event.MutationAdded:
		t.bus.Emit(event.NewDOM(event.KindElementAdded, selector, event.DOMData{
			Mutation:   event.MutationAdded,
			AddedCount: int(rec.Get("added").Int()),
		}))
	case event.MutationRemoved:
		t.bus.Emit(event.NewDOM(event.KindElementRemoved, selector, event.DOMData{
			Mutation:     event.MutationRemoved,
			RemovedCount: int(rec.Get("removed").Int()),
		}))
	case event.MutationAttributes:
		t.bus.Emit(event.NewDOM(event.KindAttributeChanged, selector, event.DOMData{
			Mutation:  event.MutationAttributes,
			Attribute: rec.Get("attribute").String(),
			OldValue:  rec.Get("oldValue").String(),
		}))
	case event.MutationCharacterData:
		t.bus.Emit(event.NewDOM(event.KindTextChanged, selector, event.DOMData{
			Mutation: event.MutationCharacterData,
			OldValue: rec.Get("oldValue").String(),
		}))
	default:
		t.logger.Debugf("MutationTracker:handle", "unknown mutation record kind %q", rec.Get("kind").String())
	}
}

// waitForMutation installs an observer for selector if none is active,
// then waits for the first event of kind matching cond.
func (t *MutationTracker) waitForMutation(kind event.Kind, selector string, timeout time.Duration, cond event.Condition, what string) *future.Future[event.Event] {
	t.mu.Lock()
	_, observed := t.observers[selector]
	t.mu.Unlock()
	if !observed {
		if err := t.ObserveSubtree(selector); err != nil {
			p := future.NewPromise[event.Event]()
			p.Reject(err)
			return p.Future()
		}
	}

	match := func(evt event.Event) bool {
		if evt.Target != selector {
			return false
		}
		return cond == nil || cond(evt)
	}
	p := future.NewPromise[event.Event]()
	id := t.bus.SubscribeOnceWithCondition(kind, func(evt event.Event) {
		p.Resolve(evt)
	}, match)
	if timeout > 0 {
		time.AfterFunc(timeout, func() {
			err := errors.Errorf("timed out after %v waiting for %s on %q", timeout, what, selector)
			if p.Reject(err) {
				t.bus.Unsubscribe(id)
			}
		})
	}
	return p.Future()
}

// WaitForElementAdded waits for a child addition under selector.
func (t *MutationTracker) WaitForElementAdded(selector string, timeout time.Duration) *future.Future[event.Event] {
	return t.waitForMutation(event.KindElementAdded, selector, timeout, nil, "element addition")
}

// WaitForElementRemoved waits for a child removal under selector.
func (t *MutationTracker) WaitForElementRemoved(selector string, timeout time.Duration) *future.Future[event.Event] {
	return t.waitForMutation(event.KindElementRemoved, selector, timeout, nil, "element removal")
}

// WaitForAttributeChange waits for attribute to change on selector.
func (t *MutationTracker) WaitForAttributeChange(selector, attribute string, timeout time.Duration) *future.Future[event.Event] {
	cond := func(evt event.Event) bool {
		return evt.DOM != nil && evt.DOM.Attribute == attribute
	}
	what := fmt.Sprintf("attribute %q change", attribute)
	return t.waitForMutation(event.KindAttributeChanged, selector, timeout, cond, what)
}

// WaitForTextChange waits for a character data mutation under selector.
func (t *MutationTracker) WaitForTextChange(selector string, timeout time.Duration) *future.Future[event.Event] {
	return t.waitForMutation(event.KindTextChanged, selector, timeout, nil, "text change")
}
