package browser

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/headlessweb/hweb/engine"
	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

// conditionPollInterval is the sleep between waiter iterations. Signals
// are drained every iteration; the JS condition itself is evaluated only
// every conditionEvalStride iterations to keep script traffic down.
const (
	conditionPollInterval = 20 * time.Millisecond
	conditionEvalStride   = 3
)

type conditionWait struct {
	id      string
	promise *future.Promise[bool]
	expired atomic.Bool
	timer   *time.Timer
}

// ConditionWaiter polls JavaScript conditions against the page while
// keeping the engine signal queue drained, so engine callbacks (and the
// futures they settle) keep making progress during a blocking wait.
// Active waits are registered so teardown can cancel them all.
type ConditionWaiter struct {
	logger *log.Logger
	eng    engine.Engine

	mu     sync.Mutex
	active map[string]*conditionWait
	closed bool
}

// NewConditionWaiter returns a waiter bound to eng.
func NewConditionWaiter(logger *log.Logger, eng engine.Engine) *ConditionWaiter {
	return &ConditionWaiter{
		logger: logger,
		eng:    eng,
		active: make(map[string]*conditionWait),
	}
}

// wrapCondition turns a bare boolean expression into a script that
// yields exactly "true" or "false" and swallows evaluation errors. A
// throwing condition counts as unmet, not as a failure of the wait.
func wrapCondition(expr string) string {
	var b strings.Builder
	b.WriteString("(function () { try { return (")
	b.WriteString(expr)
	b.WriteString(") ? 'true' : 'false'; } catch (e) { return 'false'; } })()")
	return b.String()
}

// evalOnce runs the wrapped condition once. An engine error or page
// exception is an unmet condition.
func (w *ConditionWaiter) evalOnce(script string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := w.eng.Evaluate(ctx, script)
	if err != nil {
		w.logger.Debugf("ConditionWaiter:eval", "condition evaluation failed: %v", err)
		return false
	}
	return !res.Exception && res.Value == "true"
}

// WaitForCondition resolves true when the JavaScript expression expr
// becomes truthy, or false after timeout. A condition that already
// holds resolves before any timer is armed. Between condition checks
// the engine signal queue is drained so other pending waits settle
// even while this one blocks its caller.
func (w *ConditionWaiter) WaitForCondition(expr string, timeout time.Duration) *future.Future[bool] {
	cw := &conditionWait{
		id:      uuid.NewString(),
		promise: future.NewPromise[bool](),
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		cw.promise.Resolve(false)
		return cw.promise.Future()
	}
	w.active[cw.id] = cw
	w.mu.Unlock()

	script := wrapCondition(expr)
	w.eng.DrainPending()
	if w.evalOnce(script) {
		cw.promise.Resolve(true)
		w.unregister(cw)
		return cw.promise.Future()
	}

	if timeout > 0 {
		cw.timer = time.AfterFunc(timeout, func() { cw.expired.Store(true) })
	}

	go func() {
		defer w.unregister(cw)
		for i := 1; ; i++ {
			w.eng.DrainPending()
			if cw.promise.Settled() {
				return
			}
			if i%conditionEvalStride == 0 && w.evalOnce(script) {
				cw.promise.Resolve(true)
				return
			}
			if cw.expired.Load() {
				cw.promise.Resolve(false)
				return
			}
			time.Sleep(conditionPollInterval)
		}
	}()
	return cw.promise.Future()
}

func (w *ConditionWaiter) unregister(cw *conditionWait) {
	if cw.timer != nil {
		cw.timer.Stop()
	}
	w.mu.Lock()
	delete(w.active, cw.id)
	w.mu.Unlock()
}

// ActiveWaits returns the number of in-flight condition waits.
func (w *ConditionWaiter) ActiveWaits() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

// CancelAll force-settles every active wait with false and rejects new
// ones. Called on browser teardown so no caller stays blocked on a page
// that no longer exists.
func (w *ConditionWaiter) CancelAll() {
	w.mu.Lock()
	w.closed = true
	waits := make([]*conditionWait, 0, len(w.active))
	for _, cw := range w.active {
		waits = append(waits, cw)
	}
	w.mu.Unlock()

	for _, cw := range waits {
		if cw.promise.Resolve(false) {
			w.logger.Debugf("ConditionWaiter:cancel", "wait %s cancelled on teardown", cw.id)
		}
	}
}
