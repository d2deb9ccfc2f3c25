package session

import (
	"time"

	"github.com/headlessweb/hweb/browser/js"
	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

// Target is the browser surface the restorer drives. *browser.Browser
// implements it.
type Target interface {
	Bus() *event.Bus
	NavigateAsync(url string, timeout time.Duration) *future.Future[bool]
	RestoreCookiesAsync(cookies []js.CookieArg, timeout time.Duration) *future.Future[bool]
	RestoreLocalStorageAsync(entries map[string]string, timeout time.Duration) *future.Future[bool]
	RestoreSessionStorageAsync(entries map[string]string, timeout time.Duration) *future.Future[bool]
	RestoreFormsAsync(fields map[string]string, timeout time.Duration) *future.Future[bool]
	RestoreScrollAsync(x, y int, timeout time.Duration) *future.Future[bool]
	RestoreActiveElementAsync(selector string, timeout time.Duration) *future.Future[bool]
}

// Options tunes a restore run.
type Options struct {
	// NavigationTimeout bounds the initial page load; the remaining
	// components share StepTimeout each.
	NavigationTimeout time.Duration
	StepTimeout       time.Duration

	// ContinueOnError keeps restoring remaining components after one
	// fails instead of stopping at the first failure.
	ContinueOnError bool
}

// Result reports a completed restore run.
type Result struct {
	Session   string
	Restored  int
	Total     int
	Failed    []string
	Succeeded bool
}

// Restorer replays session records against a browser in a fixed order:
// navigation, cookies, storage, forms, scroll, focus. Ordering matters:
// storage must land before a framework re-renders forms, and scroll and
// focus only make sense once the DOM is final.
type Restorer struct {
	logger *log.Logger
	opts   Options
}

// NewRestorer returns a restorer with the given defaults.
func NewRestorer(logger *log.Logger, opts Options) *Restorer {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 10 * time.Second
	}
	return &Restorer{logger: logger, opts: opts}
}

type step struct {
	component string
	run       func() *future.Future[bool]
}

// steps assembles the restore plan for record, skipping empty
// components.
func (r *Restorer) steps(target Target, record *Record) []step {
	timeout := r.opts.StepTimeout
	var plan []step

	if record.URL != "" {
		plan = append(plan, step{"navigation", func() *future.Future[bool] {
			return target.NavigateAsync(record.URL, r.opts.NavigationTimeout)
		}})
	}
	if len(record.Cookies) > 0 {
		args := make([]js.CookieArg, len(record.Cookies))
		for i, c := range record.Cookies {
			args[i] = js.CookieArg{Name: c.Name, Value: c.Value, Path: c.Path, Domain: c.Domain, Secure: c.Secure}
		}
		plan = append(plan, step{"cookies", func() *future.Future[bool] {
			return target.RestoreCookiesAsync(args, timeout)
		}})
	}
	if len(record.LocalStorage) > 0 {
		plan = append(plan, step{"localStorage", func() *future.Future[bool] {
			return target.RestoreLocalStorageAsync(record.LocalStorage, timeout)
		}})
	}
	if len(record.SessionStorage) > 0 {
		plan = append(plan, step{"sessionStorage", func() *future.Future[bool] {
			return target.RestoreSessionStorageAsync(record.SessionStorage, timeout)
		}})
	}
	if len(record.FormFields) > 0 {
		plan = append(plan, step{"forms", func() *future.Future[bool] {
			return target.RestoreFormsAsync(record.FormFields, timeout)
		}})
	}
	if record.ScrollX != 0 || record.ScrollY != 0 {
		plan = append(plan, step{"scroll", func() *future.Future[bool] {
			return target.RestoreScrollAsync(record.ScrollX, record.ScrollY, timeout)
		}})
	}
	if record.ActiveElement.Valid && record.ActiveElement.String != "" {
		plan = append(plan, step{"activeElement", func() *future.Future[bool] {
			return target.RestoreActiveElementAsync(record.ActiveElement.String, timeout)
		}})
	}
	return plan
}

// Restore replays record against target. Each step must settle before
// the next starts; the final KindSessionRestored event carries the
// overall outcome.
func (r *Restorer) Restore(target Target, record *Record) Result {
	plan := r.steps(target, record)
	res := Result{Session: record.Name, Total: len(plan)}

	for _, st := range plan {
		ok, err := st.run().WaitFor(r.opts.NavigationTimeout + r.opts.StepTimeout)
		if err != nil || !ok {
			r.logger.Warnf("Restorer:restore", "session %q: %s failed", record.Name, st.component)
			res.Failed = append(res.Failed, st.component)
			if !r.opts.ContinueOnError {
				break
			}
			continue
		}
		res.Restored++
		r.logger.Debugf("Restorer:restore", "session %q: %s restored (%d/%d)",
			record.Name, st.component, res.Restored, res.Total)
	}
	res.Succeeded = len(res.Failed) == 0

	target.Bus().Emit(event.NewSession(event.KindSessionRestored, event.SessionData{
		SessionName:    record.Name,
		Operation:      "restore",
		ProcessedCount: res.Restored,
		TotalCount:     res.Total,
		Success:        res.Succeeded,
	}))
	return res
}
