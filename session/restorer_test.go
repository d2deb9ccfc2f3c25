package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/headlessweb/hweb/browser/js"
	"github.com/headlessweb/hweb/event"
	"github.com/headlessweb/hweb/future"
	"github.com/headlessweb/hweb/log"
)

// fakeTarget records restore calls in order and answers them from a
// scripted outcome map.
type fakeTarget struct {
	bus   *event.Bus
	calls []string
	fail  map[string]bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		bus:  event.NewBus(log.NewNullLogger()),
		fail: make(map[string]bool),
	}
}

func (f *fakeTarget) step(name string) *future.Future[bool] {
	f.calls = append(f.calls, name)
	return future.Resolved(!f.fail[name])
}

func (f *fakeTarget) Bus() *event.Bus { return f.bus }
func (f *fakeTarget) NavigateAsync(string, time.Duration) *future.Future[bool] {
	return f.step("navigation")
}
func (f *fakeTarget) RestoreCookiesAsync([]js.CookieArg, time.Duration) *future.Future[bool] {
	return f.step("cookies")
}
func (f *fakeTarget) RestoreLocalStorageAsync(map[string]string, time.Duration) *future.Future[bool] {
	return f.step("localStorage")
}
func (f *fakeTarget) RestoreSessionStorageAsync(map[string]string, time.Duration) *future.Future[bool] {
	return f.step("sessionStorage")
}
func (f *fakeTarget) RestoreFormsAsync(map[string]string, time.Duration) *future.Future[bool] {
	return f.step("forms")
}
func (f *fakeTarget) RestoreScrollAsync(int, int, time.Duration) *future.Future[bool] {
	return f.step("scroll")
}
func (f *fakeTarget) RestoreActiveElementAsync(string, time.Duration) *future.Future[bool] {
	return f.step("activeElement")
}

func fullRecord() *Record {
	r := NewRecord("full")
	r.URL = "https://app.test/"
	r.Cookies = []Cookie{{Name: "sid", Value: "1"}}
	r.LocalStorage = map[string]string{"a": "1"}
	r.SessionStorage = map[string]string{"b": "2"}
	r.FormFields = map[string]string{"#x": "y"}
	r.ScrollY = 100
	r.ActiveElement = null.StringFrom("#x")
	return r
}

func TestRestorerRunsStepsInOrder(t *testing.T) {
	t.Parallel()
	target := newFakeTarget()
	r := NewRestorer(log.NewNullLogger(), Options{})

	res := r.Restore(target, fullRecord())
	assert.Equal(t, []string{
		"navigation", "cookies", "localStorage", "sessionStorage",
		"forms", "scroll", "activeElement",
	}, target.calls)
	assert.True(t, res.Succeeded)
	assert.Equal(t, 7, res.Restored)
	assert.Equal(t, 7, res.Total)
}

func TestRestorerSkipsEmptyComponents(t *testing.T) {
	t.Parallel()
	target := newFakeTarget()
	r := NewRestorer(log.NewNullLogger(), Options{})

	record := NewRecord("sparse")
	record.URL = "https://app.test/"
	record.FormFields = map[string]string{"#x": "y"}

	res := r.Restore(target, record)
	assert.Equal(t, []string{"navigation", "forms"}, target.calls)
	assert.Equal(t, 2, res.Total)
}

func TestRestorerStopsOnFirstFailure(t *testing.T) {
	t.Parallel()
	target := newFakeTarget()
	target.fail["cookies"] = true
	r := NewRestorer(log.NewNullLogger(), Options{})

	res := r.Restore(target, fullRecord())
	assert.Equal(t, []string{"navigation", "cookies"}, target.calls)
	assert.False(t, res.Succeeded)
	assert.Equal(t, 1, res.Restored)
	assert.Equal(t, []string{"cookies"}, res.Failed)
}

func TestRestorerContinueOnError(t *testing.T) {
	t.Parallel()
	target := newFakeTarget()
	target.fail["cookies"] = true
	target.fail["scroll"] = true
	r := NewRestorer(log.NewNullLogger(), Options{ContinueOnError: true})

	res := r.Restore(target, fullRecord())
	assert.Len(t, target.calls, 7)
	assert.Equal(t, 5, res.Restored)
	assert.Equal(t, []string{"cookies", "scroll"}, res.Failed)
	assert.False(t, res.Succeeded)
}

func TestRestorerEmitsCompletionEvent(t *testing.T) {
	t.Parallel()
	target := newFakeTarget()
	r := NewRestorer(log.NewNullLogger(), Options{})

	var got []event.Event
	target.bus.Subscribe(event.KindSessionRestored, func(evt event.Event) { got = append(got, evt) })

	r.Restore(target, fullRecord())
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Session)
	assert.Equal(t, "full", got[0].Session.SessionName)
	assert.Equal(t, 7, got[0].Session.ProcessedCount)
	assert.True(t, got[0].Session.Success)
}

// fakePage answers captures from canned script results.
type fakePage struct {
	url     string
	title   string
	results map[string]string
}

func (f *fakePage) CurrentURL(context.Context) (string, error) { return f.url, nil }
func (f *fakePage) Title(context.Context) (string, error)      { return f.title, nil }
func (f *fakePage) EvaluateValue(_ context.Context, script string) string {
	for marker, result := range f.results {
		if strings.Contains(script, marker) {
			return result
		}
	}
	return ""
}

func TestCaptureBuildsRecord(t *testing.T) {
	t.Parallel()
	page := &fakePage{
		url:   "https://app.test/settings",
		title: "Settings",
		results: map[string]string{
			"document.cookie":        "sid=abc; theme=dark",
			"localStorage":           `{"token":"t1"}`,
			"sessionStorage":         `{"draft":"d1"}`,
			"querySelectorAll":       `{"#email":"a@b.test"}`,
			"pageXOffset":            `{"x":0,"y":420}`,
			"document.activeElement": "#email",
		},
	}

	record := Capture(context.Background(), page, "settings")
	assert.Equal(t, "settings", record.Name)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "https://app.test/settings", record.URL)
	assert.Equal(t, "Settings", record.Title.String)
	assert.Equal(t, []Cookie{{Name: "sid", Value: "abc"}, {Name: "theme", Value: "dark"}}, record.Cookies)
	assert.Equal(t, map[string]string{"token": "t1"}, record.LocalStorage)
	assert.Equal(t, map[string]string{"draft": "d1"}, record.SessionStorage)
	assert.Equal(t, map[string]string{"#email": "a@b.test"}, record.FormFields)
	assert.Equal(t, 420, record.ScrollY)
	assert.Equal(t, "#email", record.ActiveElement.String)
}

func TestParseCookieString(t *testing.T) {
	t.Parallel()
	assert.Nil(t, parseCookieString(""))
	assert.Equal(t, []Cookie{{Name: "a", Value: "1"}}, parseCookieString("a=1"))
	assert.Equal(t,
		[]Cookie{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}},
		parseCookieString(" a=1;  b=2 "))
	assert.Nil(t, parseCookieString("malformed-no-equals"))
}
