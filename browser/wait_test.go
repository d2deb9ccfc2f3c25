package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForSelector(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		eng.MustRun(`document.elements['#late'] = element('DIV')`)
	}()
	assert.True(t, b.WaitForSelector("#late", 2*time.Second))
}

func TestWaitForSelectorTimesOut(t *testing.T) {
	t.Parallel()
	b, _ := newFacadeBrowser(t)
	assert.False(t, b.WaitForSelector("#never", 200*time.Millisecond))
}

func TestWaitForText(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)
	eng.MustRun(`document.body.textContent = 'order confirmed, thank you'`)
	assert.True(t, b.WaitForText("order confirmed", time.Second))
	assert.False(t, b.WaitForText("payment failed", 200*time.Millisecond))
}

func TestWaitForElementCount(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)
	eng.MustRun(`document.elements['li'] = [element('LI'), element('LI'), element('LI')]`)

	assert.True(t, b.WaitForElementCount("li", "==", 3, time.Second))
	assert.True(t, b.WaitForElementCount("li", ">", 1, time.Second))
	assert.True(t, b.WaitForElementCount("li", "<=", 3, time.Second))
	assert.False(t, b.WaitForElementCount("li", ">", 5, 200*time.Millisecond))
}

func TestWaitForAttribute(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)
	eng.MustRun(`
		var btn = element('BUTTON');
		btn.attrs = { 'aria-busy': 'true' };
		btn.getAttribute = function (name) { return this.attrs[name] || null; };
		document.elements['#save'] = btn;
	`)

	go func() {
		time.Sleep(100 * time.Millisecond)
		eng.MustRun(`document.elements['#save'].attrs['aria-busy'] = 'false'`)
	}()
	assert.True(t, b.WaitForAttribute("#save", "aria-busy", "false", 2*time.Second))
}

func TestWaitForJSConditionThrowingIsUnmet(t *testing.T) {
	t.Parallel()
	b, _ := newFacadeBrowser(t)
	assert.False(t, b.WaitForJSCondition("window.app.state.ready", 200*time.Millisecond))
}

func TestWaitForURLChangePattern(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)

	done := make(chan bool, 1)
	go func() { done <- b.WaitForURLChange(`/checkout/\d+`, 2*time.Second) }()
	time.Sleep(50 * time.Millisecond)
	eng.SetURL("https://shop.test/cart")
	eng.SetURL("https://shop.test/checkout/42")

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("wait did not return")
	}
}

func TestWaitForFrameworkReady(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)
	eng.MustRun(`window.jQuery = { isReady: true }`)

	require.True(t, b.WaitForFrameworkReady("jquery", time.Second))
	assert.Equal(t, StateFrameworkReady, b.State().Current())
}

func TestWaitForFrameworkReadyUnknownFrameworkProbesGlobal(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)
	eng.MustRun(`window.htmx = {}`)

	assert.True(t, b.WaitForFrameworkReady("htmx", time.Second))
	assert.False(t, b.WaitForFrameworkReady("emberjs", 200*time.Millisecond))
}

func TestWaitForPageReadyFullPath(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)
	eng.MustRun(`
		document.readyState = 'complete';
		window.getComputedStyle = function () { return {}; };
	`)

	require.True(t, b.NavigateAndWait("https://ready.test/", 3*time.Second))
	// All probe-driven flags are up; network idle lands after the
	// stabilization delay since the page made no requests.
	assert.True(t, b.WaitForPageReady(2*time.Second))
	assert.True(t, b.IsPageFullyReady())
	assert.True(t, b.State().IsAtLeast(StateFullyReady))
}

func TestWaitForContentChange(t *testing.T) {
	t.Parallel()
	b, eng := newFacadeBrowser(t)
	eng.MustRun(`
		var box = element('DIV');
		box.innerHTML = 'before';
		document.elements['#box'] = box;
	`)

	go func() {
		time.Sleep(100 * time.Millisecond)
		eng.MustRun(`document.elements['#box'].innerHTML = 'after'`)
	}()
	assert.True(t, b.WaitForContentChange("#box", 2*time.Second))
}

func TestElementProbeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "found", ElementFound.String())
	assert.Equal(t, "missing", ElementMissing.String())
	assert.Equal(t, "invalid-selector", SelectorInvalid.String())
}
