package session

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/guregu/null.v3"
)

// Page is the read surface a capture needs. *browser.Browser implements
// it.
type Page interface {
	CurrentURL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	EvaluateValue(ctx context.Context, script string) string
}

const captureStorageScript = `(function () {
	var out = {};
	try {
		var store = window.__KIND__Storage;
		for (var i = 0; i < store.length; i++) {
			var k = store.key(i);
			out[k] = store.getItem(k);
		}
	} catch (e) {}
	return JSON.stringify(out);
})()`

const captureFormsScript = `(function () {
	var out = {};
	try {
		var els = document.querySelectorAll('input[id], textarea[id], select[id]');
		for (var i = 0; i < els.length; i++) {
			var el = els[i];
			var v = (el.type === 'checkbox' || el.type === 'radio') ?
				String(!!el.checked) : String(el.value || '');
			out['#' + el.id] = v;
		}
	} catch (e) {}
	return JSON.stringify(out);
})()`

const captureScrollScript = `(function () {
	try {
		return JSON.stringify({
			x: Math.round(window.pageXOffset || 0),
			y: Math.round(window.pageYOffset || 0)
		});
	} catch (e) { return '{"x":0,"y":0}'; }
})()`

const captureActiveScript = `(function () {
	try {
		var el = document.activeElement;
		return el && el.id ? '#' + el.id : '';
	} catch (e) { return ''; }
})()`

// Capture reads the page's session state into a named record. Each
// component is captured best effort: a page that blocks storage access
// simply yields an empty component.
func Capture(ctx context.Context, page Page, name string) *Record {
	record := NewRecord(name)

	if url, err := page.CurrentURL(ctx); err == nil {
		record.URL = url
	}
	if title, err := page.Title(ctx); err == nil && title != "" {
		record.Title = null.StringFrom(title)
	}

	record.Cookies = parseCookieString(page.EvaluateValue(ctx, "document.cookie"))
	record.LocalStorage = parseStringMap(page.EvaluateValue(ctx,
		strings.Replace(captureStorageScript, "__KIND__", "local", 1)))
	record.SessionStorage = parseStringMap(page.EvaluateValue(ctx,
		strings.Replace(captureStorageScript, "__KIND__", "session", 1)))
	record.FormFields = parseStringMap(page.EvaluateValue(ctx, captureFormsScript))

	scroll := page.EvaluateValue(ctx, captureScrollScript)
	record.ScrollX = int(gjson.Get(scroll, "x").Int())
	record.ScrollY = int(gjson.Get(scroll, "y").Int())

	if active := page.EvaluateValue(ctx, captureActiveScript); active != "" {
		record.ActiveElement = null.StringFrom(active)
	}

	record.UpdatedAt = time.Now()
	return record
}

// parseCookieString splits a document.cookie string ("a=1; b=2") into
// cookies. Only names and values survive this view.
func parseCookieString(raw string) []Cookie {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var cookies []Cookie
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			continue
		}
		if unq, err := strconv.Unquote(value); err == nil {
			value = unq
		}
		cookies = append(cookies, Cookie{Name: name, Value: value})
	}
	return cookies
}

// parseStringMap decodes a flat JSON object of strings, returning nil
// for empty or malformed input.
func parseStringMap(raw string) map[string]string {
	if raw == "" || !gjson.Valid(raw) {
		return nil
	}
	out := make(map[string]string)
	gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}
