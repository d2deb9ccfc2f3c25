// Package webkit implements the engine boundary against a WebKit host
// process exposing a remote automation endpoint over a websocket.
package webkit

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/headlessweb/hweb/engine"
	"github.com/headlessweb/hweb/log"
)

// DefaultEvalTimeout bounds a single script evaluation inside the engine.
// Evaluations exceeding it report an empty result rather than hanging the
// caller.
const DefaultEvalTimeout = 10 * time.Second

var _ engine.Engine = (*Client)(nil)

// Options configure a Client.
type Options struct {
	// URL is the websocket endpoint of the engine host.
	URL string
	// EvalTimeout bounds script evaluations. Zero means
	// DefaultEvalTimeout.
	EvalTimeout time.Duration
}

// Client drives a remote WebKit engine. Commands are correlated by
// message id; unsolicited events are queued on the signal pump and
// dispatched on DrainPending.
type Client struct {
	logger *log.Logger
	opts   Options

	conn *connection
	pump *engine.Pump

	msgID     int64
	pendingMu sync.Mutex
	pending   map[int64]chan *envelope

	closed atomic.Bool
	done   chan struct{}
}

// Dial connects to the engine host at opts.URL.
func Dial(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = DefaultEvalTimeout
	}
	conn, err := dial(ctx, opts.URL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		logger:  logger,
		opts:    opts,
		conn:    conn,
		pump:    engine.NewPump(),
		pending: make(map[int64]chan *envelope),
		done:    make(chan struct{}),
	}
	c.logger.Infof("webkit", "connected to engine at %q", opts.URL)
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		env, err := c.conn.readEnvelope()
		if err != nil {
			if c.closed.Load() || errors.Is(err, net.ErrClosed) ||
				websocket.IsCloseError(errors.Cause(err),
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.logger.Errorf("webkit:readLoop", "reading from engine: %v", err)
			c.failPending(err)
			return
		}

		switch {
		case env.Event != "":
			if sig, ok := translateEvent(env); ok {
				c.pump.Enqueue(sig)
			} else {
				c.logger.Debugf("webkit:readLoop", "ignoring unknown event %q", env.Event)
			}
		case env.ID > 0:
			c.pendingMu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- env
			}
		default:
			c.logger.Warnf("webkit:readLoop", "malformed engine message (no id or event)")
		}
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- &envelope{ID: id, Error: &remoteError{Message: err.Error()}}
	}
}

// execute sends a command and blocks for its response.
func (c *Client) execute(ctx context.Context, method string, params, result any) error {
	if c.closed.Load() {
		return errors.New("webkit: client is closed")
	}

	var rawParams json.RawMessage
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return errors.Wrapf(err, "marshaling %q params", method)
		}
		rawParams = buf
	}

	id := atomic.AddInt64(&c.msgID, 1)
	ch := make(chan *envelope, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.logger.Debugf("webkit:execute", "id:%d method:%q", id, method)
	if err := c.conn.writeEnvelope(&envelope{ID: id, Method: method, Params: rawParams}); err != nil {
		return err
	}

	select {
	case env := <-ch:
		if env.Error != nil {
			return errors.Wrapf(env.Error, "engine command %q", method)
		}
		if result != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, result); err != nil {
				return errors.Wrapf(err, "decoding %q result", method)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("webkit: client is closed")
	}
}

// LoadURI asks the engine to navigate to uri. Completion arrives as
// load-finished / load-failed signals.
func (c *Client) LoadURI(ctx context.Context, uri string) error {
	return c.execute(ctx, "page.load", map[string]string{"uri": uri}, nil)
}

// CurrentURL returns the engine's current page URL.
func (c *Client) CurrentURL(ctx context.Context) (string, error) {
	var res struct {
		URI string `json:"uri"`
	}
	if err := c.execute(ctx, "page.uri", nil, &res); err != nil {
		return "", err
	}
	return res.URI, nil
}

// Title returns the current page title.
func (c *Client) Title(ctx context.Context) (string, error) {
	var res struct {
		Title string `json:"title"`
	}
	if err := c.execute(ctx, "page.title", nil, &res); err != nil {
		return "", err
	}
	return res.Title, nil
}

// Evaluate runs script in the page. In-page exceptions and evaluation
// timeouts surface through EvalResult, not as errors.
func (c *Client) Evaluate(ctx context.Context, script string) (engine.EvalResult, error) {
	var res struct {
		Value     string `json:"value"`
		Exception bool   `json:"exception"`
	}
	params := map[string]any{
		"script":    script,
		"timeoutMs": c.opts.EvalTimeout.Milliseconds(),
	}
	if err := c.execute(ctx, "runtime.evaluate", params, &res); err != nil {
		return engine.EvalResult{}, err
	}
	return engine.EvalResult{Value: res.Value, Exception: res.Exception}, nil
}

// Connect registers a signal handler on the pump.
func (c *Client) Connect(handler engine.SignalHandler) func() {
	return c.pump.Connect(handler)
}

// DrainPending dispatches queued engine signals on the calling goroutine.
func (c *Client) DrainPending() int {
	return c.pump.Drain()
}

// Close shuts the connection down and drops queued signals.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.done)
	c.pump.Close()
	return c.conn.close()
}

// translateEvent maps a wire event to an engine signal.
func translateEvent(env *envelope) (engine.Signal, bool) {
	var params struct {
		URI      string  `json:"uri"`
		Title    string  `json:"title"`
		Progress float64 `json:"progress"`
		URL      string  `json:"url"`
		Method   string  `json:"method"`
		Status   int     `json:"status"`
		Error    string  `json:"error"`
	}
	if len(env.Params) > 0 {
		_ = json.Unmarshal(env.Params, &params)
	}

	sig := engine.Signal{
		URI:      params.URI,
		Title:    params.Title,
		Progress: params.Progress,
		Payload:  string(env.Params),
	}
	switch env.Event {
	case "load-started":
		sig.Kind = engine.SignalLoadStarted
	case "load-committed":
		sig.Kind = engine.SignalLoadCommitted
	case "load-finished":
		sig.Kind = engine.SignalLoadFinished
	case "load-failed":
		sig.Kind = engine.SignalLoadFailed
	case "uri-changed":
		sig.Kind = engine.SignalURIChanged
	case "title-changed":
		sig.Kind = engine.SignalTitleChanged
	case "ready-to-show":
		sig.Kind = engine.SignalReadyToShow
	case "request-started":
		sig.Kind = engine.SignalRequestStarted
		sig.Request = &engine.Request{URL: params.URL, Method: params.Method}
	case "request-finished":
		sig.Kind = engine.SignalRequestFinished
		sig.Request = &engine.Request{URL: params.URL, Method: params.Method, StatusCode: params.Status}
	case "request-failed":
		sig.Kind = engine.SignalRequestFailed
		sig.Request = &engine.Request{URL: params.URL, Method: params.Method, Error: params.Error}
	case "mutation":
		sig.Kind = engine.SignalMutation
	case "page-message":
		sig.Kind = engine.SignalPageMessage
	default:
		return engine.Signal{}, false
	}
	return sig, true
}
