package webkit

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oxtoacart/bpool"
	"github.com/pkg/errors"
)

// envelope is the wire format spoken with the engine host process. A
// message is either a command (ID+Method), a response (ID+Result/Error),
// or an event (Event+Params).
type envelope struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *remoteError    `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
}

type remoteError struct {
	Message string `json:"message"`
}

func (e *remoteError) Error() string { return e.Message }

type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	bufpool *bpool.BufferPool
}

func dial(ctx context.Context, wsURL string) (*connection, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1 << 20,
		WriteBufferSize:  1 << 20,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, errors.Wrapf(err, "dialing engine at %q", wsURL)
	}
	return &connection{
		ws:      ws,
		bufpool: bpool.NewBufferPool(16),
	}, nil
}

func (c *connection) readEnvelope() (*envelope, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "reading engine message")
	}
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, errors.Wrap(err, "decoding engine message")
	}
	return &env, nil
}

func (c *connection) writeEnvelope(env *envelope) error {
	buf := c.bufpool.Get()
	defer c.bufpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(env); err != nil {
		return errors.Wrap(err, "encoding engine message")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		return errors.Wrap(err, "writing engine message")
	}
	return nil
}

func (c *connection) close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
