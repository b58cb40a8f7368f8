// Package probe is the engine probe: it answers source-of,
// bound-internals-of, and scopes-of queries for live functions through a
// debugger/inspector session it owns. Requests are strictly serialized - the
// remote side shares one scratch table keyed by monotonically-incrementing
// ids, and concurrent use would race on them.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/functionless/nodejs-closure-serializer/internal/debug"
)

// transport carries one inspector request/response exchange at a time.
type transport interface {
	RoundTrip(method string, params any) (json.RawMessage, error)
	Close() error
}

type wireRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type wireResponse struct {
	ID     int64           `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *wireError) Error() string {
	return fmt.Sprintf("inspector error %d: %s", e.Code, e.Message)
}

// wsTransport is the websocket transport to a V8 inspector endpoint. A
// single reader goroutine dispatches responses by id; protocol events are
// discarded.
type wsTransport struct {
	conn *websocket.Conn

	// reqMu admits at most one outstanding remote evaluation.
	reqMu  sync.Mutex
	nextID int64

	mu      sync.Mutex
	pending map[int64]chan *wireResponse
	closed  bool

	done chan struct{}
}

func dialWebsocket(ctx context.Context, url string) (*wsTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	t := &wsTransport{
		conn:    conn,
		pending: make(map[int64]chan *wireResponse),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *wsTransport) readLoop() {
	defer close(t.done)
	for {
		var resp wireResponse
		if err := t.conn.ReadJSON(&resp); err != nil {
			t.failAll(err)
			return
		}
		if resp.ID == 0 {
			// Protocol event, not a response.
			debug.LogProbe("event %s\n", resp.Method)
			continue
		}
		t.mu.Lock()
		ch := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.mu.Unlock()
		if ch != nil {
			ch <- &resp
		}
	}
}

func (t *wsTransport) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, ch := range t.pending {
		delete(t.pending, id)
		close(ch)
	}
	debug.LogProbe("connection closed: %v\n", err)
}

// RoundTrip sends one request and waits for its response.
func (t *wsTransport) RoundTrip(method string, params any) (json.RawMessage, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("inspector connection closed")
	}
	t.nextID++
	id := t.nextID
	ch := make(chan *wireResponse, 1)
	t.pending[id] = ch
	t.mu.Unlock()

	debug.LogProbe("-> %s (id %d)\n", method, id)
	if err := t.conn.WriteJSON(&wireRequest{ID: id, Method: method, Params: params}); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, err
	}

	resp, ok := <-ch
	if !ok || resp == nil {
		return nil, fmt.Errorf("inspector connection closed while awaiting %s", method)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Close tears the connection down and joins the reader.
func (t *wsTransport) Close() error {
	err := t.conn.Close()
	<-t.done
	return err
}
