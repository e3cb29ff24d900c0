package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Transport exchanges JSON-RPC 2.0 messages over the engine's byte
// stream, framing each message with a Content-Length header. Outbound
// calls are correlated to responses through the pending table; inbound
// notifications fan out to registered handlers.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	mu       sync.Mutex
	nextID   atomic.Int64
	pending  map[int64]chan *Response
	handlers map[string]NotificationHandler

	closed atomic.Bool
	done   chan struct{}
}

// NotificationHandler consumes one inbound notification, already matched
// to its method.
type NotificationHandler func(method string, params json.RawMessage)

// Request is an outbound call or notification. A zero ID marks a
// notification and is omitted from the wire form.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response carries the engine's answer to one Request, matched by ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// notification is the inbound wire form of an unsolicited message.
type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewTransport creates a transport over the given stream. The closer, if
// non-nil, is closed when the transport closes (typically the channel to
// the engine).
func NewTransport(rw io.ReadWriter, c io.Closer) *Transport {
	return &Transport{
		reader:   bufio.NewReaderSize(rw, 64*1024),
		writer:   rw,
		closer:   c,
		pending:  make(map[int64]chan *Response),
		handlers: make(map[string]NotificationHandler),
		done:     make(chan struct{}),
	}
}

// Start launches the read loop over the stream.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close closes the transport and the underlying stream. Safe to call
// multiple times; pending callers are released with ErrShutdown.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil // a close already ran
	}

	close(t.done)

	// Cancel all pending requests by clearing the map. The channels are not
	// closed to avoid racing handleResponse; waiters observe t.done instead.
	t.mu.Lock()
	t.pending = make(map[int64]chan *Response)
	t.mu.Unlock()

	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Done returns a channel closed when the transport stops, either by Close
// or because the stream ended.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Call sends a request and blocks until the engine answers, the context
// expires, or the transport closes.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	id := t.nextID.Add(1)
	ch := make(chan *Response, 1)

	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	req := &Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	if err := t.send(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrShutdown
	case resp, ok := <-ch:
		if !ok {
			return ErrShutdown
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// Notify sends a one-way message the engine never answers.
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	return t.send(&Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
}

// OnNotification binds a handler to a notification method name.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.handlers[method] = handler
	t.mu.Unlock()
}

// send marshals msg and writes one framed message. The write lock keeps
// concurrent frames from interleaving.
func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

// readLoop reads messages from the stream until it ends or the transport
// closes. Stream end is treated as closure so waiters are released.
func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = t.Close()
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if !t.closed.Load() {
				_ = t.Close()
			}
			return
		}

		t.dispatch(msg)
	}
}

// readMessage consumes one header block and its body from the stream.
func (t *Transport) readMessage() (json.RawMessage, error) {
	var contentLength int
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break // blank line terminates the header block
		}
		// Content-Length is the only header that matters; anything else
		// (Content-Type included) is skipped.
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				length, err := strconv.Atoi(strings.TrimSpace(parts[1]))
				if err == nil {
					contentLength = length
				}
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// dispatch decides whether a raw message is a response or a notification
// and hands it off accordingly.
func (t *Transport) dispatch(data json.RawMessage) {
	var head struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Error  *RPCError       `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return
	}

	// An ID plus a result or error field marks a response; an ID alone
	// would be an inbound request, which this client never receives.
	if head.ID != nil && (head.Result != nil || head.Error != nil) {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		t.handleResponse(&resp)
		return
	}

	if head.Method != "" {
		var notif notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return
		}
		t.handleNotification(&notif)
	}
}

// handleResponse delivers a response to the caller parked on its ID.
func (t *Transport) handleResponse(resp *Response) {
	if t.closed.Load() {
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
			// The caller already gave up; nobody wants this response.
		}
	}
}

// handleNotification looks up the handler for an inbound notification.
func (t *Transport) handleNotification(notif *notification) {
	t.mu.Lock()
	handler, ok := t.handlers[notif.Method]
	t.mu.Unlock()

	if ok && handler != nil {
		// Handlers run off the read loop so a slow consumer cannot stall
		// inbound traffic.
		go handler(notif.Method, notif.Params)
	}
}

// IsClosed reports whether the transport has stopped.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
