package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Inbound control frames are small JSON; anything past this is a broken peer.
const readLimit = 8 << 20

// HeaderProducer supplies the HTTP headers for the WebSocket handshake. The
// core treats credentials as opaque; token refresh, schemes and expiry are the
// producer's problem.
type HeaderProducer func(ctx context.Context) (http.Header, error)

// StaticHeaders returns a HeaderProducer that always yields a copy of h.
func StaticHeaders(h http.Header) HeaderProducer {
	return func(context.Context) (http.Header, error) {
		return h.Clone(), nil
	}
}

// Conn is a live WebSocket connection to the STT service. Control and audio
// writes share one ordered writer, so a control message sent after an audio
// frame is guaranteed to arrive after it. Reads return frames in server order.
//
// Conn is safe for concurrent use. Close may be called any number of times.
type Conn struct {
	ws        *websocket.Conn
	requestID string

	writeMu sync.Mutex
	lastSeq int64

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a WebSocket connection to endpoint, attaching the headers
// produced by headers plus a generated request id for server-side correlation.
func Dial(ctx context.Context, endpoint string, headers HeaderProducer) (*Conn, error) {
	h := http.Header{}
	if headers != nil {
		var err error
		h, err = headers(ctx)
		if err != nil {
			return nil, fmt.Errorf("wire: produce headers: %w", err)
		}
		if h == nil {
			h = http.Header{}
		}
	}

	requestID := uuid.NewString()
	h.Set("X-Request-Id", requestID)

	ws, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: h,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", endpoint, err)
	}
	ws.SetReadLimit(readLimit)

	return &Conn{ws: ws, requestID: requestID}, nil
}

// RequestID returns the correlation id sent with the handshake.
func (c *Conn) RequestID() string {
	return c.requestID
}

// SendControl marshals msg and writes it as a text frame.
func (c *Conn) SendControl(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: marshal control message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wire: write control message: %w", err)
	}
	return nil
}

// SendAudio writes one audio frame as a binary message and returns its
// sequence number. Sequence numbers start at 1 and increase by one per frame;
// the last value issued is what EndOfStream must carry.
func (c *Conn) SendAudio(ctx context.Context, frame []byte) (int64, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return 0, fmt.Errorf("wire: write audio frame: %w", err)
	}
	c.lastSeq++
	return c.lastSeq, nil
}

// LastSeq returns the sequence number of the most recently sent audio frame,
// or 0 if none was sent.
func (c *Conn) LastSeq() int64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.lastSeq
}

// Receive blocks for the next control frame and parses it. Binary frames from
// the server are not part of the protocol and are skipped. Parse failures are
// returned with the connection still usable; transport failures are returned
// wrapped and the connection is dead.
func (c *Conn) Receive(ctx context.Context) (ServerMessage, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("wire: read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		return ParseServerMessage(data)
	}
}

// Close closes the connection with a normal-closure status. Subsequent calls
// return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return c.closeErr
}
