package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// StreamConn wraps an accepted media-stream WebSocket. Reads decode caller
// frames into the Event set; writes carry agent audio and marks back to the
// provider. Safe for one concurrent reader and any number of writers.
type StreamConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewStreamConn wraps an accepted WebSocket connection.
func NewStreamConn(conn *websocket.Conn) *StreamConn {
	return &StreamConn{conn: conn}
}

// Read blocks for the next frame and decodes it.
func (c *StreamConn) Read(ctx context.Context) (Event, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("telephony: read: %w", err)
	}
	return DecodeEvent(data)
}

// SendMedia writes one outbound audio frame. The stream ID must be the one
// announced by the start event; the payload is raw μ-law bytes.
func (c *StreamConn) SendMedia(ctx context.Context, streamID string, payload []byte) error {
	return c.writeJSON(ctx, wireFrame{
		Event: "media",
		Media: &wireMedia{Payload: base64.StdEncoding.EncodeToString(payload)},
	}, streamID)
}

// SendMark writes a named mark after outbound audio. The provider echoes it
// back once the audio before it has been played out.
func (c *StreamConn) SendMark(ctx context.Context, streamID, name string) error {
	return c.writeJSON(ctx, wireFrame{
		Event: "mark",
		Mark:  &wireMark{Name: name},
	}, streamID)
}

// Ping sends a WebSocket ping and waits for the pong.
func (c *StreamConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the underlying connection with a normal closure. Idempotent.
func (c *StreamConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close(websocket.StatusNormalClosure, "stream closed")
}

// outboundFrame is wireFrame plus the streamSid field required on writes.
type outboundFrame struct {
	Event     string     `json:"event"`
	StreamSID string     `json:"streamSid"`
	Media     *wireMedia `json:"media,omitempty"`
	Mark      *wireMark  `json:"mark,omitempty"`
}

func (c *StreamConn) writeJSON(ctx context.Context, frame wireFrame, streamID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("telephony: stream closed")
	}
	c.mu.Unlock()

	out := outboundFrame{
		Event:     frame.Event,
		StreamSID: streamID,
		Media:     frame.Media,
		Mark:      frame.Mark,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("telephony: marshal: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("telephony: write: %w", err)
	}
	return nil
}
