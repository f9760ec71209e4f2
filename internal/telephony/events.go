// Package telephony speaks the provider side of the call: the media-stream
// WebSocket protocol carrying bidirectional G.711 μ-law audio, and the TwiML
// documents that instruct the provider to open that stream.
//
// Incoming frames are decoded once into the closed Event set below; outgoing
// frames are written through [StreamConn]. Audio payloads cross the wire as
// base64 text inside JSON, roughly 160 bytes of μ-law (20 ms at 8 kHz) per
// media frame.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event is one decoded media-stream frame. The concrete types below form a
// closed set; frames with an unrecognised event name decode to [EventUnknown]
// so the caller can log them instead of silently dropping them.
type Event interface{ event() }

// EventConnected is the first frame on a new stream connection.
type EventConnected struct {
	Protocol string
	Version  string
}

// EventStart carries the stream's identity. StreamID is required on every
// outbound media frame; CallID keys the call session for transcripts and the
// end-of-call summary. CallerName comes from the custom parameters attached
// to the stream by the TwiML and may be empty for calls without one.
type EventStart struct {
	StreamID   string
	CallID     string
	AccountID  string
	CallerName string
	Tracks     []string
}

// EventMedia carries one decoded μ-law audio payload from the caller.
type EventMedia struct {
	Track     string
	Timestamp string
	Payload   []byte
}

// EventStop signals end of the stream from the provider side.
type EventStop struct {
	CallID    string
	AccountID string
}

// EventMark echoes a mark previously sent on the outbound stream.
type EventMark struct {
	Name string
}

// EventDTMF reports a keypad digit pressed by the caller.
type EventDTMF struct {
	Track string
	Digit string
}

// EventUnknown is the explicit variant for event names this package does not
// interpret.
type EventUnknown struct {
	Name string
}

func (EventConnected) event() {}
func (EventStart) event()     {}
func (EventMedia) event()     {}
func (EventStop) event()      {}
func (EventMark) event()      {}
func (EventDTMF) event()      {}
func (EventUnknown) event()   {}

// ── Wire frames ────────────────────────────────────────────────────────────────

type wireFrame struct {
	Event    string `json:"event"`
	Protocol string `json:"protocol,omitempty"`
	Version  string `json:"version,omitempty"`

	Start *wireStart `json:"start,omitempty"`
	Media *wireMedia `json:"media,omitempty"`
	Stop  *wireStop  `json:"stop,omitempty"`
	Mark  *wireMark  `json:"mark,omitempty"`
	DTMF  *wireDTMF  `json:"dtmf,omitempty"`
}

type wireStart struct {
	AccountSID       string            `json:"accountSid"`
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type wireMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type wireStop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type wireMark struct {
	Name string `json:"name"`
}

type wireDTMF struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// DecodeEvent parses one raw media-stream frame. It returns an error only for
// malformed JSON or an undecodable media payload; structurally valid frames
// with an unknown event name return [EventUnknown].
func DecodeEvent(data []byte) (Event, error) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("telephony: decode frame: %w", err)
	}

	switch frame.Event {
	case "connected":
		return EventConnected{Protocol: frame.Protocol, Version: frame.Version}, nil

	case "start":
		if frame.Start == nil {
			return nil, fmt.Errorf("telephony: start frame without start payload")
		}
		return EventStart{
			StreamID:   frame.Start.StreamSID,
			CallID:     frame.Start.CallSID,
			AccountID:  frame.Start.AccountSID,
			CallerName: frame.Start.CustomParameters["name"],
			Tracks:     frame.Start.Tracks,
		}, nil

	case "media":
		if frame.Media == nil {
			return nil, fmt.Errorf("telephony: media frame without media payload")
		}
		payload, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("telephony: decode media payload: %w", err)
		}
		return EventMedia{
			Track:     frame.Media.Track,
			Timestamp: frame.Media.Timestamp,
			Payload:   payload,
		}, nil

	case "stop":
		evt := EventStop{}
		if frame.Stop != nil {
			evt.CallID = frame.Stop.CallSID
			evt.AccountID = frame.Stop.AccountSID
		}
		return evt, nil

	case "mark":
		evt := EventMark{}
		if frame.Mark != nil {
			evt.Name = frame.Mark.Name
		}
		return evt, nil

	case "dtmf":
		evt := EventDTMF{}
		if frame.DTMF != nil {
			evt.Track = frame.DTMF.Track
			evt.Digit = frame.DTMF.Digit
		}
		return evt, nil

	default:
		return EventUnknown{Name: frame.Event}, nil
	}
}
