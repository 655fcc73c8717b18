// Package sink delivers decoded inbound events and connection status changes
// to external consumers.
package sink

import (
	"time"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/protocol"
)

// Kind names an event class.
type Kind string

const (
	KindPixels Kind = "pixels"
	KindChat   Kind = "chat"
	KindError  Kind = "error"
	KindState  Kind = "state"
)

// Event is one record handed to a sink. Fields irrelevant to Kind are empty.
type Event struct {
	Time       time.Time              `json:"time" cbor:"time"`
	Kind       Kind                   `json:"kind" cbor:"kind"`
	Identity   string                 `json:"identity,omitempty" cbor:"identity,omitempty"`
	Connection string                 `json:"connection,omitempty" cbor:"connection,omitempty"`
	Board      int                    `json:"board,omitempty" cbor:"board,omitempty"`
	Pixels     []protocol.PixelUpdate `json:"pixels,omitempty" cbor:"pixels,omitempty"`
	Chat       *protocol.ChatMessage  `json:"chat,omitempty" cbor:"chat,omitempty"`
	Code       int                    `json:"code,omitempty" cbor:"code,omitempty"`
	State      string                 `json:"state,omitempty" cbor:"state,omitempty"`
	Error      string                 `json:"error,omitempty" cbor:"error,omitempty"`
}

// Sink consumes events. Publish must not retain ev.Pixels past the call
// unless it copies them.
type Sink interface {
	Publish(ev Event)
}

// Func adapts a function to Sink.
type Func func(Event)

func (f Func) Publish(ev Event) { f(ev) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Publish(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}

// Discard drops everything.
var Discard Sink = Func(func(Event) {})
