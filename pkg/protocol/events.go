package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	EventNameCanvas     = "canvas"
	EventNamePixels     = "pixels"
	EventNameChat       = "chat.user.message"
	EventNameError      = "throw.error"
	EventNameCooldown   = "cooldown"
	EventNameProtection = "protection"
	EventNameChatSystem = "chat.system.message"
	EventNameChatStats  = "chat.stats"
	EventNameNotice     = "notification"
)

// EventKind classifies inbound events.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPixels
	EventChat
	EventError
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventPixels:
		return "pixels"
	case EventChat:
		return "chat"
	case EventError:
		return "error"
	case EventNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// PixelUpdate is one placement broadcast by the service.
type PixelUpdate struct {
	X      int `json:"x" cbor:"x"`
	Y      int `json:"y" cbor:"y"`
	Color  int `json:"color" cbor:"color"`
	UserID int `json:"userId" cbor:"userId"`
	Board  int `json:"boardId" cbor:"boardId"`
}

// UnmarshalJSON accepts both the positional form [x,y,color,userId,boardId]
// and an object with named fields.
func (p *PixelUpdate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var v []float64
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		if len(v) < 3 {
			return fmt.Errorf("pixel: want at least 3 fields, got %d", len(v))
		}
		*p = PixelUpdate{X: int(v[0]), Y: int(v[1]), Color: int(v[2])}
		if len(v) > 3 {
			p.UserID = int(v[3])
		}
		if len(v) > 4 {
			p.Board = int(v[4])
		}
		return nil
	}
	type plain PixelUpdate
	var o plain
	if err := json.Unmarshal(b, &o); err != nil {
		return err
	}
	*p = PixelUpdate(o)
	return nil
}

// ChatMessage is a user chat line.
type ChatMessage struct {
	Username string `json:"username" cbor:"username"`
	Color    int    `json:"color" cbor:"color"`
	Guild    string `json:"guild,omitempty" cbor:"guild,omitempty"`
	Message  string `json:"message" cbor:"message"`
	Admin    bool   `json:"admin,omitempty" cbor:"admin,omitempty"`
	Mod      bool   `json:"mod,omitempty" cbor:"mod,omitempty"`
	Premium  bool   `json:"premium,omitempty" cbor:"premium,omitempty"`
	Board    int    `json:"boardId" cbor:"boardId"`
}

// Event is a decoded inbound event.
type Event struct {
	Kind   EventKind
	Name   string
	Pixels []PixelUpdate
	Chat   *ChatMessage
	Code   int
}

// DecodeEvent parses the JSON array of an event message: the first element is
// the event name, the second the payload. Unknown names decode to
// EventUnknown without error; a known name with a bad payload is an error.
func DecodeEvent(data string) (Event, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal([]byte(data), &arr); err != nil {
		return Event{}, fmt.Errorf("%w: event: %v", ErrMalformed, err)
	}
	if len(arr) == 0 {
		return Event{}, fmt.Errorf("%w: empty event", ErrMalformed)
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return Event{}, fmt.Errorf("%w: event name: %v", ErrMalformed, err)
	}
	ev := Event{Name: name}
	var payload json.RawMessage
	if len(arr) > 1 {
		payload = arr[1]
	}
	switch name {
	case EventNameCanvas, EventNamePixels:
		ev.Kind = EventPixels
		if len(payload) == 0 || string(payload) == "null" {
			return ev, nil
		}
		if err := json.Unmarshal(payload, &ev.Pixels); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
		}
	case EventNameChat:
		ev.Kind = EventChat
		var m ChatMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
		}
		ev.Chat = &m
	case EventNameError:
		ev.Kind = EventError
		var code float64
		if err := json.Unmarshal(payload, &code); err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
		}
		ev.Code = int(code)
	case EventNameCooldown, EventNameProtection, EventNameChatSystem, EventNameChatStats, EventNameNotice:
		ev.Kind = EventNotice
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}
