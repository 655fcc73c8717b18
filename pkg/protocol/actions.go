package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound action names.
const (
	ActionInit  = "init"
	ActionPlace = "place"
	ActionChat  = "chat.message"
)

// InitPayload authenticates the session right after the handshake.
type InitPayload struct {
	AuthKey   string `json:"authKey"`
	AuthToken string `json:"authToken"`
	BoardID   int    `json:"boardId"`
}

// PlacePayload places one pixel.
type PlacePayload struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Color int `json:"color"`
}

// ChatPayload posts a chat message.
type ChatPayload struct {
	Message string `json:"message"`
	Color   int    `json:"color"`
}

// EventPacket encodes name and payload as a "42[...]" packet.
func EventPacket(name string, payload any) (Packet, error) {
	b, err := json.Marshal([]any{name, payload})
	if err != nil {
		return Packet{}, fmt.Errorf("protocol: encode %s: %w", name, err)
	}
	return Packet{Type: PacketMessage, Data: string(MessageEvent) + string(b)}, nil
}
