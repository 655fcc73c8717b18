// Package protocol implements the long-polling wire format spoken by the
// board service: packet chains, the open handshake, inbound events and
// outbound actions.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// PacketType is the first character of a transport packet.
type PacketType byte

const (
	PacketOpen    PacketType = '0'
	PacketClose   PacketType = '1'
	PacketPing    PacketType = '2'
	PacketPong    PacketType = '3'
	PacketMessage PacketType = '4'
	PacketUpgrade PacketType = '5'
	PacketNoop    PacketType = '6'
)

func (t PacketType) String() string {
	switch t {
	case PacketOpen:
		return "open"
	case PacketClose:
		return "close"
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketMessage:
		return "message"
	case PacketUpgrade:
		return "upgrade"
	case PacketNoop:
		return "noop"
	default:
		return "unknown"
	}
}

// Message sub-types carried as the first byte of a PacketMessage payload.
const (
	MessageConnect    byte = '0'
	MessageDisconnect byte = '1'
	MessageEvent      byte = '2'
	MessageAck        byte = '3'
	MessageError      byte = '4'
)

// ErrMalformed is returned for bodies that do not follow the framing.
var ErrMalformed = errors.New("protocol: malformed payload")

// Packet is one decoded transport packet.
type Packet struct {
	Type PacketType
	Data string
}

func (p Packet) String() string { return string(p.Type) + p.Data }

// IsEvent reports whether p carries an event message ("42...").
func (p Packet) IsEvent() bool {
	return p.Type == PacketMessage && len(p.Data) > 0 && p.Data[0] == MessageEvent
}

// EventData returns the JSON array following "42".
func (p Packet) EventData() string {
	if !p.IsEvent() {
		return ""
	}
	return p.Data[1:]
}

// Ping returns the keepalive packet.
func Ping() Packet { return Packet{Type: PacketPing} }

// EncodePayload chains packets as <len>:<packet>. len counts UTF-16 code
// units of the packet text, which equals the byte length for ASCII.
func EncodePayload(packets ...Packet) []byte {
	var b strings.Builder
	for _, p := range packets {
		s := p.String()
		b.WriteString(strconv.Itoa(utf16Len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return []byte(b.String())
}

// DecodePayload splits a polling response body into packets. Bodies without
// a length prefix are treated as a single packet; a bare JSON array is read
// as one event packet.
func DecodePayload(body []byte) ([]Packet, error) {
	s := string(body)
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if !hasLengthPrefix(s) {
		if s[0] == '[' {
			return []Packet{{Type: PacketMessage, Data: string(MessageEvent) + s}}, nil
		}
		p, err := parsePacket(s)
		if err != nil {
			return nil, err
		}
		return []Packet{p}, nil
	}
	var out []Packet
	for len(s) > 0 {
		colon := strings.IndexByte(s, ':')
		if colon <= 0 {
			return nil, fmt.Errorf("%w: missing length", ErrMalformed)
		}
		n, err := strconv.Atoi(s[:colon])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad length %q", ErrMalformed, s[:colon])
		}
		head, rest, ok := takeUTF16(s[colon+1:], n)
		if !ok {
			return nil, fmt.Errorf("%w: truncated packet", ErrMalformed)
		}
		p, err := parsePacket(head)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		s = rest
	}
	return out, nil
}

func hasLengthPrefix(s string) bool {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i > 0 && i < len(s) && s[i] == ':'
}

func parsePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, fmt.Errorf("%w: empty packet", ErrMalformed)
	}
	t := PacketType(s[0])
	if t < PacketOpen || t > PacketNoop {
		return Packet{}, fmt.Errorf("%w: packet type %q", ErrMalformed, s[0])
	}
	return Packet{Type: t, Data: s[1:]}, nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// takeUTF16 splits s after n UTF-16 code units.
func takeUTF16(s string, n int) (string, string, bool) {
	units, i := 0, 0
	for i < len(s) && units < n {
		r, size := utf8.DecodeRuneInString(s[i:])
		units += utf16.RuneLen(r)
		i += size
	}
	if units != n {
		return "", "", false
	}
	return s[:i], s[i:], true
}

// Handshake is the JSON body of the open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
}

// ParseHandshake decodes an open packet.
func ParseHandshake(p Packet) (Handshake, error) {
	if p.Type != PacketOpen {
		return Handshake{}, fmt.Errorf("%w: want open packet, got %s", ErrMalformed, p.Type)
	}
	var h Handshake
	if err := json.Unmarshal([]byte(p.Data), &h); err != nil {
		return Handshake{}, fmt.Errorf("%w: handshake: %v", ErrMalformed, err)
	}
	if h.SID == "" {
		return Handshake{}, fmt.Errorf("%w: handshake without sid", ErrMalformed)
	}
	return h, nil
}
