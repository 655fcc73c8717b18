// Package codec provides the record encodings used to export events.
package codec

import (
	"fmt"
	"strings"
)

// Codec defines a simple interface for marshaling records.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with JSON and CBOR.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	if c, err := CBOR(); err == nil {
		r.Register(c)
	}
	return r
}

// Register adds a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// ByName resolves a short format name ("json", "cbor") or a content type.
func (r *Registry) ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		name = ContentJSON
	case "cbor":
		name = ContentCBOR
	}
	if c := r.Get(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("codec: unknown format %q", name)
}
