package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Codec decodes transport payloads using an explicitly selected layout.
// It never guesses between layouts: the caller either names one or gets the default.
type Codec struct {
	encoding Encoding
	def      string
	layouts  map[string]Layout
}

// New builds a codec whose default layout is def. Additional layouts become
// selectable by name through an envelope discriminator.
func New(encoding Encoding, def Layout, extra ...Layout) (*Codec, error) {
	switch encoding {
	case EncodingHex, EncodingBase64:
	default:
		return nil, fmt.Errorf("codec: unsupported encoding %q", encoding)
	}

	c := &Codec{
		encoding: encoding,
		def:      strings.ToLower(def.Name),
		layouts:  make(map[string]Layout, len(extra)+1),
	}
	for _, l := range append([]Layout{def}, extra...) {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(l.Name)
		if _, exists := c.layouts[key]; exists {
			continue
		}
		c.layouts[key] = l
	}
	return c, nil
}

// Encoding returns the configured text encoding.
func (c *Codec) Encoding() Encoding {
	return c.encoding
}

// Layout resolves name to a registered layout; an empty name selects the default.
func (c *Codec) Layout(name string) (Layout, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = c.def
	}
	l, ok := c.layouts[key]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownLayout, name)
	}
	return l, nil
}

// Layouts lists registered layout names in sorted order.
func (c *Codec) Layouts() []string {
	names := make([]string, 0, len(c.layouts))
	for name := range c.layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeString decodes an encoded payload with the named layout.
func (c *Codec) DecodeString(payload, layoutName string) (Fields, error) {
	layout, err := c.Layout(layoutName)
	if err != nil {
		return Fields{}, err
	}
	raw, err := DecodeText(c.encoding, payload)
	if err != nil {
		return Fields{}, err
	}
	return Decode(layout, raw)
}
