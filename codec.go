package cfxbridge

import "sort"

// Codec defines the interface for envelope serialization and deserialization.
// Implementations include JSON, gzip compressed JSON, MessagePack, and
// Protocol Buffers codecs.
type Codec interface {
	// Name identifies the codec on the wire.
	Name() string

	// Encode serializes v into bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes data into v.
	Decode(data []byte, v any) error
}

// Codecs is a set of codecs addressed by name. Transports use it to decode
// frames written by peers that encode differently from this bridge.
type Codecs map[string]Codec

// NewCodecs builds a set from codecs. Later codecs replace earlier ones
// with the same name.
func NewCodecs(codecs ...Codec) Codecs {
	set := make(Codecs, len(codecs))
	for _, c := range codecs {
		set[c.Name()] = c
	}
	return set
}

// Lookup returns the codec registered under name.
func (c Codecs) Lookup(name string) (Codec, bool) {
	codec, ok := c[name]
	return codec, ok
}

// Names returns the registered codec names in sorted order.
func (c Codecs) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
