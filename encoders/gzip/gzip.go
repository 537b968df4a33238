// Package gzip provides a gzip compressed JSON codec for bridge envelopes.
// Peers that compress their envelopes publish with it; the bridge itself
// only decodes it.
package gzip

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/RobertWHurst/cfxbridge"
)

// Name is the wire name of the codec.
const Name = "gzip"

// MaxDecodeSize bounds the decompressed size of a single envelope.
var MaxDecodeSize = int64(1024 * 1024 * 5) // 5 MB

// ErrTooLarge is returned by Decode when the decompressed envelope exceeds
// MaxDecodeSize.
var ErrTooLarge = errors.New("decompressed envelope exceeds MaxDecodeSize")

// Encoder implements cfxbridge.Codec using gzip compressed JSON.
type Encoder struct {
	Level int
}

var _ cfxbridge.Codec = &Encoder{}

func (e *Encoder) Name() string {
	return Name
}

// Encode serializes v to JSON and compresses it.
func (e *Encoder) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, e.Level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decompresses data and deserializes the JSON into v.
func (e *Encoder) Decode(data []byte, v any) error {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, MaxDecodeSize+1))
	if err != nil {
		return err
	}
	if int64(len(raw)) > MaxDecodeSize {
		return ErrTooLarge
	}
	return json.Unmarshal(raw, v)
}

// New creates a new gzip encoder using the default compression level.
func New() *Encoder {
	return &Encoder{Level: gzip.DefaultCompression}
}
