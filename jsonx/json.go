// Package jsonx is the JSON codec for stored records and wire messages.
package jsonx

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

// codec sorts map keys so equal values always encode to equal bytes.
// HTML escaping is off: nothing here is rendered in a browser.
var codec = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

func Marshal(v interface{}) ([]byte, error) {
	return codec.Marshal(v)
}

func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return codec.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v interface{}) error {
	return codec.Unmarshal(data, v)
}

func NewDecoder(r io.Reader) *jsoniter.Decoder {
	return codec.NewDecoder(r)
}

func NewEncoder(w io.Writer) *jsoniter.Encoder {
	return codec.NewEncoder(w)
}
