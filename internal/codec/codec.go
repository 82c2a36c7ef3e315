// Package codec encodes the records exchanged on the bus.
package codec

import (
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
)

// ErrMalformed is returned when a payload cannot be decoded.
var ErrMalformed = errors.New("malformed payload")

const (
	NameProtobuf = "protobuf"
	NameJSON     = "json"
)

// Codec converts bus records to and from their wire form.
type Codec interface {
	Name() string
	EncodeAction(a v1.UserAction) ([]byte, error)
	DecodeAction(data []byte) (v1.UserAction, error)
	EncodeSimilarity(s v1.EventSimilarity) ([]byte, error)
	DecodeSimilarity(data []byte) (v1.EventSimilarity, error)
}

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	switch name {
	case NameProtobuf:
		return NewProtobuf()
	case NameJSON:
		return NewJSON(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
