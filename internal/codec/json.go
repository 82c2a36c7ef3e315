package codec

import (
	"fmt"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/goccy/go-json"
)

// JSON encodes records with their API field names.
type JSON struct{}

func NewJSON() *JSON { return &JSON{} }

func (*JSON) Name() string { return NameJSON }

func (*JSON) EncodeAction(a v1.UserAction) ([]byte, error) {
	return json.Marshal(a)
}

func (*JSON) DecodeAction(data []byte) (v1.UserAction, error) {
	var a v1.UserAction
	if err := json.Unmarshal(data, &a); err != nil {
		return v1.UserAction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return a, nil
}

func (*JSON) EncodeSimilarity(s v1.EventSimilarity) ([]byte, error) {
	return json.Marshal(s)
}

func (*JSON) DecodeSimilarity(data []byte) (v1.EventSimilarity, error) {
	var s v1.EventSimilarity
	if err := json.Unmarshal(data, &s); err != nil {
		return v1.EventSimilarity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}
