package bus

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/aevon-lab/eventsim/internal/codec"
	"github.com/google/uuid"
)

// Metadata keys set on every message.
const (
	MetadataKey   = "key"
	MetadataCodec = "codec"
)

// NewActionMessage encodes a user action keyed "<user>:<event>".
func NewActionMessage(c codec.Codec, a v1.UserAction) (*message.Message, error) {
	payload, err := c.EncodeAction(a)
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(MetadataKey, a.Key())
	msg.Metadata.Set(MetadataCodec, c.Name())
	return msg, nil
}

// NewSimilarityMessages encodes similarity records keyed "<event_a>:<event_b>".
func NewSimilarityMessages(c codec.Codec, sims []v1.EventSimilarity) ([]*message.Message, error) {
	out := make([]*message.Message, 0, len(sims))
	for _, s := range sims {
		payload, err := c.EncodeSimilarity(s)
		if err != nil {
			return nil, fmt.Errorf("encode similarity %d:%d: %w", s.EventA, s.EventB, err)
		}
		msg := message.NewMessage(uuid.NewString(), payload)
		msg.Metadata.Set(MetadataKey, fmt.Sprintf("%d:%d", s.EventA, s.EventB))
		msg.Metadata.Set(MetadataCodec, c.Name())
		out = append(out, msg)
	}
	return out, nil
}
