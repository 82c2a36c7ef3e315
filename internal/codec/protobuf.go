package codec

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/bufbuild/protocompile"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

const protoFile = "eventsim/stats/v1/stats.proto"

//go:embed stats.proto
var statsProto string

// Protobuf encodes records as the messages declared in stats.proto. The schema is
// compiled at startup so no generated code is needed.
type Protobuf struct {
	action     protoreflect.MessageDescriptor
	similarity protoreflect.MessageDescriptor
	actionType protoreflect.EnumDescriptor
}

// NewProtobuf compiles the embedded schema.
func NewProtobuf() (*Protobuf, error) {
	compiler := protocompile.Compiler{
		Resolver:       protocompile.WithStandardImports(&embeddedResolver{}),
		SourceInfoMode: protocompile.SourceInfoNone,
	}

	files, err := compiler.Compile(context.Background(), protoFile)
	if err != nil {
		return nil, fmt.Errorf("failed to compile proto: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files compiled")
	}
	fd := files[0]

	p := &Protobuf{
		action:     fd.Messages().ByName("UserActionProto"),
		similarity: fd.Messages().ByName("EventSimilarityProto"),
		actionType: fd.Enums().ByName("ActionTypeProto"),
	}
	if p.action == nil || p.similarity == nil || p.actionType == nil {
		return nil, fmt.Errorf("%s: missing message or enum declarations", protoFile)
	}
	return p, nil
}

// embeddedResolver serves stats.proto from the binary.
type embeddedResolver struct{}

func (*embeddedResolver) FindFileByPath(path string) (protocompile.SearchResult, error) {
	if path == protoFile {
		return protocompile.SearchResult{Source: strings.NewReader(statsProto)}, nil
	}
	return protocompile.SearchResult{}, fmt.Errorf("file not found: %s", path)
}

func (*Protobuf) Name() string { return NameProtobuf }

func (p *Protobuf) EncodeAction(a v1.UserAction) ([]byte, error) {
	kind, err := v1.ParseActionType(string(a.ActionType))
	if err != nil {
		return nil, err
	}
	value := p.actionType.Values().ByName(protoreflect.Name("ACTION_" + string(kind)))
	if value == nil {
		return nil, fmt.Errorf("no enum value for action type %s", kind)
	}

	msg := dynamicpb.NewMessage(p.action)
	fields := p.action.Fields()
	msg.Set(fields.ByName("user_id"), protoreflect.ValueOfInt64(a.UserID))
	msg.Set(fields.ByName("event_id"), protoreflect.ValueOfInt64(a.EventID))
	msg.Set(fields.ByName("action_type"), protoreflect.ValueOfEnum(value.Number()))
	setTimestamp(msg, fields.ByName("timestamp"), a.Timestamp)
	return proto.Marshal(msg)
}

func (p *Protobuf) DecodeAction(data []byte) (v1.UserAction, error) {
	msg := dynamicpb.NewMessage(p.action)
	if err := proto.Unmarshal(data, msg); err != nil {
		return v1.UserAction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	fields := p.action.Fields()
	number := msg.Get(fields.ByName("action_type")).Enum()
	kind := v1.ActionType(fmt.Sprintf("ACTION_%d", number))
	if value := p.actionType.Values().ByNumber(number); value != nil {
		kind = v1.ActionType(value.Name())
	}

	return v1.UserAction{
		UserID:     msg.Get(fields.ByName("user_id")).Int(),
		EventID:    msg.Get(fields.ByName("event_id")).Int(),
		ActionType: kind,
		Timestamp:  getTimestamp(msg, fields.ByName("timestamp")),
	}, nil
}

func (p *Protobuf) EncodeSimilarity(s v1.EventSimilarity) ([]byte, error) {
	msg := dynamicpb.NewMessage(p.similarity)
	fields := p.similarity.Fields()
	msg.Set(fields.ByName("event_a"), protoreflect.ValueOfInt64(s.EventA))
	msg.Set(fields.ByName("event_b"), protoreflect.ValueOfInt64(s.EventB))
	msg.Set(fields.ByName("score"), protoreflect.ValueOfFloat64(s.Score))
	setTimestamp(msg, fields.ByName("timestamp"), s.Timestamp)
	return proto.Marshal(msg)
}

func (p *Protobuf) DecodeSimilarity(data []byte) (v1.EventSimilarity, error) {
	msg := dynamicpb.NewMessage(p.similarity)
	if err := proto.Unmarshal(data, msg); err != nil {
		return v1.EventSimilarity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	fields := p.similarity.Fields()
	return v1.EventSimilarity{
		EventA:    msg.Get(fields.ByName("event_a")).Int(),
		EventB:    msg.Get(fields.ByName("event_b")).Int(),
		Score:     msg.Get(fields.ByName("score")).Float(),
		Timestamp: getTimestamp(msg, fields.ByName("timestamp")),
	}, nil
}

// A zero time leaves the timestamp field unset.
func setTimestamp(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor, t time.Time) {
	if t.IsZero() {
		return
	}
	ts := msg.Mutable(fd).Message()
	tsFields := ts.Descriptor().Fields()
	ts.Set(tsFields.ByName("seconds"), protoreflect.ValueOfInt64(t.Unix()))
	ts.Set(tsFields.ByName("nanos"), protoreflect.ValueOfInt32(int32(t.Nanosecond())))
}

func getTimestamp(msg *dynamicpb.Message, fd protoreflect.FieldDescriptor) time.Time {
	if !msg.Has(fd) {
		return time.Time{}
	}
	ts := msg.Get(fd).Message()
	tsFields := ts.Descriptor().Fields()
	seconds := ts.Get(tsFields.ByName("seconds")).Int()
	nanos := ts.Get(tsFields.ByName("nanos")).Int()
	return time.Unix(seconds, nanos).UTC()
}
