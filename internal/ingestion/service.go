// Package ingestion is the collector: it accepts user actions over HTTP and
// publishes them to the user actions topic.
package ingestion

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aevon-lab/eventsim/internal/codec"
	"github.com/gin-gonic/gin"
)

type Service struct {
	publisher        message.Publisher
	codec            codec.Codec
	topic            string
	maxBodySizeBytes int
}

func NewService(pub message.Publisher, c codec.Codec, topic string, maxBodySizeMB int) *Service {
	if pub == nil {
		panic("ingestion: publisher must not be nil")
	}
	if c == nil {
		panic("ingestion: codec must not be nil")
	}
	if topic == "" {
		panic("ingestion: topic must not be empty")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		publisher:        pub,
		codec:            c,
		topic:            topic,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the collector routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/actions", s.CollectHandler)
}
