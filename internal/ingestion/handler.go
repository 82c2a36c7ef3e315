package ingestion

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	"github.com/aevon-lab/eventsim/internal/bus"
	httperr "github.com/aevon-lab/eventsim/internal/core/errors"
	"github.com/aevon-lab/eventsim/internal/metrics"
	"github.com/gin-gonic/gin"
	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPublishFailed  = "Failed to publish action"
	msgBusUnavailable = "Message bus unavailable"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// CollectHandler handles HTTP POST /v1/actions.
func (s *Service) CollectHandler(c *gin.Context) {
	action, payloadSize, err := s.parseAction(c)
	if err != nil {
		metrics.ActionsPublished.WithLabelValues(metrics.ResultInvalid).Inc()
		writeError(c, err)
		return
	}

	if err := validateAction(action); err != nil {
		metrics.ActionsPublished.WithLabelValues(metrics.ResultInvalid).Inc()
		writeError(c, err)
		return
	}

	slog.Debug("Received user action",
		"user_id", action.UserID,
		"event_id", action.EventID,
		"action_type", action.ActionType,
		"payload_size", payloadSize)

	if err := s.publishAction(action); err != nil {
		metrics.ActionsPublished.WithLabelValues(metrics.ResultFailed).Inc()
		writeError(c, err)
		return
	}

	metrics.ActionsPublished.WithLabelValues(metrics.ResultAccepted).Inc()
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "key": action.Key()})
}

// parseAction reads the raw request body and binds it into a UserAction.
func (s *Service) parseAction(c *gin.Context) (*v1.UserAction, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var action v1.UserAction
	if err := c.ShouldBindJSON(&action); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return &action, len(bodyBytes), nil
}

func validateAction(action *v1.UserAction) *ingestionError {
	if err := action.Validate(); err != nil {
		slog.Warn("Action validation failed", "error", err, "user_id", action.UserID, "event_id", action.EventID)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidActionError,
			message:    err.Error(),
		}
	}
	return nil
}

// publishAction hands the action to the bus keyed "<user>:<event>".
func (s *Service) publishAction(action *v1.UserAction) *ingestionError {
	msg, err := bus.NewActionMessage(s.codec, *action)
	if err != nil {
		slog.Error("Failed to encode action", "error", err, "key", action.Key())
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPublishFailed,
		}
	}

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			slog.Warn("Publisher circuit open, rejecting action", "key", action.Key())
			return &ingestionError{
				statusCode: http.StatusServiceUnavailable,
				errorType:  httperr.HttpUnavailableError,
				message:    msgBusUnavailable,
			}
		}

		slog.Error("Failed to publish action", "error", err, "key", action.Key(), "topic", s.topic)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpPublishFailedError,
			message:    msgPublishFailed,
		}
	}
	return nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
