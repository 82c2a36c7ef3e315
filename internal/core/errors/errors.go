package errors

const (
	HttpInternalError      = "internal_error"
	HttpInvalidJsonError   = "invalid_json"
	HttpInvalidActionError = "invalid_action"
	HttpInvalidQueryError  = "invalid_query"
	HttpPublishFailedError = "publish_failed"
	HttpUnavailableError   = "unavailable"
)

// ErrorResponse is the error body returned by every HTTP endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
