package errors

const (
	HttpInternalError            = "internal_error"
	HttpPayloadTooLargeError     = "payload_too_large"
	HttpUnrecognizedEventError   = "unrecognized_event_type"
	HttpMalformedPayloadError    = "malformed_payload"
	HttpMissingParentAccount     = "missing_parent_account"
	HttpStorageUnavailableError  = "storage_unavailable"
	HttpInvalidWindowError       = "invalid_window"
	HttpInvalidQueryError        = "invalid_query"
	HttpUnsupportedProviderError = "unsupported_provider"
)

// ErrorResponse is the error response body shared by every HTTP surface.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
