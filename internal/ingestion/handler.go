package ingestion

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	httperr "github.com/aevon-lab/mailmetrics/internal/core/errors"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"github.com/aevon-lab/mailmetrics/internal/normalize"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed      = "Failed to read request body"
	msgBodyTooLarge        = "Request body exceeds maximum allowed size"
	msgMissingAccount      = "Webhook does not belong to any account"
	msgMalformedPayload    = "Webhook payload could not be decoded"
	msgUnsupportedProvider = "Account provider has no webhook normalizer"
	msgAllRejected         = "No item in the delivery could be recorded"
	msgStorageUnavailable  = "Storage temporarily unavailable, retry the delivery"
	msgIngestFailed        = "Failed to ingest delivery"
)

// ingestionError carries the structured HTTP error shape from a helper back to the handler.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// WebhookHandler receives one provider delivery.
func (s *Service) WebhookHandler(c *gin.Context) {
	body, ierr := s.readBody(c)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	res, err := s.Ingest(c.Request.Context(), c.Param("webhook_id"), body)
	if err != nil {
		writeError(c, deliveryError(err))
		return
	}

	if ierr := resultError(res); ierr != nil {
		writeError(c, ierr)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"recorded":   res.Count(OutcomeRecorded),
		"duplicates": res.Count(OutcomeDuplicate),
		"rejected":   res.Count(OutcomeRejected),
		"items":      res.Items,
	})
}

// readBody enforces the body size limit.
func (s *Service) readBody(c *gin.Context) ([]byte, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBytes+1))
	if err != nil {
		slog.Error("[Ingestion] Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}
	if int64(len(body)) > maxBytes {
		slog.Warn("[Ingestion] Request body exceeds maximum size", "size", len(body), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpPayloadTooLargeError,
			message:    msgBodyTooLarge,
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}
	return body, nil
}

// deliveryError maps a whole-delivery failure to its HTTP shape.
func deliveryError(err error) *ingestionError {
	switch {
	case errors.Is(err, ErrMissingParentAccount):
		slog.Warn("[Ingestion] Webhook for unknown account", "error", err)
		return &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpMissingParentAccount,
			message:    msgMissingAccount,
		}
	case errors.Is(err, normalize.ErrMalformedPayload):
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpMalformedPayloadError,
			message:    msgMalformedPayload,
			details:    err.Error(),
		}
	case errors.Is(err, normalize.ErrUnsupportedProvider):
		slog.Error("[Ingestion] Account provider has no normalizer", "error", err)
		return &ingestionError{
			statusCode: http.StatusUnprocessableEntity,
			errorType:  httperr.HttpUnsupportedProviderError,
			message:    msgUnsupportedProvider,
		}
	case errors.Is(err, storage.ErrUnavailable):
		return &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpStorageUnavailableError,
			message:    msgStorageUnavailable,
		}
	default:
		slog.Error("[Ingestion] Delivery failed", "error", err)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgIngestFailed,
		}
	}
}

// resultError turns a processed delivery into an error response when the
// provider must redeliver it or when nothing in it was usable.
func resultError(res Result) *ingestionError {
	if res.Count(OutcomeFailed) > 0 {
		return &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpStorageUnavailableError,
			message:    msgStorageUnavailable,
			details:    res.Items,
		}
	}
	if !res.AllRejected() {
		return nil
	}

	errorType := httperr.HttpMalformedPayloadError
	for _, item := range res.Items {
		if errors.Is(item.Err(), normalize.ErrUnrecognizedEventType) {
			errorType = httperr.HttpUnrecognizedEventError
			break
		}
	}
	return &ingestionError{
		statusCode: http.StatusBadRequest,
		errorType:  errorType,
		message:    msgAllRejected,
		details:    res.Items,
	}
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
