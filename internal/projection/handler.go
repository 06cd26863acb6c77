package projection

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	httperr "github.com/aevon-lab/mailmetrics/internal/core/errors"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/metrics/:owner_id", s.HandleQueryMetrics)
	r.GET("/v1/metrics/:owner_id/timeline", s.HandleQueryTimeline)
	r.POST("/v1/metrics/:owner_id/compare", s.HandleCompareScopes)
}

type ownerURI struct {
	OwnerID string `uri:"owner_id" binding:"required"`
}

type metricsQuery struct {
	AccountID   string    `form:"account_id"`
	MessageID   string    `form:"message_id"`
	MessageIDs  []string  `form:"message_ids"`
	Start       time.Time `form:"start" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	End         time.Time `form:"end" binding:"required" time_format:"2006-01-02T15:04:05Z07:00"`
	Granularity string    `form:"granularity"`
}

// scope accepts message_ids both repeated and comma separated.
func (q metricsQuery) scope() v1.Scope {
	var ids []string
	for _, raw := range q.MessageIDs {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return v1.Scope{AccountID: q.AccountID, MessageID: q.MessageID, MessageIDs: ids}
}

// HandleQueryMetrics handles GET /v1/metrics/:owner_id
// Query parameters: account_id, message_id, message_ids, start, end
func (s *Service) HandleQueryMetrics(c *gin.Context) {
	uri, query, ok := bindQuery(c)
	if !ok {
		return
	}

	bundle, err := s.QueryMetrics(c.Request.Context(), uri.OwnerID, query.scope(), query.Start, query.End)
	if err != nil {
		writeQueryError(c, err)
		return
	}

	c.JSON(http.StatusOK, MetricsResponse{
		OwnerID: uri.OwnerID,
		Scope:   query.scope(),
		Start:   query.Start,
		End:     query.End,
		Metrics: bundle,
	})
}

// HandleQueryTimeline handles GET /v1/metrics/:owner_id/timeline
// Query parameters: as HandleQueryMetrics plus granularity (default day).
func (s *Service) HandleQueryTimeline(c *gin.Context) {
	uri, query, ok := bindQuery(c)
	if !ok {
		return
	}
	if query.Granularity == "" {
		query.Granularity = string(v1.GranularityDay)
	}

	timeline, err := s.QueryTimeline(c.Request.Context(), uri.OwnerID, query.scope(), query.Start, query.End, v1.Granularity(query.Granularity))
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, timeline)
}

// HandleCompareScopes handles POST /v1/metrics/:owner_id/compare
func (s *Service) HandleCompareScopes(c *gin.Context) {
	var uri ownerURI
	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, "Invalid path parameters", err)
		return
	}
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid JSON body", err)
		return
	}

	cmp, err := s.CompareScopes(c.Request.Context(), uri.OwnerID, req.Scopes, req.Start, req.End, req.Metric)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

func bindQuery(c *gin.Context) (ownerURI, metricsQuery, bool) {
	var uri ownerURI
	var query metricsQuery

	if err := c.ShouldBindUri(&uri); err != nil {
		badRequest(c, "Invalid path parameters", err)
		return uri, query, false
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "Invalid query parameters", err)
		return uri, query, false
	}
	if query.Start.IsZero() || query.End.IsZero() {
		badRequest(c, "Invalid query parameters", errors.New("start and end are required"))
		return uri, query, false
	}
	return uri, query, true
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidQueryError,
		Message:   message,
		Details:   err.Error(),
	})
}

func writeQueryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidWindow):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidWindowError,
			Message:   "Invalid aggregation window",
			Details:   err.Error(),
		})
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid metrics query",
			Details:   err.Error(),
		})
	case errors.Is(err, storage.ErrUnavailable):
		slog.Warn("[Projection] Storage unavailable", "error", err)
		c.JSON(http.StatusServiceUnavailable, httperr.ErrorResponse{
			ErrorType: httperr.HttpStorageUnavailableError,
			Message:   "Storage temporarily unavailable",
		})
	default:
		slog.Error("[Projection] Query failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query metrics",
			Details:   err.Error(),
		})
	}
}
