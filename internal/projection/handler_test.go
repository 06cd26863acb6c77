package projection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	v1 "github.com/aevon-lab/mailmetrics/internal/api/v1"
	httperr "github.com/aevon-lab/mailmetrics/internal/core/errors"
	"github.com/aevon-lab/mailmetrics/internal/core/storage"
	"github.com/aevon-lab/mailmetrics/internal/core/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func get(r http.Handler, path string, params url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path+"?"+params.Encode(), nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func window(start, end time.Time) url.Values {
	return url.Values{
		"start": {start.Format(time.RFC3339)},
		"end":   {end.Format(time.RFC3339)},
	}
}

func TestHandleQueryMetrics(t *testing.T) {
	store := memory.New()
	seed := &seeder{t: t, store: store}
	ts := now.Add(-time.Hour)
	seed.add("acc-1", "m1", v1.EventSend, "c1", ts)
	seed.add("acc-1", "m2", v1.EventSend, "c2", ts)
	seed.add("acc-1", "m3", v1.EventSend, "c3", ts)
	seed.add("acc-1", "m1", v1.EventOpen, "c1", ts)

	r := newRouter(newService(store))

	params := window(now.Add(-24*time.Hour), now)
	params.Set("account_id", "acc-1")
	params.Add("message_ids", "m1,m2")
	resp := get(r, "/v1/metrics/"+owner, params)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body MetricsResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, owner, body.OwnerID)
	require.Equal(t, []string{"m1", "m2"}, body.Scope.MessageIDs)
	require.Equal(t, int64(2), body.Metrics.SentCount)
	require.Equal(t, 50.0, body.Metrics.OpenRate)
}

func TestHandleQuery_StatusMapping(t *testing.T) {
	start := now.Add(-time.Hour)

	tests := []struct {
		name         string
		path         string
		params       url.Values
		store        storage.EventStore
		expectedCode int
		expectedType string
	}{
		{
			name:         "end before start returns 400",
			path:         "/v1/metrics/" + owner,
			params:       window(now, start),
			store:        memory.New(),
			expectedCode: http.StatusBadRequest,
			expectedType: httperr.HttpInvalidWindowError,
		},
		{
			name:         "missing start returns 400",
			path:         "/v1/metrics/" + owner,
			params:       url.Values{"end": {now.Format(time.RFC3339)}},
			store:        memory.New(),
			expectedCode: http.StatusBadRequest,
			expectedType: httperr.HttpInvalidQueryError,
		},
		{
			name: "unsupported granularity returns 400",
			path: "/v1/metrics/" + owner + "/timeline",
			params: func() url.Values {
				v := window(start, now)
				v.Set("granularity", "hour")
				return v
			}(),
			store:        memory.New(),
			expectedCode: http.StatusBadRequest,
			expectedType: httperr.HttpInvalidWindowError,
		},
		{
			name:         "storage unavailable returns 503",
			path:         "/v1/metrics/" + owner,
			params:       window(start, now),
			store:        &countingStore{EventStore: memory.New(), err: fmt.Errorf("query: %w", storage.ErrUnavailable)},
			expectedCode: http.StatusServiceUnavailable,
			expectedType: httperr.HttpStorageUnavailableError,
		},
		{
			name:         "store error returns 500",
			path:         "/v1/metrics/" + owner + "/timeline",
			params:       window(start, now),
			store:        &countingStore{EventStore: memory.New(), err: fmt.Errorf("boom")},
			expectedCode: http.StatusInternalServerError,
			expectedType: httperr.HttpInternalError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := get(newRouter(newService(tc.store)), tc.path, tc.params)
			require.Equal(t, tc.expectedCode, resp.Code, resp.Body.String())

			var errResp httperr.ErrorResponse
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &errResp))
			require.Equal(t, tc.expectedType, errResp.ErrorType)
		})
	}
}

func TestHandleQueryTimeline_DefaultsToDay(t *testing.T) {
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	resp := get(newRouter(newService(memory.New())), "/v1/metrics/"+owner+"/timeline", window(start, start.AddDate(0, 0, 3)))
	require.Equal(t, http.StatusOK, resp.Code)

	var timeline Timeline
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &timeline))
	require.Equal(t, v1.GranularityDay, timeline.Granularity)
	require.Len(t, timeline.Points, 3)
}

func TestHandleCompareScopes(t *testing.T) {
	store := memory.New()
	seed := &seeder{t: t, store: store}
	ts := now.Add(-time.Hour)
	seed.add("acc-1", "m1", v1.EventSend, "c1", ts)
	seed.add("acc-1", "m2", v1.EventSend, "c2", ts)
	seed.add("acc-1", "m2", v1.EventClick, "c2", ts)

	r := newRouter(newService(store))

	body, err := json.Marshal(CompareRequest{
		Scopes: []v1.Scope{{MessageID: "m1"}, {MessageID: "m2"}},
		Start:  now.Add(-24 * time.Hour),
		End:    now,
		Metric: "click_rate",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/metrics/"+owner+"/compare", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var cmp Comparison
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &cmp))
	require.Equal(t, "m2", cmp.Results[0].Scope.MessageID)
	require.NotNil(t, cmp.BestPerformer)
	require.Equal(t, 1, cmp.BestPerformer.Index)

	req = httptest.NewRequest(http.MethodPost, "/v1/metrics/"+owner+"/compare", bytes.NewReader([]byte(`{"scopes":[],"start":"2024-03-19T00:00:00Z","end":"2024-03-20T00:00:00Z"}`)))
	req.Header.Set("Content-Type", "application/json")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
