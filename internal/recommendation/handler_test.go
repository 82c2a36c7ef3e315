package recommendation

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	httperr "github.com/aevon-lab/eventsim/internal/core/errors"
	"github.com/aevon-lab/eventsim/internal/core/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func TestHandlers_StatusMapping(t *testing.T) {
	store := seed(t,
		[]v1.Interaction{
			{UserID: 1, EventID: 1, Rating: rating("1.0"), Timestamp: t0},
			{UserID: 2, EventID: 2, Rating: rating("0.4"), Timestamp: t0},
		},
		[]v1.EventSimilarity{{EventA: 1, EventB: 2, Score: 0.5, Timestamp: t0}},
	)
	router := newTestRouter(NewService(store, store, Options{DefaultMaxResults: 10, MaxResultsLimit: 20}))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedItems  []v1.RecommendedEvent
	}{
		{
			name:           "user recommendations",
			path:           "/v1/recommendations/users/2?max_results=5",
			expectedStatus: http.StatusOK,
			expectedItems:  []v1.RecommendedEvent{{EventID: 1, Score: 0.4}},
		},
		{
			name:           "unknown user is empty",
			path:           "/v1/recommendations/users/99",
			expectedStatus: http.StatusOK,
			expectedItems:  []v1.RecommendedEvent{},
		},
		{
			name:           "non numeric user",
			path:           "/v1/recommendations/users/abc",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "negative max results",
			path:           "/v1/recommendations/users/1?max_results=-1",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "similar events",
			path:           "/v1/recommendations/events/1/similar",
			expectedStatus: http.StatusOK,
			expectedItems:  []v1.RecommendedEvent{{EventID: 2, Score: 0.5}},
		},
		{
			name:           "similar events excluding user history",
			path:           "/v1/recommendations/events/1/similar?user_id=2",
			expectedStatus: http.StatusOK,
			expectedItems:  []v1.RecommendedEvent{},
		},
		{
			name:           "bad exclude list",
			path:           "/v1/recommendations/events/1/similar?exclude=2,x",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "interaction counts",
			path:           "/v1/recommendations/interactions?event_ids=2,1",
			expectedStatus: http.StatusOK,
			expectedItems:  []v1.RecommendedEvent{{EventID: 1, Score: 1.0}, {EventID: 2, Score: 0.4}},
		},
		{
			name:           "bad event ids",
			path:           "/v1/recommendations/interactions?event_ids=0",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedStatus != http.StatusOK {
				var body httperr.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Equal(t, httperr.HttpInvalidQueryError, body.ErrorType)
				return
			}

			var body ItemsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.expectedItems, body.Items)
		})
	}
}

func TestHandlers_StoreErrorReturns500(t *testing.T) {
	sims := &mockSimilarityStore{}
	sims.On("SimilarTo", mock.Anything, int64(1), []int64(nil), 10).
		Return([]v1.EventSimilarity(nil), errors.New("db failure")).
		Once()
	router := newTestRouter(NewService(memory.NewStore(), sims, Options{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/recommendations/events/1/similar", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, httperr.HttpInternalError, body.ErrorType)
	sims.AssertExpectations(t)
}

func TestMaxResults_CappedAtLimit(t *testing.T) {
	svc := NewService(memory.NewStore(), memory.NewStore(), Options{DefaultMaxResults: 3, MaxResultsLimit: 5})

	k, err := svc.maxResults("")
	require.NoError(t, err)
	require.Equal(t, 3, k)

	k, err = svc.maxResults("500")
	require.NoError(t, err)
	require.Equal(t, 5, k)

	_, err = svc.maxResults("ten")
	require.ErrorIs(t, err, ErrInvalidQuery)
}
