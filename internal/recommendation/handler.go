package recommendation

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	v1 "github.com/aevon-lab/eventsim/internal/api/v1"
	httperr "github.com/aevon-lab/eventsim/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// ItemsResponse wraps every recommendation result list.
type ItemsResponse struct {
	Items []v1.RecommendedEvent `json:"items"`
}

// RegisterRoutes registers the recommendation query routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/v1/recommendations")
	g.GET("/users/:user_id", s.HandleUserRecommendations)
	g.GET("/events/:event_id/similar", s.HandleSimilarEvents)
	g.GET("/interactions", s.HandleInteractionsCounts)
}

// HandleUserRecommendations handles GET /v1/recommendations/users/:user_id?max_results=K
func (s *Service) HandleUserRecommendations(c *gin.Context) {
	userID, err := parseID(c.Param("user_id"), "user_id")
	if err != nil {
		writeQueryError(c, err)
		return
	}
	k, err := s.maxResults(c.Query("max_results"))
	if err != nil {
		writeQueryError(c, err)
		return
	}

	items, err := s.RecommendationsForUser(c.Request.Context(), userID, k)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, ItemsResponse{Items: items})
}

// HandleSimilarEvents handles
// GET /v1/recommendations/events/:event_id/similar?exclude=1,2&user_id=U&max_results=K
func (s *Service) HandleSimilarEvents(c *gin.Context) {
	eventID, err := parseID(c.Param("event_id"), "event_id")
	if err != nil {
		writeQueryError(c, err)
		return
	}
	var userID int64
	if raw := c.Query("user_id"); raw != "" {
		if userID, err = parseID(raw, "user_id"); err != nil {
			writeQueryError(c, err)
			return
		}
	}
	exclude, err := parseIDList(c.Query("exclude"), "exclude")
	if err != nil {
		writeQueryError(c, err)
		return
	}
	k, err := s.maxResults(c.Query("max_results"))
	if err != nil {
		writeQueryError(c, err)
		return
	}

	items, err := s.SimilarEvents(c.Request.Context(), eventID, userID, exclude, k)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, ItemsResponse{Items: items})
}

// HandleInteractionsCounts handles GET /v1/recommendations/interactions?event_ids=1,2,3
func (s *Service) HandleInteractionsCounts(c *gin.Context) {
	eventIDs, err := parseIDList(c.Query("event_ids"), "event_ids")
	if err != nil {
		writeQueryError(c, err)
		return
	}

	items, err := s.InteractionsCounts(c.Request.Context(), eventIDs)
	if err != nil {
		writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, ItemsResponse{Items: items})
}

func writeQueryError(c *gin.Context, err error) {
	if errors.Is(err, ErrInvalidQuery) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid recommendation query",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   "Failed to query recommendations",
		Details:   err.Error(),
	})
}

// maxResults applies the configured default when raw is empty and caps the value
// at the configured limit. Zero is allowed and yields an empty list.
func (s *Service) maxResults(raw string) (int, error) {
	if raw == "" {
		return s.opts.DefaultMaxResults, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil || k < 0 {
		return 0, fmt.Errorf("%w: max_results must be a non-negative integer", ErrInvalidQuery)
	}
	if k > s.opts.MaxResultsLimit {
		k = s.opts.MaxResultsLimit
	}
	return k, nil
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidQuery, name, raw)
	}
	return id, nil
}

// parseIDList parses a comma separated id list. Empty input yields no ids.
func parseIDList(raw, name string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := parseID(part, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
