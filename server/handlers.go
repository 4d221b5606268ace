package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lobby"
	"lobby/chat"
)

type mergeRequest struct {
	Filter lobby.Filter `json:"filter"`
	Start  int          `json:"start"`
	Limit  int          `json:"limit"`
	Page   lobby.Page   `json:"page"`
}

type transcriptRequest struct {
	Messages      []chat.Message `json:"messages" binding:"max=1000"`
	WindowMinutes int            `json:"windowMinutes"`
}

// errorStatus maps an error to its HTTP status, falling back to def.
func errorStatus(err error, def int) int {
	switch {
	case errors.Is(err, lobby.ErrUnknownField):
		return http.StatusNotFound
	case errors.Is(err, lobby.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, lobby.ErrFetcherNotSet):
		return http.StatusServiceUnavailable
	default:
		return def
	}
}

func (s *Server) writeError(c *gin.Context, err error, def int) {
	status := errorStatus(err, def)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", lobby.ErrInvalidRequest, name)
	}
	return v, nil
}

// pageRequest builds the typed request from the path and query string.
func pageRequest(c *gin.Context) (lobby.PageRequest, error) {
	field, err := lobby.ParseField(c.Param("field"))
	if err != nil {
		return lobby.PageRequest{}, err
	}
	start, err := queryInt(c, "start")
	if err != nil {
		return lobby.PageRequest{}, err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return lobby.PageRequest{}, err
	}
	return lobby.PageRequest{
		Field: field,
		Filter: lobby.Filter{
			CategorySlug: c.Query("categorySlug"),
			Search:       c.Query("search"),
			UserID:       c.Query("userId"),
		},
		Start: start,
		Limit: limit,
	}, nil
}

func (s *Server) fetchPage(c *gin.Context) {
	req, err := pageRequest(c)
	if err != nil {
		s.writeError(c, err, http.StatusBadRequest)
		return
	}
	res, err := s.cache.Fetch(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) readPage(c *gin.Context) {
	req, err := pageRequest(c)
	if err != nil {
		s.writeError(c, err, http.StatusBadRequest)
		return
	}
	res, err := s.cache.Read(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) mergePage(c *gin.Context) {
	field, err := lobby.ParseField(c.Param("field"))
	if err != nil {
		s.writeError(c, err, http.StatusNotFound)
		return
	}
	var body mergeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.writeError(c, fmt.Errorf("%w: %v", lobby.ErrInvalidRequest, err), http.StatusBadRequest)
		return
	}
	req := lobby.PageRequest{Field: field, Filter: body.Filter, Start: body.Start, Limit: body.Limit}
	if req.Limit == 0 {
		req.Limit = len(body.Page.Items)
	}
	inserted, err := s.cache.Merge(c.Request.Context(), req, body.Page)
	if err != nil {
		s.writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": inserted})
}

func (s *Server) clearCache(c *gin.Context) {
	if err := s.cache.Clear(c.Request.Context()); err != nil {
		s.writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Store().Stats(c.Request.Context()))
}

func transcript(c *gin.Context) {
	var body transcriptRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	window := time.Duration(body.WindowMinutes) * time.Minute
	c.JSON(http.StatusOK, gin.H{"entries": chat.Transcript(body.Messages, window)})
}
