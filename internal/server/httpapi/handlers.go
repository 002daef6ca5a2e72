package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) pushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req syncproto.PushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if req.ClientID == "" {
			req.ClientID = c.GetHeader(common.ClientIDHeaderName)
		}
		if req.IdempotencyKey == "" {
			req.IdempotencyKey = c.GetHeader(common.IdempotencyHeaderName)
		}

		resp, err := s.authority.Push(c.Request.Context(), &req)
		if err != nil {
			var verr *common.ValidationError
			switch {
			case errors.As(err, &verr):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "fields": verr.Fields})
			case errors.Is(err, common.ErrValidation):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				s.logger.Error(c.Request.Context(), "push failed", "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}

		if resp.Conflict {
			c.JSON(http.StatusConflict, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func pingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, syncproto.PingResponse{Status: syncproto.StatusOK})
	}
}

// entityHandler returns the server copy of one record, for diagnostics.
func (s *Server) entityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := s.authority.Get(c.Param("type"), c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data":      rec.Data,
			"updatedAt": rec.UpdatedAt,
			"deleted":   rec.Deleted,
			"clientId":  rec.ClientID,
		})
	}
}

func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationIDHeaderName)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Set(CorrelationIDHeaderName, cid)
		c.Header(CorrelationIDHeaderName, cid)
		c.Request = c.Request.WithContext(logging.ContextWith(c.Request.Context(), "correlation_id", cid))
		c.Next()
	}
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"latency", time.Since(start),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error(c.Request.Context(), "request failed", args...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn(c.Request.Context(), "request rejected", args...)
		default:
			logger.Debug(c.Request.Context(), "request served", args...)
		}
	}
}
