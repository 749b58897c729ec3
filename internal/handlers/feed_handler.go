package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-feed-fanout/internal/feed"
	"github.com/imrishuroy/go-feed-fanout/internal/validation"
)

// FeedService is the feed core as seen by the HTTP layer. *feed.Service
// implements it.
type FeedService interface {
	FanOut(ctx context.Context, post feed.Post, audience []string) (feed.FanOutResult, error)
	GetFeed(ctx context.Context, userID string, limit int, cursor *feed.Cursor) (feed.Page, error)
	DeleteByPost(ctx context.Context, postID string) (feed.CleanupResult, error)
	DeleteByAuthorForUser(ctx context.Context, userID, authorID string) (feed.CleanupResult, error)
	ClearFeed(ctx context.Context, userID string) (feed.CleanupResult, error)
}

var _ FeedService = (*feed.Service)(nil)

// HandlerConfig groups dependencies for the feed handler.
type HandlerConfig struct {
	Service   FeedService
	Logger    *zap.Logger
	Validator *validatorv10.Validate
}

type feedHandler struct {
	svc    FeedService
	logger *zap.Logger
	v      *validatorv10.Validate
}

// RegisterFeedRoutes registers the feed read, fan-out and cleanup routes.
func RegisterFeedRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := &feedHandler{svc: cfg.Service, logger: cfg.Logger, v: cfg.Validator}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.v == nil {
		h.v = validation.New()
	}

	r.GET("/users/:userID/feed", h.getFeed)
	r.DELETE("/users/:userID/feed", h.clearFeed)
	r.DELETE("/users/:userID/feed/authors/:authorID", h.deleteByAuthor)
	r.POST("/posts/fanout", h.fanOut)
	r.DELETE("/posts/:postID/feed-items", h.deleteByPost)
}

func (h *feedHandler) getFeed(c *gin.Context) {
	var q validation.FeedQuery
	if err := validation.BindQueryAndValidate(c, &q, h.v); err != nil {
		return
	}

	var cursor *feed.Cursor
	if q.Cursor != "" {
		parsed, err := feed.ParseCursor(q.Cursor)
		if err != nil {
			h.writeError(c, err)
			return
		}
		cursor = &parsed
	}

	page, err := h.svc.GetFeed(c.Request.Context(), c.Param("userID"), q.Limit, cursor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *feedHandler) fanOut(c *gin.Context) {
	var req validation.FanOutRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}

	res, err := h.svc.FanOut(c.Request.Context(), req.Post.ToFeedPost(), req.Audience)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidInput) {
			h.writeError(c, err)
			return
		}
		h.logger.Error("fan-out interrupted", zap.String("post_id", req.Post.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fanout_interrupted", "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *feedHandler) deleteByPost(c *gin.Context) {
	res, err := h.svc.DeleteByPost(c.Request.Context(), c.Param("postID"))
	h.writeCleanup(c, res, err)
}

func (h *feedHandler) deleteByAuthor(c *gin.Context) {
	res, err := h.svc.DeleteByAuthorForUser(c.Request.Context(), c.Param("userID"), c.Param("authorID"))
	h.writeCleanup(c, res, err)
}

func (h *feedHandler) clearFeed(c *gin.Context) {
	res, err := h.svc.ClearFeed(c.Request.Context(), c.Param("userID"))
	h.writeCleanup(c, res, err)
}

// writeCleanup answers 200 for a finished cleanup and 202 for a partial one;
// the client may repeat the request to finish the job.
func (h *feedHandler) writeCleanup(c *gin.Context, res feed.CleanupResult, err error) {
	switch {
	case errors.Is(err, feed.ErrInvalidInput):
		h.writeError(c, err)
	case err != nil:
		h.logger.Error("feed cleanup failed",
			zap.String("operation", string(res.Operation)),
			zap.Int("deleted", res.DeletedCount),
			zap.Int("remaining", len(res.Remaining)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup_failed", "result": res})
	case res.Partial():
		c.JSON(http.StatusAccepted, res)
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (h *feedHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, feed.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "msg": err.Error()})
	case errors.Is(err, feed.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "msg": err.Error()})
	case errors.Is(err, feed.ErrTransient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		h.logger.Error("feed request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
