package handler

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NEAR-DevHub/devbot/internal/http/dto"
	"github.com/NEAR-DevHub/devbot/internal/ledger"
)

const defaultContributionsLimit = 20

// GitHub logins: alphanumerics and single hyphens, at most 39 characters.
var handlePattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,37}[A-Za-z0-9])?$`)

// UserReader is the read side of the ledger the handlers need.
type UserReader interface {
	UserProfile(ctx context.Context, handle string, at time.Time) (ledger.UserView, error)
	UserContributions(ctx context.Context, handle string, page, limit int) ([]ledger.PRRecord, error)
}

type UserHandler struct {
	reader UserReader
	now    func() time.Time
}

func NewUserHandler(reader UserReader) *UserHandler {
	return &UserHandler{reader: reader, now: time.Now}
}

func (h *UserHandler) Profile(c *gin.Context) {
	ctx := c.Request.Context()

	handle, ok := h.handle(c)
	if !ok {
		return
	}

	view, err := h.reader.UserProfile(ctx, handle, h.now())
	if err != nil {
		slog.ErrorContext(ctx, "failed to load user profile", "error", err, "handle", handle)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return
	}

	c.JSON(http.StatusOK, dto.ToUserResponse(view))
}

func (h *UserHandler) Contributions(c *gin.Context) {
	ctx := c.Request.Context()

	handle, ok := h.handle(c)
	if !ok {
		return
	}

	var q dto.ContributionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		slog.WarnContext(ctx, "invalid query", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultContributionsLimit
	}

	records, err := h.reader.UserContributions(ctx, handle, q.Page, q.Limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list contributions", "error", err, "handle", handle)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list contributions"})
		return
	}

	resp := dto.ContributionsResponse{
		Handle: handle,
		Page:   q.Page,
		Limit:  q.Limit,
		Items:  make([]dto.ContributionResponse, 0, len(records)),
	}
	for _, r := range records {
		resp.Items = append(resp.Items, dto.ToContributionResponse(r))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *UserHandler) handle(c *gin.Context) (string, bool) {
	handle := c.Param("handle")
	if !handlePattern.MatchString(handle) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid handle"})
		return "", false
	}
	return handle, true
}
