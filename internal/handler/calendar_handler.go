package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-api/internal/dto"
	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/service"
	appErrors "github.com/noah-isme/tutoring-api/pkg/errors"
	"github.com/noah-isme/tutoring-api/pkg/feedtoken"
	"github.com/noah-isme/tutoring-api/pkg/response"
)

type calendarService interface {
	View(ctx context.Context, actor models.Actor, req service.CalendarRequest) (*models.CalendarView, error)
	ICS(ctx context.Context, actor models.Actor, req service.CalendarRequest) (string, error)
}

type feedSigner interface {
	Generate(subject feedtoken.Subject) (string, time.Time, error)
	Parse(token string) (feedtoken.Subject, time.Time, error)
}

// CalendarHandler serves calendar projections of the ledger.
type CalendarHandler struct {
	service   calendarService
	feeds     feedSigner
	publicURL string
}

// NewCalendarHandler constructs the handler. publicURL prefixes subscription
// links; when empty the request host is used.
func NewCalendarHandler(svc calendarService, feeds feedSigner, publicURL string) *CalendarHandler {
	return &CalendarHandler{service: svc, feeds: feeds, publicURL: strings.TrimRight(publicURL, "/")}
}

// View godoc
// @Summary Calendar view
// @Description Day views return a flat list; week and month views map every date to its lessons.
// @Tags Calendar
// @Produce json
// @Param view query string false "day, week or month" default(month)
// @Param date query string false "Anchor date (YYYY-MM-DD), defaults to today"
// @Param start query string false "Explicit range start (YYYY-MM-DD)"
// @Param end query string false "Explicit exclusive range end (YYYY-MM-DD)"
// @Param studentId query string false "Student filter (tutor only)"
// @Success 200 {object} response.Envelope
// @Router /calendar [get]
func (h *CalendarHandler) View(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req service.CalendarRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, bindError(err, "invalid calendar query"))
		return
	}
	view, err := h.service.View(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewCalendarResponse(view))
}

// ICS godoc
// @Summary iCalendar feed
// @Tags Calendar
// @Produce text/calendar
// @Param view query string false "day, week or month" default(month)
// @Param date query string false "Anchor date (YYYY-MM-DD)"
// @Param start query string false "Explicit range start (YYYY-MM-DD)"
// @Param end query string false "Explicit exclusive range end (YYYY-MM-DD)"
// @Success 200 {string} string "VCALENDAR document"
// @Router /calendar.ics [get]
func (h *CalendarHandler) ICS(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	h.serveICS(c, actor)
}

// FeedToken godoc
// @Summary Issue a calendar subscription link
// @Description Returns a signed URL calendar clients can poll without an Authorization header.
// @Tags Calendar
// @Produce json
// @Success 201 {object} response.Envelope
// @Router /calendar/feed-token [post]
func (h *CalendarHandler) FeedToken(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if h.feeds == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "calendar feeds are not configured"))
		return
	}
	token, expiresAt, err := h.feeds.Generate(feedtoken.Subject{UserID: actor.UserID, Role: string(actor.Role), StudentID: actor.StudentID})
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign calendar feed"))
		return
	}
	response.Created(c, gin.H{
		"token":      token,
		"url":        h.feedURL(c, token),
		"expires_at": expiresAt.UTC(),
	})
}

// Feed godoc
// @Summary Subscribed iCalendar feed
// @Tags Calendar
// @Produce text/calendar
// @Param token query string true "Signed feed token"
// @Success 200 {string} string "VCALENDAR document"
// @Failure 401 {object} response.Envelope
// @Router /calendar/feed.ics [get]
func (h *CalendarHandler) Feed(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" || h.feeds == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "feed token required"))
		return
	}
	subject, _, err := h.feeds.Parse(token)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid feed token"))
		return
	}
	actor := models.Actor{UserID: subject.UserID, Role: models.UserRole(subject.Role), StudentID: subject.StudentID}
	if !actor.Role.Valid() || (actor.Role == models.RoleStudent && actor.StudentID == "") {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid feed token"))
		return
	}
	h.serveICS(c, actor)
}

func (h *CalendarHandler) serveICS(c *gin.Context, actor models.Actor) {
	var req service.CalendarRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, bindError(err, "invalid calendar query"))
		return
	}
	feed, err := h.service.ICS(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `inline; filename="lessons.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(feed))
}

func (h *CalendarHandler) feedURL(c *gin.Context, token string) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + c.Request.Host
	}
	path := strings.TrimSuffix(c.FullPath(), "/feed-token") + "/feed.ics"
	return base + path + "?" + url.Values{"token": {token}}.Encode()
}
