package controller

import (
	"context"
	"net/netip"
	"strconv"
	"time"

	"ojtrust/internal/common/http/middleware"
	"ojtrust/internal/contest/model"
	"ojtrust/internal/contest/policy"
	"ojtrust/internal/contest/service"
	"ojtrust/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestAPI is the contest surface used by the controller.
type ContestAPI interface {
	CreateContest(ctx context.Context, actor model.User, input service.CreateContestInput) (*model.Contest, error)
	Admission(ctx context.Context, user model.User, contestID int64, sourceIP *netip.Addr) (*model.Contest, policy.Decision, error)
	VisibleContests(ctx context.Context, user model.User, sourceIP *netip.Addr, now time.Time) ([]*model.Contest, error)
}

// ContestController handles contest HTTP endpoints.
type ContestController struct {
	contests ContestAPI
	now      func() time.Time
}

// NewContestController creates a new ContestController.
func NewContestController(contests ContestAPI) *ContestController {
	return &ContestController{contests: contests, now: time.Now}
}

// RegisterRoutes mounts the contest endpoints under router.
func (h *ContestController) RegisterRoutes(router gin.IRouter, auth *middleware.Authenticator) {
	optional := middleware.AuthMiddleware(auth, middleware.AuthPolicy{Mode: "optional"})
	adminOnly := middleware.AuthMiddleware(auth, middleware.AuthPolicy{Roles: middleware.AdminRoles})

	api := router.Group("/api/v1/contests")
	api.POST("", adminOnly, h.Create)
	api.GET("/visible", optional, h.Visible)
	api.GET("/:id/admission", optional, h.Admission)
}

// Create handles contest creation.
func (h *ContestController) Create(c *gin.Context) {
	var req CreateContestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	visible := true
	if req.Visible != nil {
		visible = *req.Visible
	}

	contest, err := h.contests.CreateContest(c.Request.Context(), userFrom(c), service.CreateContestInput{
		Title:           req.Title,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Visible:         visible,
		Groups:          req.Groups,
		AllowedIPRanges: req.AllowedIPRanges,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, contest)
}

// Visible lists the started contests the caller may compete in.
func (h *ContestController) Visible(c *gin.Context) {
	contests, err := h.contests.VisibleContests(c.Request.Context(), userFrom(c), middleware.ClientAddr(c), h.now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, contests)
}

// Admission reports whether the caller may compete and where the contest
// window stands.
func (h *ContestController) Admission(c *gin.Context) {
	contestID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || contestID <= 0 {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	contest, decision, err := h.contests.Admission(c.Request.Context(), userFrom(c), contestID, middleware.ClientAddr(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, AdmissionResponse{
		ContestID: contestID,
		Allowed:   decision.Allowed,
		Reason:    string(decision.Reason),
		Window:    windowState(contest, h.now()),
	})
}

func userFrom(c *gin.Context) model.User {
	identity := middleware.IdentityFrom(c)
	return model.User{ID: identity.ID, Admin: identity.IsAdmin(), GroupID: identity.GroupID}
}

func windowState(contest *model.Contest, now time.Time) string {
	switch {
	case !contest.Started(now):
		return "not_started"
	case contest.Ended(now):
		return "ended"
	default:
		return "running"
	}
}

// CreateContestRequest defines contest creation payload.
type CreateContestRequest struct {
	Title           string    `json:"title" binding:"required"`
	StartTime       time.Time `json:"start_time" binding:"required"`
	EndTime         time.Time `json:"end_time" binding:"required"`
	Visible         *bool     `json:"visible"`
	Groups          []int64   `json:"groups"`
	AllowedIPRanges []string  `json:"allowed_ip_ranges"`
}

// AdmissionResponse defines the admission check payload.
type AdmissionResponse struct {
	ContestID int64  `json:"contest_id"`
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason"`
	Window    string `json:"window"`
}
