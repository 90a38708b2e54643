package controller

import (
	"context"
	"net/netip"
	"strconv"

	"ojtrust/internal/common/http/middleware"
	"ojtrust/internal/problem/model"
	"ojtrust/internal/problem/moderation"
	"ojtrust/internal/problem/repository"
	"ojtrust/internal/problem/service"
	"ojtrust/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultRankedLimit = 20

// ProblemAPI is the problem management surface used by the controller.
type ProblemAPI interface {
	CreateProblem(ctx context.Context, actor service.Actor, input service.CreateProblemInput) (*model.Problem, error)
	CanCreate(ctx context.Context, actor service.Actor) (bool, error)
	GetProblem(ctx context.Context, actor service.Actor, sourceIP *netip.Addr, problemID int64) (*model.Problem, error)
	ValidateProblem(ctx context.Context, actor service.Actor, problemID int64) (*model.Problem, error)
}

// ModerationAPI is the voting and statistics surface used by the controller.
type ModerationAPI interface {
	CastVote(ctx context.Context, problemID, userID int64, isUp bool) (service.VoteOutcome, error)
	VoteStatus(ctx context.Context, userID, problemID int64) (model.VoteStatus, error)
	ListRanked(ctx context.Context, offset, limit int64) ([]repository.RankEntry, int64, error)
	EvaluateTrust(ctx context.Context, problemID int64) (moderation.Action, error)
	RecordSubmissionResult(ctx context.Context, problemID int64, accepted bool) (*model.Problem, error)
	RecomputeDifficulty(ctx context.Context, problemID int64) (model.Difficulty, bool, error)
}

// ProblemController handles problem HTTP endpoints.
type ProblemController struct {
	problems   ProblemAPI
	moderation ModerationAPI

	limiter     *middleware.RateLimiter
	voteLimit   middleware.RateLimitPolicy
	createLimit middleware.RateLimitPolicy
}

// NewProblemController creates a new ProblemController.
func NewProblemController(problems ProblemAPI, moderation ModerationAPI) *ProblemController {
	return &ProblemController{problems: problems, moderation: moderation}
}

// WithRateLimits throttles vote casting and problem creation per caller.
func (h *ProblemController) WithRateLimits(limiter *middleware.RateLimiter, vote, create middleware.RateLimitPolicy) *ProblemController {
	h.limiter = limiter
	h.voteLimit = vote
	h.voteLimit.Route = "problem_vote"
	h.createLimit = create
	h.createLimit.Route = "problem_create"
	return h
}

// RegisterRoutes mounts the problem endpoints under router.
func (h *ProblemController) RegisterRoutes(router gin.IRouter, auth *middleware.Authenticator) {
	optional := middleware.AuthMiddleware(auth, middleware.AuthPolicy{Mode: "optional"})
	required := middleware.AuthMiddleware(auth, middleware.AuthPolicy{})
	adminOnly := middleware.AuthMiddleware(auth, middleware.AuthPolicy{Roles: middleware.AdminRoles})

	voteLimit := middleware.RateLimitMiddleware(h.limiter, h.voteLimit)
	createLimit := middleware.RateLimitMiddleware(h.limiter, h.createLimit)

	api := router.Group("/api/v1/problems")
	api.POST("", required, createLimit, h.Create)
	api.GET("/can-create", optional, h.CanCreate)
	api.GET("/ranked", optional, h.ListRanked)
	api.GET("/:id", optional, h.Get)
	api.POST("/:id/votes", required, voteLimit, h.Vote)
	api.GET("/:id/vote-status", optional, h.VoteStatus)
	api.PUT("/:id/validate", adminOnly, h.Validate)
	api.POST("/:id/trust/evaluate", adminOnly, h.EvaluateTrust)
	api.POST("/:id/submissions", adminOnly, h.RecordSubmission)
	api.POST("/:id/difficulty/recompute", adminOnly, h.RecomputeDifficulty)
}

// Create handles problem creation.
func (h *ProblemController) Create(c *gin.Context) {
	var req CreateProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	problem, err := h.problems.CreateProblem(c.Request.Context(), actorFrom(c), service.CreateProblemInput{
		Title:        req.Title,
		Difficulty:   req.Difficulty,
		CourseID:     req.CourseID,
		CollectionID: req.CollectionID,
		ContestID:    req.ContestID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, problem)
}

// CanCreate reports whether the caller may create another problem.
func (h *ProblemController) CanCreate(c *gin.Context) {
	ok, err := h.problems.CanCreate(c.Request.Context(), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, CanCreateResponse{CanCreate: ok})
}

// Get returns one problem.
func (h *ProblemController) Get(c *gin.Context) {
	problemID, ok := parseProblemID(c)
	if !ok {
		return
	}
	problem, err := h.problems.GetProblem(c.Request.Context(), actorFrom(c), middleware.ClientAddr(c), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problem)
}

// ListRanked pages through the rank board.
func (h *ProblemController) ListRanked(c *gin.Context) {
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		response.BadRequest(c, "Invalid offset")
		return
	}
	limit, err := queryInt(c, "limit", defaultRankedLimit)
	if err != nil {
		response.BadRequest(c, "Invalid limit")
		return
	}

	entries, total, err := h.moderation.ListRanked(c.Request.Context(), offset, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RankedResponse{Items: entries, Total: total})
}

// Vote casts the caller's vote on a problem.
func (h *ProblemController) Vote(c *gin.Context) {
	problemID, ok := parseProblemID(c)
	if !ok {
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Up == nil {
		response.BadRequest(c, "Field up is required")
		return
	}

	outcome, err := h.moderation.CastVote(c.Request.Context(), problemID, middleware.IdentityFrom(c).ID, *req.Up)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, outcome)
}

// VoteStatus reports how the caller voted: 0 none, 1 up, 2 down.
func (h *ProblemController) VoteStatus(c *gin.Context) {
	problemID, ok := parseProblemID(c)
	if !ok {
		return
	}
	status, err := h.moderation.VoteStatus(c.Request.Context(), middleware.IdentityFrom(c).ID, problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, VoteStatusResponse{Status: status})
}

// Validate marks a pending problem valid.
func (h *ProblemController) Validate(c *gin.Context) {
	problemID, ok := parseProblemID(c)
	if !ok {
		return
	}
	problem, err := h.problems.ValidateProblem(c.Request.Context(), actorFrom(c), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problem)
}

// EvaluateTrust re-runs the trust rules for a problem.
func (h *ProblemController) EvaluateTrust(c *gin.Context) {
	problemID, ok := parseProblemID(c)
	if !ok {
		return
	}
	action, err := h.moderation.EvaluateTrust(c.Request.Context(), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, EvaluateTrustResponse{ProblemID: problemID, Action: action.String()})
}

// RecordSubmission applies one judged submission to the problem statistics.
func (h *ProblemController) RecordSubmission(c *gin.Context) {
	problemID, ok := parseProblemID(c)
	if !ok {
		return
	}
	var req SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Accepted == nil {
		response.BadRequest(c, "Field accepted is required")
		return
	}
	problem, err := h.moderation.RecordSubmissionResult(c.Request.Context(), problemID, *req.Accepted)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, problem)
}

// RecomputeDifficulty re-estimates the difficulty label.
func (h *ProblemController) RecomputeDifficulty(c *gin.Context) {
	problemID, ok := parseProblemID(c)
	if !ok {
		return
	}
	label, changed, err := h.moderation.RecomputeDifficulty(c.Request.Context(), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, DifficultyResponse{ProblemID: problemID, Difficulty: label, Assigned: changed})
}

func actorFrom(c *gin.Context) service.Actor {
	identity := middleware.IdentityFrom(c)
	return service.Actor{ID: identity.ID, GroupID: identity.GroupID, Admin: identity.IsAdmin()}
}

func parseProblemID(c *gin.Context) (int64, bool) {
	problemID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return 0, false
	}
	return problemID, true
}

func queryInt(c *gin.Context, key string, fallback int64) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// CreateProblemRequest defines problem creation payload.
type CreateProblemRequest struct {
	Title        string `json:"title" binding:"required"`
	Difficulty   string `json:"difficulty"`
	CourseID     int64  `json:"course_id"`
	CollectionID int64  `json:"collection_id"`
	ContestID    int64  `json:"contest_id"`
}

// VoteRequest defines the vote payload.
type VoteRequest struct {
	Up *bool `json:"up"`
}

// SubmissionRequest defines the judged submission payload.
type SubmissionRequest struct {
	Accepted *bool `json:"accepted"`
}

type CanCreateResponse struct {
	CanCreate bool `json:"can_create"`
}

type RankedResponse struct {
	Items []repository.RankEntry `json:"items"`
	Total int64                  `json:"total"`
}

type VoteStatusResponse struct {
	Status model.VoteStatus `json:"status"`
}

type EvaluateTrustResponse struct {
	ProblemID int64  `json:"problem_id"`
	Action    string `json:"action"`
}

type DifficultyResponse struct {
	ProblemID  int64            `json:"problem_id"`
	Difficulty model.Difficulty `json:"difficulty,omitempty"`
	Assigned   bool             `json:"assigned"`
}
