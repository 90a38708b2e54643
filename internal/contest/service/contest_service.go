package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"ojtrust/internal/contest/model"
	"ojtrust/internal/contest/policy"
	"ojtrust/internal/contest/repository"
	pkgerrors "ojtrust/pkg/errors"
	"ojtrust/pkg/utils/logger"

	"go.uber.org/zap"
)

// CreateContestInput describes a new contest.
type CreateContestInput struct {
	Title           string
	StartTime       time.Time
	EndTime         time.Time
	Visible         bool
	Groups          []int64
	AllowedIPRanges []string
}

// ContestService answers admission questions and manages contests.
type ContestService struct {
	repo repository.ContestRepository
	now  func() time.Time
}

// NewContestService creates a new ContestService.
func NewContestService(repo repository.ContestRepository) *ContestService {
	return &ContestService{repo: repo, now: time.Now}
}

// CanCompete loads the contest and evaluates the admission policy on it.
func (s *ContestService) CanCompete(ctx context.Context, user model.User, contestID int64, sourceIP *netip.Addr) (policy.Decision, error) {
	_, decision, err := s.Admission(ctx, user, contestID, sourceIP)
	return decision, err
}

// Admission loads the contest once and returns it with the decision taken on
// that same snapshot.
func (s *ContestService) Admission(ctx context.Context, user model.User, contestID int64, sourceIP *netip.Addr) (*model.Contest, policy.Decision, error) {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return nil, policy.Decision{}, err
	}
	return contest, s.decide(ctx, user, contest, sourceIP), nil
}

// CanSeeProblems reports whether user may see the problems of a contest. The
// policy must admit the user and, for everyone but admins, the contest must
// have started. Problems of a missing contest stay hidden.
func (s *ContestService) CanSeeProblems(ctx context.Context, user model.User, contestID int64, sourceIP *netip.Addr) (bool, error) {
	contest, decision, err := s.Admission(ctx, user, contestID, sourceIP)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.ContestNotFound) {
			return false, nil
		}
		return false, err
	}
	if !decision.Allowed {
		return false, nil
	}
	return user.Admin || contest.Started(s.now()), nil
}

// CheckSubmission reports whether user may submit to the contest at now.
// Admins are not bound by the contest window.
func (s *ContestService) CheckSubmission(ctx context.Context, user model.User, contestID int64, sourceIP *netip.Addr, now time.Time) (policy.Decision, error) {
	contest, err := s.GetContest(ctx, contestID)
	if err != nil {
		return policy.Decision{}, err
	}
	decision := s.decide(ctx, user, contest, sourceIP)
	if !decision.Allowed {
		return decision, pkgerrors.New(pkgerrors.ContestAccessDenied).WithDetail("reason", string(decision.Reason))
	}
	if user.Admin {
		return decision, nil
	}
	if !contest.Started(now) {
		return decision, pkgerrors.New(pkgerrors.ContestNotStarted)
	}
	if contest.Ended(now) {
		return decision, pkgerrors.New(pkgerrors.ContestEnded)
	}
	return decision, nil
}

// VisibleContests lists started contests user may compete in. Their problems
// are the contest problems the user can see.
func (s *ContestService) VisibleContests(ctx context.Context, user model.User, sourceIP *netip.Addr, now time.Time) ([]*model.Contest, error) {
	if user.Anonymous() {
		return []*model.Contest{}, nil
	}
	contests, err := s.repo.ListStarted(ctx, now)
	if err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("list contests failed: %w", err), pkgerrors.DatabaseError)
	}
	visible := make([]*model.Contest, 0, len(contests))
	for _, contest := range contests {
		if s.decide(ctx, user, contest, sourceIP).Allowed {
			visible = append(visible, contest)
		}
	}
	return visible, nil
}

// GetContest loads one contest.
func (s *ContestService) GetContest(ctx context.Context, contestID int64) (*model.Contest, error) {
	if contestID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}
	contest, err := s.repo.Get(ctx, contestID)
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return nil, pkgerrors.New(pkgerrors.ContestNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get contest failed: %w", err), pkgerrors.DatabaseError)
	}
	return contest, nil
}

// CreateContest stores a contest after validating its window and IP ranges.
func (s *ContestService) CreateContest(ctx context.Context, actor model.User, input CreateContestInput) (*model.Contest, error) {
	if actor.Anonymous() {
		return nil, pkgerrors.New(pkgerrors.Unauthorized)
	}
	if !actor.Admin {
		return nil, pkgerrors.New(pkgerrors.PermissionDenied)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.ValidationError("title", "is required")
	}
	if !input.StartTime.Before(input.EndTime) {
		return nil, pkgerrors.BadRequest("start_time must be before end_time")
	}
	ranges := make([]string, 0, len(input.AllowedIPRanges))
	for _, raw := range input.AllowedIPRanges {
		if _, err := model.ParseIPRange(raw); err != nil {
			return nil, pkgerrors.BadRequest(err.Error()).WithDetail("field", "allowed_ip_ranges")
		}
		ranges = append(ranges, strings.TrimSpace(raw))
	}
	groups, err := normalizeGroups(input.Groups)
	if err != nil {
		return nil, err
	}

	contest := &model.Contest{
		Title:           title,
		StartTime:       input.StartTime.UTC(),
		EndTime:         input.EndTime.UTC(),
		Visible:         input.Visible,
		Groups:          groups,
		AllowedIPRanges: ranges,
		CreatedBy:       actor.ID,
		CreatedAt:       s.now().UTC(),
	}
	if _, err := s.repo.Create(ctx, contest); err != nil {
		return nil, pkgerrors.Wrap(fmt.Errorf("create contest failed: %w", err), pkgerrors.ContestCreateFailed)
	}
	logger.Info(ctx, "contest created",
		zap.Int64("contest_id", contest.ID),
		zap.Int("groups", len(groups)),
		zap.Int("ip_ranges", len(ranges)),
	)
	return contest, nil
}

// decide runs the policy and records a diagnostic when the caller failed to
// supply the source address an IP-restricted contest needs.
func (s *ContestService) decide(ctx context.Context, user model.User, contest *model.Contest, sourceIP *netip.Addr) policy.Decision {
	decision := policy.Decide(user, contest, sourceIP)
	if decision.Reason == policy.ReasonMissingSourceIP {
		logger.Warn(ctx, "admission evaluated without source ip",
			zap.Int("code", int(pkgerrors.MissingSourceIP)),
			zap.Int64("contest_id", contest.ID),
			zap.Int64("user_id", user.ID),
		)
	}
	return decision
}

func normalizeGroups(groups []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(groups))
	out := make([]int64, 0, len(groups))
	for _, g := range groups {
		if g <= 0 {
			return nil, pkgerrors.ValidationError("groups", "group ids must be positive")
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out, nil
}
