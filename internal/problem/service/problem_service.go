package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"ojtrust/internal/common/db"
	contestmodel "ojtrust/internal/contest/model"
	"ojtrust/internal/problem/model"
	"ojtrust/internal/problem/repository"
	pkgerrors "ojtrust/pkg/errors"
	"ojtrust/pkg/utils/logger"

	"go.uber.org/zap"
)

const maxTitleLength = 128

// Actor is the authenticated caller of a problem operation. ID 0 is anonymous.
type Actor struct {
	ID      int64
	GroupID int64
	Admin   bool
}

func (a Actor) contestUser() contestmodel.User {
	return contestmodel.User{ID: a.ID, GroupID: a.GroupID, Admin: a.Admin}
}

// ContestGate decides whether a caller may see the problems of a contest.
type ContestGate interface {
	CanSeeProblems(ctx context.Context, user contestmodel.User, contestID int64, sourceIP *netip.Addr) (bool, error)
}

// CreateProblemInput describes a new problem. At most one placement id is set;
// none makes a public problem.
type CreateProblemInput struct {
	Title        string
	Difficulty   string
	CourseID     int64
	CollectionID int64
	ContestID    int64
}

// ProblemService handles problem creation and administrative validation.
type ProblemService struct {
	db        db.Database
	problems  repository.ProblemRepository
	board     repository.RankBoard
	publisher EventPublisher
	contests  ContestGate
	quota     int64
	now       func() time.Time
}

// NewProblemService creates a ProblemService. quota caps the pending problems a
// regular user may own before creating more outside courses.
func NewProblemService(
	database db.Database,
	problems repository.ProblemRepository,
	board repository.RankBoard,
	publisher EventPublisher,
	contests ContestGate,
	quota int64,
) *ProblemService {
	return &ProblemService{
		db:        database,
		problems:  problems,
		board:     board,
		publisher: publisher,
		contests:  contests,
		quota:     quota,
		now:       time.Now,
	}
}

// CreateProblem stores a new problem. Admin problems start Valid, others Pending.
func (s *ProblemService) CreateProblem(ctx context.Context, actor Actor, input CreateProblemInput) (*model.Problem, error) {
	if actor.ID <= 0 {
		return nil, pkgerrors.New(pkgerrors.Unauthorized)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" || len(title) > maxTitleLength {
		return nil, pkgerrors.ValidationError("title", "must be 1-128 characters")
	}
	if placements(input) > 1 {
		return nil, pkgerrors.BadRequest("at most one of course_id, collection_id, contest_id may be set")
	}
	if input.ContestID > 0 && !actor.Admin {
		return nil, pkgerrors.New(pkgerrors.PermissionDenied).WithMessage("only admins may add contest problems")
	}
	difficulty := model.DifficultyMid
	if input.Difficulty != "" {
		parsed, err := model.ParseDifficulty(input.Difficulty)
		if err != nil {
			return nil, pkgerrors.ValidationError("difficulty", "must be Low, Mid or High")
		}
		difficulty = parsed
	}

	problem := &model.Problem{
		OwnerID:      actor.ID,
		Title:        title,
		Validity:     model.ValidityPending,
		Difficulty:   difficulty,
		CourseID:     input.CourseID,
		CollectionID: input.CollectionID,
		ContestID:    input.ContestID,
	}
	if actor.Admin {
		problem.Validity = model.ValidityValid
	}

	err := runInTx(ctx, s.db, func(tx db.Transaction) error {
		if !actor.Admin && problem.CourseID == 0 {
			pending, err := s.problems.CountPending(ctx, tx, actor.ID)
			if err != nil {
				return pkgerrors.Wrap(fmt.Errorf("count pending problems failed: %w", err), pkgerrors.DatabaseError)
			}
			if pending >= s.quota {
				return pkgerrors.New(pkgerrors.InvalidProblemsQuotaExceeded).
					WithDetail("pending", pending).
					WithDetail("quota", s.quota)
			}
		}
		if _, err := s.problems.Create(ctx, tx, problem); err != nil {
			return pkgerrors.Wrap(fmt.Errorf("create problem failed: %w", err), pkgerrors.ProblemCreateFailed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	problem.CreatedAt = s.now().UTC()
	problem.UpdatedAt = problem.CreatedAt

	if s.board != nil && problem.Votable() {
		if err := s.board.Update(ctx, problem.ID, 0); err != nil {
			logger.Warn(ctx, "add problem to rank board failed", zap.Int64("problem_id", problem.ID), zap.Error(err))
		}
	}
	logger.Info(ctx, "problem created",
		zap.Int64("problem_id", problem.ID),
		zap.Int64("owner_id", actor.ID),
		zap.String("validity", problem.Validity.String()),
	)
	return problem, nil
}

// CanCreate reports whether actor may create another problem outside a course.
func (s *ProblemService) CanCreate(ctx context.Context, actor Actor) (bool, error) {
	if actor.ID <= 0 {
		return false, nil
	}
	if actor.Admin {
		return true, nil
	}
	pending, err := s.problems.CountPending(ctx, nil, actor.ID)
	if err != nil {
		return false, pkgerrors.Wrap(fmt.Errorf("count pending problems failed: %w", err), pkgerrors.DatabaseError)
	}
	return pending < s.quota, nil
}

// GetProblem returns a problem with its current vote counts. Contest problems
// are reported missing unless the caller is an admin or the contest admits
// them from sourceIP and has started.
func (s *ProblemService) GetProblem(ctx context.Context, actor Actor, sourceIP *netip.Addr, problemID int64) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}
	problem, err := s.problems.Get(ctx, nil, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("get problem failed: %w", err), pkgerrors.DatabaseError)
	}
	if problem.ContestID == 0 || actor.Admin {
		return problem, nil
	}

	// Contest problems look missing to anyone the contest does not admit yet.
	if s.contests == nil {
		return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
	}
	visible, err := s.contests.CanSeeProblems(ctx, actor.contestUser(), problem.ContestID, sourceIP)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
	}
	return problem, nil
}

// ValidateProblem lets an admin mark a pending problem valid.
func (s *ProblemService) ValidateProblem(ctx context.Context, actor Actor, problemID int64) (*model.Problem, error) {
	if actor.ID <= 0 {
		return nil, pkgerrors.New(pkgerrors.Unauthorized)
	}
	if !actor.Admin {
		return nil, pkgerrors.New(pkgerrors.PermissionDenied)
	}
	if problemID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}

	var validated *model.Problem
	err := runInTx(ctx, s.db, func(tx db.Transaction) error {
		problem, err := lockProblem(ctx, s.problems, tx, problemID)
		if err != nil {
			return err
		}
		if problem.Validity == model.ValidityValid {
			return pkgerrors.New(pkgerrors.ProblemAlreadyValid)
		}
		problem.Validity = model.ValidityValid
		if err := s.problems.UpdateModeration(ctx, tx, problem); err != nil {
			return pkgerrors.Wrap(fmt.Errorf("update problem failed: %w", err), pkgerrors.ProblemUpdateFailed)
		}
		validation := model.Validation{ProblemID: problemID, ValidatorID: actor.ID, ValidatedAt: s.now().UTC()}
		if err := s.problems.SaveValidation(ctx, tx, validation); err != nil {
			return pkgerrors.Wrap(fmt.Errorf("save validation failed: %w", err), pkgerrors.DatabaseError)
		}
		validated = problem
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "problem validated by admin",
		zap.Int64("problem_id", problemID), zap.Int64("validator_id", actor.ID))
	if s.publisher != nil {
		event := model.ProblemLifecycleEvent{
			EventType:  model.ProblemEventValidated,
			ProblemID:  validated.ID,
			OwnerID:    validated.OwnerID,
			Trigger:    model.TriggerAdmin,
			UpCount:    validated.VoteUpCount,
			DownCount:  validated.VoteDownCount,
			OccurredAt: s.now().UTC(),
		}
		if err := s.publisher.PublishLifecycle(ctx, event); err != nil {
			logger.Warn(ctx, "publish lifecycle event failed", zap.Int64("problem_id", problemID), zap.Error(err))
		}
	}
	return validated, nil
}

func placements(input CreateProblemInput) int {
	n := 0
	for _, id := range []int64{input.CourseID, input.CollectionID, input.ContestID} {
		if id > 0 {
			n++
		}
	}
	return n
}
