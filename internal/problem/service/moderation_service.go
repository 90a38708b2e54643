package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ojtrust/internal/common/db"
	"ojtrust/internal/problem/model"
	"ojtrust/internal/problem/moderation"
	"ojtrust/internal/problem/repository"
	pkgerrors "ojtrust/pkg/errors"
	"ojtrust/pkg/utils/logger"

	"go.uber.org/zap"
)

const maxTxAttempts = 3

// VoteOutcome describes the effect of an accepted vote.
type VoteOutcome struct {
	Accepted     bool           `json:"accepted"`
	ProblemID    int64          `json:"problem_id"`
	RunningScore int64          `json:"running_score"`
	Action       string         `json:"action"`
	Validity     model.Validity `json:"validity"`
	Deleted      bool           `json:"deleted"`
	UpCount      int64          `json:"up_count"`
	DownCount    int64          `json:"down_count"`
	RankScore    float64        `json:"rank_score"`
}

// ModerationService runs the vote ledger, trust transitions, ranking and
// difficulty estimation against persistent storage.
type ModerationService struct {
	db        db.Database
	problems  repository.ProblemRepository
	votes     repository.VoteRepository
	board     repository.RankBoard
	publisher EventPublisher
	cfg       moderation.Config
	now       func() time.Time
}

// NewModerationService creates a ModerationService. board and publisher may be nil.
func NewModerationService(
	database db.Database,
	problems repository.ProblemRepository,
	votes repository.VoteRepository,
	board repository.RankBoard,
	publisher EventPublisher,
	cfg moderation.Config,
) *ModerationService {
	return &ModerationService{
		db:        database,
		problems:  problems,
		votes:     votes,
		board:     board,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
}

// transition is what a committed transaction leaves for post-commit work.
type transition struct {
	problem *model.Problem
	action  moderation.Action
	score   int64
}

// CastVote records one vote from userID on problemID and applies the
// resulting trust transition and rank update atomically.
func (s *ModerationService) CastVote(ctx context.Context, problemID, userID int64, isUp bool) (VoteOutcome, error) {
	if problemID <= 0 {
		return VoteOutcome{}, pkgerrors.New(pkgerrors.InvalidParams)
	}
	if userID <= 0 {
		return VoteOutcome{}, pkgerrors.New(pkgerrors.Unauthorized)
	}

	var result transition
	err := s.inTx(ctx, func(tx db.Transaction) error {
		problem, err := s.lockProblem(ctx, tx, problemID)
		if err != nil {
			return err
		}
		if !problem.Votable() {
			return pkgerrors.New(pkgerrors.ProblemNotVotable)
		}

		last, err := s.votes.LastVote(ctx, tx, problemID)
		if err != nil {
			return pkgerrors.Wrap(fmt.Errorf("load last vote failed: %w", err), pkgerrors.DatabaseError)
		}
		vote := &model.Vote{
			ProblemID: problemID,
			UserID:    userID,
			IsUp:      isUp,
			Score:     moderation.NextVoteScore(last, isUp),
			CreatedAt: s.now().UTC(),
		}
		if err := s.votes.Insert(ctx, tx, vote); err != nil {
			if errors.Is(err, repository.ErrDuplicateVote) {
				return pkgerrors.New(pkgerrors.DuplicateVote)
			}
			return pkgerrors.Wrap(fmt.Errorf("insert vote failed: %w", err), pkgerrors.VoteFailed)
		}

		up, down, err := s.votes.Counts(ctx, tx, problemID)
		if err != nil {
			return pkgerrors.Wrap(fmt.Errorf("count votes failed: %w", err), pkgerrors.DatabaseError)
		}
		problem.VoteUpCount, problem.VoteDownCount = up, down

		action, err := s.applyTrust(ctx, tx, problem, vote.Score)
		if err != nil {
			return err
		}
		result = transition{problem: problem, action: action, score: vote.Score}
		return nil
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.DuplicateVote) {
			logger.Info(ctx, "duplicate vote rejected",
				zap.Int64("problem_id", problemID), zap.Int64("voter_id", userID))
		}
		return VoteOutcome{}, err
	}

	s.afterTransition(ctx, result, model.TriggerVote)
	p := result.problem
	return VoteOutcome{
		Accepted:     true,
		ProblemID:    p.ID,
		RunningScore: result.score,
		Action:       result.action.String(),
		Validity:     p.Validity,
		Deleted:      result.action == moderation.ActionDelete,
		UpCount:      p.VoteUpCount,
		DownCount:    p.VoteDownCount,
		RankScore:    p.RankScore,
	}, nil
}

// EvaluateTrust re-runs the trust rules for a problem from its stored votes.
func (s *ModerationService) EvaluateTrust(ctx context.Context, problemID int64) (moderation.Action, error) {
	if problemID <= 0 {
		return moderation.ActionNone, pkgerrors.New(pkgerrors.InvalidParams)
	}

	var result transition
	err := s.inTx(ctx, func(tx db.Transaction) error {
		problem, err := s.lockProblem(ctx, tx, problemID)
		if err != nil {
			return err
		}
		last, err := s.votes.LastVote(ctx, tx, problemID)
		if err != nil {
			return pkgerrors.Wrap(fmt.Errorf("load last vote failed: %w", err), pkgerrors.DatabaseError)
		}
		score := moderation.RunningScore(last)
		action, err := s.applyTrust(ctx, tx, problem, score)
		if err != nil {
			return err
		}
		result = transition{problem: problem, action: action, score: score}
		return nil
	})
	if err != nil {
		return moderation.ActionNone, err
	}

	s.afterTransition(ctx, result, model.TriggerReconcile)
	return result.action, nil
}

// RecomputeDifficulty re-estimates the difficulty label of a problem and
// persists it when it changed. ok reports whether the estimator chose a label.
func (s *ModerationService) RecomputeDifficulty(ctx context.Context, problemID int64) (model.Difficulty, bool, error) {
	if problemID <= 0 {
		return "", false, pkgerrors.New(pkgerrors.InvalidParams)
	}

	var (
		label model.Difficulty
		ok    bool
	)
	err := s.inTx(ctx, func(tx db.Transaction) error {
		problem, err := s.lockProblem(ctx, tx, problemID)
		if err != nil {
			return err
		}
		label, ok, err = s.applyDifficulty(ctx, tx, problem)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return label, ok, nil
}

// RecordSubmissionResult bumps the submission counters of a problem and
// re-estimates its difficulty in the same transaction.
func (s *ModerationService) RecordSubmissionResult(ctx context.Context, problemID int64, accepted bool) (*model.Problem, error) {
	if problemID <= 0 {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}

	var updated *model.Problem
	err := s.inTx(ctx, func(tx db.Transaction) error {
		problem, err := s.lockProblem(ctx, tx, problemID)
		if err != nil {
			return err
		}
		if err := s.problems.IncrementSubmissions(ctx, tx, problemID, accepted); err != nil {
			return pkgerrors.Wrap(fmt.Errorf("increment submissions failed: %w", err), pkgerrors.ProblemUpdateFailed)
		}
		problem.SubmissionCount++
		if accepted {
			problem.AcceptedCount++
		}
		if _, _, err := s.applyDifficulty(ctx, tx, problem); err != nil {
			return err
		}
		updated = problem
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// VoteStatus reports how userID voted on problemID.
func (s *ModerationService) VoteStatus(ctx context.Context, userID, problemID int64) (model.VoteStatus, error) {
	if problemID <= 0 {
		return model.VoteStatusNone, pkgerrors.New(pkgerrors.InvalidParams)
	}
	if userID <= 0 {
		return model.VoteStatusNone, nil
	}
	vote, err := s.votes.Get(ctx, nil, problemID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrVoteNotFound) {
			return model.VoteStatusNone, nil
		}
		return model.VoteStatusNone, pkgerrors.Wrap(fmt.Errorf("get vote failed: %w", err), pkgerrors.DatabaseError)
	}
	if vote.IsUp {
		return model.VoteStatusUp, nil
	}
	return model.VoteStatusDown, nil
}

// ListRanked pages through problems ordered by rank score.
func (s *ModerationService) ListRanked(ctx context.Context, offset, limit int64) ([]repository.RankEntry, int64, error) {
	if offset < 0 || limit <= 0 || limit > 100 {
		return nil, 0, pkgerrors.New(pkgerrors.InvalidParams)
	}
	if s.board == nil {
		return nil, 0, pkgerrors.New(pkgerrors.ServiceUnavailable)
	}
	entries, total, err := s.board.Top(ctx, offset, limit)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(fmt.Errorf("read rank board failed: %w", err), pkgerrors.CacheError)
	}
	return entries, total, nil
}

// applyTrust evaluates the trust rules and persists the outcome: a delete
// removes the problem with its votes, otherwise validity and rank are written.
func (s *ModerationService) applyTrust(ctx context.Context, tx db.Transaction, problem *model.Problem, score int64) (moderation.Action, error) {
	action := moderation.Evaluate(problem, score, s.cfg.Thresholds)
	if action == moderation.ActionDelete {
		if err := s.problems.DeleteWithVotes(ctx, tx, problem.ID); err != nil {
			return action, pkgerrors.Wrap(fmt.Errorf("delete problem failed: %w", err), pkgerrors.ProblemDeleteFailed)
		}
		return action, nil
	}
	if action == moderation.ActionValidate {
		problem.Validity = model.ValidityValid
	}
	problem.RankScore = moderation.WilsonLowerBound(problem.VoteUpCount, problem.VoteDownCount, s.cfg.RankZScore)
	if err := s.problems.UpdateModeration(ctx, tx, problem); err != nil {
		return action, pkgerrors.Wrap(fmt.Errorf("update problem failed: %w", err), pkgerrors.ProblemUpdateFailed)
	}
	return action, nil
}

func (s *ModerationService) applyDifficulty(ctx context.Context, tx db.Transaction, problem *model.Problem) (model.Difficulty, bool, error) {
	label, ok := moderation.EstimateDifficulty(problem, s.cfg.DifficultyBaseSubmissions, s.cfg.DifficultyRates)
	if !ok || label == problem.Difficulty {
		return label, ok, nil
	}
	problem.Difficulty = label
	if err := s.problems.UpdateModeration(ctx, tx, problem); err != nil {
		return "", false, pkgerrors.Wrap(fmt.Errorf("update difficulty failed: %w", err), pkgerrors.ProblemUpdateFailed)
	}
	return label, true, nil
}

// afterTransition mirrors a committed transition into the rank board and the
// event stream. Failures here are logged and never undo the transaction.
func (s *ModerationService) afterTransition(ctx context.Context, t transition, trigger string) {
	p := t.problem
	if s.board != nil && !p.InContest() {
		var err error
		if t.action == moderation.ActionDelete {
			err = s.board.Remove(ctx, p.ID)
		} else {
			err = s.board.Update(ctx, p.ID, p.RankScore)
		}
		if err != nil {
			logger.Warn(ctx, "sync rank board failed", zap.Int64("problem_id", p.ID), zap.Error(err))
		}
	}

	var eventType string
	switch t.action {
	case moderation.ActionValidate:
		eventType = model.ProblemEventValidated
	case moderation.ActionDelete:
		eventType = model.ProblemEventDeleted
	default:
		return
	}
	logger.Info(ctx, "problem trust transition",
		zap.Int64("problem_id", p.ID),
		zap.String("action", t.action.String()),
		zap.Int64("vote_score", t.score),
		zap.Int64("up", p.VoteUpCount),
		zap.Int64("down", p.VoteDownCount),
		zap.String("trigger", trigger),
	)
	s.publish(ctx, model.ProblemLifecycleEvent{
		EventType:  eventType,
		ProblemID:  p.ID,
		OwnerID:    p.OwnerID,
		Trigger:    trigger,
		VoteScore:  t.score,
		UpCount:    p.VoteUpCount,
		DownCount:  p.VoteDownCount,
		OccurredAt: s.now().UTC(),
	})
}

func (s *ModerationService) publish(ctx context.Context, event model.ProblemLifecycleEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLifecycle(ctx, event); err != nil {
		logger.Warn(ctx, "publish lifecycle event failed",
			zap.Int64("problem_id", event.ProblemID), zap.String("event_type", event.EventType), zap.Error(err))
	}
}

func (s *ModerationService) lockProblem(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	return lockProblem(ctx, s.problems, tx, problemID)
}

func (s *ModerationService) inTx(ctx context.Context, fn func(tx db.Transaction) error) error {
	return runInTx(ctx, s.db, fn)
}

func lockProblem(ctx context.Context, problems repository.ProblemRepository, tx db.Transaction, problemID int64) (*model.Problem, error) {
	problem, err := problems.GetForUpdate(ctx, tx, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return nil, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return nil, pkgerrors.Wrap(fmt.Errorf("lock problem failed: %w", err), pkgerrors.DatabaseError)
	}
	return problem, nil
}

// runInTx runs fn in a transaction, rerunning it on lock conflicts.
// Errors that carry no code are reported as TransactionFailed.
func runInTx(ctx context.Context, database db.Database, fn func(tx db.Transaction) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = database.Transaction(ctx, fn)
		if err == nil || !db.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		logger.Warn(ctx, "transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	if err == nil {
		return nil
	}
	if pkgerrors.GetCode(err) == pkgerrors.InternalServerError {
		return pkgerrors.Wrap(err, pkgerrors.TransactionFailed)
	}
	return err
}
