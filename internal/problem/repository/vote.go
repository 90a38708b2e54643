package repository

import (
	"context"
	"errors"

	"ojtrust/internal/common/db"
	"ojtrust/internal/problem/model"
)

var (
	ErrDuplicateVote = errors.New("duplicate vote")
	ErrVoteNotFound  = errors.New("vote not found")
)

// VoteRepository persists the vote ledger. Votes are insert-only.
type VoteRepository interface {
	// LastVote returns the most recently recorded vote on the problem, or nil.
	LastVote(ctx context.Context, tx db.Transaction, problemID int64) (*model.Vote, error)
	Counts(ctx context.Context, tx db.Transaction, problemID int64) (up, down int64, err error)
	// Insert fails with ErrDuplicateVote when the user already voted.
	Insert(ctx context.Context, tx db.Transaction, vote *model.Vote) error
	Get(ctx context.Context, tx db.Transaction, problemID, userID int64) (*model.Vote, error)
}

type MySQLVoteRepository struct {
	db db.Database
}

func NewVoteRepository(database db.Database) VoteRepository {
	return &MySQLVoteRepository{db: database}
}

func (r *MySQLVoteRepository) LastVote(ctx context.Context, tx db.Transaction, problemID int64) (*model.Vote, error) {
	query := `
		SELECT id, problem_id, user_id, is_up, score, created_at
		FROM vote
		WHERE problem_id = ?
		ORDER BY id DESC
		LIMIT 1`
	vote, err := scanVote(db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return vote, nil
}

func (r *MySQLVoteRepository) Counts(ctx context.Context, tx db.Transaction, problemID int64) (int64, int64, error) {
	query := `
		SELECT COALESCE(SUM(is_up = 1), 0), COALESCE(SUM(is_up = 0), 0)
		FROM vote
		WHERE problem_id = ?`
	var up, down int64
	if err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID).Scan(&up, &down); err != nil {
		return 0, 0, err
	}
	return up, down, nil
}

func (r *MySQLVoteRepository) Insert(ctx context.Context, tx db.Transaction, vote *model.Vote) error {
	if vote == nil {
		return errors.New("vote is nil")
	}
	query := "INSERT INTO vote (problem_id, user_id, is_up, score, created_at) VALUES (?, ?, ?, ?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		vote.ProblemID, vote.UserID, vote.IsUp, vote.Score, vote.CreatedAt)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return ErrDuplicateVote
		}
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	vote.ID = id
	return nil
}

func (r *MySQLVoteRepository) Get(ctx context.Context, tx db.Transaction, problemID, userID int64) (*model.Vote, error) {
	query := `
		SELECT id, problem_id, user_id, is_up, score, created_at
		FROM vote
		WHERE problem_id = ? AND user_id = ?`
	vote, err := scanVote(db.GetQuerier(r.db, tx).QueryRow(ctx, query, problemID, userID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrVoteNotFound
		}
		return nil, err
	}
	return vote, nil
}

func scanVote(row db.Row) (*model.Vote, error) {
	var v model.Vote
	if err := row.Scan(&v.ID, &v.ProblemID, &v.UserID, &v.IsUp, &v.Score, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}
