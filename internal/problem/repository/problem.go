package repository

import (
	"context"
	"database/sql"
	"errors"

	"ojtrust/internal/common/db"
	"ojtrust/internal/problem/model"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
	ErrTxRequired      = errors.New("transaction required")
)

// ProblemRepository persists problems. Vote counts are always derived from
// the vote table when a problem is loaded.
type ProblemRepository interface {
	Create(ctx context.Context, tx db.Transaction, problem *model.Problem) (int64, error)
	Get(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error)
	// GetForUpdate locks the problem row until tx ends.
	GetForUpdate(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error)
	// UpdateModeration writes validity, rank score and difficulty.
	UpdateModeration(ctx context.Context, tx db.Transaction, problem *model.Problem) error
	IncrementSubmissions(ctx context.Context, tx db.Transaction, problemID int64, accepted bool) error
	// DeleteWithVotes removes the problem and every vote on it.
	DeleteWithVotes(ctx context.Context, tx db.Transaction, problemID int64) error
	// CountPending counts every pending problem the owner has, course problems included.
	CountPending(ctx context.Context, tx db.Transaction, ownerID int64) (int64, error)
	SaveValidation(ctx context.Context, tx db.Transaction, validation model.Validation) error
}

type MySQLProblemRepository struct {
	db db.Database
}

func NewProblemRepository(database db.Database) ProblemRepository {
	return &MySQLProblemRepository{db: database}
}

const problemSelect = `
	SELECT p.id, p.owner_id, p.title, p.validity, p.rank_score, p.difficulty,
		p.submission_count, p.accepted_count, p.course_id, p.collection_id, p.contest_id,
		p.created_at, p.updated_at,
		(SELECT COUNT(*) FROM vote v WHERE v.problem_id = p.id AND v.is_up = 1),
		(SELECT COUNT(*) FROM vote v WHERE v.problem_id = p.id AND v.is_up = 0)
	FROM problem p
	WHERE p.id = ?`

func (r *MySQLProblemRepository) Create(ctx context.Context, tx db.Transaction, problem *model.Problem) (int64, error) {
	if problem == nil {
		return 0, errors.New("problem is nil")
	}
	query := `
		INSERT INTO problem (owner_id, title, validity, rank_score, difficulty,
			submission_count, accepted_count, course_id, collection_id, contest_id)
		VALUES (?, ?, ?, 0, ?, 0, 0, ?, ?, ?)`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		problem.OwnerID,
		problem.Title,
		problem.Validity,
		string(problem.Difficulty),
		nullableID(problem.CourseID),
		nullableID(problem.CollectionID),
		nullableID(problem.ContestID),
	)
	if err != nil {
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	problem.ID = id
	return id, nil
}

func (r *MySQLProblemRepository) Get(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	return r.load(ctx, db.GetQuerier(r.db, tx), problemSelect, problemID)
}

func (r *MySQLProblemRepository) GetForUpdate(ctx context.Context, tx db.Transaction, problemID int64) (*model.Problem, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	return r.load(ctx, tx, problemSelect+" FOR UPDATE", problemID)
}

func (r *MySQLProblemRepository) UpdateModeration(ctx context.Context, tx db.Transaction, problem *model.Problem) error {
	query := "UPDATE problem SET validity = ?, rank_score = ?, difficulty = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		problem.Validity, problem.RankScore, string(problem.Difficulty), problem.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (r *MySQLProblemRepository) IncrementSubmissions(ctx context.Context, tx db.Transaction, problemID int64, accepted bool) error {
	acceptedInc := 0
	if accepted {
		acceptedInc = 1
	}
	query := `
		UPDATE problem
		SET submission_count = submission_count + 1, accepted_count = accepted_count + ?
		WHERE id = ?`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, acceptedInc, problemID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (r *MySQLProblemRepository) DeleteWithVotes(ctx context.Context, tx db.Transaction, problemID int64) error {
	if tx == nil {
		return r.db.Transaction(ctx, func(tx db.Transaction) error {
			return r.deleteWithVotes(ctx, tx, problemID)
		})
	}
	return r.deleteWithVotes(ctx, tx, problemID)
}

func (r *MySQLProblemRepository) deleteWithVotes(ctx context.Context, tx db.Transaction, problemID int64) error {
	if _, err := tx.Exec(ctx, "DELETE FROM vote WHERE problem_id = ?", problemID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM problem_validation WHERE problem_id = ?", problemID); err != nil {
		return err
	}
	result, err := tx.Exec(ctx, "DELETE FROM problem WHERE id = ?", problemID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (r *MySQLProblemRepository) CountPending(ctx context.Context, tx db.Transaction, ownerID int64) (int64, error) {
	query := "SELECT COUNT(*) FROM problem WHERE owner_id = ? AND validity = ?"
	var count int64
	if err := db.GetQuerier(r.db, tx).QueryRow(ctx, query, ownerID, model.ValidityPending).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *MySQLProblemRepository) SaveValidation(ctx context.Context, tx db.Transaction, validation model.Validation) error {
	query := "INSERT INTO problem_validation (problem_id, validator_id, validated_at) VALUES (?, ?, ?)"
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, validation.ProblemID, validation.ValidatorID, validation.ValidatedAt)
	return err
}

func (r *MySQLProblemRepository) load(ctx context.Context, q db.Querier, query string, problemID int64) (*model.Problem, error) {
	problem, err := scanProblem(q.QueryRow(ctx, query, problemID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrProblemNotFound
		}
		return nil, err
	}
	return problem, nil
}

func scanProblem(row db.Row) (*model.Problem, error) {
	var (
		p            model.Problem
		difficulty   string
		courseID     sql.NullInt64
		collectionID sql.NullInt64
		contestID    sql.NullInt64
	)
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Title,
		&p.Validity,
		&p.RankScore,
		&difficulty,
		&p.SubmissionCount,
		&p.AcceptedCount,
		&courseID,
		&collectionID,
		&contestID,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.VoteUpCount,
		&p.VoteDownCount,
	)
	if err != nil {
		return nil, err
	}
	p.Difficulty = model.Difficulty(difficulty)
	p.CourseID = courseID.Int64
	p.CollectionID = collectionID.Int64
	p.ContestID = contestID.Int64
	return &p, nil
}

func requireAffected(result db.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrProblemNotFound
	}
	return nil
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
