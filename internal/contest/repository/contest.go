package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ojtrust/internal/common/db"
	"ojtrust/internal/contest/model"
)

var ErrContestNotFound = errors.New("contest not found")

// ContestRepository persists contests together with their group restrictions.
type ContestRepository interface {
	Create(ctx context.Context, contest *model.Contest) (int64, error)
	Get(ctx context.Context, contestID int64) (*model.Contest, error)
	// ListStarted returns contests whose start time is not after now.
	ListStarted(ctx context.Context, now time.Time) ([]*model.Contest, error)
}

type MySQLContestRepository struct {
	db db.Database
}

func NewContestRepository(database db.Database) ContestRepository {
	return &MySQLContestRepository{db: database}
}

const contestColumns = "id, title, start_time, end_time, visible, allowed_ip_ranges, created_by, created_at"

func (r *MySQLContestRepository) Create(ctx context.Context, contest *model.Contest) (int64, error) {
	if contest == nil {
		return 0, errors.New("contest is nil")
	}
	ranges, err := json.Marshal(nonNil(contest.AllowedIPRanges))
	if err != nil {
		return 0, fmt.Errorf("marshal ip ranges failed: %w", err)
	}

	err = r.db.Transaction(ctx, func(tx db.Transaction) error {
		query := `
			INSERT INTO contest (title, start_time, end_time, visible, allowed_ip_ranges, created_by)
			VALUES (?, ?, ?, ?, ?, ?)`
		result, err := tx.Exec(ctx, query,
			contest.Title, contest.StartTime, contest.EndTime, contest.Visible, string(ranges), contest.CreatedBy)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		for _, groupID := range contest.Groups {
			if _, err := tx.Exec(ctx, "INSERT INTO contest_group (contest_id, group_id) VALUES (?, ?)", id, groupID); err != nil {
				return err
			}
		}
		contest.ID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return contest.ID, nil
}

func (r *MySQLContestRepository) Get(ctx context.Context, contestID int64) (*model.Contest, error) {
	row := r.db.QueryRow(ctx, "SELECT "+contestColumns+" FROM contest WHERE id = ?", contestID)
	contest, err := scanContest(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrContestNotFound
		}
		return nil, err
	}
	groups, err := r.loadGroups(ctx, []int64{contestID})
	if err != nil {
		return nil, err
	}
	contest.Groups = groups[contestID]
	return contest, nil
}

func (r *MySQLContestRepository) ListStarted(ctx context.Context, now time.Time) ([]*model.Contest, error) {
	rows, err := r.db.Query(ctx, "SELECT "+contestColumns+" FROM contest WHERE start_time <= ? ORDER BY start_time DESC", now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		contests []*model.Contest
		ids      []int64
	)
	for rows.Next() {
		contest, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		contests = append(contests, contest)
		ids = append(ids, contest.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return contests, nil
	}

	groups, err := r.loadGroups(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, contest := range contests {
		contest.Groups = groups[contest.ID]
	}
	return contests, nil
}

func (r *MySQLContestRepository) loadGroups(ctx context.Context, contestIDs []int64) (map[int64][]int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(contestIDs)), ",")
	args := make([]interface{}, len(contestIDs))
	for i, id := range contestIDs {
		args[i] = id
	}
	query := "SELECT contest_id, group_id FROM contest_group WHERE contest_id IN (" + placeholders + ") ORDER BY group_id"
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make(map[int64][]int64, len(contestIDs))
	for rows.Next() {
		var contestID, groupID int64
		if err := rows.Scan(&contestID, &groupID); err != nil {
			return nil, err
		}
		groups[contestID] = append(groups[contestID], groupID)
	}
	return groups, rows.Err()
}

func scanContest(row db.Row) (*model.Contest, error) {
	var (
		c      model.Contest
		ranges []byte
	)
	if err := row.Scan(&c.ID, &c.Title, &c.StartTime, &c.EndTime, &c.Visible, &ranges, &c.CreatedBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	if len(ranges) > 0 {
		if err := json.Unmarshal(ranges, &c.AllowedIPRanges); err != nil {
			return nil, fmt.Errorf("decode ip ranges of contest %d failed: %w", c.ID, err)
		}
	}
	return &c, nil
}

func nonNil(ranges []string) []string {
	if ranges == nil {
		return []string{}
	}
	return ranges
}
