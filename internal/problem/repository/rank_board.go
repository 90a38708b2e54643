package repository

import (
	"context"
	"fmt"
	"strconv"

	"ojtrust/internal/common/cache"
)

const problemRankKey = "problem:rank"

// RankEntry is one row of the rank board.
type RankEntry struct {
	ProblemID int64   `json:"problem_id"`
	RankScore float64 `json:"rank_score"`
}

// RankBoard mirrors problem rank scores into a sorted set for listing.
type RankBoard interface {
	Update(ctx context.Context, problemID int64, score float64) error
	Remove(ctx context.Context, problemID int64) error
	// Top returns entries ordered by rank score, highest first.
	Top(ctx context.Context, offset, limit int64) ([]RankEntry, int64, error)
}

type RedisRankBoard struct {
	cache cache.Cache
	key   string
}

func NewRankBoard(cacheClient cache.Cache) RankBoard {
	return &RedisRankBoard{cache: cacheClient, key: problemRankKey}
}

func (b *RedisRankBoard) Update(ctx context.Context, problemID int64, score float64) error {
	return b.cache.ZAdd(ctx, b.key, cache.ZMember{Member: strconv.FormatInt(problemID, 10), Score: score})
}

func (b *RedisRankBoard) Remove(ctx context.Context, problemID int64) error {
	return b.cache.ZRem(ctx, b.key, strconv.FormatInt(problemID, 10))
}

func (b *RedisRankBoard) Top(ctx context.Context, offset, limit int64) ([]RankEntry, int64, error) {
	if offset < 0 || limit <= 0 {
		return nil, 0, fmt.Errorf("invalid page offset=%d limit=%d", offset, limit)
	}
	total, err := b.cache.ZCard(ctx, b.key)
	if err != nil {
		return nil, 0, err
	}
	members, err := b.cache.ZRevRangeWithScores(ctx, b.key, offset, offset+limit-1)
	if err != nil {
		return nil, 0, err
	}
	entries := make([]RankEntry, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m.Member, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, RankEntry{ProblemID: id, RankScore: m.Score})
	}
	return entries, total, nil
}
