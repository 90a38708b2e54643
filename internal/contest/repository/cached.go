package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ojtrust/internal/common/cache"
	"ojtrust/internal/contest/model"
	"ojtrust/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const contestCacheKeyPrefix = "contest:detail:"

// CachedContestRepository serves contest lookups from Redis and collapses
// concurrent misses for the same contest into one database read.
type CachedContestRepository struct {
	next     ContestRepository
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
	group    singleflight.Group
}

// NewCachedContestRepository wraps next with a cache-aside layer.
func NewCachedContestRepository(next ContestRepository, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *CachedContestRepository {
	return &CachedContestRepository{next: next, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

func (r *CachedContestRepository) Create(ctx context.Context, contest *model.Contest) (int64, error) {
	id, err := r.next.Create(ctx, contest)
	if err != nil {
		return 0, err
	}
	// Drops a cached absence left by an earlier lookup of this id.
	if err := r.cache.Del(ctx, contestCacheKey(id)); err != nil {
		logger.Warn(ctx, "invalidate contest cache failed", zap.Int64("contest_id", id), zap.Error(err))
	}
	return id, nil
}

func (r *CachedContestRepository) Get(ctx context.Context, contestID int64) (*model.Contest, error) {
	key := contestCacheKey(contestID)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		// Callers joining the flight must not fail because the first one went away.
		flightCtx := context.WithoutCancel(ctx)
		return cache.GetWithCached[*model.Contest](
			flightCtx,
			r.cache,
			key,
			r.ttl,
			r.emptyTTL,
			func(c *model.Contest) bool { return c == nil },
			marshalContest,
			unmarshalContest,
			func(ctx context.Context) (*model.Contest, error) {
				contest, err := r.next.Get(ctx, contestID)
				if errors.Is(err, ErrContestNotFound) {
					return nil, nil
				}
				return contest, err
			},
		)
	})
	if err != nil {
		return nil, err
	}
	contest, _ := v.(*model.Contest)
	if contest == nil {
		return nil, ErrContestNotFound
	}
	// singleflight hands the same pointer to every waiter.
	clone := *contest
	return &clone, nil
}

func (r *CachedContestRepository) ListStarted(ctx context.Context, now time.Time) ([]*model.Contest, error) {
	return r.next.ListStarted(ctx, now)
}

func contestCacheKey(contestID int64) string {
	return contestCacheKeyPrefix + strconv.FormatInt(contestID, 10)
}

func marshalContest(c *model.Contest) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal contest failed: %w", err)
	}
	return string(data), nil
}

func unmarshalContest(raw string) (*model.Contest, error) {
	var c model.Contest
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, err
	}
	return &c, nil
}
