package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"interview-coordinator/domain"
	"interview-coordinator/infrastructure/config"
)

// NewRedis creates a client for the ranking cache.
func NewRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// RankingCache keeps each job's ranking as a sorted set keyed by application id.
type RankingCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRankingCache(client *redis.Client, ttl time.Duration) *RankingCache {
	return &RankingCache{client: client, ttl: ttl}
}

func rankingKey(jobID uint) string {
	return fmt.Sprintf("ranking:job:%d", jobID)
}

// StoreRanking replaces the job's set atomically.
func (c *RankingCache) StoreRanking(ctx context.Context, jobID uint, ranked []domain.RankedApplication) error {
	key := rankingKey(jobID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(ranked) == 0 {
			return nil
		}
		members := make([]redis.Z, 0, len(ranked))
		for _, r := range ranked {
			members = append(members, redis.Z{Score: r.RankingScore, Member: strconv.FormatUint(uint64(r.ApplicationID), 10)})
		}
		pipe.ZAdd(ctx, key, members...)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store ranking for job %d: %w", jobID, err)
	}
	return nil
}

// Ranking returns the cached list and false when the job is not cached.
func (c *RankingCache) Ranking(ctx context.Context, jobID uint) ([]domain.RankedApplication, bool, error) {
	entries, err := c.client.ZRevRangeWithScores(ctx, rankingKey(jobID), 0, -1).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(entries) == 0) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read ranking for job %d: %w", jobID, err)
	}

	out := make([]domain.RankedApplication, 0, len(entries))
	for _, e := range entries {
		member, ok := e.Member.(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.RankedApplication{ApplicationID: uint(id), RankingScore: e.Score})
	}
	domain.SortRanked(out)
	return out, true, nil
}
