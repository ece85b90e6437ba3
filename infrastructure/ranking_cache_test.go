package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview-coordinator/domain"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RankingCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRankingCache(client, ttl), mr
}

func TestRankingCache_RoundTrip(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, ok, err := cache.Ranking(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.StoreRanking(ctx, 7, []domain.RankedApplication{
		{ApplicationID: 3, RankingScore: 50},
		{ApplicationID: 1, RankingScore: 80.5},
		{ApplicationID: 2, RankingScore: 50},
	}))

	ranked, ok, err := cache.Ranking(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []domain.RankedApplication{
		{ApplicationID: 1, RankingScore: 80.5},
		{ApplicationID: 2, RankingScore: 50},
		{ApplicationID: 3, RankingScore: 50},
	}, ranked)

	assert.Equal(t, time.Minute, mr.TTL("ranking:job:7"))
}

func TestRankingCache_StoreReplacesPreviousRanking(t *testing.T) {
	cache, _ := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, cache.StoreRanking(ctx, 1, []domain.RankedApplication{{ApplicationID: 9, RankingScore: 10}}))
	require.NoError(t, cache.StoreRanking(ctx, 1, []domain.RankedApplication{{ApplicationID: 4, RankingScore: 20}}))

	ranked, ok, err := cache.Ranking(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []domain.RankedApplication{{ApplicationID: 4, RankingScore: 20}}, ranked)

	require.NoError(t, cache.StoreRanking(ctx, 1, nil))
	_, ok, err = cache.Ranking(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRankingCache_ServerDown(t *testing.T) {
	cache, mr := newTestCache(t, 0)
	mr.Close()

	_, _, err := cache.Ranking(context.Background(), 1)
	assert.Error(t, err)
	assert.Error(t, cache.StoreRanking(context.Background(), 1, []domain.RankedApplication{{ApplicationID: 1}}))
}
