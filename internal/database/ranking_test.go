package database

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahmiardi/lamestnews/internal/models"
)

func TestRankDecaysMonotonically(t *testing.T) {
	padding := 10 * time.Minute

	prev := Rank(5, 0, padding, 1.0)
	for _, age := range []time.Duration{time.Minute, time.Hour, 24 * time.Hour, 30 * 24 * time.Hour} {
		r := Rank(5, age, padding, 1.0)
		assert.Less(t, r, prev, "rank must strictly decrease with age")
		prev = r
	}
}

func TestRankZeroScore(t *testing.T) {
	// Score 0 ranks 0 regardless of age.
	assert.Zero(t, Rank(0, 0, 10*time.Minute, 1.0))
	assert.Zero(t, Rank(0, 48*time.Hour, 10*time.Minute, 1.0))
}

func TestRankAgePaddingBoundsFreshItems(t *testing.T) {
	// Padding keeps a brand-new item from ranking near-infinitely high.
	r := Rank(1, 0, 10*time.Minute, 1.0)
	assert.InDelta(t, 1000.0/600.0, r, 1e-9)
}

func TestComputeNewsScoreLogDampening(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	news := &models.News{ID: 42}

	// Below the threshold the score is the raw difference.
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, db.Client.ZAdd(ctx, keyNewsUp(news.ID), redis.Z{Score: 1, Member: formatID(i)}).Err())
	}
	score, err := db.ComputeNewsScore(ctx, news)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, score, 1e-9)

	// Past it, the overflow is dampened logarithmically.
	for i := int64(6); i <= 20; i++ {
		require.NoError(t, db.Client.ZAdd(ctx, keyNewsUp(news.ID), redis.Z{Score: 1, Member: formatID(i)}).Err())
	}
	score, err = db.ComputeNewsScore(ctx, news)
	require.NoError(t, err)
	want := 20.0 + math.Log(float64(20-db.Config.NewsScoreLogStart))*db.Config.NewsScoreLogBooster
	assert.InDelta(t, want, score, 1e-9)

	// Downvotes subtract before dampening.
	require.NoError(t, db.Client.ZAdd(ctx, keyNewsDown(news.ID), redis.Z{Score: 1, Member: formatID(99)}).Err())
	score, err = db.ComputeNewsScore(ctx, news)
	require.NoError(t, err)
	want = 19.0 + math.Log(float64(21-db.Config.NewsScoreLogStart))*db.Config.NewsScoreLogBooster
	assert.InDelta(t, want, score, 1e-9)
}

func TestRefreshNewsRankReconcilesCache(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "alice")
	newsID, err := db.InsertNews(ctx, "Fresh rank", "http://example.com/rank", "", user)
	require.NoError(t, err)

	// Perturb the cached rank; the next read heals it.
	require.NoError(t, db.Client.HSet(ctx, keyNews(newsID), "rank", 9999.0).Err())

	news, err := db.GetNewsByID(ctx, newsID)
	require.NoError(t, err)
	assert.Less(t, news.Rank, 9999.0)

	stored, err := db.Client.HGet(ctx, keyNews(newsID), "rank").Float64()
	require.NoError(t, err)
	assert.InDelta(t, news.Rank, stored, rankEpsilon)

	topRank, err := db.Client.ZScore(ctx, keyNewsTop, formatID(newsID)).Result()
	require.NoError(t, err)
	assert.InDelta(t, news.Rank, topRank, rankEpsilon)
}
