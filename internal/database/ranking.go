// internal/database/ranking.go
package database

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fahmiardi/lamestnews/internal/models"
)

// Cached ranks within this distance of the true value are left alone.
const rankEpsilon = 0.001

// Rank is the age-decayed hotness of a news item:
//
//	(score * 1000) / ((age + padding) * agingFactor)
//
// The padding keeps brand-new items from dividing by a near-zero age
// and gives them a fair initial rank; for a fixed positive score the
// rank strictly decreases as the item ages.
func Rank(score float64, age, padding time.Duration, agingFactor float64) float64 {
	return (score * 1000) / ((age.Seconds() + padding.Seconds()) * agingFactor)
}

func (d *RedisDB) newsRank(news *models.News, now time.Time) float64 {
	return Rank(news.Score, now.Sub(news.CreatedAt), d.Config.NewsAgePadding, d.Config.RankAgingFactor)
}

// ComputeNewsScore tallies the item's score from the up/down vote sets.
// Counts are always re-read from the sets rather than the cached hash
// counters, so the score cannot drift from the vote ground truth. Past
// the log-start threshold the raw difference is dampened
// logarithmically to keep runaway items comparable.
func (d *RedisDB) ComputeNewsScore(ctx context.Context, news *models.News) (float64, error) {
	pipe := d.Client.Pipeline()
	upCmd := pipe.ZCard(ctx, keyNewsUp(news.ID))
	downCmd := pipe.ZCard(ctx, keyNewsDown(news.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, d.storeErr("compute news score", err)
	}

	up, down := upCmd.Val(), downCmd.Val()
	score := float64(up - down)

	votes := up + down
	if votes > d.Config.NewsScoreLogStart {
		score += math.Log(float64(votes-d.Config.NewsScoreLogStart)) * d.Config.NewsScoreLogBooster
	}
	return score, nil
}

// refreshNewsRank lazily reconciles the cached rank with the true one.
// Every listing read path calls this, so stale ranks self-heal without
// a background sweep.
func (d *RedisDB) refreshNewsRank(ctx context.Context, news *models.News) error {
	if news.Deleted {
		return nil
	}

	rank := d.newsRank(news, time.Now())
	if math.Abs(rank-news.Rank) <= rankEpsilon {
		return nil
	}

	pipe := d.Client.TxPipeline()
	pipe.HSet(ctx, keyNews(news.ID), "rank", rank)
	pipe.ZAdd(ctx, keyNewsTop, redis.Z{Score: rank, Member: formatID(news.ID)})
	if _, err := pipe.Exec(ctx); err != nil {
		return d.storeErr("refresh news rank", err)
	}

	news.Rank = rank
	return nil
}
