// internal/database/news_repository.go
package database

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fahmiardi/lamestnews/internal/models"
	"github.com/fahmiardi/lamestnews/internal/utils"
)

// newsHash flattens a news item into the persisted hash fields.
func newsHash(n *models.News) map[string]any {
	m := map[string]any{
		"id":       n.ID,
		"title":    n.Title,
		"url":      n.URL,
		"user_id":  n.UserID,
		"ctime":    n.CreatedAt.Unix(),
		"score":    n.Score,
		"rank":     n.Rank,
		"up":       n.Up,
		"down":     n.Down,
		"comments": n.Comments,
	}
	if n.Deleted {
		m["del"] = 1
	}
	return m
}

func parseNewsHash(m map[string]string) *models.News {
	return &models.News{
		ID:        parseID(m["id"]),
		Title:     m["title"],
		URL:       m["url"],
		UserID:    parseID(m["user_id"]),
		CreatedAt: time.Unix(parseID(m["ctime"]), 0),
		Score:     parseFloat(m["score"]),
		Rank:      parseFloat(m["rank"]),
		Up:        parseID(m["up"]),
		Down:      parseID(m["down"]),
		Comments:  parseID(m["comments"]),
		Deleted:   m["del"] == "1",
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// InsertNews submits a news item and returns its id. An empty url makes
// it a text post, stored behind a synthetic text:// pseudo-URL. A link
// already submitted within the repost window is treated as benign: the
// existing id comes back with no error and no new record.
func (d *RedisDB) InsertNews(ctx context.Context, title, url, text string, user *models.User) (int64, error) {
	defer d.track("insert news", time.Now())

	if title == "" || user == nil {
		return 0, utils.NewAppError(utils.ErrInvalidInput, "Title and author are required", nil)
	}

	textPost := url == ""
	if textPost {
		url = models.TextURLPrefix + truncate(text, d.Config.CommentMaxLength)
	} else {
		existing, err := d.Client.Get(ctx, keyURL(url)).Result()
		if err == nil {
			return parseID(existing), nil
		}
		if err != redis.Nil {
			return 0, d.storeErr("insert news", err)
		}
	}

	limited, err := d.limiter.Limited(ctx, d.Config.NewsSubmissionBreak, "insert-news", formatID(user.ID))
	if err != nil {
		return 0, d.storeErr("insert news", err)
	}
	if limited {
		return 0, utils.NewAppError(utils.ErrRateLimited, "Submission cool-down active", nil)
	}

	id, err := d.Client.Incr(ctx, keyNewsCount).Result()
	if err != nil {
		return 0, d.storeErr("insert news", err)
	}

	now := time.Now()
	news := &models.News{
		ID:        id,
		Title:     title,
		URL:       url,
		UserID:    user.ID,
		CreatedAt: now,
	}

	pipe := d.Client.TxPipeline()
	pipe.HSet(ctx, keyNews(id), newsHash(news))
	pipe.ZAdd(ctx, keyUserPosted(user.ID), redis.Z{Score: float64(now.Unix()), Member: formatID(id)})
	pipe.ZAdd(ctx, keyNewsCron, redis.Z{Score: float64(now.Unix()), Member: formatID(id)})
	pipe.ZAdd(ctx, keyNewsTop, redis.Z{Score: 0, Member: formatID(id)})
	if !textPost {
		pipe.Set(ctx, keyURL(url), formatID(id), d.Config.PreventRepostTime)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, d.storeErr("insert news", err)
	}

	// The author's own upvote bootstraps score and rank.
	if _, err := d.VoteNews(ctx, id, user, models.VoteUp); err != nil {
		log.Printf("Author vote on news %d failed: %v", id, err)
	}

	log.Printf("User %d submitted news %d", user.ID, id)
	return id, nil
}

// EditNews updates a news item. Only the author may edit, and only
// inside the edit window. Moving a link post onto a URL that is locked
// by another live submission is a conflict; otherwise the old URL lock
// is released and the new one taken.
func (d *RedisDB) EditNews(ctx context.Context, user *models.User, newsID int64, title, url, text string) (int64, error) {
	news, err := d.GetNewsByID(ctx, newsID)
	if err != nil {
		return 0, err
	}
	if news.UserID != user.ID {
		return 0, utils.NewForbiddenError("only the author may edit a news item")
	}
	if time.Since(news.CreatedAt) > d.Config.NewsEditTime {
		return 0, utils.NewAppError(utils.ErrEditWindowClosed, "News is too old to be edited", nil)
	}

	pipe := d.Client.TxPipeline()

	textPost := url == ""
	if textPost {
		url = models.TextURLPrefix + truncate(text, d.Config.CommentMaxLength)
	} else if url != news.URL {
		_, err := d.Client.Get(ctx, keyURL(url)).Result()
		if err == nil {
			return 0, utils.NewAppError(utils.ErrDuplicateURL, "URL was submitted recently: "+url, nil)
		}
		if err != redis.Nil {
			return 0, d.storeErr("edit news", err)
		}
		if !news.IsTextPost() {
			pipe.Del(ctx, keyURL(news.URL))
		}
		pipe.Set(ctx, keyURL(url), formatID(newsID), d.Config.PreventRepostTime)
	}

	pipe.HSet(ctx, keyNews(newsID), "title", title, "url", url)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, d.storeErr("edit news", err)
	}
	return newsID, nil
}

// VoteNews casts an up or down vote and returns the item's new rank.
// A user holds at most one vote per item, in one direction, forever:
// the second attempt fails whatever its direction. Votes from anyone
// but the author are karma-gated and move karma between voter and
// author; the author's bootstrap vote is exempt.
func (d *RedisDB) VoteNews(ctx context.Context, newsID int64, user *models.User, voteType string) (float64, error) {
	defer d.track("vote news", time.Now())

	if voteType != models.VoteUp && voteType != models.VoteDown {
		return 0, utils.NewAppError(utils.ErrInvalidInput, "Vote type must be up or down: "+voteType, nil)
	}

	news, err := d.GetNewsByID(ctx, newsID)
	if err != nil {
		return 0, err
	}
	if news.Deleted {
		return 0, utils.NewNewsNotFoundError(newsID)
	}

	upErr := d.Client.ZScore(ctx, keyNewsUp(newsID), formatID(user.ID)).Err()
	if upErr != nil && upErr != redis.Nil {
		return 0, d.storeErr("vote news", upErr)
	}
	downErr := d.Client.ZScore(ctx, keyNewsDown(newsID), formatID(user.ID)).Err()
	if downErr != nil && downErr != redis.Nil {
		return 0, d.storeErr("vote news", downErr)
	}
	if upErr == nil || downErr == nil {
		return 0, utils.NewAppError(utils.ErrDuplicateVote, fmt.Sprintf("User %d already voted news %d", user.ID, newsID), nil)
	}

	if user.ID != news.UserID {
		if voteType == models.VoteUp && user.Karma < d.Config.NewsUpvoteMinKarma {
			return 0, utils.NewInsufficientKarmaError(d.Config.NewsUpvoteMinKarma, user.Karma)
		}
		if voteType == models.VoteDown && user.Karma < d.Config.NewsDownvoteMinKarma {
			return 0, utils.NewInsufficientKarmaError(d.Config.NewsDownvoteMinKarma, user.Karma)
		}
	}

	now := time.Now()
	voteKey := keyNewsUp(newsID)
	if voteType == models.VoteDown {
		voteKey = keyNewsDown(newsID)
	}

	pipe := d.Client.TxPipeline()
	pipe.ZAdd(ctx, voteKey, redis.Z{Score: float64(now.Unix()), Member: formatID(user.ID)})
	pipe.HIncrBy(ctx, keyNews(newsID), voteType, 1)
	if voteType == models.VoteUp {
		// Upvoting saves the item for the voter.
		pipe.ZAdd(ctx, keyUserSaved(user.ID), redis.Z{Score: float64(now.Unix()), Member: formatID(newsID)})
	}
	if user.ID != news.UserID {
		if voteType == models.VoteUp {
			pipe.HIncrBy(ctx, keyUser(user.ID), "karma", -d.Config.NewsUpvoteKarmaCost)
			pipe.HIncrBy(ctx, keyUser(news.UserID), "karma", d.Config.NewsUpvoteKarmaTransfered)
		} else {
			pipe.HIncrBy(ctx, keyUser(user.ID), "karma", -d.Config.NewsDownvoteKarmaCost)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, d.storeErr("vote news", err)
	}

	score, err := d.ComputeNewsScore(ctx, news)
	if err != nil {
		return 0, err
	}
	news.Score = score
	rank := d.newsRank(news, now)

	pipe = d.Client.TxPipeline()
	pipe.HSet(ctx, keyNews(newsID), "score", score, "rank", rank)
	pipe.ZAdd(ctx, keyNewsTop, redis.Z{Score: rank, Member: formatID(newsID)})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, d.storeErr("vote news", err)
	}

	news.Rank = rank
	return rank, nil
}

// DelNews tombstones a news item and pulls it from the public indexes.
// Only the author (or an admin) may delete, inside the edit window, and
// only while the item has no comments.
func (d *RedisDB) DelNews(ctx context.Context, user *models.User, newsID int64) (bool, error) {
	news, err := d.GetNewsByID(ctx, newsID)
	if err != nil {
		return false, err
	}
	if news.UserID != user.ID && !user.HasFlag("a") {
		return false, utils.NewForbiddenError("only the author may delete a news item")
	}
	if time.Since(news.CreatedAt) > d.Config.NewsEditTime {
		return false, utils.NewAppError(utils.ErrEditWindowClosed, "News is too old to be deleted", nil)
	}
	if news.Comments != 0 {
		return false, utils.NewForbiddenError("news with comments cannot be deleted")
	}

	pipe := d.Client.TxPipeline()
	pipe.HSet(ctx, keyNews(newsID), "del", 1)
	pipe.ZRem(ctx, keyNewsTop, formatID(newsID))
	pipe.ZRem(ctx, keyNewsCron, formatID(newsID))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, d.storeErr("delete news", err)
	}
	return true, nil
}

// GetNewsByID hydrates one news item, reconciling its cached rank on
// the way out. Deleted items hydrate with their tombstone flag set so
// callers holding old references can tell what happened.
func (d *RedisDB) GetNewsByID(ctx context.Context, newsID int64) (*models.News, error) {
	m, err := d.Client.HGetAll(ctx, keyNews(newsID)).Result()
	if err != nil {
		return nil, d.storeErr("get news", err)
	}
	if len(m) == 0 {
		return nil, utils.NewNewsNotFoundError(newsID)
	}

	news := parseNewsHash(m)
	if err := d.refreshNewsRank(ctx, news); err != nil {
		return nil, err
	}
	return news, nil
}

// GetNewsByIDs batch-hydrates news records in one pipeline, refreshes
// their ranks, resolves author usernames and, when a user is given,
// annotates each item with that user's vote. Missing ids are skipped.
func (d *RedisDB) GetNewsByIDs(ctx context.Context, newsIDs []int64, user *models.User) ([]*models.News, error) {
	if len(newsIDs) == 0 {
		return []*models.News{}, nil
	}

	pipe := d.Client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(newsIDs))
	for i, id := range newsIDs {
		cmds[i] = pipe.HGetAll(ctx, keyNews(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, d.storeErr("get news batch", err)
	}

	items := make([]*models.News, 0, len(newsIDs))
	for _, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		news := parseNewsHash(m)
		if err := d.refreshNewsRank(ctx, news); err != nil {
			return nil, err
		}
		items = append(items, news)
	}

	if err := d.annotateNews(ctx, items, user); err != nil {
		return nil, err
	}
	return items, nil
}

// annotateNews attaches author usernames and the requesting user's
// votes, batched into one round trip.
func (d *RedisDB) annotateNews(ctx context.Context, items []*models.News, user *models.User) error {
	if len(items) == 0 {
		return nil
	}

	pipe := d.Client.Pipeline()
	nameCmds := make([]*redis.StringCmd, len(items))
	upCmds := make([]*redis.FloatCmd, len(items))
	downCmds := make([]*redis.FloatCmd, len(items))
	for i, news := range items {
		nameCmds[i] = pipe.HGet(ctx, keyUser(news.UserID), "username")
		if user != nil {
			upCmds[i] = pipe.ZScore(ctx, keyNewsUp(news.ID), formatID(user.ID))
			downCmds[i] = pipe.ZScore(ctx, keyNewsDown(news.ID), formatID(user.ID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return d.storeErr("annotate news", err)
	}

	for i, news := range items {
		if name, err := nameCmds[i].Result(); err == nil {
			news.Username = name
		} else {
			news.Username = d.Config.DeletedUser
		}
		if user == nil {
			continue
		}
		switch {
		case upCmds[i].Err() == nil:
			news.VotedByUser = models.VoteUp
		case downCmds[i].Err() == nil:
			news.VotedByUser = models.VoteDown
		}
	}
	return nil
}

// GetTopNews reads a window of the rank-ordered index. The hydration
// pass may have just reconciled stale ranks, so the window is re-sorted
// by the fresh values before returning.
func (d *RedisDB) GetTopNews(ctx context.Context, user *models.User, start, count int64) ([]*models.News, error) {
	defer d.track("get top news", time.Now())

	if count <= 0 {
		count = int64(d.Config.TopNewsPerPage)
	}
	ids, err := d.Client.ZRevRange(ctx, keyNewsTop, start, start+count-1).Result()
	if err != nil {
		return nil, d.storeErr("get top news", err)
	}

	items, err := d.GetNewsByIDs(ctx, parseIDs(ids), user)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Rank > items[j].Rank
	})
	return items, nil
}

// GetLatestNews reads a window of the chronological index.
func (d *RedisDB) GetLatestNews(ctx context.Context, user *models.User, start, count int64) ([]*models.News, error) {
	defer d.track("get latest news", time.Now())

	if count <= 0 {
		count = int64(d.Config.LatestNewsPerPage)
	}
	ids, err := d.Client.ZRevRange(ctx, keyNewsCron, start, start+count-1).Result()
	if err != nil {
		return nil, d.storeErr("get latest news", err)
	}
	return d.GetNewsByIDs(ctx, parseIDs(ids), user)
}

// GetSavedNews lists the items the user saved by upvoting, newest first.
func (d *RedisDB) GetSavedNews(ctx context.Context, user *models.User, start, count int64) ([]*models.News, error) {
	if count <= 0 {
		count = int64(d.Config.LatestNewsPerPage)
	}
	ids, err := d.Client.ZRevRange(ctx, keyUserSaved(user.ID), start, start+count-1).Result()
	if err != nil {
		return nil, d.storeErr("get saved news", err)
	}
	return d.GetNewsByIDs(ctx, parseIDs(ids), user)
}

// GetPostedNews lists the items the user submitted, newest first.
func (d *RedisDB) GetPostedNews(ctx context.Context, user *models.User, start, count int64) ([]*models.News, error) {
	if count <= 0 {
		count = int64(d.Config.LatestNewsPerPage)
	}
	ids, err := d.Client.ZRevRange(ctx, keyUserPosted(user.ID), start, start+count-1).Result()
	if err != nil {
		return nil, d.storeErr("get posted news", err)
	}
	return d.GetNewsByIDs(ctx, parseIDs(ids), user)
}

func parseIDs(members []string) []int64 {
	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = parseID(m)
	}
	return ids
}
