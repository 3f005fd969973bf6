package database

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fahmiardi/lamestnews/internal/models"
	"github.com/fahmiardi/lamestnews/internal/utils"
)

func TestInsertNewsBootstrapsScoreAndIndexes(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "alice")
	newsID, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", user)
	require.NoError(t, err)
	require.Equal(t, int64(1), newsID)

	news, err := db.GetNewsByID(ctx, newsID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", news.Title)
	assert.Equal(t, user.ID, news.UserID)

	// The author's automatic upvote seeds score and rank.
	assert.Equal(t, int64(1), news.Up)
	assert.Equal(t, int64(0), news.Down)
	assert.InDelta(t, 1.0, news.Score, 1e-9)
	assert.Greater(t, news.Rank, 0.0)

	// The item lands in every index it belongs to.
	for _, key := range []string{keyNewsCron, keyNewsTop, keyUserPosted(user.ID), keyUserSaved(user.ID)} {
		err := db.Client.ZScore(ctx, key, formatID(newsID)).Err()
		assert.NoError(t, err, "expected %s to index news %d", key, newsID)
	}
}

func TestInsertNewsDuplicateURLSuppression(t *testing.T) {
	db, mr := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "alice")
	other := createTestUser(t, db, "bob")

	first, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", user)
	require.NoError(t, err)

	// Resubmitting a live URL returns the same id, creates nothing.
	second, err := db.InsertNews(ctx, "Hello again", "http://example.com/a", "", other)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := db.Client.Get(ctx, keyNewsCount).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Past the suppression window the URL is free again.
	mr.FastForward(db.Config.PreventRepostTime + time.Minute)
	third, err := db.InsertNews(ctx, "Hello once more", "http://example.com/a", "", other)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestInsertNewsTextPost(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	db.Config.CommentMaxLength = 10
	user := createTestUser(t, db, "alice")

	newsID, err := db.InsertNews(ctx, "Ask: something", "", "0123456789 this tail is dropped", user)
	require.NoError(t, err)

	news, err := db.GetNewsByID(ctx, newsID)
	require.NoError(t, err)
	assert.True(t, news.IsTextPost())
	assert.Equal(t, "0123456789", news.Text())

	// Text posts never enter the duplicate-URL index.
	exists, err := db.Client.Exists(ctx, keyURL(news.URL)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestInsertNewsSubmissionCooldown(t *testing.T) {
	db, mr := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "alice")
	_, err := db.InsertNews(ctx, "First", "http://example.com/1", "", user)
	require.NoError(t, err)

	_, err = db.InsertNews(ctx, "Second", "http://example.com/2", "", user)
	require.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrRateLimited))

	mr.FastForward(db.Config.NewsSubmissionBreak + time.Second)
	_, err = db.InsertNews(ctx, "Second", "http://example.com/2", "", user)
	assert.NoError(t, err)
}

func TestVoteNewsIdempotence(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	author := createTestUser(t, db, "alice")
	voter := createTestUser(t, db, "bob")

	newsID, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", author)
	require.NoError(t, err)

	rank, err := db.VoteNews(ctx, newsID, voter, models.VoteUp)
	require.NoError(t, err)
	assert.Greater(t, rank, 0.0)

	// The second attempt fails whatever its direction.
	_, err = db.VoteNews(ctx, newsID, voter, models.VoteUp)
	assert.True(t, utils.IsErrorCode(err, utils.ErrDuplicateVote))
	_, err = db.VoteNews(ctx, newsID, voter, models.VoteDown)
	assert.True(t, utils.IsErrorCode(err, utils.ErrDuplicateVote))

	// Across all attempts the counters moved by exactly one.
	news, err := db.GetNewsByID(ctx, newsID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), news.Up) // author bootstrap + voter
	assert.Equal(t, int64(0), news.Down)
}

func TestVoteNewsKarmaEconomics(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	author := createTestUser(t, db, "alice")
	voter := createTestUser(t, db, "bob")

	newsID, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", author)
	require.NoError(t, err)

	// The author's bootstrap vote is exempt from costs and transfers.
	storedAuthor, err := db.GetUserByID(ctx, author.ID)
	require.NoError(t, err)
	assert.Equal(t, db.Config.UserInitialKarma, storedAuthor.Karma)

	_, err = db.VoteNews(ctx, newsID, voter, models.VoteUp)
	require.NoError(t, err)

	storedVoter, err := db.GetUserByID(ctx, voter.ID)
	require.NoError(t, err)
	assert.Equal(t, db.Config.UserInitialKarma-db.Config.NewsUpvoteKarmaCost, storedVoter.Karma)

	storedAuthor, err = db.GetUserByID(ctx, author.ID)
	require.NoError(t, err)
	assert.Equal(t, db.Config.UserInitialKarma+db.Config.NewsUpvoteKarmaTransfered, storedAuthor.Karma)
}

func TestVoteNewsDownvoteKarmaGate(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	author := createTestUser(t, db, "alice")
	weak := createTestUser(t, db, "bob")
	strong := createTestUser(t, db, "carol")

	newsID, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", author)
	require.NoError(t, err)

	// Initial karma is below the downvote threshold.
	_, err = db.VoteNews(ctx, newsID, weak, models.VoteDown)
	assert.True(t, utils.IsErrorCode(err, utils.ErrInsufficientKarma))

	setUserKarma(t, db, strong, 50)
	_, err = db.VoteNews(ctx, newsID, strong, models.VoteDown)
	require.NoError(t, err)

	stored, err := db.GetUserByID(ctx, strong.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50-db.Config.NewsDownvoteKarmaCost), stored.Karma)
}

func TestVoteNewsValidation(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, db, "alice")

	_, err := db.VoteNews(ctx, 1, user, "sideways")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	_, err = db.VoteNews(ctx, 999, user, models.VoteUp)
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotFound))
}

func TestEditNewsOwnershipAndWindow(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, db, "alice")
	stranger := createTestUser(t, db, "bob")

	newsID, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", owner)
	require.NoError(t, err)

	_, err = db.EditNews(ctx, stranger, newsID, "Hijacked", "http://example.com/a", "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	_, err = db.EditNews(ctx, owner, newsID, "Hello, world", "http://example.com/a", "")
	require.NoError(t, err)
	news, err := db.GetNewsByID(ctx, newsID)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", news.Title)

	// Outside the edit window even the owner is refused.
	oldCtime := time.Now().Add(-db.Config.NewsEditTime - time.Hour).Unix()
	require.NoError(t, db.Client.HSet(ctx, keyNews(newsID), "ctime", oldCtime).Err())
	_, err = db.EditNews(ctx, owner, newsID, "Too late", "http://example.com/a", "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrEditWindowClosed))
}

func TestEditNewsURLRelock(t *testing.T) {
	db, mr := newTestDB(t)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")

	aliceNews, err := db.InsertNews(ctx, "Mine", "http://example.com/a", "", alice)
	require.NoError(t, err)
	_, err = db.InsertNews(ctx, "Yours", "http://example.com/b", "", bob)
	require.NoError(t, err)

	// Moving onto a URL someone else holds is a conflict.
	_, err = db.EditNews(ctx, alice, aliceNews, "Mine", "http://example.com/b", "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrDuplicateURL))

	// Moving onto a free URL releases the old lock and takes the new one.
	_, err = db.EditNews(ctx, alice, aliceNews, "Mine", "http://example.com/c", "")
	require.NoError(t, err)

	exists, err := db.Client.Exists(ctx, keyURL("http://example.com/a")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	locked, err := db.Client.Get(ctx, keyURL("http://example.com/c")).Result()
	require.NoError(t, err)
	assert.Equal(t, formatID(aliceNews), locked)

	// The new lock expires like a fresh submission's.
	mr.FastForward(db.Config.PreventRepostTime + time.Minute)
	exists, err = db.Client.Exists(ctx, keyURL("http://example.com/c")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestDelNews(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, db, "alice")
	stranger := createTestUser(t, db, "bob")

	newsID, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", owner)
	require.NoError(t, err)

	_, err = db.DelNews(ctx, stranger, newsID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))

	ok, err := db.DelNews(ctx, owner, newsID)
	require.NoError(t, err)
	assert.True(t, ok)

	news, err := db.GetNewsByID(ctx, newsID)
	require.NoError(t, err)
	assert.True(t, news.Deleted)

	for _, key := range []string{keyNewsTop, keyNewsCron} {
		err := db.Client.ZScore(ctx, key, formatID(newsID)).Err()
		assert.Equal(t, redis.Nil, err, "expected news %d gone from %s", newsID, key)
	}
}

func TestDelNewsRefusedWithComments(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, db, "alice")
	newsID, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", owner)
	require.NoError(t, err)

	_, err = db.HandleComment(ctx, owner, newsID, models.TopLevelParent, models.TopLevelParent, "first!")
	require.NoError(t, err)

	_, err = db.DelNews(ctx, owner, newsID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrForbidden))
}

func TestGetTopAndLatestNews(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")
	v1 := createTestUser(t, db, "carol")
	v2 := createTestUser(t, db, "dave")

	first, err := db.InsertNews(ctx, "First", "http://example.com/1", "", alice)
	require.NoError(t, err)
	second, err := db.InsertNews(ctx, "Second", "http://example.com/2", "", bob)
	require.NoError(t, err)

	// Two extra upvotes push the second item to the top.
	_, err = db.VoteNews(ctx, second, v1, models.VoteUp)
	require.NoError(t, err)
	_, err = db.VoteNews(ctx, second, v2, models.VoteUp)
	require.NoError(t, err)

	top, err := db.GetTopNews(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, second, top[0].ID)
	assert.Equal(t, first, top[1].ID)
	assert.GreaterOrEqual(t, top[0].Rank, top[1].Rank)
	assert.Equal(t, "bob", top[0].Username)

	latest, err := db.GetLatestNews(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, second, latest[0].ID)
}

func TestSavedNewsAndVoteAnnotation(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	author := createTestUser(t, db, "alice")
	voter := createTestUser(t, db, "bob")

	newsID, err := db.InsertNews(ctx, "Hello", "http://example.com/a", "", author)
	require.NoError(t, err)
	_, err = db.VoteNews(ctx, newsID, voter, models.VoteUp)
	require.NoError(t, err)

	// Upvoting auto-saves the item for the voter.
	saved, err := db.GetSavedNews(ctx, voter, 0, 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, newsID, saved[0].ID)
	assert.Equal(t, models.VoteUp, saved[0].VotedByUser)
	assert.Equal(t, "alice", saved[0].Username)

	posted, err := db.GetPostedNews(ctx, author, 0, 0)
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Equal(t, newsID, posted[0].ID)
}

func TestTruncateRespectsRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncate("héllo", 10))
	assert.Equal(t, "hél", truncate("héllo", 3))
}
