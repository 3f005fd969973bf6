// internal/database/comment_repository.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fahmiardi/lamestnews/internal/models"
	"github.com/fahmiardi/lamestnews/internal/utils"
)

// Comment threads live in one hash per news item: the "nextid" field is
// the per-thread monotonic id counter, every other field maps a comment
// id to its JSON blob. Soft-deleted comments keep their field so child
// parent references never dangle.

func decodeComment(newsID int64, data string) (*models.Comment, error) {
	var c models.Comment
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("corrupt comment in thread %d: %v", newsID, err)
	}
	c.Score = c.Points()
	c.NewsID = newsID
	return &c, nil
}

func (d *RedisDB) writeComment(ctx context.Context, newsID int64, c *models.Comment) error {
	blob, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode comment: %v", err)
	}
	if err := d.Client.HSet(ctx, keyThreadComments(newsID), formatID(c.ID), blob).Err(); err != nil {
		return d.storeErr("write comment", err)
	}
	return nil
}

// commentRef is the "<newsID>-<commentID>" form used in per-user
// activity and reply indexes.
func commentRef(newsID, commentID int64) string {
	return fmt.Sprintf("%d-%d", newsID, commentID)
}

func parseCommentRef(ref string) (newsID, commentID int64, ok bool) {
	parts := strings.SplitN(ref, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	return parseID(parts[0]), parseID(parts[1]), true
}

// PostComment stores a comment under the next id of the thread counter
// and returns that id. A non-root comment requires its parent to exist
// in the same thread, tombstoned or not.
func (d *RedisDB) PostComment(ctx context.Context, newsID int64, c *models.Comment) (int64, error) {
	key := keyThreadComments(newsID)

	if c.ParentID != models.TopLevelParent {
		exists, err := d.Client.HExists(ctx, key, formatID(c.ParentID)).Result()
		if err != nil {
			return 0, d.storeErr("post comment", err)
		}
		if !exists {
			return 0, utils.NewAppError(utils.ErrInvalidInput,
				fmt.Sprintf("Parent comment %d does not exist in thread %d", c.ParentID, newsID), nil)
		}
	}

	id, err := d.Client.HIncrBy(ctx, key, "nextid", 1).Result()
	if err != nil {
		return 0, d.storeErr("post comment", err)
	}

	c.ID = id
	if err := d.writeComment(ctx, newsID, c); err != nil {
		return 0, err
	}
	return id, nil
}

// GetComment fetches one comment of a thread, tombstones included.
func (d *RedisDB) GetComment(ctx context.Context, newsID, commentID int64) (*models.Comment, error) {
	data, err := d.Client.HGet(ctx, keyThreadComments(newsID), formatID(commentID)).Result()
	if err == redis.Nil {
		return nil, utils.NewCommentNotFoundError(newsID, commentID)
	}
	if err != nil {
		return nil, d.storeErr("get comment", err)
	}
	return decodeComment(newsID, data)
}

// EditComment merges the non-nil patch fields into the stored comment
// and returns the updated record.
func (d *RedisDB) EditComment(ctx context.Context, newsID, commentID int64, patch *models.CommentPatch) (*models.Comment, error) {
	c, err := d.GetComment(ctx, newsID, commentID)
	if err != nil {
		return nil, err
	}

	if patch.Body != nil {
		c.Body = *patch.Body
	}
	if patch.Deleted != nil {
		c.Deleted = *patch.Deleted
	}

	if err := d.writeComment(ctx, newsID, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteComment tombstones a comment, keeping its id slot valid as a
// parent reference.
func (d *RedisDB) DeleteComment(ctx context.Context, newsID, commentID int64) error {
	deleted := true
	_, err := d.EditComment(ctx, newsID, commentID, &models.CommentPatch{Deleted: &deleted})
	return err
}

// HandleComment is the unified write entry point for comments.
//
//   - commentID == -1 inserts a new comment under parentID, bumps the
//     news comment counter, records the commenter's activity, notifies
//     the parent author and awards comment karma.
//   - an existing commentID with a body updates it (author-only, inside
//     the edit window) and revives a tombstoned comment.
//   - an existing commentID with an empty body soft-deletes it.
//
// Any ownership, timing or existence violation fails before mutating.
func (d *RedisDB) HandleComment(ctx context.Context, user *models.User, newsID, commentID, parentID int64, body string) (*models.CommentUpdate, error) {
	defer d.track("handle comment", time.Now())

	news, err := d.GetNewsByID(ctx, newsID)
	if err != nil {
		return nil, err
	}

	if commentID == models.TopLevelParent {
		return d.insertComment(ctx, user, news, parentID, body)
	}

	c, err := d.GetComment(ctx, newsID, commentID)
	if err != nil {
		return nil, err
	}
	if c.UserID != user.ID {
		return nil, utils.NewForbiddenError("only the author may modify a comment")
	}
	if time.Since(time.Unix(c.CreatedAt, 0)) > d.Config.CommentEditTime {
		return nil, utils.NewAppError(utils.ErrEditWindowClosed, "Comment is too old to be modified", nil)
	}

	if body == "" {
		if c.Deleted {
			return nil, utils.NewCommentNotFoundError(newsID, commentID)
		}
		deleted := true
		if _, err := d.EditComment(ctx, newsID, commentID, &models.CommentPatch{Deleted: &deleted}); err != nil {
			return nil, err
		}
		if err := d.Client.HIncrBy(ctx, keyNews(newsID), "comments", -1).Err(); err != nil {
			return nil, d.storeErr("handle comment", err)
		}
		return &models.CommentUpdate{NewsID: newsID, CommentID: commentID, Op: "delete"}, nil
	}

	wasDeleted := c.Deleted
	deleted := false
	if _, err := d.EditComment(ctx, newsID, commentID, &models.CommentPatch{Body: &body, Deleted: &deleted}); err != nil {
		return nil, err
	}
	if wasDeleted {
		// Reviving a tombstone puts it back in the visible count.
		if err := d.Client.HIncrBy(ctx, keyNews(newsID), "comments", 1).Err(); err != nil {
			return nil, d.storeErr("handle comment", err)
		}
	}
	return &models.CommentUpdate{NewsID: newsID, CommentID: commentID, Op: "update"}, nil
}

func (d *RedisDB) insertComment(ctx context.Context, user *models.User, news *models.News, parentID int64, body string) (*models.CommentUpdate, error) {
	if body == "" {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Comment body is required", nil)
	}
	if len([]rune(body)) > d.Config.CommentMaxLength {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Comment is too long", nil)
	}

	// Resolve the parent author first so the reply notification can be
	// batched with the rest of the insert bookkeeping.
	var parent *models.Comment
	if parentID != models.TopLevelParent {
		var err error
		parent, err = d.GetComment(ctx, news.ID, parentID)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now()
	c := &models.Comment{
		ParentID:  parentID,
		UserID:    user.ID,
		Body:      body,
		CreatedAt: now.Unix(),
		Up:        []int64{user.ID}, // commenter's implicit upvote
	}

	id, err := d.PostComment(ctx, news.ID, c)
	if err != nil {
		return nil, err
	}

	pipe := d.Client.TxPipeline()
	pipe.HIncrBy(ctx, keyNews(news.ID), "comments", 1)
	pipe.ZAdd(ctx, keyUserComments(user.ID), redis.Z{Score: float64(now.Unix()), Member: commentRef(news.ID, id)})
	if parent != nil && parent.UserID != user.ID {
		pipe.ZAdd(ctx, keyUserReplies(parent.UserID), redis.Z{Score: float64(now.Unix()), Member: commentRef(news.ID, id)})
		pipe.HIncrBy(ctx, keyUser(parent.UserID), "replies", 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, d.storeErr("handle comment", err)
	}

	if err := d.changeUserKarma(ctx, user.ID, d.Config.KarmaIncrementComment); err != nil {
		log.Printf("Comment karma for user %d failed: %v", user.ID, err)
	}

	return &models.CommentUpdate{NewsID: news.ID, CommentID: id, Op: "insert"}, nil
}

// VoteComment records a user's vote inside the comment blob and returns
// the updated comment. One vote per user per comment, immutable.
func (d *RedisDB) VoteComment(ctx context.Context, user *models.User, newsID, commentID int64, voteType string) (*models.Comment, error) {
	if voteType != models.VoteUp && voteType != models.VoteDown {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Vote type must be up or down: "+voteType, nil)
	}

	c, err := d.GetComment(ctx, newsID, commentID)
	if err != nil {
		return nil, err
	}
	if c.Deleted {
		return nil, utils.NewCommentNotFoundError(newsID, commentID)
	}
	if _, voted := c.VotedBy(user.ID); voted {
		return nil, utils.NewAppError(utils.ErrDuplicateVote,
			fmt.Sprintf("User %d already voted comment %d-%d", user.ID, newsID, commentID), nil)
	}

	if voteType == models.VoteUp {
		c.Up = append(c.Up, user.ID)
	} else {
		c.Down = append(c.Down, user.ID)
	}

	if err := d.writeComment(ctx, newsID, c); err != nil {
		return nil, err
	}
	c.Score = c.Points()
	return c, nil
}

// GetNewsComments loads the whole thread, resolves each distinct author
// once, and buckets the comments into a forest. Sibling display order
// is the caller's concern, via models.SortComments.
func (d *RedisDB) GetNewsComments(ctx context.Context, news *models.News) (*models.CommentThread, error) {
	defer d.track("get news comments", time.Now())

	m, err := d.Client.HGetAll(ctx, keyThreadComments(news.ID)).Result()
	if err != nil {
		return nil, d.storeErr("get news comments", err)
	}

	comments := make([]*models.Comment, 0, len(m))
	for field, data := range m {
		if field == "nextid" {
			continue
		}
		c, err := decodeComment(news.ID, data)
		if err != nil {
			log.Printf("Skipping comment %s of thread %d: %v", field, news.ID, err)
			continue
		}
		comments = append(comments, c)
	}

	if err := d.annotateComments(ctx, comments); err != nil {
		return nil, err
	}
	return models.NewCommentThread(news.ID, comments), nil
}

// annotateComments resolves author usernames, one lookup per distinct
// author per call.
func (d *RedisDB) annotateComments(ctx context.Context, comments []*models.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	authors := make(map[int64]string)
	for _, c := range comments {
		authors[c.UserID] = ""
	}

	pipe := d.Client.Pipeline()
	cmds := make(map[int64]*redis.StringCmd, len(authors))
	for userID := range authors {
		cmds[userID] = pipe.HGet(ctx, keyUser(userID), "username")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return d.storeErr("annotate comments", err)
	}

	for userID, cmd := range cmds {
		if name, err := cmd.Result(); err == nil {
			authors[userID] = name
		} else {
			authors[userID] = d.Config.DeletedUser
		}
	}
	for _, c := range comments {
		c.Username = authors[c.UserID]
	}
	return nil
}

// GetUserComments lists the user's comment activity, newest first.
func (d *RedisDB) GetUserComments(ctx context.Context, user *models.User, start, count int64) ([]*models.Comment, error) {
	if count <= 0 {
		count = int64(d.Config.LatestNewsPerPage)
	}
	refs, err := d.Client.ZRevRange(ctx, keyUserComments(user.ID), start, start+count-1).Result()
	if err != nil {
		return nil, d.storeErr("get user comments", err)
	}
	return d.getCommentsByRefs(ctx, refs)
}

// GetReplies lists comments posted in reply to the user's comments,
// newest first, optionally clearing the unread counter.
func (d *RedisDB) GetReplies(ctx context.Context, user *models.User, markSeen bool) ([]*models.Comment, error) {
	refs, err := d.Client.ZRevRange(ctx, keyUserReplies(user.ID), 0, int64(d.Config.LatestNewsPerPage)-1).Result()
	if err != nil {
		return nil, d.storeErr("get replies", err)
	}

	comments, err := d.getCommentsByRefs(ctx, refs)
	if err != nil {
		return nil, err
	}

	if markSeen {
		if err := d.Client.HSet(ctx, keyUser(user.ID), "replies", 0).Err(); err != nil {
			return nil, d.storeErr("get replies", err)
		}
		user.Replies = 0
	}
	return comments, nil
}

func (d *RedisDB) getCommentsByRefs(ctx context.Context, refs []string) ([]*models.Comment, error) {
	comments := make([]*models.Comment, 0, len(refs))
	if len(refs) == 0 {
		return comments, nil
	}

	pipe := d.Client.Pipeline()
	type pending struct {
		newsID int64
		cmd    *redis.StringCmd
	}
	cmds := make([]pending, 0, len(refs))
	for _, ref := range refs {
		newsID, commentID, ok := parseCommentRef(ref)
		if !ok {
			continue
		}
		cmds = append(cmds, pending{newsID, pipe.HGet(ctx, keyThreadComments(newsID), formatID(commentID))})
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, d.storeErr("get comments", err)
	}

	for _, p := range cmds {
		data, err := p.cmd.Result()
		if err != nil {
			continue
		}
		c, err := decodeComment(p.newsID, data)
		if err != nil {
			continue
		}
		comments = append(comments, c)
	}

	if err := d.annotateComments(ctx, comments); err != nil {
		return nil, err
	}
	return comments, nil
}
