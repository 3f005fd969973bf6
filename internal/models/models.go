package models

import (
	"sort"
	"strings"
	"time"
)

// Vote directions accepted by the news and comment stores.
const (
	VoteUp   = "up"
	VoteDown = "down"
)

// TopLevelParent is the parent id of a root comment.
const TopLevelParent = -1

// TextURLPrefix marks a submission that carries body text instead of a link.
const TextURLPrefix = "text://"

type User struct {
	ID            int64
	Username      string
	Salt          string
	PasswordHash  string
	CreatedAt     time.Time
	Karma         int64
	About         string
	Email         string
	AuthToken     string
	APISecret     string
	Flags         string
	KarmaIncrTime time.Time
	Replies       int64 // unread reply notifications
}

// HasFlag reports whether the user's flags bitstring carries the given
// capability letter (e.g. "a" for admin).
func (u *User) HasFlag(flag string) bool {
	return strings.Contains(u.Flags, flag)
}

type News struct {
	ID        int64
	Title     string
	URL       string
	UserID    int64
	CreatedAt time.Time
	Score     float64
	Rank      float64
	Up        int64
	Down      int64
	Comments  int64
	Deleted   bool

	// Annotations filled on hydrating reads, never persisted.
	Username    string
	VotedByUser string // VoteUp, VoteDown or "" for the annotating user
}

// IsTextPost reports whether the news item is a text submission rather
// than a link.
func (n *News) IsTextPost() bool {
	return strings.HasPrefix(n.URL, TextURLPrefix)
}

// Text returns the body of a text submission, or "" for link posts.
func (n *News) Text() string {
	if !n.IsTextPost() {
		return ""
	}
	return strings.TrimPrefix(n.URL, TextURLPrefix)
}

// Comment is one entry of a news thread. Comments are stored as JSON
// blobs inside the thread hash, keyed by their per-thread id.
type Comment struct {
	ID        int64   `json:"id"`
	ParentID  int64   `json:"parent_id"`
	UserID    int64   `json:"user_id"`
	Body      string  `json:"body"`
	CreatedAt int64   `json:"ctime"`
	Deleted   bool    `json:"del,omitempty"`
	Up        []int64 `json:"up,omitempty"`
	Down      []int64 `json:"down,omitempty"`

	// Annotations filled on reads, never persisted.
	Score    int64  `json:"-"`
	Username string `json:"-"`
	NewsID   int64  `json:"-"`
}

// VotedBy reports whether the given user already voted on the comment,
// and in which direction.
func (c *Comment) VotedBy(userID int64) (string, bool) {
	for _, id := range c.Up {
		if id == userID {
			return VoteUp, true
		}
	}
	for _, id := range c.Down {
		if id == userID {
			return VoteDown, true
		}
	}
	return "", false
}

// Points is the comment score derived from the voter lists. It is
// recomputed on every decode instead of being stored, so it cannot
// drift from the vote ground truth.
func (c *Comment) Points() int64 {
	return int64(len(c.Up)) - int64(len(c.Down))
}

// CommentPatch is a partial-field merge update for a stored comment.
// Nil fields are left untouched.
type CommentPatch struct {
	Body    *string
	Deleted *bool
}

// CommentUpdate is the result of HandleComment: which comment was
// touched and how.
type CommentUpdate struct {
	NewsID    int64
	CommentID int64
	Op        string // "insert", "update" or "delete"
}

// CommentThread is the forest of comments under one news item, bucketed
// by parent id for O(children) lookup. The flat thread hash stays the
// authoritative storage; the thread is rebuilt from it at read time.
type CommentThread struct {
	NewsID   int64
	byParent map[int64][]*Comment
	total    int
}

// NewCommentThread buckets a flat comment list into a thread.
func NewCommentThread(newsID int64, comments []*Comment) *CommentThread {
	t := &CommentThread{
		NewsID:   newsID,
		byParent: make(map[int64][]*Comment),
	}
	for _, c := range comments {
		t.byParent[c.ParentID] = append(t.byParent[c.ParentID], c)
		t.total++
	}
	return t
}

// Roots returns the top-level comments of the thread.
func (t *CommentThread) Roots() []*Comment {
	return t.byParent[TopLevelParent]
}

// Children returns the direct replies to the given comment.
func (t *CommentThread) Children(commentID int64) []*Comment {
	return t.byParent[commentID]
}

// Len is the number of comments in the thread, tombstones included.
func (t *CommentThread) Len() int {
	return t.total
}

// SortComments orders siblings for display: higher score first, ties
// broken by newer first.
func SortComments(comments []*Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		if comments[i].Score != comments[j].Score {
			return comments[i].Score > comments[j].Score
		}
		return comments[i].CreatedAt > comments[j].CreatedAt
	})
}
