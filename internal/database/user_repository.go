// internal/database/user_repository.go
package database

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/pbkdf2"

	"github.com/fahmiardi/lamestnews/internal/models"
	"github.com/fahmiardi/lamestnews/internal/utils"
)

// userHash flattens a user into the persisted hash fields.
func userHash(u *models.User) map[string]any {
	return map[string]any{
		"id":              u.ID,
		"username":        u.Username,
		"salt":            u.Salt,
		"password":        u.PasswordHash,
		"ctime":           u.CreatedAt.Unix(),
		"karma":           u.Karma,
		"about":           u.About,
		"email":           u.Email,
		"auth":            u.AuthToken,
		"apisecret":       u.APISecret,
		"flags":           u.Flags,
		"karma_incr_time": u.KarmaIncrTime.Unix(),
		"replies":         u.Replies,
	}
}

func parseUserHash(m map[string]string) *models.User {
	return &models.User{
		ID:            parseID(m["id"]),
		Username:      m["username"],
		Salt:          m["salt"],
		PasswordHash:  m["password"],
		CreatedAt:     time.Unix(parseID(m["ctime"]), 0),
		Karma:         parseID(m["karma"]),
		About:         m["about"],
		Email:         m["email"],
		AuthToken:     m["auth"],
		APISecret:     m["apisecret"],
		Flags:         m["flags"],
		KarmaIncrTime: time.Unix(parseID(m["karma_incr_time"]), 0),
		Replies:       parseID(m["replies"]),
	}
}

// hashPassword derives the stored hash with iterated HMAC-SHA1. The
// iteration count and key length are tunables so deployments can raise
// the work factor without a code change.
func (d *RedisDB) hashPassword(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), d.Config.PBKDF2Iterations, d.Config.PBKDF2KeyLen, sha1.New)
	return hex.EncodeToString(key)
}

// randomToken returns a 160-bit random hex string, used for salts and
// auth tokens.
func randomToken() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %v", err)
	}
	return hex.EncodeToString(b), nil
}

// CreateUser registers a new user and returns its auth token. Usernames
// are unique case-insensitively; the reverse index is claimed with the
// store's conditional set so two concurrent signups cannot both win.
func (d *RedisDB) CreateUser(ctx context.Context, username, password string) (string, error) {
	defer d.track("create user", time.Now())

	if username == "" || password == "" {
		return "", utils.NewAppError(utils.ErrInvalidInput, "Username and password are required", nil)
	}

	id, err := d.Client.Incr(ctx, keyUsersCount).Result()
	if err != nil {
		return "", d.storeErr("create user", err)
	}

	claimed, err := d.Client.SetNX(ctx, keyUsernameToID(username), formatID(id), 0).Result()
	if err != nil {
		return "", d.storeErr("create user", err)
	}
	if !claimed {
		return "", utils.NewAppError(utils.ErrUserAlreadyExists, "Username not available: "+username, nil)
	}

	salt, err := randomToken()
	if err != nil {
		return "", err
	}
	token, err := randomToken()
	if err != nil {
		return "", err
	}

	now := time.Now()
	user := &models.User{
		ID:            id,
		Username:      username,
		Salt:          salt,
		PasswordHash:  d.hashPassword(password, salt),
		CreatedAt:     now,
		Karma:         d.Config.UserInitialKarma,
		AuthToken:     token,
		APISecret:     uuid.NewString(),
		KarmaIncrTime: now,
	}

	pipe := d.Client.TxPipeline()
	pipe.HSet(ctx, keyUser(id), userHash(user))
	pipe.Set(ctx, keyAuth(token), formatID(id), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", d.storeErr("create user", err)
	}

	log.Printf("Created user %s with id %d", username, id)
	return token, nil
}

// GetUserByID hydrates a user from its hash record.
func (d *RedisDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m, err := d.Client.HGetAll(ctx, keyUser(id)).Result()
	if err != nil {
		return nil, d.storeErr("get user", err)
	}
	if len(m) == 0 {
		return nil, utils.NewAppError(utils.ErrUserNotFound, fmt.Sprintf("User not found: %d", id), nil)
	}
	return parseUserHash(m), nil
}

// GetUserByUsername resolves the case-insensitive reverse index and
// hydrates the user.
func (d *RedisDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	idStr, err := d.Client.Get(ctx, keyUsernameToID(username)).Result()
	if err == redis.Nil {
		return nil, utils.NewUserNotFoundError(username)
	}
	if err != nil {
		return nil, d.storeErr("get user by username", err)
	}
	return d.GetUserByID(ctx, parseID(idStr))
}

// CheckUserCredentials verifies a username/password pair and returns
// the auth token and api secret. A missing user and a wrong password
// fail the same way, so callers cannot probe for usernames.
func (d *RedisDB) CheckUserCredentials(ctx context.Context, username, password string) (string, string, error) {
	defer d.track("check credentials", time.Now())

	invalid := utils.NewAppError(utils.ErrInvalidCredentials, "Wrong username or password", nil)

	user, err := d.GetUserByUsername(ctx, username)
	if err != nil {
		if utils.IsErrorCode(err, utils.ErrUserNotFound) {
			return "", "", invalid
		}
		return "", "", err
	}

	derived := d.hashPassword(password, user.Salt)
	if subtle.ConstantTimeCompare([]byte(derived), []byte(user.PasswordHash)) != 1 {
		return "", "", invalid
	}
	return user.AuthToken, user.APISecret, nil
}

// AuthenticateUser resolves an auth token to its user. The token is a
// capability: any holder is the user until the token is rotated.
func (d *RedisDB) AuthenticateUser(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, utils.NewAppError(utils.ErrInvalidToken, "Missing auth token", nil)
	}

	idStr, err := d.Client.Get(ctx, keyAuth(token)).Result()
	if err == redis.Nil {
		return nil, utils.NewAppError(utils.ErrInvalidToken, "Unknown auth token", nil)
	}
	if err != nil {
		return nil, d.storeErr("authenticate user", err)
	}
	return d.GetUserByID(ctx, parseID(idStr))
}

// UpdateAuthToken rotates the user's auth token, invalidating every
// session holding the old one. The old mapping is removed in the same
// batch that installs the new one.
func (d *RedisDB) UpdateAuthToken(ctx context.Context, user *models.User) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}

	pipe := d.Client.TxPipeline()
	pipe.Del(ctx, keyAuth(user.AuthToken))
	pipe.Set(ctx, keyAuth(token), formatID(user.ID), 0)
	pipe.HSet(ctx, keyUser(user.ID), "auth", token)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", d.storeErr("update auth token", err)
	}

	user.AuthToken = token
	return token, nil
}

// IncrementUserKarma bumps the user's karma unless the last increment
// is younger than interval. This is the "karma grows while browsing"
// accrual, applied opportunistically on authenticated requests.
func (d *RedisDB) IncrementUserKarma(ctx context.Context, user *models.User, amount int64, interval time.Duration) (bool, error) {
	now := time.Now()
	if now.Sub(user.KarmaIncrTime) < interval {
		return false, nil
	}

	pipe := d.Client.TxPipeline()
	pipe.HSet(ctx, keyUser(user.ID), "karma_incr_time", now.Unix())
	pipe.HIncrBy(ctx, keyUser(user.ID), "karma", amount)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, d.storeErr("increment karma", err)
	}

	user.Karma += amount
	user.KarmaIncrTime = now
	return true, nil
}

// changeUserKarma applies a vote-driven karma delta.
func (d *RedisDB) changeUserKarma(ctx context.Context, userID, delta int64) error {
	if err := d.Client.HIncrBy(ctx, keyUser(userID), "karma", delta).Err(); err != nil {
		return d.storeErr("change karma", err)
	}
	return nil
}
