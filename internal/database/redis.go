// internal/database/redis.go
package database

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fahmiardi/lamestnews/internal/config"
	"github.com/fahmiardi/lamestnews/internal/rate"
	"github.com/fahmiardi/lamestnews/internal/utils"
)

// RedisDB is the engine's handle on the backing store. All durable
// state lives behind it; callers get one handle injected and share it
// across request workers.
type RedisDB struct {
	Client  *redis.Client
	Config  *config.Config
	Metrics *utils.MetricsCollector

	limiter rate.Limiter
}

func NewRedisDB(cfg *config.Config) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Addr,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Ping the store to verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to store: %v", err)
	}

	log.Println("Successfully connected to the store!")

	return newRedisDB(client, cfg), nil
}

// NewRedisDBWithClient wraps an already-connected client. Used by tests
// and by processes that manage the connection themselves.
func NewRedisDBWithClient(client *redis.Client, cfg *config.Config) *RedisDB {
	return newRedisDB(client, cfg)
}

func newRedisDB(client *redis.Client, cfg *config.Config) *RedisDB {
	return &RedisDB{
		Client:  client,
		Config:  cfg,
		Metrics: utils.NewMetricsCollector(),
		limiter: rate.NewStoreLimiter(client),
	}
}

func (d *RedisDB) Close() error {
	return d.Client.Close()
}

// Limiter exposes the store-backed throttle so callers can rate limit
// their own write paths with the same markers.
func (d *RedisDB) Limiter() rate.Limiter {
	return d.limiter
}

// track records the latency of one engine operation. Call as
// defer d.track("op", time.Now()).
func (d *RedisDB) track(op string, start time.Time) {
	d.Metrics.IncrementRequests()
	d.Metrics.AddOperationLatency(op, time.Since(start))
}

func (d *RedisDB) storeErr(op string, err error) *utils.AppError {
	d.Metrics.IncrementErrors()
	return utils.NewStoreError(op, err)
}

// Persisted key layout. Kept stable so existing data survives a
// migration onto this engine.
const (
	keyUsersCount = "users.count"
	keyNewsCount  = "news.count"
	keyNewsCron   = "news.cron"
	keyNewsTop    = "news.top"
)

func keyUser(id int64) string {
	return "user:" + strconv.FormatInt(id, 10)
}

func keyUsernameToID(username string) string {
	return "username.to.id:" + strings.ToLower(username)
}

func keyAuth(token string) string {
	return "auth:" + token
}

func keyNews(id int64) string {
	return "news:" + strconv.FormatInt(id, 10)
}

func keyNewsUp(id int64) string {
	return "news.up:" + strconv.FormatInt(id, 10)
}

func keyNewsDown(id int64) string {
	return "news.down:" + strconv.FormatInt(id, 10)
}

func keyURL(url string) string {
	return "url:" + url
}

func keyUserPosted(userID int64) string {
	return "user.posted:" + strconv.FormatInt(userID, 10)
}

func keyUserSaved(userID int64) string {
	return "user.saved:" + strconv.FormatInt(userID, 10)
}

func keyUserComments(userID int64) string {
	return "user.comments:" + strconv.FormatInt(userID, 10)
}

func keyUserReplies(userID int64) string {
	return "user.replies:" + strconv.FormatInt(userID, 10)
}

func keyThreadComments(newsID int64) string {
	return "thread:comment:" + strconv.FormatInt(newsID, 10)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
