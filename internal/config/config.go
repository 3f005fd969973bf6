// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// StoreConfig holds connection settings for the backing store
type StoreConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config holds every tunable of the engine. All durable behavior
// (karma economics, edit windows, score dampening, pagination) is
// driven from here so deployments can retune without code changes.
type Config struct {
	Store *StoreConfig

	// Identity & karma
	UserInitialKarma       int64
	KarmaIncrementInterval time.Duration
	KarmaIncrementAmount   int64
	KarmaIncrementComment  int64
	PBKDF2Iterations       int
	PBKDF2KeyLen           int

	// Scoring & ranking
	NewsScoreLogStart   int64
	NewsScoreLogBooster float64
	RankAgingFactor     float64
	NewsAgePadding      time.Duration

	// Edit windows and throttles
	NewsEditTime        time.Duration
	CommentEditTime     time.Duration
	NewsSubmissionBreak time.Duration
	PreventRepostTime   time.Duration

	// Vote karma economics
	NewsUpvoteMinKarma        int64
	NewsUpvoteKarmaCost       int64
	NewsUpvoteKarmaTransfered int64
	NewsDownvoteMinKarma      int64
	NewsDownvoteKarmaCost     int64

	// Limits & pagination
	CommentMaxLength  int
	LatestNewsPerPage int
	TopNewsPerPage    int

	// Display
	DeletedUser string

	Debug bool
}

// DefaultStoreConfig provides default store connection settings
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Addr: "localhost:6379",
		DB:   0,
	}
}

// DefaultConfig provides the stock tunables
func DefaultConfig() *Config {
	return &Config{
		Store: DefaultStoreConfig(),

		UserInitialKarma:       10,
		KarmaIncrementInterval: 3 * time.Hour,
		KarmaIncrementAmount:   1,
		KarmaIncrementComment:  1,
		PBKDF2Iterations:       1000,
		PBKDF2KeyLen:           20,

		NewsScoreLogStart:   10,
		NewsScoreLogBooster: 2,
		RankAgingFactor:     1.0,
		NewsAgePadding:      10 * time.Minute,

		NewsEditTime:        15 * time.Minute,
		CommentEditTime:     2 * time.Hour,
		NewsSubmissionBreak: 15 * time.Minute,
		PreventRepostTime:   48 * time.Hour,

		NewsUpvoteMinKarma:        1,
		NewsUpvoteKarmaCost:       1,
		NewsUpvoteKarmaTransfered: 1,
		NewsDownvoteMinKarma:      30,
		NewsDownvoteKarmaCost:     6,

		CommentMaxLength:  4096,
		LatestNewsPerPage: 100,
		TopNewsPerPage:    30,

		DeletedUser: "deleted_user",
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	// Silent failure if no .env exists, which is fine
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if addr := os.Getenv("STORE_ADDR"); addr != "" {
		cfg.Store.Addr = addr
	}
	cfg.Store.Password = os.Getenv("STORE_PASSWORD")
	if dbStr := os.Getenv("STORE_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.Store.DB = db
		}
	}

	cfg.UserInitialKarma = getEnvInt64("USER_INITIAL_KARMA", cfg.UserInitialKarma)
	cfg.KarmaIncrementInterval = getEnvDuration("KARMA_INCREMENT_INTERVAL", cfg.KarmaIncrementInterval)
	cfg.KarmaIncrementAmount = getEnvInt64("KARMA_INCREMENT_AMOUNT", cfg.KarmaIncrementAmount)
	cfg.KarmaIncrementComment = getEnvInt64("KARMA_INCREMENT_COMMENT", cfg.KarmaIncrementComment)
	cfg.PBKDF2Iterations = getEnvInt("PBKDF2_ITERATIONS", cfg.PBKDF2Iterations)

	cfg.NewsScoreLogStart = getEnvInt64("NEWS_SCORE_LOG_START", cfg.NewsScoreLogStart)
	cfg.NewsScoreLogBooster = getEnvFloat("NEWS_SCORE_LOG_BOOSTER", cfg.NewsScoreLogBooster)
	cfg.RankAgingFactor = getEnvFloat("RANK_AGING_FACTOR", cfg.RankAgingFactor)
	cfg.NewsAgePadding = getEnvDuration("NEWS_AGE_PADDING", cfg.NewsAgePadding)

	cfg.NewsEditTime = getEnvDuration("NEWS_EDIT_TIME", cfg.NewsEditTime)
	cfg.CommentEditTime = getEnvDuration("COMMENT_EDIT_TIME", cfg.CommentEditTime)
	cfg.NewsSubmissionBreak = getEnvDuration("NEWS_SUBMISSION_BREAK", cfg.NewsSubmissionBreak)
	cfg.PreventRepostTime = getEnvDuration("PREVENT_REPOST_TIME", cfg.PreventRepostTime)

	cfg.NewsUpvoteMinKarma = getEnvInt64("NEWS_UPVOTE_MIN_KARMA", cfg.NewsUpvoteMinKarma)
	cfg.NewsUpvoteKarmaCost = getEnvInt64("NEWS_UPVOTE_KARMA_COST", cfg.NewsUpvoteKarmaCost)
	cfg.NewsUpvoteKarmaTransfered = getEnvInt64("NEWS_UPVOTE_KARMA_TRANSFERED", cfg.NewsUpvoteKarmaTransfered)
	cfg.NewsDownvoteMinKarma = getEnvInt64("NEWS_DOWNVOTE_MIN_KARMA", cfg.NewsDownvoteMinKarma)
	cfg.NewsDownvoteKarmaCost = getEnvInt64("NEWS_DOWNVOTE_KARMA_COST", cfg.NewsDownvoteKarmaCost)

	cfg.CommentMaxLength = getEnvInt("COMMENT_MAX_LENGTH", cfg.CommentMaxLength)
	cfg.LatestNewsPerPage = getEnvInt("LATEST_NEWS_PER_PAGE", cfg.LatestNewsPerPage)
	cfg.TopNewsPerPage = getEnvInt("TOP_NEWS_PER_PAGE", cfg.TopNewsPerPage)

	if name := os.Getenv("DELETED_USER"); name != "" {
		cfg.DeletedUser = name
	}

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}

	return cfg, nil
}

// Helper functions to read typed environment variables with default fallback

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
