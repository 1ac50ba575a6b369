package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	RunAddress     string
	DatabaseURI    string
	LogLevel       string
	JWTSecret      string
	BcryptCost     int
	SignupBonus    int64
	OutboxInterval time.Duration
	PusherAppID    string
	PusherKey      string
	PusherSecret   string
	PusherCluster  string
)

func ParseFlags() {
	godotenv.Load()

	flag.StringVar(&RunAddress, "a", ":8080", "address to run server")
	flag.StringVar(&DatabaseURI, "d", "", "database uri")
	flag.StringVar(&LogLevel, "l", "info", "log level")
	flag.StringVar(&JWTSecret, "s", "", "jwt signing secret")
	flag.IntVar(&BcryptCost, "c", 0, "bcrypt cost (0 uses the library default)")
	flag.Int64Var(&SignupBonus, "b", 0, "signup bonus in minor units")
	flag.DurationVar(&OutboxInterval, "p", 5*time.Second, "outbox poll interval")
	flag.Parse()

	if envRunAddr := os.Getenv("RUN_ADDRESS"); envRunAddr != "" {
		RunAddress = envRunAddr
	}
	if databaseURI := os.Getenv("DATABASE_URI"); databaseURI != "" {
		DatabaseURI = databaseURI
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		LogLevel = logLevel
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		JWTSecret = secret
	}
	if cost := os.Getenv("BCRYPT_COST"); cost != "" {
		if parsed, err := strconv.Atoi(cost); err == nil {
			BcryptCost = parsed
		}
	}
	if bonus := os.Getenv("SIGNUP_BONUS"); bonus != "" {
		if parsed, err := strconv.ParseInt(bonus, 10, 64); err == nil {
			SignupBonus = parsed
		}
	}
	if interval := os.Getenv("OUTBOX_POLL_INTERVAL"); interval != "" {
		if parsed, err := time.ParseDuration(interval); err == nil {
			OutboxInterval = parsed
		}
	}

	PusherAppID = os.Getenv("PUSHER_APP_ID")
	PusherKey = os.Getenv("PUSHER_KEY")
	PusherSecret = os.Getenv("PUSHER_SECRET")
	PusherCluster = os.Getenv("PUSHER_CLUSTER")
}
