package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"bounty-board/ledger"
	"bounty-board/services"
	"bounty-board/utils"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	Port         string
	ServiceToken string
	BaseURL      string

	DefaultNetwork string
	Networks       []ledger.Network
	LedgerTimeout  time.Duration
	IndexerToken   string

	Settings services.Settings

	ExpirySweepInterval time.Duration
	PendingSyncInterval time.Duration
	OutboxInterval      time.Duration

	RedisURL       string
	ActivityStream string

	DiscordToken     string
	DiscordChannelID string

	R2 utils.R2Config

	ProfileSyncURL      string
	ProfileSyncPath     string
	ProfileSyncInterval time.Duration
	AllowedOrigins      string
}

// Load reads .env (if present) and the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() Config {
	settings := services.DefaultSettings()
	settings.DefaultMaxActiveClaims = getint("DEFAULT_MAX_ACTIVE_CLAIMS", settings.DefaultMaxActiveClaims)
	settings.MaxRemarkets = getint("MAX_REMARKETS", settings.MaxRemarkets)
	settings.RemarketCooldown = getduration("REMARKET_COOLDOWN", settings.RemarketCooldown)
	settings.Retry.Attempts = getint("SYNC_RETRY_ATTEMPTS", settings.Retry.Attempts)
	settings.Retry.Delay = getduration("SYNC_RETRY_DELAY", settings.Retry.Delay)
	settings.BaseURL = getenv("BASE_URL", settings.BaseURL)

	defaultNetwork := strings.ToLower(getenv("DEFAULT_NETWORK", "mainnet"))
	settings.DefaultNetwork = defaultNetwork

	return Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		Port:         getenv("PORT", "5300"),
		ServiceToken: os.Getenv("BOUNTY_SERVICE_TOKEN"),
		BaseURL:      settings.BaseURL,

		DefaultNetwork: defaultNetwork,
		Networks:       networks(getenv("LEDGER_NETWORKS", defaultNetwork)),
		LedgerTimeout:  getduration("LEDGER_TIMEOUT", 15*time.Second),
		IndexerToken:   os.Getenv("LEDGER_INDEXER_TOKEN"),

		Settings: settings,

		ExpirySweepInterval: getduration("EXPIRY_SWEEP_INTERVAL", 5*time.Minute),
		PendingSyncInterval: getduration("PENDING_SYNC_INTERVAL", 30*time.Second),
		OutboxInterval:      getduration("OUTBOX_INTERVAL", 10*time.Second),

		RedisURL:       os.Getenv("REDIS_URL"),
		ActivityStream: getenv("ACTIVITY_STREAM", "bounty.activity"),

		DiscordToken:     os.Getenv("DISCORD_TOKEN"),
		DiscordChannelID: os.Getenv("DISCORD_CHANNEL_ID"),

		R2: utils.R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
			Endpoint:        os.Getenv("R2_ENDPOINT"),
		},

		ProfileSyncURL:      os.Getenv("PROFILE_SYNC_URL"),
		ProfileSyncPath:     getenv("PROFILE_SYNC_PATH", "/api/v1/public/profiles"),
		ProfileSyncInterval: getduration("PROFILE_SYNC_INTERVAL", time.Minute),
		AllowedOrigins:      getenv("ALLOWED_ORIGINS", "http://localhost:3000"),
	}
}

// networks reads LEDGER_RPC_URL_<NET> and LEDGER_INDEXER_URL_<NET> for each listed
// network. Networks without an RPC URL are skipped.
func networks(list string) []ledger.Network {
	var out []ledger.Network
	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		suffix := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		rpc := os.Getenv("LEDGER_RPC_URL_" + suffix)
		if rpc == "" {
			log.Printf("⚠️  LEDGER_RPC_URL_%s not set, network %q disabled", suffix, name)
			continue
		}
		out = append(out, ledger.Network{
			Name:       name,
			RPCURL:     rpc,
			IndexerURL: os.Getenv("LEDGER_INDEXER_URL_" + suffix),
		})
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("⚠️  %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("⚠️  %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}
