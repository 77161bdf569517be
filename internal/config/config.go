package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアのバックエンド種別
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// メール送信ドライバ種別
const (
	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"
)

// minSessionSecretLen はHS256署名鍵として許容する最小バイト長。
const minSessionSecretLen = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreBackend  string
	DatabaseURL   string
	MongoURI      string
	MongoDatabase string

	// Session
	SessionSecret     string
	PendingSessionTTL time.Duration
	SessionTTL        time.Duration

	// Verification
	VerificationCodeTTL time.Duration
	ResetCodeTTL        time.Duration
	ResendCooldown      time.Duration
	BcryptCost          int

	// Mail
	MailDriver          string
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	MailFrom            string
	MailDispatchTimeout time.Duration
	DefaultLocale       string

	// Rate Limit
	RateLimitAuth int // req/min/IP

	// Cleanup
	CleanupInterval  time.Duration
	CleanupRetention time.Duration

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// CORS
	CORSAllowedOrigin string

	// TrustProxyHeaders がtrueの場合、X-Forwarded-For等からクライアントIPを決定する。
	// リバースプロキシ配下でのみ有効にすること。
	TrustProxyHeaders bool
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", BackendPostgres))
	switch cfg.StoreBackend {
	case BackendPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendMongo:
		cfg.MongoURI = os.Getenv("MONGO_URI")
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND: %q", cfg.StoreBackend)
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.MailDriver = strings.ToLower(getEnvString("MAIL_DRIVER", MailDriverLog))
	if cfg.MailDriver == MailDriverSMTP {
		cfg.SMTPHost = os.Getenv("SMTP_HOST")
		if cfg.SMTPHost == "" {
			missing = append(missing, "SMTP_HOST")
		}
		cfg.MailFrom = os.Getenv("MAIL_FROM")
		if cfg.MailFrom == "" {
			missing = append(missing, "MAIL_FROM")
		}
	} else if cfg.MailDriver != MailDriverLog {
		return nil, fmt.Errorf("unsupported MAIL_DRIVER: %q", cfg.MailDriver)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLen {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}

	// Optional fields with defaults
	cfg.MongoDatabase = getEnvString("MONGO_DATABASE", "atelier")
	cfg.PendingSessionTTL = getEnvDuration("PENDING_SESSION_TTL", time.Hour)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.VerificationCodeTTL = getEnvDuration("VERIFICATION_CODE_TTL", 30*time.Minute)
	cfg.ResetCodeTTL = getEnvDuration("RESET_CODE_TTL", 30*time.Minute)
	cfg.ResendCooldown = getEnvDuration("RESEND_COOLDOWN", 60*time.Second)
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 10)
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	if cfg.MailFrom == "" {
		cfg.MailFrom = getEnvString("MAIL_FROM", "no-reply@localhost")
	}
	cfg.MailDispatchTimeout = getEnvDuration("MAIL_DISPATCH_TIMEOUT", 10*time.Second)
	cfg.DefaultLocale = getEnvString("DEFAULT_LOCALE", "en")
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.CleanupRetention = getEnvDuration("CLEANUP_RETENTION", 7*24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
