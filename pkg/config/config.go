package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIURL            string
	SocketURL         string
	Environment       string
	Locale            string
	DatabasePath      string
	MaxUploadSize     int64
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	TypingTTL         time.Duration
	VAPIDPublicKey    string
	VAPIDPrivateKey   string
	PushSubscription  string

	// Development backend.
	Port            string
	JWTSecret       string
	FileStoragePath string
	CORSOrigins     string
	DevAdminEmail   string
	DevAdminPass    string
}

// Load builds the configuration from the environment. Variables from the env
// file named by CINEADMIN_ENV_FILE (default ".env") fill in whatever the real
// environment leaves unset.
func Load() *Config {
	envFile := getEnv("CINEADMIN_ENV_FILE", ".env")
	_ = godotenv.Load(envFile)

	return &Config{
		APIURL:            getEnv("API_URL", "http://localhost:8080"),
		SocketURL:         getEnv("SOCKET_URL", "ws://localhost:8080/ws"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		Locale:            getEnv("LOCALE", "vi"),
		DatabasePath:      getEnv("DATABASE_PATH", "./data/cineadmin.db"),
		MaxUploadSize:     parseInt64(getEnv("MAX_UPLOAD_SIZE", "10485760")), // 10MB default
		ReconnectAttempts: parseInt(getEnv("RECONNECT_ATTEMPTS", "5"), 5),
		ReconnectDelay:    parseDuration(getEnv("RECONNECT_DELAY", "1s"), time.Second),
		ConnectTimeout:    parseDuration(getEnv("CONNECT_TIMEOUT", "10s"), 10*time.Second),
		TypingTTL:         parseDuration(getEnv("TYPING_TTL", "3s"), 3*time.Second),
		VAPIDPublicKey:    getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:   getEnv("VAPID_PRIVATE_KEY", ""),
		PushSubscription:  getEnv("PUSH_SUBSCRIPTION", ""),

		Port:            getEnv("PORT", "8080"),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		FileStoragePath: getEnv("FILE_STORAGE_PATH", "./data/uploads"),
		CORSOrigins:     getEnv("CORS_ORIGINS", "*"),
		DevAdminEmail:   getEnv("DEV_ADMIN_EMAIL", "admin@example.com"),
		DevAdminPass:    getEnv("DEV_ADMIN_PASSWORD", "admin123"),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseInt64(s string) int64 {
	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil || val <= 0 {
		return 10485760 // 10MB default
	}
	return val
}

func parseInt(s string, def int) int {
	val, err := strconv.Atoi(s)
	if err != nil || val < 0 {
		return def
	}
	return val
}

func parseDuration(s string, def time.Duration) time.Duration {
	val, err := time.ParseDuration(s)
	if err != nil || val <= 0 {
		return def
	}
	return val
}
