package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the chat service.
type Config struct {
	Port         string
	StoreBackend string // "mongo" or "memory"
	MongoDBURI   string
	DBName       string
	JWTSecret    string

	RedisAddr     string // empty disables the presence mirror
	RedisPassword string
	RedisDB       int

	AllowedOrigins []string
	PublicBaseURL  string

	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	EditWindow       time.Duration
	TypingTTL        time.Duration

	MaxFrameBytes  int64
	MaxUploadBytes int64
	SendBuffer     int
	MessageBurst   int
	MessageRate    int
}

// LoadConfig reads the environment, falling back to a .env file when present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables.")
	}

	port := getEnv("PORT", "8080")
	cfg := &Config{
		Port:         port,
		StoreBackend: getEnv("STORE_BACKEND", "mongo"),
		MongoDBURI:   getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		DBName:       getEnv("DB_NAME", "crm_chat"),
		JWTSecret:    getEnv("JWT_SECRET", "change-me"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),

		IdleTimeout:      getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		HandshakeTimeout: getEnvDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
		EditWindow:       getEnvDuration("EDIT_WINDOW", 15*time.Minute),
		TypingTTL:        getEnvDuration("TYPING_TTL", 6*time.Second),

		MaxFrameBytes:  int64(getEnvInt("MAX_FRAME_BYTES", 512*1024)),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		SendBuffer:     getEnvInt("SEND_BUFFER", 256),
		MessageBurst:   getEnvInt("MESSAGE_BURST", 20),
		MessageRate:    getEnvInt("MESSAGE_RATE", 10),
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid integer for %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		log.Printf("Invalid duration for %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// getEnvList splits a comma separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
