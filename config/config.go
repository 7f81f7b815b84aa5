package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"videoflix/core/hls"
	"videoflix/logger"

	"github.com/joho/godotenv"
)

// DefaultRenditions is the tier table used when HLS_RENDITIONS is not set.
const DefaultRenditions = "480p:854x480:800k,720p:1280x720:2800k,1080p:1920x1080:5000k"

// Config stores the application configuration.
type Config struct {
	ServerAddr    string
	PublicBaseURL string // used for absolute thumbnail URLs; derived from the request when empty

	MediaRoot        string // all served artifacts live below this directory
	FFmpegPath       string
	HLSSegmentTime   int // seconds
	Renditions       []hls.RenditionSpec
	EncodeTimeout    time.Duration
	JobTimeout       time.Duration
	TrailerStart     int // seconds
	TrailerDuration  int // seconds
	ThumbnailAt      int // seconds
	DefaultThumbnail string
	WorkerCount      int
	QueueSize        int
	MaxUploadBytes   int64

	DBDriver   string // mysql or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string // sqlite file

	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEnabled   bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	JWTSecret string
	JWTTTL    time.Duration

	Log logger.Config
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Invalid integer for %s: %q, using %d", key, value, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		log.Printf("Invalid boolean for %s: %q, using %t", key, value, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Invalid duration for %s: %q, using %s", key, value, fallback)
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
// The rendition table is parsed and validated here so a bad bitrate never
// reaches the playlist writer.
func Load() (*Config, error) {
	// godotenv.Load does not override variables that are already set.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	renditions, err := hls.ParseRenditions(getEnv("HLS_RENDITIONS", DefaultRenditions))
	if err != nil {
		return nil, fmt.Errorf("HLS_RENDITIONS: %w", err)
	}

	cfg := &Config{
		ServerAddr:    getEnv("SERVER_ADDR", ":8080"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		MediaRoot:        getEnv("MEDIA_ROOT", "media"),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		HLSSegmentTime:   getEnvInt("HLS_SEGMENT_TIME", 4),
		Renditions:       renditions,
		EncodeTimeout:    getEnvDuration("ENCODE_TIMEOUT", 30*time.Minute),
		JobTimeout:       getEnvDuration("JOB_TIMEOUT", 2*time.Hour),
		TrailerStart:     getEnvInt("TRAILER_START", 5),
		TrailerDuration:  getEnvInt("TRAILER_DURATION", 5),
		ThumbnailAt:      getEnvInt("THUMBNAIL_AT", 1),
		DefaultThumbnail: getEnv("DEFAULT_THUMBNAIL", filepath.Join("static", "video", "thumbnail.jpg")),
		WorkerCount:      getEnvInt("WORKER_COUNT", 2),
		QueueSize:        getEnvInt("QUEUE_SIZE", 64),
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_MB", 2048)) << 20,

		DBDriver:   getEnv("DB_DRIVER", "mysql"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "videoflix"),
		DBPath:     getEnv("DB_PATH", "videoflix.db"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEnabled:   getEnvBool("MINIO_ENABLED", false),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "videoflix"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    getEnvDuration("JWT_TTL", 24*time.Hour),

		Log: logger.Config{
			Level:      logger.LogLevel(getEnv("LOG_LEVEL", "info")),
			OutputPath: getEnv("LOG_FILE", ""),
			MaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvInt("LOG_MAX_AGE", 30),
			Compress:   getEnvBool("LOG_COMPRESS", true),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HLSSegmentTime <= 0 {
		return fmt.Errorf("HLS_SEGMENT_TIME must be positive, got %d", c.HLSSegmentTime)
	}
	if c.EncodeTimeout <= 0 {
		return fmt.Errorf("ENCODE_TIMEOUT must be positive, got %s", c.EncodeTimeout)
	}
	if c.TrailerStart < 0 || c.TrailerDuration <= 0 {
		return fmt.Errorf("invalid trailer window start=%d duration=%d", c.TrailerStart, c.TrailerDuration)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	if c.ThumbnailAt < 0 {
		return fmt.Errorf("THUMBNAIL_AT must not be negative, got %d", c.ThumbnailAt)
	}
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

// RequireJWTSecret is checked by commands that serve authenticated requests.
func (c *Config) RequireJWTSecret() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be set to at least 16 characters")
	}
	return nil
}

// Transcode returns the encoder-facing subset of the configuration.
func (c *Config) Transcode() hls.Settings {
	return hls.Settings{
		SegmentTime:      c.HLSSegmentTime,
		TrailerStart:     c.TrailerStart,
		TrailerDuration:  c.TrailerDuration,
		ThumbnailAt:      c.ThumbnailAt,
		DefaultThumbnail: c.DefaultThumbnail,
	}
}
