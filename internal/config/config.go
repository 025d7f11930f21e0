package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Tagger    TaggerConfig
	Upload    UploadConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	BatchesPerHour int
	UploadsPerHour int
}

type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type TaggerConfig struct {
	APIKey  string
	BaseURL string
	Timeout int // seconds
}

type UploadConfig struct {
	MaxFileSize   int64 // bytes
	MaxConcurrent int   // simultaneous uploads per batch
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("TAGGER_API_KEY")
	readSecret("STORAGE_ACCOUNT_ID")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("storage.account_id", "STORAGE_ACCOUNT_ID")
	_ = viper.BindEnv("storage.access_key_id", "STORAGE_ACCESS_KEY_ID")
	_ = viper.BindEnv("storage.secret_access_key", "STORAGE_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("storage.bucket_name", "STORAGE_BUCKET_NAME")
	_ = viper.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = viper.BindEnv("tagger.api_key", "TAGGER_API_KEY")
	_ = viper.BindEnv("tagger.base_url", "TAGGER_BASE_URL")
	_ = viper.BindEnv("tagger.timeout", "TAGGER_TIMEOUT")
	_ = viper.BindEnv("upload.max_file_size", "UPLOAD_MAX_FILE_SIZE")
	_ = viper.BindEnv("upload.max_concurrent", "UPLOAD_MAX_CONCURRENT")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.batches_per_hour", 30)
	viper.SetDefault("ratelimit.uploads_per_hour", 500)

	// Tagger defaults
	viper.SetDefault("tagger.base_url", "https://tagger.framelight.io")
	viper.SetDefault("tagger.timeout", 60)

	// Upload defaults
	viper.SetDefault("upload.max_file_size", 200*1024*1024)
	viper.SetDefault("upload.max_concurrent", 6)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			BatchesPerHour: viper.GetInt("ratelimit.batches_per_hour"),
			UploadsPerHour: viper.GetInt("ratelimit.uploads_per_hour"),
		},
		Storage: StorageConfig{
			AccountID:       viper.GetString("storage.account_id"),
			AccessKeyID:     viper.GetString("storage.access_key_id"),
			SecretAccessKey: viper.GetString("storage.secret_access_key"),
			BucketName:      viper.GetString("storage.bucket_name"),
			PublicURL:       viper.GetString("storage.public_url"),
		},
		Tagger: TaggerConfig{
			APIKey:  viper.GetString("tagger.api_key"),
			BaseURL: viper.GetString("tagger.base_url"),
			Timeout: viper.GetInt("tagger.timeout"),
		},
		Upload: UploadConfig{
			MaxFileSize:   viper.GetInt64("upload.max_file_size"),
			MaxConcurrent: viper.GetInt("upload.max_concurrent"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
