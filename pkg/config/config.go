package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"SafeCircle/pkg/backup"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/storage"
	"SafeCircle/pkg/util"
)

// config/config.go
type Config struct {
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	APIPrefix string `env:"API_PREFIX"`
	DBDriver  string `env:"DB_DRIVER"`
	DSN       string `env:"DSN"`
	Log       logger.LogConfig

	JWTSecret       string        `env:"JWT_SECRET"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL"`
	RememberMeTTL   time.Duration `env:"REMEMBER_ME_TTL"`

	MaxLoginAttempts int           `env:"MAX_LOGIN_ATTEMPTS"`
	LockDuration     time.Duration `env:"LOCK_DURATION"`

	EscalationSchedule string        `env:"ESCALATION_SCHEDULE"`
	OverdueInterval    time.Duration `env:"OVERDUE_SCHEDULE"`

	// 为空时不做定时备份
	BackupSchedule string `env:"BACKUP_SCHEDULE"`
	BackupPath     string `env:"BACKUP_PATH"`
	BackupKeep     int    `env:"BACKUP_KEEP"`

	// MINIO_ENDPOINT 为空时只保留本地快照
	MinioEndpoint  string `env:"MINIO_ENDPOINT"`
	MinioAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `env:"MINIO_SECRET_KEY"`
	MinioBucket    string `env:"MINIO_BUCKET"`
	MinioUseSSL    bool   `env:"MINIO_USE_SSL"`

	CacheType     string `env:"CACHE_TYPE"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`

	RateLimitAuth string `env:"RATE_LIMIT_AUTH"`

	FCMProjectID       string `env:"FCM_PROJECT_ID"`
	FCMCredentialsFile string `env:"FCM_CREDENTIALS_FILE"`
	PushLanguage       string `env:"PUSH_LANGUAGE"`

	WSHeartbeatInterval time.Duration `env:"WEBSOCKET_HEARTBEAT_INTERVAL"`
	WSConnectionTimeout time.Duration `env:"WEBSOCKET_CONNECTION_TIMEOUT"`
	WSMaxConnections    int           `env:"WEBSOCKET_MAX_CONNECTIONS"`
	WSMessageRate       float64       `env:"WEBSOCKET_MESSAGE_RATE"`
	WSEnableCluster     bool          `env:"WEBSOCKET_ENABLE_CLUSTER"`
	WSClusterChannel    string        `env:"WEBSOCKET_CLUSTER_CHANNEL"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("ADDR", ":8080")
	v.SetDefault("MODE", "development")
	v.SetDefault("API_PREFIX", "/api")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DSN", "safecircle.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE", 100)
	v.SetDefault("LOG_MAX_AGE", 7)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")
	v.SetDefault("REMEMBER_ME_TTL", "720h")
	v.SetDefault("MAX_LOGIN_ATTEMPTS", 5)
	v.SetDefault("LOCK_DURATION", "2h")
	v.SetDefault("ESCALATION_SCHEDULE", "@every 60s")
	v.SetDefault("OVERDUE_SCHEDULE", "60s")
	v.SetDefault("BACKUP_PATH", "backups")
	v.SetDefault("BACKUP_KEEP", 7)
	v.SetDefault("MINIO_BUCKET", "safecircle-backups")
	v.SetDefault("CACHE_TYPE", "local")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_AUTH", "20-M")
	v.SetDefault("PUSH_LANGUAGE", "en")
	v.SetDefault("WEBSOCKET_HEARTBEAT_INTERVAL", "30s")
	v.SetDefault("WEBSOCKET_CONNECTION_TIMEOUT", "60s")
	v.SetDefault("WEBSOCKET_MAX_CONNECTIONS", 10000)
	v.SetDefault("WEBSOCKET_MESSAGE_RATE", 20)
	v.SetDefault("WEBSOCKET_ENABLE_CLUSTER", false)
	v.SetDefault("WEBSOCKET_CLUSTER_CHANNEL", "safecircle:ws")
}

func Load() error {
	// 1. 根据环境加载 .env 文件
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // 默认使用开发环境
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}

	// 2. 环境变量优先，缺省值兜底
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	GlobalConfig = FromViper(v)
	return nil
}

// FromViper 从已配置的 viper 实例读取
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Addr:      v.GetString("ADDR"),
		Mode:      v.GetString("MODE"),
		APIPrefix: v.GetString("API_PREFIX"),
		DBDriver:  v.GetString("DB_DRIVER"),
		DSN:       v.GetString("DSN"),
		Log: logger.LogConfig{
			Level:      v.GetString("LOG_LEVEL"),
			Filename:   v.GetString("LOG_FILENAME"),
			MaxSize:    v.GetInt("LOG_MAX_SIZE"),
			MaxAge:     v.GetInt("LOG_MAX_AGE"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
		},
		JWTSecret:           v.GetString("JWT_SECRET"),
		AccessTokenTTL:      v.GetDuration("ACCESS_TOKEN_TTL"),
		RefreshTokenTTL:     v.GetDuration("REFRESH_TOKEN_TTL"),
		RememberMeTTL:       v.GetDuration("REMEMBER_ME_TTL"),
		MaxLoginAttempts:    v.GetInt("MAX_LOGIN_ATTEMPTS"),
		LockDuration:        v.GetDuration("LOCK_DURATION"),
		EscalationSchedule:  v.GetString("ESCALATION_SCHEDULE"),
		OverdueInterval:     v.GetDuration("OVERDUE_SCHEDULE"),
		BackupSchedule:      v.GetString("BACKUP_SCHEDULE"),
		BackupPath:          v.GetString("BACKUP_PATH"),
		BackupKeep:          v.GetInt("BACKUP_KEEP"),
		MinioEndpoint:       v.GetString("MINIO_ENDPOINT"),
		MinioAccessKey:      v.GetString("MINIO_ACCESS_KEY"),
		MinioSecretKey:      v.GetString("MINIO_SECRET_KEY"),
		MinioBucket:         v.GetString("MINIO_BUCKET"),
		MinioUseSSL:         v.GetBool("MINIO_USE_SSL"),
		CacheType:           v.GetString("CACHE_TYPE"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		RedisPassword:       v.GetString("REDIS_PASSWORD"),
		RedisDB:             v.GetInt("REDIS_DB"),
		RateLimitAuth:       v.GetString("RATE_LIMIT_AUTH"),
		FCMProjectID:        v.GetString("FCM_PROJECT_ID"),
		FCMCredentialsFile:  v.GetString("FCM_CREDENTIALS_FILE"),
		PushLanguage:        v.GetString("PUSH_LANGUAGE"),
		WSHeartbeatInterval: v.GetDuration("WEBSOCKET_HEARTBEAT_INTERVAL"),
		WSConnectionTimeout: v.GetDuration("WEBSOCKET_CONNECTION_TIMEOUT"),
		WSMaxConnections:    v.GetInt("WEBSOCKET_MAX_CONNECTIONS"),
		WSMessageRate:       v.GetFloat64("WEBSOCKET_MESSAGE_RATE"),
		WSEnableCluster:     v.GetBool("WEBSOCKET_ENABLE_CLUSTER"),
		WSClusterChannel:    v.GetString("WEBSOCKET_CLUSTER_CHANNEL"),
	}
}

// BackupRemote 按配置创建异地备份存储，未配置时返回 nil
func (c *Config) BackupRemote() (storage.Store, error) {
	if c.MinioEndpoint == "" {
		return nil, nil
	}
	s, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  c.MinioEndpoint,
		AccessKey: c.MinioAccessKey,
		SecretKey: c.MinioSecretKey,
		Bucket:    c.MinioBucket,
		UseSSL:    c.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// BackupConfig 汇总本地与异地备份参数
func (c *Config) BackupConfig() (backup.Config, error) {
	remote, err := c.BackupRemote()
	if err != nil {
		return backup.Config{}, err
	}
	return backup.Config{
		Driver:       c.DBDriver,
		Dir:          c.BackupPath,
		Keep:         c.BackupKeep,
		Remote:       remote,
		RemotePrefix: "backups/",
	}, nil
}
