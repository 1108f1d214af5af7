package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	sharedConfig "github.com/incyashraj/ParkShare-sub000/shared/config"
)

type Config struct {
	App        AppConfig                `mapstructure:"app"`
	JWT        JWTConfig                `mapstructure:"jwt"`
	Database   DatabaseConfig           `mapstructure:"database"`
	Redis      sharedConfig.RedisConfig `mapstructure:"redis"`
	NATS       sharedConfig.NATSConfig  `mapstructure:"nats"`
	CORS       CORSConfig               `mapstructure:"cors"`
	Storage    StorageConfig            `mapstructure:"storage"`
	Subscriber SubscriberConfig         `mapstructure:"subscriber"`
	Logging    LoggingConfig            `mapstructure:"logging"`
}

type AppConfig struct {
	Name   string `mapstructure:"name"`
	Port   int    `mapstructure:"port"`
	Mode   string `mapstructure:"mode"`
	NodeID int64  `mapstructure:"node_id"` // 雪花ID节点号
}

type JWTConfig struct {
	SecretKey    string        `mapstructure:"secret_key"`
	Issuer       string        `mapstructure:"issuer"`
	AccessExpire time.Duration `mapstructure:"access_expire"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN 构建 PostgreSQL 连接串
func (c DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, sslMode)
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// StorageConfig 附件对象存储（S3 兼容）
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	MaxUploadSize   int64  `mapstructure:"max_upload_size"`
}

// SubscriberConfig 上行消息消费配置
type SubscriberConfig struct {
	WorkerCount int `mapstructure:"worker_count"`
	BufferSize  int `mapstructure:"buffer_size"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load 加载配置文件并应用环境变量覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "parkshare-web")
	v.SetDefault("app.port", 8081)
	v.SetDefault("app.mode", "release")
	v.SetDefault("app.node_id", 1)
	v.SetDefault("jwt.issuer", "parkshare-identity")
	v.SetDefault("jwt.access_expire", "2h")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("storage.bucket", "parkshare-attachments")
	v.SetDefault("storage.max_upload_size", 10<<20)
	v.SetDefault("subscriber.worker_count", 16)
	v.SetDefault("subscriber.buffer_size", 4096)
	v.SetDefault("logging.level", "info")
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	// App
	c.App.Port = sharedConfig.GetEnvInt("WEB_PORT", c.App.Port)
	c.App.Mode = sharedConfig.GetEnv("WEB_MODE", c.App.Mode)

	// JWT
	c.JWT.SecretKey = sharedConfig.GetEnv("JWT_SECRET", c.JWT.SecretKey)
	c.JWT.Issuer = sharedConfig.GetEnv("JWT_ISSUER", c.JWT.Issuer)
	c.JWT.AccessExpire = sharedConfig.GetEnvDuration("JWT_ACCESS_EXPIRE", c.JWT.AccessExpire)

	// Database
	c.Database.Host = sharedConfig.GetEnv("POSTGRES_HOST", c.Database.Host)
	c.Database.Port = sharedConfig.GetEnvInt("POSTGRES_PORT", c.Database.Port)
	c.Database.User = sharedConfig.GetEnv("POSTGRES_USER", c.Database.User)
	c.Database.Password = sharedConfig.GetEnv("POSTGRES_PASSWORD", c.Database.Password)
	c.Database.Name = sharedConfig.GetEnv("POSTGRES_DB", c.Database.Name)
	c.Database.MaxOpenConns = sharedConfig.GetEnvInt("POSTGRES_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = sharedConfig.GetEnvInt("POSTGRES_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.AutoMigrate = sharedConfig.GetEnvBool("POSTGRES_AUTO_MIGRATE", c.Database.AutoMigrate)

	// Redis / NATS
	c.Redis.ApplyEnv()
	c.NATS.ApplyEnv()

	// Storage
	c.Storage.Endpoint = sharedConfig.GetEnv("STORAGE_ENDPOINT", c.Storage.Endpoint)
	c.Storage.AccessKeyID = sharedConfig.GetEnv("STORAGE_ACCESS_KEY_ID", c.Storage.AccessKeyID)
	c.Storage.SecretAccessKey = sharedConfig.GetEnv("STORAGE_SECRET_ACCESS_KEY", c.Storage.SecretAccessKey)
	c.Storage.Bucket = sharedConfig.GetEnv("STORAGE_BUCKET", c.Storage.Bucket)

	c.Logging.Level = sharedConfig.GetEnv("LOG_LEVEL", c.Logging.Level)
}
