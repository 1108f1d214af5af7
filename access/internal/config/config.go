package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	sharedConfig "github.com/incyashraj/ParkShare-sub000/shared/config"
)

type Config struct {
	Server     ServerConfig             `yaml:"server"`
	QUIC       QUICConfig               `yaml:"quic"`
	NATS       sharedConfig.NATSConfig  `yaml:"nats"`
	Redis      sharedConfig.RedisConfig `yaml:"redis"`
	Auth       AuthConfig               `yaml:"auth"`
	Presence   PresenceConfig           `yaml:"presence"`
	Typing     TypingConfig             `yaml:"typing"`
	WorkerPool WorkerPoolConfig         `yaml:"worker_pool"`
	Logging    LoggingConfig            `yaml:"logging"`
}

type ServerConfig struct {
	Addr                   string        `yaml:"addr"`
	HealthAddr             string        `yaml:"health_addr"`
	NodeID                 string        `yaml:"node_id"`
	MaxConnections         int           `yaml:"max_connections"`
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatCheckInterval time.Duration `yaml:"heartbeat_check_interval"`
	AllowedOrigins         []string      `yaml:"allowed_origins"`
}

type QUICConfig struct {
	MaxIdleTimeout        time.Duration `yaml:"max_idle_timeout"`
	KeepAlivePeriod       time.Duration `yaml:"keep_alive_period"`
	MaxIncomingStreams    int64         `yaml:"max_incoming_streams"`
	MaxIncomingUniStreams int64         `yaml:"max_incoming_uni_streams"`
	Allow0RTT             bool          `yaml:"allow_0rtt"`
	CertFile              string        `yaml:"cert_file"`
	KeyFile               string        `yaml:"key_file"`
	DevCertDir            string        `yaml:"dev_cert_dir"` // 未配置证书时自签名证书的保存目录，为空则只放内存
}

// AuthConfig 令牌由身份服务签发，这里只校验
type AuthConfig struct {
	TokenSecret string `yaml:"token_secret"`
	Issuer      string `yaml:"issuer"`
}

// PresenceConfig 在线状态阈值
type PresenceConfig struct {
	AwayAfter     time.Duration `yaml:"away_after"`    // 心跳中断多久转为 away
	OfflineAfter  time.Duration `yaml:"offline_after"` // 心跳中断多久转为 offline
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// TypingConfig 输入状态
type TypingConfig struct {
	ExpireTicks  int           `yaml:"expire_ticks"` // 未收到 stop 时自动清除的 tick 数
	TickInterval time.Duration `yaml:"tick_interval"`
	Workers      int           `yaml:"workers"`
}

type WorkerPoolConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	return cfg, nil
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                   ":4433",
			HealthAddr:             ":8080",
			NodeID:                 "access-1",
			MaxConnections:         10000,
			HeartbeatTimeout:       90 * time.Second,
			HeartbeatCheckInterval: 30 * time.Second,
		},
		QUIC: QUICConfig{
			MaxIdleTimeout:        90 * time.Second,
			KeepAlivePeriod:       30 * time.Second,
			MaxIncomingStreams:    100,
			MaxIncomingUniStreams: 50,
		},
		NATS: sharedConfig.NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Redis: sharedConfig.RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Auth: AuthConfig{
			Issuer: "parkshare-identity",
		},
		Presence: PresenceConfig{
			AwayAfter:     60 * time.Second,
			OfflineAfter:  5 * time.Minute,
			SweepInterval: 10 * time.Second,
		},
		Typing: TypingConfig{
			ExpireTicks:  5,
			TickInterval: time.Second,
			Workers:      4,
		},
		WorkerPool: WorkerPoolConfig{
			Workers:   64,
			QueueSize: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnv 从环境变量覆盖配置
func (c *Config) applyEnv() {
	c.Server.Addr = sharedConfig.GetEnv("ACCESS_ADDR", c.Server.Addr)
	c.Server.HealthAddr = sharedConfig.GetEnv("ACCESS_HEALTH_ADDR", c.Server.HealthAddr)
	c.Server.NodeID = sharedConfig.GetEnv("ACCESS_NODE_ID", c.Server.NodeID)
	c.QUIC.CertFile = sharedConfig.GetEnv("ACCESS_CERT_FILE", c.QUIC.CertFile)
	c.QUIC.KeyFile = sharedConfig.GetEnv("ACCESS_KEY_FILE", c.QUIC.KeyFile)
	c.QUIC.DevCertDir = sharedConfig.GetEnv("ACCESS_DEV_CERT_DIR", c.QUIC.DevCertDir)

	c.Auth.TokenSecret = sharedConfig.GetEnv("JWT_SECRET", c.Auth.TokenSecret)
	c.Auth.Issuer = sharedConfig.GetEnv("JWT_ISSUER", c.Auth.Issuer)

	c.Presence.AwayAfter = sharedConfig.GetEnvDuration("PRESENCE_AWAY_AFTER", c.Presence.AwayAfter)
	c.Presence.OfflineAfter = sharedConfig.GetEnvDuration("PRESENCE_OFFLINE_AFTER", c.Presence.OfflineAfter)

	c.Redis.ApplyEnv()
	c.NATS.ApplyEnv()

	c.Logging.Level = sharedConfig.GetEnv("LOG_LEVEL", c.Logging.Level)
}
