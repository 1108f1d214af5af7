package config

import (
	"net"
	"os"
	"strconv"
	"time"
)

// NATSConfig NATS 配置
type NATSConfig struct {
	URL           string        `yaml:"url" mapstructure:"url"`
	MaxReconnects int           `yaml:"max_reconnects" mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" mapstructure:"reconnect_wait"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	PoolSize int    `yaml:"pool_size" mapstructure:"pool_size"`
}

// GetAddr 获取 Redis 地址
func (c *RedisConfig) GetAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	if c.Host != "" && c.Port > 0 {
		return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	return "localhost:6379"
}

// ApplyEnv 用环境变量覆盖 NATS 配置
func (c *NATSConfig) ApplyEnv() {
	c.URL = GetEnv("NATS_URL", c.URL)
	c.MaxReconnects = GetEnvInt("NATS_MAX_RECONNECTS", c.MaxReconnects)
	c.ReconnectWait = GetEnvDuration("NATS_RECONNECT_WAIT", c.ReconnectWait)
}

// ApplyEnv 用环境变量覆盖 Redis 配置
func (c *RedisConfig) ApplyEnv() {
	c.Addr = GetEnv("REDIS_ADDR", c.Addr)
	c.Host = GetEnv("REDIS_HOST", c.Host)
	c.Port = GetEnvInt("REDIS_PORT", c.Port)
	c.Password = GetEnv("REDIS_PASSWORD", c.Password)
	c.DB = GetEnvInt("REDIS_DB", c.DB)
	c.PoolSize = GetEnvInt("REDIS_POOL_SIZE", c.PoolSize)
}

// GetEnv 读取字符串环境变量，未设置时返回默认值
func GetEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// GetEnvInt 读取整型环境变量，解析失败时返回默认值
func GetEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetEnvBool 读取布尔环境变量
func GetEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetEnvDuration 读取时长环境变量（如 "30s"）
func GetEnvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
