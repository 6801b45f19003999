package config

import (
	"fmt"
	"time"
)

// Config represents the global configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Push     PushConfig     `mapstructure:"push"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// RedisConfig represents the settings-store Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaTopics names the consumed and produced topics
type KafkaTopics struct {
	NewAuction    string `mapstructure:"new_auction"`
	NewBid        string `mapstructure:"new_bid"`
	AuctionEnded  string `mapstructure:"auction_ended"`
	SoldAuction   string `mapstructure:"sold_auction"`
	PriceQuote    string `mapstructure:"price_quote"`
	Notifications string `mapstructure:"notifications"`
}

// KafkaConfig represents broker configuration
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	MaxBatch     int           `mapstructure:"max_batch"`
	BatchWait    time.Duration `mapstructure:"batch_wait"`
	Topics       KafkaTopics   `mapstructure:"topics"`
}

// PushConfig represents the push transport (FCM) configuration
type PushConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Key          string        `mapstructure:"key"`
	SenderID     string        `mapstructure:"sender_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
	BaseURL      string        `mapstructure:"base_url"`
	ItemIconsURL string        `mapstructure:"item_icons_url"`
}

// NotifyConfig represents dispatcher configuration
type NotifyConfig struct {
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	QueueSize   int           `mapstructure:"queue_size"`
	Workers     int           `mapstructure:"workers"`
	SendRate    float64       `mapstructure:"send_rate"` // pushes per second
	SendBurst   int           `mapstructure:"send_burst"`
}

// AuthConfig represents API token configuration
type AuthConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	Expire    time.Duration `mapstructure:"expire"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// SetDefaults fills in defaults for unset values
func (c *Config) SetDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "skywatch-engine"
	}
	if c.Kafka.MaxBatch == 0 {
		c.Kafka.MaxBatch = 100
	}
	if c.Kafka.BatchWait == 0 {
		c.Kafka.BatchWait = 500 * time.Millisecond
	}
	if c.Kafka.Topics.NewAuction == "" {
		c.Kafka.Topics.NewAuction = "sky.newauction"
	}
	if c.Kafka.Topics.NewBid == "" {
		c.Kafka.Topics.NewBid = "sky.newbid"
	}
	if c.Kafka.Topics.AuctionEnded == "" {
		c.Kafka.Topics.AuctionEnded = "sky.auctionended"
	}
	if c.Kafka.Topics.SoldAuction == "" {
		c.Kafka.Topics.SoldAuction = "sky.soldauction"
	}
	if c.Kafka.Topics.PriceQuote == "" {
		c.Kafka.Topics.PriceQuote = "sky.pricequote"
	}
	if c.Kafka.Topics.Notifications == "" {
		c.Kafka.Topics.Notifications = "sky.notifications"
	}
	if c.Push.Endpoint == "" {
		c.Push.Endpoint = "https://fcm.googleapis.com/fcm/send"
	}
	if c.Push.Timeout == 0 {
		c.Push.Timeout = 10 * time.Second
	}
	if c.Push.BaseURL == "" {
		c.Push.BaseURL = "https://sky.coflnet.com"
	}
	if c.Push.ItemIconsURL == "" {
		c.Push.ItemIconsURL = "https://sky.shiiyu.moe/item"
	}
	if c.Notify.DedupWindow == 0 {
		c.Notify.DedupWindow = 30 * time.Minute
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 1000
	}
	if c.Notify.Workers == 0 {
		c.Notify.Workers = 8
	}
	if c.Notify.SendRate == 0 {
		c.Notify.SendRate = 50
	}
	if c.Notify.SendBurst == 0 {
		c.Notify.SendBurst = 100
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "skywatch"
	}
	if c.Auth.Expire == 0 {
		c.Auth.Expire = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "skywatch"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 0.1
	}
}

// Validate checks the configuration for fatal inconsistencies
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify queue size must be positive")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth enabled but no jwt secret configured")
	}
	return nil
}
