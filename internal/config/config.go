package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env string `yaml:"env"`

	HTTP struct {
		Addr string `yaml:"addr"` // ":3000", PORT env wins
	} `yaml:"http"`

	Owner struct {
		JID string `yaml:"jid"` // "254748397839@s.whatsapp.net"
	} `yaml:"owner"`

	Gateway struct {
		URL            string        `yaml:"url"`
		DialTimeout    time.Duration `yaml:"dial_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		EventBuffer    int           `yaml:"event_buffer"`
	} `yaml:"gateway"`

	Supervisor struct {
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		CredRetries    int           `yaml:"cred_retries"`
		CredBackoff    time.Duration `yaml:"cred_backoff"`
	} `yaml:"supervisor"`

	Pipeline struct {
		Autotyping      *bool         `yaml:"autotyping"` // nil = default on
		TypingInterval  time.Duration `yaml:"typing_interval"`
		MaxInflight     int64         `yaml:"max_inflight"`
		PresenceTTL     time.Duration `yaml:"presence_ttl"`
		StatusDedupeTTL time.Duration `yaml:"status_dedupe_ttl"`
		Greeting        string        `yaml:"greeting"`
	} `yaml:"pipeline"`

	Storage struct {
		Driver   string `yaml:"driver"` // json | pebble | redis | mysql
		DataDir  string `yaml:"data_dir"`
		AuthDir  string `yaml:"auth_dir"`
		MediaDir string `yaml:"media_dir"`

		Pebble struct {
			Path string `yaml:"path"`
		} `yaml:"pebble"`

		Redis struct {
			Addr     string        `yaml:"addr"`
			Password string        `yaml:"password"`
			Database int           `yaml:"database"`
			Prefix   string        `yaml:"prefix"`
			Timeout  time.Duration `yaml:"timeout"`
		} `yaml:"redis"`

		MySQL struct {
			DSN          string        `yaml:"dsn"`
			MaxOpenConns int           `yaml:"max_open_conns"`
			MaxIdleConns int           `yaml:"max_idle_conns"`
			ConnMaxLife  time.Duration `yaml:"conn_max_life"`
			ConnMaxIdle  time.Duration `yaml:"conn_max_idle"`
		} `yaml:"mysql"`
	} `yaml:"storage"`

	Outbound struct {
		Rate  float64 `yaml:"rate"` // sends per second, <=0 disables
		Burst int     `yaml:"burst"`
	} `yaml:"outbound"`

	Breaker struct {
		Threshold int           `yaml:"threshold"`
		Window    time.Duration `yaml:"window"`
		OpenFor   time.Duration `yaml:"open_for"`
	} `yaml:"breaker"`

	Audit struct {
		RocketMQ struct {
			Enabled       bool   `yaml:"enabled"`
			NameServer    string `yaml:"name_server"`
			Topic         string `yaml:"topic"`
			Tag           string `yaml:"tag,omitempty"`
			ProducerGroup string `yaml:"producer_group"`
			AccessKey     string `yaml:"access_key"`
			SecretKey     string `yaml:"secret_key"`
		} `yaml:"rocketmq"`
	} `yaml:"audit"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
}

const DefaultGreeting = "Hey! I saw your message 👋\nThis is an automated bot. No replies are sent except by owner."

// Load supports comma-separated config files: "-c common.yml,im-sentinel.yml".
// Later files override earlier ones. Environment overrides apply last.
func Load(pathList string) (*Config, error) {
	if strings.TrimSpace(pathList) == "" {
		return nil, errors.New("config path required (e.g. -c ./config.yml or -c common.yml,im-sentinel.yml)")
	}

	var c Config
	paths := strings.Split(pathList, ",")
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.HTTP.Addr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("IM_SENTINEL_OWNER")); v != "" {
		c.Owner.JID = v
	}
	if v := strings.TrimSpace(os.Getenv("IM_SENTINEL_GATEWAY")); v != "" {
		c.Gateway.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":3000"
	}
	if c.Gateway.URL == "" {
		c.Gateway.URL = "ws://127.0.0.1:8765/session"
	}
	if c.Gateway.DialTimeout == 0 {
		c.Gateway.DialTimeout = 10 * time.Second
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = 5 * time.Second
	}
	if c.Gateway.RequestTimeout == 0 {
		c.Gateway.RequestTimeout = 30 * time.Second
	}
	if c.Gateway.EventBuffer <= 0 {
		c.Gateway.EventBuffer = 256
	}
	if c.Supervisor.ReconnectDelay == 0 {
		c.Supervisor.ReconnectDelay = 2 * time.Second
	}
	if c.Supervisor.CredRetries <= 0 {
		c.Supervisor.CredRetries = 3
	}
	if c.Supervisor.CredBackoff == 0 {
		c.Supervisor.CredBackoff = 200 * time.Millisecond
	}
	if c.Pipeline.Autotyping == nil {
		on := true
		c.Pipeline.Autotyping = &on
	}
	if c.Pipeline.TypingInterval == 0 {
		c.Pipeline.TypingInterval = 1200 * time.Millisecond
	}
	if c.Pipeline.MaxInflight <= 0 {
		c.Pipeline.MaxInflight = 64
	}
	if c.Pipeline.PresenceTTL == 0 {
		c.Pipeline.PresenceTTL = 10 * time.Minute
	}
	if c.Pipeline.StatusDedupeTTL == 0 {
		c.Pipeline.StatusDedupeTTL = 24 * time.Hour
	}
	if c.Pipeline.Greeting == "" {
		c.Pipeline.Greeting = DefaultGreeting
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "json"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.AuthDir == "" {
		c.Storage.AuthDir = "./.auth"
	}
	if c.Storage.MediaDir == "" {
		c.Storage.MediaDir = "./media"
	}
	if c.Storage.Pebble.Path == "" {
		c.Storage.Pebble.Path = c.Storage.DataDir + "/pebble"
	}
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "im:sentinel:"
	}
	if c.Storage.Redis.Timeout == 0 {
		c.Storage.Redis.Timeout = 5 * time.Second
	}
	if c.Storage.MySQL.MaxOpenConns <= 0 {
		c.Storage.MySQL.MaxOpenConns = 10
	}
	if c.Storage.MySQL.MaxIdleConns <= 0 {
		c.Storage.MySQL.MaxIdleConns = 5
	}
	if c.Storage.MySQL.ConnMaxLife == 0 {
		c.Storage.MySQL.ConnMaxLife = 30 * time.Minute
	}
	if c.Storage.MySQL.ConnMaxIdle == 0 {
		c.Storage.MySQL.ConnMaxIdle = 5 * time.Minute
	}
	if c.Outbound.Burst <= 0 {
		c.Outbound.Burst = 10
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.Window == 0 {
		c.Breaker.Window = 30 * time.Second
	}
	if c.Breaker.OpenFor == 0 {
		c.Breaker.OpenFor = time.Minute
	}
	if c.Audit.RocketMQ.Topic == "" {
		c.Audit.RocketMQ.Topic = "im_sentinel_audit"
	}
	if c.Audit.RocketMQ.ProducerGroup == "" {
		c.Audit.RocketMQ.ProducerGroup = "im-sentinel"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 14
	}
}

func (c *Config) validate() error {
	if c.Owner.JID == "" {
		return errors.New("owner.jid required (or IM_SENTINEL_OWNER)")
	}
	switch c.Storage.Driver {
	case "json", "pebble":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr required for redis driver")
		}
	case "mysql":
		if c.Storage.MySQL.DSN == "" {
			return errors.New("storage.mysql.dsn required for mysql driver")
		}
	default:
		return errors.New("storage.driver must be one of json, pebble, redis, mysql")
	}
	if c.Audit.RocketMQ.Enabled && c.Audit.RocketMQ.NameServer == "" {
		return errors.New("audit.rocketmq.name_server required when enabled")
	}
	return nil
}
