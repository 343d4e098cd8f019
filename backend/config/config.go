package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
		// debug / release
		GinMode         string        `mapstructure:"gin_mode"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"running"`
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
	Storage struct {
		// memory / mysql
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		// 为空时不启用 Redis 在线状态镜像；多个地址视为集群
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		// 为空时不发事件
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
		Workers int      `mapstructure:"workers"`
	} `mapstructure:"kafka"`
	Auth struct {
		// jwt：本地校验；remote：调用鉴权服务 /v1/auth/verify
		Mode      string `mapstructure:"mode"`
		JWTSecret string `mapstructure:"jwt_secret"`
		Path      string `mapstructure:"path"`
	} `mapstructure:"auth"`
	Collab struct {
		IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
		WriteTimeout     time.Duration `mapstructure:"write_timeout"`
		SendQueueSize    int           `mapstructure:"send_queue_size"`
		MaxMessageSize   int64         `mapstructure:"max_message_size"`
		AutoSaveInterval time.Duration `mapstructure:"autosave_interval"`
		ChangeLogCap     int           `mapstructure:"change_log_cap"`
		TypingWindow     time.Duration `mapstructure:"typing_window"`
		DraftRetention   int           `mapstructure:"draft_retention"`
		PresenceTTL      time.Duration `mapstructure:"presence_ttl"`
		MaxConcurrentOps int           `mapstructure:"max_concurrent_ops"`
		EntitledDocTypes []string      `mapstructure:"entitled_doc_types"`
		AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"collab"`
	Cors struct {
		Origins []string `mapstructure:"origins"`
	} `mapstructure:"cors"`
}

const envPrefix = "COLLAB"

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8080)
	v.SetDefault("running.gin_mode", "release")
	v.SetDefault("running.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("kafka.topic", "doc-events")
	v.SetDefault("kafka.workers", 4)
	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("collab.idle_timeout", 90*time.Second)
	v.SetDefault("collab.write_timeout", 10*time.Second)
	v.SetDefault("collab.send_queue_size", 256)
	v.SetDefault("collab.max_message_size", 1<<20)
	v.SetDefault("collab.autosave_interval", 30*time.Second)
	v.SetDefault("collab.change_log_cap", 1024)
	v.SetDefault("collab.typing_window", 5*time.Second)
	v.SetDefault("collab.presence_ttl", 2*time.Minute)
	v.SetDefault("collab.max_concurrent_ops", 100)

	v.SetDefault("log.development", false)
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.path", "")
	v.SetDefault("collab.draft_retention", 0)
	for _, key := range []string{
		"redis.addrs", "kafka.brokers", "collab.entitled_doc_types", "collab.allowed_origins", "cors.origins",
	} {
		v.SetDefault(key, []string{})
	}
}

// Load 读取 collabConfig.yaml（可选），再用 COLLAB_ 前缀的环境变量覆盖，例如 COLLAB_MYSQL_DSN
func Load(paths ...string) (*Config, error) {
	// 本地开发时加载 .env
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		// 兼容从项目根目录或 backend 目录启动
		paths = []string{"./backend/config", "./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// AutomaticEnv 只覆盖 viper 已知的 key，这里显式绑定每个 key
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	// 逗号分隔的环境变量覆盖列表项
	cfg.Redis.Addrs = splitList(cfg.Redis.Addrs)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Collab.EntitledDocTypes = splitList(cfg.Collab.EntitledDocTypes)
	cfg.Collab.AllowedOrigins = splitList(cfg.Collab.AllowedOrigins)
	cfg.Cors.Origins = splitList(cfg.Cors.Origins)
	return cfg, cfg.Validate()
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.Mysql.DSN == "" {
			return errors.New("storage.driver=mysql requires mysql.dsn")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.mode=jwt requires auth.jwt_secret")
		}
	case "remote":
		if c.Auth.Path == "" {
			return errors.New("auth.mode=remote requires auth.path")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}
	if c.Running.Port <= 0 {
		return fmt.Errorf("invalid running.port %d", c.Running.Port)
	}
	return nil
}

// String 打日志用，密钥和口令打码
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "port=%d storage=%s auth=%s", c.Running.Port, c.Storage.Driver, c.Auth.Mode)
	fmt.Fprintf(&sb, " redis=%v kafka=%v topic=%s", c.Redis.Addrs, c.Kafka.Brokers, c.Kafka.Topic)
	fmt.Fprintf(&sb, " idle=%s autosave=%s", c.Collab.IdleTimeout, c.Collab.AutoSaveInterval)
	if c.Mysql.DSN != "" {
		sb.WriteString(" mysql=********")
	}
	if c.Auth.JWTSecret != "" {
		sb.WriteString(" jwt_secret=********")
	}
	return sb.String()
}
