package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	ServiceName    = "market-stream"
	ServiceVersion = ""
)

var (
	Env *EnvConfig
)

type EnvConfig struct {
	Env                     string                    `mapstructure:"env"`
	Log                     LogConfig                 `mapstructure:"log"`
	GracefulShutdownTimeout time.Duration             `mapstructure:"graceful_shutdown_timeout"`
	Port                    map[string]string         `mapstructure:"port"`
	Auth                    AuthConfig                `mapstructure:"auth"`
	Session                 SessionConfig             `mapstructure:"session"`
	Broadcast               BroadcastConfig           `mapstructure:"broadcast"`
	Feed                    FeedConfig                `mapstructure:"feed"`
	Database                map[string]DatabaseConfig `mapstructure:"database"`
	NatsJetstream           NatsJetstreamConfig       `mapstructure:"nats_jetstream"`
}

type LogConfig struct {
	ShowCaller bool   `mapstructure:"show_caller"`
	LogLevel   string `mapstructure:"log_level"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Leeway    time.Duration `mapstructure:"leeway"`
}

type SessionConfig struct {
	MaxConnections    int           `mapstructure:"max_connections"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
}

type BroadcastConfig struct {
	EmitInterval         time.Duration `mapstructure:"emit_interval"`
	ChannelCapacity      int           `mapstructure:"channel_capacity"`
	AdminChannelCapacity int           `mapstructure:"admin_channel_capacity"`
	OutboundBuffer       int           `mapstructure:"outbound_buffer"`
	AutoStart            bool          `mapstructure:"auto_start"`
}

// FeedConfig selects where the broadcast controller reads symbol feeds from.
// Source is either "csv" or "postgres".
type FeedConfig struct {
	Source       string `mapstructure:"source"`
	DataDir      string `mapstructure:"data_dir"`
	FallbackFile string `mapstructure:"fallback_file"`
	Exchange     string `mapstructure:"exchange"`
	Interval     string `mapstructure:"interval"`
	MaxRecords   uint64 `mapstructure:"max_records"`
}

type NatsJetstreamConfig struct {
	URL             string                   `mapstructure:"url"`
	MaxRetries      int                      `mapstructure:"max_retries"`
	ReconnectFactor float64                  `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration            `mapstructure:"min_jitter"`
	MaxJitter       time.Duration            `mapstructure:"max_jitter"`
	TimeoutHandler  map[string]time.Duration `mapstructure:"timeout_handler"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	ReconnectFactor float64       `mapstructure:"reconnect_factor"`
	MinJitter       time.Duration `mapstructure:"min_jitter"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	MaxRetry        int           `mapstructure:"max_retry"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxActiveConns  int           `mapstructure:"max_active_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("log.log_level", "info")
	viper.SetDefault("graceful_shutdown_timeout", 10*time.Second)
	viper.SetDefault("port.stream_gateway", "8080")

	viper.SetDefault("auth.leeway", time.Duration(0))

	viper.SetDefault("session.max_connections", 1000)
	viper.SetDefault("session.heartbeat_interval", 30*time.Second)
	viper.SetDefault("session.sweep_interval", 60*time.Second)
	viper.SetDefault("session.session_timeout", 300*time.Second)

	viper.SetDefault("broadcast.emit_interval", 1*time.Second)
	viper.SetDefault("broadcast.channel_capacity", 100)
	viper.SetDefault("broadcast.admin_channel_capacity", 100)
	viper.SetDefault("broadcast.outbound_buffer", 100)
	viper.SetDefault("broadcast.auto_start", false)

	viper.SetDefault("feed.source", "csv")
	viper.SetDefault("feed.data_dir", "./data")
	viper.SetDefault("feed.fallback_file", "./data/NIFTY.csv")
	viper.SetDefault("feed.exchange", "csv")
	viper.SetDefault("feed.interval", "1d")
	viper.SetDefault("feed.max_records", 5000)

	viper.SetDefault("nats_jetstream.max_retries", 10)
}

func LoadConfig(configPath string) error {
	viper.Reset()
	setDefaults()

	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yml")
		viper.AddConfigPath(".")
	} else {
		ext := strings.ToLower(filepath.Ext(configPath))
		if ext == ".yml" || ext == ".yaml" {
			viper.SetConfigFile(configPath)
		} else {
			viper.SetConfigName(filepath.Base(configPath))
			viper.SetConfigType("yml")
			configDir := filepath.Dir(configPath)
			if configDir == "." || configDir == "" {
				viper.AddConfigPath(".")
			} else {
				viper.AddConfigPath(configDir)
			}
		}
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	err = viper.Unmarshal(&Env)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return nil
}
