package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Relay struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
}

type Client struct {
	HubURL         string        `mapstructure:"hub_url"`
	APIURL         string        `mapstructure:"api_url"`
	DeviceDebounce time.Duration `mapstructure:"device_debounce"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max"`
	ReplayDepth    int           `mapstructure:"replay_depth"`
	DevRoot        string        `mapstructure:"dev_root"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Relay      Relay         `mapstructure:"relay"`
	Client     Client        `mapstructure:"client"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"port":      "port",
	"log-level": "log_level",
	"hub-url":   "client.hub_url",
	"api-url":   "client.api_url",
	"dev-root":  "client.dev_root",
	"debounce":  "client.device_debounce",
}

// Load reads config/config.<CONFIG_ENV>.yaml, then ROOMSYNC_* environment
// variables, then any flag of flags that was set.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "roomsync-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 4096)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("relay.send_buffer", 32)
	v.SetDefault("relay.join_limit", 20)
	v.SetDefault("relay.join_interval", "1m")
	v.SetDefault("client.hub_url", "ws://localhost:8080/notificationHub")
	v.SetDefault("client.api_url", "http://localhost:5000")
	v.SetDefault("client.device_debounce", "350ms")
	v.SetDefault("client.reconnect_max", "30s")
	v.SetDefault("client.replay_depth", 1)
	v.SetDefault("client.dev_root", "/")

	v.SetEnvPrefix("ROOMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}
