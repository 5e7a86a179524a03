package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	AppendLimit    int           `mapstructure:"append_limit"`
	AppendInterval time.Duration `mapstructure:"append_interval"`

	RelayURL string `mapstructure:"relay_url"`

	Call CallConfig `mapstructure:"call"`
}

type CallConfig struct {
	STUNServers            []string      `mapstructure:"stun_servers"`
	PermissionTimeout      time.Duration `mapstructure:"permission_timeout"`
	DeniedCloseDelay       time.Duration `mapstructure:"denied_close_delay"`
	RingTimeout            time.Duration `mapstructure:"ring_timeout"`
	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	CandidateBuffer        int           `mapstructure:"candidate_buffer"`
	ICEDisconnectedTimeout time.Duration `mapstructure:"ice_disconnected_timeout"`
	ICEFailedTimeout       time.Duration `mapstructure:"ice_failed_timeout"`
	ICEKeepalive           time.Duration `mapstructure:"ice_keepalive"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("log_level", "info")
	v.SetDefault("append_limit", 200)
	v.SetDefault("append_interval", "10s")
	v.SetDefault("relay_url", "http://127.0.0.1:8080")

	v.SetDefault("call.stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("call.permission_timeout", "30s")
	v.SetDefault("call.denied_close_delay", "3s")
	v.SetDefault("call.ring_timeout", "45s")
	v.SetDefault("call.connect_timeout", "20s")
	v.SetDefault("call.candidate_buffer", 64)
	v.SetDefault("call.ice_disconnected_timeout", "10s")
	v.SetDefault("call.ice_failed_timeout", "30s")
	v.SetDefault("call.ice_keepalive", "2s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (falling back to defaults),
// then PEERCALL_* environment variables, then any flags in fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)

	v.SetEnvPrefix("PEERCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("relay", cfg.RelayURL).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AppendLimit < 0 {
		return fmt.Errorf("append_limit must not be negative")
	}
	if c.Call.CandidateBuffer < 0 {
		return fmt.Errorf("candidate_buffer must not be negative")
	}
	if c.Call.DeniedCloseDelay <= 0 {
		return fmt.Errorf("denied_close_delay must be positive")
	}
	return nil
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
