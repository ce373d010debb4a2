// Package config loads prismplay settings from defaults, an optional
// prismplay.yaml, PRISMPLAY_* environment variables and command line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zsiec/prismplay/certs"
	"github.com/zsiec/prismplay/transport"
)

// EnvPrefix prefixes every environment variable, e.g. PRISMPLAY_SERVER.
const EnvPrefix = "PRISMPLAY"

// Config is the complete player configuration.
type Config struct {
	Transport string `mapstructure:"transport"`
	Server    string `mapstructure:"server"`
	Channel   string `mapstructure:"channel"`
	CertHash  string `mapstructure:"cert_hash"`
	Insecure  bool   `mapstructure:"insecure"`

	AudioTimescale int     `mapstructure:"audio_timescale"`
	VideoTimescale int     `mapstructure:"video_timescale"`
	FrameRate      float64 `mapstructure:"frame_rate"`

	AudioOut        string `mapstructure:"audio_out"`
	AudioSampleRate int    `mapstructure:"audio_sample_rate"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Debug       bool   `mapstructure:"debug"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
	QueueSize      int           `mapstructure:"queue_size"`

	WebSocket struct {
		PingInterval time.Duration `mapstructure:"ping_interval"`
		PongTimeout  time.Duration `mapstructure:"pong_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"websocket"`

	QUIC struct {
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		KeepAlivePeriod time.Duration `mapstructure:"keep_alive_period"`
	} `mapstructure:"quic"`
}

// New returns a viper instance with defaults, environment binding and the
// config file search path set up. Flags are bound by the caller.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("transport", string(transport.KindRUSH))
	v.SetDefault("server", "https://localhost:4443")
	v.SetDefault("channel", "")
	v.SetDefault("cert_hash", "")
	v.SetDefault("insecure", false)
	v.SetDefault("audio_timescale", 1)
	v.SetDefault("video_timescale", 1)
	v.SetDefault("frame_rate", 30.0)
	v.SetDefault("audio_out", "")
	v.SetDefault("audio_sample_rate", 48000)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("debug", false)
	v.SetDefault("connect_timeout", transport.DefaultConnectTimeout)
	v.SetDefault("max_message_size", 4<<20)
	v.SetDefault("queue_size", transport.DefaultQueueSize)
	v.SetDefault("websocket.ping_interval", 15*time.Second)
	v.SetDefault("websocket.pong_timeout", 30*time.Second)
	v.SetDefault("websocket.write_timeout", transport.DefaultWriteTimeout)
	v.SetDefault("quic.idle_timeout", transport.DefaultIdleTimeout)
	v.SetDefault("quic.keep_alive_period", 10*time.Second)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("debug", EnvPrefix+"_DEBUG", "DEBUG")

	v.SetConfigName("prismplay")
	v.SetConfigType("yaml")
	for _, path := range []string{".", "$HOME/.config/prismplay", "/etc/prismplay"} {
		v.AddConfigPath(os.ExpandEnv(path))
	}
	return v
}

// Load reads the config file, if any, and returns the validated Config.
// A missing config file is not an error; a malformed one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if _, err := transport.ParseKind(c.Transport); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if c.Server == "" {
		return fmt.Errorf("server must not be empty")
	}
	if c.AudioTimescale < 1 || c.AudioTimescale > math.MaxUint16 {
		return fmt.Errorf("audio_timescale must be in [1, %d]", math.MaxUint16)
	}
	if c.VideoTimescale < 1 || c.VideoTimescale > math.MaxUint16 {
		return fmt.Errorf("video_timescale must be in [1, %d]", math.MaxUint16)
	}
	if c.FrameRate <= 0 || c.FrameRate > 1000 {
		return fmt.Errorf("frame_rate must be in (0, 1000]")
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("audio_sample_rate must be > 0")
	}
	if c.CertHash != "" {
		if _, err := certs.ParseFingerprint(c.CertHash); err != nil {
			return fmt.Errorf("cert_hash: %w", err)
		}
		if c.Insecure {
			return fmt.Errorf("cert_hash and insecure are mutually exclusive")
		}
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be > 0")
	}
	if c.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be >= 1024")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be > 0")
	}
	if c.WebSocket.PingInterval < 0 {
		return fmt.Errorf("websocket.ping_interval must be >= 0")
	}
	if c.WebSocket.PingInterval > 0 && c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_timeout must be > websocket.ping_interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket.write_timeout must be > 0")
	}
	if c.QUIC.IdleTimeout <= 0 {
		return fmt.Errorf("quic.idle_timeout must be > 0")
	}
	if c.QUIC.KeepAlivePeriod < 0 || c.QUIC.KeepAlivePeriod >= c.QUIC.IdleTimeout {
		return fmt.Errorf("quic.keep_alive_period must be in [0, quic.idle_timeout)")
	}
	return nil
}

// Kind returns the configured transport kind.
func (c *Config) Kind() transport.Kind {
	k, _ := transport.ParseKind(c.Transport)
	return k
}

// Address returns the channel address for the configured transport.
func (c *Config) Address() (string, error) {
	return transport.ChannelURL(c.Kind(), c.Server, c.Channel)
}

// TransportOptions builds transport options, including TLS verification
// from CertHash or Insecure.
func (c *Config) TransportOptions(log *slog.Logger) (transport.Options, error) {
	opts := transport.Options{
		Logger:          log,
		AudioTimescale:  uint16(c.AudioTimescale),
		VideoTimescale:  uint16(c.VideoTimescale),
		MaxMessageSize:  c.MaxMessageSize,
		QueueSize:       c.QueueSize,
		ConnectTimeout:  c.ConnectTimeout,
		WriteTimeout:    c.WebSocket.WriteTimeout,
		PingInterval:    c.WebSocket.PingInterval,
		PongTimeout:     c.WebSocket.PongTimeout,
		IdleTimeout:     c.QUIC.IdleTimeout,
		KeepAlivePeriod: c.QUIC.KeepAlivePeriod,
	}
	switch {
	case c.CertHash != "":
		tlsConf, err := certs.PinnedTLSConfig(c.CertHash)
		if err != nil {
			return opts, err
		}
		opts.TLSConfig = tlsConf
	case c.Insecure:
		opts.TLSConfig = certs.InsecureTLSConfig()
	}
	return opts, nil
}
