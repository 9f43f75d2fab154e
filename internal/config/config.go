// Package config loads the capture CLI settings from the environment and an
// optional YAML file.
//
// Every key can be set through an environment variable with the CAPTURE_
// prefix (e.g., CAPTURE_TRANSPORT=tcp). CAPTURE_CONFIG names a YAML file
// with the same keys; without it, $XDG_CONFIG_HOME/stream-record/config.yaml
// is read if present. The environment takes precedence over the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	streamrecord "github.com/e7canasta/orion-care-sensor/modules/stream-record"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "CAPTURE"

// Backends
const (
	BackendGortsplib = "gortsplib"
	BackendGStreamer = "gstreamer"
)

// Defaults
const (
	DefaultURLTemplate   = "rtsp://%s/Streaming/Channels/%s"
	DefaultReadTimeout   = 10 * time.Second
	DefaultNotifySubject = "capture.events"
)

// Settings are the tunables that are not part of the positional arguments
type Settings struct {
	// URLTemplate formats the source URL from host and channel
	URLTemplate string `mapstructure:"url_template"`
	// Transport is "udp" or "tcp"
	Transport string `mapstructure:"transport"`
	// Backend selects the streaming client implementation
	Backend string `mapstructure:"backend"`
	// ReadTimeout bounds RTSP reads (gortsplib backend)
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// Codec selects the depayloader (gstreamer backend)
	Codec string `mapstructure:"codec"`
	// Latency is the rtspsrc jitter buffer in milliseconds (gstreamer backend)
	Latency int `mapstructure:"latency_ms"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// NotifyURL enables lifecycle notifications when non-empty
	// (nats://... or mqtt://...)
	NotifyURL      string `mapstructure:"notify_url"`
	NotifySubject  string `mapstructure:"notify_subject"`
	NotifyEncoding string `mapstructure:"notify_encoding"`
}

// Load reads settings from the environment and from CAPTURE_CONFIG, or the
// default config file when that exists. The result is validated.
func Load() (Settings, error) {
	v := viper.New()

	v.SetDefault("url_template", DefaultURLTemplate)
	v.SetDefault("transport", "udp")
	v.SetDefault("backend", BackendGortsplib)
	v.SetDefault("read_timeout", DefaultReadTimeout)
	v.SetDefault("codec", "H264")
	v.SetDefault("latency_ms", 200)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("notify_url", "")
	v.SetDefault("notify_subject", DefaultNotifySubject)
	v.SetDefault("notify_encoding", "json")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("config"); err != nil {
		return Settings{}, errors.Wrap(err, "config: bind CAPTURE_CONFIG")
	}

	path := v.GetString("config")
	if path == "" {
		if def := DefaultConfigFile(); fileExists(def) {
			path = def
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "config: decode settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// DefaultConfigFile is the settings file read when CAPTURE_CONFIG is unset
func DefaultConfigFile() string {
	return filepath.Join(xdg.ConfigHome, "stream-record", "config.yaml")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate checks the settings (fail-fast)
func (s Settings) Validate() error {
	if _, err := s.ParsedTransport(); err != nil {
		return errors.Wrap(err, "config")
	}
	switch s.Backend {
	case BackendGortsplib, BackendGStreamer:
	default:
		return errors.Errorf("config: unknown backend %q (must be %s or %s)", s.Backend, BackendGortsplib, BackendGStreamer)
	}
	if s.ReadTimeout <= 0 {
		return errors.Errorf("config: read_timeout must be positive, got %s", s.ReadTimeout)
	}
	if _, err := s.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		return errors.Errorf("config: unknown log_format %q (must be text or json)", s.LogFormat)
	}
	switch strings.ToLower(s.NotifyEncoding) {
	case "json", "msgpack":
	default:
		return errors.Errorf("config: unknown notify_encoding %q (must be json or msgpack)", s.NotifyEncoding)
	}
	if _, err := s.SourceURL("host", "1"); err != nil {
		return err
	}
	return nil
}

// ParsedTransport returns the configured transport mode
func (s Settings) ParsedTransport() (streamrecord.Transport, error) {
	return streamrecord.ParseTransport(s.Transport)
}

// SlogLevel maps LogLevel to a slog level
func (s Settings) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo, errors.Errorf("config: unknown log_level %q", s.LogLevel)
	}
	return level, nil
}

// SourceURL formats the stream URL for a camera host and channel
func (s Settings) SourceURL(host, channel string) (string, error) {
	if strings.Count(s.URLTemplate, "%s") != 2 {
		return "", errors.Errorf("config: url_template %q must contain exactly two %%s verbs (host, channel)", s.URLTemplate)
	}
	return fmt.Sprintf(s.URLTemplate, host, channel), nil
}
