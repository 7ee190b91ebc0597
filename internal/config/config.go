// Package config loads mediarec settings from ~/.mediarec/config.yaml and
// MEDIAREC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/schovi/mediarec/internal/capture"
	"github.com/schovi/mediarec/internal/daemon"
	"github.com/schovi/mediarec/internal/host/ffmpeg"
	"github.com/schovi/mediarec/internal/logging"
)

const (
	EnvPrefix = "MEDIAREC"
	FileName  = "config.yaml"

	SpoolMemory = "memory"
	SpoolFile   = "file"
)

type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	FFmpeg  FFmpegConfig  `mapstructure:"ffmpeg"`
	Daemon  DaemonConfig  `mapstructure:"daemon"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CaptureConfig controls recording sessions.
type CaptureConfig struct {
	// TimesliceMs is how often the recorder delivers a fragment.
	TimesliceMs int `mapstructure:"timeslice_ms"`
	// OnDisconnect is "salvage" or "discard".
	OnDisconnect string `mapstructure:"on_disconnect"`
	// Spool is "memory" or "file". File spooling keeps long video captures
	// out of the daemon's memory.
	Spool          string `mapstructure:"spool"`
	StopTimeoutSec int    `mapstructure:"stop_timeout_sec"`
}

type FFmpegConfig struct {
	Path            string       `mapstructure:"path"`
	AudioInput      ffmpeg.Input `mapstructure:"audio_input"`
	VideoInput      ffmpeg.Input `mapstructure:"video_input"`
	ProbeTimeoutSec int          `mapstructure:"probe_timeout_sec"`
}

type DaemonConfig struct {
	// HTTPAddr enables the HTTP control surface when set, e.g. "127.0.0.1:7480".
	HTTPAddr       string        `mapstructure:"http_addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SlotTTL        time.Duration `mapstructure:"slot_ttl"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Dir defaults to the mediarec home directory.
	Dir string `mapstructure:"dir"`
}

func (c *CaptureConfig) Timeslice() time.Duration {
	return time.Duration(c.TimesliceMs) * time.Millisecond
}

func (c *CaptureConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSec) * time.Second
}

func (c *CaptureConfig) DisconnectPolicy() capture.DisconnectPolicy {
	return capture.DisconnectPolicy(c.OnDisconnect)
}

func (c *FFmpegConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// LogDir returns the configured log directory or the mediarec home.
func (c *LoggingConfig) LogDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return Dir()
}

func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			TimesliceMs:    int(capture.DefaultTimeslice / time.Millisecond),
			OnDisconnect:   string(capture.DisconnectSalvage),
			Spool:          SpoolMemory,
			StopTimeoutSec: 10,
		},
		FFmpeg: FFmpegConfig{
			Path:            ffmpeg.DefaultPath,
			AudioInput:      ffmpeg.DefaultAudioInput(),
			VideoInput:      ffmpeg.DefaultVideoInput(),
			ProbeTimeoutSec: int(ffmpeg.DefaultProbeTimeout / time.Second),
		},
		Daemon: DaemonConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			SlotTTL:        time.Hour,
		},
		Logging: LoggingConfig{
			Level: logging.LevelInfo,
		},
	}
}

func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("capture.timeslice_ms", defaults.Capture.TimesliceMs)
	v.SetDefault("capture.on_disconnect", defaults.Capture.OnDisconnect)
	v.SetDefault("capture.spool", defaults.Capture.Spool)
	v.SetDefault("capture.stop_timeout_sec", defaults.Capture.StopTimeoutSec)

	v.SetDefault("ffmpeg.path", defaults.FFmpeg.Path)
	v.SetDefault("ffmpeg.audio_input.format", defaults.FFmpeg.AudioInput.Format)
	v.SetDefault("ffmpeg.audio_input.device", defaults.FFmpeg.AudioInput.Device)
	v.SetDefault("ffmpeg.video_input.format", defaults.FFmpeg.VideoInput.Format)
	v.SetDefault("ffmpeg.video_input.device", defaults.FFmpeg.VideoInput.Device)
	v.SetDefault("ffmpeg.probe_timeout_sec", defaults.FFmpeg.ProbeTimeoutSec)

	v.SetDefault("daemon.http_addr", defaults.Daemon.HTTPAddr)
	v.SetDefault("daemon.allowed_origins", defaults.Daemon.AllowedOrigins)
	v.SetDefault("daemon.slot_ttl", defaults.Daemon.SlotTTL)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Dir returns ~/.mediarec, or MEDIAREC_HOME when set.
func Dir() string {
	if dir := os.Getenv(EnvPrefix + "_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mediarec"
	}
	return filepath.Join(home, ".mediarec")
}

func File() string {
	return filepath.Join(Dir(), FileName)
}

// Loader owns a viper instance and the last valid Config read from it.
type Loader struct {
	v *viper.Viper

	mu      sync.RWMutex
	current *Config
}

// NewLoader reads configuration from file, or from the default location
// when file is empty. A missing default file is not an error.
func NewLoader(file string) (*Loader, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	l := &Loader{v: v}
	cfg, err := l.Load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Load decodes and validates the current viper state.
func (l *Loader) Load() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// ConfigFileUsed is empty when running on defaults and environment only.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the config file when it changes and passes each valid
// result to onChange. Invalid edits are logged and the previous config is
// kept.
func (l *Loader) Watch(logger *logging.Logger, onChange func(*Config)) {
	if l.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			logger.Warn("ignoring invalid config change", "file", e.Name, "error", err.Error())
			return
		}

		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		logger.Info("config reloaded", "file", e.Name, "op", e.Op.String())
		if onChange != nil {
			onChange(cfg)
		}
	})
	l.v.WatchConfig()
}

// DaemonSettings returns the per-slot settings applied to new slots.
func (c *Config) DaemonSettings() daemon.Settings {
	return daemon.Settings{
		Timeslice:    c.Capture.Timeslice(),
		OnDisconnect: c.Capture.DisconnectPolicy(),
		StopTimeout:  c.Capture.StopTimeout(),
	}
}

func (c *Config) FFmpegOptions(logger *logging.Logger) ffmpeg.Options {
	return ffmpeg.Options{
		Path:         c.FFmpeg.Path,
		AudioInput:   c.FFmpeg.AudioInput,
		VideoInput:   c.FFmpeg.VideoInput,
		ProbeTimeout: c.FFmpeg.ProbeTimeout(),
		Logger:       logger,
	}
}
