// ABOUTME: Configuration loading for trackbridge
// ABOUTME: Merges defaults, config file, TRACKBRIDGE_* environment and flags
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio"
	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys understood in config files, environment and flags
const (
	KeyDevice       = "device"
	KeySampleType   = "sample_type"
	KeySampleRate   = "sample_rate"
	KeyChannels     = "channels"
	KeyTargetFrames = "target_frames"
	KeySourceFrames = "source_frames"
	KeyVolume       = "volume"
	KeyLogLevel     = "log_level"
	KeyMetricsAddr  = "metrics_addr"
	KeyTUI          = "tui"
	KeyInput        = "input"
	KeyPoll         = "poll_interval"
	KeyPlaybackRate = "playback_rate"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the validated runtime configuration
type Config struct {
	Device       string
	Format       audio.Format
	TargetFrames int
	// SourceFrames sizes the circular frame buffer between decoder and sink
	SourceFrames int
	Volume       float32
	LogLevel     log.Level
	MetricsAddr  string
	TUI          bool
	Input        string
	PollInterval time.Duration
	// PlaybackRate is 0 (hold) or 1; other positive rates play at 1
	PlaybackRate float64
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyDevice, "oto")
	v.SetDefault(KeySampleType, "s16")
	v.SetDefault(KeySampleRate, 48000)
	v.SetDefault(KeyChannels, 2)
	v.SetDefault(KeyTargetFrames, 1024)
	v.SetDefault(KeySourceFrames, 16384)
	v.SetDefault(KeyVolume, 1.0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyTUI, true)
	v.SetDefault(KeyInput, "")
	v.SetDefault(KeyPoll, 10*time.Millisecond)
	v.SetDefault(KeyPlaybackRate, 1.0)
}

// Flags returns the flag set bound by BindFlags
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("trackbridge", pflag.ContinueOnError)
	fs.String(KeyDevice, "oto", "output device backend")
	fs.String("sample-type", "s16", "sample type (s16, f32, u8)")
	fs.Int("sample-rate", 48000, "sample rate in Hz for the tone and raw PCM")
	fs.Int(KeyChannels, 2, "channel count for the tone and raw PCM (1, 2 or 6)")
	fs.Int("target-frames", 1024, "device buffer depth to negotiate, in frames")
	fs.Int("source-frames", 16384, "decode-ahead buffer size, in frames")
	fs.Float64(KeyVolume, 1.0, "initial volume (0.0-1.0)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.Bool("no-tui", false, "stream logs instead of showing the TUI")
	fs.Duration("poll-interval", 10*time.Millisecond, "sink poll interval")
	fs.Float64("playback-rate", 1.0, "playback rate (0 holds the stream, 1 plays)")
	return fs
}

// BindFlags binds the flags returned by Flags to their keys
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		KeyDevice:       KeyDevice,
		KeySampleType:   "sample-type",
		KeySampleRate:   "sample-rate",
		KeyChannels:     KeyChannels,
		KeyTargetFrames: "target-frames",
		KeySourceFrames: "source-frames",
		KeyVolume:       KeyVolume,
		KeyLogLevel:     "log-level",
		KeyMetricsAddr:  "metrics-addr",
		KeyPoll:         "poll-interval",
		KeyPlaybackRate: "playback-rate",
	}
	for key, name := range bindings {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// ReadInConfig loads path, or trackbridge.yaml from the working directory
// and the user config directory when path is empty. A missing default
// file is not an error.
func ReadInConfig(v *viper.Viper, path string) error {
	v.SetEnvPrefix("trackbridge")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("trackbridge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "trackbridge"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	log.Debug("Using configuration file", "path", v.ConfigFileUsed())
	return nil
}

// Load builds and validates a Config from v
func Load(v *viper.Viper) (Config, error) {
	sampleType, err := audio.ParseSampleType(v.GetString(KeySampleType))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	level, err := log.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	cfg := Config{
		Device: v.GetString(KeyDevice),
		Format: audio.Format{
			SampleType: sampleType,
			SampleRate: v.GetInt(KeySampleRate),
			Channels:   v.GetInt(KeyChannels),
		},
		TargetFrames: v.GetInt(KeyTargetFrames),
		SourceFrames: v.GetInt(KeySourceFrames),
		Volume:       float32(v.GetFloat64(KeyVolume)),
		LogLevel:     level,
		MetricsAddr:  v.GetString(KeyMetricsAddr),
		TUI:          v.GetBool(KeyTUI),
		Input:        v.GetString(KeyInput),
		PollInterval: v.GetDuration(KeyPoll),
		PlaybackRate: v.GetFloat64(KeyPlaybackRate),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges. Channel layouts are checked when the stream
// is opened.
func (c Config) Validate() error {
	switch {
	case c.Device == "":
		return fmt.Errorf("%w: device is empty", ErrInvalid)
	case c.Format.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalid, c.Format.SampleRate)
	case c.Format.Channels <= 0:
		return fmt.Errorf("%w: channel count %d", ErrInvalid, c.Format.Channels)
	case c.TargetFrames <= 0:
		return fmt.Errorf("%w: target frames %d", ErrInvalid, c.TargetFrames)
	case c.SourceFrames < c.TargetFrames:
		return fmt.Errorf("%w: source frames %d below target frames %d", ErrInvalid, c.SourceFrames, c.TargetFrames)
	case c.Volume < 0 || c.Volume > 1:
		return fmt.Errorf("%w: volume %v outside 0.0-1.0", ErrInvalid, c.Volume)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval %v", ErrInvalid, c.PollInterval)
	case c.PlaybackRate < 0 || math.IsNaN(c.PlaybackRate):
		return fmt.Errorf("%w: playback rate %v", ErrInvalid, c.PlaybackRate)
	}
	return nil
}
