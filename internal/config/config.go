package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/keagan/reelcut/pkg/util"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	// Editing and playback defaults
	Editor EditorConfig `yaml:"editor" toml:"editor"`

	// Offline render defaults
	Render RenderConfig `yaml:"render" toml:"render"`

	// FFmpeg settings
	FFmpeg FFmpegConfig `yaml:"ffmpeg" toml:"ffmpeg"`

	// Render service (serve / op)
	Service ServiceConfig `yaml:"service" toml:"service"`

	// Job ledger
	Store StoreConfig `yaml:"store" toml:"store"`
}

type EditorConfig struct {
	FrameRate       float64 `yaml:"frame_rate" toml:"frame_rate"`
	PixelsPerSecond int     `yaml:"pixels_per_second" toml:"pixels_per_second"`
	HistoryDepth    int     `yaml:"history_depth" toml:"history_depth"`
	SnapTolerance   float64 `yaml:"snap_tolerance" toml:"snap_tolerance"`
	// ProbeTimeout is in seconds.
	ProbeTimeout float64 `yaml:"probe_timeout" toml:"probe_timeout"`
	Ripple       bool    `yaml:"ripple" toml:"ripple"`
	// Headless keeps audio off the sound device and plays it on the wall
	// clock instead.
	Headless bool `yaml:"headless" toml:"headless"`
}

type RenderConfig struct {
	Width      int    `yaml:"width" toml:"width"`
	Height     int    `yaml:"height" toml:"height"`
	SampleRate int    `yaml:"sample_rate" toml:"sample_rate"`
	OutputDir  string `yaml:"output_dir" toml:"output_dir"`
	LockPath   string `yaml:"lock_path" toml:"lock_path"`
}

type FFmpegConfig struct {
	BinaryPath string `yaml:"binary_path" toml:"binary_path"`
	ProbePath  string `yaml:"probe_path" toml:"probe_path"`
	Threads    int    `yaml:"threads" toml:"threads"`
	Preset     string `yaml:"preset" toml:"preset"`
	CRF        int    `yaml:"crf" toml:"crf"`
}

type ServiceConfig struct {
	// Addr is where serve listens.
	Addr string `yaml:"addr" toml:"addr"`
	// URL is where op sends requests.
	URL string `yaml:"url" toml:"url"`
}

type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if isTOML(path) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := c.Marshal(path)
	if err != nil {
		return err
	}
	if err := util.EnsureParent(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Marshal encodes the config in the format implied by path's extension.
func (c *Config) Marshal(path string) ([]byte, error) {
	if isTOML(path) {
		return toml.Marshal(c)
	}
	return yaml.Marshal(c)
}

// Validate rejects values the editor and renderer cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Editor.FrameRate <= 0 {
		errs = append(errs, errors.New("editor.frame_rate must be positive"))
	}
	if c.Editor.HistoryDepth < 1 {
		errs = append(errs, errors.New("editor.history_depth must be at least 1"))
	}
	if c.Editor.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("editor.probe_timeout must be positive"))
	}
	if c.Render.Width < 0 || c.Render.Height < 0 {
		errs = append(errs, errors.New("render.width and render.height must not be negative"))
	}
	if c.Render.SampleRate <= 0 {
		errs = append(errs, errors.New("render.sample_rate must be positive"))
	}
	if c.FFmpeg.CRF < 0 || c.FFmpeg.CRF > 51 {
		errs = append(errs, errors.New("ffmpeg.crf must be between 0 and 51"))
	}
	return errors.Join(errs...)
}

// ProbeTimeoutDuration is Editor.ProbeTimeout as a duration.
func (c *Config) ProbeTimeoutDuration() time.Duration {
	return time.Duration(c.Editor.ProbeTimeout * float64(time.Second))
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Editor: EditorConfig{
			FrameRate:       30,
			PixelsPerSecond: 60,
			HistoryDepth:    120,
			SnapTolerance:   0.1,
			ProbeTimeout:    8,
		},
		Render: RenderConfig{
			Width:      1280,
			Height:     720,
			SampleRate: 48000,
			OutputDir:  "./renders",
			LockPath:   filepath.Join(stateDir(), "render.lock"),
		},
		FFmpeg: FFmpegConfig{
			BinaryPath: "ffmpeg",
			ProbePath:  "ffprobe",
			Threads:    0,
			Preset:     "medium",
			CRF:        23,
		},
		Service: ServiceConfig{
			Addr: "127.0.0.1:8790",
			URL:  "http://127.0.0.1:8790",
		},
		Store: StoreConfig{
			Path: filepath.Join(stateDir(), "jobs.db"),
		},
	}
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".reelcut"
	}
	return filepath.Join(home, ".reelcut")
}

func findConfigFile() string {
	candidates := []string{
		"./reelcut.yaml",
		"./reelcut.yml",
		"./reelcut.toml",
		filepath.Join(stateDir(), "config.yaml"),
		filepath.Join(stateDir(), "config.toml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
