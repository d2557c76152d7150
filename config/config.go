package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the client. Flags override file values.
type Config struct {
	Endpoint       string          `yaml:"endpoint" validate:"required,url"`
	RequestTimeout time.Duration   `yaml:"request_timeout" validate:"gte=0"`
	Audio          AudioConfig     `yaml:"audio"`
	Hotkey         HotkeyConfig    `yaml:"hotkey"`
	Meter          MeterConfig     `yaml:"meter"`
	Session        SessionConfig   `yaml:"session"`
	Indicator      IndicatorConfig `yaml:"indicator"`
	Metrics        MetricsConfig   `yaml:"metrics"`
	Log            LogConfig       `yaml:"log"`
}

type AudioConfig struct {
	Device           string `yaml:"device"`
	Format           string `yaml:"format" validate:"oneof=flac pcm"`
	CaptureRate      uint32 `yaml:"capture_rate" validate:"gte=8000,lte=48000"`
	PlaybackRate     uint32 `yaml:"playback_rate" validate:"gte=8000,lte=48000"`
	EchoCancellation bool   `yaml:"echo_cancellation"`
	NoiseSuppression bool   `yaml:"noise_suppression"`
	AutoGainControl  bool   `yaml:"auto_gain"`
	Cues             bool   `yaml:"cues"`
}

// HotkeyConfig binds the global toggle key. A press held longer than
// LongPress records until release.
type HotkeyConfig struct {
	Binding   string        `yaml:"binding" validate:"required"`
	LongPress time.Duration `yaml:"long_press" validate:"gte=0"`
}

type MeterConfig struct {
	FFTSize   int     `yaml:"fft_size" validate:"pow2"`
	Smoothing float64 `yaml:"smoothing" validate:"gte=0,lt=1"`
	FPS       int     `yaml:"fps" validate:"gte=1,lte=240"`
}

type SessionConfig struct {
	StorePath string `yaml:"store_path"`
}

type IndicatorConfig struct {
	WebsocketAddr string `yaml:"websocket_addr" validate:"omitempty,hostname_port"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

func Default() *Config {
	return &Config{
		Endpoint:       "http://localhost:8000/api/voice",
		RequestTimeout: 60 * time.Second,
		Audio: AudioConfig{
			Format:           "flac",
			CaptureRate:      16000,
			PlaybackRate:     24000,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			Cues:             true,
		},
		Hotkey: HotkeyConfig{
			Binding:   "ctrl+shift+space",
			LongPress: 350 * time.Millisecond,
		},
		Meter: MeterConfig{
			FFTSize:   256,
			Smoothing: 0.8,
			FPS:       60,
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = sync.OnceValues(newValidator)

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		n := fl.Field().Int()
		return n >= 32 && n <= 32768 && n&(n-1) == 0
	})
	if err != nil {
		return nil, fmt.Errorf("registering pow2 validation: %w", err)
	}
	return v, nil
}

// Load reads path over Default. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v, err := validate()
	if err != nil {
		return err
	}
	err = v.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", fieldPath(e), formatValidationMessage(e)))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "hostname_port":
		return "must be host:port"
	case "pow2":
		return "must be a power of two between 32 and 32768"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
