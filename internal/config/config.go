// Package config provides the configuration schema, loader, file watcher,
// and audio-source registry for the VoiceCue engine.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voicecue/voicecue/internal/align"
	"github.com/voicecue/voicecue/internal/layout"
	"github.com/voicecue/voicecue/internal/scroll"
	"github.com/voicecue/voicecue/internal/transport"
)

// LogLevel controls log verbosity for the VoiceCue server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML strings like "10s"
// or "1500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for VoiceCue.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Audio    AudioConfig    `yaml:"audio"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Layout   LayoutConfig   `yaml:"layout"`
	Scroll   ScrollConfig   `yaml:"scroll"`
}

// ServerConfig holds network and logging settings for the VoiceCue server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server (health, metrics)
	// listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderConfig configures the streaming transcription provider connection.
type ProviderConfig struct {
	// APIKey is the provider credential. Required for voice sync.
	APIKey string `yaml:"api_key"`

	// Endpoint overrides the provider's default streaming endpoint.
	Endpoint string `yaml:"endpoint"`

	// SampleRate is the PCM sample rate sent to the provider.
	SampleRate int `yaml:"sample_rate"`

	// ConnectTimeout bounds connection plus session-start acknowledgment.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// ReconnectAttempts caps reconnects after unexpected disconnects.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// ReconnectBaseDelay is the first reconnect backoff delay; each further
	// attempt doubles it.
	ReconnectBaseDelay Duration `yaml:"reconnect_base_delay"`
}

// Transport returns the transport configuration derived from p. Zero fields
// fall through to the transport package defaults.
func (p ProviderConfig) Transport() transport.Config {
	return transport.Config{
		APIKey:               p.APIKey,
		Endpoint:             p.Endpoint,
		SampleRate:           p.SampleRate,
		ConnectTimeout:       p.ConnectTimeout.Std(),
		MaxReconnectAttempts: p.ReconnectAttempts,
		ReconnectBaseDelay:   p.ReconnectBaseDelay.Std(),
	}
}

// AudioConfig selects the audio capture backend.
type AudioConfig struct {
	// Source selects the registered capture backend (e.g., "file", "stdin").
	Source string `yaml:"source"`

	// Path is the PCM file to replay when Source is "file". Ignored
	// otherwise.
	Path string `yaml:"path"`

	// SampleRate is the capture sample rate. Defaults to the provider's.
	SampleRate int `yaml:"sample_rate"`
}

// MatcherConfig overrides the tuned matching policy. Zero fields keep the
// policy defaults.
type MatcherConfig struct {
	// PhoneticTokens toggles phonetic token equivalence. Nil keeps the
	// default (enabled).
	PhoneticTokens *bool `yaml:"phonetic_tokens"`

	LookAhead         int     `yaml:"look_ahead"`
	OverrideLookAhead int     `yaml:"override_look_ahead"`
	KeyLength         int     `yaml:"key_length"`
	MinTokens         int     `yaml:"min_tokens"`
	ResetJumpGuard    int     `yaml:"reset_jump_guard"`
	ThresholdShort    float64 `yaml:"threshold_short"`
	ThresholdNormal   float64 `yaml:"threshold_normal"`
	ThresholdOverride float64 `yaml:"threshold_override"`
	PartialWeight     float64 `yaml:"partial_weight"`
}

// Policy returns the matching policy: the tuned defaults overlaid with any
// non-zero overrides from m.
func (m MatcherConfig) Policy() align.Policy {
	p := align.DefaultPolicy()
	if m.PhoneticTokens != nil {
		p.PhoneticTokens = *m.PhoneticTokens
	}
	if m.LookAhead > 0 {
		p.LookAhead = m.LookAhead
	}
	if m.OverrideLookAhead > 0 {
		p.OverrideLookAhead = m.OverrideLookAhead
	}
	if m.KeyLength > 0 {
		p.KeyLength = m.KeyLength
	}
	if m.MinTokens > 0 {
		p.MinTokens = m.MinTokens
	}
	if m.ResetJumpGuard > 0 {
		p.ResetJumpGuard = m.ResetJumpGuard
	}
	if m.ThresholdShort > 0 {
		p.ThresholdShort = m.ThresholdShort
	}
	if m.ThresholdNormal > 0 {
		p.ThresholdNormal = m.ThresholdNormal
	}
	if m.ThresholdOverride > 0 {
		p.ThresholdOverride = m.ThresholdOverride
	}
	if m.PartialWeight > 0 {
		p.PartialWeight = m.PartialWeight
	}
	return p
}

// LayoutConfig holds the initial font and container geometry.
type LayoutConfig struct {
	FontSize        float64 `yaml:"font_size"`
	ContainerWidth  float64 `yaml:"container_width"`
	Margin          float64 `yaml:"margin"`
	IsLandscape     bool    `yaml:"is_landscape"`
	MinCharsPerLine int     `yaml:"min_chars_per_line"`
}

// Geometry returns the layout estimator configuration derived from l.
func (l LayoutConfig) Geometry() layout.Config {
	return layout.Config{
		FontSize:       l.FontSize,
		ContainerWidth: l.ContainerWidth,
		IsLandscape:    l.IsLandscape,
		Margin:         l.Margin,
	}
}

// ScrollConfig tunes the scroll coordinator.
type ScrollConfig struct {
	// UpwardBias shifts automatic scroll targets up by this many pixels.
	UpwardBias float64 `yaml:"upward_bias"`

	// Duration bounds the scroll animation length.
	Duration Duration `yaml:"duration"`

	// InactivityTimeout is the quiet window before a stall notice.
	InactivityTimeout Duration `yaml:"inactivity_timeout"`

	// ContentHeight is the total rendered script height reported by the
	// presentation layer.
	ContentHeight float64 `yaml:"content_height"`
}

// Coordinator returns the scroll coordinator configuration derived from the
// full config. Zero fields fall through to the scroll package defaults.
func (c *Config) Coordinator() scroll.Config {
	return scroll.Config{
		Transport:         c.Provider.Transport(),
		Layout:            c.Layout.Geometry(),
		ContentHeight:     c.Scroll.ContentHeight,
		UpwardBias:        c.Scroll.UpwardBias,
		ScrollDuration:    c.Scroll.Duration.Std(),
		InactivityTimeout: c.Scroll.InactivityTimeout.Std(),
	}
}
