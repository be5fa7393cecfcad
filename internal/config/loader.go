package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidSourceNames lists the audio source names registered by the standard
// build. Used by [Validate] to warn about unrecognised source names.
var ValidSourceNames = []string{"file", "stdin"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty; voice sync will not start without a credential")
	}
	if cfg.Provider.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("provider.sample_rate %d is negative", cfg.Provider.SampleRate))
	}
	if cfg.Provider.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("provider.reconnect_attempts %d is negative", cfg.Provider.ReconnectAttempts))
	}
	if cfg.Provider.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("provider.connect_timeout must not be negative"))
	}
	if cfg.Provider.ReconnectBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("provider.reconnect_base_delay must not be negative"))
	}

	// Audio source
	validateSourceName(cfg.Audio.Source)
	if cfg.Audio.Source == "file" && cfg.Audio.Path == "" {
		errs = append(errs, fmt.Errorf("audio.path is required when audio.source is file"))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is negative", cfg.Audio.SampleRate))
	}

	// Matcher thresholds and weights live in [0, 1].
	for _, tv := range []struct {
		name  string
		value float64
	}{
		{"matcher.threshold_short", cfg.Matcher.ThresholdShort},
		{"matcher.threshold_normal", cfg.Matcher.ThresholdNormal},
		{"matcher.threshold_override", cfg.Matcher.ThresholdOverride},
		{"matcher.partial_weight", cfg.Matcher.PartialWeight},
	} {
		if tv.value < 0 || tv.value > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", tv.name, tv.value))
		}
	}
	for _, iv := range []struct {
		name  string
		value int
	}{
		{"matcher.look_ahead", cfg.Matcher.LookAhead},
		{"matcher.override_look_ahead", cfg.Matcher.OverrideLookAhead},
		{"matcher.key_length", cfg.Matcher.KeyLength},
		{"matcher.min_tokens", cfg.Matcher.MinTokens},
		{"matcher.reset_jump_guard", cfg.Matcher.ResetJumpGuard},
	} {
		if iv.value < 0 {
			errs = append(errs, fmt.Errorf("%s %d is negative", iv.name, iv.value))
		}
	}
	if la, ola := cfg.Matcher.LookAhead, cfg.Matcher.OverrideLookAhead; la > 0 && ola > 0 && ola < la {
		slog.Warn("matcher.override_look_ahead is smaller than matcher.look_ahead; manual overrides will search a narrower window than normal tracking",
			"look_ahead", la,
			"override_look_ahead", ola,
		)
	}

	// Layout
	if cfg.Layout.FontSize < 0 {
		errs = append(errs, fmt.Errorf("layout.font_size %.1f is negative", cfg.Layout.FontSize))
	}
	if cfg.Layout.MinCharsPerLine < 0 {
		errs = append(errs, fmt.Errorf("layout.min_chars_per_line %d is negative", cfg.Layout.MinCharsPerLine))
	}
	if w, m := cfg.Layout.ContainerWidth, cfg.Layout.Margin; w > 0 && w-2*m <= 0 {
		slog.Warn("layout margins consume the whole container width; the chars-per-line floor will apply",
			"container_width", w,
			"margin", m,
		)
	}

	// Scroll
	if cfg.Scroll.UpwardBias < 0 {
		errs = append(errs, fmt.Errorf("scroll.upward_bias %.1f is negative", cfg.Scroll.UpwardBias))
	}
	if cfg.Scroll.Duration < 0 {
		errs = append(errs, fmt.Errorf("scroll.duration must not be negative"))
	}
	if cfg.Scroll.InactivityTimeout < 0 {
		errs = append(errs, fmt.Errorf("scroll.inactivity_timeout must not be negative"))
	}
	if cfg.Scroll.ContentHeight < 0 {
		errs = append(errs, fmt.Errorf("scroll.content_height %.1f is negative", cfg.Scroll.ContentHeight))
	}

	return errors.Join(errs...)
}

// validateSourceName logs a warning if name is non-empty and not found in
// [ValidSourceNames].
func validateSourceName(name string) {
	if name == "" || slices.Contains(ValidSourceNames, name) {
		return
	}
	slog.Warn("unknown audio source name — may be a typo or a custom registration",
		"name", name,
		"known", ValidSourceNames,
	)
}
