package config

import (
	"strings"
	"testing"
	"time"

	"github.com/voicecue/voicecue/internal/align"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
provider:
  api_key: secret
  endpoint: wss://example.com/v3/ws
  sample_rate: 16000
  connect_timeout: 10s
  reconnect_attempts: 5
  reconnect_base_delay: 1s
audio:
  source: file
  path: testdata/session.pcm
matcher:
  look_ahead: 12
  phonetic_tokens: false
layout:
  font_size: 20
  container_width: 400
  margin: 16
scroll:
  upward_bias: 80
  duration: 300ms
  inactivity_timeout: 10s
  content_height: 2400
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Provider.ConnectTimeout.Std() != 10*time.Second {
		t.Errorf("connect_timeout = %v", cfg.Provider.ConnectTimeout.Std())
	}
	if cfg.Scroll.Duration.Std() != 300*time.Millisecond {
		t.Errorf("scroll.duration = %v", cfg.Scroll.Duration.Std())
	}

	tc := cfg.Provider.Transport()
	if tc.APIKey != "secret" || tc.MaxReconnectAttempts != 5 {
		t.Errorf("transport config = %+v", tc)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected an error for a misspelled field")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("provider:\n  connect_timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("error = %v, want an invalid duration error", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Server.LogLevel = "chatty"
	cfg.Provider.SampleRate = -1
	cfg.Matcher.ThresholdNormal = 1.5
	cfg.Matcher.LookAhead = -3
	cfg.Layout.FontSize = -12
	cfg.Audio.Source = "file"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.log_level",
		"provider.sample_rate",
		"matcher.threshold_normal",
		"matcher.look_ahead",
		"layout.font_size",
		"audio.path is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error is missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_ZeroConfigPasses(t *testing.T) {
	t.Parallel()

	if err := Validate(&Config{}); err != nil {
		t.Errorf("empty config should validate (defaults apply downstream): %v", err)
	}
}

func TestMatcherPolicy_Overrides(t *testing.T) {
	t.Parallel()

	off := false
	m := MatcherConfig{
		PhoneticTokens:  &off,
		LookAhead:       25,
		ThresholdNormal: 0.8,
	}
	p := m.Policy()

	if p.PhoneticTokens {
		t.Error("phonetic tokens should be disabled")
	}
	if p.LookAhead != 25 {
		t.Errorf("LookAhead = %d, want 25", p.LookAhead)
	}
	if p.ThresholdNormal != 0.8 {
		t.Errorf("ThresholdNormal = %v, want 0.8", p.ThresholdNormal)
	}
	// Untouched fields keep the tuned defaults.
	if p.KeyLength != align.DefaultKeyLength {
		t.Errorf("KeyLength = %d, want default %d", p.KeyLength, align.DefaultKeyLength)
	}
	if p.ThresholdOverride != align.DefaultThresholdOverride {
		t.Errorf("ThresholdOverride = %v, want default", p.ThresholdOverride)
	}
}

func TestCoordinatorConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	sc := cfg.Coordinator()
	if sc.ContentHeight != 2400 {
		t.Errorf("ContentHeight = %v", sc.ContentHeight)
	}
	if sc.ScrollDuration != 300*time.Millisecond {
		t.Errorf("ScrollDuration = %v", sc.ScrollDuration)
	}
	if sc.Transport.Endpoint != "wss://example.com/v3/ws" {
		t.Errorf("Transport.Endpoint = %q", sc.Transport.Endpoint)
	}
	if sc.Layout.ContainerWidth != 400 {
		t.Errorf("Layout.ContainerWidth = %v", sc.Layout.ContainerWidth)
	}
}
