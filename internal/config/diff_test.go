package config

import "testing"

func baseConfig() *Config {
	cfg := &Config{}
	cfg.Server.LogLevel = LogInfo
	cfg.Provider.APIKey = "secret"
	cfg.Layout.FontSize = 20
	cfg.Layout.ContainerWidth = 400
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	if d := Diff(old, new); !d.Empty() {
		t.Errorf("diff of identical configs = %+v, want empty", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = LogDebug

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if d.RestartRequired {
		t.Error("a log level change must not require a restart")
	}
}

func TestDiff_LayoutHotApplies(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Layout.IsLandscape = true

	d := Diff(old, new)
	if !d.LayoutChanged {
		t.Fatalf("diff = %+v, want layout change", d)
	}
	if !d.NewLayout.IsLandscape {
		t.Error("NewLayout should carry the changed geometry")
	}
	if d.RestartRequired {
		t.Error("a layout change must not require a restart")
	}
}

func TestDiff_ProviderRequiresRestart(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Provider.Endpoint = "wss://other.example.com/v3/ws"

	d := Diff(old, new)
	if !d.RestartRequired {
		t.Errorf("diff = %+v, want restart required", d)
	}
}

func TestDiff_MatcherPointerField(t *testing.T) {
	t.Parallel()

	on, off := true, false

	tests := []struct {
		name     string
		old, new *bool
		changed  bool
	}{
		{"both nil", nil, nil, false},
		{"set vs nil", &on, nil, true},
		{"same value", &on, &on, false},
		{"equal distinct pointers", &on, boolPtr(true), false},
		{"different values", &on, &off, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			old.Matcher.PhoneticTokens = tt.old
			new.Matcher.PhoneticTokens = tt.new
			if got := Diff(old, new).MatcherChanged; got != tt.changed {
				t.Errorf("MatcherChanged = %v, want %v", got, tt.changed)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }
