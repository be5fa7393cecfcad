package config

// ConfigDiff describes what changed between two configs, split into changes
// that can be hot-applied to a running session and changes that need a
// session restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LayoutChanged means the geometry can be hot-applied via the
	// coordinator's layout update.
	LayoutChanged bool
	NewLayout     LayoutConfig

	// ScrollChanged covers bias, animation duration, and stall window.
	ScrollChanged bool

	// MatcherChanged covers the matching policy overrides.
	MatcherChanged bool

	// RestartRequired means the provider connection or audio source changed;
	// these only take effect on the next session.
	RestartRequired bool
}

// Empty reports whether no tracked field changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LayoutChanged && !d.ScrollChanged &&
		!d.MatcherChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Layout != new.Layout {
		d.LayoutChanged = true
		d.NewLayout = new.Layout
	}

	if old.Scroll != new.Scroll {
		d.ScrollChanged = true
	}

	if !matcherEqual(old.Matcher, new.Matcher) {
		d.MatcherChanged = true
	}

	if old.Provider != new.Provider || old.Audio != new.Audio {
		d.RestartRequired = true
	}

	return d
}

// matcherEqual compares matcher configs by value, following the
// PhoneticTokens pointer.
func matcherEqual(a, b MatcherConfig) bool {
	ap, bp := a.PhoneticTokens, b.PhoneticTokens
	a.PhoneticTokens, b.PhoneticTokens = nil, nil
	if a != b {
		return false
	}
	if (ap == nil) != (bp == nil) {
		return false
	}
	return ap == nil || *ap == *bp
}
