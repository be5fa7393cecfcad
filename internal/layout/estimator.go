// Package layout predicts scroll geometry for plain script text without a
// render pass.
//
// Text is modeled as line-wrapped blocks: an empirically derived effective
// character width is computed from the font size, the available width gives
// a chars-per-line estimate, and every explicit source line occupies
// ceil(length / charsPerLine) visual lines (at least one, so blank lines
// still consume space). The model maps a character offset to a vertical
// scroll offset and back.
//
// Forward and inverse are approximate left-inverses of each other: a
// round-trip lands on the same visual line, not necessarily the identical
// character. The total content height always comes from the caller — the
// estimator never measures rendered text.
package layout

import (
	"math"
	"strings"
	"unicode/utf8"
)

// effCharWidthFactor converts a font size into an effective average glyph
// width. Tuned against rendered output; proportional fonts average a bit
// over half an em.
const effCharWidthFactor = 0.55

// DefaultMinCharsPerLine floors the chars-per-line estimate, guarding
// against zero or negative available widths.
const DefaultMinCharsPerLine = 10

// Config is the value object describing the current font and container
// geometry. Any field change invalidates the cached chars-per-line estimate.
type Config struct {
	FontSize       float64
	ContainerWidth float64
	IsLandscape    bool
	Margin         float64
}

// Estimator maps character offsets to vertical scroll offsets and back,
// caching the chars-per-line estimate until the config changes.
//
// Estimator is not safe for concurrent use; the coordinator owns it.
type Estimator struct {
	cfg          Config
	minChars     int
	charsPerLine int
}

// Option is a functional option for configuring an [Estimator].
type Option func(*Estimator)

// WithMinCharsPerLine overrides the chars-per-line floor.
func WithMinCharsPerLine(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.minChars = n
		}
	}
}

// New creates an estimator for the given geometry.
func New(cfg Config, opts ...Option) *Estimator {
	e := &Estimator{cfg: cfg, minChars: DefaultMinCharsPerLine}
	for _, o := range opts {
		o(e)
	}
	e.charsPerLine = e.compute(cfg)
	return e
}

// SetConfig replaces the geometry. The cached chars-per-line estimate is
// recomputed only when the config actually changed.
func (e *Estimator) SetConfig(cfg Config) {
	if cfg == e.cfg {
		return
	}
	e.cfg = cfg
	e.charsPerLine = e.compute(cfg)
}

// Config returns the current geometry.
func (e *Estimator) Config() Config { return e.cfg }

// CharsPerLine exposes the current estimate, mainly for tests and logging.
func (e *Estimator) CharsPerLine() int { return e.charsPerLine }

// compute derives chars-per-line from the config, clamped at the floor.
func (e *Estimator) compute(cfg Config) int {
	avail := cfg.ContainerWidth - 2*cfg.Margin
	charWidth := cfg.FontSize * effCharWidthFactor
	if avail <= 0 || charWidth <= 0 {
		return e.minChars
	}
	n := int(avail / charWidth)
	if n < e.minChars {
		n = e.minChars
	}
	return n
}

// ScrollForChar maps a byte offset in text to a vertical scroll offset given
// the total rendered content height. The result is negative or zero:
// content moves upward as the offset grows.
func (e *Estimator) ScrollForChar(text string, charOffset int, contentHeight float64) float64 {
	total, before := e.visualLines(text, charOffset)
	if total == 0 || contentHeight <= 0 {
		return 0
	}
	return -(float64(before) / float64(total)) * contentHeight
}

// CharForScroll inverts [Estimator.ScrollForChar]: given a (negative) scroll
// offset it returns the byte offset at the start of the matched visual line,
// clamped to line bounds.
func (e *Estimator) CharForScroll(text string, scrollY, contentHeight float64) int {
	total, _ := e.visualLines(text, len(text))
	if total == 0 || contentHeight <= 0 {
		return 0
	}

	frac := -scrollY / contentHeight
	if frac < 0 {
		frac = 0
	}
	if frac >= 1 {
		frac = 1 - 1e-9
	}
	// The epsilon keeps floor(frac*total) stable when frac was produced by
	// the forward mapping's division.
	target := int(frac*float64(total) + 1e-9)

	seen := 0
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		lines := wrappedLines(line, e.charsPerLine)
		if target < seen+lines {
			within := target - seen
			return offset + byteOffsetOfRune(line, within*e.charsPerLine)
		}
		seen += lines
		offset += len(line) + 1 // +1 for the line break
	}
	return len(text)
}

// visualLines walks the source lines of text and returns the total visual
// line count plus the number of visual lines strictly before charOffset.
func (e *Estimator) visualLines(text string, charOffset int) (total, before int) {
	if charOffset < 0 {
		charOffset = 0
	}
	if charOffset > len(text) {
		charOffset = len(text)
	}

	offset := 0
	located := false
	for _, line := range strings.Split(text, "\n") {
		lines := wrappedLines(line, e.charsPerLine)
		end := offset + len(line)

		if !located && charOffset <= end {
			runesIn := utf8.RuneCountInString(line[:charOffset-offset])
			before = total + runesIn/e.charsPerLine
			located = true
		}

		total += lines
		offset = end + 1
	}
	if !located {
		before = total
	}
	return total, before
}

// wrappedLines returns how many visual lines a source line occupies. Blank
// lines still take one.
func wrappedLines(line string, charsPerLine int) int {
	runes := utf8.RuneCountInString(line)
	if runes == 0 {
		return 1
	}
	return int(math.Ceil(float64(runes) / float64(charsPerLine)))
}

// byteOffsetOfRune converts a rune index within line into a byte offset,
// clamped to the line length.
func byteOffsetOfRune(line string, runeIdx int) int {
	if runeIdx <= 0 {
		return 0
	}
	count := 0
	for i := range line {
		if count == runeIdx {
			return i
		}
		count++
	}
	return len(line)
}
