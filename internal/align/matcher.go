// Package align tracks the speaker's position in the script by fuzzily
// matching the tail of the live transcript against the script's word
// sequence.
//
// The matcher keeps a single integer cursor into the word index. Automatic
// transcript-driven updates only ever move the cursor forward; a manual
// scroll, search jump, or reset is the only way to force it elsewhere. After
// a manual override the search window widens so the matcher can re-acquire
// the speaker quickly, then narrows again once an automatic match succeeds.
//
// The scoring weights and acceptance thresholds are empirically tuned
// constants. They are exposed as named [Policy] fields with functional
// options rather than re-derived — their optimality is unverified, but they
// are the behavior the engine was tuned against.
package align

import (
	"github.com/voicecue/voicecue/internal/script"
)

// Default policy values. See [Policy] for what each controls.
const (
	DefaultPartialWeight     = 0.4
	DefaultThresholdShort    = 0.95
	DefaultThresholdNormal   = 0.75
	DefaultThresholdOverride = 0.6
	DefaultLookAhead         = 10
	DefaultOverrideLookAhead = 40
	DefaultResetJumpGuard    = 15
	DefaultKeyLength         = 4
	DefaultMinTokens         = 3
	DefaultProximityWeight   = 0.05
)

// Policy holds the tunable matching constants.
type Policy struct {
	// PartialWeight scores a key token found in the candidate slice but at
	// the wrong relative position.
	PartialWeight float64

	// ThresholdShort is the acceptance threshold for keys shorter than
	// MinTokens. Near-exact agreement is required because short keys carry
	// almost no context.
	ThresholdShort float64

	// ThresholdNormal is the acceptance threshold in normal tracking mode.
	ThresholdNormal float64

	// ThresholdOverride is the looser threshold used on the first update
	// after a manual override, favoring re-acquisition.
	ThresholdOverride float64

	// LookAhead is how many words past the cursor are searched normally.
	LookAhead int

	// OverrideLookAhead replaces LookAhead on the update following a manual
	// override.
	OverrideLookAhead int

	// ResetJumpGuard rejects jumps larger than this many words while the
	// cursor still sits at its initial value — prevents snapping to a
	// superficially similar phrase before enough context has accumulated.
	ResetJumpGuard int

	// KeyLength is how many trailing transcript tokens form the search key.
	KeyLength int

	// MinTokens is the minimum token count for a conclusive update.
	MinTokens int

	// ProximityWeight scales the ranking bonus for candidates closer to the
	// cursor. It affects candidate ordering only, never the reported score.
	ProximityWeight float64

	// PhoneticTokens enables Double Metaphone equivalence when comparing a
	// transcript token to a script token, tolerating recognizer mishearings
	// ("there" vs "their"). Exact token matches are unaffected.
	PhoneticTokens bool
}

// DefaultPolicy returns the tuned default policy with phonetic token
// equivalence enabled.
func DefaultPolicy() Policy {
	return Policy{
		PartialWeight:     DefaultPartialWeight,
		ThresholdShort:    DefaultThresholdShort,
		ThresholdNormal:   DefaultThresholdNormal,
		ThresholdOverride: DefaultThresholdOverride,
		LookAhead:         DefaultLookAhead,
		OverrideLookAhead: DefaultOverrideLookAhead,
		ResetJumpGuard:    DefaultResetJumpGuard,
		KeyLength:         DefaultKeyLength,
		MinTokens:         DefaultMinTokens,
		ProximityWeight:   DefaultProximityWeight,
		PhoneticTokens:    true,
	}
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPolicy replaces the entire matching policy.
func WithPolicy(p Policy) Option {
	return func(m *Matcher) { m.policy = p }
}

// WithLookAhead overrides the normal look-ahead window size.
func WithLookAhead(words int) Option {
	return func(m *Matcher) { m.policy.LookAhead = words }
}

// WithPhoneticTokens toggles Double Metaphone token equivalence.
func WithPhoneticTokens(on bool) Option {
	return func(m *Matcher) { m.policy.PhoneticTokens = on }
}

// Advance describes an accepted cursor movement.
type Advance struct {
	// Cursor is the new cursor value: the word index of the last key token.
	Cursor int

	// CharStart and CharEnd delimit the script character range covered by
	// the matched key.
	CharStart int
	CharEnd   int

	// Score is the similarity score of the accepted candidate, in [0, 1].
	Score float64
}

// Matcher advances a monotonic cursor through a script's word index.
//
// Matcher is not safe for concurrent use; the coordinator drives it from a
// single goroutine.
type Matcher struct {
	policy Policy

	index  *script.Index
	tokens []string // normalized script words, parallel to index entries
	codes  []string // primary metaphone code per script word

	cursor   int
	initial  bool // no automatic match accepted since the last reset
	override bool // a manual jump occurred; widen the next look-ahead
}

// New creates a matcher over idx with the default policy.
func New(idx *script.Index, opts ...Option) *Matcher {
	m := &Matcher{
		policy:  DefaultPolicy(),
		index:   idx,
		initial: true,
	}
	for _, o := range opts {
		o(m)
	}

	m.tokens = make([]string, idx.Len())
	for i := 0; i < idx.Len(); i++ {
		norm := Normalize(idx.At(i).Text)
		if len(norm) > 0 {
			m.tokens[i] = norm[0]
		}
	}
	if m.policy.PhoneticTokens {
		m.codes = phoneticCodes(m.tokens)
	}
	return m
}

// Cursor returns the current cursor value.
func (m *Matcher) Cursor() int { return m.cursor }

// OverrideActive reports whether the widened look-ahead is armed.
func (m *Matcher) OverrideActive() bool { return m.override }

// Reset rewinds the cursor to the start of the script and re-arms the
// post-reset jump guard.
func (m *Matcher) Reset() {
	m.cursor = 0
	m.initial = true
	m.override = false
}

// ForceCursor sets the cursor from a manual scroll or search jump. The next
// automatic update uses the widened look-ahead and the looser override
// threshold so tracking re-acquires quickly from the new position.
func (m *Matcher) ForceCursor(i int) {
	if n := m.index.Len(); n == 0 {
		i = 0
	} else if i < 0 {
		i = 0
	} else if i >= n {
		i = n - 1
	}
	m.cursor = i
	m.initial = false
	m.override = true
}

// AdvanceToEnd moves the cursor to the final word.
func (m *Matcher) AdvanceToEnd() {
	if n := m.index.Len(); n > 0 {
		m.cursor = n - 1
	}
	m.initial = false
	m.override = false
}

// Update processes one transcript update. It returns the accepted advance
// and true, or a zero Advance and false when the update is inconclusive or
// no candidate clears the threshold. The cursor never moves backward here.
func (m *Matcher) Update(transcript string) (Advance, bool) {
	tokens := Normalize(transcript)
	if len(tokens) < m.policy.MinTokens || m.index.Len() == 0 {
		return Advance{}, false
	}

	// Trailing KeyLength tokens form the search key.
	key := tokens
	if len(key) > m.policy.KeyLength {
		key = key[len(key)-m.policy.KeyLength:]
	}
	var keyCodes []string
	if m.policy.PhoneticTokens {
		keyCodes = phoneticCodes(key)
	}

	lookAhead := m.policy.LookAhead
	threshold := m.policy.ThresholdNormal
	if m.override {
		lookAhead = m.policy.OverrideLookAhead
		threshold = m.policy.ThresholdOverride
	}
	if len(key) < m.policy.MinTokens {
		threshold = m.policy.ThresholdShort
	}

	// Candidate start offsets. The lower bound lets a key overlap the words
	// already matched without ever moving the cursor backward.
	start := m.cursor - len(key) + 1
	if start < 0 {
		start = 0
	}
	end := m.cursor + lookAhead
	if max := m.index.Len() - 1; end > max {
		end = max
	}

	bestScore := -1.0
	bestRanked := -1.0
	bestStart := -1
	for s := start; s <= end; s++ {
		score := m.scoreAt(s, key, keyCodes)
		// Rank with a proximity bonus so forward progress beats a
		// coincidental repeat further away; report the raw score.
		ranked := score + m.proximityBonus(s, start, end)
		if ranked > bestRanked {
			bestRanked = ranked
			bestScore = score
			bestStart = s
		}
	}

	if bestStart < 0 || bestScore < threshold {
		return Advance{}, false
	}

	last := bestStart + len(key) - 1
	if max := m.index.Len() - 1; last > max {
		last = max
	}
	if last < m.cursor {
		return Advance{}, false
	}
	if m.initial && !m.override && last-m.cursor > m.policy.ResetJumpGuard {
		return Advance{}, false
	}

	m.cursor = last
	m.initial = false
	m.override = false

	return Advance{
		Cursor:    last,
		CharStart: m.index.At(bestStart).CharStart,
		CharEnd:   m.index.At(last).CharEnd,
		Score:     bestScore,
	}, true
}

// scoreAt scores the key against the script slice starting at word s:
// a token matching at the same relative position scores 1, a token present
// elsewhere in the slice scores PartialWeight, an absent token scores 0.
// The sum is divided by the key length, so key tokens running past the end
// of the script count as absent.
func (m *Matcher) scoreAt(s int, key, keyCodes []string) float64 {
	n := m.index.Len()
	var sum float64
	for i, kt := range key {
		pos := s + i
		if pos < n && m.tokenEqual(kt, keyCodes, i, pos) {
			sum += 1
			continue
		}
		for j := s; j < s+len(key) && j < n; j++ {
			if j == pos {
				continue
			}
			if m.tokenEqual(kt, keyCodes, i, j) {
				sum += m.policy.PartialWeight
				break
			}
		}
	}
	return sum / float64(len(key))
}

// tokenEqual reports whether key token i matches the script token at
// word index w, either exactly or by shared Double Metaphone code.
func (m *Matcher) tokenEqual(kt string, keyCodes []string, i, w int) bool {
	st := m.tokens[w]
	if kt == st {
		return kt != ""
	}
	if !m.policy.PhoneticTokens {
		return false
	}
	kc := keyCodes[i]
	return kc != "" && kc == m.codes[w]
}

// proximityBonus returns a ranking-only bonus that decays linearly from
// ProximityWeight at the window start to zero at its end.
func (m *Matcher) proximityBonus(s, start, end int) float64 {
	if end <= start {
		return 0
	}
	frac := float64(s-start) / float64(end-start)
	return m.policy.ProximityWeight * (1 - frac)
}
