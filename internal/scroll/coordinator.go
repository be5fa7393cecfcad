// Package scroll glues voice tracking to the scrolling display.
//
// The Coordinator owns one session of the engine: it constructs and manages
// the transcription transport, drives the matcher with incoming transcript
// text, and turns accepted cursor advances into animated scroll commands via
// the layout estimator. The reverse path enters here too: a manual drag or a
// search jump is mapped back to a word index and forced onto the matcher so
// voice tracking re-acquires from the new position.
//
// All inputs (transport events, manual actions, layout changes) are
// serialized through a single event loop, so a cursor update and the scroll
// command it produces are always one atomic step. Output channels hold only
// the newest value: a fresh command replaces an undelivered stale one, which
// is what lets a new target cancel an in-flight animation.
package scroll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voicecue/voicecue/internal/align"
	"github.com/voicecue/voicecue/internal/layout"
	"github.com/voicecue/voicecue/internal/observe"
	"github.com/voicecue/voicecue/internal/script"
	"github.com/voicecue/voicecue/internal/transport"
	"github.com/voicecue/voicecue/pkg/audio"
)

// Default coordinator tuning. See [Config] for what each controls.
const (
	DefaultUpwardBias        = 80.0
	DefaultScrollDuration    = 300 * time.Millisecond
	DefaultInactivityTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned by Start when the coordinator loop is
// already active.
var ErrAlreadyRunning = errors.New("scroll: coordinator already running")

// Easing names the animation curve of a scroll command. The presentation
// layer interprets it; the engine only selects it.
type Easing string

// EaseOut decelerates into the target, the default for voice-driven moves.
const EaseOut Easing = "ease-out"

// ScrollCommand instructs the presentation layer to animate the content to
// TargetY over Duration. TargetY is negative or zero, matching the layout
// estimator's convention.
type ScrollCommand struct {
	TargetY  float64
	Duration time.Duration
	Easing   Easing
}

// Highlight marks the word the speaker is currently at.
type Highlight struct {
	WordIndex int
}

// NoticeKind classifies coordinator notices.
type NoticeKind int

const (
	// NoticeStalled signals that voice sync is active but no transcript
	// arrived within the inactivity window. Emitted once per stall.
	NoticeStalled NoticeKind = iota

	// NoticeVoiceSyncLost signals that the transport gave up; the engine has
	// settled into manual mode. Emitted once per session.
	NoticeVoiceSyncLost
)

// Notice is a one-time user-facing condition. The coordinator never emits
// the same notice twice for one episode.
type Notice struct {
	Kind NoticeKind
	Err  error
}

// Config holds the named coordinator options.
type Config struct {
	// Transport configures the streaming transcription connection the
	// coordinator constructs and owns.
	Transport transport.Config

	// Layout is the initial font and container geometry.
	Layout layout.Config

	// ContentHeight is the total rendered height of the script content,
	// reported by the presentation layer. Updated via [Coordinator.SetLayout].
	ContentHeight float64

	// UpwardBias shifts every automatic scroll target further up by this
	// many pixels, keeping the matched text above the visual center.
	// Default: [DefaultUpwardBias].
	UpwardBias float64

	// ScrollDuration bounds the animation length of automatic scroll
	// commands. Default: [DefaultScrollDuration].
	ScrollDuration time.Duration

	// InactivityTimeout is how long voice sync may go without a transcript
	// before a single [NoticeStalled] is emitted. Default:
	// [DefaultInactivityTimeout].
	InactivityTimeout time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.UpwardBias <= 0 {
		c.UpwardBias = DefaultUpwardBias
	}
	if c.ScrollDuration <= 0 {
		c.ScrollDuration = DefaultScrollDuration
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	return c
}

// Option is a functional option for configuring a [Coordinator].
type Option func(*Coordinator)

// WithMatcherOptions forwards options to the coordinator's matcher.
func WithMatcherOptions(opts ...align.Option) Option {
	return func(c *Coordinator) { c.matcherOpts = opts }
}

// WithLayoutOptions forwards options to the coordinator's layout estimator.
func WithLayoutOptions(opts ...layout.Option) Option {
	return func(c *Coordinator) { c.layoutOpts = opts }
}

// Coordinator runs one voice-sync session over a script.
//
// Construct with [New], call Start once, consume Commands, Highlights and
// Notices, and call Stop on teardown. The exported methods are safe for
// concurrent use; internally everything funnels into one goroutine.
type Coordinator struct {
	cfg         Config
	idx         *script.Index
	matcher     *align.Matcher
	est         *layout.Estimator
	tr          *transport.Transport
	metrics     *observe.Metrics
	matcherOpts []align.Option
	layoutOpts  []layout.Option

	commands   chan ScrollCommand
	highlights chan Highlight
	notices    chan Notice

	actions  chan func()
	loopDone chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	running bool
	cursor  int

	// loop-owned state, never touched outside the event loop
	contentHeight  float64
	voiceActive    bool
	manualMode     bool
	stallNotified  bool
	lostNotified   bool
	lastTranscript time.Time
}

// New creates a coordinator for the given script. The transport is
// constructed here and owned for the coordinator's whole lifetime; the audio
// device is acquired on Start and released when the session ends.
func New(cfg Config, idx *script.Index, device *audio.Device, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:        cfg,
		idx:        idx,
		metrics:    observe.DefaultMetrics(),
		commands:   make(chan ScrollCommand, 1),
		highlights: make(chan Highlight, 1),
		notices:    make(chan Notice, 4),
		actions:    make(chan func(), 16),
		loopDone:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.matcher = align.New(idx, c.matcherOpts...)
	c.est = layout.New(cfg.Layout, c.layoutOpts...)
	c.tr = transport.New(cfg.Transport, device)
	c.contentHeight = cfg.ContentHeight
	return c
}

// Commands returns the scroll command stream. Only the newest undelivered
// command is retained.
func (c *Coordinator) Commands() <-chan ScrollCommand { return c.commands }

// Highlights returns the matched-word highlight stream. Only the newest
// undelivered highlight is retained.
func (c *Coordinator) Highlights() <-chan Highlight { return c.highlights }

// Notices returns the one-time notice stream.
func (c *Coordinator) Notices() <-chan Notice { return c.notices }

// TransportState exposes the owned transport's connection state, mainly for
// readiness checks.
func (c *Coordinator) TransportState() transport.State { return c.tr.State() }

// Cursor returns the last cursor value the event loop recorded.
func (c *Coordinator) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Start begins the session: the transport connects in the background and
// the event loop starts serializing inputs. A transport start failure (no
// credential, device busy) is returned directly and nothing is left running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	if err := c.tr.Start(ctx); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	c.metrics.ActiveSessions.Add(ctx, 1)
	go c.loop(ctx)
	return nil
}

// Stop tears the session down: the transport stops cleanly and the event
// loop drains. Safe to call more than once and from multiple goroutines.
func (c *Coordinator) Stop() error {
	err := c.tr.Stop()
	c.mu.Lock()
	started := c.running
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.actions) })
	if started {
		<-c.loopDone
	}
	return err
}

// ManualScroll reports that the user dragged the content to endY. The
// matcher cursor is forced to the word at that position and the next
// automatic update searches a widened window.
func (c *Coordinator) ManualScroll(endY float64) {
	c.enqueue(func() {
		off := c.est.CharForScroll(c.idx.Text(), endY, c.contentHeight)
		w, ok := c.idx.WordAt(off)
		if !ok {
			return
		}
		c.forceCursor(w, "scroll")
	})
}

// SearchJump moves the session to the word at charOffset, as from a search
// result. Unlike ManualScroll the cursor comes straight from the word count
// before the offset, and a scroll command to the new position is emitted.
func (c *Coordinator) SearchJump(charOffset int) {
	c.enqueue(func() {
		w := c.idx.WordsBefore(charOffset)
		if n := c.idx.Len(); n == 0 {
			return
		} else if w >= n {
			w = n - 1
		}
		c.forceCursor(w, "search")
		c.pushCommand(c.commandFor(c.idx.At(w).CharStart))
	})
}

// SetLayout replaces the geometry and total content height. The next scroll
// command uses the freshly computed line estimate.
func (c *Coordinator) SetLayout(cfg layout.Config, contentHeight float64) {
	c.enqueue(func() {
		c.est.SetConfig(cfg)
		c.contentHeight = contentHeight
	})
}

// Reset rewinds tracking to the start of the script.
func (c *Coordinator) Reset() {
	c.enqueue(func() {
		c.matcher.Reset()
		c.setCursor(0)
		c.pushHighlight(Highlight{WordIndex: 0})
		c.pushCommand(c.commandFor(0))
	})
}

// AdvanceToEnd moves tracking to the final word of the script.
func (c *Coordinator) AdvanceToEnd() {
	c.enqueue(func() {
		c.matcher.AdvanceToEnd()
		w := c.matcher.Cursor()
		c.setCursor(w)
		c.pushHighlight(Highlight{WordIndex: w})
		if c.idx.Len() > 0 {
			c.pushCommand(c.commandFor(c.idx.At(w).CharStart))
		}
	})
}

// enqueue hands an action to the event loop. Actions after Stop are dropped.
func (c *Coordinator) enqueue(fn func()) {
	defer func() {
		// Sending on the closed actions channel after Stop; the action is
		// intentionally lost.
		_ = recover()
	}()
	select {
	case c.actions <- fn:
	case <-c.loopDone:
	}
}

// loop is the single timeline every input is serialized through.
func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.loopDone)
	defer c.metrics.ActiveSessions.Add(context.Background(), -1)

	// Poll the stall condition a few times per window so detection latency
	// stays proportional to the configured timeout.
	tick := c.cfg.InactivityTimeout / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	events := c.tr.Events()
	for {
		select {
		case ev := <-events:
			c.handleTransportEvent(ctx, ev)

		case fn, ok := <-c.actions:
			if !ok {
				return
			}
			fn()

		case now := <-ticker.C:
			c.checkStall(ctx, now)

		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) handleTransportEvent(ctx context.Context, ev transport.Event) {
	switch ev.Kind {
	case transport.EventReady:
		c.voiceActive = true
		c.stallNotified = false
		c.lastTranscript = time.Now()
		slog.Info("scroll: voice sync active")

	case transport.EventTranscript:
		now := time.Now()
		if c.voiceActive && !c.lastTranscript.IsZero() {
			c.metrics.RecordTranscriptGap(ctx, now.Sub(c.lastTranscript).Seconds())
		}
		c.lastTranscript = now
		c.stallNotified = false

		adv, ok := c.matcher.Update(ev.Text)
		if !ok {
			return
		}
		c.onAdvance(ctx, adv)

	case transport.EventError:
		// Terminal: settle into manual mode with a single notification. No
		// scroll command is emitted, so the display is never left moving
		// toward a target voice sync no longer stands behind.
		c.voiceActive = false
		c.manualMode = true
		if !c.lostNotified {
			c.lostNotified = true
			c.pushNotice(Notice{Kind: NoticeVoiceSyncLost, Err: ev.Err})
		}
		slog.Warn("scroll: voice sync lost, falling back to manual mode", "error", ev.Err)
	}
}

// onAdvance turns an accepted matcher advance into its highlight and scroll
// command, atomically with the cursor snapshot.
func (c *Coordinator) onAdvance(ctx context.Context, adv align.Advance) {
	c.metrics.RecordMatch(ctx, adv.Score)
	c.setCursor(adv.Cursor)
	c.pushHighlight(Highlight{WordIndex: adv.Cursor})
	c.pushCommand(c.commandFor(c.idx.At(adv.Cursor).CharStart))
}

// commandFor builds the eased command targeting charOffset, with the upward
// bias applied and the result clamped to the scrollable range.
func (c *Coordinator) commandFor(charOffset int) ScrollCommand {
	y := c.est.ScrollForChar(c.idx.Text(), charOffset, c.contentHeight)
	y -= c.cfg.UpwardBias
	if y < -c.contentHeight {
		y = -c.contentHeight
	}
	if y > 0 {
		y = 0
	}
	return ScrollCommand{TargetY: y, Duration: c.cfg.ScrollDuration, Easing: EaseOut}
}

// forceCursor applies a manual override to the matcher and records it.
func (c *Coordinator) forceCursor(w int, kind string) {
	c.matcher.ForceCursor(w)
	c.metrics.RecordManualOverride(context.Background(), kind)
	c.setCursor(c.matcher.Cursor())
	c.pushHighlight(Highlight{WordIndex: c.matcher.Cursor()})
}

// checkStall emits at most one stall notice per quiet period.
func (c *Coordinator) checkStall(ctx context.Context, now time.Time) {
	if !c.voiceActive || c.manualMode || c.stallNotified || c.lastTranscript.IsZero() {
		return
	}
	if now.Sub(c.lastTranscript) < c.cfg.InactivityTimeout {
		return
	}
	c.stallNotified = true
	c.metrics.RecordStall(ctx)
	c.pushNotice(Notice{Kind: NoticeStalled})
	slog.Info("scroll: no transcript activity", "quiet_for", now.Sub(c.lastTranscript))
}

func (c *Coordinator) setCursor(w int) {
	c.mu.Lock()
	c.cursor = w
	c.mu.Unlock()
}

// pushCommand delivers cmd, replacing an undelivered older command so the
// newest target always wins.
func (c *Coordinator) pushCommand(cmd ScrollCommand) {
	for {
		select {
		case c.commands <- cmd:
			return
		default:
			select {
			case <-c.commands:
			default:
			}
		}
	}
}

// pushHighlight delivers h, replacing an undelivered older highlight.
func (c *Coordinator) pushHighlight(h Highlight) {
	for {
		select {
		case c.highlights <- h:
			return
		default:
			select {
			case <-c.highlights:
			default:
			}
		}
	}
}

// pushNotice delivers a notice without blocking the loop.
func (c *Coordinator) pushNotice(n Notice) {
	select {
	case c.notices <- n:
	default:
	}
}
