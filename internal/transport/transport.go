// Package transport owns the live connection to the streaming transcription
// provider.
//
// It normalizes the provider's WebSocket session into a typed event stream
// (ready, transcript text, error) and handles the whole connection
// lifecycle: connect timeout, exponential-backoff reconnects up to an
// attempt cap, clean termination, and exclusive ownership of the audio
// capture device. The device is released on every exit path.
//
// A Transport moves through the states Idle → Connecting → Streaming →
// Stopping → Idle, with Error reachable from Connecting and Streaming. The
// state is written only by the transport itself; consumers observe progress
// through the event channel.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voicecue/voicecue/internal/observe"
	"github.com/voicecue/voicecue/pkg/audio"
)

// Default configuration values. See [Config] for what each controls.
const (
	DefaultEndpoint             = "wss://streaming.assemblyai.com/v3/ws"
	DefaultSampleRate           = 16000
	DefaultConnectTimeout       = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = time.Second
)

// State is the connection lifecycle state of a [Transport].
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateStopping
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventKind classifies events emitted on [Transport.Events].
type EventKind int

const (
	// EventReady signals that the provider acknowledged session start and
	// audio is being forwarded.
	EventReady EventKind = iota

	// EventTranscript carries committed transcript text.
	EventTranscript

	// EventError carries a terminal error. At most one is emitted per
	// failure episode; transient reconnect noise is never surfaced.
	EventError
)

// Event is a single normalized provider event.
type Event struct {
	Kind EventKind

	// Text is the transcript text for EventTranscript.
	Text string

	// EndOfTurn marks the committed end of a spoken turn.
	EndOfTurn bool

	// Err is the terminal error for EventError.
	Err error
}

// Config holds the named transport options.
type Config struct {
	// APIKey is the provider credential. Required: Start fails fast with
	// [ErrNoCredential] when empty.
	APIKey string

	// Endpoint overrides the streaming endpoint URL. Default:
	// [DefaultEndpoint].
	Endpoint string

	// SampleRate is the PCM sample rate negotiated with the provider.
	// Default: [DefaultSampleRate].
	SampleRate int

	// ConnectTimeout bounds dial plus session-start acknowledgment.
	// Independent from reconnect backoff. Default: [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// MaxReconnectAttempts caps reconnects after unexpected closes; once
	// exhausted a single [ErrSessionLost] event is emitted. Default:
	// [DefaultMaxReconnectAttempts].
	MaxReconnectAttempts int

	// ReconnectBaseDelay is the first backoff delay; attempt n waits
	// base × 2^(n−1). Default: [DefaultReconnectBaseDelay].
	ReconnectBaseDelay time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	return c
}

// BackoffDelay returns the reconnect delay before the given attempt:
// base × 2^(attempt−1).
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base << (attempt - 1)
}

// Transport is the resilient streaming transcription client.
//
// Events are delivered on a single-consumer buffered channel; the consumer
// must drain it promptly. Under sustained backpressure transcript events may
// be dropped (only recency matters for alignment), with a logged warning.
//
// Start and Stop are safe for concurrent use.
type Transport struct {
	cfg     Config
	device  *audio.Device
	events  chan Event
	metrics *observe.Metrics

	mu       sync.Mutex
	state    State
	attempts int
	stopCh   chan struct{}
	stopOnce *sync.Once
	runDone  chan struct{}
}

// New creates a transport over the given audio device. The device is
// acquired on Start and released on every exit path.
func New(cfg Config, device *audio.Device) *Transport {
	return &Transport{
		cfg:     cfg.withDefaults(),
		device:  device,
		events:  make(chan Event, 64),
		metrics: observe.DefaultMetrics(),
	}
}

// Events returns the event stream. Single consumer.
func (t *Transport) Events() <-chan Event { return t.events }

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start acquires the audio device and begins a streaming session in the
// background. Legal only from Idle or Error; a missing credential fails
// fast without touching the device.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateIdle && t.state != StateError {
		return ErrAlreadyStarted
	}
	if t.cfg.APIKey == "" {
		return ErrNoCredential
	}

	src, err := t.device.Acquire()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	t.state = StateConnecting
	t.attempts = 0
	t.stopCh = make(chan struct{})
	t.stopOnce = &sync.Once{}
	t.runDone = make(chan struct{})

	go t.run(ctx, src)
	return nil
}

// Stop requests a clean shutdown and waits for the in-flight cleanup to
// finish. It is idempotent: concurrent callers join the same cleanup
// instead of releasing resources twice, and all resolve successfully.
func (t *Transport) Stop() error {
	t.mu.Lock()
	if t.runDone == nil {
		t.mu.Unlock()
		return nil
	}
	if t.state != StateIdle {
		t.state = StateStopping
	}
	once, stopCh, done := t.stopOnce, t.stopCh, t.runDone
	t.mu.Unlock()

	once.Do(func() { close(stopCh) })
	<-done
	return nil
}

// run owns one Start episode: session attempts, reconnect scheduling, and
// final resource release.
func (t *Transport) run(ctx context.Context, src audio.Source) {
	defer close(t.runDone)

	frames := src.Frames()
	// Release closes the source; draining the closed channel lets its
	// producer goroutine finish before Stop returns.
	defer audio.Drain(frames)
	defer t.device.Release()

	for {
		err := t.session(ctx, frames)
		if err == nil || t.stopRequested() || ctx.Err() != nil {
			break
		}

		t.mu.Lock()
		t.attempts++
		attempt := t.attempts
		t.state = StateConnecting
		t.mu.Unlock()

		if attempt >= t.cfg.MaxReconnectAttempts {
			slog.Error("transport: reconnect attempts exhausted",
				"attempts", attempt,
				"error", err,
			)
			t.setState(StateError)
			t.emit(Event{Kind: EventError, Err: ErrSessionLost})
			break
		}

		delay := BackoffDelay(t.cfg.ReconnectBaseDelay, attempt)
		slog.Warn("transport: session ended unexpectedly, scheduling reconnect",
			"attempt", attempt,
			"max_attempts", t.cfg.MaxReconnectAttempts,
			"backoff", delay,
			"error", err,
		)
		t.metrics.RecordReconnectAttempt(ctx)

		select {
		case <-time.After(delay):
		case <-t.stopCh:
			// stop during backoff
		case <-ctx.Done():
		}
		if t.stopRequested() || ctx.Err() != nil {
			break
		}
	}

	t.setState(StateIdle)
}

// session runs a single connect-acknowledge-stream episode. A nil return
// means the session ended deliberately; any error is an unexpected end the
// run loop may retry.
func (t *Transport) session(ctx context.Context, frames <-chan audio.Frame) error {
	u, err := sessionURL(t.cfg.Endpoint, t.cfg.SampleRate)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", t.cfg.APIKey)

	dialCtx, cancelDial := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	conn, _, err := websocket.Dial(dialCtx, u, &websocket.DialOptions{HTTPHeader: header})
	cancelDial()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	defer conn.Close(websocket.StatusInternalError, "session ended")

	// Shutdown watcher: a deliberate stop sends the Terminate message and
	// closes the socket cleanly, which unblocks the read loop below.
	go func() {
		select {
		case <-t.stopCh:
			_ = conn.Write(context.Background(), websocket.MessageText, terminateMessage())
			_ = conn.Close(websocket.StatusNormalClosure, "stopping")
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "context cancelled")
		case <-sessionDone:
		}
	}()

	// Writer: frames captured before the Begin acknowledgment are dropped
	// to avoid provider desync; after it, forward binary PCM.
	ready := make(chan struct{})
	go func() {
		started := false
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					return
				}
				if !started {
					select {
					case <-ready:
						started = true
					default:
						continue
					}
				}
				if err := conn.Write(ctx, websocket.MessageBinary, f.PCM); err != nil {
					return
				}
			case <-sessionDone:
				return
			}
		}
	}()

	// The Begin acknowledgment must arrive within the connect timeout.
	ackCtx, cancelAck := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancelAck()
	readCtx := ackCtx
	acked := false

	for {
		_, data, err := conn.Read(readCtx)
		if err != nil {
			if t.stopRequested() {
				return nil
			}
			if !acked {
				if ackCtx.Err() != nil && ctx.Err() == nil {
					return ErrConnectTimeout
				}
				return fmt.Errorf("%w: %v", ErrConnect, err)
			}
			return fmt.Errorf("transport: unexpected close: %w", err)
		}

		msg, perr := parseServerMessage(data)
		if perr != nil {
			slog.Warn("transport: ignoring malformed provider message", "error", perr)
			t.metrics.RecordProtocolError(ctx)
			continue
		}

		switch msg.Type {
		case msgBegin:
			if acked {
				continue
			}
			acked = true
			cancelAck()
			readCtx = ctx
			close(ready)

			t.mu.Lock()
			t.state = StateStreaming
			t.attempts = 0
			t.mu.Unlock()

			slog.Info("transport: session started", "session_id", msg.ID)
			t.emit(Event{Kind: EventReady})

		case msgTurn:
			t.metrics.RecordTranscript(ctx, msg.EndOfTurn)
			t.emit(Event{Kind: EventTranscript, Text: msg.Transcript, EndOfTurn: msg.EndOfTurn})

		case msgError:
			return fmt.Errorf("%w: provider error: %s", ErrConnect, msg.Error)

		default:
			slog.Debug("transport: ignoring provider message", "type", msg.Type)
		}
	}
}

// stopRequested reports whether Stop has been called for this episode.
func (t *Transport) stopRequested() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

// setState transitions the state under the lock.
func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// emit delivers an event without ever blocking the session goroutine.
func (t *Transport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		slog.Warn("transport: event buffer full, dropping event", "kind", ev.Kind)
	}
}
