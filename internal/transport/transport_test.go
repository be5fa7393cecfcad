package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voicecue/voicecue/pkg/audio"
	audiomock "github.com/voicecue/voicecue/pkg/audio/mock"
)

// fakeProvider is a scripted streaming endpoint. Each accepted connection is
// handled by handler; incoming messages can be captured via the channels.
type fakeProvider struct {
	srv *httptest.Server

	mu      sync.Mutex
	accepts int

	texts  chan []byte // text messages received from the client
	binary chan []byte // binary frames received from the client
}

func newFakeProvider(t *testing.T, handler func(p *fakeProvider, c *websocket.Conn)) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		texts:  make(chan []byte, 64),
		binary: make(chan []byte, 64),
	}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.accepts++
		p.mu.Unlock()
		handler(p, c)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *fakeProvider) acceptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepts
}

// pump reads client messages into the capture channels until the connection
// drops.
func (p *fakeProvider) pump(c *websocket.Conn) {
	for {
		typ, data, err := c.Read(context.Background())
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageText:
			p.texts <- data
		case websocket.MessageBinary:
			p.binary <- data
		}
	}
}

func send(c *websocket.Conn, raw string) {
	_ = c.Write(context.Background(), websocket.MessageText, []byte(raw))
}

func newTestTransport(t *testing.T, cfg Config) (*Transport, *audiomock.Source) {
	t.Helper()
	src := audiomock.NewSource()
	dev := audio.NewDevice(func() (audio.Source, error) { return src, nil })
	return New(cfg, dev), src
}

func waitEvent(t *testing.T, tr *Transport, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-tr.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func waitState(t *testing.T, tr *Transport, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tr.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", tr.State(), want)
}

func TestStart_NoCredential(t *testing.T) {
	t.Parallel()

	opened := false
	dev := audio.NewDevice(func() (audio.Source, error) {
		opened = true
		return audiomock.NewSource(), nil
	})
	tr := New(Config{Endpoint: "ws://127.0.0.1:0"}, dev)

	err := tr.Start(context.Background())
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("Start error = %v, want ErrNoCredential", err)
	}
	if opened {
		t.Error("device must not be touched when no credential is configured")
	}
	if tr.State() != StateIdle {
		t.Errorf("state = %v, want idle", tr.State())
	}
}

func TestStart_StreamingAndTranscripts(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, func(p *fakeProvider, c *websocket.Conn) {
		send(c, `{"type":"Begin","id":"sess-1"}`)
		send(c, `{"type":"Turn","transcript":"hello everyone","end_of_turn":false}`)
		send(c, `{"type":"Turn","transcript":"hello everyone welcome","end_of_turn":true}`)
		p.pump(c)
	})

	tr, _ := newTestTransport(t, Config{APIKey: "key", Endpoint: p.url()})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	waitEvent(t, tr, EventReady)
	waitState(t, tr, StateStreaming)

	ev := waitEvent(t, tr, EventTranscript)
	if ev.Text != "hello everyone" || ev.EndOfTurn {
		t.Errorf("first transcript = %+v", ev)
	}
	ev = waitEvent(t, tr, EventTranscript)
	if ev.Text != "hello everyone welcome" || !ev.EndOfTurn {
		t.Errorf("second transcript = %+v", ev)
	}
}

func TestStart_WhileActive(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, func(p *fakeProvider, c *websocket.Conn) {
		send(c, `{"type":"Begin"}`)
		p.pump(c)
	})

	tr, _ := newTestTransport(t, Config{APIKey: "key", Endpoint: p.url()})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()
	waitEvent(t, tr, EventReady)

	if err := tr.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStop_CleanTerminateNoError(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, func(p *fakeProvider, c *websocket.Conn) {
		send(c, `{"type":"Begin"}`)
		p.pump(c)
	})

	tr, src := newTestTransport(t, Config{APIKey: "key", Endpoint: p.url()})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, tr, EventReady)

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if tr.State() != StateIdle {
		t.Errorf("state = %v after Stop, want idle", tr.State())
	}
	if src.Closes() != 1 {
		t.Errorf("source closed %d times, want 1", src.Closes())
	}

	// The provider must have received the clean termination message.
	select {
	case msg := <-p.texts:
		if !strings.Contains(string(msg), "Terminate") {
			t.Errorf("termination message = %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Error("provider never received the Terminate message")
	}

	// A deliberate stop never produces a user-visible error.
	select {
	case ev := <-tr.Events():
		if ev.Kind == EventError {
			t.Errorf("spurious error after deliberate stop: %v", ev.Err)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStop_ConcurrentCallersJoinCleanup(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, func(p *fakeProvider, c *websocket.Conn) {
		send(c, `{"type":"Begin"}`)
		p.pump(c)
	})

	tr, src := newTestTransport(t, Config{APIKey: "key", Endpoint: p.url()})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitEvent(t, tr, EventReady)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tr.Stop()
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Stop[%d] = %v, want nil", i, err)
		}
	}
	if src.Closes() != 1 {
		t.Errorf("source closed %d times, want exactly 1", src.Closes())
	}
	if tr.State() != StateIdle {
		t.Errorf("state = %v, want idle", tr.State())
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	tr, _ := newTestTransport(t, Config{APIKey: "key", Endpoint: "ws://127.0.0.1:0"})
	if err := tr.Stop(); err != nil {
		t.Errorf("Stop before Start = %v, want nil", err)
	}
	if err := tr.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
}

func TestReconnect_ExhaustionEmitsSingleSessionLost(t *testing.T) {
	t.Parallel()

	// Every connection is dropped before the Begin acknowledgment.
	p := newFakeProvider(t, func(p *fakeProvider, c *websocket.Conn) {
		c.Close(websocket.StatusInternalError, "dropping")
	})

	tr, src := newTestTransport(t, Config{
		APIKey:               "key",
		Endpoint:             p.url(),
		ConnectTimeout:       2 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Millisecond,
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ev := waitEvent(t, tr, EventError)
	if !errors.Is(ev.Err, ErrSessionLost) {
		t.Fatalf("terminal error = %v, want ErrSessionLost", ev.Err)
	}

	waitState(t, tr, StateIdle)
	if src.Closes() != 1 {
		t.Errorf("source closed %d times, want 1 (device released)", src.Closes())
	}
	if n := p.acceptCount(); n != 5 {
		t.Errorf("provider saw %d connections, want 5 (initial + 4 reconnects)", n)
	}

	// Exactly one terminal error per failure episode.
	select {
	case ev := <-tr.Events():
		if ev.Kind == EventError {
			t.Errorf("duplicate terminal error: %v", ev.Err)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConnectTimeout_NoAcknowledgment(t *testing.T) {
	t.Parallel()

	// The provider accepts but never acknowledges session start.
	p := newFakeProvider(t, func(p *fakeProvider, c *websocket.Conn) {
		p.pump(c)
	})

	tr, _ := newTestTransport(t, Config{
		APIKey:               "key",
		Endpoint:             p.url(),
		ConnectTimeout:       50 * time.Millisecond,
		MaxReconnectAttempts: 1,
		ReconnectBaseDelay:   time.Millisecond,
	})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ev := waitEvent(t, tr, EventError)
	if !errors.Is(ev.Err, ErrSessionLost) {
		t.Fatalf("terminal error = %v, want ErrSessionLost", ev.Err)
	}
	waitState(t, tr, StateIdle)
}

func TestMalformedMessageKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, func(p *fakeProvider, c *websocket.Conn) {
		send(c, `{"type":"Begin"}`)
		send(c, `this is not json`)
		send(c, `{"no_type_field":true}`)
		send(c, `{"type":"Turn","transcript":"still here","end_of_turn":true}`)
		p.pump(c)
	})

	tr, _ := newTestTransport(t, Config{APIKey: "key", Endpoint: p.url()})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	waitEvent(t, tr, EventReady)
	ev := waitEvent(t, tr, EventTranscript)
	if ev.Text != "still here" {
		t.Errorf("transcript after malformed messages = %q", ev.Text)
	}
}

func TestPreAckFramesDropped(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := newFakeProvider(t, func(p *fakeProvider, c *websocket.Conn) {
		<-release
		send(c, `{"type":"Begin"}`)
		p.pump(c)
	})

	tr, src := newTestTransport(t, Config{APIKey: "key", Endpoint: p.url()})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	// Captured before the acknowledgment: must be dropped.
	src.Push(audio.Frame{PCM: []byte("pre"), SampleRate: 16000})
	time.Sleep(150 * time.Millisecond)
	close(release)

	waitEvent(t, tr, EventReady)
	src.Push(audio.Frame{PCM: []byte("post"), SampleRate: 16000})

	select {
	case got := <-p.binary:
		if string(got) != "post" {
			t.Errorf("first forwarded frame = %q, want the post-ack frame", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("provider never received the post-ack frame")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	base := 1000 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1000 * time.Millisecond},
		{2, 2000 * time.Millisecond},
		{3, 4000 * time.Millisecond},
		{4, 8000 * time.Millisecond},
		{0, 0},
	}
	for _, tt := range tests {
		if got := BackoffDelay(base, tt.attempt); got != tt.want {
			t.Errorf("BackoffDelay(%v, %d) = %v, want %v", base, tt.attempt, got, tt.want)
		}
	}
}

func TestSessionURL(t *testing.T) {
	t.Parallel()

	u, err := sessionURL("wss://example.com/v3/ws", 16000)
	if err != nil {
		t.Fatalf("sessionURL: %v", err)
	}
	if !strings.Contains(u, "sample_rate=16000") || !strings.Contains(u, "encoding=pcm_s16le") {
		t.Errorf("sessionURL = %q, missing negotiated parameters", u)
	}
}
