package scroll

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voicecue/voicecue/internal/layout"
	"github.com/voicecue/voicecue/internal/script"
	"github.com/voicecue/voicecue/internal/transport"
	"github.com/voicecue/voicecue/pkg/audio"
	audiomock "github.com/voicecue/voicecue/pkg/audio/mock"
)

// testScript has a known word and line geometry: with the testLayout config
// (20 chars per line) it wraps to 7 visual lines.
const testScript = "the quick brown fox jumps over the lazy dog\n" +
	"pack my box with five dozen liquor jugs\n" +
	"how vexingly quick daft zebras jump"

func testLayout() layout.Config {
	return layout.Config{FontSize: 20, ContainerWidth: 240, Margin: 10}
}

// fakeProvider is a scripted transcription endpoint driven by the handler.
type fakeProvider struct {
	srv *httptest.Server
}

func newFakeProvider(t *testing.T, handler func(c *websocket.Conn)) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		handler(c)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

// keepOpen sends the session acknowledgment plus any extra messages, then
// holds the connection open until the client closes it.
func keepOpen(extra ...string) func(c *websocket.Conn) {
	return func(c *websocket.Conn) {
		ctx := context.Background()
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Begin"}`))
		for _, raw := range extra {
			_ = c.Write(ctx, websocket.MessageText, []byte(raw))
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}
}

func newTestCoordinator(t *testing.T, endpoint string, cfg Config) *Coordinator {
	t.Helper()
	cfg.Transport.APIKey = "key"
	cfg.Transport.Endpoint = endpoint
	if cfg.Layout == (layout.Config{}) {
		cfg.Layout = testLayout()
	}
	if cfg.ContentHeight == 0 {
		cfg.ContentHeight = 700
	}
	dev := audio.NewDevice(func() (audio.Source, error) { return audiomock.NewSource(), nil })
	c := New(cfg, script.NewIndex(testScript), dev)
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func waitCommand(t *testing.T, c *Coordinator) ScrollCommand {
	t.Helper()
	select {
	case cmd := <-c.Commands():
		return cmd
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a scroll command")
		return ScrollCommand{}
	}
}

func waitCursor(t *testing.T, c *Coordinator, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.Cursor() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("cursor = %d, want %d", c.Cursor(), want)
}

func TestVoiceAdvanceEmitsCommandAndHighlight(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, keepOpen(
		`{"type":"Turn","transcript":"the quick brown fox","end_of_turn":false}`,
	))
	c := newTestCoordinator(t, p.url(), Config{ScrollDuration: 250 * time.Millisecond})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitCursor(t, c, 3)

	cmd := waitCommand(t, c)
	if cmd.TargetY > 0 {
		t.Errorf("TargetY = %v, want <= 0", cmd.TargetY)
	}
	if cmd.Duration != 250*time.Millisecond {
		t.Errorf("Duration = %v, want 250ms", cmd.Duration)
	}
	if cmd.Easing != EaseOut {
		t.Errorf("Easing = %q, want %q", cmd.Easing, EaseOut)
	}

	select {
	case h := <-c.Highlights():
		if h.WordIndex != 3 {
			t.Errorf("highlight word = %d, want 3", h.WordIndex)
		}
	case <-time.After(2 * time.Second):
		t.Error("no highlight emitted for the advance")
	}
}

func TestManualScrollForcesCursor(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, keepOpen())
	c := newTestCoordinator(t, p.url(), Config{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 4/7 of the content height lands on the second visual line of the
	// middle source line, whose line-start offset sits inside "five".
	c.ManualScroll(-400)
	waitCursor(t, c, 13)
}

func TestSearchJumpScrollsToWord(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, keepOpen())
	c := newTestCoordinator(t, p.url(), Config{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	liquor := strings.Index(testScript, "liquor")
	c.SearchJump(liquor)
	waitCursor(t, c, 15)

	cmd := waitCommand(t, c)
	if cmd.TargetY > -100 {
		t.Errorf("TargetY = %v, want a position well below the top", cmd.TargetY)
	}
}

func TestResetRewindsToStart(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, keepOpen())
	c := newTestCoordinator(t, p.url(), Config{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.SearchJump(strings.Index(testScript, "zebras"))
	waitCursor(t, c, 21)
	_ = waitCommand(t, c) // consume the jump's command

	c.Reset()
	waitCursor(t, c, 0)
	cmd := waitCommand(t, c)
	if cmd.TargetY < -float64(DefaultUpwardBias) {
		t.Errorf("TargetY = %v after reset, want near the top", cmd.TargetY)
	}
}

func TestSetLayoutChangesMapping(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, keepOpen())
	c := newTestCoordinator(t, p.url(), Config{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	target := strings.Index(testScript, "zebras")
	c.SearchJump(target)
	waitCursor(t, c, 21)
	first := waitCommand(t, c)

	// Doubling the content height moves the same word's target further down.
	c.SetLayout(testLayout(), 1400)
	c.SearchJump(target)
	second := waitCommand(t, c)
	if second.TargetY >= first.TargetY {
		t.Errorf("TargetY after height change = %v, want below %v", second.TargetY, first.TargetY)
	}
}

func TestTerminalTransportErrorSingleNotice(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, func(c *websocket.Conn) {
		c.Close(websocket.StatusInternalError, "dropping")
	})
	c := newTestCoordinator(t, p.url(), Config{
		Transport: transport.Config{
			MaxReconnectAttempts: 2,
			ReconnectBaseDelay:   time.Millisecond,
		},
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case n := <-c.Notices():
		if n.Kind != NoticeVoiceSyncLost {
			t.Fatalf("notice kind = %d, want NoticeVoiceSyncLost", n.Kind)
		}
		if !errors.Is(n.Err, transport.ErrSessionLost) {
			t.Errorf("notice error = %v, want ErrSessionLost", n.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no voice-sync-lost notice emitted")
	}

	// Manual control keeps working after the fallback.
	c.SearchJump(strings.Index(testScript, "liquor"))
	waitCursor(t, c, 15)

	select {
	case n := <-c.Notices():
		t.Errorf("duplicate notice: kind %d", n.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStallNoticeOnQuietSession(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, keepOpen())
	c := newTestCoordinator(t, p.url(), Config{InactivityTimeout: 50 * time.Millisecond})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case n := <-c.Notices():
		if n.Kind != NoticeStalled {
			t.Fatalf("notice kind = %d, want NoticeStalled", n.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no stall notice for a quiet session")
	}

	// One notice per quiet period, not one per tick.
	select {
	case n := <-c.Notices():
		t.Errorf("duplicate stall notice: kind %d", n.Kind)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, keepOpen())
	c := newTestCoordinator(t, p.url(), Config{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
}

func TestStartTwice(t *testing.T) {
	t.Parallel()

	p := newFakeProvider(t, keepOpen())
	c := newTestCoordinator(t, p.url(), Config{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}
