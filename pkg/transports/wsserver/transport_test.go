package wsserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/murmurlabs/murmur/pkg/errorsx"
	"github.com/murmurlabs/murmur/pkg/frames"
)

func dialStream(t *testing.T, tr *Transport) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(tr)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func recvFrame(t *testing.T, tr *Transport) frames.Frame {
	t.Helper()
	select {
	case f := <-tr.Recv():
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestBoundaryEventsBecomeSystemFrames(t *testing.T) {
	tr := New(Config{})
	conn := dialStream(t, tr)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"speech_start"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := recvFrame(t, tr)
	sf, ok := f.(frames.SystemFrame)
	if !ok || sf.Name() != frames.SystemSpeechStart {
		t.Fatalf("expected speech_start system frame, got %#v", f)
	}
	if sf.Meta()[frames.MetaStreamID] == "" {
		t.Error("stream id not assigned")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"speech_stop"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f = recvFrame(t, tr)
	if sf, ok := f.(frames.SystemFrame); !ok || sf.Name() != frames.SystemSpeechStop {
		t.Fatalf("expected speech_stop system frame, got %#v", f)
	}
}

func TestBinaryMessagesBecomeAudioFrames(t *testing.T) {
	tr := New(Config{SampleRate: 8000, NumChannels: 2})
	conn := dialStream(t, tr)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := recvFrame(t, tr)
	af, ok := f.(frames.AudioFrame)
	if !ok {
		t.Fatalf("expected audio frame, got %#v", f)
	}
	if af.Rate() != 8000 || af.Channels() != 2 {
		t.Errorf("audio config not propagated: rate=%d channels=%d", af.Rate(), af.Channels())
	}
	if len(af.Data()) != 4 {
		t.Errorf("payload = %d bytes", len(af.Data()))
	}
}

func TestDisconnectEmitsSessionEnd(t *testing.T) {
	tr := New(Config{})
	conn := dialStream(t, tr)
	_ = conn.Close()

	f := recvFrame(t, tr)
	if sf, ok := f.(frames.SystemFrame); !ok || sf.Name() != frames.SystemSessionEnd {
		t.Fatalf("expected session_end frame, got %#v", f)
	}
}

func TestSendTranscriptAndTrigger(t *testing.T) {
	tr := New(Config{})
	sess := &session{sendCh: make(chan []byte, 4), done: make(chan struct{})}
	tr.mu.Lock()
	tr.sessions["stream-1"] = sess
	tr.mu.Unlock()

	tf := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "hello there", map[string]string{
		frames.MetaDegraded:  "true",
		frames.MetaTimestamp: "2026-08-24T00:00:00Z",
	})
	if err := tr.Send(tf); err != nil {
		t.Fatalf("send: %v", err)
	}
	cf := frames.NewControlFrame("stream-1", time.Now().UnixNano(), frames.ControlRunResponse, nil)
	if err := tr.Send(cf); err != nil {
		t.Fatalf("send: %v", err)
	}

	var msg transcriptMessage
	if err := json.Unmarshal(<-sess.sendCh, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "transcript" || msg.Text != "hello there" || !msg.Degraded {
		t.Fatalf("transcript message = %+v", msg)
	}

	var trig triggerMessage
	if err := json.Unmarshal(<-sess.sendCh, &trig); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if trig.Type != "run_response" {
		t.Fatalf("trigger message = %+v", trig)
	}
}

func TestSendToClosedSessionReturnsTypedError(t *testing.T) {
	tr := New(Config{})
	srv := httptest.NewServer(tr)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	sess := &session{conn: conn, sendCh: make(chan []byte, 4), done: make(chan struct{})}
	tr.mu.Lock()
	tr.sessions["stream-1"] = sess
	tr.mu.Unlock()
	_ = sess.close()

	tf := frames.NewTextFrame("stream-1", time.Now().UnixNano(), "too late", nil)
	if err := tr.Send(tf); !errorsx.HasReason(err, errorsx.ReasonTransportSend) {
		t.Fatalf("expected transport_send reason, got %v", err)
	}
}

func TestSendToUnknownStreamIsNoop(t *testing.T) {
	tr := New(Config{})
	tf := frames.NewTextFrame("missing", time.Now().UnixNano(), "text", nil)
	if err := tr.Send(tf); err != nil {
		t.Fatalf("send to unknown stream must not error: %v", err)
	}
}

func TestOriginFiltering(t *testing.T) {
	tr := New(Config{AllowedOrigins: []string{"example.com"}})

	req := httptest.NewRequest(http.MethodGet, "http://example.com/stream", nil)
	req.Header.Set("Origin", "https://example.com")
	if !tr.checkOrigin(req) {
		t.Error("allowed origin rejected")
	}

	req.Header.Set("Origin", "https://evil.example.org")
	if tr.checkOrigin(req) {
		t.Error("unknown origin accepted")
	}
}
