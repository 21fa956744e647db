package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/murmurlabs/murmur/pkg/errorsx"
	"github.com/murmurlabs/murmur/pkg/frames"
	"github.com/murmurlabs/murmur/pkg/transports"
)

// Config holds the websocket ingress settings. Binary messages carry raw
// PCM audio; text messages carry JSON boundary events from the caller's
// voice activity detector.
type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	StreamPath     string   `mapstructure:"stream_path"`
	SampleRate     int      `mapstructure:"samplerate"`
	NumChannels    int      `mapstructure:"num_channels"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.StreamPath == "" {
		c.StreamPath = "/stream"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.NumChannels == 0 {
		c.NumChannels = 1
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// clientEvent is one inbound JSON message on the stream socket.
type clientEvent struct {
	Event string `json:"event"`
}

// transcriptMessage is the outbound payload for a completed utterance.
type transcriptMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Degraded  bool   `json:"degraded,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type triggerMessage struct {
	Type string `json:"type"`
}

// Transport is the websocket ingress: one socket per caller, one stream
// per socket. It turns socket traffic into frames and emitted transcript
// frames back into JSON messages.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	recvCh   chan frames.Frame

	mu       sync.Mutex
	sessions map[string]*session
	traceIDs map[string]string

	draining atomic.Bool
	stopped  atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		recvCh:   make(chan frames.Frame, 512),
		sessions: make(map[string]*session),
		traceIDs: make(map[string]string),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "wsserver" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"stream_path": t.cfg.StreamPath,
		"addr":        t.cfg.ServerAddr,
	}
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.StreamPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("wsserver_transport_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	for _, sess := range t.sessions {
		_ = sess.close()
	}
	t.sessions = make(map[string]*session)
	close(t.recvCh)
	t.mu.Unlock()
	return nil
}

// deliver hands an inbound frame to the engine without blocking the read
// loop. Held under the lock so a late reader cannot race the channel close
// in Stop.
func (t *Transport) deliver(f frames.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped.Load() {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	streamID := uuid.NewString()
	traceID := uuid.NewString()
	t.attach(streamID, traceID, conn)
	defer t.detach(streamID)

	slog.Info("stream_connected", "stream_id", streamID, "trace_id", traceID, "remote", r.RemoteAddr)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch mt {
		case websocket.BinaryMessage:
			if len(msg) == 0 {
				continue
			}
			af := frames.NewAudioFrameFromPool(streamID, time.Now().UnixNano(), msg,
				t.cfg.SampleRate, t.cfg.NumChannels, t.metaForStream(streamID))
			t.deliver(af)
		case websocket.TextMessage:
			var evt clientEvent
			if err := json.Unmarshal(msg, &evt); err != nil {
				continue
			}
			switch evt.Event {
			case "speech_start":
				t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(),
					frames.SystemSpeechStart, t.metaForStream(streamID)))
			case "speech_stop":
				t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(),
					frames.SystemSpeechStop, t.metaForStream(streamID)))
			case "stop":
				t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(),
					frames.SystemSessionEnd, t.metaForStream(streamID)))
				return
			}
		}
	}
	// socket died without a clean stop event
	t.deliver(frames.NewSystemFrame(streamID, time.Now().UnixNano(),
		frames.SystemSessionEnd, t.metaForStream(streamID)))
}

// Send routes emitted frames back to the owning socket. Transcripts become
// typed JSON messages; run-response triggers become a bare type marker;
// everything else stays inside the pipeline.
func (t *Transport) Send(f frames.Frame) error {
	streamID := f.Meta()[frames.MetaStreamID]
	sess := t.session(streamID)
	if sess == nil {
		return nil
	}
	switch f.Kind() {
	case frames.KindText:
		tf := f.(frames.TextFrame)
		meta := tf.Meta()
		return sess.enqueue(transcriptMessage{
			Type:      "transcript",
			Text:      tf.Text(),
			Degraded:  meta[frames.MetaDegraded] == "true",
			Timestamp: meta[frames.MetaTimestamp],
		})
	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		if cf.Code() == frames.ControlRunResponse {
			return sess.enqueue(triggerMessage{Type: "run_response"})
		}
		return nil
	default:
		return nil
	}
}

func (t *Transport) attach(streamID, traceID string, conn *websocket.Conn) {
	sess := &session{
		conn:   conn,
		sendCh: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	t.mu.Lock()
	t.sessions[streamID] = sess
	t.traceIDs[streamID] = traceID
	t.mu.Unlock()
	go sess.loop()
}

func (t *Transport) detach(streamID string) {
	t.mu.Lock()
	sess := t.sessions[streamID]
	delete(t.sessions, streamID)
	delete(t.traceIDs, streamID)
	t.mu.Unlock()
	if sess != nil {
		_ = sess.close()
	}
}

func (t *Transport) session(streamID string) *session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[streamID]
}

func (t *Transport) metaForStream(streamID string) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta := map[string]string{
		frames.MetaStreamID: streamID,
		frames.MetaSource:   "transport",
	}
	if v := t.traceIDs[streamID]; v != "" {
		meta[frames.MetaTraceID] = v
	}
	return meta
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

type session struct {
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func (s *session) enqueue(msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	if s.closed.Load() {
		return errorsx.New("stream socket closed", errorsx.ReasonTransportSend)
	}
	select {
	case s.sendCh <- b:
		return nil
	case <-s.done:
		return errorsx.New("stream socket closed", errorsx.ReasonTransportSend)
	default:
		// send buffer full: the client is not reading fast enough
		return nil
	}
}

func (s *session) loop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendCh:
			_ = s.conn.WriteMessage(websocket.TextMessage, msg)
		}
	}
}

func (s *session) close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
	return s.conn.Close()
}

var _ transports.Transport = (*Transport)(nil)
var _ transports.ReadyReporter = (*Transport)(nil)
