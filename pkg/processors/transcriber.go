package processors

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/murmurlabs/murmur/pkg/adapters/stt"
	"github.com/murmurlabs/murmur/pkg/errorsx"
	"github.com/murmurlabs/murmur/pkg/frames"
	"github.com/murmurlabs/murmur/pkg/metrics"
	"github.com/murmurlabs/murmur/pkg/pipeline"
	"github.com/murmurlabs/murmur/pkg/redact"
	"github.com/murmurlabs/murmur/pkg/resilience"
	"github.com/murmurlabs/murmur/pkg/transcript"
	"github.com/murmurlabs/murmur/pkg/turn"
)

// defaultDrainGrace bounds how long a turn waits for final tokens after
// the end-of-audio sentinel before emitting whatever has arrived.
const defaultDrainGrace = 500 * time.Millisecond

// audioLogEvery throttles the per-chunk debug log.
const audioLogEvery = 50

// Transcriber owns the turn lifecycle for each stream: it opens a fresh
// recognition session at every speech start, forwards audio while
// listening, and on speech stop drains the token tail, renders the
// utterance and emits exactly one transcript frame plus a run-response
// trigger. Connection failures degrade the turn, never the pipeline.
type Transcriber struct {
	mu         sync.Mutex
	sessions   map[string]stt.StreamingSTT
	machines   map[string]*turn.Machine
	accs       map[string]*transcript.Accumulator
	trace      map[string]string
	audioCount map[string]int
	sendWarned map[string]bool
	factory    func(streamID string) stt.StreamingSTT
	ctx        context.Context
	obs        metrics.Observer
	retry      resilience.RetryPolicy
	breaker    *resilience.CircuitBreaker
	drainGrace time.Duration
}

func NewTranscriber(factory func(streamID string) stt.StreamingSTT) *Transcriber {
	return &Transcriber{
		sessions:   make(map[string]stt.StreamingSTT),
		machines:   make(map[string]*turn.Machine),
		accs:       make(map[string]*transcript.Accumulator),
		trace:      make(map[string]string),
		audioCount: make(map[string]int),
		sendWarned: make(map[string]bool),
		factory:    factory,
		retry:      resilience.NewRetryPolicy(2, 200*time.Millisecond),
		breaker:    resilience.NewCircuitBreaker(3, 30*time.Second),
		drainGrace: defaultDrainGrace,
	}
}

func (p *Transcriber) Name() string { return "transcriber" }

func (p *Transcriber) SetObserver(obs metrics.Observer) { p.obs = obs }

func (p *Transcriber) SetContext(ctx context.Context) {
	if ctx != nil {
		p.ctx = ctx
	}
}

// SetDrainGrace overrides the post-utterance drain window.
func (p *Transcriber) SetDrainGrace(d time.Duration) {
	if d > 0 {
		p.drainGrace = d
	}
}

func (p *Transcriber) Process(f frames.Frame) ([]frames.Frame, error) {
	meta := f.Meta()
	streamID := meta[frames.MetaStreamID]
	if v := meta[frames.MetaTraceID]; v != "" {
		p.setTrace(streamID, v)
	}

	switch f.Kind() {
	case frames.KindSystem:
		sf := f.(frames.SystemFrame)
		switch sf.Name() {
		case frames.SystemSpeechStart:
			return p.handleSpeechStart(sf, streamID), nil
		case frames.SystemSpeechStop:
			return p.handleSpeechStop(sf, streamID), nil
		case frames.SystemSessionEnd:
			p.CloseStream(streamID)
			return []frames.Frame{f}, nil
		}
		return []frames.Frame{f}, nil
	case frames.KindAudio:
		return p.handleAudio(f.(frames.AudioFrame), streamID), nil
	default:
		return []frames.Frame{f}, nil
	}
}

// handleSpeechStart resets utterance state and opens a fresh recognition
// session. A start while already listening restarts the turn: the old
// session is torn down so stale tokens cannot leak into the new turn.
func (p *Transcriber) handleSpeechStart(sf frames.SystemFrame, streamID string) []frames.Frame {
	machine := p.machineFor(streamID)
	if err := machine.Transition(turn.StateListening, "speech_start"); err != nil {
		slog.Debug("turn_transition_rejected", "stream_id", streamID, "error", err.Error())
		return []frames.Frame{sf}
	}
	p.accFor(streamID).Reset()
	p.closeSession(streamID)

	if !p.breaker.Allow() {
		slog.Info("stt_circuit_open", "stream_id", streamID, "trace_id", p.getTrace(streamID))
		p.record(metrics.EventConnectFailed, streamID)
		return []frames.Frame{sf}
	}
	if err := p.openSession(streamID); err != nil {
		// stay in LISTENING: audio is dropped but the turn still
		// completes (empty) at the stop boundary
		slog.Warn("stt_session_error",
			"stream_id", streamID,
			"trace_id", p.getTrace(streamID),
			"reason_code", string(errorsx.Reason(err)),
			"error", err.Error())
		p.record(metrics.EventConnectFailed, streamID)
		p.breaker.OnError()
		return []frames.Frame{sf}
	}
	p.breaker.OnSuccess()
	return []frames.Frame{sf}
}

// handleAudio forwards one chunk to the live session and passes the frame
// through unchanged. Send failures close the session for the rest of the
// turn; the chunk is dropped, not retried, because audio is only useful
// in real time.
func (p *Transcriber) handleAudio(af frames.AudioFrame, streamID string) []frames.Frame {
	p.drainPending(streamID)

	machine := p.machineFor(streamID)
	if machine.State() != turn.StateListening {
		return []frames.Frame{af}
	}

	sess := p.session(streamID)
	if sess != nil {
		p.record(metrics.EventAudioIn, streamID)
		if err := sess.SendAudio(af); err != nil {
			err = errorsx.Wrap(err, errorsx.ReasonSTTSend)
			p.warnSendOnce(streamID, err)
			p.record(metrics.EventSendFailed, streamID)
			p.closeSession(streamID)
		}
	}

	p.mu.Lock()
	p.audioCount[streamID]++
	n := p.audioCount[streamID]
	p.mu.Unlock()
	if n%audioLogEvery == 0 {
		slog.Debug("stt_audio_forwarded", "stream_id", streamID, "chunks", n)
	}

	heartbeat := frames.NewSystemFrame(streamID, af.PTS(), frames.SystemHeartbeat, nil)
	return []frames.Frame{af, heartbeat}
}

// handleSpeechStop runs the tail of the turn synchronously: signal
// end-of-audio, wait out the bounded drain window for late finals, then
// render, sanitize and emit. The transcript and its run-response trigger
// precede the stop frame downstream.
func (p *Transcriber) handleSpeechStop(sf frames.SystemFrame, streamID string) []frames.Frame {
	machine := p.machineFor(streamID)
	if machine.State() != turn.StateListening {
		// stop without a matching start: nothing to emit
		return []frames.Frame{sf}
	}
	if err := machine.Transition(turn.StateDraining, "speech_stop"); err != nil {
		slog.Debug("turn_transition_rejected", "stream_id", streamID, "error", err.Error())
		return []frames.Frame{sf}
	}

	sess := p.session(streamID)
	if sess != nil {
		_ = sess.EndOfAudio()
		p.graceDrain(streamID, sess)
	}

	_ = machine.Transition(turn.StateEmitting, "drain_complete")
	out := p.emitUtterance(streamID)
	out = append(out, sf)

	p.accFor(streamID).Reset()
	p.mu.Lock()
	p.audioCount[streamID] = 0
	p.mu.Unlock()
	_ = machine.Transition(turn.StateIdle, "turn_complete")
	return out
}

// emitUtterance renders the accumulated tokens into at most one transcript
// frame. Confirmed tokens win; with none, the last provisional guess is
// emitted as a degraded transcript; with neither, the turn ends silently.
func (p *Transcriber) emitUtterance(streamID string) []frames.Frame {
	acc := p.accFor(streamID)
	final, nonfinal := acc.Snapshot()

	degraded := false
	var rendered string
	switch {
	case len(final) > 0:
		rendered = transcript.Render(final, nil)
	case len(nonfinal) > 0:
		degraded = true
		rendered = transcript.Render(nil, nonfinal)
	default:
		p.record(metrics.EventTurnEmptyUtterance, streamID)
		slog.Info("turn_empty_utterance", "stream_id", streamID, "trace_id", p.getTrace(streamID))
		return nil
	}

	text := transcript.Clean(rendered)
	if text == "" {
		p.record(metrics.EventTurnEmptyUtterance, streamID)
		return nil
	}

	now := time.Now()
	meta := map[string]string{
		frames.MetaSource:    "stt",
		frames.MetaIsFinal:   "true",
		frames.MetaTimestamp: now.UTC().Format(time.RFC3339Nano),
	}
	if traceID := p.getTrace(streamID); traceID != "" {
		meta[frames.MetaTraceID] = traceID
	}
	if degraded {
		meta[frames.MetaDegraded] = "true"
		p.record(metrics.EventDegradedFallback, streamID)
		slog.Info("stt_degraded_transcript",
			"stream_id", streamID,
			"trace_id", p.getTrace(streamID),
			"text", clipText(redact.Text(text)))
	} else {
		p.record(metrics.EventFinalTranscript, streamID)
		slog.Info("stt_final",
			"stream_id", streamID,
			"trace_id", p.getTrace(streamID),
			"text", clipText(redact.Text(text)))
	}
	p.record(metrics.EventTurnEmit, streamID)

	pts := now.UnixNano()
	return []frames.Frame{
		frames.NewTextFrame(streamID, pts, text, meta),
		frames.NewControlFrame(streamID, pts, frames.ControlRunResponse, map[string]string{
			frames.MetaSource: "stt",
			frames.MetaReason: "utterance_complete",
		}),
	}
}

// drainPending folds already-delivered token batches into the utterance
// without blocking. Remote errors kill the session but never the turn:
// tokens received before the error still count.
func (p *Transcriber) drainPending(streamID string) {
	sess := p.session(streamID)
	if sess == nil {
		return
	}
	acc := p.accFor(streamID)
	for {
		select {
		case batch, ok := <-sess.Batches():
			if !ok {
				return
			}
			acc.Merge(batch)
		case err, ok := <-sess.Errs():
			if !ok {
				return
			}
			drainBuffered(acc, sess.Batches())
			p.onRemoteError(streamID, err)
			return
		default:
			return
		}
	}
}

// drainBuffered empties whatever batches the receive loop already
// delivered. Tokens received before a remote error still belong to the
// utterance, even when the error is observed first.
func drainBuffered(acc *transcript.Accumulator, batches <-chan transcript.Batch) {
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return
			}
			acc.Merge(batch)
		default:
			return
		}
	}
}

// graceDrain keeps collecting batches for the drain window so finals
// confirmed just after end-of-audio still make the transcript.
func (p *Transcriber) graceDrain(streamID string, sess stt.StreamingSTT) {
	acc := p.accFor(streamID)
	timer := time.NewTimer(p.drainGrace)
	defer timer.Stop()
	batches := sess.Batches()
	errs := sess.Errs()
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				batches = nil
				if errs == nil {
					return
				}
				continue
			}
			acc.Merge(batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				if batches == nil {
					return
				}
				continue
			}
			drainBuffered(acc, batches)
			p.onRemoteError(streamID, err)
			return
		case <-timer.C:
			return
		}
	}
}

func (p *Transcriber) onRemoteError(streamID string, err error) {
	slog.Warn("stt_remote_error",
		"stream_id", streamID,
		"trace_id", p.getTrace(streamID),
		"reason_code", string(errorsx.Reason(err)),
		"error", err.Error())
	p.record(metrics.EventRemoteError, streamID)
	p.closeSession(streamID)
}

func (p *Transcriber) openSession(streamID string) error {
	if p.factory == nil {
		return errorsx.New("no session factory", errorsx.ReasonSTTConnect)
	}
	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var sess stt.StreamingSTT
	err := p.retry.Do(func() error {
		sess = p.factory(streamID)
		return sess.Start(ctx)
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	p.mu.Lock()
	p.sessions[streamID] = sess
	p.sendWarned[streamID] = false
	p.mu.Unlock()
	return nil
}

func (p *Transcriber) session(streamID string) stt.StreamingSTT {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[streamID]
}

func (p *Transcriber) closeSession(streamID string) {
	p.mu.Lock()
	sess := p.sessions[streamID]
	delete(p.sessions, streamID)
	p.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// CloseStream tears down every per-stream resource. Called on session end
// and by the engine during shutdown.
func (p *Transcriber) CloseStream(streamID string) {
	p.closeSession(streamID)
	p.mu.Lock()
	delete(p.machines, streamID)
	delete(p.accs, streamID)
	delete(p.trace, streamID)
	delete(p.audioCount, streamID)
	delete(p.sendWarned, streamID)
	p.mu.Unlock()
}

func (p *Transcriber) CloseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.CloseStream(id)
	}
}

func (p *Transcriber) machineFor(streamID string) *turn.Machine {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.machines[streamID]
	if !ok {
		m = turn.NewMachine()
		p.machines[streamID] = m
	}
	return m
}

func (p *Transcriber) accFor(streamID string) *transcript.Accumulator {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.accs[streamID]
	if !ok {
		a = transcript.NewAccumulator()
		p.accs[streamID] = a
	}
	return a
}

func (p *Transcriber) warnSendOnce(streamID string, err error) {
	p.mu.Lock()
	warned := p.sendWarned[streamID]
	p.sendWarned[streamID] = true
	p.mu.Unlock()
	if warned {
		return
	}
	slog.Warn("stt_send_error",
		"stream_id", streamID,
		"trace_id", p.getTrace(streamID),
		"reason_code", string(errorsx.Reason(err)),
		"error", err.Error())
}

func (p *Transcriber) setTrace(streamID, traceID string) {
	p.mu.Lock()
	p.trace[streamID] = traceID
	p.mu.Unlock()
}

func (p *Transcriber) getTrace(streamID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trace[streamID]
}

func (p *Transcriber) record(name, streamID string) {
	if p.obs == nil {
		return
	}
	tags := map[string]string{frames.MetaStreamID: streamID, "component": "stt"}
	if traceID := p.getTrace(streamID); traceID != "" {
		tags[frames.MetaTraceID] = traceID
	}
	p.obs.RecordEvent(metrics.MetricsEvent{
		Name: name,
		Time: time.Now(),
		Tags: tags,
	})
}

func clipText(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= 120 {
		return text
	}
	return text[:120] + "..."
}

var _ pipeline.FrameProcessor = (*Transcriber)(nil)
