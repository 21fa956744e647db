package processors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/murmurlabs/murmur/pkg/adapters/stt"
	"github.com/murmurlabs/murmur/pkg/frames"
	"github.com/murmurlabs/murmur/pkg/metrics"
	"github.com/murmurlabs/murmur/pkg/resilience"
	"github.com/murmurlabs/murmur/pkg/transcript"
)

type fakeSession struct {
	mu         sync.Mutex
	started    bool
	closed     bool
	startErr   error
	sendErr    error
	sentChunks int
	endOfAudio int
	batches    chan transcript.Batch
	errs       chan error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		batches: make(chan transcript.Batch, 16),
		errs:    make(chan error, 4),
	}
}

func (f *fakeSession) Name() string { return "fake_stt" }

func (f *fakeSession) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) SendAudio(frames.AudioFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentChunks++
	return nil
}

func (f *fakeSession) EndOfAudio() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endOfAudio++
	return nil
}

func (f *fakeSession) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started && !f.closed
}

func (f *fakeSession) Batches() <-chan transcript.Batch { return f.batches }
func (f *fakeSession) Errs() <-chan error               { return f.errs }

var _ stt.StreamingSTT = (*fakeSession)(nil)

type sessionFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	next     func() *fakeSession
}

func newSessionFactory() *sessionFactory {
	sf := &sessionFactory{}
	sf.next = newFakeSession
	return sf
}

func (sf *sessionFactory) make(string) stt.StreamingSTT {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	s := sf.next()
	sf.sessions = append(sf.sessions, s)
	return s
}

func (sf *sessionFactory) count() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return len(sf.sessions)
}

func (sf *sessionFactory) last() *fakeSession {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if len(sf.sessions) == 0 {
		return nil
	}
	return sf.sessions[len(sf.sessions)-1]
}

const testStream = "stream-1"

func newTestTranscriber(sf *sessionFactory) (*Transcriber, *metrics.MemoryObserver) {
	p := NewTranscriber(sf.make)
	p.SetDrainGrace(10 * time.Millisecond)
	obs := metrics.NewMemoryObserver()
	p.SetObserver(obs)
	return p, obs
}

func process(t *testing.T, p *Transcriber, f frames.Frame) []frames.Frame {
	t.Helper()
	out, err := p.Process(f)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	return out
}

func speechStart(t *testing.T, p *Transcriber) []frames.Frame {
	return process(t, p, frames.NewSystemFrame(testStream, 1, frames.SystemSpeechStart, nil))
}

func speechStop(t *testing.T, p *Transcriber) []frames.Frame {
	return process(t, p, frames.NewSystemFrame(testStream, 2, frames.SystemSpeechStop, nil))
}

func sendChunk(t *testing.T, p *Transcriber) []frames.Frame {
	return process(t, p, frames.NewAudioFrame(testStream, 1, []byte{0, 0, 0, 0}, 16000, 1, nil))
}

func textFrames(out []frames.Frame) []frames.TextFrame {
	var texts []frames.TextFrame
	for _, f := range out {
		if tf, ok := f.(frames.TextFrame); ok {
			texts = append(texts, tf)
		}
	}
	return texts
}

func hasRunResponse(out []frames.Frame) bool {
	for _, f := range out {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlRunResponse {
			return true
		}
	}
	return false
}

func TestFinalTokensEmitOneTranscript(t *testing.T) {
	sf := newSessionFactory()
	p, obs := newTestTranscriber(sf)

	speechStart(t, p)
	sess := sf.last()
	if sess == nil || !sess.Alive() {
		t.Fatal("expected a live session after speech start")
	}

	sess.batches <- transcript.Batch{
		{Text: "hel", IsFinal: true},
		{Text: "lo", IsFinal: true},
	}
	sendChunk(t, p)

	out := speechStop(t, p)
	texts := textFrames(out)
	if len(texts) != 1 {
		t.Fatalf("expected exactly one transcript frame, got %d", len(texts))
	}
	if texts[0].Text() != "hello" {
		t.Errorf("transcript = %q", texts[0].Text())
	}
	if texts[0].Meta()[frames.MetaDegraded] == "true" {
		t.Error("final transcript must not be marked degraded")
	}
	if !hasRunResponse(out) {
		t.Error("missing run_response trigger")
	}
	if sess.endOfAudio != 1 {
		t.Errorf("end-of-audio sent %d times", sess.endOfAudio)
	}
	if obs.CountByName(metrics.EventFinalTranscript) != 1 {
		t.Error("stt_final metric not recorded")
	}
}

func TestNonFinalFallbackIsDegraded(t *testing.T) {
	sf := newSessionFactory()
	p, obs := newTestTranscriber(sf)

	speechStart(t, p)
	sess := sf.last()

	// two provisional guesses: only the latest survives
	sess.batches <- transcript.Batch{{Text: "how", IsFinal: false}}
	sendChunk(t, p)
	sess.batches <- transcript.Batch{
		{Text: "how", IsFinal: false},
		{Text: " are", IsFinal: false},
	}
	sendChunk(t, p)

	out := speechStop(t, p)
	texts := textFrames(out)
	if len(texts) != 1 {
		t.Fatalf("expected one degraded transcript, got %d frames", len(texts))
	}
	if texts[0].Text() != "how are" {
		t.Errorf("transcript = %q", texts[0].Text())
	}
	if texts[0].Meta()[frames.MetaDegraded] != "true" {
		t.Error("fallback transcript must be marked degraded")
	}
	if obs.CountByName(metrics.EventDegradedFallback) != 1 {
		t.Error("degraded fallback metric not recorded")
	}
}

func TestSilentTurnEmitsNothing(t *testing.T) {
	sf := newSessionFactory()
	p, obs := newTestTranscriber(sf)

	speechStart(t, p)
	sendChunk(t, p)
	out := speechStop(t, p)

	if len(textFrames(out)) != 0 {
		t.Fatal("silent turn must not emit a transcript")
	}
	if hasRunResponse(out) {
		t.Fatal("silent turn must not trigger a response")
	}
	if obs.CountByName(metrics.EventTurnEmptyUtterance) != 1 {
		t.Error("empty utterance metric not recorded")
	}
}

func TestSpeakerMarkersStrippedFromEmittedText(t *testing.T) {
	sf := newSessionFactory()
	p, _ := newTestTranscriber(sf)

	speechStart(t, p)
	sess := sf.last()
	sess.batches <- transcript.Batch{
		{Text: "good morning", IsFinal: true, Speaker: "1"},
		{Text: " good evening", IsFinal: true, Speaker: "2"},
	}
	sendChunk(t, p)

	out := speechStop(t, p)
	texts := textFrames(out)
	if len(texts) != 1 {
		t.Fatalf("expected one transcript, got %d", len(texts))
	}
	if texts[0].Text() != "good morning good evening" {
		t.Errorf("markers leaked into transcript: %q", texts[0].Text())
	}
}

func TestMarkerTokensNeverReachTranscript(t *testing.T) {
	sf := newSessionFactory()
	p, _ := newTestTranscriber(sf)

	speechStart(t, p)
	sess := sf.last()
	sess.batches <- transcript.Batch{
		{Text: "done", IsFinal: true},
		{Text: transcript.EndToken, IsFinal: true},
		{Text: transcript.FinToken, IsFinal: true},
	}
	sendChunk(t, p)

	out := speechStop(t, p)
	texts := textFrames(out)
	if len(texts) != 1 {
		t.Fatalf("expected one transcript, got %d", len(texts))
	}
	if texts[0].Text() != "done" {
		t.Errorf("marker tokens leaked: %q", texts[0].Text())
	}
}

func TestSendFailureClosesSessionAndReconnectsNextTurn(t *testing.T) {
	sf := newSessionFactory()
	p, obs := newTestTranscriber(sf)

	speechStart(t, p)
	first := sf.last()
	first.sendErr = context.DeadlineExceeded

	out := sendChunk(t, p)
	if len(out) == 0 {
		t.Fatal("audio must pass through even when the send fails")
	}
	if !first.closed {
		t.Fatal("failed session must be closed")
	}
	if obs.CountByName(metrics.EventSendFailed) != 1 {
		t.Error("send failure metric not recorded")
	}

	// rest of this turn: audio flows through with no session
	sendChunk(t, p)
	speechStop(t, p)

	// next turn opens a fresh connection
	speechStart(t, p)
	if sf.count() != 2 {
		t.Fatalf("expected a second session, factory called %d times", sf.count())
	}
	if !sf.last().Alive() {
		t.Fatal("replacement session not started")
	}
}

func TestRemoteErrorKeepsAccumulatedTokens(t *testing.T) {
	sf := newSessionFactory()
	p, obs := newTestTranscriber(sf)

	speechStart(t, p)
	sess := sf.last()
	sess.batches <- transcript.Batch{{Text: "partial", IsFinal: true}}
	sendChunk(t, p)
	sess.errs <- context.DeadlineExceeded
	sendChunk(t, p)

	if !sess.closed {
		t.Fatal("session must be closed after a remote error")
	}
	if obs.CountByName(metrics.EventRemoteError) != 1 {
		t.Error("remote error metric not recorded")
	}

	out := speechStop(t, p)
	texts := textFrames(out)
	if len(texts) != 1 {
		t.Fatalf("turn must still emit after a remote error, got %d text frames", len(texts))
	}
	if texts[0].Text() != "partial" {
		t.Errorf("transcript = %q", texts[0].Text())
	}
}

func TestBatchDeliveredBeforeRemoteErrorStillEmitted(t *testing.T) {
	sf := newSessionFactory()
	p, obs := newTestTranscriber(sf)

	// batch and error both queued before the stop boundary, with no audio
	// in between: the drain must take the tokens regardless of which
	// channel it observes first
	speechStart(t, p)
	sess := sf.last()
	sess.batches <- transcript.Batch{{Text: "kept", IsFinal: true}}
	sess.errs <- context.DeadlineExceeded

	out := speechStop(t, p)
	texts := textFrames(out)
	if len(texts) != 1 {
		t.Fatalf("tokens delivered before the error were lost, got %d text frames", len(texts))
	}
	if texts[0].Text() != "kept" {
		t.Errorf("transcript = %q", texts[0].Text())
	}
	if obs.CountByName(metrics.EventRemoteError) != 1 {
		t.Error("remote error metric not recorded")
	}
	if obs.CountByName(metrics.EventTurnEmptyUtterance) != 0 {
		t.Error("turn must not be counted as empty")
	}
}

func TestRepeatedSpeechStartResetsUtterance(t *testing.T) {
	sf := newSessionFactory()
	p, _ := newTestTranscriber(sf)

	speechStart(t, p)
	sess := sf.last()
	sess.batches <- transcript.Batch{{Text: "stale", IsFinal: true}}
	sendChunk(t, p)

	// restart: old session torn down, tokens dropped
	speechStart(t, p)
	if !sess.closed {
		t.Fatal("previous session must be closed on repeated speech start")
	}
	if sf.count() != 2 {
		t.Fatalf("expected a fresh session, factory called %d times", sf.count())
	}

	next := sf.last()
	next.batches <- transcript.Batch{{Text: "fresh", IsFinal: true}}
	sendChunk(t, p)

	out := speechStop(t, p)
	texts := textFrames(out)
	if len(texts) != 1 {
		t.Fatalf("expected one transcript, got %d", len(texts))
	}
	if texts[0].Text() != "fresh" {
		t.Errorf("stale tokens leaked into new turn: %q", texts[0].Text())
	}
}

func TestStopWithoutStartPassesThrough(t *testing.T) {
	sf := newSessionFactory()
	p, _ := newTestTranscriber(sf)

	out := speechStop(t, p)
	if len(out) != 1 {
		t.Fatalf("expected passthrough only, got %d frames", len(out))
	}
	if sf.count() != 0 {
		t.Fatal("no session should be opened by a bare stop")
	}
}

func TestLateFinalsCollectedDuringDrainWindow(t *testing.T) {
	sf := newSessionFactory()
	p, _ := newTestTranscriber(sf)

	speechStart(t, p)
	sess := sf.last()
	sendChunk(t, p)

	// final confirmed only after end-of-audio
	go func() {
		time.Sleep(2 * time.Millisecond)
		sess.batches <- transcript.Batch{{Text: "late final", IsFinal: true}}
	}()

	out := speechStop(t, p)
	texts := textFrames(out)
	if len(texts) != 1 {
		t.Fatalf("late final missed, got %d text frames", len(texts))
	}
	if texts[0].Text() != "late final" {
		t.Errorf("transcript = %q", texts[0].Text())
	}
}

func TestSessionEndTearsDownStream(t *testing.T) {
	sf := newSessionFactory()
	p, _ := newTestTranscriber(sf)

	speechStart(t, p)
	sess := sf.last()
	process(t, p, frames.NewSystemFrame(testStream, 3, frames.SystemSessionEnd, nil))
	if !sess.closed {
		t.Fatal("session end must close the recognition session")
	}
}

func TestConnectFailureDegradesTurn(t *testing.T) {
	sf := newSessionFactory()
	sf.next = func() *fakeSession {
		s := newFakeSession()
		s.startErr = context.DeadlineExceeded
		return s
	}
	p, obs := newTestTranscriber(sf)
	p.retry = resilience.NewRetryPolicy(1, time.Millisecond)

	out := speechStart(t, p)
	if len(out) != 1 {
		t.Fatalf("speech start must pass through, got %d frames", len(out))
	}
	if obs.CountByName(metrics.EventConnectFailed) == 0 {
		t.Error("connect failure metric not recorded")
	}

	// audio and stop still flow; the turn completes empty
	sendChunk(t, p)
	stopOut := speechStop(t, p)
	if len(textFrames(stopOut)) != 0 {
		t.Fatal("failed connection must not produce a transcript")
	}
}
