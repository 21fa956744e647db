package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names recorded by the transcription pipeline.
const (
	EventAudioIn            = "stt_audio_in"
	EventFinalTranscript    = "stt_final"
	EventDegradedFallback   = "stt_degraded_transcript"
	EventConnectFailed      = "stt_connect_failed"
	EventSendFailed         = "stt_send_failed"
	EventRemoteError        = "stt_remote_error"
	EventTurnEmit           = "turn_emit"
	EventTurnEmptyUtterance = "turn_empty_utterance"
)
