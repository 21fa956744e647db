package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// ReasonConfigMissingKey marks a missing credential or required config
	// value. Fatal at session start, never retried.
	ReasonConfigMissingKey ReasonCode = "config_missing_key"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"
	// ReasonSTTRemote marks an error reported by the transcription service
	// itself. Fatal for the connection, not for the session.
	ReasonSTTRemote ReasonCode = "stt_remote"
	ReasonSTTDecode ReasonCode = "stt_decode"
	ReasonSTTClosed ReasonCode = "stt_closed"

	ReasonTransportSend ReasonCode = "transport_send"
)
