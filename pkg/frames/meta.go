package frames

// Meta keys shared across the pipeline.
const (
	MetaStreamID  = "stream_id"
	MetaSessionID = "session_id"
	MetaTraceID   = "trace_id"
	MetaSource    = "source"
	MetaReason    = "reason"
	MetaIsFinal   = "is_final"
	MetaDegraded  = "degraded"
	MetaTimestamp = "timestamp"
)
