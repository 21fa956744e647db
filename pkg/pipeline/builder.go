package pipeline

// TranscriptionBuilder assembles the stage order for one session:
// pre-stages (normalization), the core transcription stages, then
// post-stages (serialization to the client).
type TranscriptionBuilder struct {
	pre  []FrameProcessor
	core []FrameProcessor
	post []FrameProcessor
}

func NewTranscriptionBuilder() *TranscriptionBuilder {
	return &TranscriptionBuilder{}
}

func (b *TranscriptionBuilder) WithProcessor(p FrameProcessor) *TranscriptionBuilder {
	if p != nil {
		b.core = append(b.core, p)
	}
	return b
}

func (b *TranscriptionBuilder) WithTranscriber(p FrameProcessor) *TranscriptionBuilder {
	return b.WithProcessor(p)
}

func (b *TranscriptionBuilder) WithPre(p FrameProcessor) *TranscriptionBuilder {
	if p != nil {
		b.pre = append(b.pre, p)
	}
	return b
}

func (b *TranscriptionBuilder) WithSerializer(p FrameProcessor) *TranscriptionBuilder {
	if p != nil {
		b.post = append(b.post, p)
	}
	return b
}

func (b *TranscriptionBuilder) Build(cfg Config) Orchestrator {
	return NewWithPipelineConfig(PipelineConfig{
		Config:     cfg,
		Processors: append(append(b.pre, b.core...), b.post...),
	})
}
