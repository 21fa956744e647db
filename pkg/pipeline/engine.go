package pipeline

import (
	"context"
	"log/slog"

	"github.com/murmurlabs/murmur/pkg/frames"
	"github.com/murmurlabs/murmur/pkg/metrics"
)

// FrameProcessor is one stage of a session pipeline. A stage returns the
// frames to hand downstream; nil swallows the input frame.
type FrameProcessor interface {
	Process(frames.Frame) ([]frames.Frame, error)
	Name() string
}

type BackpressureMode int

const (
	BackpressureDrop BackpressureMode = iota
	BackpressureWait
)

type Config struct {
	Async         bool
	StageBuffer   int
	HighCapacity  int
	LowCapacity   int
	FairnessRatio int
	Backpressure  BackpressureMode
}

type PipelineConfig struct {
	Config     Config
	Processors []FrameProcessor
}

// EngineConfig holds the audio-path knobs shared by every session.
type EngineConfig struct {
	SampleRate   int `mapstructure:"samplerate"`
	NumChannels  int `mapstructure:"num_channels"`
	DrainGraceMS int `mapstructure:"drain_grace_ms"`
}

func LogConfiguration(cfg EngineConfig) {
	slog.Info("engine_config",
		"sample_rate", cfg.SampleRate,
		"num_channels", cfg.NumChannels,
		"drain_grace_ms", cfg.DrainGraceMS,
	)
}

type Orchestrator interface {
	Start() error
	Stop() error
	In() chan frames.Frame
	Out() chan frames.Frame
	AddProcessor(p FrameProcessor) error
	SetContext(ctx context.Context)
	SetSink(sink func(frames.Frame))
	SetObserver(obs metrics.Observer)
}
