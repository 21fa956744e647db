package murmur

import (
	"fmt"
	"strings"

	"github.com/murmurlabs/murmur/pkg/adapters/stt"
	"github.com/murmurlabs/murmur/pkg/configutil"
	"github.com/murmurlabs/murmur/pkg/soniox"
)

// STTFactoryBuilder turns the vendor config into a per-stream session
// factory. Building fails fast on invalid settings; connecting is the
// factory's caller's problem.
type STTFactoryBuilder func(cfg Config, traceID string) (func(streamID string) stt.StreamingSTT, error)

type ProviderRegistry struct {
	stt map[string]STTFactoryBuilder
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactoryBuilder),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactoryBuilder) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSTTFactory(provider string, cfg Config, traceID string) (func(streamID string) stt.StreamingSTT, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg, traceID)
}

// RegisterDefaultProviders wires the built-in vendors.
func RegisterDefaultProviders(r *ProviderRegistry) {
	r.RegisterSTT("soniox", buildSonioxFactory)
}

func buildSonioxFactory(cfg Config, traceID string) (func(streamID string) stt.StreamingSTT, error) {
	settings := cfg.Vendors.STT.Settings
	if err := configutil.ValidateSettings(settings, soniox.SettingsSchema); err != nil {
		return nil, fmt.Errorf("soniox settings: %w", err)
	}
	var base soniox.Config
	if err := configutil.DecodeSettings(settings, &base); err != nil {
		return nil, fmt.Errorf("decode soniox settings: %w", err)
	}
	if base.SampleRate == 0 {
		base.SampleRate = cfg.Engine.SampleRate
	}
	if base.NumChannels == 0 {
		base.NumChannels = cfg.Engine.NumChannels
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return func(streamID string) stt.StreamingSTT {
		c := base
		c.StreamID = streamID
		c.TraceID = traceID
		return soniox.New(c)
	}, nil
}
