package murmur

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/murmurlabs/murmur/pkg/frames"
	"github.com/murmurlabs/murmur/pkg/logging"
	"github.com/murmurlabs/murmur/pkg/metrics"
	"github.com/murmurlabs/murmur/pkg/pipeline"
	"github.com/murmurlabs/murmur/pkg/processors"
	"github.com/murmurlabs/murmur/pkg/redact"
	"github.com/murmurlabs/murmur/pkg/runner"
	"github.com/murmurlabs/murmur/pkg/transports"
)

// Engine wires the transport, the session registry and observability
// into one runnable unit. One pipeline per connected stream.
type Engine struct {
	cfg         Config
	registry    *pipeline.SessionRegistry
	transport   transports.Transport
	providers   *ProviderRegistry
	runner      *pipeline.Runner
	asyncObs    *metrics.AsyncObserver
	metricsFile *os.File
	ctx         context.Context
	cancel      context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Transport transports.Transport
	// Optional extension points around the core transcriber stage.
	PreProcessors  []pipeline.FrameProcessor
	PostProcessors []pipeline.FrameProcessor
}

func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config
	slog.SetDefault(logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat))
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("murmur_init",
		"environment", cfg.Environment,
		"stt_provider", cfg.Vendors.STT.Provider,
		"transport", cfg.Transports.Provider,
	)
	pipeline.LogConfiguration(cfg.Engine)

	var metricsFile *os.File
	var inner metrics.Observer = metrics.NoopObserver{}
	if cfg.Observability.MetricsPath != "" {
		f, err := os.OpenFile(cfg.Observability.MetricsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("metrics_file_open_failed", "path", cfg.Observability.MetricsPath, "error", err.Error())
		} else {
			metricsFile = f
			inner = metrics.NewJSONLObserver(f)
		}
	}
	if cfg.Observability.SampleRate > 0 && cfg.Observability.SampleRate < 1 {
		inner = metrics.NewSamplingObserver(inner, cfg.Observability.SampleRate)
	}
	asyncObs := metrics.NewAsyncObserver(inner, 2048)

	providers := opts.Providers
	if providers == nil {
		providers = NewProviderRegistry()
		RegisterDefaultProviders(providers)
	}

	var sink func(frames.Frame)
	if opts.Transport != nil {
		sink = func(f frames.Frame) {
			_ = opts.Transport.Send(f)
		}
	}

	registry := pipeline.NewSessionRegistry(func(ctx context.Context, sessionID, streamID, traceID string) (pipeline.Orchestrator, error) {
		sttFactory, err := providers.BuildSTTFactory(cfg.Vendors.STT.Provider, cfg, traceID)
		if err != nil {
			return nil, err
		}
		transcriber := processors.NewTranscriber(sttFactory)
		if cfg.Engine.DrainGraceMS > 0 {
			transcriber.SetDrainGrace(time.Duration(cfg.Engine.DrainGraceMS) * time.Millisecond)
		}
		transcriber.SetObserver(asyncObs)
		transcriber.SetContext(ctx)

		builder := pipeline.NewTranscriptionBuilder()
		for _, p := range opts.PreProcessors {
			builder = builder.WithPre(p)
		}
		builder = builder.WithTranscriber(transcriber)
		for _, p := range opts.PostProcessors {
			builder = builder.WithSerializer(p)
		}

		orch := builder.Build(cfg.Pipeline)
		orch.SetContext(ctx)
		orch.SetObserver(asyncObs)
		if sink != nil {
			orch.SetSink(sink)
		}

		go func() {
			<-ctx.Done()
			transcriber.CloseAll()
		}()

		return orch, nil
	})

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"message", "Murmur Engine Ready"}
			if rr, ok := opts.Transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			slog.Info("engine_ready", fields...)
		},
		OnStop: func() {
			if asyncObs != nil {
				asyncObs.Close()
			}
			if metricsFile != nil {
				_ = metricsFile.Close()
			}
			slog.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_streams", registry.Count())
		},
	}

	drainer := pipeline.DrainerFunc(func() error {
		if opts.Transport != nil {
			_ = opts.Transport.Stop()
		}
		registry.SetDraining(true)
		registry.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = registry.WaitForEmpty(ctx, 200*time.Millisecond)
		return nil
	})

	lr := pipeline.NewDrainRunner(drainer, hooks, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:         cfg,
		registry:    registry,
		transport:   opts.Transport,
		providers:   providers,
		runner:      lr,
		asyncObs:    asyncObs,
		metricsFile: metricsFile,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.transport != nil {
		if err := e.transport.Start(ctx); err != nil {
			return err
		}
		go e.routeTransport(ctx)
	}
	go func() {
		_ = e.runner.Run(ctx)
	}()
	return nil
}

func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	return e.runner.Stop()
}

// routeTransport moves inbound frames into the right per-stream pipeline,
// creating sessions lazily on the first frame of a stream.
func (e *Engine) routeTransport(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			meta := f.Meta()
			streamID := meta[frames.MetaStreamID]
			traceID := meta[frames.MetaTraceID]
			if streamID == "" {
				continue
			}
			if f.Kind() == frames.KindSystem {
				sf := f.(frames.SystemFrame)
				if sf.Name() == frames.SystemSessionEnd {
					e.registry.Remove(streamID)
					continue
				}
			}
			sess, _, err := e.registry.GetOrCreate(streamID, streamID, traceID)
			if err != nil {
				slog.Warn("session_create_failed", "stream_id", streamID, "error", err.Error())
				continue
			}
			if sess == nil {
				continue
			}
			forwardFrame(ctx, sess.Orch.In(), f)
		}
	}
}

// forwardFrame hands one inbound frame to a session pipeline. Audio is
// dropped when the inlet is full; boundary and control frames wait, since
// a lost speech_stop would leave the turn open forever.
func forwardFrame(ctx context.Context, ch chan frames.Frame, f frames.Frame) {
	switch f.Kind() {
	case frames.KindSystem, frames.KindControl:
		select {
		case ch <- f:
		case <-ctx.Done():
		}
	default:
		select {
		case ch <- f:
		default:
		}
	}
}

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *pipeline.SessionRegistry { return e.registry }

func (e *Engine) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

func (e *Engine) Health() error {
	if e.transport == nil {
		return fmt.Errorf("missing transport")
	}
	return nil
}
