package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/murmurlabs/murmur/pkg/configutil"
	"github.com/murmurlabs/murmur/pkg/murmur"
	"github.com/murmurlabs/murmur/pkg/transports"
	mocktransport "github.com/murmurlabs/murmur/pkg/transports/mock"
	"github.com/murmurlabs/murmur/pkg/transports/wsserver"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := murmur.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "transport:", err)
		os.Exit(1)
	}

	providers := murmur.NewProviderRegistry()
	murmur.RegisterDefaultProviders(providers)

	app := murmur.NewEngine(murmur.EngineOptions{
		Config:    cfg,
		Providers: providers,
		Transport: transport,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	_ = app.Stop()
}

func buildTransport(cfg murmur.Config) (transports.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transports.Provider)) {
	case "wsserver":
		if err := configutil.ValidateSettings(cfg.Transports.Settings, configutil.Schema{
			Optional: []string{"server_addr", "stream_path", "samplerate", "num_channels", "allow_any_origin", "allowed_origins"},
		}); err != nil {
			return nil, fmt.Errorf("transports.settings: %w", err)
		}
		var settings wsserver.Config
		if err := configutil.DecodeSettings(cfg.Transports.Settings, &settings); err != nil {
			return nil, err
		}
		if settings.SampleRate == 0 {
			settings.SampleRate = cfg.Engine.SampleRate
		}
		if settings.NumChannels == 0 {
			settings.NumChannels = cfg.Engine.NumChannels
		}
		return wsserver.New(settings), nil
	case "mock":
		return mocktransport.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport provider: %s", cfg.Transports.Provider)
	}
}
