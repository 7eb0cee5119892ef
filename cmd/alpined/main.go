// Command alpined runs a lighting device endpoint: it answers discovery,
// accepts handshakes, applies control commands, and receives streamed
// frames on a single UDP socket, with an HTTP status surface alongside.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"alpinenet/internal/core/domain"
	"alpinenet/internal/core/ports"
	"alpinenet/internal/core/services"
	"alpinenet/internal/handlers/datagram"
	handlershttp "alpinenet/internal/handlers/http"
	"alpinenet/internal/infrastructure/crypto"
	"alpinenet/internal/infrastructure/discovery"
	"alpinenet/internal/infrastructure/monitoring"
	"alpinenet/internal/infrastructure/repositories/memory"
	"alpinenet/internal/infrastructure/transport"
	"alpinenet/pkg/config"
	"alpinenet/pkg/logger"
	"alpinenet/pkg/retry"
	"alpinenet/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			panic(err)
		}
		cfg = loaded
	}

	zlog, err := logger.New(cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer zlog.Sync()
	log := logger.NewContextLogger(zlog)

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "alpined",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		zlog.Fatal("tracing init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer tp.Shutdown(context.Background())

	var metrics ports.MetricsCollector = ports.NopMetrics{}
	var registry *prometheus.Registry
	if cfg.Monitoring.PrometheusEnabled {
		registry = prometheus.NewRegistry()
		metrics = monitoring.NewPrometheusCollector(registry)
	}

	creds, err := crypto.GenerateCredentials(cfg.Device.Name)
	if err != nil {
		zlog.Fatal("identity generation failed", zap.Error(err))
	}
	caps := deviceCapabilities(cfg)

	listener, err := transport.ListenUDP(cfg.Network.BindAddress, cfg.Network.MaxPacketBytes)
	if err != nil {
		zlog.Fatal("bind failed", zap.Error(err))
	}
	defer listener.Close()

	sessions := services.NewSessionManager(
		memory.NewSessionRepository(), metrics, log,
		cfg.Session.IdleTimeout, cfg.Session.SweepInterval,
	)
	sessions.Start(ctx)
	defer sessions.Close()

	handshake := services.NewHandshakeService(creds, caps, services.HandshakeConfig{
		Timeout: cfg.Session.HandshakeTimeout,
		Retry: retry.Config{
			MaxAttempts:  cfg.Control.MaxAttempts,
			InitialDelay: cfg.Control.InitialDelay,
			MaxDelay:     cfg.Control.MaxDelay,
			Multiplier:   2.0,
		},
	}, log)
	control := services.NewControlService(retry.Config{
		MaxAttempts:  cfg.Control.MaxAttempts,
		InitialDelay: cfg.Control.InitialDelay,
		MaxDelay:     cfg.Control.MaxDelay,
		Multiplier:   2.0,
	}, metrics, log)
	streams := services.NewStreamService(cfg.Device.MaxChannels, metrics, log)
	responder := discovery.NewResponder(creds, caps, cfg.Discovery.RepliesPerSecond, cfg.Discovery.ReplyBurst)

	sink := func(values []uint16) {
		zlog.Debug("channels applied", zap.Int("count", len(values)))
	}
	server := datagram.NewServer(listener, responder, handshake, sessions, control, streams, sink, log)

	if cfg.Monitoring.StatusAddress != "" {
		status := handlershttp.NewStatusHandler(sessions, registry)
		go func() {
			if err := http.ListenAndServe(cfg.Monitoring.StatusAddress, status.Router()); err != nil && err != http.ErrServerClosed {
				zlog.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	zlog.Info("alpined listening",
		zap.String("bind", cfg.Network.BindAddress),
		zap.String("device", cfg.Device.Name),
		zap.String("fingerprint", creds.Identity.Fingerprint()),
	)
	if err := server.Run(ctx); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func deviceCapabilities(cfg *config.Config) domain.CapabilitySet {
	caps := make(domain.CapabilitySet)
	for _, name := range cfg.Device.Capabilities {
		caps[name] = nil
	}
	caps[domain.CapabilityMaxChannels] = []string{strconv.Itoa(cfg.Device.MaxChannels)}
	caps[domain.CapabilityJitter] = []string{"hold_last", "drop", "lerp"}
	return caps
}
