// Command twitch-questions relays one Twitch channel's chat to browsers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the day-sharded log directory and schedules the midnight shard job.
//   - Joins the channel over IRC (anonymously unless bot credentials are set)
//     and feeds the relay, which keeps recent chat and questions in memory.
//   - Optionally mirrors the live stream to Redis pub/sub and an AMQP exchange.
//   - Serves the realtime streams, log browser, /healthz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM. A failed first IRC connection is fatal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/twitch-questions/chat"
	"github.com/onnwee/twitch-questions/config"
	"github.com/onnwee/twitch-questions/logsink"
	"github.com/onnwee/twitch-questions/mirror"
	"github.com/onnwee/twitch-questions/server"
	"github.com/onnwee/twitch-questions/telemetry"
)

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	if err := run(); err != nil {
		slog.Error("fatal", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shut down cleanly")
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	telemetry.Init()

	// Optional; requires OTEL_EXPORTER_OTLP_ENDPOINT
	shutdownTracing, err := telemetry.InitTracing("twitch-questions", version, telemetry.ChannelAttr(cfg.TwitchChannel))
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, err := logsink.New(cfg.LogDir, logsink.Options{
		QueueSize: cfg.LogQueueSize,
		OnFailure: func(error) { telemetry.Inc(telemetry.LogWriteFailures) },
	})
	if err != nil {
		return fmt.Errorf("log directory: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			slog.Error("failed to close log sink", slog.Any("err", err))
		}
	}()
	if _, err := logsink.StartPrecreateJob(ctx, sink, cfg.PrecreateSchedule); err != nil {
		return err
	}

	src := chat.NewTwitchSource(cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.ReconnectMaxBackoff)
	relay := chat.NewRelay(src, chat.RelayOptions{
		Channel:      cfg.TwitchChannel,
		Capacity:     cfg.HistoryCapacity,
		Trigger:      cfg.QuestionTrigger,
		ClientBuffer: cfg.ClientBuffer,
		Log:          sink,
	})
	slog.Info("relay configured",
		slog.String("channel", cfg.TwitchChannel),
		slog.Bool("anonymous", cfg.Anonymous()),
		slog.Int("history", cfg.HistoryCapacity),
		slog.String("log_dir", sink.Root()),
		slog.Bool("tracing", telemetry.IsTracingEnabled()))

	if cfg.RedisAddr != "" {
		pub, err := mirror.NewRedisPublisher(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Warn("redis mirror disabled", slog.Any("err", err), slog.String("component", "mirror"))
		} else {
			defer pub.Close()
			go mirror.New(relay, pub, cfg.RedisChannel).Run(ctx)
			slog.Info("redis mirror enabled", slog.String("addr", cfg.RedisAddr), slog.String("channel", cfg.RedisChannel))
		}
	}

	if cfg.AMQPURL != "" {
		pub, err := mirror.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Warn("amqp mirror disabled", slog.Any("err", err), slog.String("component", "mirror"))
		} else {
			defer pub.Close()
			go mirror.New(relay, pub, pub.Exchange()).Run(ctx)
			slog.Info("amqp mirror enabled", slog.String("exchange", pub.Exchange()))
		}
	}

	if cfg.EnablePprof {
		startPprof()
	}

	srvErr := make(chan error, 1)
	go func() {
		err := server.Start(ctx, cfg.Addr(), server.Options{
			Relay:     relay,
			Logs:      sink,
			StaticDir: cfg.StaticDir,
			RateLimit: server.RateLimitConfig{
				Enabled:       cfg.RateLimitEnabled,
				RequestsPerIP: cfg.RateLimitRequests,
				Window:        cfg.RateLimitWindow(),
			},
			CORS: server.CORSConfig{
				Permissive:     cfg.PermissiveCORS(),
				AllowedOrigins: cfg.AllowedOrigins(),
			},
		})
		if err != nil {
			stop()
		}
		srvErr <- err
	}()

	if err := relay.Run(ctx); err != nil {
		if errors.Is(err, chat.ErrInitialConnect) {
			return fmt.Errorf("cannot reach twitch chat: %w", err)
		}
		return err
	}
	if err := <-srvErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// startPprof exposes /debug/pprof on PPROF_ADDR (default localhost:6060).
func startPprof() {
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
