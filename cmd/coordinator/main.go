package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/absmach/fedrun/coordinator"
	"github.com/absmach/fedrun/coordinator/api"
	"github.com/absmach/fedrun/participant"
	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/fl/middleware"
	"github.com/absmach/fedrun/pkg/history"
	"github.com/absmach/fedrun/pkg/jaeger"
	"github.com/absmach/fedrun/pkg/mqtt"
	"github.com/absmach/fedrun/pkg/prometheus"
	"github.com/absmach/fedrun/pkg/registry"
	"github.com/absmach/fedrun/pkg/scheduler"
	"github.com/absmach/fedrun/pkg/server"
	"github.com/absmach/fedrun/runner"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName           = "coordinator"
	defHTTPPort       = "7070"
	envPrefixHTTP     = "FEDRUN_HTTP_"
	pathEnv           = ".env"
	disconnectTimeout = 10 * time.Second
)

type envConfig struct {
	LogLevel         string        `env:"FEDRUN_LOG_LEVEL"          envDefault:"info"`
	InstanceID       string        `env:"FEDRUN_INSTANCE_ID"`
	NumRounds        int           `env:"FEDRUN_NUM_ROUNDS"         envDefault:"3"`
	MinParticipants  int           `env:"FEDRUN_MIN_PARTICIPANTS"   envDefault:"2"`
	FractionFit      float64       `env:"FEDRUN_FRACTION_FIT"       envDefault:"1"`
	FractionEvaluate float64       `env:"FEDRUN_FRACTION_EVALUATE"  envDefault:"1"`
	HistoryDir       string        `env:"FEDRUN_HISTORY_DIR"        envDefault:"history"`
	RunTimeout       time.Duration `env:"FEDRUN_RUN_TIMEOUT"        envDefault:"1h"`
	ReadinessTimeout time.Duration `env:"FEDRUN_READINESS_TIMEOUT"  envDefault:"5m"`
	RoundTimeout     time.Duration `env:"FEDRUN_ROUND_TIMEOUT"      envDefault:"10m"`
	AliveTimeout     time.Duration `env:"FEDRUN_ALIVE_TIMEOUT"      envDefault:"30s"`
	Persist          bool          `env:"FEDRUN_PERSIST"            envDefault:"true"`
	Checkpoint       bool          `env:"FEDRUN_CHECKPOINT"         envDefault:"true"`
	AllowFreshStart  bool          `env:"FEDRUN_ALLOW_FRESH_START"  envDefault:"false"`
	MaxMessageSize   int           `env:"FEDRUN_MAX_MESSAGE_SIZE"   envDefault:"536870912"`
	MaxConcurrency   int           `env:"FEDRUN_MAX_CONCURRENCY"    envDefault:"0"`
	Sampler          string        `env:"FEDRUN_SAMPLER"            envDefault:"random"`
	MQTTAddress      string        `env:"FEDRUN_MQTT_ADDRESS"       envDefault:"tcp://localhost:1883"`
	MQTTQoS          uint8         `env:"FEDRUN_MQTT_QOS"           envDefault:"2"`
	MQTTTimeout      time.Duration `env:"FEDRUN_MQTT_TIMEOUT"       envDefault:"30s"`
	MQTTClientID     string        `env:"FEDRUN_MQTT_CLIENT_ID"     envDefault:"fedrun-coordinator"`
	MQTTUsername     string        `env:"FEDRUN_MQTT_USERNAME"`
	MQTTPassword     string        `env:"FEDRUN_MQTT_PASSWORD"`
	ChannelID        string        `env:"FEDRUN_CHANNEL_ID"         envDefault:"fedrun"`
	OTELURL          url.URL       `env:"FEDRUN_OTEL_URL"`
	TraceRatio       float64       `env:"FEDRUN_TRACE_RATIO"        envDefault:"0"`
}

func (c envConfig) coordinator() coordinator.Config {
	return coordinator.Config{
		MinParticipants:  c.MinParticipants,
		FractionFit:      c.FractionFit,
		FractionEvaluate: c.FractionEvaluate,
		ReadinessTimeout: c.ReadinessTimeout,
		RoundTimeout:     c.RoundTimeout,
		MaxConcurrency:   c.MaxConcurrency,
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	if cfg.NumRounds < 1 {
		logger.Error("invalid configuration", slog.String("error", fmt.Sprintf("number of rounds must be at least 1, got %d", cfg.NumRounds)))

		return 1
	}
	if err := cfg.coordinator().Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))

		return 1
	}
	sampler, err := newSampler(cfg.Sampler)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))

		return 1
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, cfg.InstanceID, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return 1
		}
		defer func() {
			if err := sdktp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	store, err := history.NewFileStore(cfg.HistoryDir, cfg.MaxMessageSize)
	if err != nil {
		logger.Error("failed to open run history", slog.String("error", err.Error()))

		return 1
	}

	reg := registry.New(cfg.AliveTimeout, logger)

	pubsub, err := mqtt.NewPubSub(mqtt.Config{
		URL:            cfg.MQTTAddress,
		QoS:            cfg.MQTTQoS,
		ID:             cfg.MQTTClientID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		Timeout:        cfg.MQTTTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		WillTopic:      participant.CoordinatorOfflineTopic(cfg.ChannelID),
		WillMessage:    participant.OfflineMessage{ParticipantID: cfg.MQTTClientID, Status: "offline"},
	}, logger)
	if err != nil {
		logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

		return 1
	}

	transport := participant.NewTransport(pubsub, reg, cfg.ChannelID, cfg.MaxMessageSize, logger)
	if err := transport.Start(ctx); err != nil {
		logger.Error("failed to subscribe to participant channel", slog.String("error", err.Error()))

		return 1
	}

	counter, latency := prometheus.MakeMetrics(svcName, "strategy")
	r := runner.New(runner.Config{
		NumRounds:       cfg.NumRounds,
		RunTimeout:      cfg.RunTimeout,
		Persist:         cfg.Persist,
		Checkpoint:      cfg.Checkpoint,
		AllowFreshStart: cfg.AllowFreshStart,
		Coordinator:     cfg.coordinator(),
	}, store, reg, sampler, logger, runner.WithStrategy(func(s fl.Strategy) fl.Strategy {
		s = middleware.Logging(logger, s)
		s = middleware.Tracing(tracer, s)

		return middleware.Metrics(counter, latency, s)
	}))

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return 1
	}

	hs := server.NewServer(svcName, httpServerConfig, api.MakeHandler(reg, store, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	g.Go(func() error {
		defer cancel()

		record, runErr := r.Run(ctx)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer shutdownCancel()
		if err := coordinator.DisconnectAll(shutdownCtx, reg, cfg.MaxConcurrency, logger); err != nil {
			logger.Warn("failed to disconnect participants", slog.Any("error", err))
		}
		if err := transport.Stop(shutdownCtx); err != nil {
			logger.Warn("failed to unsubscribe from participant channel", slog.Any("error", err))
		}
		if err := pubsub.Disconnect(shutdownCtx); err != nil {
			logger.Warn("failed to disconnect from mqtt broker", slog.Any("error", err))
		}

		if runErr != nil {
			args := []any{slog.Any("error", runErr)}
			var re *coordinator.RoundError
			if errors.As(runErr, &re) {
				args = append(args, slog.Int("round", re.Round), slog.String("phase", string(re.Phase)))
			}
			logger.Error("training run failed", args...)

			return runErr
		}

		logger.Info("training run completed",
			slog.String("version", record.Version.String()),
			slog.Int("participant_count", record.ParticipantCount),
			slog.Int("failures", len(record.Failures)),
			slog.Float64("elapsed_time", record.ElapsedTime),
		)

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))

		return 1
	}

	return 0
}

func newSampler(name string) (scheduler.Sampler, error) {
	switch name {
	case "random", "":
		return scheduler.NewRandom(), nil
	case "roundrobin", "round-robin":
		return scheduler.NewRoundRobin(), nil
	default:
		return nil, fmt.Errorf("unknown sampler %q", name)
	}
}
