package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/fedrun/participant"
	"github.com/absmach/fedrun/pkg/mqtt"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const pathEnv = ".env"

type envConfig struct {
	LogLevel           string        `env:"FEDRUN_LOG_LEVEL"              envDefault:"info"`
	ID                 string        `env:"FEDRUN_PARTICIPANT_ID"`
	Name               string        `env:"FEDRUN_PARTICIPANT_NAME"`
	LivelinessInterval time.Duration `env:"FEDRUN_LIVELINESS_INTERVAL"    envDefault:"10s"`
	ReportUsage        bool          `env:"FEDRUN_REPORT_USAGE"           envDefault:"true"`
	Samples            int           `env:"FEDRUN_SAMPLES"                envDefault:"200"`
	Features           int           `env:"FEDRUN_FEATURES"               envDefault:"3"`
	Seed               uint64        `env:"FEDRUN_SEED"                   envDefault:"1"`
	MaxMessageSize     int           `env:"FEDRUN_MAX_MESSAGE_SIZE"       envDefault:"536870912"`
	MQTTAddress        string        `env:"FEDRUN_MQTT_ADDRESS"           envDefault:"tcp://localhost:1883"`
	MQTTQoS            uint8         `env:"FEDRUN_MQTT_QOS"               envDefault:"2"`
	MQTTTimeout        time.Duration `env:"FEDRUN_MQTT_TIMEOUT"           envDefault:"30s"`
	MQTTUsername       string        `env:"FEDRUN_MQTT_USERNAME"`
	MQTTPassword       string        `env:"FEDRUN_MQTT_PASSWORD"`
	ChannelID          string        `env:"FEDRUN_CHANNEL_ID"             envDefault:"fedrun"`
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	trainer, err := newLinearTrainer(cfg.Features, cfg.Samples, cfg.Seed)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))

		return 1
	}

	offline := participant.OfflineMessage{ParticipantID: cfg.ID, Status: "offline"}
	pubsub, err := mqtt.NewPubSub(mqtt.Config{
		URL:            cfg.MQTTAddress,
		QoS:            cfg.MQTTQoS,
		ID:             cfg.ID,
		Username:       cfg.MQTTUsername,
		Password:       cfg.MQTTPassword,
		Timeout:        cfg.MQTTTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		WillTopic:      participant.ParticipantTopic(cfg.ChannelID, "offline"),
		WillMessage:    offline,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

		return 1
	}
	defer func() {
		if err := pubsub.Disconnect(context.Background()); err != nil {
			logger.Error("failed to disconnect from mqtt", slog.String("error", err.Error()))
		}
	}()

	agent, err := participant.NewAgent(participant.AgentConfig{
		ID:                 cfg.ID,
		Name:               cfg.Name,
		ChannelID:          cfg.ChannelID,
		LivelinessInterval: cfg.LivelinessInterval,
		MaxMessageSize:     cfg.MaxMessageSize,
		ReportUsage:        cfg.ReportUsage,
	}, pubsub, trainer, logger)
	if err != nil {
		logger.Error("failed to create participant", slog.String("error", err.Error()))

		return 1
	}

	logger.Info("participant started", slog.String("participant_id", cfg.ID), slog.String("channel_id", cfg.ChannelID))
	if err := agent.Run(ctx); err != nil {
		logger.Error("participant terminated", slog.String("error", err.Error()))

		return 1
	}
	logger.Info("participant stopped")

	return 0
}
