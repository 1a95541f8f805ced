package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/config"
	"github.com/PhilKsr/planetplant-sub001/internal/events"
	"github.com/PhilKsr/planetplant-sub001/internal/metrics"
	"github.com/PhilKsr/planetplant-sub001/internal/registry"
	"github.com/PhilKsr/planetplant-sub001/internal/services/api"
	"github.com/PhilKsr/planetplant-sub001/internal/services/automation"
	"github.com/PhilKsr/planetplant-sub001/internal/services/ingest"
	"github.com/PhilKsr/planetplant-sub001/internal/services/monitor"
	"github.com/PhilKsr/planetplant-sub001/internal/services/persistence"
	"github.com/PhilKsr/planetplant-sub001/internal/services/watering"
	"github.com/PhilKsr/planetplant-sub001/pkg/logger"
	"github.com/PhilKsr/planetplant-sub001/pkg/mqttbus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MQTT
	mqttClient, err := mqttbus.Connect(ctx, &mqttbus.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		User:     cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		ClientID: cfg.MQTTClientID,
	}, log)
	if err != nil {
		log.Fatal("mqtt connect failed", zap.Error(err))
	}
	publisher := mqttbus.NewPublisher(mqttClient)

	// Metrics, event bus, store, registry
	met := metrics.New()
	bus := events.NewBus(128)

	store, err := persistence.NewStore(persistence.Config{
		URL:    cfg.InfluxURL,
		Token:  cfg.InfluxToken,
		Org:    cfg.InfluxOrg,
		Bucket: cfg.InfluxBucket,
	}, met, log)
	if err != nil {
		log.Fatal("influx init failed", zap.Error(err))
	}
	defer store.Close()

	reg := registry.New(cfg.DefaultPlant, bus, log.Named("registry"))

	// Control loop
	engine := automation.NewEngine(cfg.StalenessThreshold, cfg.Timezone)
	dispatcher := watering.NewMQTTDispatcher(publisher, log.Named("dispatcher"))
	coordinator := watering.NewCoordinator(reg, engine, dispatcher, store, bus, met, watering.Options{
		AckTimeout:      cfg.AckTimeout,
		CompletionGrace: cfg.CompletionGrace,
		MinDuration:     cfg.MinWateringTime,
		MaxDuration:     cfg.MaxWateringTime,
		PumpRateML:      cfg.PumpRateMLPerSec,
	}, log.Named("coordinator"))

	// Inbound message paths
	ingestSvc := ingest.NewService(reg, store, bus, met, log.Named("ingest"))
	telemetryConsumer := mqttbus.NewConsumer(mqttClient, map[string]byte{
		cfg.SensorDataTopic: 1,
		cfg.HeartbeatTopic:  0,
	}, log.Named("consumer"))
	telemetryConsumer.SetHandler(ingestSvc.Handle)
	go telemetryConsumer.Consume(ctx)

	ackConsumer := mqttbus.NewConsumer(mqttClient, map[string]byte{cfg.AckTopic: 1}, log.Named("consumer"))
	ackConsumer.SetHandler(dispatcher.HandleAck)
	go ackConsumer.Consume(ctx)

	// Periodic loops
	sched := automation.NewScheduler(engine, reg, coordinator, cfg.AutomationInterval, log.Named("automation"))
	go sched.Run(ctx)

	mon := monitor.New(reg, bus, met, cfg.MonitorInterval, cfg.OfflineThreshold, log.Named("monitor"))
	go mon.Run(ctx)

	// HTTP API
	server := api.NewServer(cfg.HTTPPort, reg, coordinator, store, bus, met, mqttClient, publisher, cfg.ReportInterval, log.Named("api"))
	apiErr := make(chan error, 1)
	go func() { apiErr <- server.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-apiErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	cancel()
	coordinator.Drain() // finish accounting for in-flight waterings
}
