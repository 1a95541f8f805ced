// device-sim runs one or more emulated plant nodes against the broker.
//
//	DEVICE_IDS=esp32-a,esp32-b device-sim
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/PhilKsr/planetplant-sub001/internal/config"
	"github.com/PhilKsr/planetplant-sub001/internal/sim"
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

	ids := strings.Split(os.Getenv("DEVICE_IDS"), ",")
	if len(ids) == 1 && strings.TrimSpace(ids[0]) == "" {
		ids = []string{"esp32-sim-1"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := mqttbus.Connect(ctx, &mqttbus.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		User:     cfg.MQTTUser,
		Password: cfg.MQTTPassword,
		ClientID: "device-sim-" + strings.TrimSpace(ids[0]),
	}, log)
	if err != nil {
		log.Fatal("mqtt connect failed", zap.Error(err))
	}
	pub := mqttbus.NewPublisher(client)

	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		dev := sim.NewDevice(id, pub, log.Named("sim"))

		consumer := mqttbus.NewConsumer(client, map[string]byte{
			fmt.Sprintf("commands/%s/water", id): 1,
		}, log.Named("sim"))
		consumer.SetHandler(dev.HandleCommand)
		go consumer.Consume(ctx)
		go dev.Run(ctx)

		log.Info("simulated device started", zap.String("device_id", id))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
