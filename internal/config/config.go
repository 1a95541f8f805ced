package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/PhilKsr/planetplant-sub001/internal/model"
)

// Config collects everything the server reads from the environment.
type Config struct {
	LogLevel string

	MQTTHost     string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string

	SensorDataTopic string // subscribe filter for telemetry
	HeartbeatTopic  string // subscribe filter for heartbeats
	AckTopic        string // subscribe filter for command acks

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	HTTPPort int

	Timezone *time.Location // quiet-hours wall clock

	ReportInterval time.Duration // telemetry cadence pushed to devices

	AutomationInterval time.Duration // automation sweep
	MonitorInterval    time.Duration // staleness sweep
	OfflineThreshold   time.Duration
	StalenessThreshold time.Duration
	AckTimeout         time.Duration
	CompletionGrace    time.Duration
	MinWateringTime    time.Duration
	MaxWateringTime    time.Duration
	PumpRateMLPerSec   float64 // volume estimate only

	DefaultPlant model.PlantConfig
}

// Load reads the environment (following an optional .env file) and applies
// defaults matching a single-Pi deployment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	tzName := envStr("TZ", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TZ %q: %w", tzName, err)
	}

	quietStart, err := model.ParseTimeOfDay(envStr("DEFAULT_QUIET_START", "22:00"))
	if err != nil {
		return nil, err
	}
	quietEnd, err := model.ParseTimeOfDay(envStr("DEFAULT_QUIET_END", "06:00"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel: envStr("LOG_LEVEL", "info"),

		MQTTHost:     envStr("MQTT_HOST", "localhost"),
		MQTTPort:     envInt("MQTT_PORT", 1883),
		MQTTUser:     envStr("MQTT_USER", ""),
		MQTTPassword: envStr("MQTT_PASSWORD", ""),
		MQTTClientID: envStr("MQTT_CLIENT_ID", "planetplant-server-"+envStr("HOSTNAME", "local")),

		SensorDataTopic: envStr("SENSOR_DATA_TOPIC", "sensors/+/data"),
		HeartbeatTopic:  envStr("HEARTBEAT_TOPIC", "devices/+/heartbeat"),
		AckTopic:        envStr("ACK_TOPIC", "commands/+/ack"),

		InfluxURL:    envStr("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "planetplant"),
		InfluxBucket: envStr("INFLUX_BUCKET", "plants"),

		HTTPPort: envInt("HTTP_PORT", 8080),

		Timezone: loc,

		ReportInterval: envDur("REPORT_INTERVAL", 30*time.Second),

		AutomationInterval: envDur("AUTOMATION_INTERVAL", 5*time.Minute),
		MonitorInterval:    envDur("MONITOR_INTERVAL", time.Minute),
		OfflineThreshold:   envDur("OFFLINE_THRESHOLD", 10*time.Minute),
		StalenessThreshold: envDur("STALENESS_THRESHOLD", 15*time.Minute),
		AckTimeout:         envDur("ACK_TIMEOUT", 5*time.Second),
		CompletionGrace:    envDur("COMPLETION_GRACE", 2*time.Second),
		MinWateringTime:    envDur("MIN_WATERING_TIME", time.Second),
		MaxWateringTime:    envDur("MAX_WATERING_TIME", 60*time.Second),
		PumpRateMLPerSec:   envFloat("PUMP_RATE_ML_PER_SEC", 20),

		DefaultPlant: model.PlantConfig{
			MoistureMin:       envFloat("DEFAULT_MOISTURE_MIN", 30),
			MoistureMax:       envFloat("DEFAULT_MOISTURE_MAX", 70),
			TemperatureMin:    envFloat("DEFAULT_TEMPERATURE_MIN", 5),
			TemperatureMax:    envFloat("DEFAULT_TEMPERATURE_MAX", 40),
			WateringDuration:  envDur("DEFAULT_WATERING_DURATION", 10*time.Second),
			Cooldown:          envDur("DEFAULT_COOLDOWN", 5*time.Minute),
			MaxDailyWaterings: envInt("DEFAULT_MAX_DAILY_WATERINGS", 3),
			QuietHours:        model.QuietWindow{Start: quietStart, End: quietEnd},
			Version:           1,
		},
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
