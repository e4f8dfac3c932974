package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the bootstrap configuration loaded once at startup. The
// Telemetry section is only the initial settings snapshot; it can be
// replaced at runtime through the settings API.
type Config struct {
	Server struct {
		Port        string `yaml:"port" env:"SERVER_PORT"`
		WorkerCount int    `yaml:"worker_count" env:"WORKER_COUNT"`
		BatchSize   int    `yaml:"batch_size" env:"BATCH_SIZE"`
	} `yaml:"server"`

	Kafka struct {
		Brokers      string `yaml:"brokers" env:"KAFKA_BROKERS"`
		GroupID      string `yaml:"group_id" env:"KAFKA_GROUP_ID"`
		EventTopic   string `yaml:"event_topic" env:"KAFKA_EVENT_TOPIC"`
		ForwardTopic string `yaml:"forward_topic" env:"KAFKA_FORWARD_TOPIC"`
	} `yaml:"kafka"`

	Mongo struct {
		URI      string `yaml:"uri" env:"MONGO_URI"`
		Database string `yaml:"database" env:"MONGO_DATABASE"`
	} `yaml:"mongo"`

	Telemetry Settings `yaml:"telemetry"`
}

// Load reads the optional YAML file, then overlays environment
// variables on top, env winning.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.WorkerCount = 4
	cfg.Server.BatchSize = 100
	cfg.Kafka.Brokers = "localhost:9092"
	cfg.Kafka.GroupID = "detection-telemetry"
	cfg.Kafka.EventTopic = "device-events"
	cfg.Kafka.ForwardTopic = "detection-metrics"
	cfg.Mongo.URI = "mongodb://localhost:27017"
	cfg.Mongo.Database = "telemetry_db"
	cfg.Telemetry = DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Telemetry = cfg.Telemetry.Normalize()
	return cfg, nil
}
