package server

import (
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/broker"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/config"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/db"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

type ServerConfig struct {
	EventQueue   broker.MessageQueue
	ForwardQueue broker.MessageQueue
	Store        domain.EmissionStore
	Consumer     domain.RecordConsumer
	Settings     config.Settings
	WorkerCount  int
	BatchSize    int
	Port         string
}

type ConfigOption func(*ServerConfig) error

// WithKafka wires the inbound event topic and the collector-bound
// forward topic on the same broker set.
func WithKafka(brokers, groupID, eventTopic, forwardTopic string) ConfigOption {
	return func(config *ServerConfig) error {
		events, err := broker.NewKafkaQueue(brokers, groupID, eventTopic)
		if err != nil {
			return err
		}
		forward, err := broker.NewKafkaQueue(brokers, groupID+"-forward", forwardTopic)
		if err != nil {
			events.Close()
			return err
		}
		config.EventQueue = events
		config.ForwardQueue = forward
		return nil
	}
}

func WithMongoDB(client *mongo.Client, database string) ConfigOption {
	return func(config *ServerConfig) error {
		store, err := db.NewMongoEmissionStore(client, database)
		if err != nil {
			return err
		}
		config.Store = store
		return nil
	}
}

func WithSettings(settings config.Settings) ConfigOption {
	return func(config *ServerConfig) error {
		config.Settings = settings.Normalize()
		return nil
	}
}

func WithWorkerConfig(workerCount, batchSize int) ConfigOption {
	return func(config *ServerConfig) error {
		config.WorkerCount = workerCount
		config.BatchSize = batchSize
		return nil
	}
}

func WithPort(port string) ConfigOption {
	return func(config *ServerConfig) error {
		config.Port = port
		return nil
	}
}

func WithConsumer(consumer domain.RecordConsumer) ConfigOption {
	return func(config *ServerConfig) error {
		config.Consumer = consumer
		return nil
	}
}

// The injection options below take prebuilt collaborators; used by
// tests and by alternative transports.

func WithEventQueue(queue broker.MessageQueue) ConfigOption {
	return func(config *ServerConfig) error {
		config.EventQueue = queue
		return nil
	}
}

func WithForwardQueue(queue broker.MessageQueue) ConfigOption {
	return func(config *ServerConfig) error {
		config.ForwardQueue = queue
		return nil
	}
}

func WithStore(store domain.EmissionStore) ConfigOption {
	return func(config *ServerConfig) error {
		config.Store = store
		return nil
	}
}
