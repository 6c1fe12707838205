package broker

import (
	"fmt"

	"revguard/internal/config"
	"revguard/internal/logger"
)

// Enabled reports whether cfg names a real broker. An empty type or
// "none" runs the services without Kafka.
func Enabled(cfg config.BrokerConfig) bool {
	return cfg.Type != "" && cfg.Type != "none"
}

func NewProducer(cfg config.BrokerConfig, serviceName string, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaProducer(cfg.Kafka, serviceName, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case "kafka":
		return NewKafkaConsumer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
