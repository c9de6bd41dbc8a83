package broker

import (
	"fmt"

	"workfeed/internal/config"
	"workfeed/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	if !cfg.Kafka.Enabled() {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}
	return NewKafkaProducer(cfg.Kafka, log), nil
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	if !cfg.Kafka.Enabled() {
		return nil, fmt.Errorf("kafka brokers are not configured")
	}
	if cfg.Kafka.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer group is not configured")
	}
	return NewKafkaConsumer(cfg.Kafka, log), nil
}
