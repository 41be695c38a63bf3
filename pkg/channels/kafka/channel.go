// Package kafka wires watermill publishers and subscribers to a Kafka cluster.
package kafka

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

// BrokersEnv lists the cluster brokers, comma separated.
const BrokersEnv = "KAFKA_BROKERS"

// CreateChannel connects the service to Kafka. Each drip service consumes
// under its own group ("drip-worker", "drip-segment"), so every service sees
// every event exactly once while instances of the same service share the
// partition load.
func CreateChannel(logger watermill.LoggerAdapter, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers, err := brokersFromEnv()
	if err != nil {
		return nil, nil, err
	}

	subscriber, err := newSubscriber(logger, brokers, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}

	publisher, err := newPublisher(logger, brokers, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}

	return publisher, subscriber, nil
}

func brokersFromEnv() ([]string, error) {
	raw := strings.Split(os.Getenv(BrokersEnv), ",")

	brokers := make([]string, 0, len(raw))

	for _, b := range raw {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	if len(brokers) == 0 {
		return nil, errors.New(BrokersEnv + " environment variable is not set or empty")
	}

	return brokers, nil
}

func newSubscriber(logger watermill.LoggerAdapter, brokers []string, serviceName string) (*kafka.Subscriber, error) {
	config := kafka.DefaultSaramaSubscriberConfig()
	config.ClientID = "drip-" + serviceName
	// New consumer groups start from the beginning so a freshly deployed
	// service picks up events published before it existed.
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: config,
			ConsumerGroup:         "drip-" + serviceName,
			OTELEnabled:           true,
		},
		logger,
	)
}

func newPublisher(logger watermill.LoggerAdapter, brokers []string, serviceName string) (*kafka.Publisher, error) {
	config := sarama.NewConfig()
	config.ClientID = "drip-" + serviceName
	config.Producer.Return.Successes = true

	return kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: config,
			OTELEnabled:           true,
		},
		logger,
	)
}
