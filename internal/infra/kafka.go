package infra

import (
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaBatchTimeout = 10 * time.Millisecond

// NewKafkaWriter configures a writer for the given topic. Connections are
// opened lazily on the first write. Writes are synchronous and run on the
// settlement request path, so batches flush after kafkaBatchTimeout rather
// than the library's one second default.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           kafkaBatchTimeout,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}, nil
}
