package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

// KafkaOutput publishes each record as one Kafka message. The stream name is
// used as the topic.
type KafkaOutput struct {
	config   config.KafkaOutputConfig
	producer sarama.SyncProducer
	stats    stats
	closed   atomic.Bool
}

// NewKafkaOutput creates a new Kafka output
func NewKafkaOutput(cfg config.KafkaOutputConfig) (*KafkaOutput, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers specified")
	}

	saramaConfig, err := newSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return newKafkaOutputWithProducer(cfg, producer), nil
}

func newKafkaOutputWithProducer(cfg config.KafkaOutputConfig, producer sarama.SyncProducer) *KafkaOutput {
	return &KafkaOutput{
		config:   cfg,
		producer: producer,
	}
}

func newSaramaConfig(cfg config.KafkaOutputConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	if cfg.RequiredAcks != 0 {
		saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	} else {
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	}

	saramaConfig.ClientID = "logbridge"
	if cfg.ClientID != "" {
		saramaConfig.ClientID = cfg.ClientID
	}

	switch cfg.CompressionCodec {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	case "", "none":
		saramaConfig.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("unknown compression codec: %s", cfg.CompressionCodec)
	}

	if cfg.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka version: %w", err)
		}
		saramaConfig.Version = version
	}

	if cfg.SASLEnabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = cfg.SASLUsername
		saramaConfig.Net.SASL.Password = cfg.SASLPassword

		switch cfg.SASLMechanism {
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	if cfg.EnableTLS {
		saramaConfig.Net.TLS.Enable = true
	}

	return saramaConfig, nil
}

// TopicName maps a stream name onto the Kafka topic alphabet [a-zA-Z0-9._-]
func TopicName(stream string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '.'
		}
	}, stream)
}

// Append sends one message and returns "<partition>-<offset>"
func (k *KafkaOutput) Append(ctx context.Context, stream string, fields types.FlatRecord) (string, error) {
	if k.closed.Load() {
		return "", ErrClosed
	}
	if len(fields) == 0 {
		return "", ErrEmptyRecord
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, err := json.Marshal(fields.Map())
	if err != nil {
		k.stats.failure(err)
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: TopicName(stream),
		Value: sarama.ByteEncoder(value),
	}
	if k.config.KeyField != "" {
		if key, ok := fields.Get(k.config.KeyField); ok && key != "" {
			msg.Key = sarama.StringEncoder(key)
		}
	}

	startTime := time.Now()
	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		k.stats.failure(err)
		return "", fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	k.stats.success(len(value), time.Since(startTime))
	return fmt.Sprintf("%d-%d", partition, offset), nil
}

// Ping reports whether the producer is still open
func (k *KafkaOutput) Ping(ctx context.Context) error {
	if k.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Close closes the Kafka producer
func (k *KafkaOutput) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	return k.producer.Close()
}

// Name returns the output name
func (k *KafkaOutput) Name() string {
	return "kafka"
}

// Metrics returns the current metrics
func (k *KafkaOutput) Metrics() *OutputMetrics {
	return k.stats.snapshot()
}
