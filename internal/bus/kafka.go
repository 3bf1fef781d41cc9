package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/gradia/stoneid/internal/pkg/errors"
	"github.com/gradia/stoneid/internal/pkg/logger"
)

// KafkaBus is a Kafka-based event bus implementation.
type KafkaBus struct {
	config   KafkaConfig
	producer sarama.SyncProducer
	consumer sarama.ConsumerGroup
	client   sarama.Client
	log      *logger.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool

	// Consumer coordination
	consumerWg   sync.WaitGroup
	consumerStop chan struct{}
	consumerCtx  context.Context
	cancel       context.CancelFunc
}

// KafkaConfig holds Kafka connection settings.
type KafkaConfig struct {
	Brokers       []string // Kafka broker addresses
	ConsumerGroup string   // Consumer group ID
	ClientID      string   // Client identifier
	Version       string   // Kafka version (e.g., "2.8.0")
}

func (cfg *KafkaConfig) validate() (sarama.KafkaVersion, error) {
	if len(cfg.Brokers) == 0 {
		return sarama.KafkaVersion{}, errors.New(errors.CodeConfig, "kafka brokers cannot be empty")
	}
	if cfg.ConsumerGroup == "" {
		return sarama.KafkaVersion{}, errors.New(errors.CodeConfig, "kafka consumer group cannot be empty")
	}

	// Set defaults
	if cfg.ClientID == "" {
		cfg.ClientID = "stoneid-bus"
	}
	if cfg.Version == "" {
		cfg.Version = "2.8.0"
	}

	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return sarama.KafkaVersion{}, errors.ConfigError("invalid kafka version", err)
	}
	return version, nil
}

// NewKafkaBus creates a new Kafka-based event bus.
func NewKafkaBus(cfg KafkaConfig, log *logger.Logger) (*KafkaBus, error) {
	version, err := cfg.validate()
	if err != nil {
		return nil, err
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = version
	kafkaConfig.ClientID = cfg.ClientID
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Return.Errors = true
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	kafkaConfig.Consumer.Return.Errors = true
	kafkaConfig.Net.DialTimeout = 10 * time.Second
	kafkaConfig.Net.ReadTimeout = 10 * time.Second
	kafkaConfig.Net.WriteTimeout = 10 * time.Second

	client, err := sarama.NewClient(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka client", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka producer", err)
	}

	consumer, err := sarama.NewConsumerGroupFromClient(cfg.ConsumerGroup, client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "failed to create kafka consumer group", err)
	}

	return newKafkaBus(cfg, client, producer, consumer, log), nil
}

func newKafkaBus(cfg KafkaConfig, client sarama.Client, producer sarama.SyncProducer, consumer sarama.ConsumerGroup, log *logger.Logger) *KafkaBus {
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBus{
		config:       cfg,
		producer:     producer,
		consumer:     consumer,
		client:       client,
		log:          log.WithComponent("kafka-bus"),
		handlers:     make(map[string][]Handler),
		consumerStop: make(chan struct{}),
		consumerCtx:  ctx,
		cancel:       cancel,
	}
}

// Publish publishes an event to a Kafka topic.
func (b *KafkaBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.ServiceUnavailableError("bus")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.InternalError("failed to marshal event", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
		Key:   sarama.StringEncoder(event.ID), // Use event ID as partition key
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return errors.Wrap(errors.CodeUnavailable, "failed to publish to kafka", err)
	}

	return nil
}

// Subscribe registers a handler for events on a Kafka topic.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ServiceUnavailableError("bus")
	}
	if b.consumer == nil {
		return errors.New(errors.CodeConfig, "kafka bus has no consumer group")
	}

	// Start consumer for this topic if it's the first handler
	isNewTopic := len(b.handlers[topic]) == 0
	b.handlers[topic] = append(b.handlers[topic], handler)

	if isNewTopic {
		b.consumerWg.Add(1)
		go b.consumeTopic(topic)
	}

	return nil
}

// consumeTopic runs a consumer group session loop for a single topic.
func (b *KafkaBus) consumeTopic(topic string) {
	defer b.consumerWg.Done()

	handler := &consumerGroupHandler{
		bus:   b,
		topic: topic,
	}

	for {
		select {
		case <-b.consumerStop:
			return
		default:
		}

		// Blocks until the session ends or the bus is closed
		if err := b.consumer.Consume(b.consumerCtx, []string{topic}, handler); err != nil {
			b.log.Warn("kafka consumer error", "topic", topic, "error", err.Error())
		}

		select {
		case <-b.consumerStop:
			return
		case <-time.After(time.Second):
		}
	}
}

// Close closes the Kafka bus and releases resources.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	// Stop all consumers
	close(b.consumerStop)
	b.cancel()
	b.consumerWg.Wait()

	var errs []error

	if b.consumer != nil {
		if err := b.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer: %w", err))
		}
	}

	if b.producer != nil {
		if err := b.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer: %w", err))
		}
	}

	if b.client != nil && !b.client.Closed() {
		if err := b.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close client: %w", err))
		}
	}

	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()

	if len(errs) > 0 {
		return errors.New(errors.CodeInternal, fmt.Sprintf("errors during close: %v", errs))
	}

	return nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	bus   *KafkaBus
	topic string
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is run at the end of a session, after all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a Kafka partition.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			h.dispatch(session.Context(), msg.Value)
			session.MarkMessage(msg, "")
		}
	}
}

// dispatch decodes one message and runs every handler for the topic.
func (h *consumerGroupHandler) dispatch(ctx context.Context, value []byte) {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.bus.log.Warn("failed to unmarshal event from kafka", "topic", h.topic, "error", err.Error())
		return
	}

	h.bus.mu.RLock()
	handlers := h.bus.handlers[h.topic]
	h.bus.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			h.bus.log.Warn("handler error", "topic", h.topic, "event_id", event.ID, "error", err.Error())
		}
	}
}

// ParseKafkaBrokers parses a comma-separated string of Kafka brokers.
func ParseKafkaBrokers(brokersStr string) []string {
	var brokers []string
	for _, b := range strings.Split(brokersStr, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
