/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package notify publishes import result events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/altairalabs/distgit-importer/internal/task"
)

// EventTypeImportCompleted is the type of every published event.
const EventTypeImportCompleted = "import.completed"

// Errors returned by the Kafka publisher.
var (
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrNilResult       = errors.New("result must not be nil")
)

// ImportEvent is the message published for a finished task.
type ImportEvent struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Timestamp time.Time    `json:"timestamp"`
	TaskID    int64        `json:"task_id"`
	Success   bool         `json:"success"`
	Result    *task.Result `json:"result"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// Acks is "0", "1" or "all" (default).
	Acks string

	// Compression is "gzip", "snappy", "lz4" or empty for none.
	Compression string
}

// saramaProducer abstracts the sarama.AsyncProducer for testing.
type saramaProducer interface {
	Input() chan<- *sarama.ProducerMessage
	Errors() <-chan *sarama.ProducerError
	AsyncClose()
	Close() error
}

// KafkaPublisher publishes import events to Kafka using an async producer.
// Messages are keyed by task id.
type KafkaPublisher struct {
	producer saramaProducer
	topic    string
	log      logr.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewKafkaPublisher creates a KafkaPublisher with the given config.
func NewKafkaPublisher(cfg KafkaConfig, log logr.Logger) (*KafkaPublisher, error) {
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid kafka config: %w", err)
	}

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return newKafkaPublisherWithProducer(producer, cfg.Topic, log), nil
}

func newKafkaPublisherWithProducer(producer saramaProducer, topic string, log logr.Logger) *KafkaPublisher {
	kp := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      log.WithName("kafka-publisher"),
		now:      time.Now,
	}

	kp.wg.Add(1)
	go kp.drainErrors()

	return kp
}

// Publish sends an event for result. It does not wait for delivery.
func (kp *KafkaPublisher) Publish(ctx context.Context, result *task.Result) error {
	if result == nil {
		return ErrNilResult
	}

	kp.mu.RLock()
	defer kp.mu.RUnlock()
	if kp.closed {
		return ErrPublisherClosed
	}

	msg, err := kp.buildMessage(result)
	if err != nil {
		return err
	}

	select {
	case kp.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the producer and waits for the error drain goroutine.
func (kp *KafkaPublisher) Close() error {
	kp.mu.Lock()
	if kp.closed {
		kp.mu.Unlock()
		return nil
	}
	kp.closed = true
	kp.mu.Unlock()

	kp.producer.AsyncClose()
	kp.wg.Wait()
	return nil
}

func (kp *KafkaPublisher) buildMessage(result *task.Result) (*sarama.ProducerMessage, error) {
	event := ImportEvent{
		EventID:   uuid.NewString(),
		EventType: EventTypeImportCompleted,
		Timestamp: kp.now().UTC(),
		TaskID:    result.TaskID,
		Success:   result.Success,
		Result:    result,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: kp.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(result.TaskID, 10)),
		Value: sarama.ByteEncoder(data),
	}, nil
}

func (kp *KafkaPublisher) drainErrors() {
	defer kp.wg.Done()

	for prodErr := range kp.producer.Errors() {
		kp.log.Error(prodErr.Err, "kafka publish failed", "topic", prodErr.Msg.Topic)
	}
}

func buildSaramaConfig(cfg KafkaConfig) (*sarama.Config, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	sc := sarama.NewConfig()
	sc.ClientID = "distgit-importer"
	sc.Producer.Return.Errors = true

	switch cfg.Acks {
	case "0":
		sc.Producer.RequiredAcks = sarama.NoResponse
	case "1":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "all", "":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		return nil, fmt.Errorf("unsupported acks value: %s", cfg.Acks)
	}

	switch cfg.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "":
		sc.Producer.Compression = sarama.CompressionNone
	default:
		return nil, fmt.Errorf("unsupported compression: %s", cfg.Compression)
	}
	return sc, nil
}
