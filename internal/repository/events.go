package repository

import (
	"context"
	"strconv"

	"LendPulse/internal/domain/models"
	pkgkafka "LendPulse/pkg/kafka"
	"LendPulse/pkg/queue"
)

// KafkaPublisher publishes job lifecycle events and health snapshots.
type KafkaPublisher struct {
	producer    *pkgkafka.Producer
	jobTopic    string
	healthTopic string
}

// NewKafkaPublisher creates the publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, jobTopic, healthTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, jobTopic: jobTopic, healthTopic: healthTopic}
}

// PublishJobEvent keys events by job id so retries of a job stay ordered.
func (p *KafkaPublisher) PublishJobEvent(ctx context.Context, ev queue.Event) error {
	return p.producer.Publish(ctx, p.jobTopic, []byte(ev.ID), ev)
}

// WriteSnapshot keys snapshots by network and account.
func (p *KafkaPublisher) WriteSnapshot(ctx context.Context, snap *models.HealthSnapshot) error {
	key := strconv.FormatUint(snap.Account.NetworkID, 10) + ":" + snap.Account.Address
	return p.producer.Publish(ctx, p.healthTopic, []byte(key), snap)
}

// Close closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
