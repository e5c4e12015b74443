package backend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ridehail-demo/internal/models"
)

// TripEvent is one trip lifecycle transition on the event topic.
type TripEvent struct {
	TripID     string    `json:"trip_id"`
	VehicleID  string    `json:"vehicle_id,omitempty"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventProducer publishes trip lifecycle events to Kafka, keyed by
// trip ID so one trip's events stay ordered.
type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventProducer{writer: w}
}

// Publish writes one lifecycle event. Errors are returned for the
// caller to log; event publishing never blocks a trip update for more
// than the write timeout.
func (p *EventProducer) Publish(tripID, vehicleID string, status models.TripStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	event := TripEvent{
		TripID:     tripID,
		VehicleID:  vehicleID,
		Status:     string(status),
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(tripID), Value: value})
}

func (p *EventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
