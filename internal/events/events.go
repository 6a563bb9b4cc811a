package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"tracklink/internal/repo"
)

const DefaultTopic = "tracklink.visits"

// Publisher forwards recorded visits to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, visit repo.VisitEntity) error
	Close() error
}

// VisitEvent is the wire form of a recorded visit.
type VisitEvent struct {
	IP        string    `json:"ip"`
	Country   *string   `json:"country,omitempty"`
	City      *string   `json:"city,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
	Device    string    `json:"device"`
	IsMobile  bool      `json:"isMobile"`
	IsBot     bool      `json:"isBot"`
	VideoID   *string   `json:"videoId,omitempty"`
	ShortID   *string   `json:"shortId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewVisitEvent(v repo.VisitEntity) VisitEvent {
	return VisitEvent{
		IP:        v.IP,
		Country:   v.Country,
		City:      v.City,
		Latitude:  v.Latitude,
		Longitude: v.Longitude,
		Browser:   v.Browser,
		OS:        v.OS,
		Device:    v.Device,
		IsMobile:  v.IsMobile,
		IsBot:     v.IsBot,
		VideoID:   v.VideoID,
		ShortID:   v.ShortID,
		Timestamp: v.CreatedAt,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish keys messages by client address so visits from one client stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, visit repo.VisitEntity) error {
	payload, err := json.Marshal(NewVisitEvent(visit))
	if err != nil {
		return fmt.Errorf("failed to encode visit event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(visit.IP),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte("visit")},
		},
		Time: visit.CreatedAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish visit event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, repo.VisitEntity) error { return nil }

func (NopPublisher) Close() error { return nil }
