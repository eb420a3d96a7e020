// Package publish sends newly scheduled passes to Kafka, one JSON message per
// pass keyed by "<norad_id>:<aos unix seconds>".
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/star/passcast/internal/metrics"
	"github.com/star/passcast/internal/schedule"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "passcast.passes"

// Config holds publisher configuration loaded from environment variables.
type Config struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool { return len(c.Brokers) > 0 }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Message is the JSON payload of one published pass.
type Message struct {
	ID              string    `json:"id"`
	NORADID         int       `json:"norad_id"`
	Name            string    `json:"name"`
	AOS             time.Time `json:"aos"`
	TCA             time.Time `json:"tca"`
	LOS             time.Time `json:"los"`
	DurationSeconds float64   `json:"duration_seconds"`
	MaxElevationDeg float64   `json:"max_elevation_deg"`
	StartAzimuthDeg float64   `json:"start_azimuth_deg"`
	AzimuthAtMaxDeg float64   `json:"azimuth_at_max_deg"`
	EndAzimuthDeg   float64   `json:"end_azimuth_deg"`
	ObserverLatDeg  float64   `json:"observer_lat_deg"`
	ObserverLonDeg  float64   `json:"observer_lon_deg"`
	ObserverAltM    float64   `json:"observer_alt_m"`
	PublishedAt     time.Time `json:"published_at"`
}

// Publisher writes schedule entries to a Kafka topic. It satisfies
// schedule.Publisher.
type Publisher struct {
	writer   messageWriter
	closer   func() error
	topic    string
	observer [3]float64 // lat deg, lon deg, alt m
	logger   *slog.Logger
	now      func() time.Time
}

// NewPublisher creates a Kafka-backed publisher. Observer coordinates are
// copied into every message.
func NewPublisher(cfg Config, latDeg, lonDeg, altM float64, logger *slog.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("publish: at least one broker is required")
	}
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	p := newPublisherWithWriter(w, topic, latDeg, lonDeg, altM, logger)
	p.closer = w.Close
	return p, nil
}

func newPublisherWithWriter(w messageWriter, topic string, latDeg, lonDeg, altM float64, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer:   w,
		closer:   func() error { return nil },
		topic:    topic,
		observer: [3]float64{latDeg, lonDeg, altM},
		logger:   logger.With("component", "publish", "topic", topic),
		now:      time.Now,
	}
}

// Key returns the Kafka message key for an entry.
func Key(e schedule.Entry) string {
	return fmt.Sprintf("%d:%d", e.NORADID, e.StartTime.Unix())
}

// Publish writes one message per entry in a single batch.
func (p *Publisher) Publish(ctx context.Context, entries []schedule.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	now := p.now().UTC()
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		value, err := json.Marshal(p.message(e, now))
		if err != nil {
			metrics.IncPublished("error")
			return fmt.Errorf("encoding pass %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(Key(e)),
			Value: value,
			Time:  now,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		for range msgs {
			metrics.IncPublished("error")
		}
		return fmt.Errorf("writing %d messages to %s: %w", len(msgs), p.topic, err)
	}

	for range msgs {
		metrics.IncPublished("ok")
	}
	p.logger.Debug("passes published", "count", len(msgs))
	return nil
}

func (p *Publisher) message(e schedule.Entry, now time.Time) Message {
	return Message{
		ID:              e.ID.String(),
		NORADID:         e.NORADID,
		Name:            e.Name,
		AOS:             e.StartTime,
		TCA:             e.MaxElevationTime,
		LOS:             e.EndTime,
		DurationSeconds: e.DurationSeconds,
		MaxElevationDeg: e.MaxElevation,
		StartAzimuthDeg: e.StartAzimuth,
		AzimuthAtMaxDeg: e.AzimuthAtMax,
		EndAzimuthDeg:   e.EndAzimuth,
		ObserverLatDeg:  p.observer[0],
		ObserverLonDeg:  p.observer[1],
		ObserverAltM:    p.observer[2],
		PublishedAt:     now,
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.closer()
}
