// Package events publishes settlement outcomes to downstream consumers
// (reporting, member notification). Publishing is best effort: the settlement
// record is the source of truth and a lost event never blocks settlement.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// PeriodSettled is the payload of the period.settled event.
type PeriodSettled struct {
	Event          string          `json:"event"`
	PeriodID       int64           `json:"period_id"`
	SettledCount   int             `json:"settled_count"`
	TotalWinAmount decimal.Decimal `json:"total_win_amount"`
	DrawResult     []int           `json:"draw_result"`
	SettledAt      time.Time       `json:"settled_at"`
}

// Publisher sends settlement events.
type Publisher interface {
	PublishPeriodSettled(ctx context.Context, rec *domain.SettlementRecord, draw domain.DrawResult) error
	Close() error
}

// ──────────────────────────────────────────────────────────────────────────────
// Kafka
// ──────────────────────────────────────────────────────────────────────────────

// KafkaPublisher writes events to one topic, keyed by period id so a period's
// events land on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// PublishPeriodSettled implements Publisher.
func (k *KafkaPublisher) PublishPeriodSettled(ctx context.Context, rec *domain.SettlementRecord, draw domain.DrawResult) error {
	msg, err := json.Marshal(newPeriodSettled(rec, draw))
	if err != nil {
		return err
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(rec.PeriodID, 10)),
		Value: msg,
		Time:  time.Now(),
	})
}

// Close flushes and closes the writer.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

func newPeriodSettled(rec *domain.SettlementRecord, draw domain.DrawResult) PeriodSettled {
	return PeriodSettled{
		Event:          "period.settled",
		PeriodID:       rec.PeriodID,
		SettledCount:   rec.SettledCount,
		TotalWinAmount: rec.TotalWinAmount,
		DrawResult:     []int(draw),
		SettledAt:      rec.CreatedAt,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Nop
// ──────────────────────────────────────────────────────────────────────────────

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

// PublishPeriodSettled implements Publisher.
func (NopPublisher) PublishPeriodSettled(context.Context, *domain.SettlementRecord, domain.DrawResult) error {
	return nil
}

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
