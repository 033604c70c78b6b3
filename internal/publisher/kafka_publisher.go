// Package publisher envia os eventos do engine para o Kafka depois de cada commit.
package publisher

import (
	"context"

	"go.uber.org/zap"

	skafka "github.com/radieske/wager-settlement-engine/internal/shared/kafka"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

// Topics define o tópico de cada evento
type Topics struct {
	ZoneOpened      string
	OddsUpdates     string
	BetPlaced       string
	BetSettled      string
	PriceBetSettled string
	RewardCredited  string
}

// All lista os tópicos configurados
func (t Topics) All() []string {
	return []string{t.ZoneOpened, t.OddsUpdates, t.BetPlaced, t.BetSettled, t.PriceBetSettled, t.RewardCredited}
}

// messageWriter é o subconjunto do kafka.Writer usado aqui
type messageWriter interface {
	write(ctx context.Context, topic, key string, payload any) error
}

type kafkaWriter struct{ w *skafka.Writer }

func (k kafkaWriter) write(ctx context.Context, topic, key string, payload any) error {
	return skafka.WriteJSON(ctx, k.w, topic, key, payload)
}

// KafkaPublisher implementa os Publishers de settlement, bets, reward e zones.
// A chave de partição é o usuário (ou a zona), mantendo a ordem por entidade.
type KafkaPublisher struct {
	out    messageWriter
	topics Topics
	log    *zap.Logger
	closer func() error
}

func NewKafkaPublisher(w *skafka.Writer, topics Topics, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{out: kafkaWriter{w}, topics: topics, log: log, closer: w.Close}
}

func (p *KafkaPublisher) send(ctx context.Context, topic, key string, payload any) error {
	if err := p.out.write(ctx, topic, key, payload); err != nil {
		p.log.Error("kafka publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		return err
	}
	p.log.Debug("kafka event published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

func (p *KafkaPublisher) PublishZoneOpened(ctx context.Context, e events.ZoneOpened) error {
	return p.send(ctx, p.topics.ZoneOpened, e.ZoneID, e)
}

// PublishOdds espelha no Kafka as odds que o cache Redis transmite
func (p *KafkaPublisher) PublishOdds(ctx context.Context, e events.ZoneOddsUpdate) error {
	return p.send(ctx, p.topics.OddsUpdates, e.ZoneID, e)
}

func (p *KafkaPublisher) PublishBetPlaced(ctx context.Context, e events.BetPlaced) error {
	return p.send(ctx, p.topics.BetPlaced, e.UserID, e)
}

func (p *KafkaPublisher) PublishBetSettled(ctx context.Context, e events.BetSettled) error {
	return p.send(ctx, p.topics.BetSettled, e.UserID, e)
}

func (p *KafkaPublisher) PublishPriceBetSettled(ctx context.Context, e events.PriceBetSettled) error {
	return p.send(ctx, p.topics.PriceBetSettled, e.UserID, e)
}

func (p *KafkaPublisher) PublishRewardCredited(ctx context.Context, e events.RewardCredited) error {
	return p.send(ctx, p.topics.RewardCredited, e.UserID, e)
}

func (p *KafkaPublisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
