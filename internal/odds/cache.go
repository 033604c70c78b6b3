package odds

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

// ChannelOddsBroadcast é o canal Pub/Sub consumido pelo hub websocket
const ChannelOddsBroadcast = "zone_odds_broadcast"

// RedisCache guarda a odd corrente de cada zona e faz broadcast das atualizações
// Client: cliente Redis
// TTL: tempo de expiração dos registros
type RedisCache struct {
	Client  *redis.Client
	TTL     time.Duration
	Channel string
}

// NewRedisCache cria uma instância de cache Redis com TTL configurável
func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: c, TTL: ttl, Channel: ChannelOddsBroadcast}
}

// key gera a chave Redis da odd corrente de uma zona
func key(zoneID string) string { return "odds:zone:" + zoneID }

// PublishOdds grava a odd corrente e publica no canal de broadcast numa única ida ao Redis
func (r *RedisCache) PublishOdds(ctx context.Context, u events.ZoneOddsUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, key(u.ZoneID), b, r.TTL)
	pipe.Publish(ctx, r.Channel, b)
	_, err = pipe.Exec(ctx)
	return err
}

// GetCurrent lê a última odd publicada; found=false se expirou ou nunca foi calculada
func (r *RedisCache) GetCurrent(ctx context.Context, zoneID string) (u events.ZoneOddsUpdate, found bool, err error) {
	b, err := r.Client.Get(ctx, key(zoneID)).Bytes()
	if err == redis.Nil {
		return u, false, nil
	}
	if err != nil {
		return u, false, err
	}
	return u, true, json.Unmarshal(b, &u)
}
