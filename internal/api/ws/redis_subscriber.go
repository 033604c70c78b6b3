package ws

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartRedisSubscriber escuta o canal de broadcast de odds e repassa
// cada atualização ao Hub. Encerra quando ctx é cancelado.
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				upd, err := decodeUpdate(msg.Payload)
				if err != nil {
					log.Warn("ws subscriber unmarshal error", zap.String("channel", channel), zap.Error(err))
					continue
				}
				hub.Broadcast(upd)
			}
		}
	}()
}
